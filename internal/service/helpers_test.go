package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/aptix/internal/billing"
	"github.com/DukeRupert/aptix/internal/domain"
	"github.com/DukeRupert/aptix/internal/repository"
)

const (
	testMonthlyPrice = "price_monthly"
	testYearlyPrice  = "price_yearly"
)

var testPrices = billing.PriceTable{MonthlyPriceID: testMonthlyPrice, YearlyPriceID: testYearlyPrice}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixedClock is a settable clock.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock(t time.Time) *fixedClock { return &fixedClock{now: t} }

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// fakeBilling records calls to billing.Service.
type fakeBilling struct {
	mu sync.Mutex

	subscriptions map[string]*billing.Subscription
	customers     map[string]string // email -> customer ID
	err           error

	checkoutCalls []billing.CheckoutParams
	portalCalls   []string
	getSubCalls   int
}

func newFakeBilling() *fakeBilling {
	return &fakeBilling{
		subscriptions: make(map[string]*billing.Subscription),
		customers:     make(map[string]string),
	}
}

func (f *fakeBilling) CreateCheckoutSession(_ context.Context, p billing.CheckoutParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.checkoutCalls = append(f.checkoutCalls, p)
	return "https://checkout.stripe.test/session", nil
}

func (f *fakeBilling) CreatePortalSession(_ context.Context, customerID, returnURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.portalCalls = append(f.portalCalls, customerID+" "+returnURL)
	return "https://billing.stripe.test/portal", nil
}

func (f *fakeBilling) GetSubscription(_ context.Context, id string) (*billing.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getSubCalls++
	if f.err != nil {
		return nil, f.err
	}
	sub, ok := f.subscriptions[id]
	if !ok {
		return nil, domain.NotFound("fake.get_subscription", "subscription", id)
	}
	return sub, nil
}

func (f *fakeBilling) FindCustomerByEmail(_ context.Context, email string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.customers[email], nil
}

// seedUser stores a free user created on the given day.
func seedUser(store *repository.MemoryUserStore, id, email, today string) *domain.User {
	u := domain.NewUser(id, email, today, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	store.Put(u)
	return u
}
