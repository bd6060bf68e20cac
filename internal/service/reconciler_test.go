package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DukeRupert/aptix/internal/billing"
	"github.com/DukeRupert/aptix/internal/domain"
	"github.com/DukeRupert/aptix/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	eventTime = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	periodEnd = time.Date(2026, 11, 1, 12, 0, 0, 0, time.UTC)
)

func newTestReconciler(store ProfileStore, fb *fakeBilling) Reconciler {
	var svc billing.Service
	if fb != nil {
		svc = fb
	}
	return NewReconciler(store, svc, testPrices, newFixedClock(eventTime), discardLogger())
}

func checkoutEvent(id string) domain.CheckoutCompleted {
	return domain.CheckoutCompleted{
		EventMeta:      domain.EventMeta{ID: id, Type: "checkout.session.completed", Created: eventTime},
		SessionID:      "cs_1",
		CustomerID:     "cus_1",
		SubscriptionID: "sub_1",
		CustomerEmail:  "ana@example.com",
		UserID:         "u1",
		PlanType:       "yearly",
	}
}

func invoiceEvent(id, priceID string) domain.InvoicePaid {
	return domain.InvoicePaid{
		EventMeta:      domain.EventMeta{ID: id, Type: "invoice.paid", Created: eventTime},
		InvoiceID:      "in_1",
		CustomerID:     "cus_1",
		SubscriptionID: "sub_1",
		CustomerEmail:  "ana@example.com",
		PriceID:        priceID,
		PeriodEnd:      periodEnd,
	}
}

func mustGetUser(t *testing.T, store ProfileStore, id string) *domain.User {
	t.Helper()
	u, err := store.GetUser(context.Background(), id)
	require.NoError(t, err)
	return u
}

// paidUser seeds a user that completed checkout for sub_1.
func paidUser(store *repository.MemoryUserStore, plan domain.Plan) *domain.User {
	u := seedUser(store, "u1", "ana@example.com", "2026-10-01")
	expiry := eventTime.Add(plan.Term())
	u.Plan = plan
	u.SubscriptionActive = true
	u.PlanExpiry = &expiry
	u.StripeCustomerID = "cus_1"
	u.StripeSubscriptionID = "sub_1"
	store.Put(u)
	return u
}

func TestReconciler_CheckoutCompleted(t *testing.T) {
	store := repository.NewMemoryUserStore()
	seedUser(store, "u1", "ana@example.com", "2026-10-01")
	r := newTestReconciler(store, nil)

	outcome, err := r.Apply(context.Background(), checkoutEvent("evt_1"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, outcome)

	u := mustGetUser(t, store, "u1")
	assert.Equal(t, domain.PlanYearly, u.Plan)
	assert.True(t, u.SubscriptionActive)
	assert.Equal(t, "cus_1", u.StripeCustomerID)
	assert.Equal(t, "sub_1", u.StripeSubscriptionID)
	require.NotNil(t, u.PlanExpiry)
	assert.True(t, u.PlanExpiry.Equal(eventTime.Add(365*24*time.Hour)))
}

func TestReconciler_Idempotent(t *testing.T) {
	events := []domain.BillingEvent{
		checkoutEvent("evt_1"),
		invoiceEvent("evt_2", testYearlyPrice),
		domain.SubscriptionUpdated{
			EventMeta:         domain.EventMeta{ID: "evt_3"},
			SubscriptionID:    "sub_1",
			CustomerID:        "cus_1",
			PriceID:           testMonthlyPrice,
			PeriodEnd:         periodEnd,
			CancelAtPeriodEnd: true,
			Status:            "active",
		},
		domain.SubscriptionDeleted{EventMeta: domain.EventMeta{ID: "evt_4"}, SubscriptionID: "sub_1", CustomerID: "cus_1"},
	}

	for _, event := range events {
		t.Run(string(event.Kind()), func(t *testing.T) {
			store := repository.NewMemoryUserStore()
			paidUser(store, domain.PlanMonthly)
			r := newTestReconciler(store, nil)

			_, err := r.Apply(context.Background(), event)
			require.NoError(t, err)
			once := mustGetUser(t, store, "u1")

			for i := 0; i < 3; i++ {
				_, err := r.Apply(context.Background(), event)
				require.NoError(t, err)
			}
			again := mustGetUser(t, store, "u1")

			assert.Equal(t, once, again, "replaying an event must not change the record")
		})
	}
}

func TestReconciler_InvoiceAndUpdateConverge(t *testing.T) {
	invoice := invoiceEvent("evt_inv", testYearlyPrice)
	update := domain.SubscriptionUpdated{
		EventMeta:      domain.EventMeta{ID: "evt_upd"},
		SubscriptionID: "sub_1",
		CustomerID:     "cus_1",
		PriceID:        testYearlyPrice,
		PeriodEnd:      periodEnd,
		Status:         "active",
	}

	final := func(order ...domain.BillingEvent) *domain.User {
		store := repository.NewMemoryUserStore()
		paidUser(store, domain.PlanMonthly)
		r := newTestReconciler(store, nil)
		for _, e := range order {
			_, err := r.Apply(context.Background(), e)
			require.NoError(t, err)
		}
		return mustGetUser(t, store, "u1")
	}

	a := final(invoice, update)
	b := final(update, invoice)

	assert.Equal(t, domain.PlanYearly, a.Plan)
	assert.Equal(t, a.Plan, b.Plan)
	assert.Equal(t, a.SubscriptionActive, b.SubscriptionActive)
	assert.Equal(t, a.CancelAtPeriodEnd, b.CancelAtPeriodEnd)
	require.NotNil(t, a.PlanExpiry)
	require.NotNil(t, b.PlanExpiry)
	assert.True(t, a.PlanExpiry.Equal(*b.PlanExpiry))
	assert.True(t, a.PlanExpiry.Equal(periodEnd))
}

func TestReconciler_SubscriptionDeletedResetsPlan(t *testing.T) {
	store := repository.NewMemoryUserStore()
	u := paidUser(store, domain.PlanYearly)
	u.DailyUsage = 3
	u.DailyUsageDate = "2026-10-01"
	store.Put(u)
	r := newTestReconciler(store, nil)

	outcome, err := r.Apply(context.Background(), domain.SubscriptionDeleted{
		EventMeta:      domain.EventMeta{ID: "evt_del"},
		SubscriptionID: "sub_1",
		CustomerID:     "cus_1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, outcome)

	got := mustGetUser(t, store, "u1")
	assert.Equal(t, domain.PlanFree, got.Plan)
	assert.False(t, got.SubscriptionActive)
	assert.Nil(t, got.PlanExpiry)
	assert.Empty(t, got.StripeSubscriptionID)
	assert.Equal(t, "sub_1", got.CanceledSubscriptionID)
	assert.Equal(t, "cus_1", got.StripeCustomerID, "customer reference is kept")
	assert.Equal(t, 3, got.DailyUsage, "usage fields are not touched")
}

func TestReconciler_CanceledSubscriptionStaysCanceled(t *testing.T) {
	deleted := domain.SubscriptionDeleted{
		EventMeta:      domain.EventMeta{ID: "evt_del"},
		SubscriptionID: "sub_1",
		CustomerID:     "cus_1",
	}
	late := []struct {
		name  string
		event domain.BillingEvent
	}{
		{"update", domain.SubscriptionUpdated{
			EventMeta:         domain.EventMeta{ID: "evt_upd"},
			SubscriptionID:    "sub_1",
			CustomerID:        "cus_1",
			PriceID:           testMonthlyPrice,
			PeriodEnd:         periodEnd,
			CancelAtPeriodEnd: true,
			Status:            "active",
		}},
		{"invoice", invoiceEvent("evt_inv", testMonthlyPrice)},
		{"checkout", checkoutEvent("evt_co")},
	}

	for _, tt := range late {
		t.Run(tt.name, func(t *testing.T) {
			store := repository.NewMemoryUserStore()
			paidUser(store, domain.PlanMonthly)
			r := newTestReconciler(store, nil)

			_, err := r.Apply(context.Background(), deleted)
			require.NoError(t, err)
			before := mustGetUser(t, store, "u1")

			outcome, err := r.Apply(context.Background(), tt.event)
			require.NoError(t, err)
			assert.Equal(t, domain.OutcomeIgnored, outcome)

			got := mustGetUser(t, store, "u1")
			assert.Equal(t, domain.PlanFree, got.Plan)
			assert.False(t, got.SubscriptionActive)
			assert.Empty(t, got.StripeSubscriptionID)
			assert.Nil(t, got.PlanExpiry)
			assert.Equal(t, before.BillingVersion, got.BillingVersion)
		})
	}
}

func TestReconciler_CheckoutAfterCancellation(t *testing.T) {
	store := repository.NewMemoryUserStore()
	paidUser(store, domain.PlanMonthly)
	r := newTestReconciler(store, nil)

	_, err := r.Apply(context.Background(), domain.SubscriptionDeleted{SubscriptionID: "sub_1", CustomerID: "cus_1"})
	require.NoError(t, err)

	fresh := checkoutEvent("evt_new")
	fresh.SubscriptionID = "sub_2"
	outcome, err := r.Apply(context.Background(), fresh)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, outcome)

	got := mustGetUser(t, store, "u1")
	assert.Equal(t, domain.PlanYearly, got.Plan)
	assert.True(t, got.SubscriptionActive)
	assert.Equal(t, "sub_2", got.StripeSubscriptionID)
	assert.Equal(t, "sub_1", got.CanceledSubscriptionID)
}

func TestReconciler_CheckoutReplayKeepsInvoicePeriodEnd(t *testing.T) {
	store := repository.NewMemoryUserStore()
	seedUser(store, "u1", "ana@example.com", "2026-10-01")
	r := newTestReconciler(store, nil)

	// A February period is shorter than the provisional 30 day term.
	checkout := checkoutEvent("evt_co")
	checkout.PlanType = "monthly"
	checkout.Created = time.Date(2027, 2, 1, 12, 0, 0, 0, time.UTC)
	shortEnd := time.Date(2027, 3, 1, 12, 0, 0, 0, time.UTC)
	invoice := invoiceEvent("evt_inv", testMonthlyPrice)
	invoice.PeriodEnd = shortEnd

	for _, e := range []domain.BillingEvent{checkout, invoice, checkout} {
		_, err := r.Apply(context.Background(), e)
		require.NoError(t, err)
	}

	got := mustGetUser(t, store, "u1")
	require.NotNil(t, got.PlanExpiry)
	assert.True(t, got.PlanExpiry.Equal(shortEnd), "expiry = %v, want %v", got.PlanExpiry, shortEnd)
}

func TestReconciler_SubscriptionDeletedForOtherSubscription(t *testing.T) {
	store := repository.NewMemoryUserStore()
	paidUser(store, domain.PlanMonthly)
	r := newTestReconciler(store, nil)

	outcome, err := r.Apply(context.Background(), domain.SubscriptionDeleted{
		EventMeta:      domain.EventMeta{ID: "evt_del"},
		SubscriptionID: "sub_old",
		CustomerID:     "cus_1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeIgnored, outcome)
	assert.Equal(t, domain.PlanMonthly, mustGetUser(t, store, "u1").Plan)
}

func TestReconciler_EmailFallbackPersistsCustomer(t *testing.T) {
	store := repository.NewMemoryUserStore()
	seedUser(store, "u1", "Ana@Example.com", "2026-10-01")
	r := newTestReconciler(store, nil)

	outcome, err := r.Apply(context.Background(), invoiceEvent("evt_1", testMonthlyPrice))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, outcome)

	u, err := store.GetUserByStripeCustomerID(context.Background(), "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, domain.PlanMonthly, u.Plan)
	assert.True(t, u.SubscriptionActive)
}

func TestReconciler_EmailMatchBoundToOtherCustomer(t *testing.T) {
	store := repository.NewMemoryUserStore()
	u := seedUser(store, "u1", "ana@example.com", "2026-10-01")
	u.StripeCustomerID = "cus_other"
	store.Put(u)
	r := newTestReconciler(store, nil)

	outcome, err := r.Apply(context.Background(), invoiceEvent("evt_1", testMonthlyPrice))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNoUser, outcome)
	assert.Equal(t, domain.PlanFree, mustGetUser(t, store, "u1").Plan)
}

func TestReconciler_UnmappedPriceRejected(t *testing.T) {
	store := repository.NewMemoryUserStore()
	before := paidUser(store, domain.PlanMonthly)
	r := newTestReconciler(store, nil)

	_, err := r.Apply(context.Background(), invoiceEvent("evt_1", "price_legacy"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnknownPrice))

	after := mustGetUser(t, store, "u1")
	assert.Equal(t, before.Plan, after.Plan)
	assert.Equal(t, before.BillingVersion, after.BillingVersion)
}

func TestReconciler_DroppedEvents(t *testing.T) {
	missingMeta := checkoutEvent("evt_1")
	missingMeta.UserID = ""
	badPlan := checkoutEvent("evt_2")
	badPlan.PlanType = "weekly"
	strangerInvoice := invoiceEvent("evt_3", testMonthlyPrice)
	strangerInvoice.CustomerID = "cus_unknown"
	strangerInvoice.CustomerEmail = "nobody@example.com"
	oneOff := invoiceEvent("evt_4", testMonthlyPrice)
	oneOff.SubscriptionID = ""

	tests := []struct {
		name  string
		event domain.BillingEvent
		want  domain.ReconcileOutcome
	}{
		{"checkout without user metadata", missingMeta, domain.OutcomeMissingMetadata},
		{"checkout with unknown plan", badPlan, domain.OutcomeMissingMetadata},
		{"invoice for unknown customer", strangerInvoice, domain.OutcomeNoUser},
		{"invoice without subscription", oneOff, domain.OutcomeIgnored},
		{"deleted for unknown customer", domain.SubscriptionDeleted{SubscriptionID: "sub_9", CustomerID: "cus_9"}, domain.OutcomeNoUser},
		{"unrecognized", domain.Unrecognized{EventMeta: domain.EventMeta{ID: "evt_5", Type: "customer.created"}}, domain.OutcomeIgnored},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := repository.NewMemoryUserStore()
			before := seedUser(store, "u1", "ana@example.com", "2026-10-01")
			r := newTestReconciler(store, nil)

			outcome, err := r.Apply(context.Background(), tt.event)
			require.NoError(t, err)
			assert.Equal(t, tt.want, outcome)
			assert.Equal(t, before.BillingVersion, mustGetUser(t, store, "u1").BillingVersion)
		})
	}
}

func TestReconciler_InvoiceFetchesSubscription(t *testing.T) {
	store := repository.NewMemoryUserStore()
	paidUser(store, domain.PlanMonthly)
	fb := newFakeBilling()
	fb.subscriptions["sub_1"] = &billing.Subscription{
		ID:                "sub_1",
		CustomerID:        "cus_1",
		PriceID:           testYearlyPrice,
		Status:            "active",
		CurrentPeriodEnd:  periodEnd,
		CancelAtPeriodEnd: true,
	}
	r := newTestReconciler(store, fb)

	event := invoiceEvent("evt_1", "")
	event.PeriodEnd = time.Time{}

	_, err := r.Apply(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, 1, fb.getSubCalls)

	u := mustGetUser(t, store, "u1")
	assert.Equal(t, domain.PlanYearly, u.Plan)
	assert.True(t, u.CancelAtPeriodEnd)
	require.NotNil(t, u.PlanExpiry)
	assert.True(t, u.PlanExpiry.Equal(periodEnd))
}

func TestReconciler_InvoiceLookupFailure(t *testing.T) {
	store := repository.NewMemoryUserStore()
	paidUser(store, domain.PlanMonthly)
	fb := newFakeBilling()
	fb.err = errors.New("stripe down")
	r := newTestReconciler(store, fb)

	_, err := r.Apply(context.Background(), invoiceEvent("evt_1", ""))
	require.Error(t, err)
	assert.Equal(t, domain.EUNAVAILABLE, domain.ErrorCode(err))
}

func TestReconciler_SubscriptionUpdated(t *testing.T) {
	t.Run("cancel at period end stays active", func(t *testing.T) {
		store := repository.NewMemoryUserStore()
		paidUser(store, domain.PlanMonthly)
		r := newTestReconciler(store, nil)

		_, err := r.Apply(context.Background(), domain.SubscriptionUpdated{
			SubscriptionID:    "sub_1",
			CustomerID:        "cus_1",
			PriceID:           testMonthlyPrice,
			PeriodEnd:         periodEnd,
			CancelAtPeriodEnd: true,
			Status:            "active",
		})
		require.NoError(t, err)

		u := mustGetUser(t, store, "u1")
		assert.True(t, u.SubscriptionActive)
		assert.True(t, u.CancelAtPeriodEnd)
		assert.True(t, u.PlanExpiry.Equal(periodEnd))
	})

	t.Run("terminal status is left to the deleted event", func(t *testing.T) {
		store := repository.NewMemoryUserStore()
		paidUser(store, domain.PlanMonthly)
		r := newTestReconciler(store, nil)

		outcome, err := r.Apply(context.Background(), domain.SubscriptionUpdated{
			SubscriptionID: "sub_1",
			CustomerID:     "cus_1",
			PriceID:        testMonthlyPrice,
			Status:         "canceled",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeIgnored, outcome)
		assert.True(t, mustGetUser(t, store, "u1").SubscriptionActive)
	})
}

// conflictingStore fails the first n billing writes with a version conflict.
type conflictingStore struct {
	*repository.MemoryUserStore
	failures int
	calls    int
}

func (s *conflictingStore) ApplyPlanChange(ctx context.Context, id string, version int64, change domain.PlanChange) error {
	s.calls++
	if s.calls <= s.failures {
		return domain.Conflict("test.apply_plan_change", "billing record changed concurrently")
	}
	return s.MemoryUserStore.ApplyPlanChange(ctx, id, version, change)
}

func TestReconciler_RetriesVersionConflict(t *testing.T) {
	t.Run("succeeds after a conflict", func(t *testing.T) {
		mem := repository.NewMemoryUserStore()
		seedUser(mem, "u1", "ana@example.com", "2026-10-01")
		store := &conflictingStore{MemoryUserStore: mem, failures: 1}
		r := newTestReconciler(store, nil)

		outcome, err := r.Apply(context.Background(), checkoutEvent("evt_1"))
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeApplied, outcome)
		assert.Equal(t, 2, store.calls)
		assert.Equal(t, domain.PlanYearly, mustGetUser(t, mem, "u1").Plan)
	})

	t.Run("gives up after repeated conflicts", func(t *testing.T) {
		mem := repository.NewMemoryUserStore()
		seedUser(mem, "u1", "ana@example.com", "2026-10-01")
		store := &conflictingStore{MemoryUserStore: mem, failures: 10}
		r := newTestReconciler(store, nil)

		_, err := r.Apply(context.Background(), checkoutEvent("evt_1"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrConflict))
		assert.Equal(t, maxReconcileAttempts, store.calls)
		assert.Equal(t, domain.PlanFree, mustGetUser(t, mem, "u1").Plan)
	})
}
