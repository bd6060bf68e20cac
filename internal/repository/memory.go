package repository

import (
	"context"
	"sync"
	"time"

	"github.com/DukeRupert/aptix/internal/domain"
)

// MemoryUserStore is an in-process profile store for development and tests.
// All operations hold a single mutex, so ConsumeDaily is atomic per call.
type MemoryUserStore struct {
	mu      sync.Mutex
	users   map[string]*domain.User
	history []domain.HistoryEntry
	now     func() time.Time
}

// NewMemoryUserStore creates an empty MemoryUserStore.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		users: make(map[string]*domain.User),
		now:   time.Now,
	}
}

// Put stores a copy of u, replacing any existing record. It is intended for
// seeding; application code goes through the field-scoped methods.
func (s *MemoryUserStore) Put(u *domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = cloneUser(u)
}

func cloneUser(u *domain.User) *domain.User {
	c := *u
	if u.PlanExpiry != nil {
		t := *u.PlanExpiry
		c.PlanExpiry = &t
	}
	return &c
}

func (s *MemoryUserStore) GetUser(_ context.Context, id string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, domain.UserNotFound("repository.get_user", id)
	}
	return cloneUser(u), nil
}

func (s *MemoryUserStore) GetUserByStripeCustomerID(_ context.Context, customerID string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if customerID != "" && u.StripeCustomerID == customerID {
			return cloneUser(u), nil
		}
	}
	return nil, domain.UserNotFound("repository.get_user_by_customer", customerID)
}

func (s *MemoryUserStore) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = domain.NormalizeEmail(email)
	var found *domain.User
	for _, u := range s.users {
		if email == "" || u.Email != email {
			continue
		}
		if found == nil || u.CreatedAt.Before(found.CreatedAt) {
			found = u
		}
	}
	if found == nil {
		return nil, domain.UserNotFound("repository.get_user_by_email", email)
	}
	return cloneUser(found), nil
}

func (s *MemoryUserStore) CreateUser(_ context.Context, u *domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.users[u.ID]; ok {
		return cloneUser(existing), nil
	}
	c := domain.NewUser(u.ID, u.Email, u.DailyUsageDate, u.CreatedAt)
	s.users[u.ID] = c
	return cloneUser(c), nil
}

// customerTaken reports whether customerID is bound to a user other than id.
func (s *MemoryUserStore) customerTaken(id, customerID string) bool {
	for _, u := range s.users {
		if u.ID != id && u.StripeCustomerID == customerID {
			return true
		}
	}
	return false
}

func (s *MemoryUserStore) ApplyPlanChange(_ context.Context, id string, expectedVersion int64, change domain.PlanChange) error {
	const op = "repository.apply_plan_change"
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return domain.UserNotFound(op, id)
	}
	if u.BillingVersion != expectedVersion {
		return domain.Conflict(op, "billing record changed concurrently")
	}
	if change.StripeCustomerID != "" {
		if (u.StripeCustomerID != "" && u.StripeCustomerID != change.StripeCustomerID) ||
			s.customerTaken(id, change.StripeCustomerID) {
			return &domain.Error{
				Code:    domain.ECONFLICT,
				Op:      op,
				Message: "user is already bound to a different billing customer",
				Err:     domain.ErrCustomerMismatch,
			}
		}
		u.StripeCustomerID = change.StripeCustomerID
	}

	u.Plan = change.Plan
	u.SubscriptionActive = change.SubscriptionActive
	u.CancelAtPeriodEnd = change.CancelAtPeriodEnd
	u.StripeSubscriptionID = change.StripeSubscriptionID
	if change.CanceledSubscriptionID != "" {
		u.CanceledSubscriptionID = change.CanceledSubscriptionID
	}
	u.PlanExpiry = nil
	if change.PlanExpiry != nil {
		t := *change.PlanExpiry
		u.PlanExpiry = &t
	}
	u.BillingVersion++
	u.UpdatedAt = s.now()
	return nil
}

func (s *MemoryUserStore) BindStripeCustomer(_ context.Context, id, customerID string) error {
	const op = "repository.bind_stripe_customer"
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return domain.UserNotFound(op, id)
	}
	if u.StripeCustomerID == customerID {
		return nil
	}
	if u.StripeCustomerID != "" || s.customerTaken(id, customerID) {
		return &domain.Error{
			Code:    domain.ECONFLICT,
			Op:      op,
			Message: "user is already bound to a different billing customer",
			Err:     domain.ErrCustomerMismatch,
		}
	}
	u.StripeCustomerID = customerID
	u.BillingVersion++
	u.UpdatedAt = s.now()
	return nil
}

func (s *MemoryUserStore) ConsumeDaily(_ context.Context, id, today string, limit int) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return 0, false, domain.UserNotFound("repository.consume_daily", id)
	}
	used := u.EffectiveUsage(today)
	if used >= limit {
		return used, false, nil
	}
	u.DailyUsage = used + 1
	u.DailyUsageDate = today
	u.UpdatedAt = s.now()
	return u.DailyUsage, true, nil
}

func (s *MemoryUserStore) InsertHistory(_ context.Context, e domain.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, e)
	return nil
}

func (s *MemoryUserStore) ListHistory(_ context.Context, userID string, limit int) ([]domain.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var entries []domain.HistoryEntry
	for i := len(s.history) - 1; i >= 0 && len(entries) < limit; i-- {
		if s.history[i].UserID == userID {
			entries = append(entries, s.history[i])
		}
	}
	return entries, nil
}
