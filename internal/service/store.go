package service

import (
	"context"

	"github.com/DukeRupert/aptix/internal/domain"
)

// ProfileStore is the durable user plan record store. Billing writes and
// usage writes are separate field-scoped operations.
type ProfileStore interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetUserByStripeCustomerID(ctx context.Context, customerID string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)

	// CreateUser inserts u if no record with its ID exists and returns the
	// stored record either way.
	CreateUser(ctx context.Context, u *domain.User) (*domain.User, error)

	// ApplyPlanChange writes the billing fields of a user if its billing
	// version still equals expectedVersion. Returns an ECONFLICT error
	// matching domain.ErrConflict otherwise.
	ApplyPlanChange(ctx context.Context, id string, expectedVersion int64, change domain.PlanChange) error

	// BindStripeCustomer records a billing customer reference on a user
	// that has none. Binding the same reference again is a no-op.
	BindStripeCustomer(ctx context.Context, id, customerID string) error

	// ConsumeDaily atomically increments today's usage if it is below
	// limit. It returns the effective usage and whether it was incremented.
	ConsumeDaily(ctx context.Context, id, today string, limit int) (int, bool, error)
}

// HistoryStore records archived generations.
type HistoryStore interface {
	InsertHistory(ctx context.Context, e domain.HistoryEntry) error
	ListHistory(ctx context.Context, userID string, limit int) ([]domain.HistoryEntry, error)
}
