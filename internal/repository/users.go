package repository

import (
	"context"
	"database/sql"

	"github.com/DukeRupert/aptix/internal/domain"
)

const userColumns = `id, email, stripe_customer_id, stripe_subscription_id,
	canceled_subscription_id, plan,
	subscription_active, cancel_at_period_end, plan_expiry,
	daily_usage, daily_usage_date, billing_version, created_at, updated_at`

// UserStore is the PostgreSQL profile store.
type UserStore struct {
	db DBTX
}

// NewUserStore creates a UserStore.
func NewUserStore(db DBTX) *UserStore {
	return &UserStore{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		u              domain.User
		customerID     sql.NullString
		subscriptionID sql.NullString
		canceledID     sql.NullString
		plan           string
		expiry         sql.NullTime
	)
	err := row.Scan(
		&u.ID,
		&u.Email,
		&customerID,
		&subscriptionID,
		&canceledID,
		&plan,
		&u.SubscriptionActive,
		&u.CancelAtPeriodEnd,
		&expiry,
		&u.DailyUsage,
		&u.DailyUsageDate,
		&u.BillingVersion,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.StripeCustomerID = customerID.String
	u.StripeSubscriptionID = subscriptionID.String
	u.CanceledSubscriptionID = canceledID.String
	u.Plan = domain.Plan(plan)
	if expiry.Valid {
		t := expiry.Time
		u.PlanExpiry = &t
	}
	return &u, nil
}

// GetUser loads a user by ID.
func (s *UserStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	const op = "repository.get_user"
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		return nil, storeError(err, op, id)
	}
	return u, nil
}

// GetUserByStripeCustomerID loads the user bound to a Stripe customer.
func (s *UserStore) GetUserByStripeCustomerID(ctx context.Context, customerID string) (*domain.User, error) {
	const op = "repository.get_user_by_customer"
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE stripe_customer_id = $1`, customerID)
	u, err := scanUser(row)
	if err != nil {
		return nil, storeError(err, op, customerID)
	}
	return u, nil
}

// GetUserByEmail loads the oldest user with the given normalized email.
func (s *UserStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	const op = "repository.get_user_by_email"
	email = domain.NormalizeEmail(email)
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1 ORDER BY created_at ASC LIMIT 1`, email)
	u, err := scanUser(row)
	if err != nil {
		return nil, storeError(err, op, email)
	}
	return u, nil
}

// CreateUser inserts the record if absent and returns the stored record.
// Calling it for an existing user is a no-op.
func (s *UserStore) CreateUser(ctx context.Context, u *domain.User) (*domain.User, error) {
	const op = "repository.create_user"
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, plan, daily_usage, daily_usage_date, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, $5, $5)
		ON CONFLICT (id) DO NOTHING`,
		u.ID, domain.NormalizeEmail(u.Email), string(domain.PlanFree), u.DailyUsageDate, u.CreatedAt,
	)
	if err != nil {
		return nil, storeError(err, op, u.ID)
	}
	return s.GetUser(ctx, u.ID)
}

// ApplyPlanChange writes the billing fields of a user if the stored billing
// version still equals expectedVersion. The customer reference is only
// written when the stored value is empty; a different existing value fails
// with ErrCustomerMismatch. Usage fields are never touched.
func (s *UserStore) ApplyPlanChange(ctx context.Context, id string, expectedVersion int64, change domain.PlanChange) error {
	const op = "repository.apply_plan_change"

	var expiry sql.NullTime
	if change.PlanExpiry != nil {
		expiry = sql.NullTime{Time: change.PlanExpiry.UTC(), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET
			plan = $3,
			subscription_active = $4,
			cancel_at_period_end = $5,
			plan_expiry = $6,
			stripe_subscription_id = $7,
			stripe_customer_id = COALESCE(stripe_customer_id, $8),
			canceled_subscription_id = COALESCE($9, canceled_subscription_id),
			billing_version = billing_version + 1,
			updated_at = now()
		WHERE id = $1
		  AND billing_version = $2
		  AND ($8::text IS NULL OR stripe_customer_id IS NULL OR stripe_customer_id = $8)`,
		id,
		expectedVersion,
		string(change.Plan),
		change.SubscriptionActive,
		change.CancelAtPeriodEnd,
		expiry,
		nullString(change.StripeSubscriptionID),
		nullString(change.StripeCustomerID),
		nullString(change.CanceledSubscriptionID),
	)
	if err != nil {
		return storeError(err, op, id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeError(err, op, id)
	}
	if n == 1 {
		return nil
	}
	return s.explainMiss(ctx, op, id, expectedVersion, change.StripeCustomerID)
}

// explainMiss re-reads a user after a conditional UPDATE matched no rows.
func (s *UserStore) explainMiss(ctx context.Context, op, id string, expectedVersion int64, customerID string) error {
	current, err := s.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if current.BillingVersion != expectedVersion {
		return domain.Conflict(op, "billing record changed concurrently")
	}
	if customerID != "" && current.StripeCustomerID != "" && current.StripeCustomerID != customerID {
		return &domain.Error{
			Code:    domain.ECONFLICT,
			Op:      op,
			Message: "user is already bound to a different billing customer",
			Err:     domain.ErrCustomerMismatch,
		}
	}
	return domain.Conflict(op, "billing record changed concurrently")
}

// BindStripeCustomer records the Stripe customer of a user that has none yet.
// Binding the same value again is a no-op.
func (s *UserStore) BindStripeCustomer(ctx context.Context, id, customerID string) error {
	const op = "repository.bind_stripe_customer"
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET
			stripe_customer_id = $2,
			billing_version = billing_version + 1,
			updated_at = now()
		WHERE id = $1 AND stripe_customer_id IS NULL`,
		id, customerID,
	)
	if err != nil {
		return storeError(err, op, id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeError(err, op, id)
	}
	if n == 1 {
		return nil
	}

	current, err := s.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if current.StripeCustomerID == customerID {
		return nil
	}
	return &domain.Error{
		Code:    domain.ECONFLICT,
		Op:      op,
		Message: "user is already bound to a different billing customer",
		Err:     domain.ErrCustomerMismatch,
	}
}

// ConsumeDaily increments the daily usage counter of a user if it is below
// limit for today, resetting it first when it belongs to an earlier day.
// The check and the increment are a single statement. It returns the
// effective usage for today and whether the increment happened.
func (s *UserStore) ConsumeDaily(ctx context.Context, id, today string, limit int) (int, bool, error) {
	const op = "repository.consume_daily"

	var used int
	err := s.db.QueryRowContext(ctx, `
		UPDATE users SET
			daily_usage = CASE WHEN daily_usage_date = $2 THEN daily_usage + 1 ELSE 1 END,
			daily_usage_date = $2,
			updated_at = now()
		WHERE id = $1
		  AND (daily_usage_date <> $2 OR daily_usage < $3)
		RETURNING daily_usage`,
		id, today, limit,
	).Scan(&used)
	if err == nil {
		return used, true, nil
	}
	if !isNoRows(err) {
		return 0, false, storeError(err, op, id)
	}

	// Either the user does not exist or today's limit is reached.
	current, err := s.GetUser(ctx, id)
	if err != nil {
		return 0, false, err
	}
	return current.EffectiveUsage(today), false, nil
}
