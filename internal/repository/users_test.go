package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/DukeRupert/aptix/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var userRowColumns = []string{
	"id", "email", "stripe_customer_id", "stripe_subscription_id", "canceled_subscription_id", "plan",
	"subscription_active", "cancel_at_period_end", "plan_expiry",
	"daily_usage", "daily_usage_date", "billing_version", "created_at", "updated_at",
}

func freeUserRow(id string, usage int, date string, version int64) *sqlmock.Rows {
	created := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(userRowColumns).AddRow(
		id, "ana@example.com", nil, nil, nil, "free",
		false, false, nil,
		usage, date, version, created, created,
	)
}

func TestUserStore_GetUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expiry := time.Date(2027, 10, 1, 0, 0, 0, 0, time.UTC)
	created := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(userRowColumns).AddRow(
		"u1", "ana@example.com", "cus_123", "sub_123", "sub_100", "yearly",
		true, false, expiry,
		2, "2026-10-15", int64(4), created, created,
	)
	mock.ExpectQuery("SELECT (.+) FROM users WHERE id = ").
		WithArgs("u1").
		WillReturnRows(rows)

	store := NewUserStore(db)
	u, err := store.GetUser(context.Background(), "u1")
	require.NoError(t, err)

	assert.Equal(t, domain.PlanYearly, u.Plan)
	assert.Equal(t, "cus_123", u.StripeCustomerID)
	assert.Equal(t, "sub_123", u.StripeSubscriptionID)
	assert.Equal(t, "sub_100", u.CanceledSubscriptionID)
	require.NotNil(t, u.PlanExpiry)
	assert.True(t, expiry.Equal(*u.PlanExpiry))
	assert.Equal(t, int64(4), u.BillingVersion)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserStore_GetUser_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM users WHERE id = ").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(userRowColumns))

	_, err = NewUserStore(db).GetUser(context.Background(), "missing")
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
	assert.True(t, errors.Is(err, domain.ErrUserNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserStore_GetUser_Unavailable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM users WHERE id = ").
		WithArgs("u1").
		WillReturnError(errors.New("connection refused"))

	_, err = NewUserStore(db).GetUser(context.Background(), "u1")
	assert.Equal(t, domain.EUNAVAILABLE, domain.ErrorCode(err))
	assert.True(t, errors.Is(err, domain.ErrStoreUnavailable))
}

func TestUserStore_ConsumeDaily_Allowed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("UPDATE users SET daily_usage = CASE").
		WithArgs("u1", "2026-10-15", 5).
		WillReturnRows(sqlmock.NewRows([]string{"daily_usage"}).AddRow(5))

	used, allowed, err := NewUserStore(db).ConsumeDaily(context.Background(), "u1", "2026-10-15", 5)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 5, used)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserStore_ConsumeDaily_LimitReached(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("UPDATE users SET daily_usage = CASE").
		WithArgs("u1", "2026-10-15", 5).
		WillReturnRows(sqlmock.NewRows([]string{"daily_usage"}))
	mock.ExpectQuery("SELECT (.+) FROM users WHERE id = ").
		WithArgs("u1").
		WillReturnRows(freeUserRow("u1", 5, "2026-10-15", 0))

	used, allowed, err := NewUserStore(db).ConsumeDaily(context.Background(), "u1", "2026-10-15", 5)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 5, used)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserStore_ConsumeDaily_UnknownUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("UPDATE users SET daily_usage = CASE").
		WithArgs("ghost", "2026-10-15", 5).
		WillReturnRows(sqlmock.NewRows([]string{"daily_usage"}))
	mock.ExpectQuery("SELECT (.+) FROM users WHERE id = ").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(userRowColumns))

	_, _, err = NewUserStore(db).ConsumeDaily(context.Background(), "ghost", "2026-10-15", 5)
	assert.True(t, errors.Is(err, domain.ErrUserNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserStore_ApplyPlanChange(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expiry := time.Date(2026, 11, 14, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("UPDATE users SET plan = ").
		WithArgs("u1", int64(2), "monthly", true, false, sqlmock.AnyArg(), "sub_1", "cus_1", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = NewUserStore(db).ApplyPlanChange(context.Background(), "u1", 2, domain.PlanChange{
		Plan:                 domain.PlanMonthly,
		SubscriptionActive:   true,
		PlanExpiry:           &expiry,
		StripeCustomerID:     "cus_1",
		StripeSubscriptionID: "sub_1",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserStore_ApplyPlanChange_RecordsCanceledSubscription(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("canceled_subscription_id = COALESCE").
		WithArgs("u1", int64(5), "free", false, false, nil, nil, nil, "sub_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = NewUserStore(db).ApplyPlanChange(context.Background(), "u1", 5, domain.Cancel("sub_1"))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserStore_ApplyPlanChange_VersionConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE users SET plan = ").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM users WHERE id = ").
		WithArgs("u1").
		WillReturnRows(freeUserRow("u1", 0, "2026-10-15", 3))

	err = NewUserStore(db).ApplyPlanChange(context.Background(), "u1", 2, domain.Downgrade())
	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))
	assert.True(t, errors.Is(err, domain.ErrConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserStore_BindStripeCustomer_SameValue(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	created := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("UPDATE users SET stripe_customer_id = ").
		WithArgs("u1", "cus_1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM users WHERE id = ").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(userRowColumns).AddRow(
			"u1", "ana@example.com", "cus_1", nil, nil, "free",
			false, false, nil, 0, "2026-10-15", int64(1), created, created,
		))

	err = NewUserStore(db).BindStripeCustomer(context.Background(), "u1", "cus_1")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserStore_CreateUser_Idempotent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO users (.+) ON CONFLICT \\(id\\) DO NOTHING").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM users WHERE id = ").
		WithArgs("u1").
		WillReturnRows(freeUserRow("u1", 3, "2026-10-15", 0))

	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	u, err := NewUserStore(db).CreateUser(context.Background(), domain.NewUser("u1", "ana@example.com", "2026-10-15", now))
	require.NoError(t, err)
	assert.Equal(t, 3, u.DailyUsage, "existing record is returned untouched")
	assert.NoError(t, mock.ExpectationsWereMet())
}
