package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/DukeRupert/aptix/internal/domain"
	"github.com/DukeRupert/aptix/internal/metrics"
)

// =============================================================================
// Interface Definition
// =============================================================================

// UsageMeter gates metered features behind the free tier's daily limit.
type UsageMeter interface {
	// TryConsume checks the quota and consumes one unit when allowed.
	// It must be called before the metered action runs.
	TryConsume(ctx context.Context, userID string) (domain.UsageDecision, error)

	// Usage returns today's usage without consuming anything.
	Usage(ctx context.Context, userID string) (*domain.QuotaUsage, error)
}

// =============================================================================
// Implementation
// =============================================================================

type usageMeter struct {
	store  ProfileStore
	clock  domain.Clock
	loc    *time.Location
	limit  int
	logger *slog.Logger
}

// UsageConfig configures a UsageMeter.
type UsageConfig struct {
	DailyLimit int            // defaults to domain.DefaultFreeDailyLimit
	Location   *time.Location // calendar day boundary, defaults to UTC
	Clock      domain.Clock   // defaults to the system clock
}

// NewUsageMeter creates a new UsageMeter.
func NewUsageMeter(store ProfileStore, cfg UsageConfig, logger *slog.Logger) UsageMeter {
	if cfg.DailyLimit <= 0 {
		cfg.DailyLimit = domain.DefaultFreeDailyLimit
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Clock == nil {
		cfg.Clock = domain.SystemClock{}
	}
	return &usageMeter{
		store:  store,
		clock:  cfg.Clock,
		loc:    cfg.Location,
		limit:  cfg.DailyLimit,
		logger: logger,
	}
}

// TryConsume returns Allowed without touching the counter for paid users.
// For free users the check and the increment are one store operation, so
// concurrent callers cannot exceed the limit.
func (m *usageMeter) TryConsume(ctx context.Context, userID string) (domain.UsageDecision, error) {
	const op = "usage.try_consume"

	if userID == "" {
		return domain.UsageDecision{}, domain.Invalid(op, "userId is required")
	}

	user, err := m.store.GetUser(ctx, userID)
	if err != nil {
		return domain.UsageDecision{}, err
	}
	if user.HasUnlimitedUsage() {
		metrics.UsageDecided("unlimited")
		return domain.Allowed(0, 0), nil
	}

	today := m.today()
	used, ok, err := m.store.ConsumeDaily(ctx, userID, today, m.limit)
	if err != nil {
		return domain.UsageDecision{}, err
	}
	if !ok {
		metrics.UsageDecided("denied")
		m.logger.Info("daily limit reached", "user_id", userID, "used", used, "limit", m.limit, "date", today)
		return domain.Denied(domain.DenyLimitReached, used, m.limit), nil
	}

	metrics.UsageDecided("allowed")
	return domain.Allowed(used, m.limit), nil
}

// Usage returns the effective usage for today.
func (m *usageMeter) Usage(ctx context.Context, userID string) (*domain.QuotaUsage, error) {
	const op = "usage.get"

	if userID == "" {
		return nil, domain.Invalid(op, "userId is required")
	}

	user, err := m.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	today := m.today()
	if user.HasUnlimitedUsage() {
		return &domain.QuotaUsage{Unlimited: true, Date: today}, nil
	}

	used := user.EffectiveUsage(today)
	remaining := m.limit - used
	if remaining < 0 {
		remaining = 0
	}
	return &domain.QuotaUsage{
		Used:      used,
		Limit:     m.limit,
		Remaining: remaining,
		Date:      today,
	}, nil
}

func (m *usageMeter) today() string {
	return domain.DayKey(m.clock.Now(), m.loc)
}
