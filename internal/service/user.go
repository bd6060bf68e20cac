// Package service holds the plan, usage, billing and generation logic of
// aptix. Services validate input and return *domain.Error values that the
// handlers map onto HTTP responses.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/DukeRupert/aptix/internal/domain"
)

// =============================================================================
// Interface Definition
// =============================================================================

// UserService manages user plan records.
// Authentication happens upstream; userID is the identity provider's opaque ID.
type UserService interface {
	// EnsureUser creates the plan record on first authentication.
	// Calling it again for an existing user returns the stored record.
	// Returns domain.EINVALID for validation errors.
	EnsureUser(ctx context.Context, userID, email string) (*domain.PlanView, error)

	// GetPlan returns the plan view of a user.
	// Returns domain.ENOTFOUND if the user does not exist.
	GetPlan(ctx context.Context, userID string) (*domain.PlanView, error)
}

// =============================================================================
// Implementation
// =============================================================================

type userService struct {
	store  ProfileStore
	clock  domain.Clock
	loc    *time.Location
	logger *slog.Logger
}

// NewUserService creates a new UserService. loc is the calendar zone of the
// daily usage counter.
func NewUserService(store ProfileStore, clock domain.Clock, loc *time.Location, logger *slog.Logger) UserService {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &userService{
		store:  store,
		clock:  clock,
		loc:    loc,
		logger: logger,
	}
}

func (s *userService) EnsureUser(ctx context.Context, userID, email string) (*domain.PlanView, error) {
	const op = "user.ensure"

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.Invalid(op, "userId is required")
	}
	email = domain.NormalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return nil, domain.Invalid(op, err.Error())
	}

	now := s.clock.Now()
	user, err := s.store.CreateUser(ctx, domain.NewUser(userID, email, domain.DayKey(now, s.loc), now))
	if err != nil {
		return nil, err
	}

	s.logger.Debug("user ensured", "user_id", user.ID, "plan", user.Plan)
	view := user.View()
	return &view, nil
}

func (s *userService) GetPlan(ctx context.Context, userID string) (*domain.PlanView, error) {
	const op = "user.get_plan"

	if userID == "" {
		return nil, domain.Invalid(op, "userId is required")
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	view := user.View()
	return &view, nil
}

const maxEmailLength = 254

// validateEmail is a shape check only. Addresses arrive already verified by
// the identity provider.
func validateEmail(email string) error {
	local, host, ok := strings.Cut(email, "@")
	switch {
	case email == "":
		return errors.New("Email is required")
	case len(email) > maxEmailLength:
		return errors.New("Email must be 254 characters or less")
	case !ok || strings.Contains(host, "@"):
		return errors.New("Email must contain exactly one @ symbol")
	case local == "" || host == "":
		return errors.New("Email needs text on both sides of the @")
	case !strings.Contains(host, "."):
		return errors.New("Email domain must contain a dot")
	case strings.Contains(email, ".."):
		return errors.New("Email cannot contain consecutive dots")
	}
	return nil
}
