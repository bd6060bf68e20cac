package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/DukeRupert/aptix/internal/billing"
	"github.com/DukeRupert/aptix/internal/domain"
)

// CheckoutService creates hosted Stripe sessions for a user.
type CheckoutService interface {
	// CreateCheckout returns the URL of a subscription checkout for planType.
	// Returns domain.EINVALID for an unknown plan and domain.ENOTFOUND for an
	// unknown user.
	CreateCheckout(ctx context.Context, userID, planType string) (string, error)

	// CreatePortal returns the URL of a billing portal session. A user with
	// no customer reference is matched to a Stripe customer by email, and the
	// match is recorded.
	CreatePortal(ctx context.Context, userID string) (string, error)
}

type checkoutService struct {
	store       ProfileStore
	billing     billing.Service
	prices      billing.PriceTable
	frontendURL string
	logger      *slog.Logger
}

// NewCheckoutService creates a new CheckoutService.
// billingSvc may be nil when Stripe is not configured; every call then fails
// with domain.EUNAVAILABLE.
func NewCheckoutService(store ProfileStore, billingSvc billing.Service, prices billing.PriceTable, frontendURL string, logger *slog.Logger) CheckoutService {
	return &checkoutService{
		store:       store,
		billing:     billingSvc,
		prices:      prices,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		logger:      logger,
	}
}

func (s *checkoutService) CreateCheckout(ctx context.Context, userID, planType string) (string, error) {
	const op = "checkout.create"

	if userID == "" || planType == "" {
		return "", domain.Invalid(op, "planType and userId are required")
	}
	plan, ok := domain.ParsePlan(planType)
	if !ok {
		return "", domain.InvalidPlan(op, planType)
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}

	priceID, err := s.prices.PriceForPlan(plan)
	if err != nil {
		return "", err
	}

	if s.billing == nil {
		return "", domain.Errorf(domain.EUNAVAILABLE, op, "billing is not configured")
	}

	params := billing.CheckoutParams{
		PriceID:    priceID,
		SuccessURL: s.frontendURL + "/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  s.frontendURL + "/pricing",
		Metadata: map[string]string{
			billing.MetadataUserID:   user.ID,
			billing.MetadataPlanType: string(plan),
		},
	}
	if user.StripeCustomerID != "" {
		params.CustomerID = user.StripeCustomerID
	} else {
		params.CustomerEmail = user.Email
	}

	url, err := s.billing.CreateCheckoutSession(ctx, params)
	if err != nil {
		s.logger.Error("failed to create checkout session", "error", err, "user_id", user.ID, "plan", plan)
		return "", domain.Internal(err, op, "failed to create checkout session")
	}

	s.logger.Info("checkout session created", "user_id", user.ID, "plan", plan)
	return url, nil
}

func (s *checkoutService) CreatePortal(ctx context.Context, userID string) (string, error) {
	const op = "checkout.create_portal"

	if userID == "" {
		return "", domain.Invalid(op, "userId is required")
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}

	if s.billing == nil {
		return "", domain.Errorf(domain.EUNAVAILABLE, op, "billing is not configured")
	}

	customerID := user.StripeCustomerID
	if customerID == "" {
		customerID, err = s.billing.FindCustomerByEmail(ctx, user.Email)
		if err != nil {
			s.logger.Error("failed to search stripe customers", "error", err, "user_id", user.ID)
			return "", domain.Internal(err, op, "failed to look up billing customer")
		}
		if customerID == "" {
			return "", domain.NotFound(op, "billing customer", user.ID)
		}
		if err := s.store.BindStripeCustomer(ctx, user.ID, customerID); err != nil {
			return "", err
		}
		s.logger.Info("bound stripe customer found by email", "user_id", user.ID, "customer_id", customerID)
	}

	url, err := s.billing.CreatePortalSession(ctx, customerID, s.frontendURL+"/profile")
	if err != nil {
		s.logger.Error("failed to create portal session", "error", err, "user_id", user.ID)
		return "", domain.Internal(err, op, "failed to create portal session")
	}
	return url, nil
}
