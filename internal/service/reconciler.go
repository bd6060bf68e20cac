package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/DukeRupert/aptix/internal/billing"
	"github.com/DukeRupert/aptix/internal/domain"
	"github.com/DukeRupert/aptix/internal/metrics"
)

// maxReconcileAttempts bounds the optimistic-concurrency retry loop.
const maxReconcileAttempts = 3

// Subscription statuses after which the subscription never becomes active
// again. Their final state is applied by the deleted event.
var terminalSubscriptionStatuses = map[string]bool{
	"canceled":           true,
	"incomplete":         true,
	"incomplete_expired": true,
	"unpaid":             true,
}

// =============================================================================
// Interface Definition
// =============================================================================

// Reconciler applies one deterministic transition per verified billing event.
// Applying the same event any number of times converges to the same record.
type Reconciler interface {
	Apply(ctx context.Context, event domain.BillingEvent) (domain.ReconcileOutcome, error)
}

// =============================================================================
// Implementation
// =============================================================================

type reconciler struct {
	store   ProfileStore
	billing billing.Service
	prices  billing.PriceTable
	clock   domain.Clock
	logger  *slog.Logger
}

// NewReconciler creates a new Reconciler. billingSvc is used to look up a
// subscription when an invoice does not carry its price or period.
func NewReconciler(store ProfileStore, billingSvc billing.Service, prices billing.PriceTable, clock domain.Clock, logger *slog.Logger) Reconciler {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &reconciler{
		store:   store,
		billing: billingSvc,
		prices:  prices,
		clock:   clock,
		logger:  logger,
	}
}

// Apply runs the transition for event. A billing version conflict re-runs
// the whole transition, re-reading the record; any other failure is returned
// so the caller can ask the origin to redeliver.
func (r *reconciler) Apply(ctx context.Context, event domain.BillingEvent) (domain.ReconcileOutcome, error) {
	kind := string(event.Kind())
	meta := event.Meta()

	for attempt := 1; ; attempt++ {
		v := &reconcileVisit{r: r, ctx: ctx, meta: meta}
		err := event.Accept(v)
		if err == nil {
			metrics.BillingEventHandled(kind, string(v.outcome))
			r.logger.Info("billing event reconciled",
				"event_id", meta.ID,
				"event_type", meta.Type,
				"outcome", v.outcome,
				"user_id", v.userID,
			)
			return v.outcome, nil
		}

		if errors.Is(err, domain.ErrConflict) && attempt < maxReconcileAttempts {
			metrics.BillingVersionConflicts.Inc()
			r.logger.Warn("billing version conflict, retrying", "event_id", meta.ID, "attempt", attempt)
			continue
		}

		metrics.BillingEventFailed(kind, domain.ErrorCode(err))
		r.logger.Error("billing event failed", "event_id", meta.ID, "event_type", meta.Type, "error", err)
		return "", err
	}
}

// reconcileVisit carries the state of one transition attempt.
type reconcileVisit struct {
	r       *reconciler
	ctx     context.Context
	meta    domain.EventMeta
	outcome domain.ReconcileOutcome
	userID  string
}

func (v *reconcileVisit) VisitCheckoutCompleted(e domain.CheckoutCompleted) error {
	if e.UserID == "" || e.PlanType == "" {
		v.r.logger.Warn("checkout completed without user metadata", "event_id", e.ID, "session_id", e.SessionID)
		v.outcome = domain.OutcomeMissingMetadata
		return nil
	}
	plan, ok := domain.ParsePlan(e.PlanType)
	if !ok {
		v.r.logger.Warn("checkout completed with unknown plan type", "event_id", e.ID, "plan_type", e.PlanType)
		v.outcome = domain.OutcomeMissingMetadata
		return nil
	}

	u, err := v.resolve(e.UserID, e.CustomerID, e.CustomerEmail)
	if err != nil || u == nil {
		return err
	}
	if v.canceledSubscription(u, e.SubscriptionID) {
		return nil
	}

	// The provisional expiry is anchored on the event so a redelivery
	// computes the same value.
	created := e.Created
	if created.IsZero() {
		created = v.r.clock.Now()
	}
	expiry := created.Add(plan.Term()).UTC()

	change := domain.PlanChange{
		Plan:                 plan,
		SubscriptionActive:   true,
		PlanExpiry:           &expiry,
		StripeCustomerID:     e.CustomerID,
		StripeSubscriptionID: e.SubscriptionID,
	}
	if e.SubscriptionID != "" && u.StripeSubscriptionID == e.SubscriptionID {
		// A replay keeps whatever expiry is stored for this subscription:
		// either its own provisional value or the period end an invoice
		// recorded since.
		if u.PlanExpiry != nil {
			change.PlanExpiry = u.PlanExpiry
		}
		change.CancelAtPeriodEnd = u.CancelAtPeriodEnd
	}
	if u.StripeCustomerID != "" && e.CustomerID != "" && u.StripeCustomerID != e.CustomerID {
		v.r.logger.Warn("checkout customer differs from bound customer",
			"user_id", u.ID, "bound_customer", u.StripeCustomerID, "event_customer", e.CustomerID)
		change.StripeCustomerID = ""
	}

	return v.write(u, change)
}

func (v *reconcileVisit) VisitInvoicePaid(e domain.InvoicePaid) error {
	const op = "reconciler.invoice_paid"

	if e.SubscriptionID == "" {
		v.r.logger.Debug("invoice without subscription", "event_id", e.ID, "invoice_id", e.InvoiceID)
		v.outcome = domain.OutcomeIgnored
		return nil
	}

	u, err := v.resolve("", e.CustomerID, e.CustomerEmail)
	if err != nil || u == nil {
		return err
	}
	if v.canceledSubscription(u, e.SubscriptionID) {
		return nil
	}

	priceID, periodEnd := e.PriceID, e.PeriodEnd
	cancelAtPeriodEnd := false
	if u.StripeSubscriptionID == e.SubscriptionID {
		cancelAtPeriodEnd = u.CancelAtPeriodEnd
	}

	if priceID == "" || periodEnd.IsZero() {
		if v.r.billing == nil {
			return domain.Errorf(domain.EUNAVAILABLE, op, "billing service not configured")
		}
		sub, err := v.r.billing.GetSubscription(v.ctx, e.SubscriptionID)
		if err != nil {
			return domain.Wrap(err, domain.EUNAVAILABLE, op, "failed to fetch subscription")
		}
		if priceID == "" {
			priceID = sub.PriceID
		}
		if periodEnd.IsZero() {
			periodEnd = sub.CurrentPeriodEnd
		}
		cancelAtPeriodEnd = sub.CancelAtPeriodEnd
	}

	plan, err := v.planForPrice(priceID, u.ID)
	if err != nil {
		return err
	}

	change := domain.PlanChange{
		Plan:                 plan,
		SubscriptionActive:   true,
		CancelAtPeriodEnd:    cancelAtPeriodEnd,
		PlanExpiry:           expiryOrExisting(periodEnd, u.PlanExpiry),
		StripeCustomerID:     e.CustomerID,
		StripeSubscriptionID: e.SubscriptionID,
	}
	return v.write(u, change)
}

func (v *reconcileVisit) VisitSubscriptionDeleted(e domain.SubscriptionDeleted) error {
	u, err := v.resolve("", e.CustomerID, "")
	if err != nil || u == nil {
		return err
	}

	if u.StripeSubscriptionID != "" && e.SubscriptionID != "" && u.StripeSubscriptionID != e.SubscriptionID {
		v.r.logger.Info("deleted subscription is not the current one",
			"user_id", u.ID, "current", u.StripeSubscriptionID, "deleted", e.SubscriptionID)
		v.outcome = domain.OutcomeIgnored
		return nil
	}

	canceled := e.SubscriptionID
	if canceled == "" {
		canceled = u.StripeSubscriptionID
	}
	return v.write(u, domain.Cancel(canceled))
}

func (v *reconcileVisit) VisitSubscriptionUpdated(e domain.SubscriptionUpdated) error {
	u, err := v.resolve("", e.CustomerID, "")
	if err != nil || u == nil {
		return err
	}

	if terminalSubscriptionStatuses[e.Status] {
		v.r.logger.Info("subscription update with terminal status", "user_id", u.ID, "status", e.Status)
		v.outcome = domain.OutcomeIgnored
		return nil
	}
	if v.staleSubscription(u, e.SubscriptionID) {
		return nil
	}

	plan, err := v.planForPrice(e.PriceID, u.ID)
	if err != nil {
		return err
	}

	change := domain.PlanChange{
		Plan:                 plan,
		SubscriptionActive:   true,
		CancelAtPeriodEnd:    e.CancelAtPeriodEnd,
		PlanExpiry:           expiryOrExisting(e.PeriodEnd, u.PlanExpiry),
		StripeSubscriptionID: e.SubscriptionID,
	}
	return v.write(u, change)
}

func (v *reconcileVisit) VisitUnrecognized(e domain.Unrecognized) error {
	v.r.logger.Debug("unhandled billing event", "event_id", e.ID, "event_type", e.Type)
	v.outcome = domain.OutcomeIgnored
	return nil
}

// resolve locates the affected user by metadata user ID, then billing
// customer reference, then email. A nil user with a nil error means the
// event is dropped; v.outcome is set accordingly.
func (v *reconcileVisit) resolve(userID, customerID, email string) (*domain.User, error) {
	store := v.r.store

	if userID != "" {
		u, err := store.GetUser(v.ctx, userID)
		if err == nil {
			return v.found(u), nil
		}
		if !errors.Is(err, domain.ErrUserNotFound) {
			return nil, err
		}
	}

	if customerID != "" {
		u, err := store.GetUserByStripeCustomerID(v.ctx, customerID)
		if err == nil {
			return v.found(u), nil
		}
		if !errors.Is(err, domain.ErrUserNotFound) {
			return nil, err
		}
	}

	if email != "" {
		u, err := store.GetUserByEmail(v.ctx, email)
		if err == nil {
			if customerID != "" && u.StripeCustomerID != "" && u.StripeCustomerID != customerID {
				v.r.logger.Warn("email match is bound to another billing customer",
					"event_id", v.meta.ID, "user_id", u.ID, "event_customer", customerID)
				v.outcome = domain.OutcomeNoUser
				return nil, nil
			}
			return v.found(u), nil
		}
		if !errors.Is(err, domain.ErrUserNotFound) {
			return nil, err
		}
	}

	v.r.logger.Info("no user for billing event",
		"event_id", v.meta.ID, "event_type", v.meta.Type, "customer_id", customerID)
	v.outcome = domain.OutcomeNoUser
	return nil, nil
}

// canceledSubscription marks the event ignored when it names a subscription
// a deleted event already ended. Redeliveries of such events arrive after
// the downgrade and must not reactivate the plan.
func (v *reconcileVisit) canceledSubscription(u *domain.User, subscriptionID string) bool {
	if !u.IsCanceledSubscription(subscriptionID) {
		return false
	}
	v.r.logger.Info("event for a canceled subscription",
		"event_id", v.meta.ID, "user_id", u.ID, "subscription_id", subscriptionID)
	v.outcome = domain.OutcomeIgnored
	return true
}

// staleSubscription extends canceledSubscription to any subscription other
// than the user's active one.
func (v *reconcileVisit) staleSubscription(u *domain.User, subscriptionID string) bool {
	if v.canceledSubscription(u, subscriptionID) {
		return true
	}
	if !u.SubscriptionActive || u.StripeSubscriptionID == "" || u.StripeSubscriptionID == subscriptionID {
		return false
	}
	v.r.logger.Info("updated subscription is not the current one",
		"event_id", v.meta.ID, "user_id", u.ID, "current", u.StripeSubscriptionID, "updated", subscriptionID)
	v.outcome = domain.OutcomeIgnored
	return true
}

func (v *reconcileVisit) found(u *domain.User) *domain.User {
	v.userID = u.ID
	return u
}

func (v *reconcileVisit) planForPrice(priceID, userID string) (domain.Plan, error) {
	plan, err := v.r.prices.PlanForPrice(priceID)
	if err != nil {
		metrics.BillingUnmappedPrice.Inc()
		v.r.logger.Error("billing price is not mapped to a plan",
			"event_id", v.meta.ID, "price_id", priceID, "user_id", userID)
		return "", err
	}
	return plan, nil
}

// write applies change against the version u was read at. A change that
// matches the stored billing state is not written.
func (v *reconcileVisit) write(u *domain.User, change domain.PlanChange) error {
	v.outcome = domain.OutcomeApplied
	if billingStateEqual(u, change) {
		v.r.logger.Debug("billing state unchanged", "event_id", v.meta.ID, "user_id", u.ID)
		return nil
	}

	err := v.r.store.ApplyPlanChange(v.ctx, u.ID, u.BillingVersion, change)
	if errors.Is(err, domain.ErrCustomerMismatch) && change.StripeCustomerID != "" {
		v.r.logger.Warn("billing customer already bound elsewhere, applying plan without it",
			"user_id", u.ID, "customer_id", change.StripeCustomerID)
		change.StripeCustomerID = ""
		err = v.r.store.ApplyPlanChange(v.ctx, u.ID, u.BillingVersion, change)
	}
	return err
}

func billingStateEqual(u *domain.User, c domain.PlanChange) bool {
	if u.Plan != c.Plan ||
		u.SubscriptionActive != c.SubscriptionActive ||
		u.CancelAtPeriodEnd != c.CancelAtPeriodEnd ||
		u.StripeSubscriptionID != c.StripeSubscriptionID {
		return false
	}
	if c.StripeCustomerID != "" && c.StripeCustomerID != u.StripeCustomerID {
		return false
	}
	if c.CanceledSubscriptionID != "" && c.CanceledSubscriptionID != u.CanceledSubscriptionID {
		return false
	}
	switch {
	case u.PlanExpiry == nil && c.PlanExpiry == nil:
		return true
	case u.PlanExpiry == nil || c.PlanExpiry == nil:
		return false
	default:
		return u.PlanExpiry.Equal(*c.PlanExpiry)
	}
}

func expiryOrExisting(periodEnd time.Time, existing *time.Time) *time.Time {
	if periodEnd.IsZero() {
		return existing
	}
	t := periodEnd.UTC()
	return &t
}
