// Package domain contains core business types and interfaces.
//
// This file defines the user plan record shared by the subscription
// reconciler and the usage meter. The record is owned by the profile store;
// the two writers touch disjoint fields (billing fields vs. usage fields).
package domain

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// Plan is the pricing tier of a user.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanMonthly Plan = "monthly"
	PlanYearly  Plan = "yearly"
)

// Valid reports whether p is one of the known plans.
func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanMonthly, PlanYearly:
		return true
	default:
		return false
	}
}

// IsPaid returns true for the monthly and yearly tiers.
func (p Plan) IsPaid() bool {
	return p == PlanMonthly || p == PlanYearly
}

// Term returns the provisional billing period used on checkout completion,
// before the processor reports an authoritative period end.
func (p Plan) Term() time.Duration {
	if p == PlanYearly {
		return 365 * 24 * time.Hour
	}
	return 30 * 24 * time.Hour
}

// ParsePlan converts a plan selection into a paid Plan.
// Only paid plans can be selected at checkout.
func ParsePlan(s string) (Plan, bool) {
	p := Plan(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsPaid() {
		return "", false
	}
	return p, true
}

// User is the per-user plan record.
//
// Invariants:
//   - Plan == PlanFree implies !SubscriptionActive and PlanExpiry == nil.
//   - DailyUsage is only meaningful for DailyUsageDate; a record dated
//     before today is logically zero.
type User struct {
	ID                   string
	Email                string
	StripeCustomerID     string // billing-customer-reference; never rebound once set
	StripeSubscriptionID string
	// CanceledSubscriptionID is the last subscription ended by a deleted
	// event. Later events for it are stale and never reactivate the plan.
	CanceledSubscriptionID string
	Plan                   Plan
	SubscriptionActive     bool
	CancelAtPeriodEnd      bool
	PlanExpiry             *time.Time
	DailyUsage             int
	DailyUsageDate         string // YYYY-MM-DD in the configured usage zone
	BillingVersion         int64  // optimistic-concurrency token for billing writes
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// HasUnlimitedUsage returns true when the user is on a paid plan in good standing.
func (u *User) HasUnlimitedUsage() bool {
	return u.Plan.IsPaid() && u.SubscriptionActive
}

// IsCanceledSubscription reports whether subscriptionID was ended by a
// deleted event.
func (u *User) IsCanceledSubscription(subscriptionID string) bool {
	return subscriptionID != "" && subscriptionID == u.CanceledSubscriptionID
}

// EffectiveUsage returns the usage count that applies to today.
func (u *User) EffectiveUsage(today string) int {
	if u.DailyUsageDate != today {
		return 0
	}
	return u.DailyUsage
}

// NewUser builds the initial record for a user on first authentication.
func NewUser(id, email, today string, now time.Time) *User {
	return &User{
		ID:             id,
		Email:          NormalizeEmail(email),
		Plan:           PlanFree,
		DailyUsage:     0,
		DailyUsageDate: today,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

var emailFolder = cases.Fold()

// NormalizeEmail returns the case-folded, trimmed form used as the join key
// against the processor's customer records.
func NormalizeEmail(email string) string {
	return emailFolder.String(strings.TrimSpace(email))
}

// PlanChange is a field-scoped billing mutation. Only billing fields are
// written; usage fields are never touched by the reconciler.
type PlanChange struct {
	Plan                 Plan
	SubscriptionActive   bool
	CancelAtPeriodEnd    bool
	PlanExpiry           *time.Time
	StripeCustomerID     string // written only when the stored value is empty
	StripeSubscriptionID string
	// CanceledSubscriptionID replaces the stored tombstone when non-empty.
	CanceledSubscriptionID string
}

// Downgrade returns the change that returns a user to the free tier.
func Downgrade() PlanChange {
	return PlanChange{Plan: PlanFree}
}

// Cancel downgrades to the free tier and tombstones subscriptionID.
func Cancel(subscriptionID string) PlanChange {
	c := Downgrade()
	c.CanceledSubscriptionID = subscriptionID
	return c
}

// PlanView is the public projection of a user record.
type PlanView struct {
	UserID             string     `json:"userId"`
	Plan               Plan       `json:"plan"`
	SubscriptionActive bool       `json:"subscriptionActive"`
	CancelAtPeriodEnd  bool       `json:"cancelAtPeriodEnd"`
	PlanExpiry         *time.Time `json:"planExpiry"`
	HasBillingCustomer bool       `json:"hasBillingCustomer"`
}

// View projects the record for API responses.
func (u *User) View() PlanView {
	return PlanView{
		UserID:             u.ID,
		Plan:               u.Plan,
		SubscriptionActive: u.SubscriptionActive,
		CancelAtPeriodEnd:  u.CancelAtPeriodEnd,
		PlanExpiry:         u.PlanExpiry,
		HasBillingCustomer: u.StripeCustomerID != "",
	}
}
