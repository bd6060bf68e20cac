// Package domain contains core business types and interfaces.
//
// This file defines the closed set of verified billing events. Every event
// type implements BillingEvent and dispatches itself to an EventVisitor, so a
// new event type cannot be added without every visitor implementing it.
package domain

import "time"

// EventKind is the normalized tag of a verified billing event.
type EventKind string

const (
	EventCheckoutCompleted   EventKind = "checkout_completed"
	EventInvoicePaid         EventKind = "invoice_paid"
	EventSubscriptionDeleted EventKind = "subscription_deleted"
	EventSubscriptionUpdated EventKind = "subscription_updated"
	EventUnrecognized        EventKind = "unrecognized"
)

// BillingEvent is a verified notification from the payment processor.
type BillingEvent interface {
	Kind() EventKind
	Meta() EventMeta
	Accept(v EventVisitor) error

	isBillingEvent()
}

// EventVisitor handles each billing event type.
type EventVisitor interface {
	VisitCheckoutCompleted(e CheckoutCompleted) error
	VisitInvoicePaid(e InvoicePaid) error
	VisitSubscriptionDeleted(e SubscriptionDeleted) error
	VisitSubscriptionUpdated(e SubscriptionUpdated) error
	VisitUnrecognized(e Unrecognized) error
}

// EventMeta identifies the processor event that carried a payload.
type EventMeta struct {
	ID      string // processor event ID, used for de-duplication
	Type    string // processor event type, e.g. "invoice.paid"
	Created time.Time
}

// CheckoutCompleted is emitted when a hosted checkout finishes.
// UserID and PlanType come from metadata set at checkout initiation.
type CheckoutCompleted struct {
	EventMeta
	SessionID      string
	CustomerID     string
	SubscriptionID string
	CustomerEmail  string
	UserID         string
	PlanType       string
}

// InvoicePaid is emitted when a subscription invoice is paid.
// PriceID and PeriodEnd are taken from the subscription line item and may be
// empty when the invoice does not carry one.
type InvoicePaid struct {
	EventMeta
	InvoiceID      string
	CustomerID     string
	SubscriptionID string
	CustomerEmail  string
	PriceID        string
	PeriodEnd      time.Time
}

// SubscriptionDeleted is emitted when a subscription ends.
type SubscriptionDeleted struct {
	EventMeta
	SubscriptionID string
	CustomerID     string
}

// SubscriptionUpdated is emitted when a subscription's price, period or
// cancellation flag changes.
type SubscriptionUpdated struct {
	EventMeta
	SubscriptionID    string
	CustomerID        string
	PriceID           string
	PeriodEnd         time.Time
	CancelAtPeriodEnd bool
	Status            string
}

// Unrecognized is any event type the reconciler does not act on.
type Unrecognized struct {
	EventMeta
}

func (e CheckoutCompleted) Kind() EventKind   { return EventCheckoutCompleted }
func (e InvoicePaid) Kind() EventKind         { return EventInvoicePaid }
func (e SubscriptionDeleted) Kind() EventKind { return EventSubscriptionDeleted }
func (e SubscriptionUpdated) Kind() EventKind { return EventSubscriptionUpdated }
func (e Unrecognized) Kind() EventKind        { return EventUnrecognized }

func (e CheckoutCompleted) Meta() EventMeta   { return e.EventMeta }
func (e InvoicePaid) Meta() EventMeta         { return e.EventMeta }
func (e SubscriptionDeleted) Meta() EventMeta { return e.EventMeta }
func (e SubscriptionUpdated) Meta() EventMeta { return e.EventMeta }
func (e Unrecognized) Meta() EventMeta        { return e.EventMeta }

func (e CheckoutCompleted) Accept(v EventVisitor) error   { return v.VisitCheckoutCompleted(e) }
func (e InvoicePaid) Accept(v EventVisitor) error         { return v.VisitInvoicePaid(e) }
func (e SubscriptionDeleted) Accept(v EventVisitor) error { return v.VisitSubscriptionDeleted(e) }
func (e SubscriptionUpdated) Accept(v EventVisitor) error { return v.VisitSubscriptionUpdated(e) }
func (e Unrecognized) Accept(v EventVisitor) error        { return v.VisitUnrecognized(e) }

func (CheckoutCompleted) isBillingEvent()   {}
func (InvoicePaid) isBillingEvent()         {}
func (SubscriptionDeleted) isBillingEvent() {}
func (SubscriptionUpdated) isBillingEvent() {}
func (Unrecognized) isBillingEvent()        {}

// ReconcileOutcome describes what the reconciler did with an event.
type ReconcileOutcome string

const (
	OutcomeApplied         ReconcileOutcome = "applied"
	OutcomeNoUser          ReconcileOutcome = "dropped_no_user"
	OutcomeMissingMetadata ReconcileOutcome = "dropped_missing_metadata"
	OutcomeIgnored         ReconcileOutcome = "ignored"
	OutcomeDuplicate       ReconcileOutcome = "duplicate"
)
