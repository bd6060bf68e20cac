package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/DukeRupert/aptix/internal/domain"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

// Stripe event types mapped onto domain.BillingEvent variants.
const (
	eventCheckoutSessionCompleted    = "checkout.session.completed"
	eventInvoicePaid                 = "invoice.paid"
	eventInvoicePaymentSucceeded     = "invoice.payment_succeeded"
	eventCustomerSubscriptionDeleted = "customer.subscription.deleted"
	eventCustomerSubscriptionUpdated = "customer.subscription.updated"
)

// Metadata keys written at checkout and read back on completion.
const (
	MetadataUserID   = "userId"
	MetadataPlanType = "planType"
)

// Verifier authenticates Stripe webhook payloads and decodes them into
// domain billing events. It has no side effects.
type Verifier struct {
	secret    string
	tolerance time.Duration
}

// NewVerifier creates a Verifier for the given webhook signing secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret, tolerance: webhook.DefaultTolerance}
}

// Verify checks the Stripe-Signature header against payload and returns the
// decoded event. Any failure, including a well-signed payload that cannot be
// decoded, is reported as domain.ErrSignatureInvalid.
func (v *Verifier) Verify(payload []byte, signatureHeader string) (domain.BillingEvent, error) {
	const op = "billing.verify"

	if v.secret == "" {
		return nil, domain.SignatureInvalid(op, errors.New("webhook secret not configured"))
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, domain.SignatureInvalid(op, err)
	}

	meta := domain.EventMeta{
		ID:      event.ID,
		Type:    string(event.Type),
		Created: time.Unix(event.Created, 0).UTC(),
	}

	var decoded domain.BillingEvent
	switch meta.Type {
	case eventCheckoutSessionCompleted:
		decoded, err = decodeCheckoutCompleted(meta, event.Data)
	case eventInvoicePaid, eventInvoicePaymentSucceeded:
		decoded, err = decodeInvoicePaid(meta, event.Data)
	case eventCustomerSubscriptionDeleted:
		decoded, err = decodeSubscriptionDeleted(meta, event.Data)
	case eventCustomerSubscriptionUpdated:
		decoded, err = decodeSubscriptionUpdated(meta, event.Data)
	default:
		decoded = domain.Unrecognized{EventMeta: meta}
	}
	if err != nil {
		return nil, domain.SignatureInvalid(op, err)
	}
	return decoded, nil
}

func unmarshalObject(data *stripe.EventData, v interface{}) error {
	if data == nil || len(data.Raw) == 0 {
		return errors.New("event has no data object")
	}
	if err := json.Unmarshal(data.Raw, v); err != nil {
		return fmt.Errorf("decode event object: %w", err)
	}
	return nil
}

func decodeCheckoutCompleted(meta domain.EventMeta, data *stripe.EventData) (domain.BillingEvent, error) {
	var session stripe.CheckoutSession
	if err := unmarshalObject(data, &session); err != nil {
		return nil, err
	}

	e := domain.CheckoutCompleted{
		EventMeta:     meta,
		SessionID:     session.ID,
		CustomerEmail: session.CustomerEmail,
		UserID:        session.Metadata[MetadataUserID],
		PlanType:      session.Metadata[MetadataPlanType],
	}
	if session.Customer != nil {
		e.CustomerID = session.Customer.ID
	}
	if session.Subscription != nil {
		e.SubscriptionID = session.Subscription.ID
	}
	if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		e.CustomerEmail = session.CustomerDetails.Email
	}
	return e, nil
}

func decodeInvoicePaid(meta domain.EventMeta, data *stripe.EventData) (domain.BillingEvent, error) {
	var invoice stripe.Invoice
	if err := unmarshalObject(data, &invoice); err != nil {
		return nil, err
	}

	e := domain.InvoicePaid{
		EventMeta:     meta,
		InvoiceID:     invoice.ID,
		CustomerEmail: invoice.CustomerEmail,
	}
	if invoice.Customer != nil {
		e.CustomerID = invoice.Customer.ID
	}
	if invoice.Subscription != nil {
		e.SubscriptionID = invoice.Subscription.ID
	}

	// The subscription line item carries the paid price and its period.
	if invoice.Lines != nil {
		for _, line := range invoice.Lines.Data {
			if line == nil || line.Type != stripe.InvoiceLineItemTypeSubscription {
				continue
			}
			if line.Price != nil {
				e.PriceID = line.Price.ID
			}
			if line.Period != nil && line.Period.End > 0 {
				e.PeriodEnd = time.Unix(line.Period.End, 0).UTC()
			}
			break
		}
	}
	return e, nil
}

func decodeSubscriptionDeleted(meta domain.EventMeta, data *stripe.EventData) (domain.BillingEvent, error) {
	var sub stripe.Subscription
	if err := unmarshalObject(data, &sub); err != nil {
		return nil, err
	}
	s := subscriptionFromStripe(&sub)
	return domain.SubscriptionDeleted{
		EventMeta:      meta,
		SubscriptionID: s.ID,
		CustomerID:     s.CustomerID,
	}, nil
}

func decodeSubscriptionUpdated(meta domain.EventMeta, data *stripe.EventData) (domain.BillingEvent, error) {
	var sub stripe.Subscription
	if err := unmarshalObject(data, &sub); err != nil {
		return nil, err
	}
	s := subscriptionFromStripe(&sub)
	return domain.SubscriptionUpdated{
		EventMeta:         meta,
		SubscriptionID:    s.ID,
		CustomerID:        s.CustomerID,
		PriceID:           s.PriceID,
		PeriodEnd:         s.CurrentPeriodEnd,
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		Status:            s.Status,
	}, nil
}
