// Package handler contains HTTP handlers for the aptix API.
//
// This file implements the Stripe webhook handler for processing billing events.
//
// Route:
//   - POST /api/stripe/webhook -> HandleStripeWebhook
//
// This route is PUBLIC because Stripe calls it directly.
// Authentication is via the Stripe webhook signature verification.
package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/DukeRupert/aptix/internal/billing"
	"github.com/DukeRupert/aptix/internal/domain"
	"github.com/DukeRupert/aptix/internal/metrics"
	"github.com/DukeRupert/aptix/internal/service"
)

const (
	maxWebhookBody = 64 << 10
	webhookTimeout = 10 * time.Second
)

// EventVerifier authenticates a raw webhook payload.
type EventVerifier interface {
	Verify(payload []byte, signatureHeader string) (domain.BillingEvent, error)
}

// WebhookHandler handles incoming webhook events from Stripe.
type WebhookHandler struct {
	verifier   EventVerifier
	ledger     billing.EventLedger
	reconciler service.Reconciler
	logger     *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
// ledger may be nil, in which case every delivery is processed.
func NewWebhookHandler(verifier EventVerifier, ledger billing.EventLedger, reconciler service.Reconciler, logger *slog.Logger) *WebhookHandler {
	if ledger == nil {
		ledger = billing.NopLedger{}
	}
	return &WebhookHandler{
		verifier:   verifier,
		ledger:     ledger,
		reconciler: reconciler,
		logger:     logger,
	}
}

// RegisterRoutes registers webhook routes on the provided mux.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/stripe/webhook", h.HandleStripeWebhook)
}

// HandleStripeWebhook verifies and reconciles one Stripe event.
// It answers 200 once the event is applied or intentionally dropped, 400 when
// the signature is invalid and 500 on any other failure so Stripe redelivers.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	// The body must reach the verifier byte for byte.
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
		return
	}
	if len(body) > maxWebhookBody {
		h.logger.Warn("webhook body too large", "size", len(body))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "request body too large"})
		return
	}

	event, err := h.verifier.Verify(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		metrics.BillingSignatureFailures.Inc()
		h.logger.Warn("webhook signature verification failed", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Webhook Error: " + domain.ErrorMessage(err)})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), webhookTimeout)
	defer cancel()

	meta := event.Meta()
	h.logger.Info("stripe webhook received", "type", meta.Type, "id", meta.ID)

	if meta.ID != "" {
		seen, err := h.ledger.Seen(ctx, meta.ID)
		if err != nil {
			h.logger.Warn("event ledger lookup failed", "error", err, "id", meta.ID)
		} else if seen {
			metrics.BillingEventHandled(string(event.Kind()), string(domain.OutcomeDuplicate))
			h.logger.Info("duplicate stripe event", "id", meta.ID)
			writeJSON(w, http.StatusOK, map[string]bool{"received": true})
			return
		}
	}

	if _, err := h.reconciler.Apply(ctx, event); err != nil {
		BillingErrorResponse(w, r, h.logger, internalFailure(err))
		return
	}

	if meta.ID != "" {
		if err := h.ledger.Mark(ctx, meta.ID); err != nil {
			h.logger.Warn("failed to record processed event", "error", err, "id", meta.ID)
		}
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// internalFailure reports any reconciliation failure as a 500 so the origin
// redelivers, keeping the message of the underlying error.
func internalFailure(err error) error {
	if domain.ErrorCode(err) == domain.EINTERNAL {
		return err
	}
	return &domain.Error{
		Code:    domain.EINTERNAL,
		Op:      domain.ErrorOp(err),
		Message: "failed to process webhook",
		Err:     err,
	}
}
