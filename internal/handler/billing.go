// Package handler contains HTTP handlers for the aptix API.
//
// This file implements the hosted Stripe session handlers.
//
// Routes handled:
//   - POST /api/stripe/create-checkout -> CreateCheckout
//   - POST /api/stripe/create-portal   -> CreatePortal
package handler

import (
	"log/slog"
	"net/http"

	"github.com/DukeRupert/aptix/internal/service"
)

// BillingHandler handles checkout and billing portal requests.
type BillingHandler struct {
	checkout service.CheckoutService
	logger   *slog.Logger
}

// NewBillingHandler creates a new BillingHandler.
func NewBillingHandler(checkout service.CheckoutService, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{
		checkout: checkout,
		logger:   logger,
	}
}

// RegisterRoutes registers billing routes on the provided mux.
func (h *BillingHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/stripe/create-checkout", h.CreateCheckout)
	mux.HandleFunc("POST /api/stripe/create-portal", h.CreatePortal)
}

type checkoutRequest struct {
	PlanType string `json:"planType"`
	UserID   string `json:"userId"`
}

type portalRequest struct {
	UserID string `json:"userId"`
}

type sessionResponse struct {
	URL string `json:"url"`
}

// CreateCheckout creates a Stripe Checkout session for the requested plan.
func (h *BillingHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BillingErrorResponse(w, r, h.logger, err)
		return
	}

	url, err := h.checkout.CreateCheckout(r.Context(), req.UserID, req.PlanType)
	if err != nil {
		BillingErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{URL: url})
}

// CreatePortal creates a Stripe Customer Portal session.
func (h *BillingHandler) CreatePortal(w http.ResponseWriter, r *http.Request) {
	var req portalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BillingErrorResponse(w, r, h.logger, err)
		return
	}

	url, err := h.checkout.CreatePortal(r.Context(), req.UserID)
	if err != nil {
		BillingErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{URL: url})
}
