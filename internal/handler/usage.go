// Package handler contains HTTP handlers for the aptix API.
//
// Routes handled:
//   - GET  /api/usage          -> GetUsage
//   - POST /api/usage/consume  -> Consume
//   - POST /api/generate       -> Generate
//   - GET  /api/history        -> History
package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/DukeRupert/aptix/internal/domain"
	"github.com/DukeRupert/aptix/internal/service"
)

// UsageHandler handles metered feature requests.
type UsageHandler struct {
	meter      service.UsageMeter
	generation service.GenerationService
	logger     *slog.Logger
}

// NewUsageHandler creates a new UsageHandler.
func NewUsageHandler(meter service.UsageMeter, generation service.GenerationService, logger *slog.Logger) *UsageHandler {
	return &UsageHandler{
		meter:      meter,
		generation: generation,
		logger:     logger,
	}
}

// RegisterRoutes registers usage routes on the provided mux. The generate
// route is wrapped with limit, which may be nil.
func (h *UsageHandler) RegisterRoutes(mux *http.ServeMux, limit func(http.Handler) http.Handler) {
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}
	mux.HandleFunc("GET /api/usage", h.GetUsage)
	mux.HandleFunc("POST /api/usage/consume", h.Consume)
	mux.Handle("POST /api/generate", limit(http.HandlerFunc(h.Generate)))
	mux.HandleFunc("GET /api/history", h.History)
}

type consumeRequest struct {
	UserID string `json:"userId"`
}

type consumeResponse struct {
	Allowed bool `json:"allowed"`
	Used    int  `json:"used"`
	Limit   int  `json:"limit"`
}

type generateRequest struct {
	UserID string `json:"userId"`
	Kind   string `json:"kind"`
	Prompt string `json:"prompt"`
}

// GetUsage returns today's usage for the userId query parameter.
func (h *UsageHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := h.meter.Usage(r.Context(), r.URL.Query().Get("userId"))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

// Consume spends one unit of the daily quota.
func (h *UsageHandler) Consume(w http.ResponseWriter, r *http.Request) {
	const op = "handler.consume"

	var req consumeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	decision, err := h.meter.TryConsume(r.Context(), req.UserID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if !decision.Allowed {
		ErrorResponse(w, r, h.logger, domain.QuotaExceeded(op, decision.Used, decision.Limit))
		return
	}

	writeJSON(w, http.StatusOK, consumeResponse{Allowed: true, Used: decision.Used, Limit: decision.Limit})
}

// Generate runs a metered content generation.
func (h *UsageHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	result, err := h.generation.Generate(r.Context(), service.GenerateParams{
		UserID: req.UserID,
		Kind:   req.Kind,
		Prompt: req.Prompt,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// History lists a paid user's archived generations.
func (h *UsageHandler) History(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	entries, err := h.generation.History(r.Context(), q.Get("userId"), limit)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}
