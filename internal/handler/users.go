// Package handler contains HTTP handlers for the aptix API.
//
// Routes handled:
//   - POST /api/users            -> EnsureUser
//   - GET  /api/users/{id}/plan  -> GetPlan
package handler

import (
	"log/slog"
	"net/http"

	"github.com/DukeRupert/aptix/internal/service"
)

// UserHandler handles user plan record requests.
type UserHandler struct {
	users  service.UserService
	logger *slog.Logger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(users service.UserService, logger *slog.Logger) *UserHandler {
	return &UserHandler{users: users, logger: logger}
}

// RegisterRoutes registers user routes on the provided mux.
func (h *UserHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/users", h.EnsureUser)
	mux.HandleFunc("GET /api/users/{id}/plan", h.GetPlan)
}

type ensureUserRequest struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// EnsureUser creates the plan record on first authentication.
func (h *UserHandler) EnsureUser(w http.ResponseWriter, r *http.Request) {
	var req ensureUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	view, err := h.users.EnsureUser(r.Context(), req.UserID, req.Email)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetPlan returns the plan view of a user.
func (h *UserHandler) GetPlan(w http.ResponseWriter, r *http.Request) {
	view, err := h.users.GetPlan(r.Context(), r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
