package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/DukeRupert/aptix/internal/domain"
	"github.com/DukeRupert/aptix/internal/middleware"
)

// statusByCode maps domain error codes to HTTP status codes. Unknown codes
// are reported as 500.
var statusByCode = map[string]int{
	domain.EINVALID:     http.StatusBadRequest,
	domain.ESIGNATURE:   http.StatusBadRequest,
	domain.EPAYMENT:     http.StatusPaymentRequired,
	domain.EQUOTA:       http.StatusPaymentRequired,
	domain.ENOTFOUND:    http.StatusNotFound,
	domain.ECONFLICT:    http.StatusConflict,
	domain.EINTERNAL:    http.StatusInternalServerError,
	domain.EUNAVAILABLE: http.StatusServiceUnavailable,
}

// ErrorCodeToHTTPStatus maps domain error codes to HTTP status codes.
func ErrorCodeToHTTPStatus(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// JSONError is the error envelope of the API routes.
type JSONError struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"requestId,omitempty"`
	} `json:"error"`
}

// ErrorResponse logs err and writes it as a JSON error envelope with the
// status matching its domain code. Internal details never reach the client.
func ErrorResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	code := domain.ErrorCode(err)
	status := ErrorCodeToHTTPStatus(code)
	logError(logger, r, err, code, status)

	var body JSONError
	body.Error.Code = code
	body.Error.Message = domain.ErrorMessage(err)
	body.Error.RequestID = middleware.RequestID(r.Context())
	writeJSON(w, status, body)
}

// BillingErrorResponse writes the flat {"error": "<message>"} body the
// frontend expects from the Stripe routes.
func BillingErrorResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	code := domain.ErrorCode(err)
	status := ErrorCodeToHTTPStatus(code)
	logError(logger, r, err, code, status)

	writeJSON(w, status, map[string]string{"error": domain.ErrorMessage(err)})
}

// NotFoundResponse answers requests no route matched.
func NotFoundResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger) {
	ErrorResponse(w, r, logger, domain.Errorf(domain.ENOTFOUND, "", "The requested resource was not found"))
}

// logError logs 5xx at error level and 4xx at info.
func logError(logger *slog.Logger, r *http.Request, err error, code string, status int) {
	attrs := []any{
		"error", err.Error(),
		"code", code,
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
	}
	if op := domain.ErrorOp(err); op != "" {
		attrs = append(attrs, "op", op)
	}
	if id := middleware.RequestID(r.Context()); id != "" {
		attrs = append(attrs, "request_id", id)
	}

	if status >= http.StatusInternalServerError {
		logger.Error("server error", attrs...)
		return
	}
	logger.Info("client error", attrs...)
}

// writeJSON writes v as a JSON response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// maxJSONBody bounds request bodies decoded by decodeJSON.
const maxJSONBody = 1 << 20

// decodeJSON decodes a JSON request body into v. Unknown fields are allowed.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.Invalid("handler.decode_json", "Invalid JSON body")
	}
	return nil
}
