package domain

import (
	"errors"
	"fmt"
)

// Application error codes
const (
	EINVALID     = "invalid"           // Invalid input or validation failure
	ESIGNATURE   = "signature_invalid" // Inbound billing event failed verification
	EPAYMENT     = "payment"           // Paid plan required
	EQUOTA       = "quota_exceeded"    // Daily free-tier quota used up
	ENOTFOUND    = "not_found"         // Resource not found
	ECONFLICT    = "conflict"          // Concurrent or contradictory write
	EINTERNAL    = "internal"          // Internal server error
	EUNAVAILABLE = "unavailable"       // Datastore or upstream temporarily unavailable
)

// Sentinel errors carried in Error.Err so callers can match with errors.Is.
var (
	ErrSignatureInvalid = errors.New("billing event signature invalid")
	ErrUserNotFound     = errors.New("user not found")
	ErrInvalidPlan      = errors.New("invalid plan selection")
	ErrQuotaExceeded    = errors.New("daily quota exceeded")
	ErrUnknownPrice     = errors.New("price identifier is not mapped to a plan")
	ErrStoreUnavailable = errors.New("profile store unavailable")
	ErrConflict         = errors.New("concurrent modification")
	ErrCustomerMismatch = errors.New("billing customer already bound to a different reference")
)

// Error represents an application error with structured information.
type Error struct {
	Code    string // Machine-readable error code
	Op      string // Operation that failed (e.g., "usage.try_consume")
	Message string // Human-readable message
	Err     error  // Underlying error
}

// internalMessage is what clients see for any EINTERNAL error.
const internalMessage = "An internal error occurred. Please try again later."

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Message
	}
	return e.Op + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an Error without an underlying cause.
func Errorf(code, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code, operation and client-safe message to err.
func Wrap(err error, code, op, message string) *Error {
	return &Error{Code: code, Op: op, Message: message, Err: err}
}

// asError finds the outermost *Error in err's chain.
func asError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// ErrorCode returns the code of err. Errors from outside the domain
// report EINTERNAL and a nil error reports "".
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := asError(err); ok {
		return e.Code
	}
	return EINTERNAL
}

// ErrorMessage returns the message safe to show a client. Internal errors
// collapse to a generic message.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := asError(err); ok && e.Code != EINTERNAL {
		return e.Message
	}
	return internalMessage
}

// ErrorOp returns the operation recorded on err, if any.
func ErrorOp(err error) string {
	if e, ok := asError(err); ok {
		return e.Op
	}
	return ""
}

// NotFound reports a missing resource.
func NotFound(op, resource, id string) *Error {
	return Errorf(ENOTFOUND, op, "%s with ID %q not found", resource, id)
}

// UserNotFound reports a missing user profile.
func UserNotFound(op, id string) *Error {
	return Wrap(ErrUserNotFound, ENOTFOUND, op, fmt.Sprintf("user %q not found", id))
}

func Invalid(op, message string) *Error {
	return &Error{Code: EINVALID, Op: op, Message: message}
}

// InvalidPlan rejects a plan selection outside monthly and yearly.
func InvalidPlan(op string, plan string) *Error {
	return Wrap(ErrInvalidPlan, EINVALID, op, fmt.Sprintf("invalid plan type %q", plan))
}

// UnknownPrice rejects a price identifier missing from the price table.
func UnknownPrice(op, priceID string) *Error {
	return Wrap(ErrUnknownPrice, EINVALID, op, fmt.Sprintf("price %q is not mapped to a plan", priceID))
}

// SignatureInvalid reports an inbound billing event that failed verification.
// Both ErrSignatureInvalid and err match with errors.Is.
func SignatureInvalid(op string, err error) *Error {
	return Wrap(fmt.Errorf("%w: %w", ErrSignatureInvalid, err), ESIGNATURE, op, "signature verification failed")
}

func Conflict(op, message string) *Error {
	return Wrap(ErrConflict, ECONFLICT, op, message)
}

// Internal wraps an unexpected failure. Its message never reaches clients.
func Internal(err error, op, message string) *Error {
	return Wrap(err, EINTERNAL, op, message)
}

// Unavailable wraps a transient datastore or upstream failure.
func Unavailable(err error, op string) *Error {
	return Wrap(fmt.Errorf("%w: %w", ErrStoreUnavailable, err), EUNAVAILABLE, op,
		"The service is temporarily unavailable. Please try again.")
}

// PaymentRequired gates features reserved to paid plans.
func PaymentRequired(op, message string) *Error {
	return &Error{Code: EPAYMENT, Op: op, Message: message}
}

// QuotaExceeded describes a used-up daily quota.
func QuotaExceeded(op string, used, limit int) *Error {
	return Wrap(ErrQuotaExceeded, EQUOTA, op,
		fmt.Sprintf("Daily limit of %d uses reached on the free plan (%d used). Upgrade for unlimited use.", limit, used))
}
