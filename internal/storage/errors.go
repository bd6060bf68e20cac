package storage

import (
	"errors"
	"fmt"
)

// Errors returned by every Storage implementation, wrapped in an *OpError.
var (
	ErrNotFound     = errors.New("object not found")
	ErrKeyExists    = errors.New("object already exists at this key")
	ErrInvalidKey   = errors.New("invalid storage key")
	ErrTooLarge     = errors.New("object exceeds maximum size")
	ErrAccessDenied = errors.New("access denied")
)

// Operation names recorded on OpError.
const (
	opPut    = "put"
	opGet    = "get"
	opDelete = "delete"
	opExists = "exists"
)

// OpError records the operation and key of a failed storage call.
type OpError struct {
	Op  string
	Key string
	Err error
}

func opError(op, key string, err error) *OpError {
	return &OpError{Op: op, Key: key, Err: err}
}

func (e *OpError) Error() string {
	if e.Key == "" {
		return "storage " + e.Op + ": " + e.Err.Error()
	}
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
