// Package ai defines the text generation provider behind the metered features.
package ai

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Provider generates text for a system prompt and a user prompt.
type Provider interface {
	Generate(ctx context.Context, params GenerateParams) (*GenerateResult, error)
}

type GenerateParams struct {
	SystemPrompt string // feature instructions
	Prompt       string
	UserID       string // forwarded to the provider for abuse tracking
}

type GenerateResult struct {
	Content string
	Usage   UsageInfo
}

// UsageInfo describes one provider call for metrics.
type UsageInfo struct {
	Model        string
	InputTokens  int
	OutputTokens int
	Duration     time.Duration
}

// ProviderConfig holds the retry policy shared by providers.
type ProviderConfig struct {
	MaxRetries     int
	RetryBaseDelay time.Duration
	RequestTimeout time.Duration // per attempt
}

// Provider failures. ErrRateLimited, ErrTimeout and ErrUnavailable are
// transient and retried.
var (
	ErrRateLimited   = errors.New("ai provider rate limit exceeded")
	ErrRejected      = errors.New("ai provider rejected the request")
	ErrTimeout       = errors.New("ai request timed out")
	ErrUnavailable   = errors.New("ai service temporarily unavailable")
	ErrUnauthorized  = errors.New("ai provider authentication failed")
	ErrEmptyResponse = errors.New("ai provider returned no content")
)

var transient = []error{ErrRateLimited, ErrTimeout, ErrUnavailable}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	for _, target := range transient {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Wrap prefixes err with the provider operation. A nil err stays nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("ai %s: %w", op, err)
}

// Backoff returns the delay before retry attempt n, counting from 1, as
// base doubled n-1 times.
func Backoff(base time.Duration, attempt int) time.Duration {
	return base << max(attempt-1, 0)
}
