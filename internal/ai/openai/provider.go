// Package openai implements ai.Provider on any OpenAI-compatible chat
// completions API (OpenAI, Groq, ...).
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/DukeRupert/aptix/internal/ai"
	goopenai "github.com/sashabaranov/go-openai"
)

const (
	// DefaultModel is the default chat model
	DefaultModel = goopenai.GPT4oMini

	// DefaultMaxTokens caps the length of a generated response
	DefaultMaxTokens = 2048

	defaultTemperature = 0.7
)

// Config contains configuration for the OpenAI-compatible provider
type Config struct {
	APIKey         string
	BaseURL        string // empty uses the OpenAI endpoint
	Model          string
	MaxTokens      int
	ProviderConfig ai.ProviderConfig
}

// Provider implements ai.Provider with go-openai
type Provider struct {
	config Config
	client *goopenai.Client
	logger *slog.Logger
}

// New creates a new OpenAI-compatible provider
func New(config Config, logger *slog.Logger) (*Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	// Set defaults
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = DefaultMaxTokens
	}
	if config.ProviderConfig.MaxRetries == 0 {
		config.ProviderConfig.MaxRetries = 3
	}
	if config.ProviderConfig.RetryBaseDelay == 0 {
		config.ProviderConfig.RetryBaseDelay = 1 * time.Second
	}
	if config.ProviderConfig.RequestTimeout == 0 {
		config.ProviderConfig.RequestTimeout = 60 * time.Second
	}

	clientConfig := goopenai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{Timeout: config.ProviderConfig.RequestTimeout}

	return &Provider{
		config: config,
		client: goopenai.NewClientWithConfig(clientConfig),
		logger: logger,
	}, nil
}

// Generate runs a chat completion with the system prompt and user prompt
func (p *Provider) Generate(ctx context.Context, params ai.GenerateParams) (*ai.GenerateResult, error) {
	startTime := time.Now()

	req := goopenai.ChatCompletionRequest{
		Model: p.config.Model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: params.SystemPrompt},
			{Role: goopenai.ChatMessageRoleUser, Content: params.Prompt},
		},
		Temperature: defaultTemperature,
		MaxTokens:   p.config.MaxTokens,
		User:        params.UserID,
	}

	resp, err := p.executeWithRetry(ctx, req)
	if err != nil {
		return nil, ai.Wrap("generate", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, ai.Wrap("generate", ai.ErrEmptyResponse)
	}

	return &ai.GenerateResult{
		Content: resp.Choices[0].Message.Content,
		Usage: ai.UsageInfo{
			Model:        resp.Model,
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			Duration:     time.Since(startTime),
		},
	}, nil
}

// executeWithRetry runs a completion with exponential backoff on transient errors
func (p *Provider) executeWithRetry(ctx context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error) {
	var lastErr error

	for attempt := 1; attempt <= p.config.ProviderConfig.MaxRetries; attempt++ {
		resp, err := p.client.CreateChatCompletion(ctx, req)
		if err == nil {
			return resp, nil
		}

		lastErr = mapError(ctx, err)

		// Only retry on retryable errors
		if !ai.IsRetryable(lastErr) {
			return goopenai.ChatCompletionResponse{}, lastErr
		}

		if attempt >= p.config.ProviderConfig.MaxRetries {
			break
		}

		delay := ai.Backoff(p.config.ProviderConfig.RetryBaseDelay, attempt)
		p.logger.Info("Retrying AI request", "attempt", attempt, "delay", delay, "error", lastErr)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return goopenai.ChatCompletionResponse{}, ctx.Err()
		}
	}

	return goopenai.ChatCompletionResponse{}, lastErr
}

// mapError maps go-openai errors to ai errors
func mapError(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ai.ErrTimeout, err)
	}

	status := 0
	var apiErr *goopenai.APIError
	var reqErr *goopenai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	default:
		// Network errors are typically retryable
		return fmt.Errorf("%w: %v", ai.ErrUnavailable, err)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ai.ErrUnauthorized
	case status == http.StatusTooManyRequests:
		return ai.ErrRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ai.ErrTimeout
	case status >= 500:
		return fmt.Errorf("%w: status %d", ai.ErrUnavailable, status)
	default:
		return fmt.Errorf("%w: %v", ai.ErrRejected, err)
	}
}
