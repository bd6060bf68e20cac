package service

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/DukeRupert/aptix/internal/ai"
	"github.com/DukeRupert/aptix/internal/domain"
	"github.com/DukeRupert/aptix/internal/metrics"
	"github.com/DukeRupert/aptix/internal/storage"
	"github.com/google/uuid"
)

const (
	// MaxPromptLength caps the user input forwarded to the AI provider.
	MaxPromptLength = 8000

	// DefaultHistoryLimit is the page size of History when none is given.
	DefaultHistoryLimit = 20

	maxHistoryLimit   = 100
	maxArchivedLength = 1 << 20
)

// GenerateParams is a metered generation request.
type GenerateParams struct {
	UserID string
	Kind   string
	Prompt string
}

// GenerateResult is the generated content.
type GenerateResult struct {
	Content string                `json:"content"`
	Kind    domain.GenerationKind `json:"kind"`
	Usage   domain.UsageDecision  `json:"-"`
}

// GenerationService runs metered AI generations.
type GenerationService interface {
	// Generate consumes one unit of quota and then calls the AI provider.
	// Returns domain.EQUOTA when the daily limit is reached.
	Generate(ctx context.Context, params GenerateParams) (*GenerateResult, error)

	// History lists a paid user's archived generations, newest first.
	// Returns domain.EPAYMENT for free users.
	History(ctx context.Context, userID string, limit int) ([]domain.HistoryEntry, error)
}

type generationService struct {
	store    ProfileStore
	history  HistoryStore
	meter    UsageMeter
	provider ai.Provider
	storage  storage.Storage
	logger   *slog.Logger
}

// NewGenerationService creates a new GenerationService.
func NewGenerationService(store ProfileStore, history HistoryStore, meter UsageMeter, provider ai.Provider, objects storage.Storage, logger *slog.Logger) GenerationService {
	return &generationService{
		store:    store,
		history:  history,
		meter:    meter,
		provider: provider,
		storage:  objects,
		logger:   logger,
	}
}

func (s *generationService) Generate(ctx context.Context, params GenerateParams) (*GenerateResult, error) {
	const op = "generation.generate"

	prompt := strings.TrimSpace(params.Prompt)
	if params.UserID == "" {
		return nil, domain.Invalid(op, "userId is required")
	}
	if prompt == "" {
		return nil, domain.Invalid(op, "prompt is required")
	}
	if len(prompt) > MaxPromptLength {
		return nil, domain.Errorf(domain.EINVALID, op, "prompt must be %d characters or less", MaxPromptLength)
	}
	kind := domain.ParseGenerationKind(params.Kind)

	decision, err := s.meter.TryConsume(ctx, params.UserID)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, domain.QuotaExceeded(op, decision.Used, decision.Limit)
	}

	start := time.Now()
	result, err := s.provider.Generate(ctx, ai.GenerateParams{
		SystemPrompt: ai.SystemPrompt(kind),
		Prompt:       prompt,
		UserID:       params.UserID,
	})
	if err != nil {
		metrics.AICallFailed()
		s.logger.Error("ai generation failed", "error", err, "user_id", params.UserID, "kind", kind)
		return nil, domain.Wrap(err, domain.EUNAVAILABLE, op, "Content generation is temporarily unavailable. Please try again.")
	}
	duration := result.Usage.Duration
	if duration == 0 {
		duration = time.Since(start)
	}
	metrics.AICallCompleted(duration, result.Usage.InputTokens, result.Usage.OutputTokens)

	// Unlimited decisions come from an active paid plan.
	if decision.Limit == 0 {
		s.archive(ctx, params.UserID, kind, prompt, result.Content)
	}

	return &GenerateResult{Content: result.Content, Kind: kind, Usage: decision}, nil
}

// archive stores a paid user's generation. Failures are logged only; the
// user already has the content.
func (s *generationService) archive(ctx context.Context, userID string, kind domain.GenerationKind, prompt, content string) {
	if s.storage == nil || s.history == nil {
		return
	}

	id := uuid.New()
	key := storage.HistoryKey(userID, id)
	err := s.storage.Put(ctx, key, strings.NewReader(content), storage.PutOptions{MaxSize: maxArchivedLength})
	if err != nil {
		s.logger.Warn("failed to archive generation", "error", err, "user_id", userID, "key", key)
		return
	}

	entry := domain.HistoryEntry{
		ID:         id,
		UserID:     userID,
		Kind:       kind,
		Prompt:     prompt,
		StorageKey: key,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.history.InsertHistory(ctx, entry); err != nil {
		s.logger.Warn("failed to record generation history", "error", err, "user_id", userID, "id", id)
		if delErr := s.storage.Delete(ctx, key); delErr != nil {
			s.logger.Warn("failed to remove orphaned archive", "error", delErr, "key", key)
		}
	}
}

func (s *generationService) History(ctx context.Context, userID string, limit int) ([]domain.HistoryEntry, error) {
	const op = "generation.history"

	if userID == "" {
		return nil, domain.Invalid(op, "userId is required")
	}
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > maxHistoryLimit:
		limit = maxHistoryLimit
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.HasUnlimitedUsage() {
		return nil, domain.PaymentRequired(op, "Generation history is available on paid plans.")
	}

	entries, err := s.history.ListHistory(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	for i := range entries {
		output, err := s.readArchive(ctx, entries[i].StorageKey)
		if err != nil {
			return nil, domain.Wrap(err, domain.EUNAVAILABLE, op, "Generation history is temporarily unavailable. Please try again.")
		}
		entries[i].Output = output
	}
	return entries, nil
}

// readArchive loads the archived content at key. A missing object yields
// an empty string so one lost archive does not hide the whole history.
func (s *generationService) readArchive(ctx context.Context, key string) (string, error) {
	if s.storage == nil || key == "" {
		return "", nil
	}
	rc, _, err := s.storage.Get(ctx, key)
	if storage.IsNotFound(err) {
		s.logger.Warn("archived generation is missing", "key", key)
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer rc.Close()

	body, err := io.ReadAll(io.LimitReader(rc, maxArchivedLength))
	if err != nil {
		return "", err
	}
	return string(body), nil
}
