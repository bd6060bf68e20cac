package repository

import (
	"context"

	"github.com/DukeRupert/aptix/internal/domain"
)

// HistoryStore persists generation history metadata.
type HistoryStore struct {
	db DBTX
}

// NewHistoryStore creates a HistoryStore.
func NewHistoryStore(db DBTX) *HistoryStore {
	return &HistoryStore{db: db}
}

// InsertHistory records a generation.
func (s *HistoryStore) InsertHistory(ctx context.Context, e domain.HistoryEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO generation_history (id, user_id, kind, prompt, storage_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.UserID, string(e.Kind), e.Prompt, e.StorageKey, e.CreatedAt,
	)
	if err != nil {
		return domain.Unavailable(err, "repository.insert_history")
	}
	return nil
}

// ListHistory returns the newest entries of a user first.
func (s *HistoryStore) ListHistory(ctx context.Context, userID string, limit int) ([]domain.HistoryEntry, error) {
	const op = "repository.list_history"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, kind, prompt, storage_key, created_at
		FROM generation_history
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, domain.Unavailable(err, op)
	}
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		var (
			e    domain.HistoryEntry
			kind string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &kind, &e.Prompt, &e.StorageKey, &e.CreatedAt); err != nil {
			return nil, domain.Unavailable(err, op)
		}
		e.Kind = domain.GenerationKind(kind)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailable(err, op)
	}
	return entries, nil
}
