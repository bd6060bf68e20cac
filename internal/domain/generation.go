package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerationKind selects the system prompt used for a generation request.
type GenerationKind string

const (
	KindCurriculum      GenerationKind = "curriculum"
	KindCoverLetter     GenerationKind = "cover_letter"
	KindCustomerService GenerationKind = "customer_service"
	KindDocuments       GenerationKind = "documents"
	KindBot             GenerationKind = "bot"
)

// ParseGenerationKind maps a request value to a kind. Unknown and empty
// values fall back to KindBot.
func ParseGenerationKind(s string) GenerationKind {
	switch k := GenerationKind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindCurriculum, KindCoverLetter, KindCustomerService, KindDocuments:
		return k
	default:
		return KindBot
	}
}

// HistoryEntry is a generation archived for a paid user.
type HistoryEntry struct {
	ID         uuid.UUID      `json:"id"`
	UserID     string         `json:"userId"`
	Kind       GenerationKind `json:"kind"`
	Prompt     string         `json:"prompt"`
	StorageKey string         `json:"-"`
	CreatedAt  time.Time      `json:"createdAt"`
	// Output is the archived content, loaded from object storage when the
	// history is listed. Empty when the object is gone.
	Output string `json:"output"`
}
