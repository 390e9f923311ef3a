package store

import (
	"context"
	"time"

	"github.com/mycelian/mycelian-chat/internal/model"
)

// Store exposes persistence operations required by the memory layer.
// Implementations live under internal/store/<driver>/ (memstore, sqlite, postgres).
type Store interface {
	Records() Records
	Summaries() Summaries
	Usage() Usage
}

// SimilarQuery scopes a similarity search. An empty ConversationID searches
// every conversation of the user.
type SimilarQuery struct {
	UserID         string
	ConversationID string
	Vector         []float32
	K              int
	Threshold      float64
}

// Records holds the per-turn memory. Every operation is scoped by user and,
// except ConversationIDs, by conversation.
type Records interface {
	// Insert assigns ID and CreatedAt when unset and returns the stored record.
	Insert(ctx context.Context, r *model.MemoryRecord) (*model.MemoryRecord, error)
	Similar(ctx context.Context, q SimilarQuery) ([]model.RecallMatch, error)
	// List returns the oldest records first, at most limit of them.
	List(ctx context.Context, userID, conversationID string, limit int) ([]model.MemoryRecord, error)
	// Recent returns the newest limit records, ordered oldest first.
	Recent(ctx context.Context, userID, conversationID string, limit int) ([]model.MemoryRecord, error)
	Count(ctx context.Context, userID, conversationID string) (int, error)
	DeleteConversation(ctx context.Context, userID, conversationID string) (int, error)
	// DeleteUpTo removes records with CreatedAt <= upTo.
	DeleteUpTo(ctx context.Context, userID, conversationID string, upTo time.Time) (int, error)
	// ConversationIDs lists distinct conversations, most recently active first.
	ConversationIDs(ctx context.Context, userID string) ([]string, error)
}

type Summaries interface {
	Create(ctx context.Context, s *model.ConversationSummary) (*model.ConversationSummary, error)
	List(ctx context.Context, userID, conversationID string) ([]model.ConversationSummary, error)
}

type Usage interface {
	Append(ctx context.Context, r *model.UsageRecord) error
	Since(ctx context.Context, userID string, since time.Time) ([]model.UsageRecord, error)
}
