// Package searchindex mirrors conversation records into an external vector
// index (Weaviate) for recall when the primary store is Postgres.
package searchindex

import (
	"context"
	"time"

	"github.com/mycelian/mycelian-chat/internal/model"
)

// Query scopes a nearest-neighbour lookup. An empty ConversationID searches
// every conversation of the user.
type Query struct {
	UserID         string
	ConversationID string
	Vector         []float32
	K              int
	Threshold      float64
}

// Index provides vector search and index maintenance. Tenancy is per user.
type Index interface {
	Search(ctx context.Context, q Query) ([]model.RecallMatch, error)
	Upsert(ctx context.Context, recs ...model.MemoryRecord) error
	DeleteConversation(ctx context.Context, userID, conversationID string) error
	// DeleteUpTo removes records with CreatedAt <= upTo.
	DeleteUpTo(ctx context.Context, userID, conversationID string, upTo time.Time) error
}
