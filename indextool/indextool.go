// Package indextool inspects and backfills the Weaviate conversation index.
package indextool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mycelian/mycelian-chat/internal/embeddings"
	"github.com/mycelian/mycelian-chat/internal/model"
	"github.com/mycelian/mycelian-chat/internal/searchindex"
	"github.com/mycelian/mycelian-chat/internal/store"
)

const defaultBatch = 50

// Query embeds query and returns the index matches as indented JSON. An empty
// conversationID searches every conversation of the user.
func Query(ctx context.Context, idx searchindex.Index, emb embeddings.Provider, userID, conversationID, query string, topK int, threshold float64) ([]byte, error) {
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if userID == "" {
		return nil, fmt.Errorf("user is required")
	}
	if topK <= 0 {
		topK = 5
	}

	vec, err := emb.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	matches, err := idx.Search(ctx, searchindex.Query{
		UserID:         userID,
		ConversationID: conversationID,
		Vector:         vec,
		K:              topK,
		Threshold:      threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	for i := range matches {
		matches[i].Record.Embedding = nil
	}
	if matches == nil {
		matches = []model.RecallMatch{}
	}
	return json.MarshalIndent(matches, "", "  ")
}

// Reindex copies every stored record of userID into the index, embedding
// records stored without a vector. It returns the number of records upserted.
func Reindex(ctx context.Context, recs store.Records, idx searchindex.Index, emb embeddings.Provider, userID string, batch int, log zerolog.Logger) (int, error) {
	if userID == "" {
		return 0, fmt.Errorf("user is required")
	}
	if batch <= 0 {
		batch = defaultBatch
	}
	convs, err := recs.ConversationIDs(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list conversations: %w", err)
	}

	total := 0
	for _, conv := range convs {
		rows, err := recs.List(ctx, userID, conv, 0)
		if err != nil {
			return total, fmt.Errorf("list %s: %w", conv, err)
		}
		for start := 0; start < len(rows); start += batch {
			end := start + batch
			if end > len(rows) {
				end = len(rows)
			}
			chunk := rows[start:end]
			for i := range chunk {
				if len(chunk[i].Embedding) > 0 || emb == nil {
					continue
				}
				if chunk[i].Embedding, err = emb.Embed(ctx, chunk[i].Content); err != nil {
					return total, fmt.Errorf("embed record %s: %w", chunk[i].ID, err)
				}
			}
			if err := idx.Upsert(ctx, chunk...); err != nil {
				return total, fmt.Errorf("upsert %s: %w", conv, err)
			}
			total += len(chunk)
		}
		log.Info().Str("user_id", userID).Str("conversation_id", conv).Int("records", len(rows)).Msg("conversation reindexed")
	}
	return total, nil
}
