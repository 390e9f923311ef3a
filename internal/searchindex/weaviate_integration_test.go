package searchindex

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/mycelian/mycelian-chat/internal/model"
)

// Requires a running Weaviate; set CHAT_MEMORY_WEAVIATE_URL=localhost:8082.
func TestWeaviateIndex_Integration(t *testing.T) {
	url := os.Getenv("CHAT_MEMORY_WEAVIATE_URL")
	if url == "" {
		t.Skip("CHAT_MEMORY_WEAVIATE_URL not set")
	}
	ctx := context.Background()
	require.NoError(t, BootstrapWeaviate(ctx, url))
	idx, err := NewWeaviateIndex(url)
	require.NoError(t, err)

	user := "it-" + uuid.NewString()
	conv := uuid.NewString()
	base := time.Now().UTC().Truncate(time.Millisecond)
	recs := []model.MemoryRecord{
		{ID: uuid.NewString(), UserID: user, ConversationID: conv, Role: model.RoleUser, Content: "old", Embedding: []float32{1, 0, 0}, CreatedAt: base},
		{ID: uuid.NewString(), UserID: user, ConversationID: conv, Role: model.RoleAssistant, Content: "new", Embedding: []float32{0.9, 0.1, 0}, CreatedAt: base.Add(time.Second)},
	}
	require.NoError(t, idx.Upsert(ctx, recs...))

	require.Eventually(t, func() bool {
		got, err := idx.Search(ctx, Query{UserID: user, ConversationID: conv, Vector: []float32{1, 0, 0}, K: 5, Threshold: 0.5})
		return err == nil && len(got) == 2
	}, 10*time.Second, 200*time.Millisecond)

	require.NoError(t, idx.DeleteUpTo(ctx, user, conv, base))
	require.Eventually(t, func() bool {
		got, err := idx.Search(ctx, Query{UserID: user, ConversationID: conv, Vector: []float32{1, 0, 0}, K: 5, Threshold: 0.5})
		return err == nil && len(got) == 1 && got[0].Record.Content == "new"
	}, 10*time.Second, 200*time.Millisecond)

	require.NoError(t, idx.DeleteConversation(ctx, user, conv))
}
