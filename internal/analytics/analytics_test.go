package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycelian/mycelian-chat/internal/model"
	"github.com/mycelian/mycelian-chat/internal/store/memstore"
)

func TestAggregate_Empty(t *testing.T) {
	s := Aggregate(nil)
	assert.Equal(t, UserStats{FavoriteProvider: "None", FavoriteModel: "None"}, s)
}

func TestAggregate(t *testing.T) {
	s := Aggregate([]model.UsageRecord{
		{Provider: "Anthropic", Model: "claude", TotalTokens: 10, EstimatedCost: 0.00011},
		{Provider: "OpenAI", Model: "gpt-4", TotalTokens: 20, EstimatedCost: 0.00012},
		{Provider: "OpenAI", Model: "claude", TotalTokens: 5, EstimatedCost: 0.000004},
	})
	assert.Equal(t, 3, s.TotalRequests)
	assert.Equal(t, 35, s.TotalTokens)
	assert.Equal(t, 0.0002, s.TotalCost)
	assert.Equal(t, "OpenAI", s.FavoriteProvider)
	assert.Equal(t, "claude", s.FavoriteModel)
}

func TestAggregate_TieKeepsFirstSeen(t *testing.T) {
	s := Aggregate([]model.UsageRecord{
		{Provider: "Gemini", Model: "b"},
		{Provider: "OpenAI", Model: "a"},
	})
	assert.Equal(t, "Gemini", s.FavoriteProvider)
	assert.Equal(t, "b", s.FavoriteModel)
}

func TestStoreSink_LogAndStats(t *testing.T) {
	st := memstore.New()
	sink := NewStoreSink(st.Usage(), zerolog.Nop())
	now := time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)
	sink.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, sink.Log(ctx, model.UsageRecord{UserID: "u", Provider: "OpenAI", Model: "gpt-4", PromptTokens: 3, CompletionTokens: 4, EstimatedCost: 0.5}))
	require.NoError(t, sink.Log(ctx, model.UsageRecord{UserID: "u", Provider: "OpenAI", Model: "gpt-4", TotalTokens: 100, Timestamp: now.Add(-31 * 24 * time.Hour)}))
	require.NoError(t, sink.Log(ctx, model.UsageRecord{UserID: "other", Provider: "Gemini", Model: "g", TotalTokens: 1}))

	s := sink.Stats(ctx, "u")
	assert.Equal(t, 1, s.TotalRequests)
	assert.Equal(t, 7, s.TotalTokens)
	assert.Equal(t, 0.5, s.TotalCost)
	assert.Equal(t, "OpenAI", s.FavoriteProvider)

	assert.Equal(t, 0, sink.Stats(ctx, "nobody").TotalRequests)
	assert.NoError(t, NopSink{}.Log(ctx, model.UsageRecord{}))
}
