package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mycelian/mycelian-chat/internal/model"
)

func TestClock_StrictlyIncreasing(t *testing.T) {
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewClockAt(func() time.Time { return fixed })
	a := c.Now()
	b := c.Now()
	assert.True(t, b.After(a))
	assert.Equal(t, Resolution, b.Sub(a))

	c.Observe(fixed.Add(time.Hour))
	assert.True(t, c.Now().After(fixed.Add(time.Hour)))
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float32{1}, []float32{1, 2}))
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 2}))
}

func TestRank_FiltersScopesAndCaps(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := func(id, user, conv string, vec []float32, i int) model.MemoryRecord {
		return model.MemoryRecord{ID: id, UserID: user, ConversationID: conv, Embedding: vec, CreatedAt: base.Add(time.Duration(i) * time.Second)}
	}
	cands := []model.MemoryRecord{
		rec("exact", "u", "c1", []float32{1, 0}, 0),
		rec("close", "u", "c2", []float32{1, 0.2}, 1),
		rec("far", "u", "c1", []float32{0, 1}, 2),
		rec("other-user", "v", "c1", []float32{1, 0}, 3),
		rec("exact-newer", "u", "c1", []float32{2, 0}, 4),
	}

	got := Rank(cands, SimilarQuery{UserID: "u", Vector: []float32{1, 0}, K: 10, Threshold: 0.7})
	ids := make([]string, 0, len(got))
	for _, m := range got {
		ids = append(ids, m.Record.ID)
		assert.GreaterOrEqual(t, m.Similarity, 0.7)
	}
	assert.Equal(t, []string{"exact-newer", "exact", "close"}, ids)

	got = Rank(cands, SimilarQuery{UserID: "u", ConversationID: "c1", Vector: []float32{1, 0}, K: 1, Threshold: 0.7})
	assert.Len(t, got, 1)
	assert.Equal(t, "exact-newer", got[0].Record.ID)

	assert.Empty(t, Rank(cands, SimilarQuery{UserID: "u", Vector: []float32{1, 0}, K: 0}))
}
