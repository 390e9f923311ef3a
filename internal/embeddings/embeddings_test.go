package embeddings

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestHash_DeterministicAndNormalised(t *testing.T) {
	h := NewHash(0)
	a, err := h.Embed(context.Background(), "The capital of France is Paris")
	require.NoError(t, err)
	b, _ := h.Embed(context.Background(), "the capital of france is paris!")
	assert.Len(t, a, DefaultHashDimensions)
	assert.Equal(t, a, b)
	assert.InDelta(t, 1.0, cosine(a, a), 1e-6)
}

func TestHash_SharedWordsAreCloser(t *testing.T) {
	h := NewHash(512)
	ctx := context.Background()
	q, _ := h.Embed(ctx, "favorite color blue")
	near, _ := h.Embed(ctx, "my favorite color is blue")
	far, _ := h.Embed(ctx, "quarterly tax filing deadline")
	assert.Greater(t, cosine(q, near), cosine(q, far))
}

func TestHash_EmptyTextIsZeroVector(t *testing.T) {
	v, err := NewHash(8).Embed(context.Background(), "  ...  ")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 8), v)
}

type failingProvider struct{}

func (failingProvider) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("down")
}

func TestNewHealthChecker(t *testing.T) {
	ok := NewHealthChecker(NewHash(4), zerolog.Nop(), time.Second)
	ok.Probe(context.Background())
	assert.True(t, ok.IsHealthy())
	assert.Equal(t, "embedder", ok.Name())

	bad := NewHealthChecker(failingProvider{}, zerolog.Nop(), time.Second)
	bad.Probe(context.Background())
	assert.False(t, bad.IsHealthy())
}
