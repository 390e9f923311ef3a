package estimator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePricing_MergesIntoDefaults(t *testing.T) {
	entries, err := ParsePricing([]byte(`
models:
  - provider: openai
    model: gpt-4
    input_per_1k: 0.02
    output_per_1k: 0.04
  - provider: OpenAI
    model: gpt-5
    input_per_1k: 0.00125
    output_per_1k: 0.01
`))
	require.NoError(t, err)
	assert.Len(t, entries, len(DefaultPricing())+1)

	e := New(WithOpenAIEncoder(nil), WithPricing(entries))
	est := e.EstimateCost(OpenAI, "gpt-4", 1000, 1000)
	assert.InDelta(t, 0.06, est.Cost, 1e-12)
	assert.True(t, e.IsModelSupported(OpenAI, "gpt-5"))
	assert.Equal(t, "gpt-5", e.Models(OpenAI)[len(e.Models(OpenAI))-1])
	assert.True(t, e.IsModelSupported(Gemini, "gemini-pro"), "untouched rows survive")
}

func TestParsePricing_Replace(t *testing.T) {
	entries, err := ParsePricing([]byte(`
replace: true
models:
  - {provider: Anthropic, model: claude-x, input_per_1k: 1, output_per_1k: 2}
`))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	e := New(WithOpenAIEncoder(nil), WithPricing(entries))
	assert.Equal(t, []string{Anthropic}, e.Providers())
}

func TestParsePricing_Rejects(t *testing.T) {
	_, err := ParsePricing([]byte("models:\n  - {provider: OpenAI, input_per_1k: 1}\n"))
	assert.Error(t, err)
	_, err = ParsePricing([]byte("models:\n  - {provider: OpenAI, model: m, input_per_1k: -1}\n"))
	assert.Error(t, err)
	_, err = ParsePricing([]byte("models: [unterminated"))
	assert.Error(t, err)
}

func TestLoadPricingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	require.NoError(t, os.WriteFile(path, []byte("models: []\n"), 0o644))
	entries, err := LoadPricingFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultPricing(), entries)

	_, err = LoadPricingFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultPricing_IsACopy(t *testing.T) {
	p := DefaultPricing()
	p[0].InputPer1K = 99
	assert.NotEqual(t, 99.0, DefaultPricing()[0].InputPer1K)
}
