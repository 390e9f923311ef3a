package provider

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/mycelian/mycelian-chat/internal/estimator"
)

var defaultModels = map[string]string{
	estimator.OpenAI:    "gpt-4.1",
	estimator.Anthropic: "claude-sonnet-4-20250514",
	estimator.Gemini:    "gemini-2.5-pro",
}

// DefaultModel returns the default model of a family, or "" when unknown.
func DefaultModel(providerName string) string {
	return defaultModels[estimator.CanonicalProvider(providerName)]
}

// Registry builds adapters. It holds no per-call state and is safe for concurrent use.
type Registry struct {
	est        *estimator.Estimator
	baseURLs   map[string]string
	httpClient *http.Client
}

type RegistryOption func(*Registry)

// WithBaseURL points one family at a different endpoint (proxies, tests).
func WithBaseURL(providerName, baseURL string) RegistryOption {
	return func(r *Registry) { r.baseURLs[estimator.CanonicalProvider(providerName)] = baseURL }
}

func WithHTTPClient(c *http.Client) RegistryOption {
	return func(r *Registry) { r.httpClient = c }
}

func NewRegistry(est *estimator.Estimator, opts ...RegistryOption) *Registry {
	if est == nil {
		est = estimator.New()
	}
	r := &Registry{est: est, baseURLs: make(map[string]string)}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Providers lists the supported families.
func (r *Registry) Providers() []string {
	return []string{estimator.OpenAI, estimator.Anthropic, estimator.Gemini}
}

// New builds the adapter for a family using the caller's key.
func (r *Registry) New(name, apiKey string) (Adapter, error) {
	key := strings.TrimSpace(apiKey)
	if key == "" {
		return nil, fmt.Errorf("%s: %w", name, ErrMissingAPIKey)
	}
	p := estimator.CanonicalProvider(name)
	switch p {
	case estimator.OpenAI:
		return newOpenAI(key, r.baseURLs[p], r.httpClient, r.est), nil
	case estimator.Anthropic:
		return newAnthropic(key, r.baseURLs[p], r.httpClient, r.est), nil
	case estimator.Gemini:
		return newGemini(key, r.baseURLs[p], r.httpClient, r.est), nil
	}
	return nil, fmt.Errorf("%q: %w", name, ErrUnknownProvider)
}
