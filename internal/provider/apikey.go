package provider

import (
	"strings"

	"github.com/mycelian/mycelian-chat/internal/estimator"
)

const minKeyLength = 10

// ValidateAPIKey applies the per-family key format checks. It never calls the provider.
func ValidateAPIKey(providerName, key string) bool {
	key = strings.TrimSpace(key)
	if len(key) < minKeyLength {
		return false
	}
	switch estimator.CanonicalProvider(providerName) {
	case estimator.OpenAI:
		return strings.HasPrefix(key, "sk-")
	case estimator.Anthropic:
		return strings.HasPrefix(key, "sk-ant-")
	case estimator.Gemini:
		return len(key) > 20
	}
	return true
}
