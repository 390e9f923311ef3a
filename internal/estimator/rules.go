package estimator

import "strings"

// fuzzyRule selects a substitute pricing entry for a model name missing from
// the table. A rule claims a model when any family keyword is a substring of
// the lower-cased name; its variants are then tried in order and the first
// whose keywords match (or that has none) wins. Once a rule claims a model no
// later rule is consulted, so a claimed model with no matching variant stays
// unpriced.
type fuzzyRule struct {
	provider string
	family   []string
	variants []fuzzyVariant
}

type fuzzyVariant struct {
	anyOf  []string
	target string
}

// fuzzyRules is ordered most specific first within each provider.
var fuzzyRules = []fuzzyRule{
	{provider: OpenAI, family: []string{"gpt-4.1"}, variants: []fuzzyVariant{
		{anyOf: []string{"mini"}, target: "gpt-4.1-mini"},
		{anyOf: []string{"nano"}, target: "gpt-4.1-nano"},
		{target: "gpt-4.1"},
	}},
	{provider: OpenAI, family: []string{"o3"}, variants: []fuzzyVariant{
		{anyOf: []string{"pro"}, target: "o3-pro"},
		{target: "o3"},
	}},
	{provider: OpenAI, family: []string{"gpt-4o"}, variants: []fuzzyVariant{{target: "gpt-4o"}}},
	{provider: OpenAI, family: []string{"o4-mini"}, variants: []fuzzyVariant{{target: "o4-mini-deep-research"}}},
	{provider: OpenAI, family: []string{"gpt-4"}, variants: []fuzzyVariant{{target: "gpt-4"}}},

	{provider: Anthropic, family: []string{"claude-4", "sonnet-4"}, variants: []fuzzyVariant{{target: "claude-sonnet-4-20250514"}}},
	{provider: Anthropic, family: []string{"opus-4"}, variants: []fuzzyVariant{{target: "claude-opus-4-20250514"}}},
	{provider: Anthropic, family: []string{"claude-3"}, variants: []fuzzyVariant{
		{anyOf: []string{"opus"}, target: "claude-3-opus-20240229"},
		{anyOf: []string{"sonnet"}, target: "claude-3-sonnet-20240229"},
		{anyOf: []string{"haiku"}, target: "claude-3-haiku-20240307"},
	}},

	{provider: Gemini, family: []string{"2.5"}, variants: []fuzzyVariant{
		{anyOf: []string{"pro"}, target: "gemini-2.5-pro"},
		{anyOf: []string{"flash-lite", "lite"}, target: "gemini-2.5-flash-lite"},
		{anyOf: []string{"flash"}, target: "gemini-2.5-flash"},
	}},
	{provider: Gemini, family: []string{"2.0"}, variants: []fuzzyVariant{
		{anyOf: []string{"lite"}, target: "gemini-2.0-flash-lite"},
		{target: "gemini-2.0-flash"},
	}},
	{provider: Gemini, family: []string{"gemini-pro"}, variants: []fuzzyVariant{{target: "gemini-pro"}}},
}

// resolveFuzzy returns the pricing-table model a non-exact name is priced as.
func resolveFuzzy(rules []fuzzyRule, provider, modelName string) (string, bool) {
	lower := strings.ToLower(modelName)
	for _, r := range rules {
		if r.provider != provider || !containsAny(lower, r.family) {
			continue
		}
		for _, v := range r.variants {
			if len(v.anyOf) == 0 || containsAny(lower, v.anyOf) {
				return v.target, true
			}
		}
		return "", false
	}
	return "", false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
