// Package estimator maps provider/model/text to token counts and token counts
// to estimated USD cost. Every operation degrades instead of failing.
package estimator

import (
	"github.com/mycelian/mycelian-chat/internal/model"
)

// Framing overheads added by CountConversationTokens.
const (
	PerMessageOverhead   = 4
	ConversationOverhead = 3
)

// Accuracy labels reported by TokenInfo.
const (
	AccuracyAccurate  = "accurate"
	AccuracyEstimated = "estimated"
)

// CostEstimate is the result of EstimateCost. Authoritative is true only when
// the (provider, model) pair is present in the pricing table; fuzzy-priced and
// unpriced estimates are flagged as non-authoritative.
type CostEstimate struct {
	Cost          float64 `json:"cost"`
	Authoritative bool    `json:"authoritative"`
	PricedAs      string  `json:"pricedAs,omitempty"`
}

// TokenInfo summarises one request/response exchange.
type TokenInfo struct {
	Provider       string  `json:"provider"`
	Model          string  `json:"model"`
	InputTokens    int     `json:"inputTokens"`
	OutputTokens   int     `json:"outputTokens"`
	TotalTokens    int     `json:"totalTokens"`
	EstimatedCost  float64 `json:"estimatedCost"`
	ModelSupported bool    `json:"modelSupported"`
	CostAccuracy   string  `json:"costAccuracy"`
}

// Estimator is safe for concurrent use; the pricing table is read-only.
type Estimator struct {
	openai Encoder
	prices *priceBook
	rules  []fuzzyRule
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithOpenAIEncoder replaces the tiktoken-backed OpenAI tokenizer. A nil
// encoder forces the word-ratio heuristic.
func WithOpenAIEncoder(enc Encoder) Option {
	return func(e *Estimator) { e.openai = enc }
}

// WithPricing replaces the pricing table. Entries with negative rates are ignored.
func WithPricing(entries []model.PricingEntry) Option {
	return func(e *Estimator) { e.prices = newPriceBook(entries) }
}

func New(opts ...Option) *Estimator {
	e := &Estimator{
		openai: NewTiktokenEncoder(),
		prices: newPriceBook(pricingTable),
		rules:  fuzzyRules,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// CountTokens returns the token count of text for the provider family.
// Empty text is always 0 tokens.
func (e *Estimator) CountTokens(provider, modelName, text string) int {
	if text == "" {
		return 0
	}
	switch CanonicalProvider(provider) {
	case OpenAI:
		if e.openai != nil {
			if n, err := e.openai.Count(modelName, text); err == nil && n >= 0 {
				return n
			}
		}
		return int(float64(wordCount(text)) * WordTokenRatio)
	case Anthropic:
		return charRatio(text, AnthropicCharsPerToken)
	case Gemini:
		return charRatio(text, GeminiCharsPerToken)
	default:
		return wordCount(text)
	}
}

// CountConversationTokens sums CountTokens over message contents and adds the
// per-message and per-conversation framing overhead.
func (e *Estimator) CountConversationTokens(provider, modelName string, messages []model.Message) int {
	total := ConversationOverhead
	for _, m := range messages {
		total += e.CountTokens(provider, modelName, m.Content) + PerMessageOverhead
	}
	return total
}

// EstimateCost prices a token count. Unknown models resolve through the fuzzy
// rule list; anything still unresolved costs 0.
func (e *Estimator) EstimateCost(provider, modelName string, inputTokens, outputTokens int) CostEstimate {
	p := CanonicalProvider(provider)
	entry, exact := e.prices.lookup(p, modelName)
	if !exact {
		target, ok := resolveFuzzy(e.rules, p, modelName)
		if !ok {
			return CostEstimate{}
		}
		if entry, ok = e.prices.lookup(p, target); !ok {
			return CostEstimate{}
		}
	}
	if inputTokens < 0 {
		inputTokens = 0
	}
	if outputTokens < 0 {
		outputTokens = 0
	}
	cost := float64(inputTokens)/1000*entry.InputPer1K + float64(outputTokens)/1000*entry.OutputPer1K
	return CostEstimate{Cost: cost, Authoritative: exact, PricedAs: entry.Model}
}

// IsModelSupported reports an exact pricing-table match.
func (e *Estimator) IsModelSupported(provider, modelName string) bool {
	_, ok := e.prices.lookup(CanonicalProvider(provider), modelName)
	return ok
}

// TokenInfo counts the prompt messages and the response text and prices both.
func (e *Estimator) TokenInfo(provider, modelName string, messages []model.Message, responseText string) TokenInfo {
	in := e.CountConversationTokens(provider, modelName, messages)
	out := e.CountTokens(provider, modelName, responseText)
	est := e.EstimateCost(provider, modelName, in, out)
	supported := e.IsModelSupported(provider, modelName)
	accuracy := AccuracyEstimated
	if supported || est.Cost > 0 {
		accuracy = AccuracyAccurate
	}
	return TokenInfo{
		Provider:       CanonicalProvider(provider),
		Model:          modelName,
		InputTokens:    in,
		OutputTokens:   out,
		TotalTokens:    in + out,
		EstimatedCost:  est.Cost,
		ModelSupported: supported,
		CostAccuracy:   accuracy,
	}
}

// Providers lists the priced provider families in table order.
func (e *Estimator) Providers() []string {
	return append([]string(nil), e.prices.order...)
}

// Models lists the priced models of a provider in table order.
func (e *Estimator) Models(provider string) []string {
	return append([]string(nil), e.prices.models[CanonicalProvider(provider)]...)
}

// Pricing returns the exact pricing entry for (provider, model).
func (e *Estimator) Pricing(provider, modelName string) (model.PricingEntry, bool) {
	return e.prices.lookup(CanonicalProvider(provider), modelName)
}
