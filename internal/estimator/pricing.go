package estimator

import (
	"strings"

	"github.com/mycelian/mycelian-chat/internal/model"
)

// Provider family names as they appear in the pricing table and on the wire.
const (
	OpenAI    = "OpenAI"
	Anthropic = "Anthropic"
	Gemini    = "Gemini"
)

// pricingTable holds USD rates per 1000 tokens. Order within a provider is the
// order models are reported by Models.
var pricingTable = []model.PricingEntry{
	{Provider: OpenAI, Model: "gpt-4.1", InputPer1K: 0.002, OutputPer1K: 0.008},
	{Provider: OpenAI, Model: "o3", InputPer1K: 0.002, OutputPer1K: 0.008},
	{Provider: OpenAI, Model: "gpt-4o", InputPer1K: 0.005, OutputPer1K: 0.015},
	{Provider: OpenAI, Model: "o4-mini-deep-research", InputPer1K: 0.0011, OutputPer1K: 0.0044},
	{Provider: OpenAI, Model: "gpt-4.1-mini", InputPer1K: 0.0004, OutputPer1K: 0.0016},
	{Provider: OpenAI, Model: "gpt-4.1-nano", InputPer1K: 0.0001, OutputPer1K: 0.0004},
	{Provider: OpenAI, Model: "o3-pro", InputPer1K: 0.02, OutputPer1K: 0.08},
	{Provider: OpenAI, Model: "gpt-4", InputPer1K: 0.03, OutputPer1K: 0.06},
	{Provider: OpenAI, Model: "gpt-4-turbo", InputPer1K: 0.01, OutputPer1K: 0.03},
	{Provider: OpenAI, Model: "gpt-3.5-turbo", InputPer1K: 0.001, OutputPer1K: 0.002},

	{Provider: Anthropic, Model: "claude-sonnet-4-20250514", InputPer1K: 0.003, OutputPer1K: 0.015},
	{Provider: Anthropic, Model: "claude-opus-4-20250514", InputPer1K: 0.015, OutputPer1K: 0.075},
	{Provider: Anthropic, Model: "claude-3-opus-20240229", InputPer1K: 0.015, OutputPer1K: 0.075},
	{Provider: Anthropic, Model: "claude-3-sonnet-20240229", InputPer1K: 0.003, OutputPer1K: 0.015},
	{Provider: Anthropic, Model: "claude-3-haiku-20240307", InputPer1K: 0.00025, OutputPer1K: 0.00125},
	{Provider: Anthropic, Model: "claude-3-7-sonnet-20250219", InputPer1K: 0.003, OutputPer1K: 0.015},
	{Provider: Anthropic, Model: "claude-3-5-sonnet-20241022", InputPer1K: 0.003, OutputPer1K: 0.015},
	{Provider: Anthropic, Model: "claude-3-5-haiku-20241022", InputPer1K: 0.001, OutputPer1K: 0.005},

	{Provider: Gemini, Model: "gemini-2.5-pro", InputPer1K: 0.00125, OutputPer1K: 0.005},
	{Provider: Gemini, Model: "gemini-2.5-flash", InputPer1K: 0.0003, OutputPer1K: 0.0025},
	{Provider: Gemini, Model: "gemini-2.5-flash-lite", InputPer1K: 0.0001, OutputPer1K: 0.0004},
	{Provider: Gemini, Model: "gemini-2.0-flash", InputPer1K: 0.0000375, OutputPer1K: 0.00015},
	{Provider: Gemini, Model: "gemini-2.0-flash-lite", InputPer1K: 0.00001875, OutputPer1K: 0.000075},
	{Provider: Gemini, Model: "gemini-pro", InputPer1K: 0.0005, OutputPer1K: 0.0015},
	{Provider: Gemini, Model: "gemini-pro-vision", InputPer1K: 0.0005, OutputPer1K: 0.0015},
}

// CanonicalProvider maps a case-insensitive provider name onto its family name.
// Unknown names are returned trimmed but otherwise unchanged.
func CanonicalProvider(name string) string {
	n := strings.TrimSpace(name)
	switch strings.ToLower(n) {
	case "openai":
		return OpenAI
	case "anthropic":
		return Anthropic
	case "gemini", "google":
		return Gemini
	}
	return n
}

type pricingKey struct{ provider, model string }

type priceBook struct {
	byKey  map[pricingKey]model.PricingEntry
	models map[string][]string
	order  []string
}

func newPriceBook(entries []model.PricingEntry) *priceBook {
	pb := &priceBook{
		byKey:  make(map[pricingKey]model.PricingEntry, len(entries)),
		models: make(map[string][]string),
	}
	for _, e := range entries {
		if e.InputPer1K < 0 || e.OutputPer1K < 0 {
			continue
		}
		if _, seen := pb.models[e.Provider]; !seen {
			pb.order = append(pb.order, e.Provider)
		}
		pb.byKey[pricingKey{e.Provider, e.Model}] = e
		pb.models[e.Provider] = append(pb.models[e.Provider], e.Model)
	}
	return pb
}

func (pb *priceBook) lookup(provider, modelName string) (model.PricingEntry, bool) {
	e, ok := pb.byKey[pricingKey{provider, modelName}]
	return e, ok
}
