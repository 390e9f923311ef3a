package estimator

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mycelian/mycelian-chat/internal/model"
)

// pricingFile is the YAML layout read by LoadPricingFile:
//
//	replace: false
//	models:
//	  - provider: OpenAI
//	    model: gpt-4.1
//	    input_per_1k: 0.002
//	    output_per_1k: 0.008
type pricingFile struct {
	Replace bool               `yaml:"replace"`
	Models  []pricingFileEntry `yaml:"models"`
}

type pricingFileEntry struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	InputPer1K  float64 `yaml:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k"`
}

// DefaultPricing returns a copy of the built-in pricing table.
func DefaultPricing() []model.PricingEntry {
	return append([]model.PricingEntry(nil), pricingTable...)
}

// LoadPricingFile reads rate overrides from a YAML file and merges them into
// the built-in table: matching (provider, model) rows are replaced in place,
// new rows are appended. With replace: true the file is the whole table.
func LoadPricingFile(path string) ([]model.PricingEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing file: %w", err)
	}
	return ParsePricing(data)
}

// ParsePricing is LoadPricingFile for in-memory YAML.
func ParsePricing(data []byte) ([]model.PricingEntry, error) {
	var f pricingFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse pricing file: %w", err)
	}
	overrides := make([]model.PricingEntry, 0, len(f.Models))
	for i, m := range f.Models {
		if m.Model == "" || m.Provider == "" {
			return nil, fmt.Errorf("pricing entry %d: provider and model are required", i)
		}
		if m.InputPer1K < 0 || m.OutputPer1K < 0 {
			return nil, fmt.Errorf("pricing entry %d (%s): rates must be non-negative", i, m.Model)
		}
		overrides = append(overrides, model.PricingEntry{
			Provider:    CanonicalProvider(m.Provider),
			Model:       m.Model,
			InputPer1K:  m.InputPer1K,
			OutputPer1K: m.OutputPer1K,
		})
	}
	if f.Replace {
		return overrides, nil
	}
	return mergePricing(DefaultPricing(), overrides), nil
}

func mergePricing(base, overrides []model.PricingEntry) []model.PricingEntry {
	pos := make(map[pricingKey]int, len(base))
	for i, e := range base {
		pos[pricingKey{e.Provider, e.Model}] = i
	}
	for _, o := range overrides {
		k := pricingKey{o.Provider, o.Model}
		if i, ok := pos[k]; ok {
			base[i] = o
			continue
		}
		pos[k] = len(base)
		base = append(base, o)
	}
	return base
}
