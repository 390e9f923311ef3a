package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/mycelian/mycelian-chat/internal/model"
	"github.com/mycelian/mycelian-chat/internal/provider"
)

// Summarizer turns a prompt into a summary.
type Summarizer interface {
	Summarize(ctx context.Context, messages []model.Message, temperature float64, maxTokens int) (string, error)
}

// ProviderSummarizer runs summaries through a completion adapter. An empty
// Model uses the adapter default.
type ProviderSummarizer struct {
	Completer provider.Completer
	Model     string
}

func (p ProviderSummarizer) Summarize(ctx context.Context, messages []model.Message, temperature float64, maxTokens int) (string, error) {
	if p.Completer == nil {
		return "", fmt.Errorf("summarizer has no completer")
	}
	resp, err := p.Completer.Complete(ctx, provider.Request{
		Model:       p.Model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%s summary: %w", p.Completer.Name(), err)
	}
	text := strings.TrimSpace(p.Completer.ExtractText(resp))
	if text == "" {
		return "", fmt.Errorf("%s summary: empty response", p.Completer.Name())
	}
	return text, nil
}
