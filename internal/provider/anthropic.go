package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/mycelian/mycelian-chat/internal/estimator"
	"github.com/mycelian/mycelian-chat/internal/model"
)

// anthropicDefaultMaxTokens is used when the request leaves MaxTokens unset;
// the Messages API requires the field.
const anthropicDefaultMaxTokens = 1000

type anthropicMessages interface {
	New(ctx context.Context, params anthropicsdk.MessageNewParams, opts ...option.RequestOption) (*anthropicsdk.Message, error)
}

type anthropicAdapter struct {
	msgs anthropicMessages
	est  *estimator.Estimator
}

func newAnthropic(apiKey, baseURL string, httpClient *http.Client, est *estimator.Estimator) *anthropicAdapter {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	client := anthropicsdk.NewClient(opts...)
	return &anthropicAdapter{msgs: &client.Messages, est: est}
}

func (a *anthropicAdapter) Name() string         { return estimator.Anthropic }
func (a *anthropicAdapter) DefaultModel() string { return defaultModels[estimator.Anthropic] }
func (a *anthropicAdapter) Models() []string     { return a.est.Models(estimator.Anthropic) }

func (a *anthropicAdapter) CountTokens(modelName, text string) int {
	return a.est.CountTokens(estimator.Anthropic, modelName, text)
}

func (a *anthropicAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	modelName := req.Model
	if modelName == "" {
		modelName = a.DefaultModel()
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	system, messages := toAnthropicMessages(req.Messages)
	params := anthropicsdk.MessageNewParams{
		Model:       anthropicsdk.Model(modelName),
		MaxTokens:   int64(maxTokens),
		Messages:    messages,
		Temperature: param.NewOpt(req.Temperature),
	}
	if len(system) > 0 {
		params.System = system
	}
	msg, err := a.msgs.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: create message: %w", err)
	}
	raw := msg.RawJSON()
	if raw == "" {
		b, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("anthropic: encode message: %w", err)
		}
		raw = string(b)
	}
	return &Response{Provider: estimator.Anthropic, Model: modelName, Raw: json.RawMessage(raw)}, nil
}

func (a *anthropicAdapter) ExtractText(resp *Response) string {
	return extractResponse(resp, anthropicTextPath)
}

func (a *anthropicAdapter) ExtractStreamChunk(chunk []byte) string {
	return extractAnthropicChunk(chunk)
}

// toAnthropicMessages hoists every system message into the separate system
// field. Empty messages are dropped; the API rejects empty text blocks.
func toAnthropicMessages(msgs []model.Message) ([]anthropicsdk.TextBlockParam, []anthropicsdk.MessageParam) {
	var system []anthropicsdk.TextBlockParam
	out := make([]anthropicsdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		switch m.Role {
		case model.RoleSystem:
			system = append(system, anthropicsdk.TextBlockParam{Text: m.Content})
		case model.RoleAssistant:
			out = append(out, anthropicsdk.MessageParam{
				Role:    anthropicsdk.MessageParamRoleAssistant,
				Content: []anthropicsdk.ContentBlockParamUnion{anthropicsdk.NewTextBlock(m.Content)},
			})
		default:
			out = append(out, anthropicsdk.MessageParam{
				Role:    anthropicsdk.MessageParamRoleUser,
				Content: []anthropicsdk.ContentBlockParamUnion{anthropicsdk.NewTextBlock(m.Content)},
			})
		}
	}
	return system, out
}
