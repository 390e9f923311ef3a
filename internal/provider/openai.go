package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/mycelian/mycelian-chat/internal/estimator"
	"github.com/mycelian/mycelian-chat/internal/model"
)

type chatCompletions interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

type openAIAdapter struct {
	completions chatCompletions
	est         *estimator.Estimator
}

func newOpenAI(apiKey, baseURL string, httpClient *http.Client, est *estimator.Estimator) *openAIAdapter {
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
	client := openai.NewClient(opts...)
	return &openAIAdapter{completions: &client.Chat.Completions, est: est}
}

func (a *openAIAdapter) Name() string         { return estimator.OpenAI }
func (a *openAIAdapter) DefaultModel() string { return defaultModels[estimator.OpenAI] }
func (a *openAIAdapter) Models() []string     { return a.est.Models(estimator.OpenAI) }

func (a *openAIAdapter) CountTokens(modelName, text string) int {
	return a.est.CountTokens(estimator.OpenAI, modelName, text)
}

func (a *openAIAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	modelName := req.Model
	if modelName == "" {
		modelName = a.DefaultModel()
	}
	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(modelName),
		Messages:    toOpenAIMessages(req.Messages),
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	completion, err := a.completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	raw := completion.RawJSON()
	if raw == "" {
		b, err := json.Marshal(completion)
		if err != nil {
			return nil, fmt.Errorf("openai: encode completion: %w", err)
		}
		raw = string(b)
	}
	return &Response{Provider: estimator.OpenAI, Model: modelName, Raw: json.RawMessage(raw)}, nil
}

func (a *openAIAdapter) ExtractText(resp *Response) string {
	return extractResponse(resp, openAITextPath)
}

func (a *openAIAdapter) ExtractStreamChunk(chunk []byte) string {
	return extractPath(chunk, openAIStreamPath)
}

func toOpenAIMessages(msgs []model.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case model.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case model.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
