package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/mycelian/mycelian-chat/internal/estimator"
	"github.com/mycelian/mycelian-chat/internal/model"
)

const (
	geminiBaseURL = "https://generativelanguage.googleapis.com"
	geminiTimeout = 60 * time.Second
)

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

// geminiAdapter talks to the Generative Language REST API directly.
type geminiAdapter struct {
	client *resty.Client
	apiKey string
	est    *estimator.Estimator
}

func newGemini(apiKey, baseURL string, httpClient *http.Client, est *estimator.Estimator) *geminiAdapter {
	if baseURL == "" {
		baseURL = geminiBaseURL
	}
	var client *resty.Client
	if httpClient != nil {
		client = resty.NewWithClient(httpClient)
	} else {
		client = resty.New().SetTimeout(geminiTimeout)
	}
	client.SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json")
	return &geminiAdapter{client: client, apiKey: apiKey, est: est}
}

func (a *geminiAdapter) Name() string         { return estimator.Gemini }
func (a *geminiAdapter) DefaultModel() string { return defaultModels[estimator.Gemini] }
func (a *geminiAdapter) Models() []string     { return a.est.Models(estimator.Gemini) }

func (a *geminiAdapter) CountTokens(modelName, text string) int {
	return a.est.CountTokens(estimator.Gemini, modelName, text)
}

func (a *geminiAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	modelName := req.Model
	if modelName == "" {
		modelName = a.DefaultModel()
	}
	body := toGeminiRequest(req)
	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("x-goog-api-key", a.apiKey).
		SetBody(&body).
		Post("/v1beta/models/" + url.PathEscape(modelName) + ":generateContent")
	if err != nil {
		return nil, fmt.Errorf("gemini: generate content: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		msg := gjson.GetBytes(resp.Body(), "error.message").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode())
		}
		return nil, fmt.Errorf("gemini: status %d: %s", resp.StatusCode(), msg)
	}
	return &Response{Provider: estimator.Gemini, Model: modelName, Raw: append([]byte(nil), resp.Body()...)}, nil
}

func (a *geminiAdapter) ExtractText(resp *Response) string {
	return extractResponse(resp, geminiTextPath)
}

func (a *geminiAdapter) ExtractStreamChunk(chunk []byte) string {
	return extractPath(chunk, geminiTextPath)
}

// toGeminiRequest maps assistant turns to the "model" role and folds system
// messages into systemInstruction.
func toGeminiRequest(req Request) geminiRequest {
	out := geminiRequest{GenerationConfig: geminiGenerationConfig{
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxTokens,
	}}
	var system []geminiPart
	for _, m := range req.Messages {
		switch m.Role {
		case model.RoleSystem:
			system = append(system, geminiPart{Text: m.Content})
		case model.RoleAssistant:
			out.Contents = append(out.Contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: m.Content}}})
		default:
			out.Contents = append(out.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		}
	}
	if len(system) > 0 {
		out.SystemInstruction = &geminiContent{Parts: system}
	}
	return out
}
