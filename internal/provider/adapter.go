// Package provider adapts the completion APIs of each LLM family behind one
// interface. The family is chosen once, when the adapter is built.
package provider

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mycelian/mycelian-chat/internal/model"
)

// ErrUnknownProvider is returned by Registry.New for an unsupported family.
var ErrUnknownProvider = errors.New("unknown provider")

// ErrMissingAPIKey is returned when an adapter is built without a key.
var ErrMissingAPIKey = errors.New("api key required")

// Request is one completion call. An empty Model selects the adapter default.
type Request struct {
	Model       string
	Messages    []model.Message
	Temperature float64
	MaxTokens   int
}

// Response keeps the provider payload untouched; text is pulled out by ExtractText.
type Response struct {
	Provider string          `json:"provider"`
	Model    string          `json:"model"`
	Raw      json.RawMessage `json:"raw"`
}

// Adapter is implemented once per provider family.
type Adapter interface {
	Name() string
	DefaultModel() string
	Models() []string
	CountTokens(model, text string) int
	Complete(ctx context.Context, req Request) (*Response, error)
	ExtractText(resp *Response) string
	ExtractStreamChunk(chunk []byte) string
}

// Completer is the part of Adapter the orchestrator and summarizer call.
type Completer interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
	ExtractText(resp *Response) string
}
