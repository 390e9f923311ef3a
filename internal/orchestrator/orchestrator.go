package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mycelian/mycelian-chat/internal/analytics"
	"github.com/mycelian/mycelian-chat/internal/estimator"
	"github.com/mycelian/mycelian-chat/internal/memory"
	"github.com/mycelian/mycelian-chat/internal/metrics"
	"github.com/mycelian/mycelian-chat/internal/model"
	"github.com/mycelian/mycelian-chat/internal/provider"
)

const (
	BaseSystemPrompt   = "You are a helpful AI assistant. Be concise and helpful."
	RecallHeader       = "\n\nRelevant context from previous conversation:\n"
	HistoryWindow      = 10
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1000
	DefaultRecallCount = 4
)

// Params tunes one turn. Zero values take the defaults.
type Params struct {
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"maxTokens,omitempty"`
	RecallCount int      `json:"recallCount,omitempty"`
}

// Defaults are the service-wide values used when Params leaves a field unset.
// A nil Temperature keeps the built-in default; zero is a valid setting.
type Defaults struct {
	Temperature     *float64
	MaxTokens       int
	RecallCount     int
	RecallThreshold float64
}

func builtinDefaults() Defaults {
	temperature := DefaultTemperature
	return Defaults{
		Temperature:     &temperature,
		MaxTokens:       DefaultMaxTokens,
		RecallCount:     DefaultRecallCount,
		RecallThreshold: memory.DefaultRecallThreshold,
	}
}

type TurnRequest struct {
	Input    string `json:"input"`
	Provider string `json:"provider"`
	// Model may be empty to use the provider default.
	Model  string `json:"model"`
	APIKey string `json:"-"`
	Params Params `json:"params"`
}

type TurnResult struct {
	AssistantText string              `json:"assistantText"`
	Model         string              `json:"model"`
	InputTokens   int                 `json:"inputTokens"`
	OutputTokens  int                 `json:"outputTokens"`
	Cost          float64             `json:"cost"`
	CostAccurate  bool                `json:"costAccurate"`
	PricedAs      string              `json:"pricedAs,omitempty"`
	Recalled      []model.RecallMatch `json:"recalled,omitempty"`
	Stored        bool                `json:"stored"`
	Prune         *memory.PruneResult `json:"prune,omitempty"`
}

// CompletionError is the only error HandleTurn returns once a provider
// adapter has been built.
type CompletionError struct {
	Provider string
	Err      error
}

func (e *CompletionError) Error() string { return fmt.Sprintf("%s completion: %v", e.Provider, e.Err) }
func (e *CompletionError) Unwrap() error { return e.Err }

// AdapterFactory builds a provider adapter from a family name and the caller's key.
type AdapterFactory interface {
	New(name, apiKey string) (provider.Adapter, error)
}

// Orchestrator holds collaborators only; it keeps no per-conversation state.
type Orchestrator struct {
	est      *estimator.Estimator
	adapters AdapterFactory
	memory   *memory.Store
	pruner   *memory.Pruner
	sink     analytics.Sink
	metrics  *metrics.Metrics
	log      zerolog.Logger
	now      func() time.Time
	defaults Defaults
}

type Option func(*Orchestrator)

// WithMemory enables recall, persistence and pruning for sessions that ask for it.
func WithMemory(s *memory.Store, p *memory.Pruner) Option {
	return func(o *Orchestrator) {
		o.memory = s
		o.pruner = p
	}
}

func WithSink(s analytics.Sink) Option { return func(o *Orchestrator) { o.sink = s } }

func WithMetrics(m *metrics.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// WithDefaults overrides the built-in turn defaults. Unset, negative and
// non-positive counts are ignored.
func WithDefaults(d Defaults) Option {
	return func(o *Orchestrator) {
		if d.Temperature != nil && *d.Temperature >= 0 {
			temperature := *d.Temperature
			o.defaults.Temperature = &temperature
		}
		if d.MaxTokens > 0 {
			o.defaults.MaxTokens = d.MaxTokens
		}
		if d.RecallCount > 0 {
			o.defaults.RecallCount = d.RecallCount
		}
		if d.RecallThreshold > 0 && d.RecallThreshold <= 1 {
			o.defaults.RecallThreshold = d.RecallThreshold
		}
	}
}

func New(est *estimator.Estimator, adapters AdapterFactory, log zerolog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		est:      est,
		adapters: adapters,
		sink:     analytics.NopSink{},
		log:      log,
		now:      time.Now,
		defaults: builtinDefaults(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// HandleTurn runs one turn. On error the returned session is the input
// session, unchanged.
func (o *Orchestrator) HandleTurn(ctx context.Context, in Session, req TurnRequest) (Session, TurnResult, error) {
	adapter, err := o.adapters.New(req.Provider, req.APIKey)
	if err != nil {
		return in, TurnResult{}, err
	}
	providerName := adapter.Name()
	modelName := req.Model
	if modelName == "" {
		modelName = adapter.DefaultModel()
	}
	temperature := *o.defaults.Temperature
	if req.Params.Temperature != nil {
		temperature = *req.Params.Temperature
	}
	maxTokens := req.Params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = o.defaults.MaxTokens
	}
	recallK := req.Params.RecallCount
	if recallK <= 0 {
		recallK = o.defaults.RecallCount
	}
	threshold := o.defaults.RecallThreshold
	useMemory := in.MemoryEnabled && o.memory != nil
	log := o.log.With().
		Str("user_id", in.UserID).
		Str("conversation_id", in.ConversationID).
		Str("provider", providerName).
		Str("model", modelName).
		Logger()

	// 1. user turn
	out := in.clone()
	out.Transcript = append(out.Transcript, model.Message{Role: model.RoleUser, Content: req.Input, Timestamp: o.now().UTC()})

	// 2. prompt
	var recalled []model.RecallMatch
	if useMemory {
		recalled = o.memory.Recall(ctx, memory.RecallQuery{
			UserID:         in.UserID,
			ConversationID: in.ConversationID,
			Query:          req.Input,
			K:              recallK,
			Threshold:      &threshold,
		})
		o.metrics.ObserveRecall(len(recalled))
	}
	messages := BuildPrompt(out.Transcript, recalled)

	// 3. informational pre-call estimate
	inputTokens := o.est.CountConversationTokens(providerName, modelName, messages)
	log.Debug().Int("input_tokens", inputTokens).Int("recalled", len(recalled)).Msg("prompt assembled")

	// 4. completion
	start := time.Now()
	resp, err := adapter.Complete(ctx, provider.Request{
		Model:       modelName,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		o.metrics.ObserveTurn(providerName, modelName, false, time.Since(start), 0, 0, 0)
		log.Warn().Err(err).Msg("completion failed")
		return in, TurnResult{}, &CompletionError{Provider: providerName, Err: err}
	}

	// 5. text
	text := adapter.ExtractText(resp)

	// 6. accounting
	outputTokens := o.est.CountTokens(providerName, modelName, text)
	cost := o.est.EstimateCost(providerName, modelName, inputTokens, outputTokens)
	out.TotalTokens += inputTokens + outputTokens
	out.TotalCost += cost.Cost
	out.Transcript = append(out.Transcript, model.Message{Role: model.RoleAssistant, Content: text, Timestamp: o.now().UTC()})
	o.metrics.ObserveTurn(providerName, modelName, true, time.Since(start), inputTokens, outputTokens, cost.Cost)

	res := TurnResult{
		AssistantText: text,
		Model:         modelName,
		InputTokens:   inputTokens,
		OutputTokens:  outputTokens,
		Cost:          cost.Cost,
		CostAccurate:  cost.Authoritative,
		PricedAs:      cost.PricedAs,
		Recalled:      recalled,
	}

	// 7. persistence
	if useMemory {
		userOK := o.memory.Add(ctx, in.UserID, in.ConversationID, model.RoleUser, req.Input)
		assistantOK := o.memory.Add(ctx, in.UserID, in.ConversationID, model.RoleAssistant, text)
		res.Stored = userOK && assistantOK
		if !res.Stored {
			log.Warn().Bool("user_stored", userOK).Bool("assistant_stored", assistantOK).Msg("turn not fully persisted")
		}
	}

	// 8. usage
	if err := o.sink.Log(ctx, model.UsageRecord{
		UserID:           in.UserID,
		Provider:         providerName,
		Model:            modelName,
		PromptTokens:     inputTokens,
		CompletionTokens: outputTokens,
		TotalTokens:      inputTokens + outputTokens,
		EstimatedCost:    cost.Cost,
		ConversationID:   in.ConversationID,
		Timestamp:        o.now().UTC(),
	}); err != nil {
		log.Warn().Err(err).Msg("usage log failed")
	}

	// 9. pruning
	if useMemory && o.pruner != nil {
		var s memory.Summarizer = memory.ProviderSummarizer{Completer: adapter, Model: modelName}
		pr := o.prune(ctx, s, in.UserID, in.ConversationID)
		if pr.Outcome != memory.OutcomeNone {
			res.Prune = &pr
		}
	}

	return out, res, nil
}

// prune prefers the pruner's own summarizer and falls back to the turn's adapter.
func (o *Orchestrator) prune(ctx context.Context, turnSummarizer memory.Summarizer, userID, conversationID string) memory.PruneResult {
	if o.pruner.HasSummarizer() {
		return o.pruner.SummarizeAndPrune(ctx, userID, conversationID)
	}
	return o.pruner.SummarizeAndPruneWith(ctx, turnSummarizer, userID, conversationID)
}

// BuildPrompt assembles the system message (with recalled context when any)
// followed by the last HistoryWindow user/assistant messages of transcript.
func BuildPrompt(transcript []model.Message, recalled []model.RecallMatch) []model.Message {
	system := BaseSystemPrompt
	if len(recalled) > 0 {
		lines := make([]string, len(recalled))
		for i, m := range recalled {
			lines[i] = fmt.Sprintf("Previous %s: %s", m.Record.Role, m.Record.Content)
		}
		system += RecallHeader + strings.Join(lines, "\n")
	}

	window := transcript
	if len(window) > HistoryWindow {
		window = window[len(window)-HistoryWindow:]
	}
	out := make([]model.Message, 0, len(window)+1)
	out = append(out, model.Message{Role: model.RoleSystem, Content: system})
	for _, m := range window {
		if !m.Role.Valid() {
			continue
		}
		out = append(out, model.Message{Role: m.Role, Content: m.Content})
	}
	return out
}
