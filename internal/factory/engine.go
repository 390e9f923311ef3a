package factory

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/mycelian/mycelian-chat/internal/analytics"
	"github.com/mycelian/mycelian-chat/internal/config"
	emb "github.com/mycelian/mycelian-chat/internal/embeddings"
	"github.com/mycelian/mycelian-chat/internal/estimator"
	"github.com/mycelian/mycelian-chat/internal/memory"
	"github.com/mycelian/mycelian-chat/internal/metrics"
	"github.com/mycelian/mycelian-chat/internal/orchestrator"
	"github.com/mycelian/mycelian-chat/internal/provider"
	"github.com/mycelian/mycelian-chat/internal/searchindex"
	"github.com/mycelian/mycelian-chat/internal/store"
)

// Engine holds every long-lived component of the chat service.
type Engine struct {
	Store        store.Store
	DB           *sql.DB
	Index        searchindex.Index
	Embedder     emb.Provider
	Estimator    *estimator.Estimator
	Registry     *provider.Registry
	Memory       *memory.Store
	Pruner       *memory.Pruner
	Sink         *analytics.StoreSink
	Metrics      *metrics.Metrics
	Orchestrator *orchestrator.Orchestrator
}

// Close releases the SQL connection, if any.
func (e *Engine) Close() error {
	if e.DB != nil {
		return e.DB.Close()
	}
	return nil
}

// NewEngine builds the store, index and embedder from cfg and wires the memory
// layer, pruner, usage sink and orchestrator on top of them.
func NewEngine(ctx context.Context, cfg *config.Config, m *metrics.Metrics, log zerolog.Logger) (*Engine, error) {
	st, db, err := NewStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	idx, err := NewSearchIndex(ctx, cfg, log)
	if err != nil {
		closeDB(db)
		return nil, err
	}
	embedder, err := NewEmbeddingProvider(ctx, cfg, log)
	if err != nil {
		closeDB(db)
		return nil, err
	}

	est, err := NewEstimator(cfg)
	if err != nil {
		closeDB(db)
		return nil, err
	}
	registry := provider.NewRegistry(est)
	sink := analytics.NewStoreSink(st.Usage(), log.With().Str("component", "analytics").Logger())

	e := &Engine{
		Store:     st,
		DB:        db,
		Index:     idx,
		Embedder:  embedder,
		Estimator: est,
		Registry:  registry,
		Sink:      sink,
		Metrics:   m,
	}

	temperature := cfg.Temperature
	opts := []orchestrator.Option{
		orchestrator.WithSink(sink),
		orchestrator.WithMetrics(m),
		orchestrator.WithDefaults(orchestrator.Defaults{
			Temperature:     &temperature,
			MaxTokens:       cfg.MaxTokens,
			RecallCount:     cfg.RecallCount,
			RecallThreshold: cfg.RecallThreshold,
		}),
	}
	if cfg.MemoryEnabled {
		var memOpts []memory.Option
		if idx != nil {
			// without an outbox the index is kept in sync inline
			memOpts = append(memOpts, memory.WithIndex(idx, !cfg.OutboxEnabled))
		}
		e.Memory = memory.NewStore(st, embedder, log.With().Str("component", "memory").Logger(), memOpts...)
		e.Pruner = memory.NewPruner(e.Memory, NewSummarizer(cfg, registry, log), memory.PrunerConfig{
			Threshold:      cfg.PruneThreshold,
			KeepRecent:     cfg.KeepRecent,
			FetchLimit:     cfg.PruneFetchLimit,
			SummaryTimeout: time.Duration(cfg.SummaryTimeoutSeconds) * time.Second,
		}, m, log.With().Str("component", "pruner").Logger())
		opts = append(opts, orchestrator.WithMemory(e.Memory, e.Pruner))
	}
	e.Orchestrator = orchestrator.New(est, registry, log.With().Str("component", "orchestrator").Logger(), opts...)
	return e, nil
}

// NewEstimator applies CHAT_MEMORY_PRICING_FILE, when set, over the built-in rates.
func NewEstimator(cfg *config.Config) (*estimator.Estimator, error) {
	if cfg.PricingFile == "" {
		return estimator.New(), nil
	}
	entries, err := estimator.LoadPricingFile(cfg.PricingFile)
	if err != nil {
		return nil, err
	}
	return estimator.New(estimator.WithPricing(entries)), nil
}

// NewSummarizer returns a service-owned summarizer when SUMMARY_API_KEY is
// set, else nil so pruning uses the caller's provider.
func NewSummarizer(cfg *config.Config, registry *provider.Registry, log zerolog.Logger) memory.Summarizer {
	if cfg.SummaryAPIKey == "" {
		return nil
	}
	adapter, err := registry.New(cfg.SummaryProvider, cfg.SummaryAPIKey)
	if err != nil {
		log.Warn().Err(err).Str("provider", cfg.SummaryProvider).Msg("summary provider unavailable; using turn provider")
		return nil
	}
	return memory.ProviderSummarizer{Completer: adapter, Model: cfg.SummaryModel}
}

func closeDB(db *sql.DB) {
	if db != nil {
		_ = db.Close()
	}
}
