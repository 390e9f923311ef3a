package outboxworker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/mycelian/mycelian-chat/internal/config"
	"github.com/mycelian/mycelian-chat/internal/factory"
	"github.com/mycelian/mycelian-chat/internal/logger"
	"github.com/mycelian/mycelian-chat/internal/metrics"
	"github.com/mycelian/mycelian-chat/internal/outbox"
	"github.com/mycelian/mycelian-chat/internal/searchindex"
	"github.com/mycelian/mycelian-chat/internal/store/postgres"
)

// Run starts the outbox worker and blocks until shutdown or error.
func Run() error {
	log := logger.New("outbox-worker")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("config")
		return err
	}
	if err := checkConfig(cfg); err != nil {
		log.Error().Err(err).Msg("config")
		return err
	}
	log = logger.New("outbox-worker", logger.WithLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(cfg.PostgresDSN)
	if err != nil {
		log.Error().Err(err).Msg("postgres open")
		return err
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Error().Err(err).Msg("postgres ping")
		return err
	}

	embedder, err := factory.NewEmbeddingProvider(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("embedder")
		return err
	}
	// Validate embedder readiness at startup
	if vec, err := embedder.Embed(ctx, "worker-startup-check"); err != nil || len(vec) == 0 {
		return fmt.Errorf("embedder not ready: provider=%s model=%s err=%v len=%d", cfg.EmbedProvider, cfg.EmbedModel, err, len(vec))
	}

	// Ensure schema exists in dev/e2e; safe to call repeatedly.
	if err := searchindex.BootstrapWeaviate(ctx, cfg.WeaviateURL); err != nil {
		log.Warn().Err(err).Msg("weaviate bootstrap")
	}
	idx, err := searchindex.NewWeaviateIndex(cfg.WeaviateURL)
	if err != nil {
		log.Error().Err(err).Msg("search index")
		return err
	}

	m := metrics.New(cfg.MetricsNamespace, nil)
	metricsSrv := serveMetrics(cfg, m, log)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	w := outbox.NewWorker(db, embedder, idx, m, outbox.Config{
		BatchSize: cfg.OutboxBatchSize,
		Interval:  cfg.OutboxInterval(),
	}, log)

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("outbox worker exit")
		return err
	}
	return nil
}

// checkConfig rejects configurations the worker cannot serve.
func checkConfig(cfg *config.Config) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("CHAT_MEMORY_POSTGRES_DSN is required")
	}
	if cfg.WeaviateURL == "" {
		return fmt.Errorf("CHAT_MEMORY_WEAVIATE_URL is required")
	}
	if !cfg.OutboxEnabled {
		return fmt.Errorf("CHAT_MEMORY_OUTBOX_ENABLED must be true")
	}
	return nil
}

// serveMetrics exposes /metrics on the configured HTTP port.
func serveMetrics(cfg *config.Config, m *metrics.Metrics, log zerolog.Logger) *http.Server {
	router := mux.NewRouter()
	router.Handle("/metrics", m.Handler()).Methods("GET")
	srv := &http.Server{
		Addr:              cfg.GetHTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn().Err(err).Msg("metrics server failed")
		}
	}()
	return srv
}
