package chatservice

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/mycelian/mycelian-chat/internal/api"
	"github.com/mycelian/mycelian-chat/internal/config"
	emb "github.com/mycelian/mycelian-chat/internal/embeddings"
	"github.com/mycelian/mycelian-chat/internal/factory"
	"github.com/mycelian/mycelian-chat/internal/health"
	"github.com/mycelian/mycelian-chat/internal/logger"
	"github.com/mycelian/mycelian-chat/internal/metrics"
	"github.com/mycelian/mycelian-chat/internal/searchindex"
	"github.com/mycelian/mycelian-chat/internal/store"
)

// Run starts the chat service HTTP server and blocks until shutdown or error.
// A non-empty buildTarget overrides CHAT_MEMORY_BUILD_TARGET.
func Run(buildTarget string) error {
	log := logger.New("chat-service")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return err
	}
	if buildTarget != "" {
		cfg.BuildTarget = buildTarget
		cfg.DBDriver, cfg.VectorStore = "auto", "auto"
		if err := cfg.ResolveDefaults(); err != nil {
			log.Error().Err(err).Msg("Invalid build-target override")
			return err
		}
	}
	log = logger.New("chat-service", logger.WithLevel(cfg.LogLevel))

	log.Info().
		Str("build_target", cfg.BuildTarget).
		Str("db_driver", cfg.DBDriver).
		Str("vector_store", cfg.VectorStore).
		Int("http_port", cfg.HTTPPort).
		Str("embed_provider", cfg.EmbedProvider).
		Str("embed_model", cfg.EmbedModel).
		Bool("outbox_enabled", cfg.OutboxEnabled).
		Msg("Chat service starting")

	// Create cancellable root context bound to SIGINT/SIGTERM
	ctx, stop := newServerContext()
	defer stop()

	m := metrics.New(cfg.MetricsNamespace, nil)

	// Initialize dependencies (store, index, embedder, orchestrator)
	engine, err := factory.NewEngine(ctx, cfg, m, log)
	if err != nil {
		log.Error().Stack().Err(err).Msg("Engine unavailable")
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.Warn().Err(err).Msg("store close failed")
		}
	}()

	// Start health checkers and bind service health
	svcHealth := startHealthCheckers(ctx, cfg, log, engine.Store, engine.Index, engine.Embedder)

	router := buildRouter(engine, svcHealth, log)

	// Block startup until dependencies report healthy; fail fast otherwise
	if err := waitUntilHealthy(ctx, cfg, svcHealth); err != nil {
		log.Error().Stack().Err(err).Msg("startup health check failed")
		return err
	}

	// HTTP server and serve
	server := newHTTPServer(ctx, cfg, router)
	errCh := serveHTTP(server, log, cfg)

	// Graceful shutdown on context cancel or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctxShutdown); err != nil {
			log.Error().Stack().Err(err).Msg("Server forced to shutdown")
			return err
		}
		log.Info().Msg("Server exited")
		return nil
	case err := <-errCh:
		log.Error().Stack().Err(err).Msg("HTTP server failed")
		return err
	}
}

// buildRouter wires the engine into the HTTP API.
func buildRouter(e *factory.Engine, svcHealth api.HealthReporter, log zerolog.Logger) *mux.Router {
	return api.NewRouter(api.Deps{
		Orchestrator: e.Orchestrator,
		Adapters:     e.Registry,
		Memory:       e.Memory,
		Pruner:       e.Pruner,
		Stats:        e.Sink,
		Estimator:    e.Estimator,
		Health:       svcHealth,
		Metrics:      e.Metrics,
		Log:          log,
	})
}

// startHealthCheckers starts component checkers and service-level aggregator.
// The search index checker is only registered when an index is configured.
func startHealthCheckers(ctx context.Context, cfg *config.Config, log zerolog.Logger, st store.Store, idx searchindex.Index, embProvider emb.Provider) *health.ServiceHealthChecker {
	var checkers []health.HealthChecker
	probeTimeout := time.Duration(cfg.HealthProbeTimeoutSeconds) * time.Second
	interval := time.Duration(cfg.HealthIntervalSeconds) * time.Second

	storeChecker := store.NewHealthChecker(st, log, probeTimeout)
	go storeChecker.Start(ctx, interval)
	checkers = append(checkers, storeChecker)

	if idx != nil {
		idxChecker := searchindex.NewHealthChecker(idx, log, probeTimeout)
		go idxChecker.Start(ctx, interval)
		checkers = append(checkers, idxChecker)
	}

	embChecker := emb.NewHealthChecker(embProvider, log, probeTimeout)
	go embChecker.Start(ctx, interval)
	checkers = append(checkers, embChecker)

	svcHealth := health.NewServiceHealthChecker(log, checkers...)
	go svcHealth.Start(ctx, interval)
	return svcHealth
}

func newHTTPServer(ctx context.Context, cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.GetHTTPAddr(),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		// completions can take a while
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
}

func serveHTTP(server *http.Server, log zerolog.Logger, cfg *config.Config) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh
}

// calculateStartupHealthTimeout returns the startup health timeout in seconds,
// calculated as interval*2 with a minimum of 60 seconds.
func calculateStartupHealthTimeout(healthIntervalSeconds int) int {
	timeout := healthIntervalSeconds * 2
	if timeout < 60 {
		return 60
	}
	return timeout
}

// waitUntilHealthy blocks until service health is healthy or the startup window expires.
func waitUntilHealthy(ctx context.Context, cfg *config.Config, svcHealth *health.ServiceHealthChecker) error {
	// Health checkers start as unhealthy and need time to run their first probe
	timeoutSeconds := calculateStartupHealthTimeout(cfg.HealthIntervalSeconds)
	deadline := time.Now().Add(time.Duration(timeoutSeconds) * time.Second)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		if svcHealth.IsHealthy() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("startup aborted: dependencies not healthy within %d seconds", timeoutSeconds)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// newServerContext returns a cancellable context that is cancelled on SIGINT/SIGTERM.
func newServerContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
