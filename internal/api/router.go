// Package api exposes the chat memory engine over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/mycelian/mycelian-chat/internal/analytics"
	"github.com/mycelian/mycelian-chat/internal/api/recovery"
	"github.com/mycelian/mycelian-chat/internal/estimator"
	"github.com/mycelian/mycelian-chat/internal/memory"
	"github.com/mycelian/mycelian-chat/internal/metrics"
	"github.com/mycelian/mycelian-chat/internal/orchestrator"
)

// StatsReader aggregates a user's recent usage.
type StatsReader interface {
	Stats(ctx context.Context, userID string) analytics.UserStats
}

// HealthReporter is satisfied by health.ServiceHealthChecker.
type HealthReporter interface {
	IsHealthy() bool
	Components() map[string]bool
}

// Deps wires the handlers. Memory and Pruner may be nil when memory is disabled.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Adapters     orchestrator.AdapterFactory
	Memory       *memory.Store
	Pruner       *memory.Pruner
	Stats        StatsReader
	Estimator    *estimator.Estimator
	Health       HealthReporter
	Metrics      *metrics.Metrics
	Log          zerolog.Logger
	Now          func() time.Time
}

// NewRouter creates the HTTP router with every API route registered.
func NewRouter(d Deps) *mux.Router {
	if d.Now == nil {
		d.Now = time.Now
	}
	router := mux.NewRouter()

	// Global middlewares
	router.Use(recovery.Middleware(d.Log))
	router.Use(recovery.AccessLog(d.Log))

	turns := &TurnHandler{orc: d.Orchestrator, est: d.Estimator, log: d.Log}
	convs := &ConversationHandler{mem: d.Memory, pruner: d.Pruner, adapters: d.Adapters, stats: d.Stats, now: d.Now, log: d.Log}
	healthHandler := NewHealthHandler(d.Health, d.Now)

	router.HandleFunc("/api/health", healthHandler.CheckHealth).Methods("GET")
	router.Handle("/metrics", d.Metrics.Handler()).Methods("GET")

	router.HandleFunc("/api/turns", turns.HandleTurn).Methods("POST")
	router.HandleFunc("/api/estimate", turns.Estimate).Methods("POST")
	router.HandleFunc("/api/providers", turns.Providers).Methods("GET")
	router.HandleFunc("/api/recall", convs.Recall).Methods("POST")

	router.HandleFunc("/api/users/{userId}/stats", convs.UserStats).Methods("GET")
	router.HandleFunc("/api/users/{userId}/conversations", convs.ListConversations).Methods("GET")
	router.HandleFunc("/api/users/{userId}/conversations/{conversationId}", convs.DeleteConversation).Methods("DELETE")
	router.HandleFunc("/api/users/{userId}/conversations/{conversationId}/messages", convs.ListMessages).Methods("GET")
	router.HandleFunc("/api/users/{userId}/conversations/{conversationId}/summaries", convs.ListSummaries).Methods("GET")
	router.HandleFunc("/api/users/{userId}/conversations/{conversationId}/prune", convs.Prune).Methods("POST")
	router.HandleFunc("/api/users/{userId}/conversations/{conversationId}/export", convs.Export).Methods("GET")

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeNotFound(w, "route not found")
	})
	return router
}
