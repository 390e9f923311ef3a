package api

import (
	"net/http"
	"time"

	"github.com/mycelian/mycelian-chat/internal/api/respond"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	reporter HealthReporter
	now      func() time.Time
}

func NewHealthHandler(reporter HealthReporter, now func() time.Time) *HealthHandler {
	return &HealthHandler{reporter: reporter, now: now}
}

// CheckHealth handles GET /api/health
// Always returns 200; body reports healthy/unhealthy. 500 indicates handler failure only.
func (h *HealthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	status := "unhealthy"
	components := map[string]bool{}
	if h.reporter != nil {
		if h.reporter.IsHealthy() {
			status = "healthy"
		}
		components = h.reporter.Components()
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":     status,
		"components": components,
		"timestamp":  h.now().Format(time.RFC3339),
	})
}
