package searchindex

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/mycelian/mycelian-chat/internal/health"
)

// NewHealthChecker monitors the search index. Indexes without HealthPing are
// probed with an empty search.
func NewHealthChecker(idx Index, log zerolog.Logger, probeTimeout time.Duration) *health.PingChecker {
	if p, ok := idx.(health.HealthPinger); ok {
		return health.NewPingChecker("searchindex", p, log, probeTimeout)
	}
	probe := health.PingerFunc(func(ctx context.Context) error {
		_, err := idx.Search(ctx, Query{UserID: "__health_check__", Vector: []float32{1}, K: 1})
		return err
	})
	return health.NewPingChecker("searchindex", probe, log, probeTimeout)
}
