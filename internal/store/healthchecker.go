package store

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/mycelian/mycelian-chat/internal/health"
)

// NewHealthChecker monitors store connectivity. Stores implementing
// health.HealthPinger are pinged; others answer a Count probe.
func NewHealthChecker(s Store, log zerolog.Logger, probeTimeout time.Duration) *health.PingChecker {
	if p, ok := s.(health.HealthPinger); ok {
		return health.NewPingChecker("store", p, log, probeTimeout)
	}
	probe := health.PingerFunc(func(ctx context.Context) error {
		_, err := s.Records().Count(ctx, "__health_check__", "__health_check__")
		return err
	})
	return health.NewPingChecker("store", probe, log, probeTimeout)
}
