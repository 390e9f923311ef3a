package embeddings

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/mycelian/mycelian-chat/internal/health"
)

// NewHealthChecker monitors an embeddings provider. Providers implementing
// health.HealthPinger are pinged; others must embed a probe string.
func NewHealthChecker(p Provider, log zerolog.Logger, probeTimeout time.Duration) *health.PingChecker {
	if pinger, ok := p.(health.HealthPinger); ok {
		return health.NewPingChecker("embedder", pinger, log, probeTimeout)
	}
	probe := health.PingerFunc(func(ctx context.Context) error {
		vec, err := p.Embed(ctx, "health-check")
		if err != nil {
			return err
		}
		if len(vec) == 0 {
			return errors.New("empty embedding")
		}
		return nil
	})
	return health.NewPingChecker("embedder", probe, log, probeTimeout)
}
