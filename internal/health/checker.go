package health

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// HealthChecker is implemented by component-level checkers (store, search index, embedder).
type HealthChecker interface {
	Name() string
	IsHealthy() bool
	Start(ctx context.Context, interval time.Duration)
}

// HealthPinger can be implemented by components to expose a specialized
// health check. HealthPing must return nil when the component is healthy.
type HealthPinger interface {
	HealthPing(ctx context.Context) error
}

// PingerFunc adapts a function to HealthPinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) HealthPing(ctx context.Context) error { return f(ctx) }

const defaultProbeTimeout = 2 * time.Second

// PingChecker probes a HealthPinger on every tick and caches the result.
type PingChecker struct {
	name         string
	pinger       HealthPinger
	healthy      atomic.Int32
	log          zerolog.Logger
	probeTimeout time.Duration
}

func NewPingChecker(name string, p HealthPinger, log zerolog.Logger, probeTimeout time.Duration) *PingChecker {
	c := &PingChecker{name: name, pinger: p, log: log, probeTimeout: probeTimeout}
	c.healthy.Store(0) // start unhealthy until first successful probe
	return c
}

func (c *PingChecker) Name() string    { return c.name }
func (c *PingChecker) IsHealthy() bool { return c.healthy.Load() == 1 }

// Probe runs one health check synchronously.
func (c *PingChecker) Probe(ctx context.Context) {
	to := c.probeTimeout
	if to <= 0 {
		to = defaultProbeTimeout
	}
	checkCtx, cancel := context.WithTimeout(ctx, to)
	defer cancel()
	if err := c.pinger.HealthPing(checkCtx); err != nil {
		if c.healthy.Swap(0) == 1 {
			c.log.Error().Stack().Str("checker", c.name).Err(err).Msg("health check failed")
		}
		return
	}
	if c.healthy.Swap(1) == 0 {
		c.log.Info().Str("checker", c.name).Msg("health check passed")
	}
}

func (c *PingChecker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Probe(ctx)
		}
	}
}
