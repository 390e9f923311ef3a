package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type fakeChecker struct {
	name    string
	healthy atomic.Int32
}

func (f *fakeChecker) Name() string                               { return f.name }
func (f *fakeChecker) IsHealthy() bool                            { return f.healthy.Load() == 1 }
func (f *fakeChecker) Start(ctx context.Context, _ time.Duration) { /* no-op */ }

func TestServiceHealthChecker_Transitions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger := zerolog.Nop()

	a := &fakeChecker{name: "a"}
	b := &fakeChecker{name: "b"}
	a.healthy.Store(1)
	b.healthy.Store(1)

	svc := NewServiceHealthChecker(logger, a, b)
	go svc.Start(ctx, 10*time.Millisecond)

	// Initially healthy
	waitTrue(t, func() bool { return svc.IsHealthy() })

	// Flip one to unhealthy
	b.healthy.Store(0)
	waitTrue(t, func() bool { return !svc.IsHealthy() })
	assert.Equal(t, map[string]bool{"a": true, "b": false}, svc.Components())

	// Recover
	b.healthy.Store(1)
	waitTrue(t, func() bool { return svc.IsHealthy() })
}

func TestPingChecker_FollowsPinger(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var failing atomic.Bool
	p := PingerFunc(func(context.Context) error {
		if failing.Load() {
			return errors.New("down")
		}
		return nil
	})
	c := NewPingChecker("store", p, zerolog.Nop(), 50*time.Millisecond)
	assert.False(t, c.IsHealthy(), "unhealthy before first probe")
	assert.Equal(t, "store", c.Name())

	go c.Start(ctx, 10*time.Millisecond)
	waitTrue(t, c.IsHealthy)

	failing.Store(true)
	waitTrue(t, func() bool { return !c.IsHealthy() })
}

func TestPingChecker_ProbeHonoursTimeout(t *testing.T) {
	p := PingerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	c := NewPingChecker("slow", p, zerolog.Nop(), 20*time.Millisecond)
	start := time.Now()
	c.Probe(context.Background())
	assert.False(t, c.IsHealthy())
	assert.Less(t, time.Since(start), time.Second)
}

func waitTrue(t *testing.T, pred func() bool) {
	t.Helper()
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if pred() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before timeout")
}
