package store

import (
	"sync"
	"time"
)

// Resolution is the timestamp precision every driver can persist exactly.
const Resolution = time.Microsecond

// Clock hands out strictly increasing UTC timestamps at Resolution, so two
// records inserted back to back never share a CreatedAt. Range deletes by
// timestamp rely on this.
type Clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func NewClock() *Clock { return &Clock{now: time.Now} }

// NewClockAt is used by tests that need a controlled time source.
func NewClockAt(now func() time.Time) *Clock { return &Clock{now: now} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().UTC().Truncate(Resolution)
	if !t.After(c.last) {
		t = c.last.Add(Resolution)
	}
	c.last = t
	return t
}

// Observe advances the clock past an externally assigned timestamp.
func (c *Clock) Observe(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t = t.UTC().Truncate(Resolution)
	if t.After(c.last) {
		c.last = t
	}
}
