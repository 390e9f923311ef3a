// Package analytics records per-turn usage and aggregates it per user.
package analytics

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/mycelian/mycelian-chat/internal/model"
	"github.com/mycelian/mycelian-chat/internal/store"
)

// StatsWindow is the look-back period of Stats.
const StatsWindow = 30 * 24 * time.Hour

// Sink accepts usage records. It is append-only.
type Sink interface {
	Log(ctx context.Context, rec model.UsageRecord) error
}

// NopSink drops every record.
type NopSink struct{}

func (NopSink) Log(context.Context, model.UsageRecord) error { return nil }

// StoreSink appends records to a store.Usage backend.
type StoreSink struct {
	usage store.Usage
	now   func() time.Time
	log   zerolog.Logger
}

func NewStoreSink(u store.Usage, log zerolog.Logger) *StoreSink {
	return &StoreSink{usage: u, now: time.Now, log: log}
}

func (s *StoreSink) Log(ctx context.Context, rec model.UsageRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now().UTC()
	}
	if rec.TotalTokens == 0 {
		rec.TotalTokens = rec.PromptTokens + rec.CompletionTokens
	}
	return s.usage.Append(ctx, &rec)
}

// UserStats aggregates a user's usage over StatsWindow.
type UserStats struct {
	TotalRequests    int     `json:"totalRequests"`
	TotalTokens      int     `json:"totalTokens"`
	TotalCost        float64 `json:"totalCost"`
	FavoriteProvider string  `json:"favoriteProvider"`
	FavoriteModel    string  `json:"favoriteModel"`
}

const none = "None"

func emptyStats() UserStats {
	return UserStats{FavoriteProvider: none, FavoriteModel: none}
}

// Stats reads the last StatsWindow of usage. Read failures yield empty stats.
func (s *StoreSink) Stats(ctx context.Context, userID string) UserStats {
	recs, err := s.usage.Since(ctx, userID, s.now().Add(-StatsWindow))
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("usage stats read failed")
		return emptyStats()
	}
	return Aggregate(recs)
}

// Aggregate folds usage records into UserStats. Favourites break ties by first appearance.
func Aggregate(recs []model.UsageRecord) UserStats {
	if len(recs) == 0 {
		return emptyStats()
	}
	out := UserStats{TotalRequests: len(recs)}
	providers := newTally()
	models := newTally()
	for _, r := range recs {
		out.TotalTokens += r.TotalTokens
		out.TotalCost += r.EstimatedCost
		providers.add(r.Provider)
		models.add(r.Model)
	}
	out.TotalCost = math.Round(out.TotalCost*1e4) / 1e4
	out.FavoriteProvider = providers.top()
	out.FavoriteModel = models.top()
	return out
}

type tally struct {
	order  []string
	counts map[string]int
}

func newTally() *tally { return &tally{counts: make(map[string]int)} }

func (t *tally) add(k string) {
	if _, ok := t.counts[k]; !ok {
		t.order = append(t.order, k)
	}
	t.counts[k]++
}

func (t *tally) top() string {
	best, bestN := none, 0
	for _, k := range t.order {
		if t.counts[k] > bestN {
			best, bestN = k, t.counts[k]
		}
	}
	return best
}
