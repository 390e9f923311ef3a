// Package memstore is an in-process store.Store used by tests and the
// "memory" DB driver. Data does not survive a restart.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mycelian/mycelian-chat/internal/model"
	"github.com/mycelian/mycelian-chat/internal/store"
)

type memStore struct {
	mu        sync.RWMutex
	clock     *store.Clock
	records   []model.MemoryRecord
	summaries []model.ConversationSummary
	usage     []model.UsageRecord
}

func New() store.Store { return &memStore{clock: store.NewClock()} }

func (s *memStore) Records() store.Records     { return (*records)(s) }
func (s *memStore) Summaries() store.Summaries { return (*summaries)(s) }
func (s *memStore) Usage() store.Usage         { return (*usage)(s) }

func (s *memStore) HealthPing(context.Context) error { return nil }

func cloneRecord(r model.MemoryRecord) model.MemoryRecord {
	r.Embedding = append([]float32(nil), r.Embedding...)
	return r
}

// --- Records ---
type records memStore

func (r *records) Insert(_ context.Context, rec *model.MemoryRecord) (*model.MemoryRecord, error) {
	out := cloneRecord(*rec)
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if out.CreatedAt.IsZero() {
		out.CreatedAt = r.clock.Now()
	} else {
		out.CreatedAt = out.CreatedAt.UTC().Truncate(store.Resolution)
		r.clock.Observe(out.CreatedAt)
	}
	r.records = append(r.records, out)
	sort.SliceStable(r.records, func(i, j int) bool { return r.records[i].CreatedAt.Before(r.records[j].CreatedAt) })
	ret := cloneRecord(out)
	return &ret, nil
}

// scoped returns the conversation's records in ascending CreatedAt order.
func (r *records) scoped(userID, conversationID string) []model.MemoryRecord {
	return r.filter(func(rec model.MemoryRecord) bool {
		return rec.UserID == userID && rec.ConversationID == conversationID
	})
}

func (r *records) filter(match func(model.MemoryRecord) bool) []model.MemoryRecord {
	var out []model.MemoryRecord
	for _, rec := range r.records {
		if match(rec) {
			out = append(out, cloneRecord(rec))
		}
	}
	return out
}

// Similar searches every conversation of the user when ConversationID is empty.
func (r *records) Similar(_ context.Context, q store.SimilarQuery) ([]model.RecallMatch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	candidates := r.filter(func(rec model.MemoryRecord) bool {
		return rec.UserID == q.UserID && (q.ConversationID == "" || rec.ConversationID == q.ConversationID)
	})
	return store.Rank(candidates, q), nil
}

func (r *records) List(_ context.Context, userID, conversationID string, limit int) ([]model.MemoryRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := r.scoped(userID, conversationID)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *records) Recent(_ context.Context, userID, conversationID string, limit int) ([]model.MemoryRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := r.scoped(userID, conversationID)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (r *records) Count(_ context.Context, userID, conversationID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.scoped(userID, conversationID)), nil
}

func (r *records) deleteWhere(match func(model.MemoryRecord) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.records[:0]
	n := 0
	for _, rec := range r.records {
		if match(rec) {
			n++
			continue
		}
		kept = append(kept, rec)
	}
	r.records = kept
	return n
}

func (r *records) DeleteConversation(_ context.Context, userID, conversationID string) (int, error) {
	return r.deleteWhere(func(rec model.MemoryRecord) bool {
		return rec.UserID == userID && rec.ConversationID == conversationID
	}), nil
}

func (r *records) DeleteUpTo(_ context.Context, userID, conversationID string, upTo time.Time) (int, error) {
	return r.deleteWhere(func(rec model.MemoryRecord) bool {
		return rec.UserID == userID && rec.ConversationID == conversationID && !rec.CreatedAt.After(upTo)
	}), nil
}

func (r *records) ConversationIDs(_ context.Context, userID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for i := len(r.records) - 1; i >= 0; i-- {
		rec := r.records[i]
		if rec.UserID != userID || rec.ConversationID == "" || seen[rec.ConversationID] {
			continue
		}
		seen[rec.ConversationID] = true
		out = append(out, rec.ConversationID)
	}
	return out, nil
}

// --- Summaries ---
type summaries memStore

func (s *summaries) Create(_ context.Context, sum *model.ConversationSummary) (*model.ConversationSummary, error) {
	out := *sum
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if out.CreatedAt.IsZero() {
		out.CreatedAt = s.clock.Now()
	}
	s.summaries = append(s.summaries, out)
	return &out, nil
}

func (s *summaries) List(_ context.Context, userID, conversationID string) ([]model.ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.ConversationSummary
	for _, sum := range s.summaries {
		if sum.UserID == userID && sum.ConversationID == conversationID {
			out = append(out, sum)
		}
	}
	return out, nil
}

// --- Usage ---
type usage memStore

func (u *usage) Append(_ context.Context, rec *model.UsageRecord) error {
	out := *rec
	u.mu.Lock()
	defer u.mu.Unlock()
	if out.Timestamp.IsZero() {
		out.Timestamp = u.clock.Now()
	}
	u.usage = append(u.usage, out)
	return nil
}

func (u *usage) Since(_ context.Context, userID string, since time.Time) ([]model.UsageRecord, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	var out []model.UsageRecord
	for _, rec := range u.usage {
		if rec.UserID == userID && !rec.Timestamp.Before(since) {
			out = append(out, rec)
		}
	}
	return out, nil
}
