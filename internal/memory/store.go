// Package memory layers best-effort conversational memory over a vector-capable
// store: embedding on write, similarity recall, and summarize-then-prune
// compaction. Public operations degrade to empty results instead of failing.
package memory

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/mycelian/mycelian-chat/internal/embeddings"
	"github.com/mycelian/mycelian-chat/internal/model"
	"github.com/mycelian/mycelian-chat/internal/searchindex"
	"github.com/mycelian/mycelian-chat/internal/store"
)

const (
	DefaultRecallK           = 4
	DefaultRecallThreshold   = 0.7
	DefaultConversationLimit = 50
)

// RecallQuery scopes Recall. An empty ConversationID searches all of the
// user's conversations. Zero K or Threshold take the defaults.
type RecallQuery struct {
	UserID         string
	ConversationID string
	Query          string
	K              int
	Threshold      *float64
}

// Store is the embedding store adapter.
type Store struct {
	backend  store.Store
	embedder embeddings.Provider
	index    searchindex.Index
	mirror   bool
	locks    *KeyedMutex
	log      zerolog.Logger
}

type Option func(*Store)

// WithIndex serves Recall from an external vector index instead of the store.
// With mirror set, writes and deletes are also applied to the index directly;
// leave it unset when an outbox propagates them.
func WithIndex(idx searchindex.Index, mirror bool) Option {
	return func(s *Store) {
		s.index = idx
		s.mirror = mirror
	}
}

// WithLocks shares a KeyedMutex, e.g. between several adapters over one backend.
func WithLocks(k *KeyedMutex) Option {
	return func(s *Store) { s.locks = k }
}

func NewStore(backend store.Store, embedder embeddings.Provider, log zerolog.Logger, opts ...Option) *Store {
	s := &Store{backend: backend, embedder: embedder, locks: NewKeyedMutex(), log: log}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Locks returns the per-conversation mutex shared with the Pruner.
func (s *Store) Locks() *KeyedMutex { return s.locks }

// Add embeds content and appends a record. It reports false, having written
// nothing, when the role is not storable or either step fails.
func (s *Store) Add(ctx context.Context, userID, conversationID string, role model.Role, content string) bool {
	if userID == "" || conversationID == "" || !role.Valid() {
		return false
	}
	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Str("conversation_id", conversationID).Msg("embed failed; record not stored")
		return false
	}

	unlock := s.locks.Lock(userID, conversationID)
	defer unlock()

	rec, err := s.backend.Records().Insert(ctx, &model.MemoryRecord{
		UserID:         userID,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Embedding:      vec,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Str("conversation_id", conversationID).Msg("insert failed")
		return false
	}
	if s.mirror && s.index != nil {
		if err := s.index.Upsert(ctx, *rec); err != nil {
			s.log.Warn().Err(err).Str("record_id", rec.ID).Msg("index upsert failed")
		}
	}
	return true
}

// Recall returns at most K matches, each at or above Threshold, best first.
func (s *Store) Recall(ctx context.Context, q RecallQuery) []model.RecallMatch {
	k := q.K
	if k <= 0 {
		k = DefaultRecallK
	}
	threshold := DefaultRecallThreshold
	if q.Threshold != nil {
		threshold = *q.Threshold
	}
	if q.UserID == "" || q.Query == "" {
		return nil
	}
	vec, err := s.embedder.Embed(ctx, q.Query)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", q.UserID).Msg("recall embed failed")
		return nil
	}

	var matches []model.RecallMatch
	if s.index != nil {
		matches, err = s.index.Search(ctx, searchindex.Query{
			UserID: q.UserID, ConversationID: q.ConversationID, Vector: vec, K: k, Threshold: threshold,
		})
	} else {
		matches, err = s.backend.Records().Similar(ctx, store.SimilarQuery{
			UserID: q.UserID, ConversationID: q.ConversationID, Vector: vec, K: k, Threshold: threshold,
		})
	}
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", q.UserID).Msg("recall query failed")
		return nil
	}
	return bound(matches, k, threshold)
}

// bound re-applies the recall contract to backend output.
func bound(matches []model.RecallMatch, k int, threshold float64) []model.RecallMatch {
	out := make([]model.RecallMatch, 0, len(matches))
	for _, m := range matches {
		if m.Similarity >= threshold {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// GetConversation returns up to limit records, oldest first. limit <= 0 means 50.
func (s *Store) GetConversation(ctx context.Context, userID, conversationID string, limit int) []model.MemoryRecord {
	if limit <= 0 {
		limit = DefaultConversationLimit
	}
	recs, err := s.backend.Records().List(ctx, userID, conversationID, limit)
	if err != nil {
		s.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("list records failed")
		return nil
	}
	return recs
}

// CountMessages returns 0 when the count cannot be read.
func (s *Store) CountMessages(ctx context.Context, userID, conversationID string) int {
	n, err := s.backend.Records().Count(ctx, userID, conversationID)
	if err != nil {
		s.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("count records failed")
		return 0
	}
	return n
}

func (s *Store) DeleteConversation(ctx context.Context, userID, conversationID string) bool {
	unlock := s.locks.Lock(userID, conversationID)
	defer unlock()

	if _, err := s.backend.Records().DeleteConversation(ctx, userID, conversationID); err != nil {
		s.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("delete conversation failed")
		return false
	}
	if s.mirror && s.index != nil {
		if err := s.index.DeleteConversation(ctx, userID, conversationID); err != nil {
			s.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("index delete failed")
		}
	}
	return true
}

// DeleteUpTo removes every record with CreatedAt <= upTo.
func (s *Store) DeleteUpTo(ctx context.Context, userID, conversationID string, upTo time.Time) error {
	unlock := s.locks.Lock(userID, conversationID)
	defer unlock()
	_, err := s.deleteUpTo(ctx, userID, conversationID, upTo)
	return err
}

// deleteUpTo expects the caller to hold the conversation lock.
func (s *Store) deleteUpTo(ctx context.Context, userID, conversationID string, upTo time.Time) (int, error) {
	n, err := s.backend.Records().DeleteUpTo(ctx, userID, conversationID, upTo)
	if err != nil {
		return 0, err
	}
	if s.mirror && s.index != nil {
		if err := s.index.DeleteUpTo(ctx, userID, conversationID, upTo); err != nil {
			s.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("index range delete failed")
		}
	}
	return n, nil
}

// ListConversationIDs returns each conversation once, most recent first.
func (s *Store) ListConversationIDs(ctx context.Context, userID string) []string {
	ids, err := s.backend.Records().ConversationIDs(ctx, userID)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("list conversations failed")
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Summaries lists the stored summaries of a conversation, oldest first.
func (s *Store) Summaries(ctx context.Context, userID, conversationID string) []model.ConversationSummary {
	sums, err := s.backend.Summaries().List(ctx, userID, conversationID)
	if err != nil {
		s.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("list summaries failed")
		return nil
	}
	return sums
}
