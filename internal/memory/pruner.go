package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mycelian/mycelian-chat/internal/metrics"
	"github.com/mycelian/mycelian-chat/internal/model"
)

const (
	PruneThreshold     = 20
	KeepRecent         = 10
	PruneFetchLimit    = 100
	SummaryTemperature = 0.3
	SummaryMaxTokens   = 500

	DefaultSummaryTimeout = 60 * time.Second
)

const summaryInstruction = "Please provide a concise summary of the following conversation:\n\n"

// State is the pruning state of a conversation.
type State string

const (
	StateBelowThreshold State = "below_threshold"
	StateEligible       State = "eligible"
)

// Outcome reports what a SummarizeAndPrune call did.
type Outcome string

const (
	OutcomeNone        Outcome = "none"
	OutcomeSummarized  Outcome = "summarized"
	OutcomeRaceAborted Outcome = "race_aborted"
	OutcomeFailed      Outcome = "failed"
)

type PruneResult struct {
	State   State                      `json:"state"`
	Outcome Outcome                    `json:"outcome"`
	Summary *model.ConversationSummary `json:"summary,omitempty"`
	Deleted int                        `json:"deleted"`
	Err     error                      `json:"-"`
}

// PrunerConfig overrides the pruning constants. Zero fields keep the defaults.
type PrunerConfig struct {
	Threshold  int
	KeepRecent int
	FetchLimit int
	// SummaryTimeout bounds a single summarizer call.
	SummaryTimeout time.Duration
}

func (c PrunerConfig) withDefaults() PrunerConfig {
	if c.Threshold <= 0 {
		c.Threshold = PruneThreshold
	}
	if c.KeepRecent <= 0 {
		c.KeepRecent = KeepRecent
	}
	if c.FetchLimit <= 0 {
		c.FetchLimit = PruneFetchLimit
	}
	if c.SummaryTimeout <= 0 {
		c.SummaryTimeout = DefaultSummaryTimeout
	}
	return c
}

// Pruner compresses a conversation's older records into a summary once it
// reaches the threshold. It locks the same keys as the Store it wraps.
type Pruner struct {
	store      *Store
	summarizer Summarizer
	cfg        PrunerConfig
	metrics    *metrics.Metrics
	log        zerolog.Logger
}

// NewPruner builds a Pruner. summarizer may be nil when every call supplies
// its own through SummarizeAndPruneWith.
func NewPruner(s *Store, summarizer Summarizer, cfg PrunerConfig, m *metrics.Metrics, log zerolog.Logger) *Pruner {
	return &Pruner{store: s, summarizer: summarizer, cfg: cfg.withDefaults(), metrics: m, log: log}
}

// HasSummarizer reports whether a default summarizer is configured.
func (p *Pruner) HasSummarizer() bool { return p.summarizer != nil }

func (p *Pruner) Config() PrunerConfig { return p.cfg }

func (p *Pruner) Evaluate(ctx context.Context, userID, conversationID string) State {
	if p.store.CountMessages(ctx, userID, conversationID) < p.cfg.Threshold {
		return StateBelowThreshold
	}
	return StateEligible
}

func (p *Pruner) SummarizeAndPrune(ctx context.Context, userID, conversationID string) PruneResult {
	return p.SummarizeAndPruneWith(ctx, p.summarizer, userID, conversationID)
}

// SummarizeAndPruneWith runs one pruning pass using s. Nothing is deleted
// unless the summary was produced and stored.
func (p *Pruner) SummarizeAndPruneWith(ctx context.Context, s Summarizer, userID, conversationID string) PruneResult {
	res := p.prune(ctx, s, userID, conversationID)
	if res.Outcome != OutcomeNone {
		p.metrics.ObservePrune(string(res.Outcome))
	}
	ev := p.log.Debug()
	if res.Outcome == OutcomeFailed {
		ev = p.log.Warn().Err(res.Err)
	}
	ev.Str("user_id", userID).
		Str("conversation_id", conversationID).
		Str("state", string(res.State)).
		Str("outcome", string(res.Outcome)).
		Int("deleted", res.Deleted).
		Msg("prune check")
	return res
}

func (p *Pruner) prune(ctx context.Context, s Summarizer, userID, conversationID string) PruneResult {
	res, toSummarize := p.snapshot(ctx, userID, conversationID)
	if res.Outcome != "" {
		return res
	}
	if s == nil {
		res.Outcome, res.Err = OutcomeFailed, fmt.Errorf("no summarizer configured")
		return res
	}

	// The conversation stays unlocked while the provider works.
	sctx, cancel := context.WithTimeout(ctx, p.cfg.SummaryTimeout)
	text, err := s.Summarize(sctx, []model.Message{{
		Role:    model.RoleUser,
		Content: summaryInstruction + Transcript(toSummarize),
	}}, SummaryTemperature, SummaryMaxTokens)
	cancel()
	if err != nil {
		res.Outcome, res.Err = OutcomeFailed, err
		return res
	}
	return p.commit(ctx, res, userID, conversationID, toSummarize, text)
}

// snapshot picks the records a pass summarizes: the oldest FetchLimit records
// minus the newest KeepRecent of that window. A set Outcome ends the pass.
func (p *Pruner) snapshot(ctx context.Context, userID, conversationID string) (PruneResult, []model.MemoryRecord) {
	unlock := p.store.locks.Lock(userID, conversationID)
	defer unlock()

	records := p.store.backend.Records()
	count, err := records.Count(ctx, userID, conversationID)
	if err != nil || count < p.cfg.Threshold {
		return PruneResult{State: StateBelowThreshold, Outcome: OutcomeNone}, nil
	}
	res := PruneResult{State: StateEligible}

	oldest, err := records.List(ctx, userID, conversationID, p.cfg.FetchLimit)
	if err != nil {
		res.Outcome, res.Err = OutcomeFailed, fmt.Errorf("fetch records: %w", err)
		return res, nil
	}
	if len(oldest) < p.cfg.Threshold || len(oldest) <= p.cfg.KeepRecent {
		res.Outcome = OutcomeRaceAborted
		return res, nil
	}
	return res, oldest[:len(oldest)-p.cfg.KeepRecent]
}

// commit stores the summary and deletes the records it covers, provided they
// are still the oldest records of the conversation.
func (p *Pruner) commit(ctx context.Context, res PruneResult, userID, conversationID string, toSummarize []model.MemoryRecord, text string) PruneResult {
	unlock := p.store.locks.Lock(userID, conversationID)
	defer unlock()

	current, err := p.store.backend.Records().List(ctx, userID, conversationID, len(toSummarize))
	if err != nil {
		res.Outcome, res.Err = OutcomeFailed, fmt.Errorf("recheck records: %w", err)
		return res
	}
	if !sameRecords(current, toSummarize) {
		res.Outcome = OutcomeRaceAborted
		return res
	}

	sum, err := p.store.backend.Summaries().Create(ctx, &model.ConversationSummary{
		UserID:         userID,
		ConversationID: conversationID,
		Summary:        text,
		MessagesCount:  len(toSummarize),
	})
	if err != nil {
		res.Outcome, res.Err = OutcomeFailed, fmt.Errorf("store summary: %w", err)
		return res
	}
	res.Summary = sum

	cutoff := toSummarize[len(toSummarize)-1].CreatedAt
	n, err := p.store.deleteUpTo(ctx, userID, conversationID, cutoff)
	if err != nil {
		res.Outcome, res.Err = OutcomeFailed, fmt.Errorf("delete summarized records: %w", err)
		return res
	}
	res.Deleted = n
	res.Outcome = OutcomeSummarized
	return res
}

func sameRecords(a, b []model.MemoryRecord) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}
	return true
}

// Transcript renders records as newline-joined "role: content" lines.
func Transcript(recs []model.MemoryRecord) string {
	lines := make([]string, len(recs))
	for i, r := range recs {
		lines[i] = string(r.Role) + ": " + r.Content
	}
	return strings.Join(lines, "\n")
}
