// Package outbox drains the Postgres outbox table into the vector search index.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/mycelian/mycelian-chat/internal/embeddings"
	"github.com/mycelian/mycelian-chat/internal/metrics"
	"github.com/mycelian/mycelian-chat/internal/model"
	"github.com/mycelian/mycelian-chat/internal/searchindex"
	"github.com/mycelian/mycelian-chat/internal/store/postgres"
)

const (
	selectReadyRowsSQL = `
SELECT id, op, payload, aggregate_id
FROM outbox
WHERE status = 'pending' AND next_attempt_at <= now()
ORDER BY id ASC
FOR UPDATE SKIP LOCKED
LIMIT $1`

	markDoneSQL = `UPDATE outbox SET status='done', update_time=now() WHERE id=$1`

	markFailedSQL = `
UPDATE outbox
SET attempt_count = attempt_count + 1,
    next_attempt_at = now() + make_interval(secs => LEAST(POWER(2, attempt_count+1), 300)),
    update_time = now()
WHERE id=$1`
)

// Config controls batch size and polling cadence.
type Config struct {
	BatchSize int           // number of rows to lease per cycle
	Interval  time.Duration // poll interval
}

// Worker processes outbox rows and applies them to the search index.
type Worker struct {
	db       *sql.DB
	log      zerolog.Logger
	embedder embeddings.Provider
	index    searchindex.Index
	metrics  *metrics.Metrics
	cfg      Config
}

// NewWorker constructs a Worker. emb may be nil; it is only consulted for
// records written without an embedding. m may be nil.
func NewWorker(db *sql.DB, emb embeddings.Provider, idx searchindex.Index, m *metrics.Metrics, cfg Config, log zerolog.Logger) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	return &Worker{db: db, log: log, embedder: emb, index: idx, metrics: m, cfg: cfg}
}

// Run starts the polling loop until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Int("batch", w.cfg.BatchSize).Dur("interval", w.cfg.Interval).Msg("outbox worker starting")
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("outbox worker stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := w.processOnce(ctx); err != nil {
				// per-row backoff prevents hot-looping
				w.log.Error().Err(err).Msg("outbox processOnce")
			}
		}
	}
}

type job struct {
	id          int64
	op          string
	aggregateID string
	payload     json.RawMessage
}

// recordPayload is the union of fields written by the postgres store.
type recordPayload struct {
	UserID         string     `json:"userId"`
	ConversationID string     `json:"conversationId"`
	Role           string     `json:"role"`
	Content        string     `json:"content"`
	Embedding      []float32  `json:"embedding"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpTo           *time.Time `json:"upTo"`
}

func (w *Worker) processOnce(ctx context.Context) error {
	tx, err := w.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	jobs, err := w.leaseBatch(ctx, tx, w.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return tx.Commit()
	}

	for _, j := range jobs {
		if err := w.handle(ctx, j); err != nil {
			w.log.Warn().Err(err).Int64("id", j.id).Str("op", j.op).Msg("outbox job failed")
			w.metrics.ObserveOutbox(j.op, false)
			if e := w.markFailed(ctx, tx, j.id); e != nil {
				w.log.Error().Err(e).Int64("id", j.id).Msg("markFailed error")
			}
			continue
		}
		w.metrics.ObserveOutbox(j.op, true)
		if e := w.markDone(ctx, tx, j.id); e != nil {
			w.log.Error().Err(e).Int64("id", j.id).Msg("markDone error")
		}
	}

	return tx.Commit()
}

// leaseBatch locks and returns up to batchSize ready outbox rows.
func (w *Worker) leaseBatch(ctx context.Context, tx *sql.Tx, batchSize int) ([]job, error) {
	rows, err := tx.QueryContext(ctx, selectReadyRowsSQL, batchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []job
	for rows.Next() {
		var j job
		var raw []byte
		if err := rows.Scan(&j.id, &j.op, &raw, &j.aggregateID); err != nil {
			return nil, err
		}
		j.payload = raw
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// handle applies one outbox operation to the index. Every op is idempotent.
func (w *Worker) handle(ctx context.Context, j job) error {
	var p recordPayload
	if err := json.Unmarshal(j.payload, &p); err != nil {
		return errors.Wrap(err, "bad payload")
	}
	if p.UserID == "" {
		return fmt.Errorf("payload missing userId")
	}
	switch j.op {
	case postgres.OpUpsertRecord:
		rec := model.MemoryRecord{
			ID:             j.aggregateID,
			UserID:         p.UserID,
			ConversationID: p.ConversationID,
			Role:           model.Role(p.Role),
			Content:        p.Content,
			Embedding:      p.Embedding,
			CreatedAt:      p.CreatedAt,
		}
		if len(rec.Embedding) == 0 {
			vec, err := w.embed(ctx, rec.Content)
			if err != nil {
				return errors.Wrap(err, "embed")
			}
			rec.Embedding = vec
		}
		return w.index.Upsert(ctx, rec)
	case postgres.OpDeleteConversation:
		return w.index.DeleteConversation(ctx, p.UserID, p.ConversationID)
	case postgres.OpDeleteUpTo:
		if p.UpTo == nil {
			return fmt.Errorf("payload missing upTo")
		}
		return w.index.DeleteUpTo(ctx, p.UserID, p.ConversationID, *p.UpTo)
	default:
		return fmt.Errorf("unknown op: %s", j.op)
	}
}

func (w *Worker) markDone(ctx context.Context, tx *sql.Tx, id int64) error {
	_, err := tx.ExecContext(ctx, markDoneSQL, id)
	return err
}

func (w *Worker) markFailed(ctx context.Context, tx *sql.Tx, id int64) error {
	_, err := tx.ExecContext(ctx, markFailedSQL, id)
	return err
}

func (w *Worker) embed(ctx context.Context, text string) ([]float32, error) {
	if w.embedder == nil || text == "" {
		return nil, nil
	}
	return w.embedder.Embed(ctx, text)
}
