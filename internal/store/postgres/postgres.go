// Package postgres implements store.Store on PostgreSQL through the pgx
// stdlib driver. With outbox enabled, every record insert or delete also
// enqueues an outbox row in the same transaction for the search indexer.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/mycelian/mycelian-chat/internal/model"
	"github.com/mycelian/mycelian-chat/internal/store"
)

// Outbox operation names consumed by internal/outbox.
const (
	OpUpsertRecord       = "upsert_record"
	OpDeleteConversation = "delete_conversation"
	OpDeleteUpTo         = "delete_up_to"
)

type Option func(*pgStore)

// WithOutbox enables transactional outbox writes for record mutations.
func WithOutbox() Option { return func(s *pgStore) { s.outbox = true } }

// NewWithDB constructs a native Postgres store backed directly by database/sql.
func NewWithDB(db *sql.DB, opts ...Option) store.Store {
	s := &pgStore{db: db, clock: store.NewClock()}
	for _, o := range opts {
		o(s)
	}
	return s
}

type pgStore struct {
	db     *sql.DB
	clock  *store.Clock
	outbox bool
}

func (s *pgStore) Records() store.Records     { return &records{pgStore: s} }
func (s *pgStore) Summaries() store.Summaries { return &summaries{db: s.db, clock: s.clock} }
func (s *pgStore) Usage() store.Usage         { return &usage{db: s.db} }

// HealthPing implements health.HealthPinger for Postgres-backed store.
func (s *pgStore) HealthPing(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- Records ---
type records struct{ *pgStore }

const recordColumns = `id, user_id, conversation_id, role, content, embedding, created_at`

func scanRecords(rows *sql.Rows) ([]model.MemoryRecord, error) {
	defer func() { _ = rows.Close() }()
	var out []model.MemoryRecord
	for rows.Next() {
		var (
			rec  model.MemoryRecord
			role string
			emb  []byte
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.ConversationID, &role, &rec.Content, &emb, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Role = model.Role(role)
		rec.CreatedAt = rec.CreatedAt.UTC()
		if len(emb) > 0 {
			if err := json.Unmarshal(emb, &rec.Embedding); err != nil {
				return nil, err
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *records) Insert(ctx context.Context, rec *model.MemoryRecord) (*model.MemoryRecord, error) {
	out := *rec
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = r.clock.Now()
	} else {
		out.CreatedAt = out.CreatedAt.UTC().Truncate(store.Resolution)
		r.clock.Observe(out.CreatedAt)
	}
	emb := out.Embedding
	if emb == nil {
		emb = []float32{}
	}
	embJSON, err := json.Marshal(emb)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
        INSERT INTO memory_records (`+recordColumns+`)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
    `, out.ID, out.UserID, out.ConversationID, string(out.Role), out.Content, embJSON, out.CreatedAt); err != nil {
		return nil, err
	}
	if r.outbox {
		payload := map[string]interface{}{
			"userId":         out.UserID,
			"conversationId": out.ConversationID,
			"role":           string(out.Role),
			"content":        out.Content,
			"embedding":      emb,
			"createdAt":      out.CreatedAt,
		}
		if err := writeOutbox(ctx, tx, OpUpsertRecord, out.ID, payload); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *records) Similar(ctx context.Context, q store.SimilarQuery) ([]model.RecallMatch, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if q.ConversationID != "" {
		rows, err = r.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM memory_records
            WHERE user_id=$1 AND conversation_id=$2 ORDER BY created_at ASC`, q.UserID, q.ConversationID)
	} else {
		rows, err = r.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM memory_records
            WHERE user_id=$1 ORDER BY created_at ASC`, q.UserID)
	}
	if err != nil {
		return nil, err
	}
	cands, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	return store.Rank(cands, q), nil
}

func nullLimit(limit int) interface{} {
	if limit <= 0 {
		return nil // LIMIT NULL means no limit
	}
	return limit
}

func (r *records) List(ctx context.Context, userID, conversationID string, limit int) ([]model.MemoryRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM memory_records
        WHERE user_id=$1 AND conversation_id=$2 ORDER BY created_at ASC LIMIT $3`, userID, conversationID, nullLimit(limit))
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

func (r *records) Recent(ctx context.Context, userID, conversationID string, limit int) ([]model.MemoryRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM (
            SELECT `+recordColumns+` FROM memory_records
            WHERE user_id=$1 AND conversation_id=$2 ORDER BY created_at DESC LIMIT $3
        ) recent ORDER BY created_at ASC`, userID, conversationID, nullLimit(limit))
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

func (r *records) Count(ctx context.Context, userID, conversationID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_records WHERE user_id=$1 AND conversation_id=$2`,
		userID, conversationID).Scan(&n)
	return n, err
}

// deleteWithOutbox runs a delete and, when enabled, its outbox row atomically.
func (r *records) deleteWithOutbox(ctx context.Context, op, aggregateID string, payload map[string]interface{}, query string, args ...interface{}) (int, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if r.outbox && n > 0 {
		if err := writeOutbox(ctx, tx, op, aggregateID, payload); err != nil {
			return 0, err
		}
	}
	return int(n), tx.Commit()
}

func (r *records) DeleteConversation(ctx context.Context, userID, conversationID string) (int, error) {
	return r.deleteWithOutbox(ctx, OpDeleteConversation, conversationID,
		map[string]interface{}{"userId": userID, "conversationId": conversationID},
		`DELETE FROM memory_records WHERE user_id=$1 AND conversation_id=$2`, userID, conversationID)
}

func (r *records) DeleteUpTo(ctx context.Context, userID, conversationID string, upTo time.Time) (int, error) {
	upTo = upTo.UTC()
	return r.deleteWithOutbox(ctx, OpDeleteUpTo, conversationID,
		map[string]interface{}{"userId": userID, "conversationId": conversationID, "upTo": upTo},
		`DELETE FROM memory_records WHERE user_id=$1 AND conversation_id=$2 AND created_at<=$3`, userID, conversationID, upTo)
}

func (r *records) ConversationIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT conversation_id FROM memory_records WHERE user_id=$1 AND conversation_id<>''
        GROUP BY conversation_id ORDER BY MAX(created_at) DESC
    `, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// --- Summaries ---
type summaries struct {
	db    *sql.DB
	clock *store.Clock
}

func (s *summaries) Create(ctx context.Context, sum *model.ConversationSummary) (*model.ConversationSummary, error) {
	out := *sum
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = s.clock.Now()
	}
	if _, err := s.db.ExecContext(ctx, `
        INSERT INTO conversation_summaries (id, user_id, conversation_id, summary, messages_count, created_at)
        VALUES ($1,$2,$3,$4,$5,$6)
    `, out.ID, out.UserID, out.ConversationID, out.Summary, out.MessagesCount, out.CreatedAt); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *summaries) List(ctx context.Context, userID, conversationID string) ([]model.ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, summary, messages_count, created_at FROM conversation_summaries
        WHERE user_id=$1 AND conversation_id=$2 ORDER BY created_at ASC
    `, userID, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.ConversationSummary
	for rows.Next() {
		sum := model.ConversationSummary{UserID: userID, ConversationID: conversationID}
		if err := rows.Scan(&sum.ID, &sum.Summary, &sum.MessagesCount, &sum.CreatedAt); err != nil {
			return nil, err
		}
		sum.CreatedAt = sum.CreatedAt.UTC()
		out = append(out, sum)
	}
	return out, rows.Err()
}

// --- Usage ---
type usage struct{ db *sql.DB }

func (u *usage) Append(ctx context.Context, rec *model.UsageRecord) error {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := u.db.ExecContext(ctx, `
        INSERT INTO usage_records (user_id, provider, model, prompt_tokens, completion_tokens, total_tokens, estimated_cost, conversation_id, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
    `, rec.UserID, rec.Provider, rec.Model, rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens, rec.EstimatedCost, rec.ConversationID, ts.UTC())
	return err
}

func (u *usage) Since(ctx context.Context, userID string, since time.Time) ([]model.UsageRecord, error) {
	rows, err := u.db.QueryContext(ctx, `
        SELECT provider, model, prompt_tokens, completion_tokens, total_tokens, estimated_cost, conversation_id, created_at
        FROM usage_records WHERE user_id=$1 AND created_at>=$2 ORDER BY created_at ASC, seq ASC
    `, userID, since.UTC())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.UsageRecord
	for rows.Next() {
		rec := model.UsageRecord{UserID: userID}
		if err := rows.Scan(&rec.Provider, &rec.Model, &rec.PromptTokens, &rec.CompletionTokens, &rec.TotalTokens, &rec.EstimatedCost, &rec.ConversationID, &rec.Timestamp); err != nil {
			return nil, err
		}
		rec.Timestamp = rec.Timestamp.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func writeOutbox(ctx context.Context, tx *sql.Tx, op string, aggregateID string, payload map[string]interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO outbox (aggregate_id, op, payload) VALUES ($1,$2,$3)`, aggregateID, op, b)
	return err
}
