// Package sqlite implements store.Store on a local SQLite file. Timestamps are
// stored as unix microseconds; embeddings as JSON arrays.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/mycelian/mycelian-chat/internal/model"
	"github.com/mycelian/mycelian-chat/internal/store"
)

type sqliteStore struct {
	db    *sql.DB
	clock *store.Clock
}

// New opens the database at path, creates the schema, and returns the store.
func New(ctx context.Context, path string) (store.Store, *sql.DB, error) {
	db, err := Open(path)
	if err != nil {
		return nil, nil, err
	}
	if err := EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return NewWithDB(db), db, nil
}

// NewWithDB wraps an existing connection whose schema is already in place.
func NewWithDB(db *sql.DB) store.Store {
	return &sqliteStore{db: db, clock: store.NewClock()}
}

func (s *sqliteStore) Records() store.Records     { return &records{db: s.db, clock: s.clock} }
func (s *sqliteStore) Summaries() store.Summaries { return &summaries{db: s.db, clock: s.clock} }
func (s *sqliteStore) Usage() store.Usage         { return &usage{db: s.db} }

// HealthPing implements health.HealthPinger.
func (s *sqliteStore) HealthPing(ctx context.Context) error { return s.db.PingContext(ctx) }

func toMicros(t time.Time) int64 { return t.UTC().UnixMicro() }

func fromMicros(v int64) time.Time { return time.UnixMicro(v).UTC() }

// --- Records ---
type records struct {
	db    *sql.DB
	clock *store.Clock
}

const recordColumns = `id, user_id, conversation_id, role, content, embedding, created_at`

type scanner interface{ Scan(dest ...any) error }

func scanRecord(sc scanner) (model.MemoryRecord, error) {
	var (
		rec     model.MemoryRecord
		role    string
		emb     string
		created int64
	)
	if err := sc.Scan(&rec.ID, &rec.UserID, &rec.ConversationID, &role, &rec.Content, &emb, &created); err != nil {
		return rec, err
	}
	rec.Role = model.Role(role)
	rec.CreatedAt = fromMicros(created)
	if emb != "" {
		if err := json.Unmarshal([]byte(emb), &rec.Embedding); err != nil {
			return rec, err
		}
	}
	return rec, nil
}

func collectRecords(rows *sql.Rows) ([]model.MemoryRecord, error) {
	defer func() { _ = rows.Close() }()
	var out []model.MemoryRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
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
	emb, err := json.Marshal(out.Embedding)
	if err != nil {
		return nil, err
	}
	if _, err := r.db.ExecContext(ctx, `
        INSERT INTO memory_records (`+recordColumns+`)
        VALUES (?,?,?,?,?,?,?)
    `, out.ID, out.UserID, out.ConversationID, string(out.Role), out.Content, string(emb), toMicros(out.CreatedAt)); err != nil {
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
            WHERE user_id=? AND conversation_id=? ORDER BY created_at ASC`, q.UserID, q.ConversationID)
	} else {
		rows, err = r.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM memory_records
            WHERE user_id=? ORDER BY created_at ASC`, q.UserID)
	}
	if err != nil {
		return nil, err
	}
	cands, err := collectRecords(rows)
	if err != nil {
		return nil, err
	}
	return store.Rank(cands, q), nil
}

func (r *records) List(ctx context.Context, userID, conversationID string, limit int) ([]model.MemoryRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM memory_records
        WHERE user_id=? AND conversation_id=? ORDER BY created_at ASC LIMIT ?`, userID, conversationID, limit)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

func (r *records) Recent(ctx context.Context, userID, conversationID string, limit int) ([]model.MemoryRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM (
            SELECT `+recordColumns+` FROM memory_records
            WHERE user_id=? AND conversation_id=? ORDER BY created_at DESC LIMIT ?
        ) ORDER BY created_at ASC`, userID, conversationID, limit)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

func (r *records) Count(ctx context.Context, userID, conversationID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_records WHERE user_id=? AND conversation_id=?`,
		userID, conversationID).Scan(&n)
	return n, err
}

func affected(res sql.Result, err error) (int, error) {
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *records) DeleteConversation(ctx context.Context, userID, conversationID string) (int, error) {
	return affected(r.db.ExecContext(ctx, `DELETE FROM memory_records WHERE user_id=? AND conversation_id=?`,
		userID, conversationID))
}

func (r *records) DeleteUpTo(ctx context.Context, userID, conversationID string, upTo time.Time) (int, error) {
	return affected(r.db.ExecContext(ctx, `DELETE FROM memory_records WHERE user_id=? AND conversation_id=? AND created_at<=?`,
		userID, conversationID, toMicros(upTo)))
}

func (r *records) ConversationIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT conversation_id FROM memory_records WHERE user_id=? AND conversation_id<>''
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
        VALUES (?,?,?,?,?,?)
    `, out.ID, out.UserID, out.ConversationID, out.Summary, out.MessagesCount, toMicros(out.CreatedAt)); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *summaries) List(ctx context.Context, userID, conversationID string) ([]model.ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, summary, messages_count, created_at FROM conversation_summaries
        WHERE user_id=? AND conversation_id=? ORDER BY created_at ASC
    `, userID, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.ConversationSummary
	for rows.Next() {
		sum := model.ConversationSummary{UserID: userID, ConversationID: conversationID}
		var created int64
		if err := rows.Scan(&sum.ID, &sum.Summary, &sum.MessagesCount, &created); err != nil {
			return nil, err
		}
		sum.CreatedAt = fromMicros(created)
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
        VALUES (?,?,?,?,?,?,?,?,?)
    `, rec.UserID, rec.Provider, rec.Model, rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens, rec.EstimatedCost, rec.ConversationID, toMicros(ts))
	return err
}

func (u *usage) Since(ctx context.Context, userID string, since time.Time) ([]model.UsageRecord, error) {
	rows, err := u.db.QueryContext(ctx, `
        SELECT provider, model, prompt_tokens, completion_tokens, total_tokens, estimated_cost, conversation_id, created_at
        FROM usage_records WHERE user_id=? AND created_at>=? ORDER BY created_at ASC, seq ASC
    `, userID, toMicros(since))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.UsageRecord
	for rows.Next() {
		rec := model.UsageRecord{UserID: userID}
		var created int64
		if err := rows.Scan(&rec.Provider, &rec.Model, &rec.PromptTokens, &rec.CompletionTokens, &rec.TotalTokens, &rec.EstimatedCost, &rec.ConversationID, &created); err != nil {
			return nil, err
		}
		rec.Timestamp = fromMicros(created)
		out = append(out, rec)
	}
	return out, rows.Err()
}
