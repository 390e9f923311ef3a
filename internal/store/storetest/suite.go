package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mycelian/mycelian-chat/internal/model"
	"github.com/mycelian/mycelian-chat/internal/store"
)

// Run exercises a compliance suite against a store.Store implementation.
// Implementations should provide a clean, isolated store and return it from makeStore.
func Run(t *testing.T, makeStore func(t *testing.T) store.Store) {
	t.Helper()

	t.Run("records", func(t *testing.T) { runRecords(t, makeStore(t)) })
	t.Run("similar", func(t *testing.T) { runSimilar(t, makeStore(t)) })
	t.Run("delete_up_to", func(t *testing.T) { runDeleteUpTo(t, makeStore(t)) })
	t.Run("empty_conversation_scope", func(t *testing.T) { runEmptyConversationScope(t, makeStore(t)) })
	t.Run("summaries", func(t *testing.T) { runSummaries(t, makeStore(t)) })
	t.Run("usage", func(t *testing.T) { runUsage(t, makeStore(t)) })
}

func insert(t *testing.T, s store.Store, user, conv string, role model.Role, content string, vec []float32) *model.MemoryRecord {
	t.Helper()
	r, err := s.Records().Insert(context.Background(), &model.MemoryRecord{
		UserID: user, ConversationID: conv, Role: role, Content: content, Embedding: vec,
	})
	if err != nil {
		t.Fatalf("Insert %q: %v", content, err)
	}
	if r.ID == "" || r.CreatedAt.IsZero() {
		t.Fatalf("Insert: id/createdAt not assigned: %+v", r)
	}
	return r
}

func runRecords(t *testing.T, s store.Store) {
	ctx := context.Background()
	userID := "u-" + uuid.New().String()
	convA := "c-" + uuid.New().String()
	convB := "c-" + uuid.New().String()

	var last time.Time
	for i, content := range []string{"one", "two", "three", "four"} {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		r := insert(t, s, userID, convA, role, content, []float32{1, float32(i)})
		if !r.CreatedAt.After(last) {
			t.Fatalf("CreatedAt not increasing: %v after %v", r.CreatedAt, last)
		}
		last = r.CreatedAt
	}
	insert(t, s, userID, convB, model.RoleUser, "other", []float32{0, 1})
	insert(t, s, "someone-else", convA, model.RoleUser, "foreign", []float32{1, 0})

	if n, err := s.Records().Count(ctx, userID, convA); err != nil || n != 4 {
		t.Fatalf("Count: n=%d err=%v", n, err)
	}
	if n, err := s.Records().Count(ctx, userID, "missing"); err != nil || n != 0 {
		t.Fatalf("Count missing: n=%d err=%v", n, err)
	}

	lst, err := s.Records().List(ctx, userID, convA, 3)
	if err != nil || len(lst) != 3 {
		t.Fatalf("List limit: n=%d err=%v", len(lst), err)
	}
	if lst[0].Content != "one" || lst[2].Content != "three" {
		t.Fatalf("List order: got %q..%q", lst[0].Content, lst[2].Content)
	}
	if lst[1].Role != model.RoleAssistant || len(lst[1].Embedding) != 2 {
		t.Fatalf("List round trip: %+v", lst[1])
	}

	recent, err := s.Records().Recent(ctx, userID, convA, 2)
	if err != nil || len(recent) != 2 {
		t.Fatalf("Recent: n=%d err=%v", len(recent), err)
	}
	if recent[0].Content != "three" || recent[1].Content != "four" {
		t.Fatalf("Recent order: got %q,%q", recent[0].Content, recent[1].Content)
	}

	ids, err := s.Records().ConversationIDs(ctx, userID)
	if err != nil || len(ids) != 2 {
		t.Fatalf("ConversationIDs: %v err=%v", ids, err)
	}
	if ids[0] != convB {
		t.Fatalf("ConversationIDs order: most recent first, got %v", ids)
	}

	n, err := s.Records().DeleteConversation(ctx, userID, convA)
	if err != nil || n != 4 {
		t.Fatalf("DeleteConversation: n=%d err=%v", n, err)
	}
	if c, _ := s.Records().Count(ctx, userID, convA); c != 0 {
		t.Fatalf("Count after delete: %d", c)
	}
	if c, _ := s.Records().Count(ctx, "someone-else", convA); c != 1 {
		t.Fatalf("delete crossed user scope: %d", c)
	}
}

func runSimilar(t *testing.T, s store.Store) {
	ctx := context.Background()
	userID := "u-" + uuid.New().String()
	conv := "c-" + uuid.New().String()
	other := "c-" + uuid.New().String()

	insert(t, s, userID, conv, model.RoleUser, "exact", []float32{1, 0, 0})
	insert(t, s, userID, conv, model.RoleAssistant, "close", []float32{0.9, 0.1, 0})
	insert(t, s, userID, conv, model.RoleUser, "orthogonal", []float32{0, 1, 0})
	insert(t, s, userID, other, model.RoleUser, "elsewhere", []float32{1, 0, 0})
	insert(t, s, "someone-else", conv, model.RoleUser, "foreign", []float32{1, 0, 0})

	got, err := s.Records().Similar(ctx, store.SimilarQuery{UserID: userID, ConversationID: conv, Vector: []float32{1, 0, 0}, K: 4, Threshold: 0.7})
	if err != nil {
		t.Fatalf("Similar: %v", err)
	}
	if len(got) != 2 || got[0].Record.Content != "exact" || got[1].Record.Content != "close" {
		t.Fatalf("Similar scoped: %+v", got)
	}
	for i, m := range got {
		if m.Similarity < 0.7 {
			t.Fatalf("similarity below threshold: %v", m.Similarity)
		}
		if i > 0 && m.Similarity > got[i-1].Similarity {
			t.Fatalf("not descending")
		}
	}

	all, err := s.Records().Similar(ctx, store.SimilarQuery{UserID: userID, Vector: []float32{1, 0, 0}, K: 2, Threshold: 0.7})
	if err != nil || len(all) != 2 {
		t.Fatalf("Similar unscoped k=2: n=%d err=%v", len(all), err)
	}
}

func runDeleteUpTo(t *testing.T, s store.Store) {
	ctx := context.Background()
	userID := "u-" + uuid.New().String()
	conv := "c-" + uuid.New().String()

	var recs []*model.MemoryRecord
	for i := 0; i < 6; i++ {
		recs = append(recs, insert(t, s, userID, conv, model.RoleUser, "m", []float32{1}))
	}
	n, err := s.Records().DeleteUpTo(ctx, userID, conv, recs[3].CreatedAt)
	if err != nil || n != 4 {
		t.Fatalf("DeleteUpTo inclusive: n=%d err=%v", n, err)
	}
	left, err := s.Records().List(ctx, userID, conv, 10)
	if err != nil || len(left) != 2 || left[0].ID != recs[4].ID {
		t.Fatalf("remaining after DeleteUpTo: %+v err=%v", left, err)
	}
}

// An empty conversation id names no conversation outside Similar.
func runEmptyConversationScope(t *testing.T, s store.Store) {
	ctx := context.Background()
	userID := "u-" + uuid.New().String()
	conv := "c-" + uuid.New().String()

	var last *model.MemoryRecord
	for i := 0; i < 3; i++ {
		last = insert(t, s, userID, conv, model.RoleUser, "m", []float32{1, 0})
	}

	if c, err := s.Records().Count(ctx, userID, ""); err != nil || c != 0 {
		t.Fatalf("Count with empty conversation: c=%d err=%v", c, err)
	}
	if got, err := s.Records().List(ctx, userID, "", 10); err != nil || len(got) != 0 {
		t.Fatalf("List with empty conversation: n=%d err=%v", len(got), err)
	}
	if got, err := s.Records().Recent(ctx, userID, "", 10); err != nil || len(got) != 0 {
		t.Fatalf("Recent with empty conversation: n=%d err=%v", len(got), err)
	}
	if n, err := s.Records().DeleteUpTo(ctx, userID, "", last.CreatedAt); err != nil || n != 0 {
		t.Fatalf("DeleteUpTo with empty conversation: n=%d err=%v", n, err)
	}
	if n, err := s.Records().DeleteConversation(ctx, userID, ""); err != nil || n != 0 {
		t.Fatalf("DeleteConversation with empty conversation: n=%d err=%v", n, err)
	}
	if c, _ := s.Records().Count(ctx, userID, conv); c != 3 {
		t.Fatalf("records lost through empty conversation scope: %d", c)
	}

	got, err := s.Records().Similar(ctx, store.SimilarQuery{UserID: userID, Vector: []float32{1, 0}, K: 5, Threshold: 0.5})
	if err != nil || len(got) != 3 {
		t.Fatalf("Similar across conversations: n=%d err=%v", len(got), err)
	}
}

func runSummaries(t *testing.T, s store.Store) {
	ctx := context.Background()
	userID := "u-" + uuid.New().String()
	conv := "c-" + uuid.New().String()

	first, err := s.Summaries().Create(ctx, &model.ConversationSummary{UserID: userID, ConversationID: conv, Summary: "first", MessagesCount: 10})
	if err != nil || first.ID == "" || first.CreatedAt.IsZero() {
		t.Fatalf("Create summary: %+v err=%v", first, err)
	}
	if _, err := s.Summaries().Create(ctx, &model.ConversationSummary{UserID: userID, ConversationID: conv, Summary: "second", MessagesCount: 12}); err != nil {
		t.Fatalf("Create summary 2: %v", err)
	}
	lst, err := s.Summaries().List(ctx, userID, conv)
	if err != nil || len(lst) != 2 || lst[0].Summary != "first" || lst[1].MessagesCount != 12 {
		t.Fatalf("List summaries: %+v err=%v", lst, err)
	}
}

func runUsage(t *testing.T, s store.Store) {
	ctx := context.Background()
	userID := "u-" + uuid.New().String()
	now := time.Now().UTC()

	old := &model.UsageRecord{UserID: userID, Provider: "OpenAI", Model: "gpt-4", PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2, EstimatedCost: 0.1, Timestamp: now.Add(-40 * 24 * time.Hour)}
	fresh := &model.UsageRecord{UserID: userID, Provider: "Anthropic", Model: "claude-3-opus-20240229", PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15, EstimatedCost: 0.5, ConversationID: "c", Timestamp: now}
	for _, r := range []*model.UsageRecord{old, fresh} {
		if err := s.Usage().Append(ctx, r); err != nil {
			t.Fatalf("Append usage: %v", err)
		}
	}
	if err := s.Usage().Append(ctx, &model.UsageRecord{UserID: "someone-else", Provider: "OpenAI", Timestamp: now}); err != nil {
		t.Fatalf("Append usage other: %v", err)
	}

	got, err := s.Usage().Since(ctx, userID, now.Add(-30*24*time.Hour))
	if err != nil || len(got) != 1 {
		t.Fatalf("Since: n=%d err=%v", len(got), err)
	}
	if got[0].Provider != "Anthropic" || got[0].TotalTokens != 15 || got[0].ConversationID != "c" {
		t.Fatalf("Since round trip: %+v", got[0])
	}
}
