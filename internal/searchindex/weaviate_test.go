package searchindex

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycelian/mycelian-chat/internal/model"
)

func row(id, conv, role, content string, distance interface{}, created string) map[string]interface{} {
	return map[string]interface{}{
		"recordId":       id,
		"conversationId": conv,
		"role":           role,
		"content":        content,
		"createdAt":      created,
		"_additional":    map[string]interface{}{"distance": distance},
	}
}

func TestParseMatches_ThresholdOrderAndCap(t *testing.T) {
	items := []interface{}{
		row("a", "c1", "user", "low", 0.5, "2025-01-01T00:00:00Z"),
		row("b", "c1", "assistant", "best", 0.05, "2025-01-01T00:00:01.000123Z"),
		row("c", "c1", "user", "good", "0.2", "2025-01-01T00:00:02Z"),
		row("d", "c1", "user", "ok", 0.25, "2025-01-01T00:00:03Z"),
		"garbage",
	}
	got := parseMatches(items, Query{UserID: "u1", K: 2, Threshold: 0.7})
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Record.ID)
	assert.Equal(t, "c", got[1].Record.ID)
	assert.InDelta(t, 0.95, got[0].Similarity, 1e-9)
	assert.Equal(t, model.RoleAssistant, got[0].Record.Role)
	assert.Equal(t, "u1", got[0].Record.UserID)
	assert.Equal(t, 123000, got[0].Record.CreatedAt.Nanosecond())
	for _, m := range got {
		assert.GreaterOrEqual(t, m.Similarity, 0.7)
	}
}

func TestRecordProperties(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 5000, time.UTC)
	p := recordProperties(model.MemoryRecord{ID: "r", UserID: "u", ConversationID: "c", Role: model.RoleUser, Content: "hi", CreatedAt: ts})
	assert.Equal(t, "user", p["role"])
	assert.Equal(t, "2025-03-01T12:00:00.000005Z", p["createdAt"])
}

func TestHealthPing(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/meta", r.URL.Path)
		w.WriteHeader(status)
	}))
	defer srv.Close()

	w := &weaviateIndex{meta: resty.New().SetBaseURL(srv.URL), baseURL: srv.Listener.Addr().String()}
	require.NoError(t, w.HealthPing(context.Background()))

	status = http.StatusServiceUnavailable
	assert.Error(t, w.HealthPing(context.Background()))

	assert.Error(t, (&weaviateIndex{}).HealthPing(context.Background()))
}

type fakeIndex struct{ err error }

func (f fakeIndex) Search(context.Context, Query) ([]model.RecallMatch, error) { return nil, f.err }
func (fakeIndex) Upsert(context.Context, ...model.MemoryRecord) error          { return nil }
func (fakeIndex) DeleteConversation(context.Context, string, string) error     { return nil }
func (fakeIndex) DeleteUpTo(context.Context, string, string, time.Time) error  { return nil }

func TestHealthChecker_FallsBackToSearchProbe(t *testing.T) {
	hc := NewHealthChecker(fakeIndex{}, zerolog.Nop(), time.Second)
	hc.Probe(context.Background())
	assert.True(t, hc.IsHealthy())

	hc = NewHealthChecker(fakeIndex{err: errors.New("down")}, zerolog.Nop(), time.Second)
	hc.Probe(context.Background())
	assert.False(t, hc.IsHealthy())
}
