package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveTurn(t *testing.T) {
	m := New("test", nil)
	m.ObserveTurn("OpenAI", "gpt-4", true, 120*time.Millisecond, 10, 5, 0.25)
	m.ObserveTurn("OpenAI", "gpt-4", false, time.Second, 0, 0, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Turns.WithLabelValues("OpenAI", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Turns.WithLabelValues("OpenAI", "error")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.Tokens.WithLabelValues("OpenAI", "gpt-4", "input")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.Tokens.WithLabelValues("OpenAI", "gpt-4", "output")))
	assert.InDelta(t, 0.25, testutil.ToFloat64(m.Cost.WithLabelValues("OpenAI", "gpt-4")), 1e-12)
}

func TestOutboxAndPrune(t *testing.T) {
	m := New("test", nil)
	m.ObserveOutbox("upsert_record", true)
	m.ObserveOutbox("upsert_record", false)
	m.ObservePrune("summarized")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Outbox.WithLabelValues("upsert_record", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Prunes.WithLabelValues("summarized")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveTurn("x", "y", true, 0, 1, 1, 1)
	m.ObserveRecall(2)
	m.ObservePrune("failed")
	m.ObserveOutbox("op", true)
}

func TestHandlerExposesNamespace(t *testing.T) {
	m := New("chat_test", nil)
	m.ObserveRecall(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "chat_test_recall_matches")
}
