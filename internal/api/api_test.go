package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycelian/mycelian-chat/internal/analytics"
	"github.com/mycelian/mycelian-chat/internal/embeddings"
	"github.com/mycelian/mycelian-chat/internal/estimator"
	"github.com/mycelian/mycelian-chat/internal/memory"
	"github.com/mycelian/mycelian-chat/internal/metrics"
	"github.com/mycelian/mycelian-chat/internal/model"
	"github.com/mycelian/mycelian-chat/internal/orchestrator"
	"github.com/mycelian/mycelian-chat/internal/provider"
	"github.com/mycelian/mycelian-chat/internal/store/memstore"
)

type cannedAdapter struct {
	reply string
	err   error
}

func (c *cannedAdapter) Name() string                          { return estimator.OpenAI }
func (c *cannedAdapter) DefaultModel() string                  { return "gpt-4.1" }
func (c *cannedAdapter) Models() []string                      { return []string{"gpt-4.1"} }
func (c *cannedAdapter) CountTokens(string, string) int        { return 0 }
func (c *cannedAdapter) ExtractStreamChunk([]byte) string      { return "" }
func (c *cannedAdapter) ExtractText(*provider.Response) string { return c.reply }

func (c *cannedAdapter) Complete(context.Context, provider.Request) (*provider.Response, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &provider.Response{Provider: estimator.OpenAI, Raw: json.RawMessage(`{}`)}, nil
}

type adapterFactory struct{ a *cannedAdapter }

func (f adapterFactory) New(name, key string) (provider.Adapter, error) {
	if estimator.CanonicalProvider(name) != estimator.OpenAI {
		return nil, fmt.Errorf("%s: %w", name, provider.ErrUnknownProvider)
	}
	return f.a, nil
}

type staticHealth struct{ ok bool }

func (s staticHealth) IsHealthy() bool { return s.ok }
func (s staticHealth) Components() map[string]bool {
	return map[string]bool{"store": s.ok, "embeddings": true}
}

type testServer struct {
	router  http.Handler
	adapter *cannedAdapter
	mem     *memory.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	backend := memstore.New()
	log := zerolog.Nop()
	mem := memory.NewStore(backend, embeddings.NewHash(64), log)
	pruner := memory.NewPruner(mem, nil, memory.PrunerConfig{}, nil, log)
	est := estimator.New(estimator.WithOpenAIEncoder(nil))
	a := &cannedAdapter{reply: "Rome."}
	factory := adapterFactory{a}
	sink := analytics.NewStoreSink(backend.Usage(), log)
	m := metrics.New("api_test", nil)
	orc := orchestrator.New(est, factory, log,
		orchestrator.WithMemory(mem, pruner),
		orchestrator.WithSink(sink),
		orchestrator.WithMetrics(m),
	)
	router := NewRouter(Deps{
		Orchestrator: orc,
		Adapters:     factory,
		Memory:       mem,
		Pruner:       pruner,
		Stats:        sink,
		Estimator:    est,
		Health:       staticHealth{ok: true},
		Metrics:      m,
		Log:          log,
		Now:          func() time.Time { return time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC) },
	})
	return &testServer{router: router, adapter: a, mem: mem}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, httptest.NewRequest(method, path, &buf))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), v))
}

func TestTurn_NewSessionThenContinue(t *testing.T) {
	s := newTestServer(t)
	rr := s.do(t, "POST", "/api/turns", map[string]interface{}{
		"userId": "alice", "input": "Capital of Italy?", "provider": "OpenAI", "apiKey": "sk-test-1234567890",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var out turnResponse
	decode(t, rr, &out)
	assert.Equal(t, "Rome.", out.Result.AssistantText)
	assert.Equal(t, "gpt-4.1", out.Result.Model)
	assert.Len(t, out.Session.Transcript, 2)
	assert.NotEmpty(t, out.Session.ConversationID)
	assert.NotContains(t, rr.Body.String(), "sk-test")

	rr = s.do(t, "POST", "/api/turns", map[string]interface{}{
		"session": out.Session, "input": "And France?", "provider": "openai", "apiKey": "sk-test-1234567890",
	})
	require.Equal(t, http.StatusOK, rr.Code)
	var next turnResponse
	decode(t, rr, &next)
	assert.Len(t, next.Session.Transcript, 4)
	assert.Greater(t, next.Session.TotalTokens, out.Session.TotalTokens)

	rr = s.do(t, "GET", "/api/users/alice/conversations/"+out.Session.ConversationID+"/messages", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var msgs struct {
		Messages []model.MemoryRecord `json:"messages"`
		Count    int                  `json:"count"`
	}
	decode(t, rr, &msgs)
	assert.Equal(t, 4, msgs.Count)
	assert.Empty(t, msgs.Messages[0].Embedding)
	assert.Equal(t, "Capital of Italy?", msgs.Messages[0].Content)
}

func TestTurn_Errors(t *testing.T) {
	s := newTestServer(t)
	base := map[string]interface{}{"userId": "alice", "input": "hi", "provider": "OpenAI", "apiKey": "sk-test-1234567890"}
	with := func(k string, v interface{}) map[string]interface{} {
		m := map[string]interface{}{}
		for kk, vv := range base {
			m[kk] = vv
		}
		m[k] = v
		return m
	}

	assert.Equal(t, http.StatusBadRequest, s.do(t, "POST", "/api/turns", with("apiKey", "bad")).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, "POST", "/api/turns", with("provider", "Mistral")).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, "POST", "/api/turns", with("input", "")).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, "POST", "/api/turns", with("userId", "bad user")).Code)

	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, httptest.NewRequest("POST", "/api/turns", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	s.adapter.err = errors.New("upstream 500")
	rr = s.do(t, "POST", "/api/turns", base)
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Contains(t, rr.Body.String(), "upstream 500")
}

func TestRecallAndConversations(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	require.True(t, s.mem.Add(ctx, "bob", "c1", model.RoleUser, "I love hiking in the alps"))
	require.True(t, s.mem.Add(ctx, "bob", "c2", model.RoleUser, "quantum field theory"))

	rr := s.do(t, "POST", "/api/recall", map[string]interface{}{"userId": "bob", "query": "I love hiking in the alps", "k": 2})
	require.Equal(t, http.StatusOK, rr.Code)
	var rec struct {
		Matches []model.RecallMatch `json:"matches"`
	}
	decode(t, rr, &rec)
	require.NotEmpty(t, rec.Matches)
	assert.LessOrEqual(t, len(rec.Matches), 2)
	assert.Equal(t, "c1", rec.Matches[0].Record.ConversationID)

	assert.Equal(t, http.StatusBadRequest, s.do(t, "POST", "/api/recall", map[string]interface{}{"userId": "bob", "query": "x", "threshold": 2}).Code)

	rr = s.do(t, "GET", "/api/users/bob/conversations", nil)
	var ids struct {
		ConversationIDs []string `json:"conversationIds"`
	}
	decode(t, rr, &ids)
	assert.Equal(t, []string{"c2", "c1"}, ids.ConversationIDs)

	rr = s.do(t, "DELETE", "/api/users/bob/conversations/c1", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = s.do(t, "GET", "/api/users/bob/conversations", nil)
	decode(t, rr, &ids)
	assert.Equal(t, []string{"c2"}, ids.ConversationIDs)

	assert.Equal(t, http.StatusBadRequest, s.do(t, "GET", "/api/users/bob/conversations/c2/messages?limit=0", nil).Code)
}

func TestPruneEndpoint(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	for i := 0; i < 21; i++ {
		require.True(t, s.mem.Add(ctx, "carol", "c", model.RoleUser, fmt.Sprintf("m%d", i)))
	}

	rr := s.do(t, "POST", "/api/users/carol/conversations/c/prune", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code, "no service summarizer and no provider given")

	s.adapter.reply = "digest"
	rr = s.do(t, "POST", "/api/users/carol/conversations/c/prune", map[string]string{"provider": "OpenAI", "apiKey": "sk-test-1234567890"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var out pruneResponse
	decode(t, rr, &out)
	assert.Equal(t, memory.OutcomeSummarized, out.Outcome)
	assert.Equal(t, 11, out.Deleted)

	rr = s.do(t, "GET", "/api/users/carol/conversations/c/summaries", nil)
	var sums struct {
		Summaries []model.ConversationSummary `json:"summaries"`
	}
	decode(t, rr, &sums)
	require.Len(t, sums.Summaries, 1)
	assert.Equal(t, "digest", sums.Summaries[0].Summary)
	assert.Equal(t, 11, sums.Summaries[0].MessagesCount)
}

func TestExport(t *testing.T) {
	s := newTestServer(t)
	require.True(t, s.mem.Add(context.Background(), "dave", "conv-1", model.RoleUser, "hello"))

	rr := s.do(t, "GET", "/api/users/dave/conversations/conv-1/export?format=md", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, `attachment; filename="chat_conv-1.md"`, rr.Header().Get("Content-Disposition"))
	assert.True(t, strings.HasPrefix(rr.Body.String(), "# Chat History\n\n*Exported on 2025-02-03 04:05:06*"))
	assert.Contains(t, rr.Body.String(), "## User\n")

	rr = s.do(t, "GET", "/api/users/dave/conversations/conv-1/export", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	assert.Equal(t, http.StatusBadRequest, s.do(t, "GET", "/api/users/dave/conversations/conv-1/export?format=pdf", nil).Code)
}

func TestStatsAfterTurns(t *testing.T) {
	s := newTestServer(t)
	for i := 0; i < 2; i++ {
		rr := s.do(t, "POST", "/api/turns", map[string]interface{}{
			"userId": "erin", "input": "hello", "provider": "OpenAI", "apiKey": "sk-test-1234567890",
		})
		require.Equal(t, http.StatusOK, rr.Code)
	}
	rr := s.do(t, "GET", "/api/users/erin/stats", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var st analytics.UserStats
	decode(t, rr, &st)
	assert.Equal(t, 2, st.TotalRequests)
	assert.Equal(t, "OpenAI", st.FavoriteProvider)
	assert.Equal(t, "gpt-4.1", st.FavoriteModel)
	assert.Greater(t, st.TotalTokens, 0)
}

func TestEstimateAndProviders(t *testing.T) {
	s := newTestServer(t)
	rr := s.do(t, "POST", "/api/estimate", map[string]string{"provider": "OpenAI", "model": "unknown-model-xyz", "inputText": "hello there"})
	require.Equal(t, http.StatusOK, rr.Code)
	var info estimator.TokenInfo
	decode(t, rr, &info)
	assert.Equal(t, 0.0, info.EstimatedCost)
	assert.False(t, info.ModelSupported)
	assert.Equal(t, estimator.AccuracyEstimated, info.CostAccuracy)

	assert.Equal(t, http.StatusBadRequest, s.do(t, "POST", "/api/estimate", map[string]string{"provider": "OpenAI"}).Code)

	rr = s.do(t, "GET", "/api/providers", nil)
	var provs []providerInfo
	decode(t, rr, &provs)
	require.Len(t, provs, 3)
	assert.Equal(t, "OpenAI", provs[0].Name)
	assert.Equal(t, "gpt-4.1", provs[0].DefaultModel)
	assert.NotEmpty(t, provs[0].Models)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	rr := s.do(t, "GET", "/api/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]interface{}
	decode(t, rr, &body)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, true, body["components"].(map[string]interface{})["store"])

	s.do(t, "POST", "/api/turns", map[string]interface{}{"userId": "m", "input": "x", "provider": "OpenAI", "apiKey": "sk-test-1234567890"})
	rr = s.do(t, "GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "api_test_turns_total")

	assert.Equal(t, http.StatusNotFound, s.do(t, "GET", "/nope", nil).Code)
}

func TestTurn_KeyFromAuthorizationHeader(t *testing.T) {
	s := newTestServer(t)
	send := func(header string, body map[string]interface{}) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
		req := httptest.NewRequest("POST", "/api/turns", &buf)
		req.Header.Set("Authorization", header)
		rr := httptest.NewRecorder()
		s.router.ServeHTTP(rr, req)
		return rr
	}
	body := map[string]interface{}{"userId": "hal", "input": "hi", "provider": "OpenAI"}

	assert.Equal(t, http.StatusOK, send("Bearer sk-test-1234567890", body).Code)
	assert.Equal(t, http.StatusUnauthorized, send("Token sk-test-1234567890", body).Code)

	body["apiKey"] = "sk-other-1234567890"
	assert.Equal(t, http.StatusUnauthorized, send("Bearer sk-test-1234567890", body).Code)
}
