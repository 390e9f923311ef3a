package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycelian/mycelian-chat/internal/orchestrator"
)

// fakeService echoes turns and records the last decoded turn payload.
type fakeService struct {
	last turnPayload
}

func (f *fakeService) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/turns", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&f.last))
		sess := orchestrator.NewSession(f.last.UserID)
		if f.last.Session != nil {
			sess = *f.last.Session
		}
		sess.TotalTokens += 10
		sess.TotalCost += 0.001
		_ = json.NewEncoder(w).Encode(turnReply{
			Session: sess,
			Result:  orchestrator.TurnResult{AssistantText: "echo: " + f.last.Input, Model: "gpt-4", InputTokens: 7, OutputTokens: 3, Cost: 0.001, CostAccurate: true},
		})
	})
	mux.HandleFunc("/api/estimate", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"model required"}`))
	})
	mux.HandleFunc("/api/users/u1/conversations/c1/export", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "md", r.URL.Query().Get("format"))
		w.Header().Set("Content-Disposition", `attachment; filename="chat_c1.md"`)
		_, _ = w.Write([]byte("# Chat History\n"))
	})
	return mux
}

func TestRunTurn_PersistsSessionAcrossCalls(t *testing.T) {
	f := &fakeService{}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "state", "sessions.bolt")
	o := turnOptions{provider: "OpenAI", apiKey: "sk-test-1234567", sessionDB: path, session: "work"}
	var out bytes.Buffer

	require.NoError(t, runTurn(newClient(srv.URL), o, "u1", "hello", &out))
	assert.Nil(t, f.last.Session, "first turn lets the service start the session")
	assert.Contains(t, out.String(), "echo: hello")

	require.NoError(t, runTurn(newClient(srv.URL), o, "u1", "again", &out))
	require.NotNil(t, f.last.Session)
	assert.Equal(t, 10, f.last.Session.TotalTokens)

	saved, err := loadSession(path, "u1", "work")
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, 20, saved.TotalTokens)

	other, err := loadSession(path, "u2", "work")
	require.NoError(t, err)
	assert.Nil(t, other, "sessions are keyed per user")

	rows, err := listSessions(path)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "u1/work", rows[0].Key)
	assert.Equal(t, 20, rows[0].TotalTokens)
}

func TestRunTurn_NoMemoryStartsDisabledSession(t *testing.T) {
	f := &fakeService{}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	o := turnOptions{provider: "OpenAI", apiKey: "sk-test-1234567", noMemory: true}
	require.NoError(t, runTurn(newClient(srv.URL), o, "u1", "hi", &bytes.Buffer{}))
	require.NotNil(t, f.last.Session)
	assert.False(t, f.last.Session.MemoryEnabled)
	assert.Equal(t, "u1", f.last.Session.UserID)
}

func TestRunChat_ReadsLinesUntilQuit(t *testing.T) {
	f := &fakeService{}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	var out bytes.Buffer
	in := strings.NewReader("first\n\nsecond\n/quit\nignored\n")
	require.NoError(t, runChat(newClient(srv.URL), turnOptions{provider: "OpenAI"}, "u1", in, &out))
	assert.Contains(t, out.String(), "echo: first")
	assert.Contains(t, out.String(), "echo: second")
	assert.NotContains(t, out.String(), "ignored")
	assert.Contains(t, out.String(), "session 20 tokens")
}

func TestClient_SurfacesServiceError(t *testing.T) {
	srv := httptest.NewServer((&fakeService{}).handler(t))
	defer srv.Close()

	_, err := newClient(srv.URL).estimate("OpenAI", "", "x", "")
	require.Error(t, err)
	assert.Equal(t, "http 400: model required", err.Error())
}

func TestRunExport_UsesSuggestedName(t *testing.T) {
	srv := httptest.NewServer((&fakeService{}).handler(t))
	defer srv.Close()

	dir := t.TempDir()
	var out bytes.Buffer
	target := filepath.Join(dir, "out.md")
	require.NoError(t, runExport(newClient(srv.URL), "u1", "c1", "md", target, &out))
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "# Chat History\n", string(data))

	out.Reset()
	require.NoError(t, runExport(newClient(srv.URL), "u1", "c1", "md", "-", &out))
	assert.Equal(t, "# Chat History\n", out.String())
}

func TestAttachmentName(t *testing.T) {
	assert.Equal(t, "chat_c1.md", attachmentName(`attachment; filename="chat_c1.md"`))
	assert.Equal(t, "x.json", attachmentName(`attachment; filename="../../x.json"`))
	assert.Equal(t, "", attachmentName(""))
}

func TestValidateKeyCommand(t *testing.T) {
	cmd := newValidateKeyCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--provider", "Anthropic", "sk-ant-1234567"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "format ok")

	cmd = newValidateKeyCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--provider", "Anthropic", "sk-1234567890"})
	assert.Error(t, cmd.Execute())
}
