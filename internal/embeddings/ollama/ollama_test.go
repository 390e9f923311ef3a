package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/embeddings", func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		if req.Model != "mxbai-embed-large" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"model not found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"embedding":[0.5,0.25,-1]}`))
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"models":[{"name":"mxbai-embed-large:latest"}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestEmbed(t *testing.T) {
	srv := newServer(t)
	p := New(srv.URL, "mxbai-embed-large")
	vec, err := p.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25, -1}, vec)
}

func TestEmbed_ErrorStatus(t *testing.T) {
	srv := newServer(t)
	p := New(srv.URL, "nomic")
	_, err := p.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not found")
}

func TestHealthPing(t *testing.T) {
	srv := newServer(t)
	assert.NoError(t, New(srv.URL, "mxbai-embed-large").HealthPing(context.Background()))
	assert.Error(t, New(srv.URL, "nomic-embed-text").HealthPing(context.Background()))
}

func TestNew_AddsScheme(t *testing.T) {
	p := New("localhost:11434", "m")
	assert.Equal(t, "http://localhost:11434", p.client.BaseURL)
}
