//go:build e2e
// +build e2e

package e2e

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

// Estimation and provider listing need no upstream credentials.
func TestDevEnv_EstimateAndProviders(t *testing.T) {
	base := serviceURL(t)

	var providers []struct {
		Name         string   `json:"name"`
		DefaultModel string   `json:"defaultModel"`
		Models       []string `json:"models"`
	}
	resp, err := http.Get(base + "/api/providers")
	if err != nil {
		t.Fatalf("providers: %v", err)
	}
	mustJSON(t, resp, &providers)
	if len(providers) != 3 {
		t.Fatalf("expected 3 provider families, got %d", len(providers))
	}

	var info struct {
		InputTokens   int     `json:"inputTokens"`
		OutputTokens  int     `json:"outputTokens"`
		EstimatedCost float64 `json:"estimatedCost"`
		CostAccuracy  string  `json:"costAccuracy"`
	}
	mustJSON(t, postJSON(t, base+"/api/estimate", map[string]string{
		"provider": "OpenAI", "model": "gpt-4", "inputText": "What is the capital of France?", "outputText": "Paris.",
	}), &info)
	if info.InputTokens <= 0 || info.OutputTokens <= 0 || info.EstimatedCost <= 0 {
		t.Fatalf("unexpected estimate %+v", info)
	}
	if info.CostAccuracy != "accurate" {
		t.Fatalf("gpt-4 should be priced exactly, got %s", info.CostAccuracy)
	}
}

// A user with no history gets empty, well-formed answers everywhere.
func TestDevEnv_EmptyUser(t *testing.T) {
	base := serviceURL(t)
	user := fmt.Sprintf("e2e-empty-%d", time.Now().UnixNano())

	var convs struct {
		ConversationIDs []string `json:"conversationIds"`
	}
	resp, err := http.Get(base + "/api/users/" + user + "/conversations")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	mustJSON(t, resp, &convs)
	if len(convs.ConversationIDs) != 0 {
		t.Fatalf("expected no conversations, got %v", convs.ConversationIDs)
	}

	var stats struct {
		TotalRequests    int    `json:"totalRequests"`
		FavoriteProvider string `json:"favoriteProvider"`
	}
	resp, err = http.Get(base + "/api/users/" + user + "/stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	mustJSON(t, resp, &stats)
	if stats.TotalRequests != 0 || stats.FavoriteProvider != "None" {
		t.Fatalf("unexpected stats %+v", stats)
	}

	var recall struct {
		Matches []interface{} `json:"matches"`
	}
	mustJSON(t, postJSON(t, base+"/api/recall", map[string]interface{}{"userId": user, "query": "anything"}), &recall)
	if len(recall.Matches) != 0 {
		t.Fatalf("expected no matches, got %d", len(recall.Matches))
	}
}

// Runs a real two-turn conversation when CHAT_E2E_OPENAI_KEY is set, then
// checks recall, export and deletion.
func TestDevEnv_TurnRecallExport(t *testing.T) {
	base := serviceURL(t)
	key := env("CHAT_E2E_OPENAI_KEY", "")
	if key == "" {
		t.Skip("CHAT_E2E_OPENAI_KEY not set")
	}
	user := fmt.Sprintf("e2e-turn-%d", time.Now().UnixNano())

	type session struct {
		UserID         string        `json:"userId"`
		ConversationID string        `json:"conversationId"`
		Transcript     []interface{} `json:"transcript"`
		TotalTokens    int           `json:"totalTokens"`
		TotalCost      float64       `json:"totalCost"`
		MemoryEnabled  bool          `json:"memoryEnabled"`
	}
	var first struct {
		Session session `json:"session"`
		Result  struct {
			AssistantText string `json:"assistantText"`
			Stored        bool   `json:"stored"`
		} `json:"result"`
	}
	mustJSON(t, postJSON(t, base+"/api/turns", map[string]interface{}{
		"userId": user, "input": "My favourite colour is teal. Reply with one word.", "provider": "OpenAI",
		"model": "gpt-4.1-mini", "apiKey": key, "params": map[string]interface{}{"maxTokens": 20},
	}), &first)
	if first.Result.AssistantText == "" || !first.Result.Stored {
		t.Fatalf("unexpected first turn %+v", first.Result)
	}
	if len(first.Session.Transcript) != 2 {
		t.Fatalf("transcript length %d", len(first.Session.Transcript))
	}

	var second struct {
		Session session `json:"session"`
	}
	mustJSON(t, postJSON(t, base+"/api/turns", map[string]interface{}{
		"session": first.Session, "input": "What is my favourite colour?", "provider": "OpenAI",
		"model": "gpt-4.1-mini", "apiKey": key, "params": map[string]interface{}{"maxTokens": 20},
	}), &second)
	if second.Session.TotalTokens <= first.Session.TotalTokens {
		t.Fatalf("token total did not grow: %d -> %d", first.Session.TotalTokens, second.Session.TotalTokens)
	}

	conv := first.Session.ConversationID
	resp, err := http.Get(base + "/api/users/" + user + "/conversations/" + conv + "/export?format=md")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(string(body), "# Chat History") {
		t.Fatalf("export %d: %s", resp.StatusCode, body)
	}

	req, _ := http.NewRequest(http.MethodDelete, base+"/api/users/"+user+"/conversations/"+conv, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d", resp.StatusCode)
	}
}
