package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/mycelian/mycelian-chat/internal/api/respond"
	"github.com/mycelian/mycelian-chat/internal/api/validate"
	"github.com/mycelian/mycelian-chat/internal/auth"
	"github.com/mycelian/mycelian-chat/internal/export"
	"github.com/mycelian/mycelian-chat/internal/memory"
	"github.com/mycelian/mycelian-chat/internal/model"
	"github.com/mycelian/mycelian-chat/internal/orchestrator"
)

type ConversationHandler struct {
	mem      *memory.Store
	pruner   *memory.Pruner
	adapters orchestrator.AdapterFactory
	stats    StatsReader
	now      func() time.Time
	log      zerolog.Logger
}

// scope validates the path variables and the memory dependency.
func (h *ConversationHandler) scope(w http.ResponseWriter, r *http.Request, needConversation bool) (string, string, bool) {
	vars := mux.Vars(r)
	userID, convID := vars["userId"], vars["conversationId"]
	if err := validate.UserID(userID); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return "", "", false
	}
	if needConversation {
		if err := validate.ConversationID(convID); err != nil {
			respond.WriteBadRequest(w, err.Error())
			return "", "", false
		}
	}
	if h.mem == nil {
		respond.WriteError(w, http.StatusServiceUnavailable, "memory is disabled")
		return "", "", false
	}
	return userID, convID, true
}

type recallRequest struct {
	UserID         string   `json:"userId"`
	ConversationID string   `json:"conversationId,omitempty"`
	Query          string   `json:"query"`
	K              int      `json:"k,omitempty"`
	Threshold      *float64 `json:"threshold,omitempty"`
}

// Recall handles POST /api/recall
func (h *ConversationHandler) Recall(w http.ResponseWriter, r *http.Request) {
	var in recallRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.WriteBadRequest(w, "invalid json")
		return
	}
	if err := validate.Recall(in.UserID, in.ConversationID, in.Query, in.K, in.Threshold); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	if h.mem == nil {
		respond.WriteError(w, http.StatusServiceUnavailable, "memory is disabled")
		return
	}
	matches := h.mem.Recall(r.Context(), memory.RecallQuery{
		UserID:         in.UserID,
		ConversationID: in.ConversationID,
		Query:          in.Query,
		K:              in.K,
		Threshold:      in.Threshold,
	})
	if matches == nil {
		matches = []model.RecallMatch{}
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"matches": matches})
}

// ListConversations handles GET /api/users/{userId}/conversations
func (h *ConversationHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := h.scope(w, r, false)
	if !ok {
		return
	}
	ids := h.mem.ListConversationIDs(r.Context(), userID)
	if ids == nil {
		ids = []string{}
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"conversationIds": ids})
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return memory.DefaultConversationLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > validate.MaxHistoryLimit {
		return 0, errors.New("limit must be between 1 and " + strconv.Itoa(validate.MaxHistoryLimit))
	}
	return n, nil
}

// ListMessages handles GET /api/users/{userId}/conversations/{conversationId}/messages
func (h *ConversationHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, convID, ok := h.scope(w, r, true)
	if !ok {
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	recs := h.mem.GetConversation(r.Context(), userID, convID, limit)
	if recs == nil {
		recs = []model.MemoryRecord{}
	}
	// embeddings are internal
	for i := range recs {
		recs[i].Embedding = nil
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"messages": recs, "count": len(recs)})
}

// DeleteConversation handles DELETE /api/users/{userId}/conversations/{conversationId}
func (h *ConversationHandler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	userID, convID, ok := h.scope(w, r, true)
	if !ok {
		return
	}
	if !h.mem.DeleteConversation(r.Context(), userID, convID) {
		respond.WriteInternalError(w, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSummaries handles GET /api/users/{userId}/conversations/{conversationId}/summaries
func (h *ConversationHandler) ListSummaries(w http.ResponseWriter, r *http.Request) {
	userID, convID, ok := h.scope(w, r, true)
	if !ok {
		return
	}
	sums := h.mem.Summaries(r.Context(), userID, convID)
	if sums == nil {
		sums = []model.ConversationSummary{}
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"summaries": sums})
}

type pruneRequest struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	APIKey   string `json:"apiKey"`
}

type pruneResponse struct {
	memory.PruneResult
	Error string `json:"error,omitempty"`
}

// Prune handles POST /api/users/{userId}/conversations/{conversationId}/prune.
// Without a service summarizer the body must name a provider and key.
func (h *ConversationHandler) Prune(w http.ResponseWriter, r *http.Request) {
	userID, convID, ok := h.scope(w, r, true)
	if !ok {
		return
	}
	if h.pruner == nil {
		respond.WriteError(w, http.StatusServiceUnavailable, "pruning is disabled")
		return
	}
	var in pruneRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil && !errors.Is(err, io.EOF) {
		respond.WriteBadRequest(w, "invalid json")
		return
	}

	var res memory.PruneResult
	switch {
	case in.Provider != "":
		if h.adapters == nil {
			respond.WriteError(w, http.StatusServiceUnavailable, "no provider registry")
			return
		}
		apiKey, err := auth.ProviderKey(r, in.APIKey)
		if err != nil {
			respond.WriteError(w, http.StatusUnauthorized, err.Error())
			return
		}
		adapter, err := h.adapters.New(in.Provider, apiKey)
		if err != nil {
			respond.WriteBadRequest(w, err.Error())
			return
		}
		res = h.pruner.SummarizeAndPruneWith(r.Context(), memory.ProviderSummarizer{Completer: adapter, Model: in.Model}, userID, convID)
	case h.pruner.HasSummarizer():
		res = h.pruner.SummarizeAndPrune(r.Context(), userID, convID)
	default:
		respond.WriteBadRequest(w, "provider and apiKey are required")
		return
	}

	out := pruneResponse{PruneResult: res}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	respond.WriteJSON(w, http.StatusOK, out)
}

// Export handles GET /api/users/{userId}/conversations/{conversationId}/export?format=json|md
func (h *ConversationHandler) Export(w http.ResponseWriter, r *http.Request) {
	userID, convID, ok := h.scope(w, r, true)
	if !ok {
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	recs := h.mem.GetConversation(r.Context(), userID, convID, validate.MaxHistoryLimit)
	body, err := export.Render(export.FromRecords(recs), format, h.now())
	if err != nil {
		respond.WriteInternalError(w, "export failed")
		return
	}
	name := export.SanitizeFilename("chat_"+convID) + "." + format.Extension()
	respond.WriteDownload(w, format.ContentType(), name, body)
}

// UserStats handles GET /api/users/{userId}/stats
func (h *ConversationHandler) UserStats(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	if err := validate.UserID(userID); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	if h.stats == nil {
		respond.WriteError(w, http.StatusServiceUnavailable, "usage stats unavailable")
		return
	}
	respond.WriteJSON(w, http.StatusOK, h.stats.Stats(r.Context(), userID))
}
