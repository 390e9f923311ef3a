package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/mycelian/mycelian-chat/internal/api/respond"
	"github.com/mycelian/mycelian-chat/internal/api/validate"
	"github.com/mycelian/mycelian-chat/internal/auth"
	"github.com/mycelian/mycelian-chat/internal/estimator"
	"github.com/mycelian/mycelian-chat/internal/model"
	"github.com/mycelian/mycelian-chat/internal/orchestrator"
	"github.com/mycelian/mycelian-chat/internal/provider"
)

func writeNotFound(w http.ResponseWriter, msg string) { respond.WriteNotFound(w, msg) }

type TurnHandler struct {
	orc *orchestrator.Orchestrator
	est *estimator.Estimator
	log zerolog.Logger
}

type turnRequest struct {
	// Session is omitted to start a new conversation for UserID.
	Session  *orchestrator.Session `json:"session,omitempty"`
	UserID   string                `json:"userId,omitempty"`
	Input    string                `json:"input"`
	Provider string                `json:"provider"`
	Model    string                `json:"model"`
	APIKey   string                `json:"apiKey"`
	Params   orchestrator.Params   `json:"params"`
}

type turnResponse struct {
	Session orchestrator.Session    `json:"session"`
	Result  orchestrator.TurnResult `json:"result"`
}

// HandleTurn handles POST /api/turns
func (h *TurnHandler) HandleTurn(w http.ResponseWriter, r *http.Request) {
	var in turnRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.WriteBadRequest(w, "invalid json")
		return
	}
	var sess orchestrator.Session
	if in.Session != nil {
		sess = *in.Session
	} else {
		if err := validate.UserID(in.UserID); err != nil {
			respond.WriteBadRequest(w, err.Error())
			return
		}
		sess = orchestrator.NewSession(in.UserID)
	}
	if err := validate.Turn(sess.UserID, sess.ConversationID, in.Input, in.Provider); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	apiKey, err := auth.ProviderKey(r, in.APIKey)
	if err != nil {
		respond.WriteError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if !provider.ValidateAPIKey(in.Provider, apiKey) {
		respond.WriteBadRequest(w, "invalid api key for "+in.Provider)
		return
	}
	if err := validate.Range("params.maxTokens", in.Params.MaxTokens, 100_000); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	if err := validate.Range("params.recallCount", in.Params.RecallCount, validate.MaxRecallK); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}

	out, res, err := h.orc.HandleTurn(r.Context(), sess, orchestrator.TurnRequest{
		Input:    in.Input,
		Provider: in.Provider,
		Model:    in.Model,
		APIKey:   apiKey,
		Params:   in.Params,
	})
	if err != nil {
		var ce *orchestrator.CompletionError
		switch {
		case errors.As(err, &ce):
			respond.WriteBadGateway(w, err.Error())
		case errors.Is(err, provider.ErrUnknownProvider), errors.Is(err, provider.ErrMissingAPIKey):
			respond.WriteBadRequest(w, err.Error())
		default:
			h.log.Error().Err(err).Msg("turn failed")
			respond.WriteInternalError(w, "turn failed")
		}
		return
	}
	respond.WriteJSON(w, http.StatusOK, turnResponse{Session: out, Result: res})
}

type estimateRequest struct {
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	InputText  string `json:"inputText"`
	OutputText string `json:"outputText"`
}

// Estimate handles POST /api/estimate
func (h *TurnHandler) Estimate(w http.ResponseWriter, r *http.Request) {
	var in estimateRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.WriteBadRequest(w, "invalid json")
		return
	}
	if err := validate.NonEmpty("provider", in.Provider); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	if err := validate.NonEmpty("model", in.Model); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	var msgs []model.Message
	if in.InputText != "" {
		msgs = []model.Message{{Role: model.RoleUser, Content: in.InputText}}
	}
	respond.WriteJSON(w, http.StatusOK, h.est.TokenInfo(in.Provider, in.Model, msgs, in.OutputText))
}

type providerInfo struct {
	Name         string   `json:"name"`
	DefaultModel string   `json:"defaultModel"`
	Models       []string `json:"models"`
}

// Providers handles GET /api/providers
func (h *TurnHandler) Providers(w http.ResponseWriter, r *http.Request) {
	names := h.est.Providers()
	out := make([]providerInfo, 0, len(names))
	for _, p := range names {
		out = append(out, providerInfo{Name: p, DefaultModel: provider.DefaultModel(p), Models: h.est.Models(p)})
	}
	respond.WriteJSON(w, http.StatusOK, out)
}
