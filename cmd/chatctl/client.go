package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/mycelian/mycelian-chat/internal/orchestrator"
)

// client is a thin REST client for the chat service.
type client struct {
	http *resty.Client
}

func newClient(baseURL string) *client {
	return &client{http: resty.New().
		SetBaseURL(baseURL).
		SetTimeout(2*time.Minute).
		SetHeader("Content-Type", "application/json")}
}

// apiError is the error body written by the service.
type apiError struct {
	Error string `json:"error"`
}

func checkResponse(resp *resty.Response, err error, want int) error {
	if err != nil {
		return err
	}
	if resp.StatusCode() == want {
		return nil
	}
	var body apiError
	if json.Unmarshal(resp.Body(), &body) == nil && body.Error != "" {
		return fmt.Errorf("http %d: %s", resp.StatusCode(), body.Error)
	}
	return fmt.Errorf("http %d: %s", resp.StatusCode(), string(resp.Body()))
}

type turnPayload struct {
	Session  *orchestrator.Session `json:"session,omitempty"`
	UserID   string                `json:"userId,omitempty"`
	Input    string                `json:"input"`
	Provider string                `json:"provider"`
	Model    string                `json:"model,omitempty"`
	APIKey   string                `json:"apiKey"`
	Params   orchestrator.Params   `json:"params"`
}

type turnReply struct {
	Session orchestrator.Session    `json:"session"`
	Result  orchestrator.TurnResult `json:"result"`
}

func (c *client) turn(p turnPayload) (*turnReply, error) {
	var out turnReply
	resp, err := c.http.R().SetBody(p).SetResult(&out).Post("/api/turns")
	if err := checkResponse(resp, err, 200); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) estimate(providerName, modelName, input, output string) ([]byte, error) {
	resp, err := c.http.R().SetBody(map[string]string{
		"provider":   providerName,
		"model":      modelName,
		"inputText":  input,
		"outputText": output,
	}).Post("/api/estimate")
	if err := checkResponse(resp, err, 200); err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

func (c *client) recall(userID, conversationID, query string, k int, threshold float64) ([]byte, error) {
	body := map[string]interface{}{"userId": userID, "query": query}
	if conversationID != "" {
		body["conversationId"] = conversationID
	}
	if k > 0 {
		body["k"] = k
	}
	if threshold > 0 {
		body["threshold"] = threshold
	}
	resp, err := c.http.R().SetBody(body).Post("/api/recall")
	if err := checkResponse(resp, err, 200); err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

func (c *client) stats(userID string) ([]byte, error) {
	resp, err := c.http.R().Get("/api/users/" + url.PathEscape(userID) + "/stats")
	if err := checkResponse(resp, err, 200); err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

// export returns the rendered document and the file name suggested by the service.
func (c *client) export(userID, conversationID, format string) ([]byte, string, error) {
	resp, err := c.http.R().
		SetQueryParam("format", format).
		Get("/api/users/" + url.PathEscape(userID) + "/conversations/" + url.PathEscape(conversationID) + "/export")
	if err := checkResponse(resp, err, 200); err != nil {
		return nil, "", err
	}
	return resp.Body(), attachmentName(resp.Header().Get("Content-Disposition")), nil
}
