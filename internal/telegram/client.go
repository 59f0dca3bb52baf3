// Package telegram speaks the chat-bot HTTP API spec.md §4.5/§4.7 names.
// Grounded on the teacher's internal/telegram/client.go transport shape
// (bot-token-embedded URL, net/http POST/GET helpers) generalized to
// decode the API's JSON error envelope (description, error_code,
// parameters.retry_after) instead of collapsing every non-2xx
// response to a bare status-code error, since the Sender's outcome
// classifier (spec.md §4.5) needs that detail.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to the chat-bot API's sendMessage endpoint.
type Client struct {
	http   *http.Client
	apiURL string
}

// NewClient builds a Client. token is embedded in the API URL per the
// platform's convention.
func NewClient(token string) *Client {
	return &Client{
		http:   &http.Client{Timeout: 20 * time.Second},
		apiURL: fmt.Sprintf("https://api.telegram.org/bot%s", token),
	}
}

// apiResponse is the chat API's response envelope, covering both the
// success and error shapes spec.md §4.5 classifies against.
type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	ErrorCode   int    `json:"error_code"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// rawResult carries what the Sender's classifier needs: the HTTP status
// and the decoded envelope (best-effort — a non-JSON body leaves it
// zero-valued). A transport-level error is returned separately by
// SendMessage.
type rawResult struct {
	status int
	body   apiResponse
}

// SendMessage posts one message to the chat API's sendMessage endpoint
// with parse_mode "extended-markdown", per spec.md §4.5.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) (rawResult, error) {
	payload := map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "extended-markdown",
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return rawResult{}, fmt.Errorf("marshal sendMessage payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/sendMessage", bytes.NewReader(data))
	if err != nil {
		return rawResult{}, fmt.Errorf("build sendMessage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return rawResult{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return rawResult{status: resp.StatusCode}, err
	}

	var decoded apiResponse
	_ = json.Unmarshal(raw, &decoded) // best-effort; zero value is fine for unclassifiable bodies

	return rawResult{status: resp.StatusCode, body: decoded}, nil
}
