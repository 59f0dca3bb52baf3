// Package llmclient implements the bearer-authenticated chat-completions
// HTTP contract spec.md §4.2 names, in the teacher's own request/response
// struct + net/http POST shape (internal/telegram/client.go's post/get
// helpers), since the teacher's actual LLM dependency
// (google.golang.org/genai) speaks a different, SDK-specific protocol — see
// DESIGN.md for why that dependency is not reused here.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/maine/newsdigest/internal/backoff"
)

// Client talks to an OpenAI-chat-completions-shaped endpoint.
type Client struct {
	apiKey string
	model  string
	http   *http.Client
	apiURL string
}

// New builds a Client. apiURL defaults to the OpenAI-compatible endpoint
// when empty.
func New(apiKey, model, apiURL string) *Client {
	if apiURL == "" {
		apiURL = "https://api.openai.com/v1/chat/completions"
	}
	return &Client{
		apiKey: apiKey,
		model:  model,
		apiURL: apiURL,
		http:   &http.Client{Timeout: 60 * time.Second},
	}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type response struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

// Error is returned for non-2xx responses, carrying the status and a
// truncated body per spec.md §4.2/§7.
type Error struct {
	Status int
	Body   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("llm endpoint status %d: %s", e.Status, e.Body)
}

// Complete issues one chat-completions call with the given system+user
// prompts, retrying once, after a jittered backoff delay, on transient
// failure (network error, 5xx or 429), as spec.md §4.2 requires.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int) (string, error) {
	body := request{
		Model: c.model,
		Messages: []message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff.Compute(attempt)):
			}
		}
		text, err := c.complete(ctx, body)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !isTransient(err) {
			return "", err
		}
	}
	return "", lastErr
}

func (c *Client) complete(ctx context.Context, body request) (string, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &Error{Status: resp.StatusCode, Body: truncate(respBody, 512)}
	}

	var out response
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("empty choices in response")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

func isTransient(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Status >= 500 || e.Status == 429
	}
	return true // network errors, timeouts
}

func truncate(b []byte, limit int) string {
	if len(b) <= limit {
		return string(b)
	}
	return string(b[:limit]) + "...(truncated)"
}
