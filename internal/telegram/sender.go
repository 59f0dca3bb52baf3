package telegram

import (
	"context"
	"strings"
	"time"
)

// Outcome is the Sender's typed classification of a send attempt, per
// spec.md §4.5 — promoted from the teacher's substring-based
// isRetryableError boolean into the full five-way split the spec
// demands.
type Outcome string

const (
	OutcomeOK            Outcome = "ok"
	OutcomeRecipientGone Outcome = "recipient_gone"
	OutcomeRateLimited   Outcome = "rate_limited"
	OutcomeMarkupError   Outcome = "markup_error"
	OutcomeTransient     Outcome = "transient"
)

// recipientGoneMarkers are substrings of the chat API's description field
// that indicate the recipient can never receive messages again, per
// spec.md §4.5.
var recipientGoneMarkers = []string{
	"bot was blocked by the user",
	"user is deactivated",
	"chat not found",
	"bot was kicked",
}

// Result is what the Sender returns for a single send attempt.
type Result struct {
	Outcome     Outcome
	RetryAfter  time.Duration
	Description string
}

// sendClient is the subset of Client the Sender depends on, narrowed for
// test fakeability.
type sendClient interface {
	SendMessage(ctx context.Context, chatID int64, text string) (rawResult, error)
}

// Sender implements spec.md §4.5: one HTTP POST per message, classified
// into a typed Outcome.
type Sender struct {
	client sendClient
}

// NewSender builds a Sender around a Client.
func NewSender(client *Client) *Sender {
	return &Sender{client: client}
}

// Send posts one message and classifies the outcome. A transport-level
// error (network failure, timeout, context cancellation) classifies as
// transient, matching spec.md §4.5's "network error or timeout" clause.
func (s *Sender) Send(ctx context.Context, chatID int64, text string) Result {
	raw, err := s.client.SendMessage(ctx, chatID, text)
	if err != nil {
		return Result{Outcome: OutcomeTransient, Description: err.Error()}
	}
	return classify(raw)
}

func classify(raw rawResult) Result {
	if raw.status >= 200 && raw.status < 300 && raw.body.OK {
		return Result{Outcome: OutcomeOK}
	}

	description := raw.body.Description

	if raw.status == 429 {
		retryAfter := 1 * time.Second
		if raw.body.Parameters != nil && raw.body.Parameters.RetryAfter > 0 {
			retryAfter = time.Duration(raw.body.Parameters.RetryAfter) * time.Second
		}
		return Result{Outcome: OutcomeRateLimited, RetryAfter: retryAfter, Description: description}
	}

	if raw.status == 403 || raw.status == 400 {
		lower := strings.ToLower(description)
		for _, marker := range recipientGoneMarkers {
			if strings.Contains(lower, marker) {
				return Result{Outcome: OutcomeRecipientGone, Description: description}
			}
		}
		if strings.Contains(lower, "can't parse entities") {
			return Result{Outcome: OutcomeMarkupError, Description: description}
		}
	}

	return Result{Outcome: OutcomeTransient, Description: description}
}
