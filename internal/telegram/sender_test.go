package telegram

import (
	"context"
	"errors"
	"testing"
	"time"
)

// mockSendClient is a hand-rolled fake for sendClient, in the teacher's
// mockTelegramClient style.
type mockSendClient struct {
	sendMessageFunc func(ctx context.Context, chatID int64, text string) (rawResult, error)
}

func (m *mockSendClient) SendMessage(ctx context.Context, chatID int64, text string) (rawResult, error) {
	return m.sendMessageFunc(ctx, chatID, text)
}

func TestSenderClassifiesOK(t *testing.T) {
	s := &Sender{client: &mockSendClient{
		sendMessageFunc: func(ctx context.Context, chatID int64, text string) (rawResult, error) {
			return rawResult{status: 200, body: apiResponse{OK: true}}, nil
		},
	}}
	result := s.Send(context.Background(), 1, "hi")
	if result.Outcome != OutcomeOK {
		t.Errorf("Outcome = %v, want ok", result.Outcome)
	}
}

func TestSenderClassifiesRecipientGone(t *testing.T) {
	tests := []string{
		"Forbidden: bot was blocked by the user",
		"Bad Request: chat not found",
		"Forbidden: user is deactivated",
		"Forbidden: bot was kicked from the group",
	}
	for _, desc := range tests {
		s := &Sender{client: &mockSendClient{
			sendMessageFunc: func(ctx context.Context, chatID int64, text string) (rawResult, error) {
				return rawResult{status: 403, body: apiResponse{OK: false, Description: desc}}, nil
			},
		}}
		result := s.Send(context.Background(), 1, "hi")
		if result.Outcome != OutcomeRecipientGone {
			t.Errorf("description %q: Outcome = %v, want recipient_gone", desc, result.Outcome)
		}
	}
}

func TestSenderClassifiesRateLimited(t *testing.T) {
	s := &Sender{client: &mockSendClient{
		sendMessageFunc: func(ctx context.Context, chatID int64, text string) (rawResult, error) {
			body := apiResponse{OK: false, Description: "Too Many Requests"}
			body.Parameters = &struct {
				RetryAfter int `json:"retry_after"`
			}{RetryAfter: 7}
			return rawResult{status: 429, body: body}, nil
		},
	}}
	result := s.Send(context.Background(), 1, "hi")
	if result.Outcome != OutcomeRateLimited {
		t.Fatalf("Outcome = %v, want rate_limited", result.Outcome)
	}
	if result.RetryAfter != 7*time.Second {
		t.Errorf("RetryAfter = %v, want 7s", result.RetryAfter)
	}
}

func TestSenderClassifiesMarkupError(t *testing.T) {
	s := &Sender{client: &mockSendClient{
		sendMessageFunc: func(ctx context.Context, chatID int64, text string) (rawResult, error) {
			return rawResult{status: 400, body: apiResponse{OK: false, Description: "Bad Request: can't parse entities"}}, nil
		},
	}}
	result := s.Send(context.Background(), 1, "hi")
	if result.Outcome != OutcomeMarkupError {
		t.Errorf("Outcome = %v, want markup_error", result.Outcome)
	}
}

func TestSenderClassifiesTransientOnTransportError(t *testing.T) {
	s := &Sender{client: &mockSendClient{
		sendMessageFunc: func(ctx context.Context, chatID int64, text string) (rawResult, error) {
			return rawResult{}, errors.New("connection reset")
		},
	}}
	result := s.Send(context.Background(), 1, "hi")
	if result.Outcome != OutcomeTransient {
		t.Errorf("Outcome = %v, want transient", result.Outcome)
	}
}

func TestSenderClassifiesTransientOnOtherStatus(t *testing.T) {
	s := &Sender{client: &mockSendClient{
		sendMessageFunc: func(ctx context.Context, chatID int64, text string) (rawResult, error) {
			return rawResult{status: 500, body: apiResponse{OK: false, Description: "Internal Server Error"}}, nil
		},
	}}
	result := s.Send(context.Background(), 1, "hi")
	if result.Outcome != OutcomeTransient {
		t.Errorf("Outcome = %v, want transient", result.Outcome)
	}
}
