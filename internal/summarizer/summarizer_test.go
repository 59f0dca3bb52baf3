package summarizer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/maine/newsdigest/internal/news"
)

type fakeClient struct {
	completeFunc func(ctx context.Context, system, user string, temperature float64, maxTokens int) (string, error)
}

func (f *fakeClient) Complete(ctx context.Context, system, user string, temperature float64, maxTokens int) (string, error) {
	return f.completeFunc(ctx, system, user, temperature, maxTokens)
}

func TestSummarizeEmptyIsValidationError(t *testing.T) {
	s := New(&fakeClient{}, "en")
	if _, err := s.Summarize(context.Background(), nil); err == nil {
		t.Fatal("expected an error for empty post list")
	}
}

func TestSummarizeTrimsResult(t *testing.T) {
	s := New(&fakeClient{
		completeFunc: func(ctx context.Context, system, user string, temperature float64, maxTokens int) (string, error) {
			return "  Topic 1\n- x  ", nil
		},
	}, "en")

	posts := []news.Post{{Author: "a", Text: "hi", PublishedAt: time.Now()}}
	out, err := s.Summarize(context.Background(), posts)
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if out != "Topic 1\n- x" {
		t.Errorf("Summarize() = %q, want trimmed", out)
	}
}

func TestSummarizePropagatesUpstreamError(t *testing.T) {
	s := New(&fakeClient{
		completeFunc: func(ctx context.Context, system, user string, temperature float64, maxTokens int) (string, error) {
			return "", errors.New("endpoint down")
		},
	}, "en")

	posts := []news.Post{{Author: "a", Text: "hi", PublishedAt: time.Now()}}
	if _, err := s.Summarize(context.Background(), posts); err == nil {
		t.Fatal("expected error to propagate")
	}
}
