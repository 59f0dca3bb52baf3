// Package summarizer wraps the external summarization endpoint (spec.md
// §4.2), grounded on the teacher's internal/gemini/summarizer.go prompt
// construction shape but speaking the spec's bearer-auth chat-completions
// wire contract via internal/llmclient instead of the Gemini SDK.
package summarizer

import (
	"context"
	"fmt"
	"strings"

	"github.com/maine/newsdigest/internal/apperr"
	"github.com/maine/newsdigest/internal/news"
)

// Client is the subset of llmclient.Client the Summarizer depends on,
// narrowed to a small interface for in-memory fakes in tests, per spec.md
// §9's "small hand-written interfaces" guidance.
type Client interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int) (string, error)
}

// Summarizer implements spec.md §4.2.
type Summarizer struct {
	client       Client
	baseLanguage string
}

// New builds a Summarizer targeting baseLanguage (spec.md §2's Config).
func New(client Client, baseLanguage string) *Summarizer {
	return &Summarizer{client: client, baseLanguage: baseLanguage}
}

// Summarize produces a single plain-text digest from a non-empty
// collection of posts, per spec.md §4.2's protocol.
func (s *Summarizer) Summarize(ctx context.Context, posts []news.Post) (string, error) {
	if len(posts) == 0 {
		return "", apperr.New(apperr.KindValidation, "summarize", fmt.Errorf("no posts to summarize"))
	}

	system := fmt.Sprintf(
		"You are a news digest editor. Group related topics, use short bullet-style "+
			"paragraphs, keep the whole digest to approximately 500 words, and answer "+
			"entirely in %s. Do not invent facts not present in the input.",
		s.baseLanguage,
	)

	var sb strings.Builder
	for i, p := range posts {
		fmt.Fprintf(&sb, "%d. @%s: %s\n", i+1, p.Author, p.Text)
	}

	text, err := s.client.Complete(ctx, system, sb.String(), 0.7, 1000)
	if err != nil {
		return "", apperr.New(apperr.KindSummarizeFailed, "summarize", err)
	}
	return strings.TrimSpace(text), nil
}
