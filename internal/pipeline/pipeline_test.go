package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/maine/newsdigest/internal/delivery"
	"github.com/maine/newsdigest/internal/news"
)

type fakeHarvester struct {
	posts []news.Post
	err   error
}

func (f *fakeHarvester) Harvest(ctx context.Context, roster []string, lookback time.Duration, maxPosts int) ([]news.Post, error) {
	return f.posts, f.err
}

type fakeSummarizer struct {
	content string
	err     error
}

func (f *fakeSummarizer) Summarize(ctx context.Context, posts []news.Post) (string, error) {
	return f.content, f.err
}

type fakeStore struct {
	nextID int64
	err    error
}

func (f *fakeStore) InsertDigest(ctx context.Context, content string, createdAt time.Time) (*news.Digest, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.nextID++
	return &news.Digest{ID: f.nextID, Content: content, CreatedAt: createdAt}, nil
}

type fakeOrchestrator struct {
	summary  delivery.Summary
	err      error
	delivers int
}

func (f *fakeOrchestrator) Deliver(ctx context.Context, digest *news.Digest) (delivery.Summary, error) {
	f.delivers++
	return f.summary, f.err
}

func TestGenerateDigestPersistsContent(t *testing.T) {
	h := &fakeHarvester{posts: []news.Post{{Author: "a", Text: "x"}}}
	s := &fakeSummarizer{content: "summary"}
	st := &fakeStore{}
	p := New(h, s, st, &fakeOrchestrator{}, []string{"a"}, time.Hour, 10)

	digest, err := p.GenerateDigest(context.Background())
	if err != nil {
		t.Fatalf("GenerateDigest() error = %v", err)
	}
	if digest.Content != "summary" {
		t.Errorf("Content = %q, want summary", digest.Content)
	}
}

func TestGenerateDigestPropagatesHarvestError(t *testing.T) {
	h := &fakeHarvester{err: errors.New("harvest failed")}
	p := New(h, &fakeSummarizer{}, &fakeStore{}, &fakeOrchestrator{}, []string{"a"}, time.Hour, 10)

	if _, err := p.GenerateDigest(context.Background()); err == nil {
		t.Fatal("expected harvest error to propagate")
	}
}

func TestGenerateDigestReturnsNilOnEmptyPosts(t *testing.T) {
	h := &fakeHarvester{posts: nil}
	s := &fakeSummarizer{content: "summary"}
	st := &fakeStore{}
	p := New(h, s, st, &fakeOrchestrator{}, []string{"a"}, time.Hour, 10)

	digest, err := p.GenerateDigest(context.Background())
	if err != nil {
		t.Fatalf("GenerateDigest() error = %v, want nil", err)
	}
	if digest != nil {
		t.Fatalf("GenerateDigest() = %+v, want nil digest", digest)
	}
}

func TestRunIsNoopOnEmptyPosts(t *testing.T) {
	h := &fakeHarvester{posts: nil}
	s := &fakeSummarizer{content: "summary"}
	st := &fakeStore{}
	orch := &fakeOrchestrator{}
	p := New(h, s, st, orch, []string{"a"}, time.Hour, 10)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}
	if orch.delivers != 0 {
		t.Errorf("Deliver called %d times, want 0", orch.delivers)
	}
}

func TestRunDeliversGeneratedDigest(t *testing.T) {
	h := &fakeHarvester{posts: []news.Post{{Author: "a", Text: "x"}}}
	s := &fakeSummarizer{content: "summary"}
	st := &fakeStore{}
	orch := &fakeOrchestrator{summary: delivery.Summary{Delivered: 3}}
	p := New(h, s, st, orch, []string{"a"}, time.Hour, 10)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestRunPropagatesDeliveryError(t *testing.T) {
	h := &fakeHarvester{posts: []news.Post{{Author: "a", Text: "x"}}}
	s := &fakeSummarizer{content: "summary"}
	st := &fakeStore{}
	orch := &fakeOrchestrator{err: errors.New("deliver failed")}
	p := New(h, s, st, orch, []string{"a"}, time.Hour, 10)

	if err := p.Run(context.Background()); err == nil {
		t.Fatal("expected delivery error to propagate")
	}
}
