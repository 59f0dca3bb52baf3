// Package pipeline wires Harvester → Summarizer → Store → Delivery
// Orchestrator into the single run spec.md §2 describes, grounded on the
// teacher's internal/app.Pipeline.Run step-by-step structure (banner
// logging per stage, clock injection for tests) but replaced end to end:
// the teacher's categorize/rank/build-vs-send-mode branching has no
// equivalent here, since the spec's data model has no category or rank
// concept and every scheduled run both builds and delivers.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/maine/newsdigest/internal/applog"
	"github.com/maine/newsdigest/internal/delivery"
	"github.com/maine/newsdigest/internal/news"
)

const component = "pipeline"

// Harvester is the subset of harvester.Harvester the Pipeline depends on.
type Harvester interface {
	Harvest(ctx context.Context, roster []string, lookback time.Duration, maxPosts int) ([]news.Post, error)
}

// Summarizer is the subset of summarizer.Summarizer the Pipeline depends
// on.
type Summarizer interface {
	Summarize(ctx context.Context, posts []news.Post) (string, error)
}

// Store is the subset of store.Store the Pipeline depends on.
type Store interface {
	InsertDigest(ctx context.Context, content string, createdAt time.Time) (*news.Digest, error)
}

// Orchestrator is the subset of delivery.Orchestrator the Pipeline depends
// on.
type Orchestrator interface {
	Deliver(ctx context.Context, digest *news.Digest) (delivery.Summary, error)
}

// Pipeline implements spec.md §2's end-to-end run.
type Pipeline struct {
	harvester    Harvester
	summarizer   Summarizer
	store        Store
	orchestrator Orchestrator
	roster       []string
	lookback     time.Duration
	maxPosts     int
	clock        func() time.Time
}

// New builds a Pipeline.
func New(h Harvester, s Summarizer, st Store, orch Orchestrator, roster []string, lookback time.Duration, maxPosts int) *Pipeline {
	return &Pipeline{
		harvester:    h,
		summarizer:   s,
		store:        st,
		orchestrator: orch,
		roster:       roster,
		lookback:     lookback,
		maxPosts:     maxPosts,
		clock:        time.Now,
	}
}

// GenerateDigest harvests, summarizes, and persists one Digest without
// delivering it — used both by Run and by the /test?fresh=true HTTP path
// (spec.md §4.8).
func (p *Pipeline) GenerateDigest(ctx context.Context) (*news.Digest, error) {
	applog.Section("Harvesting posts")
	posts, err := p.harvester.Harvest(ctx, p.roster, p.lookback, p.maxPosts)
	if err != nil {
		return nil, fmt.Errorf("harvest: %w", err)
	}
	applog.Line(component, "harvest complete", applog.Fields{"posts": len(posts)})
	if len(posts) == 0 {
		applog.Line(component, "no posts in window, skipping digest", applog.Fields{})
		return nil, nil
	}

	applog.Section("Summarizing")
	content, err := p.summarizer.Summarize(ctx, posts)
	if err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}

	digest, err := p.store.InsertDigest(ctx, content, p.clock())
	if err != nil {
		return nil, fmt.Errorf("persist digest: %w", err)
	}
	applog.Line(component, "digest persisted", applog.Fields{"digest_id": digest.ID})
	return digest, nil
}

// Run executes one full scheduled cycle: generate, then deliver to every
// active subscriber (spec.md §4.8's per-slot invocation).
func (p *Pipeline) Run(ctx context.Context) error {
	digest, err := p.GenerateDigest(ctx)
	if err != nil {
		return err
	}
	if digest == nil {
		applog.Line(component, "run complete with no digest to deliver", applog.Fields{})
		return nil
	}

	applog.Section("Delivering")
	summary, err := p.orchestrator.Deliver(ctx, digest)
	if err != nil {
		return fmt.Errorf("deliver: %w", err)
	}
	applog.Line(component, "run complete", applog.Fields{
		"attempted": summary.Attempted, "delivered": summary.Delivered,
		"deactivated": summary.Deactivated, "failed": summary.Failed,
	})
	return nil
}
