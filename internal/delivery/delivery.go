// Package delivery implements the Delivery Orchestrator of spec.md §4.6.
// Generalizes the teacher's Sender.Send double loop (sequential
// recipients×messages) into per-subscriber goroutines bounded by
// golang.org/x/sync/errgroup, since the teacher never needed independent
// per-recipient retry/backoff policy — it only polled getUpdates and sent
// once, with no rate-limit/transient distinction.
package delivery

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/maine/newsdigest/internal/applog"
	"github.com/maine/newsdigest/internal/backoff"
	"github.com/maine/newsdigest/internal/langs"
	"github.com/maine/newsdigest/internal/news"
	"github.com/maine/newsdigest/internal/telegram"

	"golang.org/x/sync/errgroup"
)

const component = "delivery"

// fanOutConcurrency is the default bounded-concurrency cap spec.md §4.6
// names.
const fanOutConcurrency = 4

// Store is the subset of store.Store the Orchestrator depends on.
type Store interface {
	ActiveSubscribers(ctx context.Context) ([]news.Subscriber, error)
	SetSubscriberActive(ctx context.Context, chatID int64, active bool, now time.Time) error
	RecordDeliveryFailure(ctx context.Context, chatID int64, message string, createdAt time.Time) error
}

// Translator is the subset of translator.Translator the Orchestrator
// depends on.
type Translator interface {
	Translate(ctx context.Context, digest *news.Digest, targetLanguage string) (string, error)
}

// Formatter is the subset of formatter.Formatter the Orchestrator depends
// on.
type Formatter interface {
	Format(title, digestBody string, generatedAt time.Time) ([]string, error)
}

// Sender is the subset of telegram.Sender the Orchestrator depends on.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) telegram.Result
}

// Summary aggregates per-run counters, per spec.md §4.6 step 4.
type Summary struct {
	Attempted   int
	Delivered   int
	Deactivated int
	Failed      int
}

// Orchestrator implements spec.md §4.6.
type Orchestrator struct {
	store       Store
	translator  Translator
	formatter   Formatter
	sender      Sender
	registry    *langs.Registry
	adminChatID int64
	concurrency int
	clock       func() time.Time
}

// New builds an Orchestrator. adminChatID receives the once-per-run
// markup-error alert.
func New(store Store, translator Translator, formatter Formatter, sender Sender, registry *langs.Registry, adminChatID int64) *Orchestrator {
	return &Orchestrator{
		store:       store,
		translator:  translator,
		formatter:   formatter,
		sender:      sender,
		registry:    registry,
		adminChatID: adminChatID,
		concurrency: fanOutConcurrency,
		clock:       time.Now,
	}
}

type renderedGroup struct {
	messages []string
	err      error
}

// Deliver implements spec.md §4.6's algorithm for one Digest. Active
// subscribers are read once, at the start of the run, and each is grouped
// by the language read then; a language change made after that read takes
// effect from the next run.
func (o *Orchestrator) Deliver(ctx context.Context, digest *news.Digest) (Summary, error) {
	subscribers, err := o.store.ActiveSubscribers(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("load active subscribers: %w", err)
	}
	if len(subscribers) == 0 {
		return Summary{}, nil
	}

	byLanguage := make(map[string][]news.Subscriber)
	for _, s := range subscribers {
		byLanguage[s.Language] = append(byLanguage[s.Language], s)
	}

	rendered := make(map[string]renderedGroup, len(byLanguage))
	for language := range byLanguage {
		rendered[language] = o.renderGroup(ctx, digest, language)
	}

	var attempted, delivered, deactivated, failed int64
	var alertedMarkup int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)

	for language, subs := range byLanguage {
		group := rendered[language]
		for _, sub := range subs {
			sub := sub
			atomic.AddInt64(&attempted, 1)

			if group.err != nil {
				atomic.AddInt64(&failed, 1)
				_ = o.store.RecordDeliveryFailure(ctx, sub.ChatID, group.err.Error(), o.clock())
				continue
			}

			messages := group.messages
			g.Go(func() error {
				outcome := o.deliverToSubscriber(gctx, sub, messages, &alertedMarkup)
				switch outcome {
				case outcomeDelivered:
					atomic.AddInt64(&delivered, 1)
				case outcomeDeactivated:
					atomic.AddInt64(&deactivated, 1)
				default:
					atomic.AddInt64(&failed, 1)
				}
				return nil
			})
		}
	}
	_ = g.Wait()

	summary := Summary{
		Attempted:   int(attempted),
		Delivered:   int(delivered),
		Deactivated: int(deactivated),
		Failed:      int(failed),
	}
	applog.Line(component, "delivery run complete", applog.Fields{
		"attempted": summary.Attempted, "delivered": summary.Delivered,
		"deactivated": summary.Deactivated, "failed": summary.Failed,
	})
	return summary, nil
}

func (o *Orchestrator) renderGroup(ctx context.Context, digest *news.Digest, language string) renderedGroup {
	content, err := o.translator.Translate(ctx, digest, language)
	if err != nil {
		return renderedGroup{err: err}
	}

	title := "Daily Digest"
	if l, ok := o.registry.Get(language); ok {
		title = l.DisplayName
	}

	messages, err := o.formatter.Format(title, content, o.clock())
	if err != nil {
		return renderedGroup{err: err}
	}
	return renderedGroup{messages: messages}
}

type deliveryOutcome int

const (
	outcomeDelivered deliveryOutcome = iota
	outcomeDeactivated
	outcomeFailed
)

// deliverToSubscriber sends every message segment in order, applying the
// retry policy of spec.md §4.6 step 3 per segment.
func (o *Orchestrator) deliverToSubscriber(ctx context.Context, sub news.Subscriber, messages []string, alertedMarkup *int32) deliveryOutcome {
	for _, message := range messages {
		outcome := o.sendWithRetry(ctx, sub.ChatID, message, alertedMarkup)
		switch outcome {
		case outcomeDeactivated:
			_ = o.store.SetSubscriberActive(ctx, sub.ChatID, false, o.clock())
			return outcomeDeactivated
		case outcomeFailed:
			return outcomeFailed
		}
	}
	return outcomeDelivered
}

func (o *Orchestrator) sendWithRetry(ctx context.Context, chatID int64, message string, alertedMarkup *int32) deliveryOutcome {
	rateLimitAttempts := 0
	transientAttempts := 0

	for {
		result := o.sender.Send(ctx, chatID, message)
		switch result.Outcome {
		case telegram.OutcomeOK:
			return outcomeDelivered

		case telegram.OutcomeRecipientGone:
			return outcomeDeactivated

		case telegram.OutcomeMarkupError:
			_ = o.store.RecordDeliveryFailure(ctx, chatID, result.Description, o.clock())
			if atomic.CompareAndSwapInt32(alertedMarkup, 0, 1) {
				o.sender.Send(ctx, o.adminChatID, "⚠️ markup_error encountered during delivery run: "+result.Description)
			}
			return outcomeFailed

		case telegram.OutcomeRateLimited:
			rateLimitAttempts++
			if rateLimitAttempts >= 3 {
				_ = o.store.RecordDeliveryFailure(ctx, chatID, "rate limited after 3 attempts", o.clock())
				return outcomeFailed
			}
			if !sleep(ctx, result.RetryAfter) {
				return outcomeFailed
			}

		default: // transient
			transientAttempts++
			if transientAttempts > 2 {
				_ = o.store.RecordDeliveryFailure(ctx, chatID, result.Description, o.clock())
				return outcomeFailed
			}
			if !sleep(ctx, backoff.Compute(transientAttempts)) {
				return outcomeFailed
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
