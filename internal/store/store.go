// Package store provides durable persistence for the four spec.md §3
// tables plus the scheduler's lease, replacing the teacher's single-file
// internal/state.FileStore with a relational Postgres implementation while
// keeping its narrow, test-fakeable interface shape.
package store

import (
	"context"
	"time"

	"github.com/maine/newsdigest/internal/news"
)

// Store is the seam every component that touches persistence depends on,
// generalized from the teacher's internal/state.FileStore Load/Save pair
// (which only ever held one JSON blob) into the full relational contract
// spec.md §3/§4 require.
type Store interface {
	// Digests
	InsertDigest(ctx context.Context, content string, createdAt time.Time) (*news.Digest, error)
	LatestDigest(ctx context.Context) (*news.Digest, error)

	// Translations (cache-through, §4.3)
	GetTranslation(ctx context.Context, digestID int64, language string) (*news.Translation, error)
	InsertTranslation(ctx context.Context, digestID int64, language, content string, createdAt time.Time) (*news.Translation, error)

	// Subscribers (§4.7 state machine)
	GetSubscriber(ctx context.Context, chatID int64) (*news.Subscriber, error)
	UpsertSubscriberActive(ctx context.Context, chatID int64, language string, now time.Time) (*news.Subscriber, error)
	SetSubscriberActive(ctx context.Context, chatID int64, active bool, now time.Time) error
	SetSubscriberLanguage(ctx context.Context, chatID int64, language string) error
	MarkWelcomeSent(ctx context.Context, chatID int64) error
	ActiveSubscribers(ctx context.Context) ([]news.Subscriber, error)
	SubscriberStats(ctx context.Context) (active, inactive int, byLanguage map[string]int, err error)

	// Delivery failures (append-only audit log, §3)
	RecordDeliveryFailure(ctx context.Context, chatID int64, message string, createdAt time.Time) error

	// Single-leader lease (§4.8)
	AcquireLease(ctx context.Context, slotKey string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, slotKey string) error

	// Health (§6 /health)
	Ping(ctx context.Context) error

	Close() error
}
