// Package news holds the domain types shared across components, restructured
// from the teacher's batch-pipeline shape (internal/news/types.go's
// ArticleRaw/CategorizedArticle/DigestEntry/State) into the relational
// entities spec.md §3 defines.
package news

import "time"

// Post is transient; it is never persisted (spec.md §3).
type Post struct {
	Author      string    // screen name: non-empty, letters/digits/underscore
	Text        string    // plain-text body
	PublishedAt time.Time // UTC instant
	SourceID    string    // opaque feed-item id, for logging only
}

// Digest is inserted once per successful pipeline run; never updated.
type Digest struct {
	ID        int64
	Content   string // base-language plain text, no markup
	CreatedAt time.Time
}

// Translation caches a Digest's content in a target language.
// Uniqueness: (DigestID, Language) is unique.
type Translation struct {
	DigestID  int64
	Language  string
	Content   string
	CreatedAt time.Time
}

// Subscriber is keyed by ChatID; deactivation preserves the row.
type Subscriber struct {
	ChatID            int64
	Language          string
	Active            bool
	SubscribedAt      time.Time
	FirstSubscribedAt time.Time
	ReceivedWelcome   bool
}

// DeliveryFailure is an append-only audit log entry.
type DeliveryFailure struct {
	ID           int64
	ChatID       int64
	ErrorMessage string
	CreatedAt    time.Time
}

// LeaseToken is the conceptual shape of the single-leader lease (spec.md
// §4.8); the Store may implement it via an advisory lock instead of a row.
type LeaseToken struct {
	Name           string
	HolderInstance string
	AcquiredAt     time.Time
	ExpiresAt      time.Time
}

// SubscriberState names the three logical states the webhook's subscription
// state machine moves between (spec.md §4.7).
type SubscriberState string

const (
	StateAbsent   SubscriberState = "absent"
	StateActive   SubscriberState = "active"
	StateInactive SubscriberState = "inactive"
)

// StateOf derives the logical SubscriberState for a possibly-nil Subscriber.
func StateOf(s *Subscriber) SubscriberState {
	if s == nil {
		return StateAbsent
	}
	if s.Active {
		return StateActive
	}
	return StateInactive
}
