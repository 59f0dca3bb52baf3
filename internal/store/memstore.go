package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maine/newsdigest/internal/news"
)

// MemStore is an in-memory Store used by component tests, in the teacher's
// hand-rolled-fake idiom (mockTelegramClient in internal/telegram/sender_test.go)
// generalized into a fake for the full persistence seam instead of one
// narrow interface.
type MemStore struct {
	mu sync.Mutex

	digests      []news.Digest
	translations map[string]news.Translation // key: digestID:language
	subscribers  map[int64]news.Subscriber
	failures     []news.DeliveryFailure
	leases       map[string]news.LeaseToken

	nextDigestID int64
}

// NewMemStore constructs an empty in-memory Store.
func NewMemStore() *MemStore {
	return &MemStore{
		translations: map[string]news.Translation{},
		subscribers:  map[int64]news.Subscriber{},
		leases:       map[string]news.LeaseToken{},
		nextDigestID: 1,
	}
}

func (m *MemStore) Close() error { return nil }

func (m *MemStore) Ping(ctx context.Context) error { return nil }

func (m *MemStore) InsertDigest(ctx context.Context, content string, createdAt time.Time) (*news.Digest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := news.Digest{ID: m.nextDigestID, Content: content, CreatedAt: createdAt}
	m.nextDigestID++
	m.digests = append(m.digests, d)
	return &d, nil
}

func (m *MemStore) LatestDigest(ctx context.Context) (*news.Digest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.digests) == 0 {
		return nil, nil
	}
	latest := m.digests[0]
	for _, d := range m.digests[1:] {
		if d.CreatedAt.After(latest.CreatedAt) {
			latest = d
		}
	}
	return &latest, nil
}

func translationKey(digestID int64, language string) string {
	return fmt.Sprintf("%d:%s", digestID, language)
}

func (m *MemStore) GetTranslation(ctx context.Context, digestID int64, language string) (*news.Translation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.translations[translationKey(digestID, language)]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *MemStore) InsertTranslation(ctx context.Context, digestID int64, language, content string, createdAt time.Time) (*news.Translation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := translationKey(digestID, language)
	if existing, ok := m.translations[key]; ok {
		return &existing, nil
	}
	t := news.Translation{DigestID: digestID, Language: language, Content: content, CreatedAt: createdAt}
	m.translations[key] = t
	return &t, nil
}

func (m *MemStore) GetSubscriber(ctx context.Context, chatID int64) (*news.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subscribers[chatID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *MemStore) UpsertSubscriberActive(ctx context.Context, chatID int64, language string, now time.Time) (*news.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.subscribers[chatID]
	if !ok {
		s := news.Subscriber{
			ChatID:            chatID,
			Language:          language,
			Active:            true,
			SubscribedAt:      now,
			FirstSubscribedAt: now,
		}
		m.subscribers[chatID] = s
		return &s, nil
	}
	existing.Active = true
	existing.SubscribedAt = now
	m.subscribers[chatID] = existing
	return &existing, nil
}

func (m *MemStore) SetSubscriberActive(ctx context.Context, chatID int64, active bool, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subscribers[chatID]
	if !ok {
		return fmt.Errorf("subscriber %d not found", chatID)
	}
	s.Active = active
	if active {
		s.SubscribedAt = now
	}
	m.subscribers[chatID] = s
	return nil
}

func (m *MemStore) SetSubscriberLanguage(ctx context.Context, chatID int64, language string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subscribers[chatID]
	if !ok {
		return fmt.Errorf("subscriber %d not found", chatID)
	}
	s.Language = language
	m.subscribers[chatID] = s
	return nil
}

func (m *MemStore) MarkWelcomeSent(ctx context.Context, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subscribers[chatID]
	if !ok {
		return fmt.Errorf("subscriber %d not found", chatID)
	}
	s.ReceivedWelcome = true
	m.subscribers[chatID] = s
	return nil
}

func (m *MemStore) ActiveSubscribers(ctx context.Context) ([]news.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []news.Subscriber
	for _, s := range m.subscribers {
		if s.Active {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MemStore) SubscriberStats(ctx context.Context) (active, inactive int, byLanguage map[string]int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byLanguage = map[string]int{}
	for _, s := range m.subscribers {
		if s.Active {
			active++
			byLanguage[s.Language]++
		} else {
			inactive++
		}
	}
	return active, inactive, byLanguage, nil
}

func (m *MemStore) RecordDeliveryFailure(ctx context.Context, chatID int64, message string, createdAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, news.DeliveryFailure{
		ID:           int64(len(m.failures) + 1),
		ChatID:       chatID,
		ErrorMessage: message,
		CreatedAt:    createdAt,
	})
	return nil
}

// Failures exposes recorded failures for test assertions.
func (m *MemStore) Failures() []news.DeliveryFailure {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]news.DeliveryFailure, len(m.failures))
	copy(out, m.failures)
	return out
}

func (m *MemStore) AcquireLease(ctx context.Context, slotKey string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := m.leases[slotKey]; ok && existing.ExpiresAt.After(now) {
		return false, nil
	}
	m.leases[slotKey] = news.LeaseToken{
		Name:           slotKey,
		HolderInstance: "mem",
		AcquiredAt:     now,
		ExpiresAt:      now.Add(ttl),
	}
	return true, nil
}

func (m *MemStore) ReleaseLease(ctx context.Context, slotKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.leases, slotKey)
	return nil
}

var _ Store = (*MemStore)(nil)
