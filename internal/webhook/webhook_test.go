package webhook

import (
	"context"
	"testing"
	"time"

	"github.com/maine/newsdigest/internal/langs"
	"github.com/maine/newsdigest/internal/news"
	"github.com/maine/newsdigest/internal/telegram"
)

type fakeStore struct {
	subs map[int64]*news.Subscriber
}

func newFakeStore() *fakeStore {
	return &fakeStore{subs: map[int64]*news.Subscriber{}}
}

func (f *fakeStore) GetSubscriber(ctx context.Context, chatID int64) (*news.Subscriber, error) {
	return f.subs[chatID], nil
}

func (f *fakeStore) UpsertSubscriberActive(ctx context.Context, chatID int64, language string, now time.Time) (*news.Subscriber, error) {
	existing := f.subs[chatID]
	sub := &news.Subscriber{
		ChatID:            chatID,
		Language:          language,
		Active:            true,
		SubscribedAt:      now,
		FirstSubscribedAt: now,
	}
	if existing != nil {
		sub.FirstSubscribedAt = existing.FirstSubscribedAt
		sub.ReceivedWelcome = existing.ReceivedWelcome
	}
	f.subs[chatID] = sub
	return sub, nil
}

func (f *fakeStore) SetSubscriberActive(ctx context.Context, chatID int64, active bool, now time.Time) error {
	if sub, ok := f.subs[chatID]; ok {
		sub.Active = active
	}
	return nil
}

func (f *fakeStore) SetSubscriberLanguage(ctx context.Context, chatID int64, language string) error {
	if sub, ok := f.subs[chatID]; ok {
		sub.Language = language
	}
	return nil
}

func (f *fakeStore) MarkWelcomeSent(ctx context.Context, chatID int64) error {
	if sub, ok := f.subs[chatID]; ok {
		sub.ReceivedWelcome = true
	}
	return nil
}

func (f *fakeStore) LatestDigest(ctx context.Context) (*news.Digest, error) {
	return nil, nil
}

func (f *fakeStore) SubscriberStats(ctx context.Context) (int, int, map[string]int, error) {
	active := 0
	for _, s := range f.subs {
		if s.Active {
			active++
		}
	}
	return active, 0, nil, nil
}

type fakeSender struct {
	sent []string
}

func (f *fakeSender) Send(ctx context.Context, chatID int64, text string) telegram.Result {
	f.sent = append(f.sent, text)
	return telegram.Result{Outcome: telegram.OutcomeOK}
}

type fakeWelcome struct {
	delivered []int64
}

func (f *fakeWelcome) DeliverWelcome(chatID int64, language string) {
	f.delivered = append(f.delivered, chatID)
}

func registry(t *testing.T) *langs.Registry {
	t.Helper()
	r, err := langs.Load("")
	if err != nil {
		t.Fatalf("langs.Load() error = %v", err)
	}
	return r
}

func msg(chatID int64, text string) *telegram.Message {
	return &telegram.Message{Chat: telegram.Chat{ID: chatID}, Text: text}
}

func TestValidateRejectsNonPositiveUpdateID(t *testing.T) {
	if err := Validate(Update{UpdateID: 0, Message: msg(1, "/start")}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestValidateRejectsMissingChatID(t *testing.T) {
	if err := Validate(Update{UpdateID: 1, Message: msg(0, "/start")}); err == nil {
		t.Fatal("expected validation error for missing chat id")
	}
}

func TestSubscribeFromAbsentSetsFirstSubscribedAndWelcomes(t *testing.T) {
	store := newFakeStore()
	sender := &fakeSender{}
	welcome := &fakeWelcome{}
	h := New("secret", store, sender, welcome, registry(t), 999)

	if err := h.Handle(context.Background(), Update{UpdateID: 1, Message: msg(42, "/subscribe")}); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	sub := store.subs[42]
	if sub == nil || !sub.Active {
		t.Fatal("expected subscriber active after /subscribe")
	}
	if sub.FirstSubscribedAt.IsZero() {
		t.Error("expected first_subscribed_at to be set on first /subscribe")
	}
	if len(welcome.delivered) != 1 {
		t.Errorf("expected welcome delivery enqueued once, got %d", len(welcome.delivered))
	}
}

func TestSubscribeTwiceIsIdempotent(t *testing.T) {
	store := newFakeStore()
	sender := &fakeSender{}
	welcome := &fakeWelcome{}
	h := New("secret", store, sender, welcome, registry(t), 999)
	ctx := context.Background()

	_ = h.Handle(ctx, Update{UpdateID: 1, Message: msg(42, "/subscribe")})
	_ = h.Handle(ctx, Update{UpdateID: 2, Message: msg(42, "/subscribe")})

	if len(welcome.delivered) != 1 {
		t.Errorf("expected exactly one welcome delivery across repeated /subscribe, got %d", len(welcome.delivered))
	}
}

func TestUnsubscribeThenSubscribeReactivates(t *testing.T) {
	store := newFakeStore()
	sender := &fakeSender{}
	welcome := &fakeWelcome{}
	h := New("secret", store, sender, welcome, registry(t), 999)
	ctx := context.Background()

	_ = h.Handle(ctx, Update{UpdateID: 1, Message: msg(42, "/subscribe")})
	_ = h.Handle(ctx, Update{UpdateID: 2, Message: msg(42, "/unsubscribe")})
	if store.subs[42].Active {
		t.Fatal("expected inactive after /unsubscribe")
	}
	_ = h.Handle(ctx, Update{UpdateID: 3, Message: msg(42, "/subscribe")})
	if !store.subs[42].Active {
		t.Fatal("expected active after re-/subscribe")
	}
	if len(welcome.delivered) != 1 {
		t.Errorf("expected no second welcome delivery on reactivation, got %d", len(welcome.delivered))
	}
}

func TestLanguageCommandRejectsUnsupportedCode(t *testing.T) {
	store := newFakeStore()
	sender := &fakeSender{}
	h := New("secret", store, sender, nil, registry(t), 999)
	ctx := context.Background()

	_ = h.Handle(ctx, Update{UpdateID: 1, Message: msg(42, "/subscribe")})
	_ = h.Handle(ctx, Update{UpdateID: 2, Message: msg(42, "/language zz")})

	if store.subs[42].Language == "zz" {
		t.Fatal("unsupported language code should not be applied")
	}
}

func TestLanguageCommandAcceptsSupportedCode(t *testing.T) {
	store := newFakeStore()
	sender := &fakeSender{}
	h := New("secret", store, sender, nil, registry(t), 999)
	ctx := context.Background()

	_ = h.Handle(ctx, Update{UpdateID: 1, Message: msg(42, "/subscribe")})
	_ = h.Handle(ctx, Update{UpdateID: 2, Message: msg(42, "/language es")})

	if store.subs[42].Language != "es" {
		t.Errorf("Language = %q, want es", store.subs[42].Language)
	}
}

func TestLanguageCommandCanonicalizesCase(t *testing.T) {
	store := newFakeStore()
	sender := &fakeSender{}
	h := New("secret", store, sender, nil, registry(t), 999)
	ctx := context.Background()

	_ = h.Handle(ctx, Update{UpdateID: 1, Message: msg(42, "/subscribe")})
	_ = h.Handle(ctx, Update{UpdateID: 2, Message: msg(42, "/language ES")})

	if store.subs[42].Language != "es" {
		t.Errorf("Language = %q, want canonical lowercase es", store.subs[42].Language)
	}
}

func TestAuthOKConstantTimeComparison(t *testing.T) {
	h := New("correct-secret", newFakeStore(), &fakeSender{}, nil, registry(t), 999)
	if h.AuthOK("wrong") {
		t.Error("AuthOK() = true for wrong secret")
	}
	if !h.AuthOK("correct-secret") {
		t.Error("AuthOK() = false for correct secret")
	}
}

func TestUnrecognizedTextIsIgnored(t *testing.T) {
	store := newFakeStore()
	sender := &fakeSender{}
	h := New("secret", store, sender, nil, registry(t), 999)

	if err := h.Handle(context.Background(), Update{UpdateID: 1, Message: msg(42, "hello there")}); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if len(sender.sent) != 0 {
		t.Errorf("expected no reply for unrecognized text, got %v", sender.sent)
	}
}
