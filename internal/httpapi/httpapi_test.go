package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/maine/newsdigest/internal/formatter"
	"github.com/maine/newsdigest/internal/news"
	"github.com/maine/newsdigest/internal/scheduler"
	"github.com/maine/newsdigest/internal/telegram"
	"github.com/maine/newsdigest/internal/webhook"
)

type fakeStore struct {
	pingErr    error
	digest     *news.Digest
	digestErr  error
	active     int
	inactive   int
	byLanguage map[string]int
	statsErr   error
}

func (f *fakeStore) Ping(ctx context.Context) error { return f.pingErr }
func (f *fakeStore) LatestDigest(ctx context.Context) (*news.Digest, error) {
	return f.digest, f.digestErr
}
func (f *fakeStore) SubscriberStats(ctx context.Context) (int, int, map[string]int, error) {
	return f.active, f.inactive, f.byLanguage, f.statsErr
}

type fakeWebhook struct {
	authOK  bool
	handled []webhook.Update
	err     error
}

func (f *fakeWebhook) AuthOK(provided string) bool { return f.authOK }
func (f *fakeWebhook) Handle(ctx context.Context, u webhook.Update) error {
	f.handled = append(f.handled, u)
	return f.err
}

type fakeScheduler struct {
	triggerErr error
	status     scheduler.Status
}

func (f *fakeScheduler) Trigger(ctx context.Context) error { return f.triggerErr }
func (f *fakeScheduler) Status() scheduler.Status          { return f.status }

type fakeDigestGenerator struct {
	digest *news.Digest
	err    error
}

func (f *fakeDigestGenerator) GenerateDigest(ctx context.Context) (*news.Digest, error) {
	return f.digest, f.err
}

type fakeFormatter struct{}

func (fakeFormatter) Format(title, body string, at time.Time) ([]string, error) {
	return []string{title + ": " + body}, nil
}

type fakeSender struct {
	result   telegram.Result
	sent     []int64
	messages []string
}

func (f *fakeSender) Send(ctx context.Context, chatID int64, text string) telegram.Result {
	f.sent = append(f.sent, chatID)
	f.messages = append(f.messages, text)
	return f.result
}

func baseDeps() (Deps, *fakeStore, *fakeWebhook, *fakeScheduler, *fakeDigestGenerator, *fakeSender) {
	store := &fakeStore{byLanguage: map[string]int{}}
	wh := &fakeWebhook{authOK: true}
	sched := &fakeScheduler{}
	gen := &fakeDigestGenerator{digest: &news.Digest{ID: 1, Content: "body"}}
	sender := &fakeSender{result: telegram.Result{Outcome: telegram.OutcomeOK}}
	return Deps{
		Store:           store,
		Webhook:         wh,
		Scheduler:       sched,
		DigestGenerator: gen,
		Formatter:       fakeFormatter{},
		Sender:          sender,
		AdminAPIKey:     "secret-key",
	}, store, wh, sched, gen, sender
}

func TestHealthReturnsOKWhenStoreReachable(t *testing.T) {
	deps, _, _, _, _, _ := baseDeps()
	e := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHealthReturnsUnavailableWhenStoreDown(t *testing.T) {
	deps, store, _, _, _, _ := baseDeps()
	store.pingErr = context.DeadlineExceeded
	e := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestWebhookRejectsBadSecret(t *testing.T) {
	deps, _, wh, _, _, _ := baseDeps()
	wh.authOK = false
	e := NewRouter(deps)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestWebhookDispatchesValidUpdate(t *testing.T) {
	deps, _, wh, _, _, _ := baseDeps()
	e := NewRouter(deps)

	body, _ := json.Marshal(telegram.Update{
		UpdateID: 42,
		Message: &telegram.Message{
			Text: "/start",
			Chat: telegram.Chat{ID: 100},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Telegram-Bot-Api-Secret-Token", "anything")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(wh.handled) != 1 || wh.handled[0].UpdateID != 42 {
		t.Fatalf("Handle called with %+v, want one update with ID 42", wh.handled)
	}
}

func TestWebhookIgnoresInvalidUpdateWithoutError(t *testing.T) {
	deps, _, wh, _, _, _ := baseDeps()
	e := NewRouter(deps)

	body, _ := json.Marshal(telegram.Update{UpdateID: 0, Message: nil})
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Telegram-Bot-Api-Secret-Token", "anything")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(wh.handled) != 0 {
		t.Fatalf("Handle was called for an invalid update, want skipped")
	}
}

func TestTriggerRequiresAPIKey(t *testing.T) {
	deps, _, _, _, _, _ := baseDeps()
	e := NewRouter(deps)

	req := httptest.NewRequest(http.MethodPost, "/trigger", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestTriggerRunsSchedulerWithValidKey(t *testing.T) {
	deps, _, _, sched, _, _ := baseDeps()
	sched.status = scheduler.Status{LastSlotKey: "trigger:2026-07-31T08:00:00Z", RunCount: 1}
	e := NewRouter(deps)

	req := httptest.NewRequest(http.MethodPost, "/trigger", nil)
	req.Header.Set("X-API-Key", "secret-key")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
}

func TestTestEndpointRequiresChatID(t *testing.T) {
	deps, _, _, _, _, _ := baseDeps()
	e := NewRouter(deps)

	req := httptest.NewRequest(http.MethodPost, "/test", nil)
	req.Header.Set("X-API-Key", "secret-key")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestTestEndpointSendsPrefixedDigestToOneChat(t *testing.T) {
	deps, store, _, _, _, sender := baseDeps()
	store.digest = &news.Digest{ID: 7, Content: "world news"}
	e := NewRouter(deps)

	req := httptest.NewRequest(http.MethodPost, "/test?chat_id=555", nil)
	req.Header.Set("X-API-Key", "secret-key")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
	if len(sender.sent) != 1 || sender.sent[0] != 555 {
		t.Fatalf("sent = %v, want exactly [555]", sender.sent)
	}
}

func TestTestEndpointFreshRegeneratesDigest(t *testing.T) {
	deps, _, _, _, gen, _ := baseDeps()
	gen.digest = &news.Digest{ID: 9, Content: "fresh"}
	e := NewRouter(deps)

	req := httptest.NewRequest(http.MethodPost, "/test?chat_id=555&fresh=true", nil)
	req.Header.Set("X-API-Key", "secret-key")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
}

func TestTestEndpointPrefixGoesThroughEscaping(t *testing.T) {
	deps, store, _, _, _, sender := baseDeps()
	store.digest = &news.Digest{ID: 7, Content: "world news"}
	deps.Formatter = formatter.New()
	e := NewRouter(deps)

	req := httptest.NewRequest(http.MethodPost, "/test?chat_id=555", nil)
	req.Header.Set("X-API-Key", "secret-key")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
	if len(sender.messages) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sender.messages))
	}
	if !strings.Contains(sender.messages[0], `TEST \- `) {
		t.Errorf("message %q does not contain the escaped test prefix", sender.messages[0])
	}
	if strings.Contains(sender.messages[0], "TEST - ") {
		t.Errorf("message %q contains the unescaped prefix", sender.messages[0])
	}
}

func TestSubscribersRequiresAPIKey(t *testing.T) {
	deps, _, _, _, _, _ := baseDeps()
	e := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/subscribers", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestSubscribersReturnsStats(t *testing.T) {
	deps, store, _, _, _, _ := baseDeps()
	store.active = 10
	store.inactive = 2
	store.byLanguage = map[string]int{"en": 8, "vi": 2}
	e := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/subscribers", nil)
	req.Header.Set("X-API-Key", "secret-key")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if got["active_count"].(float64) != 10 {
		t.Errorf("active_count = %v, want 10", got["active_count"])
	}
}
