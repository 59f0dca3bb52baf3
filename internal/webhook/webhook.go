// Package webhook implements the inbound subscription state machine of
// spec.md §4.7. The teacher only ever polled getUpdates
// (internal/telegram/recipients.go's RecipientManager.Resolve); this is a
// full addition, since the spec replaces polling with a pushed webhook and
// a command grammar the teacher never had. The welcome reply is a fixed
// text; that file's deriveRecipientName naming heuristic is not used.
package webhook

import (
	"context"
	"crypto/subtle"
	"strconv"
	"strings"
	"time"

	"github.com/maine/newsdigest/internal/applog"
	"github.com/maine/newsdigest/internal/langs"
	"github.com/maine/newsdigest/internal/news"
	"github.com/maine/newsdigest/internal/telegram"
)

const component = "webhook"

const maxTextBytes = 4096

// Store is the subset of store.Store the Handler depends on.
type Store interface {
	GetSubscriber(ctx context.Context, chatID int64) (*news.Subscriber, error)
	UpsertSubscriberActive(ctx context.Context, chatID int64, language string, now time.Time) (*news.Subscriber, error)
	SetSubscriberActive(ctx context.Context, chatID int64, active bool, now time.Time) error
	SetSubscriberLanguage(ctx context.Context, chatID int64, language string) error
	MarkWelcomeSent(ctx context.Context, chatID int64) error
	LatestDigest(ctx context.Context) (*news.Digest, error)
	SubscriberStats(ctx context.Context) (active int, inactive int, byLanguage map[string]int, err error)
}

// Sender is the subset of telegram.Sender the Handler depends on, used for
// synchronous confirmation replies.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) telegram.Result
}

// WelcomeDeliverer is invoked asynchronously (spec.md §4.7's "long-running
// work is scheduled asynchronously") to deliver the most recent Digest to
// a newly welcomed subscriber.
type WelcomeDeliverer interface {
	DeliverWelcome(chatID int64, language string)
}

// Handler implements spec.md §4.7.
type Handler struct {
	secret      string
	store       Store
	sender      Sender
	welcome     WelcomeDeliverer
	registry    *langs.Registry
	adminChatID int64
	clock       func() time.Time
}

// New builds a Handler. secret is the configured shared webhook secret.
func New(secret string, store Store, sender Sender, welcome WelcomeDeliverer, registry *langs.Registry, adminChatID int64) *Handler {
	return &Handler{
		secret:      secret,
		store:       store,
		sender:      sender,
		welcome:     welcome,
		registry:    registry,
		adminChatID: adminChatID,
		clock:       time.Now,
	}
}

// AuthOK performs the constant-time shared-secret comparison spec.md §4.7
// requires. Callers must not log the provided value on mismatch.
func (h *Handler) AuthOK(provided string) bool {
	return subtle.ConstantTimeCompare([]byte(provided), []byte(h.secret)) == 1
}

// Update mirrors telegram.Update for the fields the handler validates and
// acts on, kept distinct from the wire type so webhook-specific validation
// stays local to this package.
type Update struct {
	UpdateID int64
	Message  *telegram.Message
}

// ErrInvalid marks a payload spec.md §4.7's input validation rejects.
type ErrInvalid struct{ Reason string }

func (e *ErrInvalid) Error() string { return "invalid webhook payload: " + e.Reason }

// Validate applies spec.md §4.7's input validation rule.
func Validate(u Update) error {
	if u.UpdateID <= 0 {
		return &ErrInvalid{Reason: "update_id must be positive"}
	}
	if u.Message == nil {
		return &ErrInvalid{Reason: "missing message"}
	}
	if len(u.Message.Text) > maxTextBytes {
		return &ErrInvalid{Reason: "text exceeds 4096 bytes"}
	}
	if u.Message.Chat.ID == 0 {
		return &ErrInvalid{Reason: "missing chat.id"}
	}
	return nil
}

// Handle processes one validated update, applying the state machine of
// spec.md §4.7's table. It replies via Sender and returns only on
// unrecoverable Store errors (the caller still responds 200 per spec.md
// §6 — every recognized or ignored command is accepted).
func (h *Handler) Handle(ctx context.Context, u Update) error {
	msg := u.Message
	text := strings.TrimSpace(msg.Text)
	chatID := msg.Chat.ID

	command, arg := parseCommand(text)
	switch command {
	case "/start":
		return h.handleStart(ctx, chatID)
	case "/subscribe":
		return h.handleSubscribe(ctx, chatID)
	case "/unsubscribe":
		return h.handleUnsubscribe(ctx, chatID)
	case "/status":
		return h.handleStatus(ctx, chatID)
	case "/language":
		return h.handleLanguage(ctx, chatID, arg)
	default:
		return nil // unrecognized text: accepted, no action, per spec.md §4.7
	}
}

func parseCommand(text string) (command, arg string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", ""
	}
	command = strings.ToLower(fields[0])
	if len(fields) > 1 {
		arg = fields[1]
	}
	return command, arg
}

func (h *Handler) handleStart(ctx context.Context, chatID int64) error {
	h.reply(ctx, chatID, "👋 Welcome! Send /subscribe to start receiving digests, /status to check your subscription, or /language <code> to change language.")
	return nil
}

func (h *Handler) handleSubscribe(ctx context.Context, chatID int64) error {
	existing, err := h.store.GetSubscriber(ctx, chatID)
	if err != nil {
		return err
	}
	if existing != nil && existing.Active {
		h.reply(ctx, chatID, "You're already subscribed.")
		return nil
	}

	sub, err := h.store.UpsertSubscriberActive(ctx, chatID, defaultLanguage(existing), h.clock())
	if err != nil {
		return err
	}
	h.reply(ctx, chatID, "✅ Subscribed! You'll receive the next scheduled digest.")

	if !sub.ReceivedWelcome {
		if err := h.store.MarkWelcomeSent(ctx, chatID); err != nil {
			return err
		}
		if h.welcome != nil {
			h.welcome.DeliverWelcome(chatID, sub.Language)
		}
	}
	return nil
}

func defaultLanguage(existing *news.Subscriber) string {
	if existing != nil && existing.Language != "" {
		return existing.Language
	}
	return "en"
}

func (h *Handler) handleUnsubscribe(ctx context.Context, chatID int64) error {
	existing, err := h.store.GetSubscriber(ctx, chatID)
	if err != nil {
		return err
	}
	if existing == nil || !existing.Active {
		h.reply(ctx, chatID, "You're not subscribed.")
		return nil
	}
	if err := h.store.SetSubscriberActive(ctx, chatID, false, h.clock()); err != nil {
		return err
	}
	h.reply(ctx, chatID, "Unsubscribed. Send /subscribe any time to resume.")
	return nil
}

func (h *Handler) handleStatus(ctx context.Context, chatID int64) error {
	sub, err := h.store.GetSubscriber(ctx, chatID)
	if err != nil {
		return err
	}

	state := news.StateOf(sub)
	var sb strings.Builder
	switch state {
	case news.StateActive:
		sb.WriteString("Status: active\n")
	case news.StateInactive:
		sb.WriteString("Status: inactive\n")
	default:
		sb.WriteString("Status: not subscribed\n")
	}
	if sub != nil {
		sb.WriteString("Language: " + sub.Language + "\n")
		sb.WriteString("First subscribed: " + sub.FirstSubscribedAt.Format("2006-01-02") + "\n")
	}
	h.reply(ctx, chatID, sb.String())

	if chatID == h.adminChatID {
		active, _, _, err := h.store.SubscriberStats(ctx)
		if err == nil {
			h.reply(ctx, chatID, "Total active subscribers: "+strconv.Itoa(active))
		}
	}
	return nil
}

func (h *Handler) handleLanguage(ctx context.Context, chatID int64, code string) error {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" || !h.registry.Supports(code) {
		h.reply(ctx, chatID, "Unsupported language. Supported codes: "+strings.Join(h.registry.Codes(), ", "))
		return nil
	}
	if err := h.store.SetSubscriberLanguage(ctx, chatID, code); err != nil {
		return err
	}
	h.reply(ctx, chatID, "Language set to "+code+".")
	return nil
}

func (h *Handler) reply(ctx context.Context, chatID int64, text string) {
	result := h.sender.Send(ctx, chatID, text)
	if result.Outcome != telegram.OutcomeOK {
		applog.Line(component, "reply send non-ok", applog.Fields{
			"chat_id": chatID, "outcome": string(result.Outcome),
		})
	}
}
