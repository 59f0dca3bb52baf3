// Package httpapi implements the HTTP surface of spec.md §6/§4.10, using
// github.com/labstack/echo/v4 for routing and middleware — the most
// repeated HTTP framework across the retrieved example pack — rather than
// a bare net/http.ServeMux the teacher never needed (it has no HTTP
// server at all; this package has no teacher analogue).
package httpapi

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/maine/newsdigest/internal/applog"
	"github.com/maine/newsdigest/internal/news"
	"github.com/maine/newsdigest/internal/scheduler"
	"github.com/maine/newsdigest/internal/telegram"
	"github.com/maine/newsdigest/internal/webhook"
)

const component = "httpapi"
const testPrefix = "🧪 TEST - "

// Store is the subset of store.Store the HTTP surface depends on.
type Store interface {
	Ping(ctx context.Context) error
	LatestDigest(ctx context.Context) (*news.Digest, error)
	SubscriberStats(ctx context.Context) (active, inactive int, byLanguage map[string]int, err error)
}

// DigestGenerator regenerates a fresh Digest on demand (spec.md §4.8's
// /test?fresh=true).
type DigestGenerator interface {
	GenerateDigest(ctx context.Context) (*news.Digest, error)
}

// Formatter is the subset of formatter.Formatter the /test path depends
// on.
type Formatter interface {
	Format(title, digestBody string, generatedAt time.Time) ([]string, error)
}

// Sender is the subset of telegram.Sender the /test path depends on.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) telegram.Result
}

// SchedulerRunner is the subset of scheduler.Scheduler the /trigger path
// depends on.
type SchedulerRunner interface {
	Trigger(ctx context.Context) error
	Status() scheduler.Status
}

// WebhookHandler is the subset of webhook.Handler the /webhook path
// depends on.
type WebhookHandler interface {
	AuthOK(provided string) bool
	Handle(ctx context.Context, u webhook.Update) error
}

// Deps bundles the HTTP surface's dependencies.
type Deps struct {
	Store           Store
	Webhook         WebhookHandler
	Scheduler       SchedulerRunner
	DigestGenerator DigestGenerator
	Formatter       Formatter
	Sender          Sender
	AdminAPIKey     string
}

// NewRouter builds the echo.Echo instance with every route in spec.md §6,
// API-key/webhook-secret middleware applied per-route.
func NewRouter(deps Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())

	e.GET("/health", healthHandler(deps.Store))
	e.POST("/webhook", webhookHandler(deps.Webhook))
	e.POST("/trigger", adminOnly(deps.AdminAPIKey, triggerHandler(deps.Scheduler)))
	e.POST("/test", adminOnly(deps.AdminAPIKey, testHandler(deps)))
	e.GET("/subscribers", adminOnly(deps.AdminAPIKey, subscribersHandler(deps.Store)))

	return e
}

func adminOnly(expectedKey string, next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		provided := c.Request().Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(expectedKey)) != 1 {
			return c.NoContent(http.StatusUnauthorized)
		}
		return next(c)
	}
}

func healthHandler(store Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := store.Ping(c.Request().Context()); err != nil {
			return c.String(http.StatusServiceUnavailable, "unavailable")
		}
		return c.String(http.StatusOK, "ok")
	}
}

func webhookHandler(h WebhookHandler) echo.HandlerFunc {
	return func(c echo.Context) error {
		secret := c.Request().Header.Get("X-Telegram-Bot-Api-Secret-Token")
		if !h.AuthOK(secret) {
			return c.NoContent(http.StatusUnauthorized)
		}

		var raw telegram.Update
		if err := c.Bind(&raw); err != nil {
			return c.JSON(http.StatusOK, map[string]bool{"ok": true})
		}

		u := webhook.Update{UpdateID: raw.UpdateID, Message: raw.Message}
		if err := webhook.Validate(u); err != nil {
			applog.Line(component, "webhook validation rejected", applog.Fields{"reason": err.Error()})
			return c.JSON(http.StatusOK, map[string]bool{"ok": true})
		}

		if err := h.Handle(c.Request().Context(), u); err != nil {
			applog.Error(component, "webhook-handle-failed", "webhook handling failed", err)
		}
		return c.JSON(http.StatusOK, map[string]bool{"ok": true})
	}
}

func triggerHandler(s SchedulerRunner) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := s.Trigger(c.Request().Context()); err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		status := s.Status()
		return c.JSON(http.StatusOK, map[string]any{
			"last_slot_key": status.LastSlotKey,
			"run_count":     status.RunCount,
			"error_count":   status.ErrorCount,
		})
	}
}

func testHandler(deps Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		chatIDParam := c.QueryParam("chat_id")
		if chatIDParam == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "chat_id is required"})
		}
		chatID, err := strconv.ParseInt(chatIDParam, 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "chat_id must be an integer"})
		}

		var digest *news.Digest
		if c.QueryParam("fresh") == "true" {
			digest, err = deps.DigestGenerator.GenerateDigest(ctx)
		} else {
			digest, err = deps.Store.LatestDigest(ctx)
		}
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		if digest == nil {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "no digest available"})
		}

		messages, err := deps.Formatter.Format(testPrefix+"Test Digest", digest.Content, time.Now())
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}

		for _, message := range messages {
			result := deps.Sender.Send(ctx, chatID, message)
			if result.Outcome != telegram.OutcomeOK {
				return c.JSON(http.StatusBadGateway, map[string]string{"outcome": string(result.Outcome), "description": result.Description})
			}
		}
		return c.JSON(http.StatusOK, map[string]bool{"ok": true})
	}
}

func subscribersHandler(store Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		active, inactive, byLanguage, err := store.SubscriberStats(c.Request().Context())
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, map[string]any{
			"active_count":   active,
			"inactive_count": inactive,
			"languages":      byLanguage,
		})
	}
}
