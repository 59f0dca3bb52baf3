// Command server is the long-running process spec.md §6 describes: it
// serves the HTTP surface (health, webhook, trigger, test, subscribers)
// and drives the wall-clock scheduler concurrently, replacing the
// teacher's cmd/dailyjob (a one-shot CI-cron invocation with no server
// loop and no webhook).
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/maine/newsdigest/internal/config"
	"github.com/maine/newsdigest/internal/delivery"
	"github.com/maine/newsdigest/internal/formatter"
	"github.com/maine/newsdigest/internal/harvester"
	"github.com/maine/newsdigest/internal/httpapi"
	"github.com/maine/newsdigest/internal/langs"
	"github.com/maine/newsdigest/internal/llmclient"
	"github.com/maine/newsdigest/internal/pipeline"
	"github.com/maine/newsdigest/internal/scheduler"
	"github.com/maine/newsdigest/internal/store"
	"github.com/maine/newsdigest/internal/summarizer"
	"github.com/maine/newsdigest/internal/telegram"
	"github.com/maine/newsdigest/internal/translator"
	"github.com/maine/newsdigest/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	slots, err := cfg.Slots()
	if err != nil {
		log.Fatalf("parse schedule slots: %v", err)
	}

	location, err := time.LoadLocation(cfg.SchedulerTimezone)
	if err != nil {
		log.Fatalf("load scheduler timezone %q: %v", cfg.SchedulerTimezone, err)
	}

	registry, err := langs.Load(cfg.LanguagesFile)
	if err != nil {
		log.Fatalf("load languages: %v", err)
	}

	roster, err := harvester.LoadRoster(cfg.UsernamesFile)
	if err != nil {
		log.Fatalf("load roster: %v", err)
	}

	instanceID, err := os.Hostname()
	if err != nil || instanceID == "" {
		instanceID = "newsdigest-instance"
	}

	db, err := store.Open(cfg.DatabaseURL, cfg.DBMigrationsPath, instanceID)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer db.Close()

	adminChatID, err := strconv.ParseInt(cfg.TelegramAdminChatID, 10, 64)
	if err != nil {
		log.Fatalf("parse TELEGRAM_CHAT_ID: %v", err)
	}

	harvest := harvester.New(cfg.MirrorBaseURL, cfg.MirrorAPIKey)
	llm := llmclient.New(cfg.OpenAIAPIKey, cfg.OpenAIModel, "")
	summarize := summarizer.New(llm, cfg.BaseLanguage)
	translate := translator.New(llm, db, registry, cfg.BaseLanguage)
	format := formatter.New()

	tgClient := telegram.NewClient(cfg.TelegramBotToken)
	sender := telegram.NewSender(tgClient)

	orchestrator := delivery.New(db, translate, format, sender, registry, adminChatID)
	runner := pipeline.New(harvest, summarize, db, orchestrator, roster, time.Duration(cfg.HoursLookback)*time.Hour, cfg.MaxPosts)
	sched := scheduler.New(db, runner, slots, location, cfg.ScheduleDeadline(), cfg.LeaseTTL())

	welcome := &welcomeDeliverer{store: db, translator: translate, formatter: format, sender: sender}
	hook := webhook.New(cfg.TelegramWebhookSecret, db, sender, welcome, registry, adminChatID)

	router := httpapi.NewRouter(httpapi.Deps{
		Store:           db,
		Webhook:         hook,
		Scheduler:       sched,
		DigestGenerator: runner,
		Formatter:       format,
		Sender:          sender,
		AdminAPIKey:     cfg.AdminAPIKey,
	})

	httpServer := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Port),
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sched.Run(ctx)

	go func() {
		log.Printf("listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
}

// welcomeDeliverer implements webhook.WelcomeDeliverer by sending the most
// recent Digest to a newly subscribed chat in the background, per spec.md
// §4.7's "long-running work is scheduled asynchronously".
type welcomeDeliverer struct {
	store      *store.PostgresStore
	translator *translator.Translator
	formatter  *formatter.Formatter
	sender     *telegram.Sender
}

func (w *welcomeDeliverer) DeliverWelcome(chatID int64, language string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		digest, err := w.store.LatestDigest(ctx)
		if err != nil || digest == nil {
			return
		}

		content, err := w.translator.Translate(ctx, digest, language)
		if err != nil {
			return
		}

		messages, err := w.formatter.Format("Welcome Digest", content, time.Now())
		if err != nil {
			return
		}

		for _, message := range messages {
			if result := w.sender.Send(ctx, chatID, message); result.Outcome != telegram.OutcomeOK {
				return
			}
		}
	}()
}

