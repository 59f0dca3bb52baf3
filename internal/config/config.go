// Package config loads the service's environment-derived settings into a
// typed, immutable snapshot at startup, generalizing the teacher's
// internal/config/env.go (plain os.Getenv reads with manual required-field
// checks) to struct-tag binding via github.com/caarlos0/env/v11.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the immutable snapshot of every environment variable spec.md §6
// and SPEC_FULL.md §6 name. It is loaded once in cmd/server/main.go and
// passed by value/read-only handle to every component, per §5's
// shared-resource policy.
type Config struct {
	TelegramBotToken      string `env:"TELEGRAM_BOT_TOKEN,required"`
	TelegramWebhookSecret string `env:"TELEGRAM_WEBHOOK_SECRET,required"`
	TelegramAdminChatID   string `env:"TELEGRAM_CHAT_ID,required"`

	OpenAIAPIKey string `env:"OPENAI_API_KEY,required"`
	OpenAIModel  string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`

	MirrorBaseURL string `env:"NITTER_INSTANCE,required"`
	MirrorAPIKey  string `env:"NITTER_API_KEY"`

	AdminAPIKey string `env:"API_KEY,required"`
	DatabaseURL string `env:"DATABASE_URL,required"`

	MaxPosts      int    `env:"MAX_TWEETS" envDefault:"50"`
	HoursLookback int    `env:"HOURS_LOOKBACK" envDefault:"12"`
	ScheduleTimes string `env:"SCHEDULE_TIMES" envDefault:"08:00,20:00"`
	Port          int    `env:"PORT" envDefault:"8080"`
	UsernamesFile string `env:"USERNAMES_FILE" envDefault:"data/usernames.txt"`
	BaseLanguage  string `env:"BASE_LANGUAGE" envDefault:"en"`

	DBMigrationsPath  string `env:"DB_MIGRATIONS_PATH" envDefault:"migrations"`
	LanguagesFile     string `env:"LANGUAGES_FILE"`
	SchedulerTimezone string `env:"SCHEDULER_TIMEZONE" envDefault:"Local"`

	ScheduleDeadlineMinutes int `env:"SCHEDULE_DEADLINE_MINUTES" envDefault:"10"`
	LeaseTTLMinutes         int `env:"LEASE_TTL_MINUTES" envDefault:"0"`
}

// Load parses environment variables into a Config, applying the defaults
// and required-field checks above. A missing required variable or an
// unparsable schedule list is a configuration-invalid error (fatal at
// startup per §7).
func Load() (Config, error) {
	// Optional: a .env file is a development convenience. In production the
	// container's real environment variables are used directly, so a
	// missing file is not an error.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.LeaseTTLMinutes <= 0 {
		cfg.LeaseTTLMinutes = cfg.ScheduleDeadlineMinutes * 2
	}

	if _, err := cfg.Slots(); err != nil {
		return Config{}, fmt.Errorf("parse SCHEDULE_TIMES: %w", err)
	}

	return cfg, nil
}

// Slots parses SCHEDULE_TIMES ("HH:MM,HH:MM,...") into the wall-clock
// times the Scheduler (§4.8) checks against every minute.
func (c Config) Slots() ([]string, error) {
	raw := strings.Split(c.ScheduleTimes, ",")
	slots := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, err := time.Parse("15:04", s); err != nil {
			return nil, fmt.Errorf("invalid slot %q: %w", s, err)
		}
		slots = append(slots, s)
	}
	if len(slots) == 0 {
		return nil, fmt.Errorf("no schedule slots configured")
	}
	return slots, nil
}

// ScheduleDeadline returns the configured per-slot pipeline deadline.
func (c Config) ScheduleDeadline() time.Duration {
	return time.Duration(c.ScheduleDeadlineMinutes) * time.Minute
}

// LeaseTTL returns the configured lease time-to-live.
func (c Config) LeaseTTL() time.Duration {
	return time.Duration(c.LeaseTTLMinutes) * time.Minute
}
