package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/lib/pq"
	"github.com/pressly/goose/v3"

	_ "github.com/lib/pq" // database/sql driver registration

	"github.com/maine/newsdigest/internal/news"
)

// postgresUniqueViolation is the SQLSTATE code lib/pq surfaces for a
// constraint violation; the Translator's cache write-through (spec.md §4.3)
// treats this as "someone else already cached this row, re-read it" rather
// than a hard failure. Grounded on eser-aya.is's repository_telegram.go
// pattern of inspecting *pq.Error for specific codes.
const postgresUniqueViolation = "23505"

// PostgresStore implements Store over database/sql + github.com/lib/pq,
// grounded on eser-aya.is's apps/services/pkg/api/adapters/storage
// repository-over-database/sql pattern; migrated with
// github.com/pressly/goose/v3, the same tool that example uses.
type PostgresStore struct {
	db         *sql.DB
	instanceID string
}

// Open connects to databaseURL, applies pending migrations from
// migrationsPath, and returns a ready Store.
func Open(databaseURL, migrationsPath, instanceID string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if migrationsPath != "" {
		if _, statErr := os.Stat(migrationsPath); statErr == nil {
			if err := goose.SetDialect("postgres"); err != nil {
				return nil, fmt.Errorf("set goose dialect: %w", err)
			}
			if err := goose.Up(db, migrationsPath); err != nil {
				return nil, fmt.Errorf("run migrations: %w", err)
			}
		}
	}

	return &PostgresStore{db: db, instanceID: instanceID}, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- Digests ---

func (s *PostgresStore) InsertDigest(ctx context.Context, content string, createdAt time.Time) (*news.Digest, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO digests (content, created_at) VALUES ($1, $2) RETURNING id`,
		content, createdAt,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("insert digest: %w", err)
	}
	return &news.Digest{ID: id, Content: content, CreatedAt: createdAt}, nil
}

func (s *PostgresStore) LatestDigest(ctx context.Context) (*news.Digest, error) {
	var d news.Digest
	err := s.db.QueryRowContext(ctx,
		`SELECT id, content, created_at FROM digests ORDER BY created_at DESC, id DESC LIMIT 1`,
	).Scan(&d.ID, &d.Content, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest digest: %w", err)
	}
	return &d, nil
}

// --- Translations ---

func (s *PostgresStore) GetTranslation(ctx context.Context, digestID int64, language string) (*news.Translation, error) {
	var t news.Translation
	err := s.db.QueryRowContext(ctx,
		`SELECT digest_id, language, content, created_at FROM translations WHERE digest_id = $1 AND language = $2`,
		digestID, language,
	).Scan(&t.DigestID, &t.Language, &t.Content, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get translation: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) InsertTranslation(ctx context.Context, digestID int64, language, content string, createdAt time.Time) (*news.Translation, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO translations (digest_id, language, content, created_at) VALUES ($1, $2, $3, $4)`,
		digestID, language, content, createdAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == postgresUniqueViolation {
			// Lost the race: another writer already cached this (digest,
			// language) pair. Re-read per spec.md §4.3's write-through contract.
			return s.GetTranslation(ctx, digestID, language)
		}
		return nil, fmt.Errorf("insert translation: %w", err)
	}
	return &news.Translation{DigestID: digestID, Language: language, Content: content, CreatedAt: createdAt}, nil
}

// --- Subscribers ---

func (s *PostgresStore) GetSubscriber(ctx context.Context, chatID int64) (*news.Subscriber, error) {
	var sub news.Subscriber
	err := s.db.QueryRowContext(ctx,
		`SELECT chat_id, language, active, subscribed_at, first_subscribed_at, received_welcome
		 FROM subscribers WHERE chat_id = $1`,
		chatID,
	).Scan(&sub.ChatID, &sub.Language, &sub.Active, &sub.SubscribedAt, &sub.FirstSubscribedAt, &sub.ReceivedWelcome)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscriber: %w", err)
	}
	return &sub, nil
}

// UpsertSubscriberActive implements the absent->active and inactive->active
// transitions of spec.md §4.7's table in one idempotent upsert:
// first_subscribed_at is only set on insert, never touched again.
func (s *PostgresStore) UpsertSubscriberActive(ctx context.Context, chatID int64, language string, now time.Time) (*news.Subscriber, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscribers (chat_id, language, active, subscribed_at, first_subscribed_at, received_welcome)
		VALUES ($1, $2, TRUE, $3, $3, FALSE)
		ON CONFLICT (chat_id) DO UPDATE SET
			active = TRUE,
			subscribed_at = $3
	`, chatID, language, now)
	if err != nil {
		return nil, fmt.Errorf("upsert subscriber: %w", err)
	}
	return s.GetSubscriber(ctx, chatID)
}

func (s *PostgresStore) SetSubscriberActive(ctx context.Context, chatID int64, active bool, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscribers SET active = $2, subscribed_at = CASE WHEN $2 THEN $3 ELSE subscribed_at END WHERE chat_id = $1`,
		chatID, active, now,
	)
	if err != nil {
		return fmt.Errorf("set subscriber active: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("subscriber %d not found", chatID)
	}
	return nil
}

func (s *PostgresStore) SetSubscriberLanguage(ctx context.Context, chatID int64, language string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscribers SET language = $2 WHERE chat_id = $1`,
		chatID, language,
	)
	if err != nil {
		return fmt.Errorf("set subscriber language: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkWelcomeSent(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscribers SET received_welcome = TRUE WHERE chat_id = $1`,
		chatID,
	)
	if err != nil {
		return fmt.Errorf("mark welcome sent: %w", err)
	}
	return nil
}

func (s *PostgresStore) ActiveSubscribers(ctx context.Context) ([]news.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, language, active, subscribed_at, first_subscribed_at, received_welcome
		 FROM subscribers WHERE active = TRUE`,
	)
	if err != nil {
		return nil, fmt.Errorf("query active subscribers: %w", err)
	}
	defer rows.Close()

	var subs []news.Subscriber
	for rows.Next() {
		var sub news.Subscriber
		if err := rows.Scan(&sub.ChatID, &sub.Language, &sub.Active, &sub.SubscribedAt, &sub.FirstSubscribedAt, &sub.ReceivedWelcome); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *PostgresStore) SubscriberStats(ctx context.Context) (active, inactive int, byLanguage map[string]int, err error) {
	byLanguage = map[string]int{}

	rows, err := s.db.QueryContext(ctx,
		`SELECT language, active, COUNT(*) FROM subscribers GROUP BY language, active`,
	)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("subscriber stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var lang string
		var isActive bool
		var count int
		if err := rows.Scan(&lang, &isActive, &count); err != nil {
			return 0, 0, nil, fmt.Errorf("scan subscriber stats: %w", err)
		}
		if isActive {
			active += count
			byLanguage[lang] += count
		} else {
			inactive += count
		}
	}
	return active, inactive, byLanguage, rows.Err()
}

// --- Delivery failures ---

func (s *PostgresStore) RecordDeliveryFailure(ctx context.Context, chatID int64, message string, createdAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_failures (chat_id, error_message, created_at) VALUES ($1, $2, $3)`,
		chatID, message, createdAt,
	)
	if err != nil {
		return fmt.Errorf("record delivery failure: %w", err)
	}
	return nil
}

// --- Lease (§4.8 single-leader scheduling) ---

// AcquireLease implements the "insert with a unique constraint on the slot
// key and a TTL" option spec.md §4.8 names: it inserts the slot key, or
// takes over an expired lease, in a single statement so two replicas racing
// on the same slot converge to exactly one winner.
func (s *PostgresStore) AcquireLease(ctx context.Context, slotKey string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO leases (slot_key, holder_instance, acquired_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (slot_key) DO UPDATE SET
			holder_instance = EXCLUDED.holder_instance,
			acquired_at = EXCLUDED.acquired_at,
			expires_at = EXCLUDED.expires_at
		WHERE leases.expires_at < $3
	`, slotKey, s.instanceID, now, expiresAt)
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lease rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) ReleaseLease(ctx context.Context, slotKey string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM leases WHERE slot_key = $1 AND holder_instance = $2`,
		slotKey, s.instanceID,
	)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
