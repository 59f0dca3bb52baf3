// Package translator implements spec.md §4.3: base-language short-circuit,
// cache read/write-through via Store, with unique-constraint race handling
// on concurrent misses. Has no teacher analogue (the teacher never
// translates); built atop the Summarizer's llmclient.Client interface and
// the Store's cache semantics (internal/store's *pq.Error code-23505
// handling, grounded on eser-aya.is).
package translator

import (
	"context"
	"fmt"
	"time"

	"github.com/maine/newsdigest/internal/apperr"
	"github.com/maine/newsdigest/internal/langs"
	"github.com/maine/newsdigest/internal/news"
)

// Client is the subset of llmclient.Client the Translator depends on.
type Client interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int) (string, error)
}

// Cache is the subset of store.Store the Translator depends on.
type Cache interface {
	GetTranslation(ctx context.Context, digestID int64, language string) (*news.Translation, error)
	InsertTranslation(ctx context.Context, digestID int64, language, content string, createdAt time.Time) (*news.Translation, error)
}

// Translator implements spec.md §4.3.
type Translator struct {
	client       Client
	cache        Cache
	registry     *langs.Registry
	baseLanguage string
	clock        func() time.Time
}

// New builds a Translator.
func New(client Client, cache Cache, registry *langs.Registry, baseLanguage string) *Translator {
	return &Translator{client: client, cache: cache, registry: registry, baseLanguage: baseLanguage, clock: time.Now}
}

// Translate returns digest's content in targetLanguage, per spec.md §4.3's
// contract: identity for the base language, cache read on hit, translate +
// write-through on miss.
func (t *Translator) Translate(ctx context.Context, digest *news.Digest, targetLanguage string) (string, error) {
	if targetLanguage == t.baseLanguage {
		return digest.Content, nil
	}

	if cached, err := t.cache.GetTranslation(ctx, digest.ID, targetLanguage); err != nil {
		return "", apperr.New(apperr.KindStoreUnreachable, "translate: cache read", err)
	} else if cached != nil {
		return cached.Content, nil
	}

	displayName := targetLanguage
	if l, ok := t.registry.Get(targetLanguage); ok {
		displayName = l.DisplayName
	}

	system := fmt.Sprintf(
		"Translate the following text to %s. Preserve structure and bullet markers. Do not add commentary.",
		displayName,
	)
	translated, err := t.client.Complete(ctx, system, digest.Content, 0.3, 1200)
	if err != nil {
		return "", apperr.New(apperr.KindTranslateFailed, "translate", err)
	}

	row, err := t.cache.InsertTranslation(ctx, digest.ID, targetLanguage, translated, t.clock())
	if err != nil {
		return "", apperr.New(apperr.KindStoreUnreachable, "translate: cache write", err)
	}
	return row.Content, nil
}
