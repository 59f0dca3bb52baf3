// Package harvester converts a roster of screen names into a time-filtered,
// ordered collection of posts (spec.md §4.1), generalizing the teacher's
// internal/sources/rss_collector.go (per-site RSS feed fetch over a
// YAML-configured site list) to the spec's per-screen-name mirror URL
// pattern with paced, bounded-concurrency fetch.
package harvester

import (
	"bufio"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/maine/newsdigest/internal/applog"
	"github.com/maine/newsdigest/internal/apperr"
	"github.com/maine/newsdigest/internal/backoff"
	"github.com/maine/newsdigest/internal/news"
)

const component = "harvester"

// fetchConcurrency bounds how many screen names are fetched in parallel;
// the per-mirror rate.Limiter still enforces the ≥3s gap between requests
// hitting the same host.
const fetchConcurrency = 3

// Harvester implements spec.md §4.1.
type Harvester struct {
	baseURL   string
	apiKey    string
	client    *http.Client
	limiter   *rate.Limiter
	clock     func() time.Time
}

// New builds a Harvester against mirrorBaseURL, optionally authenticated
// with apiKey (sent as X-API-Key, spec.md §4.1).
func New(mirrorBaseURL, apiKey string) *Harvester {
	return &Harvester{
		baseURL: strings.TrimRight(mirrorBaseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		// at least a 3s gap between consecutive requests to the mirror.
		limiter: rate.NewLimiter(rate.Every(3*time.Second), 1),
		clock:   time.Now,
	}
}

// LoadRoster reads the usernames file format of spec.md §6: UTF-8 text, one
// screen name per line, `#` comments and blank lines skipped. An empty
// roster is a configuration error, surfaced at startup.
func LoadRoster(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperr.New(apperr.KindConfigInvalid, "load roster", err)
	}
	defer f.Close()

	var roster []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		roster = append(roster, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, apperr.New(apperr.KindConfigInvalid, "load roster", err)
	}
	if len(roster) == 0 {
		return nil, apperr.New(apperr.KindConfigInvalid, "load roster", fmt.Errorf("roster is empty"))
	}
	return roster, nil
}

// Harvest implements the algorithm of spec.md §4.1: fetch each screen
// name's feed (paced, bounded-concurrency, retried), filter to the lookback
// window, aggregate newest-first and cap at maxPosts.
func (h *Harvester) Harvest(ctx context.Context, roster []string, lookback time.Duration, maxPosts int) ([]news.Post, error) {
	if len(roster) == 0 {
		return nil, apperr.New(apperr.KindConfigInvalid, "harvest", fmt.Errorf("empty roster"))
	}

	results := make([][]news.Post, len(roster))
	errs := make([]error, len(roster))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)

	for i, name := range roster {
		i, name := i, name
		g.Go(func() error {
			posts, err := h.fetchOne(gctx, name)
			if err != nil {
				errs[i] = err
				applog.Error(component, "harvest-fetch-failed", "fetch feed for "+name, err)
				return nil
			}
			results[i] = posts
			return nil
		})
	}
	_ = g.Wait()

	var all []news.Post
	succeeded, failed := 0, 0
	for i := range roster {
		if errs[i] != nil {
			failed++
			continue
		}
		succeeded++
		all = append(all, results[i]...)
	}

	if succeeded == 0 {
		return nil, apperr.New(apperr.KindHarvestFailed, "harvest", fmt.Errorf("all %d feeds failed", len(roster)))
	}

	applog.Line(component, "harvest complete", applog.Fields{
		"succeeded": succeeded, "failed": failed, "posts": len(all),
	})

	now := h.clock()
	cutoff := now.Add(-lookback)
	var filtered []news.Post
	for _, p := range all {
		if p.PublishedAt.After(cutoff) {
			filtered = append(filtered, p)
		}
	}

	sort.Slice(filtered, func(i, j int) bool {
		if !filtered[i].PublishedAt.Equal(filtered[j].PublishedAt) {
			return filtered[i].PublishedAt.After(filtered[j].PublishedAt)
		}
		if filtered[i].Author != filtered[j].Author {
			return filtered[i].Author < filtered[j].Author
		}
		return filtered[i].SourceID < filtered[j].SourceID
	})

	if maxPosts > 0 && len(filtered) > maxPosts {
		filtered = filtered[:maxPosts]
	}
	return filtered, nil
}

func (h *Harvester) fetchOne(ctx context.Context, screenName string) ([]news.Post, error) {
	url := fmt.Sprintf("%s/%s/rss", h.baseURL, screenName)

	var lastErr error
	for attempt := 0; attempt <= 2; attempt++ {
		if attempt > 0 {
			delay := backoff.Compute(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := h.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		body, err := h.doRequest(ctx, url)
		if err == nil {
			return parseFeed(body, screenName)
		}
		lastErr = err
		if errors.Is(err, errClientStatus) {
			break // 4xx responses are not retried
		}
	}
	return nil, fmt.Errorf("fetch %s: %w", screenName, lastErr)
}

// errClientStatus marks a 4xx mirror response, which fetchOne does not retry.
var errClientStatus = errors.New("client error")

func (h *Harvester) doRequest(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if h.apiKey != "" {
		req.Header.Set("X-API-Key", h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("server error %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w %d", errClientStatus, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// --- RSS parsing, grounded on the teacher's internal/sources/rss_collector.go ---

type rssFeed struct {
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Items []rssItem `xml:"item"`
}

type rssItem struct {
	GUID        string `xml:"guid"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
}

func parseFeed(data []byte, screenName string) ([]news.Post, error) {
	data = fixXMLEntities(data)

	var feed rssFeed
	if err := xml.Unmarshal(data, &feed); err != nil {
		decoder := xml.NewDecoder(bytes.NewReader(data))
		decoder.Strict = false
		if err := decoder.Decode(&feed); err != nil {
			return nil, fmt.Errorf("parse RSS XML: %w", err)
		}
	}

	var posts []news.Post
	for _, item := range feed.Channel.Items {
		if item.PubDate == "" {
			continue // missing pubDate: skip per spec.md §4.1
		}
		published, err := parseTime(item.PubDate)
		if err != nil {
			continue // unparseable date: skip
		}

		sourceID := item.GUID
		if sourceID == "" {
			sourceID = item.Link
		}

		posts = append(posts, news.Post{
			Author:      screenName,
			Text:        stripHTML(item.Description),
			PublishedAt: published.UTC(),
			SourceID:    sourceID,
		})
	}
	return posts, nil
}

var pubDateFormats = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	time.RFC3339,
	time.RFC3339Nano,
	"Mon, 02 Jan 2006 15:04:05 -0700",
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05",
}

func parseTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, f := range pubDateFormats {
		if t, err := time.Parse(f, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable pubDate %q", value)
}

// stripHTML removes tags and decodes entities from an RSS description,
// using golang.org/x/net/html's tokenizer for a real parse instead of the
// teacher's lack of HTML handling (the teacher used description text
// as-is).
func stripHTML(s string) string {
	var sb strings.Builder
	tokenizer := html.NewTokenizer(strings.NewReader(s))
	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return normalizeWhitespace(sb.String())
		case html.TextToken:
			sb.Write(tokenizer.Text())
			sb.WriteByte(' ')
		}
	}
}

var whitespaceRun = regexp.MustCompile(`\s+`)

func normalizeWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

// fixXMLEntities repairs bare '&' characters some mirrors emit, ported from
// the teacher's internal/sources/rss_collector.go fixXMLEntities.
func fixXMLEntities(data []byte) []byte {
	result := bytes.ReplaceAll(data, []byte("&"), []byte("&amp;"))
	result = bytes.ReplaceAll(result, []byte("&amp;amp;"), []byte("&amp;"))
	result = bytes.ReplaceAll(result, []byte("&amp;lt;"), []byte("&lt;"))
	result = bytes.ReplaceAll(result, []byte("&amp;gt;"), []byte("&gt;"))
	result = bytes.ReplaceAll(result, []byte("&amp;quot;"), []byte("&quot;"))
	result = bytes.ReplaceAll(result, []byte("&amp;apos;"), []byte("&apos;"))

	numericEntityRegex := regexp.MustCompile(`&amp;(#\d+;|#x[0-9a-fA-F]+;)`)
	result = numericEntityRegex.ReplaceAll(result, []byte("&$1"))

	namedEntityRegex := regexp.MustCompile(`&amp;([a-zA-Z][a-zA-Z0-9]*;)`)
	result = namedEntityRegex.ReplaceAll(result, []byte("&$1"))

	return result
}
