// Package feeds crawls the configured news sources. A source is either an
// RSS/Atom feed or a scraped listing page; both yield the same Item shape.
package feeds

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultFetchTimeout  = 12 * time.Second
	DefaultBodyByteLimit = 4 * 1024 * 1024

	defaultUserAgent = "svergie-crawler/1.0 (+https://horse.fit/svergie)"
)

// Item is one crawled headline, before any persistence.
type Item struct {
	Title       string
	Description string
	Href        string
	PublishedAt time.Time
	Lang        string
}

// Source fetches the current items of one configured feed.
type Source interface {
	Slug() string
	Fetch(ctx context.Context) ([]Item, error)
}

// FetchOptions controls HTTP behavior for source crawls.
type FetchOptions struct {
	Timeout       time.Duration
	BodyByteLimit int64
	UserAgent     string
	HTTPClient    *http.Client
}

// NewSource builds the crawler for one catalog definition.
func NewSource(def Definition, opts FetchOptions) (Source, error) {
	switch def.Variant {
	case VariantRSS:
		return &rssSource{def: def, opts: opts}, nil
	case VariantScrape:
		if def.Selectors == nil {
			return nil, fmt.Errorf("feed %q: scrape variant requires selectors", def.Slug)
		}
		return &scrapeSource{def: def, opts: opts}, nil
	default:
		return nil, fmt.Errorf("feed %q: unknown variant %q", def.Slug, def.Variant)
	}
}

func fetchBody(ctx context.Context, href, accept string, opts FetchOptions) ([]byte, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}

	bodyLimit := opts.BodyByteLimit
	if bodyLimit <= 0 {
		bodyLimit = DefaultBodyByteLimit
	}

	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, href, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "sv-SE,sv;q=0.9,en;q=0.5")

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, bodyLimit))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// CleanText collapses runs of whitespace and joins lines into paragraphs.
func CleanText(raw string) string {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")

	lines := strings.Split(normalized, "\n")
	paragraphs := make([]string, 0, len(lines))
	for _, line := range lines {
		clean := strings.Join(strings.Fields(strings.TrimSpace(line)), " ")
		if clean == "" {
			continue
		}
		paragraphs = append(paragraphs, clean)
	}

	return strings.TrimSpace(strings.Join(paragraphs, "\n\n"))
}
