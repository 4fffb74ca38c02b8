package pipeline

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"horse.fit/svergie/internal/contenthash"
	"horse.fit/svergie/internal/db"
	"horse.fit/svergie/internal/feeds"
	"horse.fit/svergie/internal/langdetect"
)

const (
	fieldTitle       = "title"
	fieldDescription = "description"

	langBackfillBatch   = 200
	descriptionMaxChars = 2000
)

// ingest crawls every enabled catalog feed and records new entries with
// their title and description facets. A failing feed is logged and dropped
// from this cycle; only cancellation aborts the whole stage.
func (s *Service) ingest(ctx context.Context, now time.Time) error {
	catalog, err := feeds.LoadCatalog(s.cfg.FeedCatalogPath)
	if err != nil {
		return err
	}

	var fetched, inserted, failedFeeds atomic.Int64

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.cfg.IngestConcurrency)

	for _, def := range catalog.Feeds {
		if !def.IsEnabled() {
			continue
		}

		source, err := feeds.NewSource(def, s.fetchOpts)
		if err != nil {
			s.logger.Warn().Err(err).Str("feed", def.Slug).Msg("skipping misconfigured feed")
			failedFeeds.Add(1)
			continue
		}

		group.Go(func() error {
			feedLogger := s.logger.With().Str("feed", def.Slug).Logger()

			feedID, err := s.database.UpsertFeed(groupCtx, db.FeedRecord{
				Slug:    def.Slug,
				Title:   def.Title,
				Href:    def.Href,
				Variant: def.Variant,
				Enabled: def.IsEnabled(),
			})
			if err != nil {
				return err
			}

			items, err := s.fetchWithRetry(groupCtx, source, feedLogger)
			if err != nil {
				if groupCtx.Err() != nil {
					return groupCtx.Err()
				}
				feedLogger.Warn().Err(err).Msg("feed fetch failed, dropping feed for this cycle")
				failedFeeds.Add(1)
				return nil
			}
			fetched.Add(int64(len(items)))

			newEntries, err := s.recordItems(groupCtx, feedID, def, items, now)
			if err != nil {
				return err
			}
			inserted.Add(int64(newEntries))

			feedLogger.Debug().Int("items", len(items)).Int("new", newEntries).Msg("feed crawled")
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return err
	}

	if err := s.backfillLanguages(ctx); err != nil {
		return err
	}

	s.logger.Info().
		Int64("items_fetched", fetched.Load()).
		Int64("entries_inserted", inserted.Load()).
		Int64("feeds_failed", failedFeeds.Load()).
		Msg("ingest finished")
	return nil
}

func (s *Service) recordItems(ctx context.Context, feedID int64, def feeds.Definition, items []feeds.Item, now time.Time) (int, error) {
	newEntries := 0
	for _, item := range items {
		href := strings.TrimSpace(item.Href)
		title := strings.TrimSpace(item.Title)
		if href == "" || title == "" {
			continue
		}

		publishedAt := item.PublishedAt
		if publishedAt.IsZero() {
			publishedAt = now
		}

		lang := itemLang(item, def, s.cfg.SourceLang)
		var langCode *string
		if item.Lang != "" || def.Lang != "" {
			langCode = &lang
		}

		entryID, created, err := s.database.InsertEntry(ctx, db.NewEntry{
			FeedID:      feedID,
			Href:        href,
			PublishedAt: publishedAt,
			LangCode:    langCode,
		})
		if err != nil {
			return newEntries, err
		}
		if created {
			newEntries++
		}

		if err := s.database.UpsertField(ctx, db.FieldRecord{
			EntryID:     entryID,
			Name:        fieldTitle,
			LangCode:    lang,
			ContentHash: contenthash.Hash(title, lang),
			Content:     title,
		}); err != nil {
			return newEntries, err
		}

		description := strings.TrimSpace(item.Description)
		if description == "" && created && def.Variant == feeds.VariantScrape {
			description = s.scrapeDescription(ctx, href)
		}
		if description == "" {
			continue
		}
		description = truncateRunes(description, descriptionMaxChars)

		if err := s.database.UpsertField(ctx, db.FieldRecord{
			EntryID:     entryID,
			Name:        fieldDescription,
			LangCode:    lang,
			ContentHash: contenthash.Hash(description, lang),
			Content:     description,
		}); err != nil {
			return newEntries, err
		}
	}
	return newEntries, nil
}

// fetchWithRetry crawls one source up to the configured attempt ceiling,
// doubling the delay after each failure. Cancellation ends the loop at
// once; the last error is returned after exhaustion.
func (s *Service) fetchWithRetry(ctx context.Context, source feeds.Source, logger zerolog.Logger) ([]feeds.Item, error) {
	delay := s.cfg.RetryBaseDelay

	var lastErr error
	for attempt := 1; attempt <= s.cfg.RetryMaxAttempts; attempt++ {
		items, err := source.Fetch(ctx)
		if err == nil {
			return items, nil
		}
		lastErr = err
		if ctx.Err() != nil || attempt == s.cfg.RetryMaxAttempts {
			break
		}
		logger.Debug().Err(err).Int("attempt", attempt).Msg("feed fetch failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
	return nil, lastErr
}

// scrapeDescription is best effort; a failed article fetch leaves the
// description facet empty rather than failing the feed.
func (s *Service) scrapeDescription(ctx context.Context, href string) string {
	text, err := feeds.ReadArticleText(ctx, href, s.fetchOpts)
	if err != nil {
		s.logger.Debug().Err(err).Str("href", href).Msg("article text extraction failed")
		return ""
	}
	return text
}

// backfillLanguages fills entries.lang_code for entries whose feed declared
// no language, using detection over the title.
func (s *Service) backfillLanguages(ctx context.Context) error {
	gaps, err := s.database.ListEntriesMissingLang(ctx, langBackfillBatch)
	if err != nil {
		return err
	}

	detected := 0
	for _, gap := range gaps {
		code := langdetect.DetectISO6391(gap.Title)
		if code == "" {
			continue
		}
		if err := s.database.UpdateEntryLang(ctx, gap.EntryID, code); err != nil {
			return err
		}
		detected++
	}

	if len(gaps) > 0 {
		s.logger.Debug().Int("candidates", len(gaps)).Int("detected", detected).Msg("language backfill finished")
	}
	return nil
}

func itemLang(item feeds.Item, def feeds.Definition, fallback string) string {
	if item.Lang != "" {
		return item.Lang
	}
	if def.Lang != "" {
		return def.Lang
	}
	return fallback
}

func truncateRunes(raw string, maxChars int) string {
	runes := []rune(raw)
	if len(runes) <= maxChars {
		return raw
	}
	return strings.TrimSpace(string(runes[:maxChars-1])) + "…"
}
