package db

import (
	"context"
	"fmt"
	"time"

	"horse.fit/svergie/internal/contenthash"
)

// FeedRecord is the catalog row synchronized into news.feeds on every run.
type FeedRecord struct {
	Slug    string
	Title   string
	Href    string
	Variant string
	Enabled bool
}

func (p *Pool) UpsertFeed(ctx context.Context, feed FeedRecord) (int64, error) {
	const query = `
		INSERT INTO news.feeds (slug, title, href, variant, enabled)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (slug) DO UPDATE SET
			title = EXCLUDED.title,
			href = EXCLUDED.href,
			variant = EXCLUDED.variant,
			enabled = EXCLUDED.enabled,
			updated_at = now()
		RETURNING feed_id`

	var feedID int64
	if err := p.QueryRow(ctx, query, feed.Slug, feed.Title, feed.Href, feed.Variant, feed.Enabled).Scan(&feedID); err != nil {
		return 0, fmt.Errorf("upsert feed %q: %w", feed.Slug, err)
	}
	return feedID, nil
}

// NewEntry is a crawled item about to be recorded.
type NewEntry struct {
	FeedID      int64
	Href        string
	PublishedAt time.Time
	LangCode    *string
}

// InsertEntry records an entry once per href. The boolean reports whether
// this call created the row; a conflict resolves to the existing entry id,
// so concurrent crawlers converge on the same row.
func (p *Pool) InsertEntry(ctx context.Context, entry NewEntry) (int64, bool, error) {
	const insert = `
		INSERT INTO news.entries (feed_id, href, published_at, lang_code)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (href) DO NOTHING
		RETURNING entry_id`

	var entryID int64
	err := p.QueryRow(ctx, insert, entry.FeedID, entry.Href, entry.PublishedAt.UTC(), entry.LangCode).Scan(&entryID)
	if err == nil {
		return entryID, true, nil
	}
	if !IsNoRows(err) {
		return 0, false, fmt.Errorf("insert entry %q: %w", entry.Href, err)
	}

	const find = `SELECT entry_id FROM news.entries WHERE href = $1`
	if err := p.QueryRow(ctx, find, entry.Href).Scan(&entryID); err != nil {
		return 0, false, fmt.Errorf("find entry %q after conflict: %w", entry.Href, err)
	}
	return entryID, false, nil
}

// FieldRecord is one named textual facet of an entry.
type FieldRecord struct {
	EntryID     int64
	Name        string
	LangCode    string
	ContentHash contenthash.Digest
	Content     string
}

// UpsertField stores a field once per (entry, name, lang). Replays keep the
// first stored content; field text is immutable under its hash.
func (p *Pool) UpsertField(ctx context.Context, field FieldRecord) error {
	const query = `
		INSERT INTO news.fields (entry_id, name, lang_code, content_hash, content)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (entry_id, name, lang_code) DO NOTHING`

	if _, err := p.Exec(ctx, query, field.EntryID, field.Name, field.LangCode, field.ContentHash.Bytes(), field.Content); err != nil {
		return fmt.Errorf("upsert field %s for entry %d: %w", field.Name, field.EntryID, err)
	}
	return nil
}

// WindowEntry is one entry inside the lookback window together with its
// title field, the unit of clustering.
type WindowEntry struct {
	EntryID     int64
	Href        string
	PublishedAt time.Time
	Title       string
	TitleLang   string
	TitleHash   contenthash.Digest
}

// ListWindowEntries returns the entries published inside [since, until)
// whose title is recorded in langCode, ordered by ascending entry id. The
// ordering is what keeps a pipeline run reproducible.
func (p *Pool) ListWindowEntries(ctx context.Context, since, until time.Time, langCode string) ([]WindowEntry, error) {
	const query = `
		SELECT e.entry_id, e.href, e.published_at, f.content, f.lang_code, f.content_hash
		FROM news.entries e
		JOIN news.fields f ON f.entry_id = e.entry_id AND f.name = 'title'
		WHERE e.published_at >= $1 AND e.published_at < $2 AND f.lang_code = $3
		ORDER BY e.entry_id ASC`

	rows, err := p.Query(ctx, query, since.UTC(), until.UTC(), langCode)
	if err != nil {
		return nil, fmt.Errorf("list window entries: %w", err)
	}
	defer rows.Close()

	var entries []WindowEntry
	for rows.Next() {
		var entry WindowEntry
		var hash []byte
		if err := rows.Scan(&entry.EntryID, &entry.Href, &entry.PublishedAt, &entry.Title, &entry.TitleLang, &hash); err != nil {
			return nil, fmt.Errorf("scan window entry: %w", err)
		}
		digest, ok := contenthash.FromBytes(hash)
		if !ok {
			return nil, fmt.Errorf("entry %d: malformed content hash (%d bytes)", entry.EntryID, len(hash))
		}
		entry.TitleHash = digest
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate window entries: %w", err)
	}
	return entries, nil
}

// EntryLangGap is an entry whose feed did not declare a language.
type EntryLangGap struct {
	EntryID int64
	Title   string
}

func (p *Pool) ListEntriesMissingLang(ctx context.Context, limit int) ([]EntryLangGap, error) {
	const query = `
		SELECT e.entry_id, f.content
		FROM news.entries e
		JOIN news.fields f ON f.entry_id = e.entry_id AND f.name = 'title'
		WHERE e.lang_code IS NULL
		ORDER BY e.entry_id ASC
		LIMIT $1`

	rows, err := p.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list entries missing lang: %w", err)
	}
	defer rows.Close()

	var gaps []EntryLangGap
	for rows.Next() {
		var gap EntryLangGap
		if err := rows.Scan(&gap.EntryID, &gap.Title); err != nil {
			return nil, fmt.Errorf("scan entry lang gap: %w", err)
		}
		gaps = append(gaps, gap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entry lang gaps: %w", err)
	}
	return gaps, nil
}

func (p *Pool) UpdateEntryLang(ctx context.Context, entryID int64, langCode string) error {
	const query = `UPDATE news.entries SET lang_code = $2 WHERE entry_id = $1 AND lang_code IS NULL`
	if _, err := p.Exec(ctx, query, entryID, langCode); err != nil {
		return fmt.Errorf("update entry %d lang: %w", entryID, err)
	}
	return nil
}
