package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/svergie/internal/config"
	"horse.fit/svergie/internal/contenthash"
	"horse.fit/svergie/internal/db"
	"horse.fit/svergie/internal/globaltime"
	"horse.fit/svergie/internal/openai"
)

type fakeDatabase struct {
	mu       sync.Mutex
	nextID   int64
	feeds    map[string]int64
	entries  map[string]*db.NewEntry
	entryIDs map[string]int64
	fields   map[int64]map[string]db.FieldRecord
	reports  []db.ReportDraft
}

func newFakeDatabase() *fakeDatabase {
	return &fakeDatabase{
		feeds:    make(map[string]int64),
		entries:  make(map[string]*db.NewEntry),
		entryIDs: make(map[string]int64),
		fields:   make(map[int64]map[string]db.FieldRecord),
	}
}

func (f *fakeDatabase) UpsertFeed(_ context.Context, feed db.FeedRecord) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.feeds[feed.Slug]; ok {
		return id, nil
	}
	f.nextID++
	f.feeds[feed.Slug] = f.nextID
	return f.nextID, nil
}

func (f *fakeDatabase) InsertEntry(_ context.Context, entry db.NewEntry) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.entryIDs[entry.Href]; ok {
		return id, false, nil
	}
	f.nextID++
	stored := entry
	f.entries[entry.Href] = &stored
	f.entryIDs[entry.Href] = f.nextID
	return f.nextID, true, nil
}

func (f *fakeDatabase) UpsertField(_ context.Context, field db.FieldRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fields[field.EntryID] == nil {
		f.fields[field.EntryID] = make(map[string]db.FieldRecord)
	}
	key := field.Name + "/" + field.LangCode
	if _, ok := f.fields[field.EntryID][key]; !ok {
		f.fields[field.EntryID][key] = field
	}
	return nil
}

func (f *fakeDatabase) ListWindowEntries(_ context.Context, since, until time.Time, langCode string) ([]db.WindowEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var entries []db.WindowEntry
	for href, entry := range f.entries {
		if entry.PublishedAt.Before(since) || !entry.PublishedAt.Before(until) {
			continue
		}
		entryID := f.entryIDs[href]
		title, ok := f.fields[entryID]["title/"+langCode]
		if !ok {
			continue
		}
		entries = append(entries, db.WindowEntry{
			EntryID:     entryID,
			Href:        href,
			PublishedAt: entry.PublishedAt,
			Title:       title.Content,
			TitleLang:   langCode,
			TitleHash:   title.ContentHash,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].EntryID < entries[j].EntryID })
	return entries, nil
}

func (f *fakeDatabase) ListEntriesMissingLang(context.Context, int) ([]db.EntryLangGap, error) {
	return nil, nil
}

func (f *fakeDatabase) UpdateEntryLang(context.Context, int64, string) error {
	return nil
}

func (f *fakeDatabase) PublishReport(_ context.Context, draft db.ReportDraft) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, draft)
	return int64(len(f.reports)), nil
}

type memoryStore[V any] struct {
	mu     sync.Mutex
	values map[contenthash.Digest]V
}

func newMemoryStore[V any]() *memoryStore[V] {
	return &memoryStore[V]{values: make(map[contenthash.Digest]V)}
}

func (s *memoryStore[V]) Get(_ context.Context, key contenthash.Digest) (V, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[key]
	return value, ok, nil
}

func (s *memoryStore[V]) Put(_ context.Context, key contenthash.Digest, value V) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; !ok {
		s.values[key] = value
	}
	return nil
}

type fakeEmbedder struct {
	vectors map[string][]float32
	errs    map[string]error
	calls   atomic.Int64
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	if err, ok := f.errs[text]; ok {
		return nil, err
	}
	vector, ok := f.vectors[text]
	if !ok {
		return nil, errors.New("no vector for " + text)
	}
	return vector, nil
}

type fakeTranslator struct {
	err   error
	calls atomic.Int64
}

func (f *fakeTranslator) Translate(_ context.Context, text string) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return "EN: " + text, nil
}

func testConfig(t *testing.T, catalogPath string) *config.Config {
	t.Helper()
	return &config.Config{
		Environment:         "local",
		LogLevel:            "error",
		DatabaseURL:         "postgres://unused",
		FeedCatalogPath:     catalogPath,
		SourceLang:          "sv",
		TargetLang:          "en",
		ClusterEps:          0.3,
		ClusterMinPoints:    2,
		LookbackWindow:      24 * time.Hour,
		ScoreHalfLife:       6 * time.Hour,
		ReportAggregate:     config.AggregateTop,
		IngestConcurrency:   2,
		ProviderConcurrency: 2,
		RetryMaxAttempts:    1,
		RetryBaseDelay:      time.Millisecond,
		RunBudget:           time.Minute,
	}
}

const runFixture = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <language>sv-SE</language>
    <item>
      <title>Regeringen presenterar ny budget</title>
      <link>https://example.se/budget</link>
      <pubDate>Mon, 02 Mar 2026 07:30:00 +0000</pubDate>
    </item>
    <item>
      <title>Budgeten presenterad av regeringen</title>
      <link>https://example.se/budget-2</link>
      <pubDate>Mon, 02 Mar 2026 08:00:00 +0000</pubDate>
    </item>
    <item>
      <title>Ny budget läggs fram i riksdagen</title>
      <link>https://example.se/budget-3</link>
      <pubDate>Mon, 02 Mar 2026 08:15:00 +0000</pubDate>
    </item>
    <item>
      <title>Allsvenskan avgörs i sista omgången</title>
      <link>https://example.se/allsvenskan</link>
      <pubDate>Mon, 02 Mar 2026 09:00:00 +0000</pubDate>
    </item>
  </channel>
</rss>`

func newRunService(t *testing.T) (*Service, *fakeDatabase, *fakeEmbedder, *fakeTranslator) {
	t.Helper()
	return newRunServiceWithHandler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(runFixture))
	}))
}

func newRunServiceWithHandler(t *testing.T, handler http.Handler) (*Service, *fakeDatabase, *fakeEmbedder, *fakeTranslator) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	catalogPath := filepath.Join(t.TempDir(), "feeds.json")
	catalog := `{"feeds": [{"slug": "example-se", "title": "Example", "href": "` + server.URL + `", "variant": "rss", "lang": "sv"}]}`
	if err := os.WriteFile(catalogPath, []byte(catalog), 0o600); err != nil {
		t.Fatal(err)
	}

	database := newFakeDatabase()
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"Regeringen presenterar ny budget":   {0, 0},
		"Budgeten presenterad av regeringen": {0.05, 0},
		"Ny budget läggs fram i riksdagen":   {0.02, 0.02},
		"Allsvenskan avgörs i sista omgången": {5, 5},
	}}
	translator := &fakeTranslator{}

	service := New(Options{
		Database:         database,
		Embedder:         embedder,
		Translator:       translator,
		EmbeddingStore:   newMemoryStore[[]float32](),
		TranslationStore: newMemoryStore[string](),
		Config:           testConfig(t, catalogPath),
		Logger:           zerolog.Nop(),
	})
	return service, database, embedder, translator
}

func TestRunPublishesReport(t *testing.T) {
	globaltime.SetMockTime(time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC))
	defer globaltime.ResetTime()

	service, database, embedder, translator := newRunService(t)

	if err := service.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := service.State(); got != StateIdle {
		t.Fatalf("state = %q, want idle", got)
	}

	if len(database.reports) != 1 {
		t.Fatalf("got %d reports, want 1", len(database.reports))
	}
	report := database.reports[0]

	// Three budget headlines cluster; the sports headline is noise.
	if len(report.Groups) != 1 {
		t.Fatalf("got %d groups, want 1: %+v", len(report.Groups), report.Groups)
	}
	group := report.Groups[0]
	if len(group.MemberEntryIDs) != 3 {
		t.Fatalf("got %d members, want 3", len(group.MemberEntryIDs))
	}

	// The representative is the headline nearest the centroid.
	repID := database.entryIDs["https://example.se/budget-3"]
	if group.RepresentativeEntryID != repID {
		t.Fatalf("representative = %d, want %d", group.RepresentativeEntryID, repID)
	}

	newest := time.Date(2026, time.March, 2, 8, 15, 0, 0, time.UTC)
	if !group.NewestPublishedAt.Equal(newest) {
		t.Fatalf("newest = %v, want %v", group.NewestPublishedAt, newest)
	}

	// One group under the top policy, so the report score is that group's.
	if report.Score != group.Score {
		t.Fatalf("report score = %v, want group score %v", report.Score, group.Score)
	}

	if got := embedder.calls.Load(); got != 4 {
		t.Fatalf("embedder saw %d calls, want 4", got)
	}
	if got := translator.calls.Load(); got != 1 {
		t.Fatalf("translator saw %d calls, want 1", got)
	}
}

func TestRunReusesCaches(t *testing.T) {
	globaltime.SetMockTime(time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC))
	defer globaltime.ResetTime()

	service, database, embedder, translator := newRunService(t)

	if err := service.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := service.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(database.reports) != 2 {
		t.Fatalf("got %d reports, want 2", len(database.reports))
	}
	if got := embedder.calls.Load(); got != 4 {
		t.Fatalf("embedder saw %d calls across two runs, want 4", got)
	}
	if got := translator.calls.Load(); got != 1 {
		t.Fatalf("translator saw %d calls across two runs, want 1", got)
	}
}

func TestRunRejectsOverlap(t *testing.T) {
	service, _, _, _ := newRunService(t)

	service.runMu.Lock()
	defer service.runMu.Unlock()

	if err := service.Run(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("got error %v, want ErrRunInProgress", err)
	}
}

func TestRunSkipsEntryAfterRetryableEmbedFailure(t *testing.T) {
	globaltime.SetMockTime(time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC))
	defer globaltime.ResetTime()

	service, database, embedder, _ := newRunService(t)
	embedder.errs = map[string]error{
		"Allsvenskan avgörs i sista omgången": &openai.APIError{
			Path:       "/v1/embeddings",
			StatusCode: http.StatusTooManyRequests,
			Message:    "rate limited",
		},
	}

	if err := service.Run(context.Background()); err != nil {
		t.Fatalf("one rate-limited headline should not fail the run: %v", err)
	}
	if got := service.State(); got != StateIdle {
		t.Fatalf("state = %q, want idle", got)
	}

	// The budget cluster still publishes; the dropped headline is simply
	// absent from the snapshot.
	if len(database.reports) != 1 {
		t.Fatalf("got %d reports, want 1", len(database.reports))
	}
	report := database.reports[0]
	if len(report.Groups) != 1 {
		t.Fatalf("got %d groups, want 1: %+v", len(report.Groups), report.Groups)
	}
	if got := len(report.Groups[0].MemberEntryIDs); got != 3 {
		t.Fatalf("got %d members, want 3", got)
	}
}

func TestRunPublishesWhenTranslationExhaustsRetries(t *testing.T) {
	globaltime.SetMockTime(time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC))
	defer globaltime.ResetTime()

	service, database, _, translator := newRunService(t)
	translator.err = &openai.APIError{
		Path:       "/v1/chat/completions",
		StatusCode: http.StatusServiceUnavailable,
		Message:    "overloaded",
	}

	if err := service.Run(context.Background()); err != nil {
		t.Fatalf("transient translation failure should not fail the run: %v", err)
	}

	// The group publishes untranslated; the headline is retried next run.
	if len(database.reports) != 1 {
		t.Fatalf("got %d reports, want 1", len(database.reports))
	}
	if len(database.reports[0].Groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(database.reports[0].Groups))
	}
	if translator.calls.Load() == 0 {
		t.Fatal("translator was never called")
	}
}

func TestRunFailsOnFatalProviderError(t *testing.T) {
	globaltime.SetMockTime(time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC))
	defer globaltime.ResetTime()

	service, database, embedder, _ := newRunService(t)
	embedder.errs = map[string]error{
		"Regeringen presenterar ny budget": &openai.APIError{
			Path:       "/v1/embeddings",
			StatusCode: http.StatusUnauthorized,
			Message:    "invalid api key",
		},
	}

	if err := service.Run(context.Background()); err == nil {
		t.Fatal("bad credentials must fail the run")
	}
	if got := service.State(); got != StateFailed {
		t.Fatalf("state = %q, want failed", got)
	}
	if len(database.reports) != 0 {
		t.Fatalf("got %d reports, want none", len(database.reports))
	}
}

func TestIngestRetriesTransientFetch(t *testing.T) {
	globaltime.SetMockTime(time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC))
	defer globaltime.ResetTime()

	var requests atomic.Int64
	service, database, _, _ := newRunServiceWithHandler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(runFixture))
	}))
	service.cfg.RetryMaxAttempts = 2

	if err := service.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := requests.Load(); got != 2 {
		t.Fatalf("feed saw %d requests, want 2", got)
	}
	if len(database.reports) != 1 || len(database.reports[0].Groups) != 1 {
		t.Fatalf("retried fetch should still publish the full report: %+v", database.reports)
	}
}

func TestSelectGroupsRepresentative(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC)
	entries := []db.WindowEntry{
		{EntryID: 1, Href: "https://a.se/0", PublishedAt: base},
		{EntryID: 2, Href: "https://a.se/1", PublishedAt: base.Add(time.Minute)},
		{EntryID: 3, Href: "https://a.se/2", PublishedAt: base.Add(2 * time.Minute)},
		{EntryID: 4, Href: "https://a.se/3", PublishedAt: base},
		{EntryID: 5, Href: "https://a.se/4", PublishedAt: base},
	}
	vectors := [][]float32{{0, 0}, {0.05, 0}, {0.02, 0.02}, {5, 5}, {9, 9}}
	labels := []int{0, 0, 0, -1, -1}

	groups := selectGroups(entries, vectors, labels)
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	if groups[0].RepresentativeEntryID != 3 {
		t.Fatalf("representative = %d, want 3", groups[0].RepresentativeEntryID)
	}
	if got := groups[0].MemberEntryIDs; len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("members = %v", got)
	}
}

func TestBuildReportOrdering(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC)
	groups := []candidateGroup{
		{
			ClusterID:             0,
			RepresentativeEntryID: 1,
			MemberEntryIDs:        []int64{1, 2},
			MemberPublishedAts:    []time.Time{now.Add(-10 * time.Hour), now.Add(-10 * time.Hour)},
			NewestPublishedAt:     now.Add(-10 * time.Hour),
		},
		{
			ClusterID:             1,
			RepresentativeEntryID: 3,
			MemberEntryIDs:        []int64{3, 4, 5},
			MemberPublishedAts:    []time.Time{now.Add(-time.Hour), now.Add(-time.Hour), now.Add(-time.Hour)},
			NewestPublishedAt:     now.Add(-time.Hour),
		},
	}

	draft := buildReport(groups, reportParams{
		GeneratedAt: now,
		WindowStart: now.Add(-24 * time.Hour),
		WindowEnd:   now,
		Eps:         0.3,
		MinPoints:   2,
		Aggregate:   config.AggregateTop,
		HalfLife:    6 * time.Hour,
	})

	if len(draft.Groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(draft.Groups))
	}
	// The bigger, fresher cluster ranks first.
	if draft.Groups[0].RepresentativeEntryID != 3 {
		t.Fatalf("first group representative = %d, want 3", draft.Groups[0].RepresentativeEntryID)
	}
	if draft.Groups[0].Score <= draft.Groups[1].Score {
		t.Fatalf("scores not descending: %v", []float64{draft.Groups[0].Score, draft.Groups[1].Score})
	}
}

func TestBuildReportTieBreaksByClusterID(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC)
	published := now.Add(-time.Hour)

	// Identical size and freshness yield identical scores.
	groups := []candidateGroup{
		{ClusterID: 1, RepresentativeEntryID: 3, MemberEntryIDs: []int64{3, 4}, MemberPublishedAts: []time.Time{published, published}, NewestPublishedAt: published},
		{ClusterID: 0, RepresentativeEntryID: 1, MemberEntryIDs: []int64{1, 2}, MemberPublishedAts: []time.Time{published, published}, NewestPublishedAt: published},
	}

	draft := buildReport(groups, reportParams{
		GeneratedAt: now,
		Aggregate:   config.AggregateTop,
		HalfLife:    6 * time.Hour,
	})

	if draft.Groups[0].RepresentativeEntryID != 1 {
		t.Fatalf("tied groups should order by cluster id, got representative %d first", draft.Groups[0].RepresentativeEntryID)
	}
}

func TestBuildReportAggregatePolicies(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC)
	published := now.Add(-time.Hour)
	groups := []candidateGroup{
		{ClusterID: 0, RepresentativeEntryID: 1, MemberEntryIDs: []int64{1, 2, 3}, NewestPublishedAt: published},
		{ClusterID: 1, RepresentativeEntryID: 4, MemberEntryIDs: []int64{4, 5}, NewestPublishedAt: published},
	}

	top := buildReport(groups, reportParams{GeneratedAt: now, Aggregate: config.AggregateTop, HalfLife: 6 * time.Hour})
	if top.Score != top.Groups[0].Score {
		t.Fatalf("top aggregate = %v, want best group score %v", top.Score, top.Groups[0].Score)
	}

	sum := buildReport(groups, reportParams{GeneratedAt: now, Aggregate: config.AggregateSum, HalfLife: 6 * time.Hour})
	if want := sum.Groups[0].Score + sum.Groups[1].Score; sum.Score != want {
		t.Fatalf("sum aggregate = %v, want %v", sum.Score, want)
	}

	// The policy only changes the report-level fold, never the per-group
	// scores or their order.
	if sum.Groups[0].Score != top.Groups[0].Score || sum.Groups[0].RepresentativeEntryID != top.Groups[0].RepresentativeEntryID {
		t.Fatal("group scoring should be independent of the aggregate policy")
	}
}
