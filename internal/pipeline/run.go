// Package pipeline orchestrates one crawl-to-report cycle: ingest the
// configured feeds, embed and cluster the window's headlines, pick and
// translate representatives, then publish a scored report snapshot.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/svergie/internal/cache"
	"horse.fit/svergie/internal/config"
	"horse.fit/svergie/internal/db"
	"horse.fit/svergie/internal/feeds"
	"horse.fit/svergie/internal/globaltime"
)

// ErrRunInProgress is returned when a run is requested while the previous
// one is still executing. Overlapping runs are skipped, never queued.
var ErrRunInProgress = errors.New("pipeline run already in progress")

// State names the stage a run is currently in, exposed via /healthz.
type State string

const (
	StateIdle        State = "idle"
	StateIngesting   State = "ingesting"
	StateHashing     State = "hashing"
	StateEmbedding   State = "embedding"
	StateClustering  State = "clustering"
	StateSelecting   State = "selecting"
	StateTranslating State = "translating"
	StateScoring     State = "scoring"
	StatePublishing  State = "publishing"
	StateFailed      State = "failed"
)

// Database is the slice of the storage layer the pipeline drives.
type Database interface {
	UpsertFeed(ctx context.Context, feed db.FeedRecord) (int64, error)
	InsertEntry(ctx context.Context, entry db.NewEntry) (int64, bool, error)
	UpsertField(ctx context.Context, field db.FieldRecord) error
	ListWindowEntries(ctx context.Context, since, until time.Time, langCode string) ([]db.WindowEntry, error)
	ListEntriesMissingLang(ctx context.Context, limit int) ([]db.EntryLangGap, error)
	UpdateEntryLang(ctx context.Context, entryID int64, langCode string) error
	PublishReport(ctx context.Context, draft db.ReportDraft) (int64, error)
}

// EmbeddingProvider turns one text into a vector.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// TranslationProvider renders one source-language text into the target
// language.
type TranslationProvider interface {
	Translate(ctx context.Context, text string) (string, error)
}

type Service struct {
	database   Database
	embedder   EmbeddingProvider
	translator TranslationProvider

	embedCache     *cache.Loader[[]float32]
	translateCache *cache.Loader[string]

	cfg       *config.Config
	logger    zerolog.Logger
	fetchOpts feeds.FetchOptions

	runMu sync.Mutex

	stateMu sync.RWMutex
	state   State
}

type Options struct {
	Database   Database
	Embedder   EmbeddingProvider
	Translator TranslationProvider

	EmbeddingStore   cache.Store[[]float32]
	TranslationStore cache.Store[string]

	Config    *config.Config
	Logger    zerolog.Logger
	FetchOpts feeds.FetchOptions
}

func New(opts Options) *Service {
	return &Service{
		database:       opts.Database,
		embedder:       opts.Embedder,
		translator:     opts.Translator,
		embedCache:     cache.NewLoader[[]float32](opts.EmbeddingStore),
		translateCache: cache.NewLoader[string](opts.TranslationStore),
		cfg:            opts.Config,
		logger:         opts.Logger.With().Str("component", "pipeline").Logger(),
		fetchOpts:      opts.FetchOpts,
		state:          StateIdle,
	}
}

func (s *Service) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

func (s *Service) setState(state State) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
	s.logger.Debug().Str("state", string(state)).Msg("pipeline state changed")
}

// Run executes one full cycle within the configured time budget. A second
// call while a run is active returns ErrRunInProgress immediately.
func (s *Service) Run(ctx context.Context) error {
	if !s.runMu.TryLock() {
		return ErrRunInProgress
	}
	defer s.runMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RunBudget)
	defer cancel()

	started := globaltime.UTC()
	s.logger.Info().Time("started_at", started).Msg("pipeline run started")

	if err := s.runStages(ctx, started); err != nil {
		s.setState(StateFailed)
		s.logger.Error().Err(err).Dur("elapsed", time.Since(started)).Msg("pipeline run failed")
		return err
	}

	s.setState(StateIdle)
	s.logger.Info().Dur("elapsed", time.Since(started)).Msg("pipeline run finished")
	return nil
}

func (s *Service) runStages(ctx context.Context, now time.Time) error {
	s.setState(StateIngesting)
	if err := s.ingest(ctx, now); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	// Field hashes are computed at ingestion time; this stage resolves the
	// window's entries with their validated title digests.
	s.setState(StateHashing)
	windowStart := now.Add(-s.cfg.LookbackWindow)
	entries, err := s.database.ListWindowEntries(ctx, windowStart, now, s.cfg.SourceLang)
	if err != nil {
		return fmt.Errorf("list window entries: %w", err)
	}
	s.logger.Info().Int("entries", len(entries)).Time("window_start", windowStart).Msg("lookback window loaded")

	s.setState(StateEmbedding)
	entries, vectors, err := s.embedEntries(ctx, entries)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}

	s.setState(StateClustering)
	clusters, silhouette := s.cluster(vectors)

	s.setState(StateSelecting)
	groups := selectGroups(entries, vectors, clusters)

	s.setState(StateTranslating)
	if err := s.translateRepresentatives(ctx, entries, groups); err != nil {
		return fmt.Errorf("translate: %w", err)
	}

	s.setState(StateScoring)
	draft := buildReport(groups, reportParams{
		GeneratedAt: now,
		WindowStart: windowStart,
		WindowEnd:   now,
		Eps:         s.cfg.ClusterEps,
		MinPoints:   s.cfg.ClusterMinPoints,
		Silhouette:  silhouette,
		Aggregate:   s.cfg.AggregatePolicy(),
		HalfLife:    s.cfg.ScoreHalfLife,
	})

	s.setState(StatePublishing)
	reportID, err := s.database.PublishReport(ctx, draft)
	if err != nil {
		return fmt.Errorf("publish report: %w", err)
	}
	s.logger.Info().
		Int64("report_id", reportID).
		Int("groups", len(draft.Groups)).
		Msg("report published")
	return nil
}
