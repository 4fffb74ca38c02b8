package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"horse.fit/svergie/internal/clustering"
	"horse.fit/svergie/internal/db"
	"horse.fit/svergie/internal/openai"
)

// embedEntries resolves one vector per window entry through the
// content-addressed cache. An entry whose provider call keeps failing
// transiently is dropped from this cycle and retried on the next run, so
// one rate-limited headline cannot poison the snapshot; fatal errors and
// cancellation abort the stage. Only entries with a resolved vector are
// returned, in their original order.
func (s *Service) embedEntries(ctx context.Context, entries []db.WindowEntry) ([]db.WindowEntry, [][]float32, error) {
	vectors := make([][]float32, len(entries))
	skipped := make([]bool, len(entries))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.cfg.ProviderConcurrency)

	for i, entry := range entries {
		group.Go(func() error {
			vector, cached, err := s.embedCache.Load(groupCtx, entry.TitleHash, func(ctx context.Context) ([]float32, error) {
				return s.embedder.Embed(ctx, entry.Title)
			})
			if err != nil {
				if groupCtx.Err() == nil && openai.IsRetryable(err) {
					s.logger.Warn().Err(err).Int64("entry_id", entry.EntryID).Msg("embedding exhausted retries, skipping entry this cycle")
					skipped[i] = true
					return nil
				}
				return fmt.Errorf("embed entry %d: %w", entry.EntryID, err)
			}
			if !cached {
				s.logger.Debug().Int64("entry_id", entry.EntryID).Msg("embedding computed")
			}
			vectors[i] = vector
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, nil, err
	}

	resolved := make([]db.WindowEntry, 0, len(entries))
	resolvedVectors := make([][]float32, 0, len(entries))
	dropped := 0
	for i := range entries {
		if skipped[i] {
			dropped++
			continue
		}
		resolved = append(resolved, entries[i])
		resolvedVectors = append(resolvedVectors, vectors[i])
	}
	if dropped > 0 {
		s.logger.Warn().Int("dropped", dropped).Msg("entries without embeddings excluded from clustering")
	}
	return resolved, resolvedVectors, nil
}

// cluster labels the vectors and computes the snapshot's silhouette score.
// The score is a quality metric recorded with the report; it never feeds
// back into the eps parameter.
func (s *Service) cluster(vectors [][]float32) ([]int, *float64) {
	labels := clustering.Cluster(vectors, s.cfg.ClusterEps, s.cfg.ClusterMinPoints)

	populated := 0
	for _, group := range clustering.Groups(labels) {
		if len(group) > 0 {
			populated++
		}
	}

	var silhouette *float64
	if populated >= 2 {
		score := clustering.Silhouette(vectors, labels)
		silhouette = &score
	}

	s.logger.Info().
		Int("points", len(vectors)).
		Int("clusters", populated).
		Msg("clustering finished")
	return labels, silhouette
}
