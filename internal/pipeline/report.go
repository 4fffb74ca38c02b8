package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"horse.fit/svergie/internal/clustering"
	"horse.fit/svergie/internal/db"
	"horse.fit/svergie/internal/openai"
	"horse.fit/svergie/internal/scoring"
)

// candidateGroup is one cluster after representative selection, before
// scoring and ranking.
type candidateGroup struct {
	ClusterID             int
	RepresentativeEntryID int64
	MemberEntryIDs        []int64
	MemberPublishedAts    []time.Time
	NewestPublishedAt     time.Time
}

// selectGroups turns cluster labels into candidate groups. Members keep
// ascending entry-id order; the representative is the member nearest the
// cluster centroid with deterministic tie-breaking.
func selectGroups(entries []db.WindowEntry, vectors [][]float32, labels []int) []candidateGroup {
	clusters := clustering.Groups(labels)

	groups := make([]candidateGroup, 0, len(clusters))
	for clusterID, indices := range clusters {
		if len(indices) == 0 {
			continue
		}

		members := make([]clustering.Member, len(indices))
		candidate := candidateGroup{
			ClusterID:          clusterID,
			MemberEntryIDs:     make([]int64, len(indices)),
			MemberPublishedAts: make([]time.Time, len(indices)),
		}
		for i, index := range indices {
			entry := entries[index]
			members[i] = clustering.Member{
				EntryID:     entry.EntryID,
				Href:        entry.Href,
				PublishedAt: entry.PublishedAt,
				Vector:      vectors[index],
			}
			candidate.MemberEntryIDs[i] = entry.EntryID
			candidate.MemberPublishedAts[i] = entry.PublishedAt
		}

		representative := clustering.Representative(members)
		candidate.RepresentativeEntryID = members[representative].EntryID
		candidate.NewestPublishedAt = scoring.Freshest(candidate.MemberPublishedAts)

		groups = append(groups, candidate)
	}
	return groups
}

type reportParams struct {
	GeneratedAt time.Time
	WindowStart time.Time
	WindowEnd   time.Time
	Eps         float64
	MinPoints   int
	Silhouette  *float64
	Aggregate   string
	HalfLife    time.Duration
}

// buildReport scores and ranks the candidate groups into a publishable
// draft. Groups order by descending score, ties by ascending cluster id,
// so two runs over the same window produce the same layout. The draft's
// report-level score aggregates the group scores under the configured
// policy.
func buildReport(groups []candidateGroup, params reportParams) db.ReportDraft {
	type scored struct {
		candidateGroup
		Score float64
	}

	ranked := make([]scored, len(groups))
	for i, group := range groups {
		ranked[i] = scored{
			candidateGroup: group,
			Score:          scoring.Score(len(group.MemberEntryIDs), group.NewestPublishedAt, params.GeneratedAt, params.HalfLife),
		}
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].ClusterID < ranked[j].ClusterID
	})

	draft := db.ReportDraft{
		GeneratedAt: params.GeneratedAt,
		WindowStart: params.WindowStart,
		WindowEnd:   params.WindowEnd,
		Eps:         params.Eps,
		MinPoints:   params.MinPoints,
		Silhouette:  params.Silhouette,
		Aggregate:   params.Aggregate,
		Groups:      make([]db.ReportGroupDraft, len(ranked)),
	}
	groupScores := make([]float64, len(ranked))
	for i, group := range ranked {
		draft.Groups[i] = db.ReportGroupDraft{
			RepresentativeEntryID: group.RepresentativeEntryID,
			Score:                 group.Score,
			NewestPublishedAt:     group.NewestPublishedAt,
			MemberEntryIDs:        group.MemberEntryIDs,
		}
		groupScores[i] = group.Score
	}
	draft.Score = scoring.Aggregate(params.Aggregate, groupScores)
	return draft
}

// translateRepresentatives resolves the target-language headline for every
// group representative through the translation cache. A representative
// whose provider call keeps failing transiently is published untranslated
// and picked up again on the next run; only fatal errors and cancellation
// abort the stage.
func (s *Service) translateRepresentatives(ctx context.Context, entries []db.WindowEntry, groups []candidateGroup) error {
	byEntryID := make(map[int64]db.WindowEntry, len(entries))
	for _, entry := range entries {
		byEntryID[entry.EntryID] = entry
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.cfg.ProviderConcurrency)

	for _, candidate := range groups {
		entry, ok := byEntryID[candidate.RepresentativeEntryID]
		if !ok {
			return fmt.Errorf("representative entry %d missing from window", candidate.RepresentativeEntryID)
		}

		group.Go(func() error {
			_, _, err := s.translateCache.Load(groupCtx, entry.TitleHash, func(ctx context.Context) (string, error) {
				return s.translator.Translate(ctx, entry.Title)
			})
			if err != nil {
				if groupCtx.Err() == nil && openai.IsRetryable(err) {
					s.logger.Warn().Err(err).Int64("entry_id", entry.EntryID).Msg("translation exhausted retries, publishing untranslated")
					return nil
				}
				return fmt.Errorf("translate entry %d: %w", entry.EntryID, err)
			}
			return nil
		})
	}

	return group.Wait()
}
