package db

import (
	"context"
	"fmt"
	"time"
)

// ReportGroupDraft is one ranked cluster about to be published.
type ReportGroupDraft struct {
	RepresentativeEntryID int64
	Score                 float64
	NewestPublishedAt     time.Time
	MemberEntryIDs        []int64
}

// ReportDraft is a complete snapshot about to be published. Score is the
// report-level aggregate of the group scores under the named policy.
type ReportDraft struct {
	GeneratedAt time.Time
	WindowStart time.Time
	WindowEnd   time.Time
	Eps         float64
	MinPoints   int
	Silhouette  *float64
	Score       float64
	Aggregate   string
	Groups      []ReportGroupDraft
}

// PublishReport writes the report header, its groups and their members in a
// single transaction. Readers either see the whole snapshot or none of it.
// Group and member positions follow the slice order of the draft.
func (p *Pool) PublishReport(ctx context.Context, draft ReportDraft) (int64, error) {
	tx, err := p.BeginTx(ctx, TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin report transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const insertReport = `
		INSERT INTO news.reports (generated_at, window_start, window_end, eps, min_points, silhouette, score, aggregate, group_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING report_id`

	var reportID int64
	err = tx.QueryRow(ctx, insertReport,
		draft.GeneratedAt.UTC(),
		draft.WindowStart.UTC(),
		draft.WindowEnd.UTC(),
		draft.Eps,
		draft.MinPoints,
		draft.Silhouette,
		draft.Score,
		draft.Aggregate,
		len(draft.Groups),
	).Scan(&reportID)
	if err != nil {
		return 0, fmt.Errorf("insert report: %w", err)
	}

	const insertGroup = `
		INSERT INTO news.report_groups (report_id, position, representative_entry_id, score, member_count, newest_published_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING group_id`

	const insertMember = `
		INSERT INTO news.report_group_members (group_id, entry_id, position)
		VALUES ($1, $2, $3)`

	for position, group := range draft.Groups {
		var groupID int64
		err = tx.QueryRow(ctx, insertGroup,
			reportID,
			position,
			group.RepresentativeEntryID,
			group.Score,
			len(group.MemberEntryIDs),
			group.NewestPublishedAt.UTC(),
		).Scan(&groupID)
		if err != nil {
			return 0, fmt.Errorf("insert report group at position %d: %w", position, err)
		}

		for memberPosition, entryID := range group.MemberEntryIDs {
			if _, err := tx.Exec(ctx, insertMember, groupID, entryID, memberPosition); err != nil {
				return 0, fmt.Errorf("insert member %d of group %d: %w", entryID, groupID, err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit report: %w", err)
	}
	return reportID, nil
}

// ReportSummary is the header of a published report.
type ReportSummary struct {
	ReportID    int64     `json:"report_id"`
	ReportUUID  string    `json:"report_uuid"`
	GeneratedAt time.Time `json:"generated_at"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Eps         float64   `json:"eps"`
	MinPoints   int       `json:"min_points"`
	Silhouette  *float64  `json:"silhouette,omitempty"`
	Score       float64   `json:"score"`
	Aggregate   string    `json:"aggregate"`
	GroupCount  int       `json:"group_count"`
}

// LatestReport returns the most recently generated report, or ErrNoRows
// when nothing has been published yet.
func (p *Pool) LatestReport(ctx context.Context) (*ReportSummary, error) {
	const query = `
		SELECT report_id, report_uuid, generated_at, window_start, window_end, eps, min_points, silhouette, score, aggregate, group_count
		FROM news.reports
		ORDER BY generated_at DESC, report_id DESC
		LIMIT 1`

	var summary ReportSummary
	err := p.QueryRow(ctx, query).Scan(
		&summary.ReportID,
		&summary.ReportUUID,
		&summary.GeneratedAt,
		&summary.WindowStart,
		&summary.WindowEnd,
		&summary.Eps,
		&summary.MinPoints,
		&summary.Silhouette,
		&summary.Score,
		&summary.Aggregate,
		&summary.GroupCount,
	)
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

// GroupView is one report group joined with its representative headline and
// the cached translation of that headline, when one exists.
type GroupView struct {
	GroupID               int64     `json:"group_id"`
	Position              int       `json:"position"`
	Score                 float64   `json:"score"`
	MemberCount           int       `json:"member_count"`
	NewestPublishedAt     time.Time `json:"newest_published_at"`
	RepresentativeEntryID int64     `json:"representative_entry_id"`
	Href                  string    `json:"href"`
	Headline              string    `json:"headline"`
	TranslatedHeadline    *string   `json:"translated_headline,omitempty"`
}

func (p *Pool) ReportGroups(ctx context.Context, reportID int64) ([]GroupView, error) {
	const query = `
		SELECT g.group_id, g.position, g.score, g.member_count, g.newest_published_at,
		       g.representative_entry_id, e.href, f.content, t.content
		FROM news.report_groups g
		JOIN news.entries e ON e.entry_id = g.representative_entry_id
		JOIN news.fields f ON f.entry_id = e.entry_id AND f.name = 'title'
		LEFT JOIN news.translations t ON t.content_hash = f.content_hash
		WHERE g.report_id = $1
		ORDER BY g.position ASC`

	rows, err := p.Query(ctx, query, reportID)
	if err != nil {
		return nil, fmt.Errorf("list report groups: %w", err)
	}
	defer rows.Close()

	var groups []GroupView
	for rows.Next() {
		var group GroupView
		if err := rows.Scan(
			&group.GroupID,
			&group.Position,
			&group.Score,
			&group.MemberCount,
			&group.NewestPublishedAt,
			&group.RepresentativeEntryID,
			&group.Href,
			&group.Headline,
			&group.TranslatedHeadline,
		); err != nil {
			return nil, fmt.Errorf("scan report group: %w", err)
		}
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate report groups: %w", err)
	}
	return groups, nil
}

// MemberView is one entry of a report group, in stored order.
type MemberView struct {
	EntryID     int64     `json:"entry_id"`
	Position    int       `json:"position"`
	Href        string    `json:"href"`
	PublishedAt time.Time `json:"published_at"`
	Headline    string    `json:"headline"`
}

func (p *Pool) GroupMembers(ctx context.Context, groupID int64) ([]MemberView, error) {
	const query = `
		SELECT m.entry_id, m.position, e.href, e.published_at, f.content
		FROM news.report_group_members m
		JOIN news.entries e ON e.entry_id = m.entry_id
		JOIN news.fields f ON f.entry_id = m.entry_id AND f.name = 'title'
		WHERE m.group_id = $1
		ORDER BY m.position ASC`

	rows, err := p.Query(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}
	defer rows.Close()

	var members []MemberView
	for rows.Next() {
		var member MemberView
		if err := rows.Scan(&member.EntryID, &member.Position, &member.Href, &member.PublishedAt, &member.Headline); err != nil {
			return nil, fmt.Errorf("scan group member: %w", err)
		}
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group members: %w", err)
	}
	return members, nil
}
