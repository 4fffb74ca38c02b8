package db

import (
	"encoding/json"
	"time"
)

// Feed maps news.feeds.
type Feed struct {
	FeedID    int64     `gorm:"column:feed_id;primaryKey;autoIncrement"`
	FeedUUID  string    `gorm:"column:feed_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	Slug      string    `gorm:"column:slug;type:text;not null;unique"`
	Title     string    `gorm:"column:title;type:text;not null"`
	Href      string    `gorm:"column:href;type:text;not null;unique"`
	Variant   string    `gorm:"column:variant;type:text;not null;default:rss"`
	Enabled   bool      `gorm:"column:enabled;type:boolean;not null;default:true"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Feed) TableName() string { return "news.feeds" }

// Entry maps news.entries. Href carries the unique constraint that makes
// repeated crawls of the same item idempotent.
type Entry struct {
	EntryID     int64     `gorm:"column:entry_id;primaryKey;autoIncrement"`
	EntryUUID   string    `gorm:"column:entry_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	FeedID      int64     `gorm:"column:feed_id;type:bigint;not null"`
	Href        string    `gorm:"column:href;type:text;not null;unique"`
	PublishedAt time.Time `gorm:"column:published_at;type:timestamptz;not null"`
	LangCode    *string   `gorm:"column:lang_code;type:text"`
	CreatedAt   time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (Entry) TableName() string { return "news.entries" }

// Field maps news.fields: one named textual facet of an entry, keyed by the
// content hash of its normalized text.
type Field struct {
	FieldID     int64     `gorm:"column:field_id;primaryKey;autoIncrement"`
	FieldUUID   string    `gorm:"column:field_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	EntryID     int64     `gorm:"column:entry_id;type:bigint;not null;uniqueIndex:uq_fields_entry_name_lang"`
	Name        string    `gorm:"column:name;type:text;not null;uniqueIndex:uq_fields_entry_name_lang"`
	LangCode    string    `gorm:"column:lang_code;type:text;not null;uniqueIndex:uq_fields_entry_name_lang"`
	ContentHash []byte    `gorm:"column:content_hash;type:bytea;not null"`
	Content     string    `gorm:"column:content;type:text;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (Field) TableName() string { return "news.fields" }

// Embedding maps news.embeddings: the provider result for one content hash.
type Embedding struct {
	EmbeddingID int64           `gorm:"column:embedding_id;primaryKey;autoIncrement"`
	ContentHash []byte          `gorm:"column:content_hash;type:bytea;not null;unique"`
	ModelName   string          `gorm:"column:model_name;type:text;not null"`
	Vector      json.RawMessage `gorm:"column:vector;type:jsonb;not null"`
	CreatedAt   time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (Embedding) TableName() string { return "news.embeddings" }

// Translation maps news.translations, keyed by the hash of the source text.
type Translation struct {
	TranslationID int64     `gorm:"column:translation_id;primaryKey;autoIncrement"`
	ContentHash   []byte    `gorm:"column:content_hash;type:bytea;not null;unique"`
	SourceLang    string    `gorm:"column:source_lang;type:text;not null"`
	TargetLang    string    `gorm:"column:target_lang;type:text;not null"`
	Content       string    `gorm:"column:content;type:text;not null"`
	ModelName     string    `gorm:"column:model_name;type:text;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (Translation) TableName() string { return "news.translations" }

// Report maps news.reports: one published clustering snapshot.
type Report struct {
	ReportID    int64     `gorm:"column:report_id;primaryKey;autoIncrement"`
	ReportUUID  string    `gorm:"column:report_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	GeneratedAt time.Time `gorm:"column:generated_at;type:timestamptz;not null"`
	WindowStart time.Time `gorm:"column:window_start;type:timestamptz;not null"`
	WindowEnd   time.Time `gorm:"column:window_end;type:timestamptz;not null"`
	Eps         float64   `gorm:"column:eps;type:double precision;not null"`
	MinPoints   int       `gorm:"column:min_points;type:integer;not null"`
	Silhouette  *float64  `gorm:"column:silhouette;type:double precision"`
	Score       float64   `gorm:"column:score;type:double precision;not null;default:0"`
	Aggregate   string    `gorm:"column:aggregate;type:text;not null;default:top"`
	GroupCount  int       `gorm:"column:group_count;type:integer;not null;default:0"`
	CreatedAt   time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (Report) TableName() string { return "news.reports" }

// ReportGroup maps news.report_groups: one semantic cluster inside a report,
// stored in rank order.
type ReportGroup struct {
	GroupID               int64     `gorm:"column:group_id;primaryKey;autoIncrement"`
	ReportID              int64     `gorm:"column:report_id;type:bigint;not null"`
	Position              int       `gorm:"column:position;type:integer;not null"`
	RepresentativeEntryID int64     `gorm:"column:representative_entry_id;type:bigint;not null"`
	Score                 float64   `gorm:"column:score;type:double precision;not null"`
	MemberCount           int       `gorm:"column:member_count;type:integer;not null"`
	NewestPublishedAt     time.Time `gorm:"column:newest_published_at;type:timestamptz;not null"`
}

func (ReportGroup) TableName() string { return "news.report_groups" }

// ReportGroupMember maps news.report_group_members.
type ReportGroupMember struct {
	GroupID  int64 `gorm:"column:group_id;type:bigint;primaryKey"`
	EntryID  int64 `gorm:"column:entry_id;type:bigint;primaryKey"`
	Position int   `gorm:"column:position;type:integer;not null"`
}

func (ReportGroupMember) TableName() string { return "news.report_group_members" }

func autoMigrateModels() []any {
	return []any{
		&Feed{},
		&Entry{},
		&Field{},
		&Embedding{},
		&Translation{},
		&Report{},
		&ReportGroup{},
		&ReportGroupMember{},
	}
}
