package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	AggregateTop = "top"
	AggregateSum = "sum"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"SVERGIE_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"SVERGIE_DB_MAX_CONNS" default:"8"`

	OpenAIToken           string `envconfig:"OPENAI_TOKEN" default:""`
	OpenAIBaseURL         string `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com"`
	OpenAIEmbeddingModel  string `envconfig:"OPENAI_EMBEDDING_MODEL" default:"text-embedding-3-large"`
	OpenAICompletionModel string `envconfig:"OPENAI_COMPLETION_MODEL" default:"gpt-3.5-turbo"`

	FeedCatalogPath string `envconfig:"SVERGIE_FEED_CATALOG" default:"feeds.json"`
	SourceLang      string `envconfig:"SVERGIE_SOURCE_LANG" default:"sv"`
	TargetLang      string `envconfig:"SVERGIE_TARGET_LANG" default:"en"`

	ClusterEps       float64       `envconfig:"SVERGIE_CLUSTER_EPS" default:"0.35"`
	ClusterMinPoints int           `envconfig:"SVERGIE_CLUSTER_MIN_POINTS" default:"2"`
	LookbackWindow   time.Duration `envconfig:"SVERGIE_LOOKBACK_WINDOW" default:"24h"`
	ScoreHalfLife    time.Duration `envconfig:"SVERGIE_SCORE_HALF_LIFE" default:"6h"`
	ReportAggregate  string        `envconfig:"SVERGIE_REPORT_AGGREGATE" default:"top"`

	IngestConcurrency   int           `envconfig:"SVERGIE_INGEST_CONCURRENCY" default:"4"`
	ProviderConcurrency int           `envconfig:"SVERGIE_PROVIDER_CONCURRENCY" default:"2"`
	RetryMaxAttempts    int           `envconfig:"SVERGIE_RETRY_MAX_ATTEMPTS" default:"3"`
	RetryBaseDelay      time.Duration `envconfig:"SVERGIE_RETRY_BASE_DELAY" default:"500ms"`
	RunBudget           time.Duration `envconfig:"SVERGIE_RUN_BUDGET" default:"10m"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("SVERGIE_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("SVERGIE_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("SVERGIE_DB_MIN_CONNS (%d) cannot exceed SVERGIE_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.ClusterEps <= 0 {
		return fmt.Errorf("SVERGIE_CLUSTER_EPS must be > 0")
	}
	if c.ClusterMinPoints < 1 {
		return fmt.Errorf("SVERGIE_CLUSTER_MIN_POINTS must be >= 1")
	}
	if c.LookbackWindow <= 0 {
		return fmt.Errorf("SVERGIE_LOOKBACK_WINDOW must be > 0")
	}
	if c.ScoreHalfLife <= 0 {
		return fmt.Errorf("SVERGIE_SCORE_HALF_LIFE must be > 0")
	}
	switch strings.ToLower(strings.TrimSpace(c.ReportAggregate)) {
	case AggregateTop, AggregateSum:
	default:
		return fmt.Errorf("SVERGIE_REPORT_AGGREGATE must be %q or %q", AggregateTop, AggregateSum)
	}
	if c.IngestConcurrency < 1 {
		return fmt.Errorf("SVERGIE_INGEST_CONCURRENCY must be >= 1")
	}
	if c.ProviderConcurrency < 1 {
		return fmt.Errorf("SVERGIE_PROVIDER_CONCURRENCY must be >= 1")
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("SVERGIE_RETRY_MAX_ATTEMPTS must be >= 1")
	}
	if c.RetryBaseDelay <= 0 {
		return fmt.Errorf("SVERGIE_RETRY_BASE_DELAY must be > 0")
	}
	if c.RunBudget <= 0 {
		return fmt.Errorf("SVERGIE_RUN_BUDGET must be > 0")
	}
	return nil
}

// AggregatePolicy returns the normalized report aggregate policy name.
func (c *Config) AggregatePolicy() string {
	policy := strings.ToLower(strings.TrimSpace(c.ReportAggregate))
	if policy == "" {
		return AggregateTop
	}
	return policy
}
