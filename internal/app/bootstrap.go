package app

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"horse.fit/svergie/internal/cli"
	"horse.fit/svergie/internal/config"
	"horse.fit/svergie/internal/db"
	"horse.fit/svergie/internal/logging"
	"horse.fit/svergie/internal/openai"
	"horse.fit/svergie/internal/pipeline"
)

// loadConfigAndLogger is the shared command bootstrap after flag parsing.
func loadConfigAndLogger(envLoader *cli.EnvLoader) (*config.Config, zerolog.Logger, bool) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, zerolog.Nop(), false
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return nil, zerolog.Nop(), false
	}

	return cfg, logger, true
}

func buildPipeline(cfg *config.Config, logger zerolog.Logger, pool *db.Pool) *pipeline.Service {
	client := openai.NewClient(openai.Options{
		BaseURL:         cfg.OpenAIBaseURL,
		Token:           cfg.OpenAIToken,
		EmbeddingModel:  cfg.OpenAIEmbeddingModel,
		CompletionModel: cfg.OpenAICompletionModel,
		MaxAttempts:     cfg.RetryMaxAttempts,
		BaseDelay:       cfg.RetryBaseDelay,
	})

	return pipeline.New(pipeline.Options{
		Database:         pool,
		Embedder:         client,
		Translator:       client,
		EmbeddingStore:   db.NewEmbeddingStore(pool, cfg.OpenAIEmbeddingModel),
		TranslationStore: db.NewTranslationStore(pool, cfg.SourceLang, cfg.TargetLang, cfg.OpenAICompletionModel),
		Config:           cfg,
		Logger:           logger,
	})
}
