package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/svergie/internal/cli"
	"horse.fit/svergie/internal/db"
	"horse.fit/svergie/internal/pipeline"
)

func runPipeline(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	interval := fs.Duration("interval", 0, "Rerun the pipeline on this interval (0 runs once and exits)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, logger, ok := loadConfigAndLogger(envLoader)
	if !ok {
		return 1
	}
	if strings.TrimSpace(cfg.OpenAIToken) == "" {
		fmt.Fprintln(os.Stderr, "OPENAI_TOKEN is required to run the pipeline")
		return 2
	}

	dbCtx, dbCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dbCancel()

	pool, err := db.NewPool(dbCtx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("run failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		cancel()
	}()

	service := buildPipeline(cfg, logger, pool)

	if *interval <= 0 {
		if err := service.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("pipeline run failed")
			fmt.Fprintf(os.Stderr, "Pipeline run failed: %v\n", err)
			return 1
		}
		return 0
	}

	runPipelineLoop(ctx, service, logger, *interval)
	return 0
}

// runPipelineLoop triggers a run immediately and then on every tick. A tick
// that arrives while the previous run is still going is skipped; failed
// runs are logged and the loop keeps going until the context ends.
func runPipelineLoop(ctx context.Context, service *pipeline.Service, logger zerolog.Logger, interval time.Duration) {
	runOnce := func() {
		switch err := service.Run(ctx); {
		case err == nil:
		case errors.Is(err, pipeline.ErrRunInProgress):
			logger.Warn().Msg("previous pipeline run still in progress, skipping this tick")
		case errors.Is(err, context.Canceled):
		default:
			logger.Error().Err(err).Msg("pipeline run failed, will retry on next tick")
		}
	}

	logger.Info().Dur("interval", interval).Msg("pipeline scheduler started")
	runOnce()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("pipeline scheduler stopped")
			return
		case <-ticker.C:
			runOnce()
		}
	}
}
