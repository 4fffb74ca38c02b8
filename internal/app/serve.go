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

	"horse.fit/svergie/internal/cli"
	"horse.fit/svergie/internal/db"
	"horse.fit/svergie/internal/httpapi"
	"horse.fit/svergie/internal/pipeline"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	host := fs.String("host", "0.0.0.0", "Host interface to bind")
	port := fs.Int("port", 8080, "HTTP port")
	readTimeout := fs.Duration("read-timeout", 10*time.Second, "HTTP read timeout")
	writeTimeout := fs.Duration("write-timeout", 30*time.Second, "HTTP write timeout")
	shutdownTimeout := fs.Duration("shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")
	runInterval := fs.Duration("run-interval", 0, "Also run the pipeline on this interval (0 disables)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *port <= 0 || *port > 65535 {
		fmt.Fprintln(os.Stderr, "--port must be between 1 and 65535")
		return 2
	}

	cfg, logger, ok := loadConfigAndLogger(envLoader)
	if !ok {
		return 1
	}
	if *runInterval > 0 && strings.TrimSpace(cfg.OpenAIToken) == "" {
		fmt.Fprintln(os.Stderr, "OPENAI_TOKEN is required when --run-interval is set")
		return 2
	}

	dbCtx, dbCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dbCancel()

	pool, err := db.NewPool(dbCtx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("serve failed to connect to database")
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

	var service *pipeline.Service
	if *runInterval > 0 {
		service = buildPipeline(cfg, logger, pool)
		go runPipelineLoop(ctx, service, logger, *runInterval)
	}

	statusFunc := func() string { return string(pipeline.StateIdle) }
	if service != nil {
		statusFunc = func() string { return string(service.State()) }
	}

	srv := httpapi.NewServer(pool, logger, httpapi.Options{
		Host:            *host,
		Port:            *port,
		ReadTimeout:     *readTimeout,
		WriteTimeout:    *writeTimeout,
		ShutdownTimeout: *shutdownTimeout,
		StatusFunc:      statusFunc,
	})

	if err := srv.Start(ctx); err != nil {
		logger.Error().Err(err).Str("host", *host).Int("port", *port).Msg("server failed")
		fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
		return 1
	}

	return 0
}
