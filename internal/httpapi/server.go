// Package httpapi serves the read-only query surface over published
// reports. It never triggers pipeline work; it only reads snapshots.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"horse.fit/svergie/internal/db"
	"horse.fit/svergie/internal/globaltime"
)

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// StatusFunc reports the pipeline state for /healthz; optional.
	StatusFunc func() string
}

type Server struct {
	pool   *db.Pool
	logger zerolog.Logger
	opts   Options
}

func NewServer(pool *db.Pool, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8080
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	return &Server{
		pool:   pool,
		logger: logger,
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
			StatusFunc:      opts.StatusFunc,
		},
	}
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.buildEcho()

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("svergie api server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("svergie api server stopped")
	return nil
}

func (s *Server) buildEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	e.GET("/healthz", s.handleHealth)

	api := e.Group("/api")
	api.GET("/reports/latest", s.handleLatestReport)
	api.GET("/reports/latest/groups", s.handleLatestReportGroups)
	api.GET("/groups/:group_id", s.handleGroupMembers)

	return e
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	state := "unknown"
	if s.opts.StatusFunc != nil {
		state = s.opts.StatusFunc()
	}
	return success(c, map[string]any{
		"service":        "svergie",
		"time":           globaltime.UTC(),
		"pipeline_state": state,
	})
}

func (s *Server) handleLatestReport(c echo.Context) error {
	report, err := s.pool.LatestReport(c.Request().Context())
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return failNotFound(c, "No report published yet")
		}
		s.logger.Error().Err(err).Msg("query latest report failed")
		return internalError(c, "Failed to load latest report")
	}
	return success(c, report)
}

func (s *Server) handleLatestReportGroups(c echo.Context) error {
	ctx := c.Request().Context()

	report, err := s.pool.LatestReport(ctx)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return failNotFound(c, "No report published yet")
		}
		s.logger.Error().Err(err).Msg("query latest report failed")
		return internalError(c, "Failed to load latest report")
	}

	groups, err := s.pool.ReportGroups(ctx, report.ReportID)
	if err != nil {
		s.logger.Error().Err(err).Int64("report_id", report.ReportID).Msg("query report groups failed")
		return internalError(c, "Failed to load report groups")
	}

	return success(c, map[string]any{
		"report": report,
		"items":  groups,
	})
}

func (s *Server) handleGroupMembers(c echo.Context) error {
	groupID, err := parseID(c.Param("group_id"))
	if err != nil {
		return failValidation(c, map[string]string{"group_id": err.Error()})
	}

	members, err := s.pool.GroupMembers(c.Request().Context(), groupID)
	if err != nil {
		s.logger.Error().Err(err).Int64("group_id", groupID).Msg("query group members failed")
		return internalError(c, "Failed to load group members")
	}
	if len(members) == 0 {
		return failNotFound(c, "Group not found")
	}

	return success(c, map[string]any{
		"group_id": groupID,
		"items":    members,
	})
}

func parseID(raw string) (int64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("is required")
	}
	id, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("must be a positive integer")
	}
	return id, nil
}
