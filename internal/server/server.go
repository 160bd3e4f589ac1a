// Package server exposes the pipeline over HTTP: kick off a processing run,
// poll its progress, and read the results once it lands.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/policypulse/policy-pulse/internal/config"
	"github.com/policypulse/policy-pulse/internal/llm"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Runner drives the processing stages for one run. Satisfied by the pipeline;
// narrowed to an interface so handlers can be tested against a stub.
type Runner interface {
	RunExtract(ctx context.Context, subreddit, theme string, params map[string]string) (string, error)
	RunAnalyze(ctx context.Context, dir string, params map[string]string) error
	RunCategorize(ctx context.Context, dir string, params map[string]string) error
}

type Server struct {
	cfg    *config.Config
	runner Runner
	client llm.Client
	logger *zerolog.Logger
	state  *jobState
}

func New(cfg *config.Config, runner Runner, client llm.Client, logger *zerolog.Logger) *Server {
	return &Server{
		cfg:    cfg,
		runner: runner,
		client: client,
		logger: logger,
		state:  newJobState(),
	}
}

// Start serves the API until ctx is canceled. Background processing jobs are
// bound to ctx, not to the request that started them, so a run survives its
// initiating request and dies with the server.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.HTTPPort),
		Handler:           s.routes(ctx),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("http server shutdown failed")
		}
	}()

	s.logger.Info().Int("port", s.cfg.HTTPPort).Msg("http server listening")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}

	return nil
}

func (s *Server) routes(baseCtx context.Context) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/start-processing", s.handleStartProcessing(baseCtx))
		r.Get("/status", s.handleStatus)
		r.Get("/results", s.handleResults)
		r.Get("/quotes/{code}", s.handleQuotesByCode)
		r.Get("/download-quotes", s.handleDownloadQuotes)
		r.Get("/themes/{subreddit}", s.handleSuggestThemes)
	})

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}
