package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/streamrec/hlschunker/internal"
	"github.com/streamrec/hlschunker/pkg/logging"
)

// SetupServer sets up router, middleware, server, and the recording
// pipelines, given koanf configuration.
func SetupServer(ctx context.Context, cfg *ServerConfig) (*Server, error) {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logging.SlogMiddleWare(slog.Default()))
	r.Use(middleware.Recoverer)
	r.Use(addVersionAndCORSHeaders)
	r.Use(NewPrometheusMiddleware())

	// Set a timeout value on the request context (ctx), that will signal
	// through ctx.Done() that the request has timed out and further
	// processing should be stopped.
	if cfg.TimeoutS > 0 {
		r.Use(middleware.Timeout(time.Duration(cfg.TimeoutS) * time.Second))
	}

	// Add prometheus counters
	r.Mount("/metrics", promhttp.Handler())

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	specs := ParseFeeds(cfg.Feeds, cfg.ActiveFeeds)
	if len(specs) == 0 {
		slog.Warn("no valid active feeds, will only serve chunks from local storage")
	} else if cfg.ChunkMetadataEndpoint == "" {
		slog.Warn("no chunk metadata endpoint specified, will not notify anyone of new chunks")
	} else {
		slog.Info("chunk metadata submission endpoint", "url", cfg.ChunkMetadataEndpoint)
	}

	server := Server{
		Router: r,
		Cfg:    cfg,
		feeds:  NewFeedSet(cfg, specs),
	}

	if err := server.Routes(ctx); err != nil {
		return nil, fmt.Errorf("routes: %w", err)
	}

	slog.Info("hlschunker starting", "version", internal.GetVersion(),
		"port", cfg.Port, "feeds", len(specs), "datadir", cfg.DataDir)

	return &server, nil
}

// StartFeeds launches the recording pipelines.
func (s *Server) StartFeeds(ctx context.Context) {
	s.feeds.Start(ctx, s.Cfg.RunForever)
}

// StopFeeds signals the pipelines to stop and waits for manifests to
// close.
func (s *Server) StopFeeds() {
	s.feeds.Stop()
	s.feeds.Wait()
}
