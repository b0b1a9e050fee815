package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cutline/cutline/internal/catalog"
	"github.com/cutline/cutline/internal/dispatch"
	"github.com/cutline/cutline/internal/history"
	"github.com/cutline/cutline/internal/media"
	"github.com/cutline/cutline/internal/playback"
)

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port           int
	Catalog        catalog.CatalogService
	Dispatcher     *dispatch.Dispatcher
	History        history.Log
	Flash          *catalog.FlashStore
	PlaybackServer playback.PlaybackService
	Doctor         *media.CachedDoctor
	MaxUploadBytes int64
	Version        string
	Logger         *slog.Logger
	StartTime      time.Time
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler: router,
			// Uploads and edits can take minutes; only headers are bounded.
			ReadHeaderTimeout: 15 * time.Second,
			WriteTimeout:      0,
			IdleTimeout:       60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
