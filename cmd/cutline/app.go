package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/cutline/cutline/internal/artifacts"
	"github.com/cutline/cutline/internal/catalog"
	"github.com/cutline/cutline/internal/cloud"
	"github.com/cutline/cutline/internal/config"
	"github.com/cutline/cutline/internal/db"
	"github.com/cutline/cutline/internal/dispatch"
	"github.com/cutline/cutline/internal/history"
	"github.com/cutline/cutline/internal/logging"
	"github.com/cutline/cutline/internal/media"
)

// app holds the components shared by every subcommand.
type app struct {
	cfg        *config.EnvConfig
	logger     *slog.Logger
	db         *db.DB
	repo       *catalog.SQLiteRepository
	catalog    *catalog.Service
	history    history.Log
	tracker    *artifacts.Tracker
	engine     *media.FFmpegEngine
	mirror     cloud.Mirror
	dispatcher *dispatch.Dispatcher
}

// openApp loads configuration and opens storage. withEngine additionally
// resolves the media tools and builds the dispatcher.
func openApp(ctx context.Context, withEngine bool) (*app, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	for _, dir := range []string{cfg.DataDir(), cfg.PreviewsDir(), cfg.UploadsDir(), cfg.AudioDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	logger := logging.NewLogger(cfg.LogLevel())

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, db: database}
	a.repo = catalog.NewRepository(database.Conn())
	a.catalog = catalog.NewService(a.repo, catalog.ServiceConfig{
		UploadsDir:     cfg.UploadsDir(),
		AudioDir:       cfg.AudioDir(),
		MaxUploadBytes: cfg.MaxUploadBytes(),
		SharedMusic:    cfg.SharedMusic(),
	}, logger)
	a.tracker = artifacts.NewTracker(cfg.PreviewsDir(), artifacts.NewSQLiteStore(database.Conn()), logger)

	switch cfg.HistoryBackend() {
	case config.HistoryBackendPostgres:
		pg, err := history.NewPostgresLog(ctx, cfg.PostgresDSN())
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open postgres history: %w", err)
		}
		a.history = pg
		logger.Info("command history stored in postgres")
	default:
		a.history = history.NewSQLiteLog(database.Conn())
	}

	if !withEngine {
		return a, nil
	}

	engine, err := a.newEngine()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.engine = engine

	a.mirror = a.newMirror(ctx)

	a.dispatcher = dispatch.New(dispatch.Config{
		Engine:  engine,
		Tracker: a.tracker,
		History: a.history,
		Sources: a.catalog,
		Music:   a.catalog,
		Mirror:  a.mirror,
		Logger:  logger,
	})
	return a, nil
}

func (a *app) newEngine() (*media.FFmpegEngine, error) {
	engineCfg := media.DefaultConfig(a.logger)
	engineCfg.FFmpegPath = a.cfg.FFmpegPath()
	engineCfg.FFprobePath = a.cfg.FFprobePath()
	engineCfg.EspeakPath = a.cfg.EspeakPath()
	engineCfg.FontFile = a.cfg.FontFile()
	engineCfg.Timeout = a.cfg.EngineTimeout()
	engineCfg.DebugPaths = a.cfg.LogLevel() == "debug"

	engine, err := media.NewFFmpegEngine(engineCfg)
	if err != nil {
		return nil, fmt.Errorf("media engine unavailable: %w", err)
	}
	return engine, nil
}

// newMirror falls back to the logging stub when no bucket is configured or
// the S3 client cannot be built.
func (a *app) newMirror(ctx context.Context) cloud.Mirror {
	if !a.cfg.MirrorEnabled() {
		return cloud.NewStubMirror(a.logger)
	}
	m, err := cloud.NewS3Mirror(ctx, cloud.S3Config{
		Bucket:   a.cfg.MirrorBucket(),
		Region:   a.cfg.MirrorRegion(),
		Endpoint: a.cfg.MirrorEndpoint(),
		Prefix:   a.cfg.MirrorPrefix(),
	}, a.logger)
	if err != nil {
		a.logger.Warn("artifact mirror disabled", "error", err)
		return cloud.NewStubMirror(a.logger)
	}
	a.logger.Info("artifact mirror enabled", "bucket", a.cfg.MirrorBucket(), "prefix", a.cfg.MirrorPrefix())
	return m
}

func (a *app) Close() {
	if a.history != nil {
		a.history.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
