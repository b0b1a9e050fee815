package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cutline/cutline/internal/api"
	"github.com/cutline/cutline/internal/artifacts"
	"github.com/cutline/cutline/internal/catalog"
	"github.com/cutline/cutline/internal/media"
	"github.com/cutline/cutline/internal/playback"
	"github.com/cutline/cutline/internal/ui"
	"github.com/cutline/cutline/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API (and the system tray unless headless)",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	startTime := time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	logger := a.logger
	logger.Info("starting cutline", "version", Version, "data_dir", a.cfg.DataDir())

	doctor := media.NewCachedDoctor(a.engine, logger)
	probeCtx, probeCancel := context.WithTimeout(ctx, 30*time.Second)
	if caps, err := doctor.Refresh(probeCtx); err != nil {
		logger.Warn("initial tool probe failed", "error", err)
	} else {
		logger.Info("media capabilities detected",
			"can_edit", caps.CanEdit,
			"can_narrate", caps.CanNarrate,
		)
	}
	probeCancel()

	if a.cfg.WatchArtifacts() {
		w, err := watcher.New(a.cfg.PreviewsDir(), a.tracker, logger)
		if err != nil {
			logger.Warn("artifact watcher unavailable", "error", err)
		} else {
			w.OnChange(func(userID int64, kind artifacts.Kind, event watcher.EventType) {
				logger.Debug("artifact changed on disk", "user_id", userID, "kind", kind, "event", event.String())
			})
			if err := w.Start(ctx); err != nil {
				logger.Warn("failed to start artifact watcher", "error", err)
			} else {
				defer w.Stop()
			}
		}
	}

	apiServer := api.NewServer(api.ServerConfig{
		Port:           a.cfg.Port(),
		Catalog:        a.catalog,
		Dispatcher:     a.dispatcher,
		History:        a.history,
		Flash:          catalog.NewFlashStore(),
		PlaybackServer: playback.NewServer(a.tracker, logger),
		Doctor:         doctor,
		MaxUploadBytes: a.cfg.MaxUploadBytes(),
		Version:        Version,
		Logger:         logger,
		StartTime:      startTime,
	})

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║                    CUTLINE v%-29s ║\n", Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:  http://%-39s ║\n", apiServer.Addr())
	fmt.Printf("║  Data dir: %-46s ║\n", a.cfg.DataDir())
	fmt.Println("║  Create a user with: cutline adduser NAME                 ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	quitCh := make(chan struct{})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- apiServer.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var tray *ui.Tray
	if a.cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray = ui.NewTray(ui.TrayConfig{
			Stats:  a.dispatcher,
			Addr:   apiServer.Addr(),
			Logger: logger,
			OnQuit: func() {
				select {
				case sigCh <- syscall.SIGTERM:
				default:
				}
			},
		})
		go tray.Run()
	}

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
		case err := <-serverErr:
			if err != nil {
				logger.Error("HTTP server error", "error", err)
			}
		}
		close(quitCh)
	}()

	<-quitCh

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}
	if tray != nil {
		tray.Quit()
	}

	logger.Info("shutdown complete")
	return nil
}
