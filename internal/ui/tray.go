package ui

import (
	_ "embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getlantern/systray"

	"github.com/cutline/cutline/internal/dispatch"
)

//go:embed icon.png
var iconBytes []byte

const (
	defaultRefresh = 2 * time.Second
	maxTitleLen    = 60
)

// StatsSource reports the dispatcher's counters.
type StatsSource interface {
	Stats() dispatch.Stats
}

type Tray struct {
	stats   StatsSource
	addr    string
	refresh time.Duration
	logger  *slog.Logger

	addrItem     *systray.MenuItem
	statusItem   *systray.MenuItem
	responseItem *systray.MenuItem

	mu   sync.Mutex
	done chan struct{}

	onQuit func()
}

type TrayConfig struct {
	Stats   StatsSource
	Addr    string
	Refresh time.Duration
	Logger  *slog.Logger
	OnQuit  func()
}

func NewTray(cfg TrayConfig) *Tray {
	refresh := cfg.Refresh
	if refresh <= 0 {
		refresh = defaultRefresh
	}
	return &Tray{
		stats:   cfg.Stats,
		addr:    cfg.Addr,
		refresh: refresh,
		logger:  cfg.Logger,
		done:    make(chan struct{}),
		onQuit:  cfg.OnQuit,
	}
}

// Run blocks until the tray exits.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("Cutline")
	systray.SetTooltip("Cutline video editor")

	t.addrItem = systray.AddMenuItem("API: http://"+t.addr, "Local API address")
	t.addrItem.Disable()

	t.statusItem = systray.AddMenuItem(statusTitle(dispatch.Stats{}), "Commands handled")
	t.statusItem.Disable()

	t.responseItem = systray.AddMenuItem("Last: -", "Last response")
	t.responseItem.Disable()

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit Cutline")

	go func() {
		ticker := time.NewTicker(t.refresh)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.UpdateStats()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			case <-t.done:
				return
			}
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.logger.Info("system tray exiting")
}

// UpdateStats refreshes the menu from the current dispatcher counters.
func (t *Tray) UpdateStats() {
	if t.stats == nil {
		return
	}
	s := t.stats.Stats()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.statusItem == nil {
		return
	}
	t.statusItem.SetTitle(statusTitle(s))
	if s.LastResponse != "" {
		t.responseItem.SetTitle("Last: " + shorten(s.LastResponse, maxTitleLen))
	}
}

func (t *Tray) Quit() {
	t.mu.Lock()
	select {
	case <-t.done:
	default:
		close(t.done)
	}
	t.mu.Unlock()
	systray.Quit()
}

func statusTitle(s dispatch.Stats) string {
	if s.Failed > 0 {
		return fmt.Sprintf("Commands: %d (%d failed)", s.Processed, s.Failed)
	}
	return fmt.Sprintf("Commands: %d", s.Processed)
}

func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
