package ui

import (
	"testing"

	"github.com/cutline/cutline/internal/dispatch"
)

func TestStatusTitle(t *testing.T) {
	tests := []struct {
		stats dispatch.Stats
		want  string
	}{
		{dispatch.Stats{}, "Commands: 0"},
		{dispatch.Stats{Processed: 4}, "Commands: 4"},
		{dispatch.Stats{Processed: 4, Failed: 1}, "Commands: 4 (1 failed)"},
	}
	for _, tt := range tests {
		if got := statusTitle(tt.stats); got != tt.want {
			t.Errorf("statusTitle(%+v) = %q, want %q", tt.stats, got, tt.want)
		}
	}
}

func TestShorten(t *testing.T) {
	if got := shorten("Muted the video.", 60); got != "Muted the video." {
		t.Errorf("short string changed: %q", got)
	}
	if got := shorten("Caption added: ✅✅✅✅✅", 10); got != "Caption..." {
		t.Errorf("shorten() = %q", got)
	}
}

func TestUpdateStats_BeforeReady(t *testing.T) {
	tray := NewTray(TrayConfig{Stats: fixedStats{dispatch.Stats{Processed: 2}}})
	// Menu items do not exist until the tray is running.
	tray.UpdateStats()
	if tray.refresh != defaultRefresh {
		t.Errorf("refresh = %v, want %v", tray.refresh, defaultRefresh)
	}
}

type fixedStats struct{ s dispatch.Stats }

func (f fixedStats) Stats() dispatch.Stats { return f.s }

func TestIconEmbedded(t *testing.T) {
	if len(iconBytes) < 8 || string(iconBytes[1:4]) != "PNG" {
		t.Errorf("icon is not a PNG (%d bytes)", len(iconBytes))
	}
}
