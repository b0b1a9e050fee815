package media

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const defaultCacheTTL = 5 * time.Minute

// ToolInfo reports one external tool.
type ToolInfo struct {
	Available bool   `json:"available"`
	Path      string `json:"path,omitempty"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Capabilities summarises which editing operations the host can run.
type Capabilities struct {
	FFmpeg  ToolInfo `json:"ffmpeg"`
	FFprobe ToolInfo `json:"ffprobe"`
	Espeak  ToolInfo `json:"espeak"`

	CanEdit    bool      `json:"can_edit"`
	CanNarrate bool      `json:"can_narrate"`
	ProbedAt   time.Time `json:"probed_at"`
}

// ToolProber reports installed tool versions.
type ToolProber interface {
	ProbeTools(ctx context.Context) (*Capabilities, error)
}

// ProbeTools runs each tool's version command.
func (e *FFmpegEngine) ProbeTools(ctx context.Context) (*Capabilities, error) {
	caps := &Capabilities{
		FFmpeg:  e.toolInfo(ctx, e.ffmpeg, "-version"),
		FFprobe: e.toolInfo(ctx, e.ffprobe, "-version"),
	}
	if e.espeak != "" {
		caps.Espeak = e.toolInfo(ctx, e.espeak, "--version")
	} else {
		caps.Espeak = ToolInfo{Error: "not installed"}
	}

	caps.CanEdit = caps.FFmpeg.Available && caps.FFprobe.Available
	caps.CanNarrate = caps.CanEdit && caps.Espeak.Available
	caps.ProbedAt = time.Now()

	e.cfg.Logger.Info("media doctor probe complete",
		"can_edit", caps.CanEdit,
		"can_narrate", caps.CanNarrate,
	)
	return caps, nil
}

func (e *FFmpegEngine) toolInfo(ctx context.Context, bin, versionFlag string) ToolInfo {
	var stdout bytes.Buffer
	result := e.run(ctx, StageProbe, bin, &stdout, versionFlag)
	if !result.IsSuccess() {
		return ToolInfo{Path: bin, Error: truncate(strings.TrimSpace(result.StderrTail), 200)}
	}
	return ToolInfo{Available: true, Path: bin, Version: firstLine(stdout.String())}
}

func firstLine(s string) string {
	sc := bufio.NewScanner(strings.NewReader(s))
	if sc.Scan() {
		return strings.TrimSpace(sc.Text())
	}
	return ""
}

// CachedDoctor caches tool probes with a TTL so status requests do not spawn
// subprocesses every time.
type CachedDoctor struct {
	prober ToolProber
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

// NewCachedDoctor creates a caching wrapper around tool probes.
func NewCachedDoctor(prober ToolProber, logger *slog.Logger) *CachedDoctor {
	return &CachedDoctor{
		prober: prober,
		ttl:    defaultCacheTTL,
		logger: logger,
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

func (d *CachedDoctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh forces a new probe regardless of cache freshness.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.prober.ProbeTools(ctx)
	if err != nil {
		d.logger.Warn("media doctor probe failed", "error", err)
		// Return stale cache if available
		if d.cached != nil {
			d.logger.Info("returning stale capabilities cache")
			return d.cached, nil
		}
		return nil, err
	}

	d.cached = caps
	return caps, nil
}

// Invalidate clears the cached capabilities.
func (d *CachedDoctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}
