// Package watcher keeps recorded artifact states in line with the files on
// disk when something outside the service deletes them.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/cutline/cutline/internal/artifacts"
)

type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
)

func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	default:
		return "delete"
	}
}

// StateMarker records artifact state changes seen on disk.
type StateMarker interface {
	MarkAbsent(ctx context.Context, userID int64, kind artifacts.Kind) error
	MarkReady(ctx context.Context, userID int64, kind artifacts.Kind) error
}

// ArtifactWatcher watches the previews root and every user_<id> directory in
// it. Removing or renaming away a known artifact file marks its kind Absent.
type ArtifactWatcher struct {
	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	root     string
	marker   StateMarker
	logger   *slog.Logger
	callback func(userID int64, kind artifacts.Kind, event EventType)
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
}

func New(root string, marker StateMarker, logger *slog.Logger) (*ArtifactWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &ArtifactWatcher{
		fsw:    fsw,
		root:   root,
		marker: marker,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// OnChange registers a callback run after each handled artifact event.
func (w *ArtifactWatcher) OnChange(callback func(userID int64, kind artifacts.Kind, event EventType)) {
	w.mu.Lock()
	w.callback = callback
	w.mu.Unlock()
}

// Start begins watching. It does not block.
func (w *ArtifactWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := os.MkdirAll(w.root, 0755); err != nil {
		return err
	}
	if err := w.fsw.Add(w.root); err != nil {
		return err
	}

	entries, err := os.ReadDir(w.root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if _, ok := parseUserDir(e.Name()); ok && e.IsDir() {
			w.addUserDir(filepath.Join(w.root, e.Name()))
		}
	}

	w.logger.Info("artifact watcher started", "root", w.root)
	go w.run(ctx)
	return nil
}

// Stop ends the event loop and releases the underlying watcher.
func (w *ArtifactWatcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.fsw.Close()
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	return w.fsw.Close()
}

func (w *ArtifactWatcher) run(ctx context.Context) {
	defer close(w.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("artifact watcher error", "error", err)
		}
	}
}

func (w *ArtifactWatcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	dir, name := filepath.Split(event.Name)
	dir = filepath.Clean(dir)

	// A new user directory under the root.
	if dir == filepath.Clean(w.root) {
		if _, ok := parseUserDir(name); ok && event.Op&fsnotify.Create != 0 {
			w.addUserDir(event.Name)
		}
		return
	}

	if filepath.Dir(dir) != filepath.Clean(w.root) {
		return
	}
	userID, ok := parseUserDir(filepath.Base(dir))
	if !ok {
		return
	}
	kind, ok := artifacts.KindForFile(name)
	if !ok {
		return
	}

	var typ EventType
	switch {
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		if !w.markRemoved(ctx, userID, kind, event.Name) {
			return
		}
		typ = EventDelete
		w.logger.Info("artifact removed outside the service", "user_id", userID, "kind", kind, "file", name)
	case event.Op&fsnotify.Create != 0:
		typ = EventCreate
	case event.Op&fsnotify.Write != 0:
		typ = EventModify
	default:
		return
	}

	w.mu.Lock()
	cb := w.callback
	w.mu.Unlock()
	if cb != nil {
		cb(userID, kind, typ)
	}
}

// markRemoved marks kind Absent when path is gone and reports whether it did.
// A rerun renames its output into place and then marks it Ready, possibly
// between the first check and the state write, so existence is checked again
// afterwards and a file found there puts Ready back.
func (w *ArtifactWatcher) markRemoved(ctx context.Context, userID int64, kind artifacts.Kind, path string) bool {
	if fileExists(path) {
		return false
	}
	if err := w.marker.MarkAbsent(ctx, userID, kind); err != nil {
		w.logger.Error("failed to mark artifact absent", "user_id", userID, "kind", kind, "error", err)
		return false
	}
	if fileExists(path) {
		if err := w.marker.MarkReady(ctx, userID, kind); err != nil {
			w.logger.Error("failed to restore artifact state", "user_id", userID, "kind", kind, "error", err)
		}
		return false
	}
	return true
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (w *ArtifactWatcher) addUserDir(path string) {
	if err := w.fsw.Add(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		w.logger.Warn("failed to watch user directory", "path", path, "error", err)
	}
}

func parseUserDir(name string) (int64, bool) {
	rest, ok := strings.CutPrefix(name, "user_")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
