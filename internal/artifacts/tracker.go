package artifacts

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cutline/cutline/internal/logging"
)

// Tracker owns the per-user artifact directories under root and their
// recorded state.
type Tracker struct {
	root   string
	store  Store
	logger *slog.Logger
}

func NewTracker(root string, store Store, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Tracker{root: root, store: store, logger: logger}
}

// Root returns the directory holding every user directory.
func (t *Tracker) Root() string {
	return t.root
}

// Dir returns the artifact directory of a user.
func (t *Tracker) Dir(userID int64) string {
	return filepath.Join(t.root, UserDirName(userID))
}

// EnsureDir creates the user's artifact directory if needed.
func (t *Tracker) EnsureDir(userID int64) (string, error) {
	dir := t.Dir(userID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	return dir, nil
}

// Path returns the primary file of an artifact kind for a user.
func (t *Tracker) Path(userID int64, kind Kind) string {
	files := kindFiles[kind]
	if len(files) == 0 {
		return ""
	}
	return filepath.Join(t.Dir(userID), files[0])
}

// Paths returns every file of an artifact kind for a user.
func (t *Tracker) Paths(userID int64, kind Kind) []string {
	files := kindFiles[kind]
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = filepath.Join(t.Dir(userID), f)
	}
	return out
}

func (t *Tracker) MarkReady(ctx context.Context, userID int64, kind Kind) error {
	return t.store.SetState(ctx, userID, kind, StateReady, "")
}

// MarkFailed records a failed run. The previous artifact, if any, stays on
// disk but is no longer reported present.
func (t *Tracker) MarkFailed(ctx context.Context, userID int64, kind Kind, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return t.store.SetState(ctx, userID, kind, StateFailed, msg)
}

func (t *Tracker) MarkAbsent(ctx context.Context, userID int64, kind Kind) error {
	return t.store.SetState(ctx, userID, kind, StateAbsent, "")
}

// Records returns the stored state of every kind, defaulting to Absent.
func (t *Tracker) Records(ctx context.Context, userID int64) (map[Kind]Record, error) {
	stored, err := t.store.ListStates(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load artifact states: %w", err)
	}
	out := make(map[Kind]Record, len(Kinds))
	for _, k := range Kinds {
		rec, ok := stored[k]
		if !ok {
			rec = Record{UserID: userID, Kind: k, State: StateAbsent}
		}
		out[k] = rec
	}
	return out, nil
}

// Snapshot reads the current flags. Nothing is cached: every call re-reads
// the state records and stats every file.
func (t *Tracker) Snapshot(ctx context.Context, userID int64) (Flags, error) {
	records, err := t.Records(ctx, userID)
	if err != nil {
		return nil, err
	}

	flags := make(Flags, len(Kinds))
	for _, k := range Kinds {
		flags[k] = records[k].State == StateReady && t.filesExist(userID, k)
	}
	return flags, nil
}

// IsReady reports whether a single kind is present.
func (t *Tracker) IsReady(ctx context.Context, userID int64, kind Kind) (bool, error) {
	flags, err := t.Snapshot(ctx, userID)
	if err != nil {
		return false, err
	}
	return flags[kind], nil
}

func (t *Tracker) filesExist(userID int64, kind Kind) bool {
	for _, p := range t.Paths(userID, kind) {
		info, err := os.Stat(p)
		if err != nil || !info.Mode().IsRegular() {
			return false
		}
	}
	return true
}

// ClearAll deletes every entry directly inside the user's directory and resets
// every kind to Absent. A failed deletion is logged and skipped; the states
// are reset regardless, so a following Snapshot reports nothing present.
func (t *Tracker) ClearAll(ctx context.Context, userID int64) (ClearReport, error) {
	var report ClearReport
	dir := t.Dir(userID)

	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		return report, fmt.Errorf("read artifact dir: %w", err)
	}

	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if err := os.Remove(path); err != nil {
			t.logger.Warn("failed to delete artifact", "user_id", userID, "name", e.Name(), "error", err)
			report.Failed = append(report.Failed, RemovalFailure{Name: e.Name(), Error: err.Error()})
			continue
		}
		report.Removed = append(report.Removed, e.Name())
	}

	if err := t.store.ResetStates(ctx, userID); err != nil {
		return report, fmt.Errorf("reset artifact states: %w", err)
	}

	t.logger.Info("artifacts cleared",
		"user_id", userID,
		"removed", len(report.Removed),
		"failed", len(report.Failed),
	)
	return report, nil
}
