// Package cloud mirrors finished artifacts to remote object storage.
package cloud

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/cutline/cutline/internal/artifacts"
)

// Mirror receives artifacts after a successful edit and drops them when the
// user clears their edits. Callers treat every error as non-fatal.
type Mirror interface {
	Publish(ctx context.Context, userID int64, kind artifacts.Kind, paths []string) error
	Clear(ctx context.Context, userID int64) error
}

// UploadError is a failed object write.
type UploadError struct {
	Key        string
	StatusCode int
	Err        error
}

func (e *UploadError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("mirror upload %s failed: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("mirror upload %s failed: HTTP %d: %v", e.Key, e.StatusCode, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true for server errors (5xx) and network errors.
// Client errors (4xx) are considered permanent.
func (e *UploadError) IsRetryable() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500
}

// ObjectKey returns the remote key of an artifact file.
func ObjectKey(prefix string, userID int64, path string) string {
	return userPrefix(prefix, userID) + filepath.Base(path)
}

func userPrefix(prefix string, userID int64) string {
	dir := artifacts.UserDirName(userID) + "/"
	if prefix == "" {
		return dir
	}
	return prefix + "/" + dir
}

// StubMirror only logs. It is used when no bucket is configured.
type StubMirror struct {
	logger *slog.Logger
}

func NewStubMirror(logger *slog.Logger) *StubMirror {
	return &StubMirror{logger: logger}
}

func (m *StubMirror) Publish(ctx context.Context, userID int64, kind artifacts.Kind, paths []string) error {
	m.logger.Debug("mirror stub: publish requested", "user_id", userID, "kind", kind, "files", len(paths))
	return nil
}

func (m *StubMirror) Clear(ctx context.Context, userID int64) error {
	m.logger.Debug("mirror stub: clear requested", "user_id", userID)
	return nil
}
