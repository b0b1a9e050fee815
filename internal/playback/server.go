// Package playback serves finished artifacts with byte-range support so
// previews can be scrubbed in a browser player.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/cutline/cutline/internal/artifacts"
)

var contentTypes = map[string]string{
	".mp4": "video/mp4",
	".mp3": "audio/mpeg",
}

var (
	ErrUnknownArtifact = errors.New("unknown artifact")
	ErrNotReady        = errors.New("artifact not ready")
)

// ArtifactSource locates a user's artifacts and reports which are ready.
type ArtifactSource interface {
	Dir(userID int64) string
	IsReady(ctx context.Context, userID int64, kind artifacts.Kind) (bool, error)
}

type PlaybackService interface {
	ServeArtifact(w http.ResponseWriter, r *http.Request, userID int64, name string) error
}

type Server struct {
	source ArtifactSource
	logger *slog.Logger
}

var _ PlaybackService = (*Server)(nil)

func NewServer(source ArtifactSource, logger *slog.Logger) *Server {
	return &Server{source: source, logger: logger}
}

// ServeArtifact writes the named artifact of a user. Only the fixed artifact
// filenames are served, and only while their kind is ready. ErrUnknownArtifact
// and ErrNotReady are returned before anything is written.
func (s *Server) ServeArtifact(w http.ResponseWriter, r *http.Request, userID int64, name string) error {
	kind, ok := artifacts.KindForFile(name)
	if !ok || filepath.Base(name) != name {
		return ErrUnknownArtifact
	}

	ready, err := s.source.IsReady(r.Context(), userID, kind)
	if err != nil {
		return fmt.Errorf("check artifact state: %w", err)
	}
	if !ready {
		return ErrNotReady
	}

	path := filepath.Join(s.source.Dir(userID), name)
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotReady
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	w.Header().Set("Content-Type", contentType(name))
	// Artifacts are overwritten in place by later edits.
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, name, stat.ModTime(), file)

	if s.logger != nil {
		s.logger.Debug("artifact served", "user_id", userID, "name", name, "range", r.Header.Get("Range"))
	}
	return nil
}

func contentType(name string) string {
	ext := filepath.Ext(name)
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
