package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const musicFilename = "background.mp3"

var (
	ErrUserExists      = errors.New("username already taken")
	ErrInvalidUsername = errors.New("username must be 3-32 letters, digits, dots, dashes or underscores")
	ErrUnsupportedFile = errors.New("unsupported file type")
	ErrUploadTooLarge  = errors.New("upload exceeds size limit")
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{3,32}$`)

type CatalogService interface {
	RegisterUser(ctx context.Context, username string) (*User, error)
	Authenticate(ctx context.Context, token string) (*User, error)
	GetUser(ctx context.Context, id int64) (*User, error)
	ActiveVideo(ctx context.Context, userID int64) (string, error)
	SaveVideoUpload(ctx context.Context, userID int64, filename string, r io.Reader) (string, error)
	SaveMusicUpload(ctx context.Context, userID int64, filename string, r io.Reader) (string, error)
	MusicPath(userID int64) string
}

// ServiceConfig locates uploaded files.
type ServiceConfig struct {
	UploadsDir     string
	AudioDir       string
	MaxUploadBytes int64
	// SharedMusic makes every user read and overwrite one music file.
	SharedMusic bool
}

type Service struct {
	repo   Repository
	cfg    ServiceConfig
	logger *slog.Logger
}

var _ CatalogService = (*Service)(nil)

func NewService(repo Repository, cfg ServiceConfig, logger *slog.Logger) *Service {
	return &Service{repo: repo, cfg: cfg, logger: logger}
}

func (s *Service) RegisterUser(ctx context.Context, username string) (*User, error) {
	username = strings.TrimSpace(username)
	if !usernamePattern.MatchString(username) {
		return nil, ErrInvalidUsername
	}

	existing, err := s.repo.GetUserByName(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUserExists
	}

	user := &User{
		Username:  username,
		Token:     NewToken(),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	if s.logger != nil {
		s.logger.Info("user registered", "user_id", user.ID, "username", username)
	}
	return user, nil
}

// Authenticate resolves a bearer token. It returns nil, nil for unknown tokens.
func (s *Service) Authenticate(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, nil
	}
	return s.repo.GetUserByToken(ctx, token)
}

func (s *Service) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.repo.GetUser(ctx, id)
}

// ActiveVideo returns the user's current source video, or "" when none was
// uploaded or the file has since disappeared.
func (s *Service) ActiveVideo(ctx context.Context, userID int64) (string, error) {
	sess, err := s.repo.GetSession(ctx, userID)
	if err != nil {
		return "", err
	}
	if sess == nil || sess.VideoPath == "" {
		return "", nil
	}
	if _, err := os.Stat(sess.VideoPath); err != nil {
		return "", nil
	}
	return sess.VideoPath, nil
}

// SaveVideoUpload stores an uploaded video and makes it the active source.
// The previously active upload is removed.
func (s *Service) SaveVideoUpload(ctx context.Context, userID int64, filename string, r io.Reader) (string, error) {
	if !IsVideoFile(filename) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFile, filepath.Ext(filename))
	}

	previous, err := s.ActiveVideo(ctx, userID)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(s.cfg.UploadsDir, fmt.Sprintf("user_%d", userID))
	dst := filepath.Join(dir, uuid.NewString()+strings.ToLower(filepath.Ext(filename)))
	size, err := s.writeLimited(dst, r)
	if err != nil {
		return "", err
	}

	if err := s.repo.SetVideoPath(ctx, userID, dst); err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("record upload: %w", err)
	}

	if previous != "" && previous != dst && strings.HasPrefix(previous, s.cfg.UploadsDir) {
		if err := os.Remove(previous); err != nil && s.logger != nil {
			s.logger.Warn("failed to remove previous upload", "user_id", userID, "error", err)
		}
	}

	if s.logger != nil {
		s.logger.Info("video uploaded", "user_id", userID, "bytes", size, "original_name", filepath.Base(filename))
	}
	return dst, nil
}

// SaveMusicUpload stores the background music a MixMusic edit reads.
func (s *Service) SaveMusicUpload(ctx context.Context, userID int64, filename string, r io.Reader) (string, error) {
	if !IsAudioFile(filename) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFile, filepath.Ext(filename))
	}

	dst := s.MusicPath(userID)
	size, err := s.writeLimited(dst, r)
	if err != nil {
		return "", err
	}

	if s.logger != nil {
		s.logger.Info("music uploaded", "user_id", userID, "bytes", size, "shared", s.cfg.SharedMusic)
	}
	return dst, nil
}

// MusicPath returns where the user's background music lives.
func (s *Service) MusicPath(userID int64) string {
	if s.cfg.SharedMusic {
		return filepath.Join(s.cfg.AudioDir, musicFilename)
	}
	return filepath.Join(s.cfg.AudioDir, fmt.Sprintf("user_%d", userID), musicFilename)
}

// writeLimited copies r to dst through a temporary file, rejecting input
// larger than MaxUploadBytes.
func (s *Service) writeLimited(dst string, r io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return 0, fmt.Errorf("create upload dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(r, s.cfg.MaxUploadBytes+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("write upload: %w", err)
	}
	if n > s.cfg.MaxUploadBytes {
		return 0, ErrUploadTooLarge
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: empty file", ErrUnsupportedFile)
	}

	if err := os.Rename(tmp.Name(), dst); err != nil {
		return 0, fmt.Errorf("publish upload: %w", err)
	}
	return n, nil
}
