package catalog

import (
	"crypto/rand"
	"encoding/hex"
	"path/filepath"
	"strings"
	"time"
)

type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Token     string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Session holds the per-user editing context: the active source video.
type Session struct {
	UserID    int64     `json:"user_id"`
	VideoPath string    `json:"video_path,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ConfigEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

var VideoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".mkv":  true,
	".webm": true,
	".avi":  true,
}

var AudioExtensions = map[string]bool{
	".mp3": true,
	".wav": true,
	".m4a": true,
	".aac": true,
	".ogg": true,
}

// NewToken returns a random 32-byte hex bearer token.
func NewToken() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}

func IsVideoFile(filename string) bool {
	return VideoExtensions[strings.ToLower(filepath.Ext(filename))]
}

func IsAudioFile(filename string) bool {
	return AudioExtensions[strings.ToLower(filepath.Ext(filename))]
}
