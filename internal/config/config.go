// Package config provides configuration management for Cutline.
// Configuration is loaded from an optional YAML file and environment
// variables, in that order, on top of sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// Default values
	DefaultPort           = 8788
	DefaultLogLevel       = "info"
	DefaultDataDir        = ".cutline"
	DefaultHistoryBackend = HistoryBackendSQLite
	DefaultEngineTimeout  = time.Duration(0)  // zero: no deadline
	DefaultMaxUploadBytes = 512 * 1024 * 1024 // 512MB
	DefaultMirrorPrefix   = "previews"

	HistoryBackendSQLite   = "sqlite"
	HistoryBackendPostgres = "postgres"

	// Environment variable names
	EnvConfigFile     = "CUTLINE_CONFIG"
	EnvPort           = "CUTLINE_PORT"
	EnvLogLevel       = "CUTLINE_LOG_LEVEL"
	EnvDataDir        = "CUTLINE_DATA_DIR"
	EnvHeadless       = "CUTLINE_HEADLESS"
	EnvHistoryBackend = "CUTLINE_HISTORY_BACKEND"
	EnvPostgresDSN    = "CUTLINE_POSTGRES_DSN"
	EnvFFmpegPath     = "CUTLINE_FFMPEG"
	EnvFFprobePath    = "CUTLINE_FFPROBE"
	EnvEspeakPath     = "CUTLINE_ESPEAK"
	EnvFontFile       = "CUTLINE_FONT_FILE"
	EnvEngineTimeout  = "CUTLINE_ENGINE_TIMEOUT"
	EnvMaxUploadBytes = "CUTLINE_MAX_UPLOAD_BYTES"
	EnvSharedMusic    = "CUTLINE_SHARED_MUSIC"
	EnvWatchArtifacts = "CUTLINE_WATCH_ARTIFACTS"

	// Artifact mirror environment variable names
	EnvMirrorBucket   = "CUTLINE_MIRROR_BUCKET"
	EnvMirrorRegion   = "CUTLINE_MIRROR_REGION"
	EnvMirrorEndpoint = "CUTLINE_MIRROR_ENDPOINT"
	EnvMirrorPrefix   = "CUTLINE_MIRROR_PREFIX"

	// Database filename
	DBFilename = "cutline.db"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	PreviewsDir() string
	UploadsDir() string
	AudioDir() string
	Headless() bool

	HistoryBackend() string
	PostgresDSN() string

	FFmpegPath() string
	FFprobePath() string
	EspeakPath() string
	FontFile() string
	EngineTimeout() time.Duration
	MaxUploadBytes() int64
	SharedMusic() bool
	WatchArtifacts() bool

	MirrorEnabled() bool
	MirrorBucket() string
	MirrorRegion() string
	MirrorEndpoint() string
	MirrorPrefix() string
}

// EnvConfig reads configuration from a YAML file and environment variables
type EnvConfig struct {
	port           int
	logLevel       string
	dataDir        string
	headless       bool
	historyBackend string
	postgresDSN    string

	ffmpegPath     string
	ffprobePath    string
	espeakPath     string
	fontFile       string
	engineTimeout  time.Duration
	maxUploadBytes int64
	sharedMusic    bool
	watchArtifacts bool

	mirrorBucket   string
	mirrorRegion   string
	mirrorEndpoint string
	mirrorPrefix   string
}

// fileConfig mirrors the YAML config file layout. Zero values leave the
// default in place.
type fileConfig struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	DataDir  string `yaml:"data_dir"`
	Headless *bool  `yaml:"headless"`

	History struct {
		Backend     string `yaml:"backend"`
		PostgresDSN string `yaml:"postgres_dsn"`
	} `yaml:"history"`

	Media struct {
		FFmpeg         string `yaml:"ffmpeg"`
		FFprobe        string `yaml:"ffprobe"`
		Espeak         string `yaml:"espeak"`
		FontFile       string `yaml:"font_file"`
		Timeout        string `yaml:"timeout"`
		MaxUploadBytes int64  `yaml:"max_upload_bytes"`
		SharedMusic    *bool  `yaml:"shared_music"`
		WatchArtifacts *bool  `yaml:"watch_artifacts"`
	} `yaml:"media"`

	Mirror struct {
		Bucket   string `yaml:"bucket"`
		Region   string `yaml:"region"`
		Endpoint string `yaml:"endpoint"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"mirror"`
}

// New creates a new EnvConfig with defaults, the optional config file named
// by CUTLINE_CONFIG, and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:           DefaultPort,
		logLevel:       DefaultLogLevel,
		dataDir:        defaultDataDir(),
		historyBackend: DefaultHistoryBackend,
		engineTimeout:  DefaultEngineTimeout,
		maxUploadBytes: DefaultMaxUploadBytes,
		watchArtifacts: true,
		mirrorPrefix:   DefaultMirrorPrefix,
	}

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *EnvConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if fc.Port != 0 {
		c.port = fc.Port
	}
	if fc.LogLevel != "" {
		c.logLevel = fc.LogLevel
	}
	if fc.DataDir != "" {
		c.dataDir = fc.DataDir
	}
	if fc.Headless != nil {
		c.headless = *fc.Headless
	}
	if fc.History.Backend != "" {
		c.historyBackend = fc.History.Backend
	}
	if fc.History.PostgresDSN != "" {
		c.postgresDSN = fc.History.PostgresDSN
	}
	if fc.Media.FFmpeg != "" {
		c.ffmpegPath = fc.Media.FFmpeg
	}
	if fc.Media.FFprobe != "" {
		c.ffprobePath = fc.Media.FFprobe
	}
	if fc.Media.Espeak != "" {
		c.espeakPath = fc.Media.Espeak
	}
	if fc.Media.FontFile != "" {
		c.fontFile = fc.Media.FontFile
	}
	if fc.Media.Timeout != "" {
		d, err := time.ParseDuration(fc.Media.Timeout)
		if err != nil {
			return fmt.Errorf("invalid media.timeout in config file: %w", err)
		}
		c.engineTimeout = d
	}
	if fc.Media.MaxUploadBytes != 0 {
		c.maxUploadBytes = fc.Media.MaxUploadBytes
	}
	if fc.Media.SharedMusic != nil {
		c.sharedMusic = *fc.Media.SharedMusic
	}
	if fc.Media.WatchArtifacts != nil {
		c.watchArtifacts = *fc.Media.WatchArtifacts
	}
	if fc.Mirror.Bucket != "" {
		c.mirrorBucket = fc.Mirror.Bucket
	}
	if fc.Mirror.Region != "" {
		c.mirrorRegion = fc.Mirror.Region
	}
	if fc.Mirror.Endpoint != "" {
		c.mirrorEndpoint = fc.Mirror.Endpoint
	}
	if fc.Mirror.Prefix != "" {
		c.mirrorPrefix = fc.Mirror.Prefix
	}

	return nil
}

func (c *EnvConfig) loadEnv() error {
	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		c.logLevel = ll
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		c.dataDir = dd
	}

	if hb := os.Getenv(EnvHistoryBackend); hb != "" {
		c.historyBackend = strings.ToLower(hb)
	}
	if dsn := os.Getenv(EnvPostgresDSN); dsn != "" {
		c.postgresDSN = dsn
	}

	if v := os.Getenv(EnvFFmpegPath); v != "" {
		c.ffmpegPath = v
	}
	if v := os.Getenv(EnvFFprobePath); v != "" {
		c.ffprobePath = v
	}
	if v := os.Getenv(EnvEspeakPath); v != "" {
		c.espeakPath = v
	}
	if v := os.Getenv(EnvFontFile); v != "" {
		c.fontFile = v
	}

	if v := os.Getenv(EnvEngineTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvEngineTimeout, err)
		}
		c.engineTimeout = d
	}

	if v := os.Getenv(EnvMaxUploadBytes); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvMaxUploadBytes, err)
		}
		c.maxUploadBytes = n
	}

	var err error
	if c.headless, err = envBool(EnvHeadless, c.headless); err != nil {
		return err
	}
	if c.sharedMusic, err = envBool(EnvSharedMusic, c.sharedMusic); err != nil {
		return err
	}
	if c.watchArtifacts, err = envBool(EnvWatchArtifacts, c.watchArtifacts); err != nil {
		return err
	}

	if v := os.Getenv(EnvMirrorBucket); v != "" {
		c.mirrorBucket = v
	}
	if v := os.Getenv(EnvMirrorRegion); v != "" {
		c.mirrorRegion = v
	}
	if v := os.Getenv(EnvMirrorEndpoint); v != "" {
		c.mirrorEndpoint = v
	}
	if v := os.Getenv(EnvMirrorPrefix); v != "" {
		c.mirrorPrefix = v
	}

	return nil
}

func (c *EnvConfig) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port %d: port must be between 1 and 65535", c.port)
	}
	switch c.historyBackend {
	case HistoryBackendSQLite:
	case HistoryBackendPostgres:
		if c.postgresDSN == "" {
			return fmt.Errorf("history backend %q requires %s", HistoryBackendPostgres, EnvPostgresDSN)
		}
	default:
		return fmt.Errorf("unknown history backend %q", c.historyBackend)
	}
	if c.engineTimeout < 0 {
		return fmt.Errorf("engine timeout must not be negative, got %s", c.engineTimeout)
	}
	if c.maxUploadBytes <= 0 {
		return fmt.Errorf("max upload bytes must be positive, got %d", c.maxUploadBytes)
	}
	return nil
}

func envBool(name string, fallback bool) (bool, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback, fmt.Errorf("invalid %s: %w", name, err)
	}
	return b, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// PreviewsDir returns the root of the per-user artifact directories
func (c *EnvConfig) PreviewsDir() string {
	return filepath.Join(c.dataDir, "previews")
}

// UploadsDir returns where uploaded source videos are stored
func (c *EnvConfig) UploadsDir() string {
	return filepath.Join(c.dataDir, "uploads")
}

// AudioDir returns where background music files are stored
func (c *EnvConfig) AudioDir() string {
	return filepath.Join(c.dataDir, "audio")
}

func (c *EnvConfig) Headless() bool {
	return c.headless
}

func (c *EnvConfig) HistoryBackend() string {
	return c.historyBackend
}

func (c *EnvConfig) PostgresDSN() string {
	return c.postgresDSN
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) FFprobePath() string {
	return c.ffprobePath
}

func (c *EnvConfig) EspeakPath() string {
	return c.espeakPath
}

func (c *EnvConfig) FontFile() string {
	return c.fontFile
}

func (c *EnvConfig) EngineTimeout() time.Duration {
	return c.engineTimeout
}

func (c *EnvConfig) MaxUploadBytes() int64 {
	return c.maxUploadBytes
}

// SharedMusic reports whether every user reads the same background music file
func (c *EnvConfig) SharedMusic() bool {
	return c.sharedMusic
}

func (c *EnvConfig) WatchArtifacts() bool {
	return c.watchArtifacts
}

// MirrorEnabled reports whether derived artifacts are copied to object storage
func (c *EnvConfig) MirrorEnabled() bool {
	return c.mirrorBucket != ""
}

func (c *EnvConfig) MirrorBucket() string {
	return c.mirrorBucket
}

func (c *EnvConfig) MirrorRegion() string {
	return c.mirrorRegion
}

func (c *EnvConfig) MirrorEndpoint() string {
	return c.mirrorEndpoint
}

func (c *EnvConfig) MirrorPrefix() string {
	return c.mirrorPrefix
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
