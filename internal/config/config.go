package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/italolelis/resumable_transfer/internal/chunk"
	"github.com/italolelis/resumable_transfer/internal/hasher"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const progressDirName = "FileTransferProgress"

const (
	BackendFile   = "file"
	BackendBadger = "badger"
)

// Config struct for environment variables.
type Config struct {
	ChunkSize       int64         `envconfig:"CHUNK_SIZE" default:"4194304"`
	BufferSize      int           `envconfig:"BUFFER_SIZE" default:"81920"`
	ProgressDir     string        `envconfig:"PROGRESS_DIR"`
	ProgressBackend string        `envconfig:"PROGRESS_BACKEND" default:"file"`
	Retention       time.Duration `envconfig:"RETENTION" default:"72h"`
	CleanupInterval time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1h"`
	HashAlgorithm   string        `envconfig:"HASH_ALGORITHM" default:"md5"`
	JournalPath     string        `envconfig:"JOURNAL_PATH" default:"transfers.db"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"INFO"`
	LogFile         string        `envconfig:"LOG_FILE"`

	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	Remote struct {
		Token      string        `split_words:"true"`
		Timeout    time.Duration `split_words:"true" default:"60s"`
		MaxRetries uint          `split_words:"true" default:"0"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9092"`
		StorageDir      string        `split_words:"true" default:"./received"`
		Token           string        `split_words:"true"`
		ReadTimeout     time.Duration `split_words:"true" default:"5m"`
		WriteTimeout    time.Duration `split_words:"true" default:"5m"`
		IdleTimeout     time.Duration `split_words:"true" default:"30s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"false"`
		ServiceName  string `split_words:"true" default:"transferctl"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
		OTLPInsecure bool   `envconfig:"OTLP_INSECURE" default:"true"`
	}
}

// LoadConfig reads an optional .env file, then environment variables, and populates the
// Config struct.
func LoadConfig(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values envconfig cannot express.
func (c *Config) Validate() error {
	switch c.ProgressBackend {
	case BackendFile, BackendBadger:
	default:
		return fmt.Errorf("invalid progress backend %q, expected %q or %q", c.ProgressBackend, BackendFile, BackendBadger)
	}

	if _, err := hasher.ParseAlgorithm(c.HashAlgorithm); err != nil {
		return fmt.Errorf("invalid hash algorithm: %w", err)
	}

	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer size must be positive, got %d", c.BufferSize)
	}

	return nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ChunkSizeBytes is the configured chunk size clamped to the supported range.
func (c *Config) ChunkSizeBytes() int64 {
	return chunk.ClampChunkSize(c.ChunkSize)
}

// Algorithm is the parsed hash algorithm. Validate has already rejected unknown names.
func (c *Config) Algorithm() hasher.Algorithm {
	alg, err := hasher.ParseAlgorithm(c.HashAlgorithm)
	if err != nil {
		return hasher.MD5
	}

	return alg
}

// ProgressDirOrDefault returns PROGRESS_DIR, falling back to FileTransferProgress under
// the user cache directory, then the temp directory.
func (c *Config) ProgressDirOrDefault() string {
	if c.ProgressDir != "" {
		return c.ProgressDir
	}

	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}

	return filepath.Join(base, progressDirName)
}
