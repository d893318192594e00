// Package config handles recorder configuration
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/GriffinCanCode/tetris-recorder/internal/errors"
)

type Config struct {
	HTTPAddr string
	GRPCAddr string

	Sources     []string // capture specs, see capture.Open
	CaptureRate float64  // Hz, 0 = as fast as the source delivers
	Workers     int      // classification workers per source

	DigitsDir      string
	HeuristicsFile string // optional YAML overriding vision defaults

	DataDir   string
	KeepGames int
	VideoFPS  int
	FFmpeg    string

	DBDriver string
	DBDSN    string

	TelegramToken string
	TelegramChat  string
	NotifyEnabled bool
	NotifyTimeout time.Duration

	ScoreEvery   int // score every Nth frame at most when nothing changed
	HashDistance int // perceptual hash distance treated as unchanged

	ShutdownTimeout time.Duration
	LogLevel        string
}

func Load() *Config {
	dataDir := getEnv("DATA_DIR", "data")
	return &Config{
		HTTPAddr:        getEnv("HTTP_ADDR", ":8000"),
		GRPCAddr:        getEnv("GRPC_ADDR", ":50051"),
		Sources:         getEnvList("SOURCES", []string{"device:0"}),
		CaptureRate:     getEnvFloat("CAPTURE_RATE", 10),
		Workers:         getEnvInt("WORKERS", 1),
		DigitsDir:       getEnv("DIGITS_DIR", "assets/digits"),
		HeuristicsFile:  getEnv("HEURISTICS_FILE", ""),
		DataDir:         dataDir,
		KeepGames:       getEnvInt("KEEP_GAMES", 5),
		VideoFPS:        getEnvInt("VIDEO_FPS", 10),
		FFmpeg:          getEnv("FFMPEG_PATH", "ffmpeg"),
		DBDriver:        getEnv("DB_DRIVER", "sqlite"),
		DBDSN:           getEnv("DB_DSN", filepath.Join(dataDir, "games.db")),
		TelegramToken:   getEnv("TELEGRAM_TOKEN", ""),
		TelegramChat:    getEnv("TELEGRAM_CHAT", ""),
		NotifyEnabled:   getEnvBool("NOTIFY_ENABLED", true),
		NotifyTimeout:   getEnvDuration("NOTIFY_TIMEOUT", 2*time.Minute),
		ScoreEvery:      getEnvInt("SCORE_EVERY", 5),
		HashDistance:    getEnvInt("HASH_DISTANCE", 2),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	invalid := func(key, format string, args ...any) error {
		return apperrors.Newf(apperrors.CodeConfigInvalid, format, args...).WithMetadata("key", key)
	}
	switch {
	case len(c.Sources) == 0:
		return invalid("SOURCES", "at least one source is required")
	case c.CaptureRate < 0:
		return invalid("CAPTURE_RATE", "capture rate %g is negative", c.CaptureRate)
	case c.Workers < 1:
		return invalid("WORKERS", "workers must be at least 1, got %d", c.Workers)
	case c.KeepGames < 1:
		return invalid("KEEP_GAMES", "keep games must be at least 1, got %d", c.KeepGames)
	case c.VideoFPS < 1:
		return invalid("VIDEO_FPS", "video fps must be at least 1, got %d", c.VideoFPS)
	case c.ScoreEvery < 0:
		return invalid("SCORE_EVERY", "score every %d is negative", c.ScoreEvery)
	case c.HashDistance < 0:
		return invalid("HASH_DISTANCE", "hash distance %d is negative", c.HashDistance)
	}
	switch c.DBDriver {
	case "sqlite", "postgres", "mysql":
	default:
		return invalid("DB_DRIVER", "unsupported database driver %q", c.DBDriver)
	}
	if _, err := c.SlogLevel(); err != nil {
		return invalid("LOG_LEVEL", "unknown log level %q", c.LogLevel)
	}
	if c.TelegramToken != "" && c.TelegramChat == "" {
		return apperrors.New(apperrors.CodeConfigMissing, "TELEGRAM_CHAT is required with TELEGRAM_TOKEN").
			WithMetadata("key", "TELEGRAM_CHAT")
	}
	return nil
}

// NotifyConfigured reports whether finished games should be delivered.
func (c *Config) NotifyConfigured() bool {
	return c.NotifyEnabled && c.TelegramToken != ""
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(c.LogLevel))
	return l, err
}

// GamesDir is where per-game frame directories live.
func (c *Config) GamesDir() string { return filepath.Join(c.DataDir, "games") }

// VideosDir is where compiled videos are written.
func (c *Config) VideosDir() string { return filepath.Join(c.DataDir, "videos") }

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		return result
	}
	return def
}
