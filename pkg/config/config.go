// Package config loads vai-canvas settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vango-go/vai-canvas/pkg/live/export"
	"github.com/vango-go/vai-canvas/pkg/live/imagegen"
	"github.com/vango-go/vai-canvas/pkg/live/transport/gemini"
)

type Transport string

const (
	TransportGemini Transport = "gemini"
	TransportWS     Transport = "ws"
)

// DefaultSystemPrompt frames the model as a canvas assistant that acts
// through its tools.
const DefaultSystemPrompt = "You are a friendly creative assistant working alongside the user on a shared canvas. " +
	"Keep spoken answers short. Use your tools to open apps, generate images, play videos and keep notes, " +
	"routines, suggestions and spreadsheets in the workspace. When the user shares their screen, use what you see."

type Config struct {
	APIKey string

	Transport    Transport
	GatewayURL   string
	LiveModel    string
	ImageModel   string
	Voice        string
	SystemPrompt string

	HistoryBackend string
	HistoryDSN     string

	DownloadDir string
	AppsFile    string

	ScreenInterval time.Duration
	ToolTimeout    time.Duration
	PersistTimeout time.Duration

	// Headless runs without microphone and speaker; playback follows a
	// silent wall clock.
	Headless bool

	// MetricsAddr serves /metrics when set.
	MetricsAddr string

	LogLevel  string
	LogFormat string
}

// LoadDotEnv loads KEY=VALUE files into the environment without overriding
// variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load env file %q: %w", p, err)
		}
	}
	return nil
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		APIKey:         envOr("VAI_CANVAS_API_KEY", strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))),
		Transport:      Transport(strings.ToLower(envOr("VAI_CANVAS_TRANSPORT", string(TransportGemini)))),
		GatewayURL:     envOr("VAI_CANVAS_GATEWAY_URL", ""),
		LiveModel:      envOr("VAI_CANVAS_LIVE_MODEL", gemini.DefaultModel),
		ImageModel:     envOr("VAI_CANVAS_IMAGE_MODEL", imagegen.DefaultModel),
		Voice:          envOr("VAI_CANVAS_VOICE", "Puck"),
		SystemPrompt:   envOr("VAI_CANVAS_SYSTEM_PROMPT", DefaultSystemPrompt),
		HistoryBackend: strings.ToLower(envOr("VAI_CANVAS_HISTORY_BACKEND", "sqlite")),
		HistoryDSN:     envOr("VAI_CANVAS_HISTORY_DSN", ""),
		DownloadDir:    envOr("VAI_CANVAS_DOWNLOAD_DIR", export.DefaultPath()),
		AppsFile:       envOr("VAI_CANVAS_APPS_FILE", ""),
		ScreenInterval: envDurationOr("VAI_CANVAS_SCREEN_INTERVAL", time.Second),
		ToolTimeout:    envDurationOr("VAI_CANVAS_TOOL_TIMEOUT", 60*time.Second),
		PersistTimeout: envDurationOr("VAI_CANVAS_PERSIST_TIMEOUT", 5*time.Second),
		Headless:       envBoolOr("VAI_CANVAS_HEADLESS", false),
		MetricsAddr:    envOr("VAI_CANVAS_METRICS_ADDR", ""),
		LogLevel:       strings.ToLower(envOr("VAI_CANVAS_LOG_LEVEL", "info")),
		LogFormat:      strings.ToLower(envOr("VAI_CANVAS_LOG_FORMAT", "text")),
	}

	switch cfg.Transport {
	case TransportGemini:
	case TransportWS:
		u := cfg.GatewayURL
		if !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
			return Config{}, fmt.Errorf("VAI_CANVAS_GATEWAY_URL must be a ws:// or wss:// url when VAI_CANVAS_TRANSPORT=ws")
		}
	default:
		return Config{}, fmt.Errorf("VAI_CANVAS_TRANSPORT must be one of gemini|ws")
	}

	switch cfg.HistoryBackend {
	case "memory":
	case "sqlite", "badger":
		if cfg.HistoryDSN == "" {
			cfg.HistoryDSN = defaultHistoryPath(cfg.HistoryBackend)
		}
	case "postgres", "redis":
		if cfg.HistoryDSN == "" {
			return Config{}, fmt.Errorf("VAI_CANVAS_HISTORY_DSN must be set for the %s history backend", cfg.HistoryBackend)
		}
	default:
		return Config{}, fmt.Errorf("VAI_CANVAS_HISTORY_BACKEND must be one of memory|sqlite|badger|postgres|redis")
	}

	if cfg.ScreenInterval <= 0 {
		return Config{}, fmt.Errorf("VAI_CANVAS_SCREEN_INTERVAL must be > 0")
	}
	if cfg.ToolTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_CANVAS_TOOL_TIMEOUT must be > 0")
	}
	if cfg.PersistTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_CANVAS_PERSIST_TIMEOUT must be > 0")
	}
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		return Config{}, fmt.Errorf("VAI_CANVAS_LOG_LEVEL: %w", err)
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return Config{}, fmt.Errorf("VAI_CANVAS_LOG_FORMAT must be one of text|json")
	}

	// A missing key is not a load error: Connect reports it as a session
	// failure so history commands still work without one.
	return cfg, nil
}

func defaultHistoryPath(backend string) string {
	base := ".vai-canvas"
	if dir, err := os.UserConfigDir(); err == nil {
		base = filepath.Join(dir, "vai-canvas")
	}
	if backend == "badger" {
		return filepath.Join(base, "history.badger")
	}
	return filepath.Join(base, "history.db")
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		// Bare integers are milliseconds.
		if ms, ierr := strconv.Atoi(raw); ierr == nil {
			return time.Duration(ms) * time.Millisecond
		}
		return def
	}
	return d
}
