package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vango-go/vai-canvas/pkg/live/tools"
)

var canvasEnvKeys = []string{
	"VAI_CANVAS_API_KEY",
	"GEMINI_API_KEY",
	"VAI_CANVAS_TRANSPORT",
	"VAI_CANVAS_GATEWAY_URL",
	"VAI_CANVAS_LIVE_MODEL",
	"VAI_CANVAS_IMAGE_MODEL",
	"VAI_CANVAS_VOICE",
	"VAI_CANVAS_SYSTEM_PROMPT",
	"VAI_CANVAS_HISTORY_BACKEND",
	"VAI_CANVAS_HISTORY_DSN",
	"VAI_CANVAS_DOWNLOAD_DIR",
	"VAI_CANVAS_APPS_FILE",
	"VAI_CANVAS_SCREEN_INTERVAL",
	"VAI_CANVAS_TOOL_TIMEOUT",
	"VAI_CANVAS_PERSIST_TIMEOUT",
	"VAI_CANVAS_HEADLESS",
	"VAI_CANVAS_METRICS_ADDR",
	"VAI_CANVAS_LOG_LEVEL",
	"VAI_CANVAS_LOG_FORMAT",
}

func clearCanvasEnv(t *testing.T) {
	t.Helper()
	for _, key := range canvasEnvKeys {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearCanvasEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.Transport != TransportGemini {
		t.Fatalf("Transport = %q, want gemini", cfg.Transport)
	}
	if cfg.HistoryBackend != "sqlite" || !strings.HasSuffix(cfg.HistoryDSN, "history.db") {
		t.Fatalf("history = %q %q, want sqlite history.db", cfg.HistoryBackend, cfg.HistoryDSN)
	}
	if cfg.ScreenInterval != time.Second || cfg.ToolTimeout != 60*time.Second || cfg.PersistTimeout != 5*time.Second {
		t.Fatalf("durations = %v %v %v", cfg.ScreenInterval, cfg.ToolTimeout, cfg.PersistTimeout)
	}
	if cfg.APIKey != "" || cfg.Headless {
		t.Fatalf("APIKey = %q, Headless = %v", cfg.APIKey, cfg.Headless)
	}
	if cfg.SystemPrompt != DefaultSystemPrompt {
		t.Fatalf("SystemPrompt not defaulted")
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearCanvasEnv(t)
	t.Setenv("GEMINI_API_KEY", "fallback")
	t.Setenv("VAI_CANVAS_TRANSPORT", "WS")
	t.Setenv("VAI_CANVAS_GATEWAY_URL", "wss://gateway.example/v1/live")
	t.Setenv("VAI_CANVAS_HISTORY_BACKEND", "redis")
	t.Setenv("VAI_CANVAS_HISTORY_DSN", "redis://localhost:6379/0")
	t.Setenv("VAI_CANVAS_SCREEN_INTERVAL", "500")
	t.Setenv("VAI_CANVAS_HEADLESS", "yes")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.APIKey != "fallback" {
		t.Fatalf("APIKey = %q, want GEMINI_API_KEY fallback", cfg.APIKey)
	}
	if cfg.Transport != TransportWS || cfg.HistoryBackend != "redis" {
		t.Fatalf("Transport = %q, HistoryBackend = %q", cfg.Transport, cfg.HistoryBackend)
	}
	if cfg.ScreenInterval != 500*time.Millisecond || !cfg.Headless {
		t.Fatalf("ScreenInterval = %v, Headless = %v", cfg.ScreenInterval, cfg.Headless)
	}

	t.Setenv("VAI_CANVAS_API_KEY", "primary")
	cfg, _ = LoadFromEnv()
	if cfg.APIKey != "primary" {
		t.Fatalf("APIKey = %q, want primary", cfg.APIKey)
	}
}

func TestLoadFromEnv_Invalid(t *testing.T) {
	cases := []struct {
		name      string
		env       map[string]string
		errSubstr string
	}{
		{"unknown transport", map[string]string{"VAI_CANVAS_TRANSPORT": "grpc"}, "VAI_CANVAS_TRANSPORT"},
		{"ws without url", map[string]string{"VAI_CANVAS_TRANSPORT": "ws"}, "VAI_CANVAS_GATEWAY_URL"},
		{"postgres without dsn", map[string]string{"VAI_CANVAS_HISTORY_BACKEND": "postgres"}, "VAI_CANVAS_HISTORY_DSN"},
		{"unknown backend", map[string]string{"VAI_CANVAS_HISTORY_BACKEND": "mongo"}, "VAI_CANVAS_HISTORY_BACKEND"},
		{"zero tool timeout", map[string]string{"VAI_CANVAS_TOOL_TIMEOUT": "0s"}, "VAI_CANVAS_TOOL_TIMEOUT"},
		{"bad log level", map[string]string{"VAI_CANVAS_LOG_LEVEL": "loud"}, "VAI_CANVAS_LOG_LEVEL"},
		{"bad log format", map[string]string{"VAI_CANVAS_LOG_FORMAT": "xml"}, "VAI_CANVAS_LOG_FORMAT"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearCanvasEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := LoadFromEnv()
			if err == nil || !strings.Contains(err.Error(), tc.errSubstr) {
				t.Fatalf("LoadFromEnv() error = %v, want mention of %s", err, tc.errSubstr)
			}
		})
	}
}

func TestLoadDotEnv_PreservesExisting(t *testing.T) {
	clearCanvasEnv(t)
	os.Unsetenv("VAI_CANVAS_VOICE")
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("VAI_CANVAS_API_KEY=from-file\nVAI_CANVAS_VOICE=Kore\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VAI_CANVAS_API_KEY", "from-env")
	t.Cleanup(func() { os.Unsetenv("VAI_CANVAS_VOICE") })

	if err := LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if got := os.Getenv("VAI_CANVAS_API_KEY"); got != "from-env" {
		t.Fatalf("VAI_CANVAS_API_KEY = %q, want from-env", got)
	}
	if got := os.Getenv("VAI_CANVAS_VOICE"); got != "Kore" {
		t.Fatalf("VAI_CANVAS_VOICE = %q, want Kore", got)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "warn", "json")
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "component", "session")
	if out := buf.String(); strings.Contains(out, "hidden") || !strings.Contains(out, `"component":"session"`) {
		t.Fatalf("log output = %q", out)
	}
	if _, err := NewLogger(&buf, "info", "xml"); err == nil {
		t.Fatalf("NewLogger(xml) error = nil")
	}
}

func writeApps(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestLoadApps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apps.yaml")
	writeApps(t, path, `
apps:
  - name: Canva
    url: https://canva.example
  - name: Miro
    url: https://miro.com
    search_url: https://miro.com/search?q={query}
`)
	apps, err := LoadApps(path)
	if err != nil {
		t.Fatalf("LoadApps() error = %v", err)
	}
	dir := tools.NewApps(apps...)
	if app, _ := dir.Lookup("canva"); app.BaseURL != "https://canva.example" {
		t.Fatalf("canva = %+v, want override", app)
	}
	if url, known := tools.ResolveAppURL(dir, "miro", "board"); !known || url != "https://miro.com/search?q=board" {
		t.Fatalf("ResolveAppURL(miro) = %q, %v", url, known)
	}

	writeApps(t, path, "apps:\n  - name: Bad\n    url: ftp://x\n")
	if _, err := LoadApps(path); err == nil {
		t.Fatalf("LoadApps(ftp url) error = nil")
	}
	if apps, err := LoadApps(""); err != nil || len(apps) != len(tools.DefaultApps()) {
		t.Fatalf("LoadApps(\"\") = %d apps, %v", len(apps), err)
	}
}

func TestWatchApps_Reloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apps.yaml")
	writeApps(t, path, "apps: []\n")
	dir := tools.NewApps(tools.DefaultApps()...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- WatchApps(ctx, path, dir, nil) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Fatalf("WatchApps() error = %v", err)
		}
	}()

	// The watcher starts asynchronously, so rewrite until it sees a change.
	for attempt := 0; attempt < 3; attempt++ {
		writeApps(t, path, "apps:\n  - name: Miro\n    url: https://miro.com\n")
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			if _, ok := dir.Lookup("miro"); ok {
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
	}
	t.Fatalf("apps file change was not picked up")
}
