package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/vango-go/vai-canvas/pkg/live/tools"
)

// appsReloadDebounce collapses the burst of events an editor save produces.
const appsReloadDebounce = 250 * time.Millisecond

type appsFile struct {
	Apps []tools.App `yaml:"apps"`
}

// LoadApps returns the built-in app directory with the entries of path
// merged over it. An empty path returns the defaults.
func LoadApps(path string) ([]tools.App, error) {
	if strings.TrimSpace(path) == "" {
		return tools.DefaultApps(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read apps file %q: %w", path, err)
	}
	var f appsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse apps file %q: %w", path, err)
	}
	for i, app := range f.Apps {
		if strings.TrimSpace(app.Name) == "" {
			return nil, fmt.Errorf("apps file %q: entry %d has no name", path, i)
		}
		if !strings.HasPrefix(app.BaseURL, "http://") && !strings.HasPrefix(app.BaseURL, "https://") {
			return nil, fmt.Errorf("apps file %q: %s: url must be http(s)", path, app.Name)
		}
		if app.SearchURL != "" && !strings.Contains(app.SearchURL, "{query}") {
			return nil, fmt.Errorf("apps file %q: %s: search_url must contain {query}", path, app.Name)
		}
	}
	return tools.MergeApps(tools.DefaultApps(), f.Apps), nil
}

// WatchApps reloads path into dir whenever it changes, until ctx is done. A
// file that fails to load leaves the current directory in place.
func WatchApps(ctx context.Context, path string, dir *tools.Apps, logger *slog.Logger) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "config", "path", path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors replace the file rather than write it.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch apps file: %w", err)
	}
	logger.Info("config: watching apps file")

	reload := make(chan struct{}, 1)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	name := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != name {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(appsReloadDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case <-reload:
			apps, err := LoadApps(path)
			if err != nil {
				logger.Error("config: apps reload failed", "error", err)
				continue
			}
			dir.Replace(apps)
			logger.Info("config: apps reloaded", "apps", len(apps))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("config: watcher error", "error", err)
		}
	}
}
