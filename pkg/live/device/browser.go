package device

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"

	"github.com/vango-go/vai-canvas/pkg/live/tools"
)

// SystemBrowser opens URLs with the platform's default handler.
type SystemBrowser struct {
	Logger *slog.Logger
}

var _ tools.Browser = SystemBrowser{}

// Open starts the handler and returns without waiting for it.
func (b SystemBrowser) Open(ctx context.Context, url string) error {
	name, args, err := openCommand(runtime.GOOS, url)
	if err != nil {
		return err
	}
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("device: open browser: %w", err)
	}
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			logger.Debug("device: browser handler exited", "url", url, "error", err)
		}
	}()
	return nil
}

func openCommand(goos, url string) (string, []string, error) {
	switch goos {
	case "darwin":
		return "open", []string{url}, nil
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", url}, nil
	case "linux", "freebsd", "openbsd", "netbsd":
		return "xdg-open", []string{url}, nil
	default:
		return "", nil, fmt.Errorf("device: no browser handler for %s", goos)
	}
}
