package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/vango-go/vai-canvas/pkg/core/media"
	"github.com/vango-go/vai-canvas/pkg/live/screen"
)

// ScreenConfig selects the ffmpeg grabber.
type ScreenConfig struct {
	// FFmpegPath defaults to "ffmpeg" on PATH.
	FFmpegPath string
	// Input overrides the platform default grab input, such as ":0.0" for
	// x11grab or "1:none" for avfoundation.
	Input string
	// Width scales frames down to this width. Zero keeps 1280.
	Width int
}

// Screen grabs one JPEG still per Capture by running ffmpeg.
type Screen struct {
	path   string
	args   []string
	closed atomic.Bool
}

var _ screen.Source = (*Screen)(nil)

// OpenScreen resolves ffmpeg and the grab input for this platform.
func OpenScreen(ctx context.Context, cfg ScreenConfig) (*Screen, error) {
	path := strings.TrimSpace(cfg.FFmpegPath)
	if path == "" {
		path = "ffmpeg"
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, fmt.Errorf("device: screen capture needs ffmpeg: %w", err)
	}
	args, err := grabArgs(runtime.GOOS, cfg.Input, os.Getenv("DISPLAY"), cfg.Width)
	if err != nil {
		return nil, err
	}
	return &Screen{path: resolved, args: args}, nil
}

// grabArgs builds an ffmpeg command line that writes a single JPEG to stdout.
func grabArgs(goos, input, display string, width int) ([]string, error) {
	if width <= 0 {
		width = 1280
	}
	var grab []string
	switch goos {
	case "linux", "freebsd", "openbsd":
		if input == "" {
			input = display
		}
		if input == "" {
			return nil, errors.New("device: no X display for screen capture")
		}
		grab = []string{"-f", "x11grab", "-i", input}
	case "darwin":
		if input == "" {
			input = "1:none"
		}
		grab = []string{"-f", "avfoundation", "-capture_cursor", "1", "-i", input}
	case "windows":
		if input == "" {
			input = "desktop"
		}
		grab = []string{"-f", "gdigrab", "-i", input}
	default:
		return nil, fmt.Errorf("device: screen capture is not supported on %s", goos)
	}

	args := []string{"-hide_banner", "-loglevel", "error", "-nostats"}
	args = append(args, grab...)
	args = append(args,
		"-frames:v", "1",
		"-vf", fmt.Sprintf("scale='min(%d,iw)':-2", width),
		"-q:v", "5",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-",
	)
	return args, nil
}

// Capture implements screen.Source.
func (s *Screen) Capture(ctx context.Context) (media.Blob, error) {
	if s.closed.Load() {
		return media.Blob{}, screen.ErrSourceEnded
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.path, s.args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return media.Blob{}, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		// A revoked capture permission fails every grab; treat it as the
		// user ending the share.
		if strings.Contains(strings.ToLower(msg), "permission") {
			return media.Blob{}, screen.ErrSourceEnded
		}
		return media.Blob{}, fmt.Errorf("device: grab frame: %w: %s", err, msg)
	}
	if stdout.Len() == 0 {
		return media.Blob{}, errors.New("device: grab frame: empty output")
	}
	return media.Blob{Data: stdout.Bytes(), MIMEType: "image/jpeg"}, nil
}

func (s *Screen) Close() error {
	s.closed.Store(true)
	return nil
}
