package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vango-go/vai-canvas/pkg/core/media"
	"github.com/vango-go/vai-canvas/pkg/live/capture"
	"github.com/vango-go/vai-canvas/pkg/live/playback"
	"github.com/vango-go/vai-canvas/pkg/live/screen"
	"github.com/vango-go/vai-canvas/pkg/live/tools"
	"github.com/vango-go/vai-canvas/pkg/live/transport"
)

// connection owns every live resource of one connection lifetime. It is
// created by Connect and destroyed as a unit by teardown.
type connection struct {
	id       string
	dualMode bool
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// wired is closed once every field below is set; event delivery waits
	// on it.
	wired  chan struct{}
	opened chan struct{}
	done   chan struct{}

	pending    *transport.Pending
	dispatcher *tools.Dispatcher
	scheduler  *playback.Scheduler
	capture    *capture.Pipeline

	mu       sync.Mutex
	open     bool
	torn     bool
	openedAt time.Time
	lastErr  error
	endCause error

	screenMu sync.Mutex
	screen   *screen.Sampler

	textMu  sync.Mutex
	inText  strings.Builder
	outText strings.Builder

	once sync.Once
}

func newConnection(id string, dualMode bool, logger *slog.Logger) *connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &connection{
		id:       id,
		dualMode: dualMode,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		wired:    make(chan struct{}),
		opened:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// SendMedia and SendToolResponse make the connection the sender for capture,
// screen sampling and tool dispatch.
func (c *connection) SendMedia(ctx context.Context, blob media.Blob) error {
	return c.pending.SendMedia(ctx, blob)
}

func (c *connection) SendToolResponse(ctx context.Context, resp transport.ToolResponse) error {
	return c.pending.SendToolResponse(ctx, resp)
}

// markOpen records the open confirmation and starts capture. It reports
// false if the connection was already open or torn down.
func (c *connection) markOpen(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open || c.torn {
		return false
	}
	c.open = true
	c.openedAt = now
	if c.capture != nil {
		c.capture.Start(c.ctx)
	}
	return true
}

func (c *connection) isOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *connection) isTorn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.torn
}

func (c *connection) openedSince(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.openedAt)
}

func (c *connection) setLastErr(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

func (c *connection) lastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *connection) setEndErr(err error) {
	c.mu.Lock()
	if c.endCause == nil {
		c.endCause = err
	}
	c.mu.Unlock()
}

func (c *connection) endErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endCause
}

func (c *connection) screenRunning() bool {
	c.screenMu.Lock()
	defer c.screenMu.Unlock()
	return c.screen != nil && c.screen.Running()
}

// stopScreen stops the sampler and reports whether one was running.
func (c *connection) stopScreen() bool {
	c.screenMu.Lock()
	sm := c.screen
	c.screen = nil
	c.screenMu.Unlock()
	if sm == nil {
		return false
	}
	running := sm.Running()
	sm.Stop()
	return running
}

func (c *connection) appendInput(text string) {
	c.textMu.Lock()
	c.inText.WriteString(text)
	c.textMu.Unlock()
}

func (c *connection) appendOutput(text string) {
	c.textMu.Lock()
	c.outText.WriteString(text)
	c.textMu.Unlock()
}

// takeInput returns and clears the user text heard so far.
func (c *connection) takeInput() string {
	c.textMu.Lock()
	defer c.textMu.Unlock()
	in := strings.TrimSpace(c.inText.String())
	c.inText.Reset()
	return in
}

// takeTurn returns and clears both transcription buffers.
func (c *connection) takeTurn() (in, out string) {
	c.textMu.Lock()
	defer c.textMu.Unlock()
	in = strings.TrimSpace(c.inText.String())
	out = strings.TrimSpace(c.outText.String())
	c.inText.Reset()
	c.outText.Reset()
	return in, out
}

// teardown stops screen sampling, stops capture, releases audio output and
// closes the transport, in that order. Only the first call does anything.
func (c *connection) teardown() {
	c.once.Do(func() {
		c.mu.Lock()
		c.torn = true
		c.mu.Unlock()

		c.stopScreen()
		if c.capture != nil {
			c.capture.Stop()
		}
		if c.scheduler != nil {
			if err := c.scheduler.Close(); err != nil {
				c.logger.Debug("session: audio output close failed", "error", err)
			}
		}
		if c.dispatcher != nil {
			c.dispatcher.Close()
		}
		if c.pending != nil {
			if err := c.pending.Close(); err != nil {
				c.logger.Debug("session: transport close failed", "error", err)
			}
		}
		c.cancel()
		close(c.done)
	})
}
