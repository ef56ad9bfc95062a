// Package capture reads microphone samples, frames them at 16 kHz and sends
// each frame to the live transport.
package capture

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/vango-go/vai-canvas/pkg/core/media"
	"github.com/vango-go/vai-canvas/pkg/live/transport"
	"github.com/vango-go/vai-canvas/pkg/metrics"
)

// Source yields mono float32 samples at media.InputSampleRate.
// ReadSamples blocks until at least one sample is available, ctx is done,
// or the source ends (io.EOF).
type Source interface {
	ReadSamples(ctx context.Context, buf []float32) (int, error)
	Close() error
}

// Sender is the outbound half of a transport.
type Sender interface {
	SendMedia(ctx context.Context, blob media.Blob) error
}

type Option func(*Pipeline)

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithOnEnd registers a callback invoked once if the source ends or fails on
// its own. It is not called after Stop.
func WithOnEnd(fn func(error)) Option {
	return func(p *Pipeline) { p.onEnd = fn }
}

// WithFrameSamples overrides the frame size.
func WithFrameSamples(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.frameSamples = n
		}
	}
}

// Pipeline owns one capture goroutine.
type Pipeline struct {
	src          Source
	out          Sender
	logger       *slog.Logger
	metrics      *metrics.Metrics
	onEnd        func(error)
	frameSamples int

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool

	sentMu  sync.Mutex
	sent    int
	dropped int
}

func New(src Source, out Sender, opts ...Option) *Pipeline {
	p := &Pipeline{
		src:          src,
		out:          out,
		logger:       slog.Default(),
		frameSamples: media.FrameSamples,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the capture loop. Calling Start twice, or after Stop, is a no-op.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil || p.stopped {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.run(ctx, p.done)
}

// Stop cancels the loop and waits for it to exit. No frame is sent after Stop
// returns. It is idempotent and closes the source.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if err := p.src.Close(); err != nil {
		p.logger.Debug("capture: source close failed", "error", err)
	}
}

// Stats returns how many frames were sent and dropped so far.
func (p *Pipeline) Stats() (sent, dropped int) {
	p.sentMu.Lock()
	defer p.sentMu.Unlock()
	return p.sent, p.dropped
}

func (p *Pipeline) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	frame := make([]float32, p.frameSamples)
	filled := 0
	for {
		n, err := p.src.ReadSamples(ctx, frame[filled:])
		filled += n
		if filled == len(frame) {
			p.send(ctx, frame)
			filled = 0
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, io.EOF) {
			err = nil
		} else {
			p.logger.Warn("capture: source failed", "error", err)
		}
		if p.onEnd != nil {
			p.onEnd(err)
		}
		return
	}
}

func (p *Pipeline) send(ctx context.Context, frame []float32) {
	if ctx.Err() != nil {
		return
	}
	blob := media.EncodeFrame(frame)
	ok := transport.BestEffort(p.logger, "audio frame", func() error {
		return p.out.SendMedia(ctx, blob)
	})

	p.sentMu.Lock()
	outcome := "sent"
	if ok {
		p.sent++
	} else {
		p.dropped++
		outcome = "dropped"
	}
	p.sentMu.Unlock()
	p.metrics.RecordAudioFrame("outbound", outcome, len(blob.Data))
}
