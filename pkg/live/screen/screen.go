// Package screen samples a screen-capture source at a fixed cadence and
// forwards each still frame to the live transport.
package screen

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-go/vai-canvas/pkg/core/media"
	"github.com/vango-go/vai-canvas/pkg/live/transport"
	"github.com/vango-go/vai-canvas/pkg/metrics"
)

// DefaultInterval is one frame per second.
const DefaultInterval = time.Second

// ErrSourceEnded is returned by a Source whose capture was stopped outside
// the process, such as a revoked permission.
var ErrSourceEnded = errors.New("screen: capture source ended")

// Source captures one still frame per call.
type Source interface {
	Capture(ctx context.Context) (media.Blob, error)
	Close() error
}

// Sender is the outbound half of a transport.
type Sender interface {
	SendMedia(ctx context.Context, blob media.Blob) error
}

type Option func(*Sampler)

func WithInterval(d time.Duration) Option {
	return func(s *Sampler) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Sampler) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sampler) { s.metrics = m }
}

// WithOnEnded is called once, from the sampling goroutine, when the source
// ends on its own. The sampler is already disabled when it runs.
func WithOnEnded(fn func(error)) Option {
	return func(s *Sampler) { s.onEnded = fn }
}

// Sampler owns one ticker goroutine.
type Sampler struct {
	src      Source
	out      Sender
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	onEnded  func(error)

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	stopped   bool
	closeOnce sync.Once
}

func New(src Source, out Sender, opts ...Option) *Sampler {
	s := &Sampler{
		src:      src,
		out:      out,
		interval: DefaultInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins sampling. It is a no-op once started or stopped.
func (s *Sampler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil || s.stopped {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
}

// Running reports whether the sampler is active.
func (s *Sampler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done != nil && !s.stopped
}

// Stop halts sampling, waits for the goroutine and closes the source.
// It is idempotent and must not be called from the onEnded callback.
func (s *Sampler) Stop() {
	s.mu.Lock()
	s.stopped = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	s.closeSource()
}

func (s *Sampler) closeSource() {
	s.closeOnce.Do(func() {
		if err := s.src.Close(); err != nil {
			s.logger.Debug("screen: source close failed", "error", err)
		}
	})
}

func (s *Sampler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := s.sample(ctx); err != nil {
			s.end(err)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sampler) sample(ctx context.Context) error {
	blob, err := s.src.Capture(ctx)
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		if errors.Is(err, ErrSourceEnded) {
			return err
		}
		s.logger.Debug("screen: capture failed", "error", err)
		s.metrics.RecordScreenFrame("failed")
		return nil
	}
	if blob.MIMEType == "" {
		blob.MIMEType = media.MIMETypeJPEG
	}
	if transport.BestEffort(s.logger, "screen frame", func() error { return s.out.SendMedia(ctx, blob) }) {
		s.metrics.RecordScreenFrame("sent")
	} else {
		s.metrics.RecordScreenFrame("dropped")
	}
	return nil
}

// end disables the sampler after the source ended and reports it.
func (s *Sampler) end(err error) {
	s.mu.Lock()
	already := s.stopped
	s.stopped = true
	s.mu.Unlock()
	if already {
		return
	}
	s.closeSource()
	s.logger.Info("screen: capture source ended", "error", err)
	if s.onEnded != nil {
		s.onEnded(err)
	}
}
