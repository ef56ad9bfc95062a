// Package playback turns inbound model audio chunks into a gap-free,
// non-overlapping timeline and derives the "agent is speaking" signal.
package playback

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-go/vai-canvas/pkg/core/media"
	"github.com/vango-go/vai-canvas/pkg/metrics"
)

// Lead is how far ahead of the clock a burst starts once the clock has
// caught up with the schedule.
const Lead = 50 * time.Millisecond

var ErrClosed = errors.New("playback: scheduler closed")

// Unit is one scheduled chunk of PCM16 audio.
type Unit struct {
	ID       uint64
	PCM      []byte
	Start    time.Duration
	Duration time.Duration
}

// Output is a playback device with its own clock.
//
// Schedule must never invoke ended synchronously. ended is called once when
// the unit finishes naturally; units removed by StopAll or Close never call it.
type Output interface {
	Now() time.Duration
	Schedule(u Unit, ended func())
	StopAll()
	Close() error
}

type Option func(*Scheduler)

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithOnSpeaking registers a callback for speaking transitions. Calls are
// delivered in order. The callback must not call Enqueue, Interrupt or Close.
func WithOnSpeaking(fn func(bool)) Option {
	return func(s *Scheduler) { s.onSpeaking = fn }
}

// Scheduler places chunks back to back on an Output's timeline.
type Scheduler struct {
	out        Output
	logger     *slog.Logger
	metrics    *metrics.Metrics
	onSpeaking func(bool)

	mu        sync.Mutex
	nextStart time.Duration
	active    map[uint64]struct{}
	seq       uint64
	speaking  bool
	closed    bool

	// notifyMu is taken before mu is released so speaking callbacks keep
	// the order of the transitions that caused them.
	notifyMu sync.Mutex
}

func New(out Output, opts ...Option) *Scheduler {
	s := &Scheduler{
		out:    out,
		logger: slog.Default(),
		active: make(map[uint64]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue decodes a 24 kHz PCM16 mono chunk and schedules it after everything
// already scheduled. It returns the scheduled unit.
func (s *Scheduler) Enqueue(chunk []byte) (Unit, error) {
	buf, err := media.DecodeAudio(chunk, media.OutputFormat)
	if err != nil {
		return Unit{}, err
	}
	dur := buf.Duration()
	if dur <= 0 {
		return Unit{}, nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Unit{}, ErrClosed
	}
	now := s.out.Now()
	if s.nextStart <= now {
		s.nextStart = now + Lead
	}
	s.seq++
	u := Unit{ID: s.seq, PCM: buf.PCM, Start: s.nextStart, Duration: dur}
	s.nextStart += dur
	s.active[u.ID] = struct{}{}

	id := u.ID
	s.out.Schedule(u, func() { s.finish(id) })
	changed := !s.speaking
	s.speaking = true
	s.unlockAndNotify(changed, true)

	s.metrics.RecordPlaybackUnit()
	return u, nil
}

func (s *Scheduler) finish(id uint64) {
	s.mu.Lock()
	if _, ok := s.active[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.active, id)
	changed := len(s.active) == 0 && s.speaking
	if changed {
		s.speaking = false
	}
	s.unlockAndNotify(changed, false)
}

// Interrupt stops every scheduled unit and resets the timeline so the next
// chunk starts a fresh burst.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.out.StopAll()
	dropped := len(s.active)
	s.active = make(map[uint64]struct{})
	s.nextStart = 0
	changed := s.speaking
	s.speaking = false
	s.unlockAndNotify(changed, false)

	if dropped > 0 {
		s.logger.Debug("playback: interrupted", "dropped_units", dropped)
	}
}

// Speaking reports whether any unit is scheduled and not yet finished.
func (s *Scheduler) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// NextStart returns the offset at which the next chunk would be placed if
// the clock has not caught up.
func (s *Scheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

// Close stops playback and releases the output. It is idempotent.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.out.StopAll()
	s.active = make(map[uint64]struct{})
	changed := s.speaking
	s.speaking = false
	s.unlockAndNotify(changed, false)

	return s.out.Close()
}

// unlockAndNotify releases mu and, if changed, delivers v to onSpeaking.
func (s *Scheduler) unlockAndNotify(changed, v bool) {
	if !changed || s.onSpeaking == nil {
		s.mu.Unlock()
		return
	}
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()
	s.onSpeaking(v)
}
