package history

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-go/vai-canvas/pkg/core"
)

// ErrFlusherClosed is returned by Flush after Close.
var ErrFlusherClosed = errors.New("history: flusher closed")

// DefaultSaveTimeout bounds a single background save.
const DefaultSaveTimeout = 5 * time.Second

// Flusher serializes snapshot writes on one goroutine. Submitted snapshots
// coalesce per session: while a save is running only the latest pending
// snapshot of each session is kept, and later snapshots never get
// overwritten by earlier ones.
type Flusher struct {
	store   Store
	logger  *slog.Logger
	timeout time.Duration
	onError func(error)

	mu      sync.Mutex
	pending map[string]Snapshot
	order   []string
	waiters []chan error
	closed  bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// FlusherOption configures a Flusher.
type FlusherOption func(*Flusher)

// WithLogger sets the logger used for save failures.
func WithLogger(l *slog.Logger) FlusherOption {
	return func(f *Flusher) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithSaveTimeout bounds each background save.
func WithSaveTimeout(d time.Duration) FlusherOption {
	return func(f *Flusher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithErrorHook is called for every failed save, after logging.
func WithErrorHook(fn func(error)) FlusherOption {
	return func(f *Flusher) { f.onError = fn }
}

// NewFlusher starts the write goroutine. Call Close to stop it.
func NewFlusher(store Store, opts ...FlusherOption) *Flusher {
	f := &Flusher{
		store:   store,
		logger:  slog.Default(),
		timeout: DefaultSaveTimeout,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	go f.run()
	return f
}

// Submit queues snap for saving and returns immediately.
func (f *Flusher) Submit(snap Snapshot) {
	f.enqueue(snap, nil)
}

// Flush queues snap and waits until it (or a later snapshot) has been saved,
// or ctx is done.
func (f *Flusher) Flush(ctx context.Context, snap Snapshot) error {
	ch := make(chan error, 1)
	if !f.enqueue(snap, ch) {
		return ErrFlusherClosed
	}
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close saves anything still pending and stops the goroutine.
func (f *Flusher) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		<-f.done
		return
	}
	f.closed = true
	f.mu.Unlock()
	close(f.stop)
	<-f.done
}

func (f *Flusher) enqueue(snap Snapshot, waiter chan error) bool {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return false
	}
	if f.pending == nil {
		f.pending = make(map[string]Snapshot)
	}
	if _, queued := f.pending[snap.SessionID]; !queued {
		f.order = append(f.order, snap.SessionID)
	}
	f.pending[snap.SessionID] = snap
	if waiter != nil {
		f.waiters = append(f.waiters, waiter)
	}
	f.mu.Unlock()

	select {
	case f.wake <- struct{}{}:
	default:
	}
	return true
}

func (f *Flusher) run() {
	defer close(f.done)
	for {
		select {
		case <-f.wake:
			f.drain()
		case <-f.stop:
			f.drain()
			return
		}
	}
}

func (f *Flusher) drain() {
	for {
		f.mu.Lock()
		pending, order, waiters := f.pending, f.order, f.waiters
		f.pending, f.order, f.waiters = nil, nil, nil
		f.mu.Unlock()
		if len(order) == 0 {
			return
		}

		var err error
		for _, id := range order {
			if serr := f.save(pending[id]); serr != nil && err == nil {
				err = serr
			}
		}
		for _, w := range waiters {
			w <- err
		}
	}
}

func (f *Flusher) save(snap Snapshot) error {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	err := f.store.Save(ctx, snap)
	if err != nil {
		err = core.NewPersistenceError("save snapshot", err)
		f.logger.Warn("history: save snapshot failed",
			"session_id", snap.SessionID,
			"error", err,
		)
		if f.onError != nil {
			f.onError(err)
		}
	}
	return err
}
