// Package notify is the ephemeral, user-facing notification list. Every
// notification expires on its own timer, independent of any other event.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is how long a notification stays visible.
const DefaultTTL = 3 * time.Second

// Severity classifies a notification for display.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
	SeverityInfo    Severity = "info"
)

// Notification is a single user-facing message.
type Notification struct {
	ID        string    `json:"id"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

type timer interface {
	Stop() bool
}

// Option configures a Queue.
type Option func(*Queue)

// WithTTL overrides the expiry delay.
func WithTTL(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.ttl = d
		}
	}
}

// WithListener registers fn to be called after every push.
func WithListener(fn func(Notification)) Option {
	return func(q *Queue) {
		q.listener = fn
	}
}

// Queue holds the currently visible notifications, oldest first.
type Queue struct {
	mu       sync.Mutex
	items    []Notification
	timers   map[string]timer
	ttl      time.Duration
	listener func(Notification)
	closed   bool

	now       func() time.Time
	afterFunc func(time.Duration, func()) timer
	newID     func() string
}

// NewQueue creates an empty queue.
func NewQueue(opts ...Option) *Queue {
	q := &Queue{
		timers: make(map[string]timer),
		ttl:    DefaultTTL,
		now:    time.Now,
		afterFunc: func(d time.Duration, fn func()) timer {
			return time.AfterFunc(d, fn)
		},
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Push adds a notification and arms its expiry timer. After Close it only
// returns the notification.
func (q *Queue) Push(severity Severity, message string) Notification {
	n := Notification{
		ID:        q.newID(),
		Severity:  severity,
		Message:   message,
		CreatedAt: q.now(),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return n
	}
	q.items = append(q.items, n)
	q.timers[n.ID] = q.afterFunc(q.ttl, func() { q.expire(n.ID) })
	listener := q.listener
	q.mu.Unlock()

	if listener != nil {
		listener(n)
	}
	return n
}

// Success pushes a success notification.
func (q *Queue) Success(message string) Notification { return q.Push(SeveritySuccess, message) }

// Error pushes an error notification.
func (q *Queue) Error(message string) Notification { return q.Push(SeverityError, message) }

// Info pushes an info notification.
func (q *Queue) Info(message string) Notification { return q.Push(SeverityInfo, message) }

// List returns the visible notifications, oldest first.
func (q *Queue) List() []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Notification, len(q.items))
	copy(out, q.items)
	return out
}

// Dismiss removes a notification before it expires.
func (q *Queue) Dismiss(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t, ok := q.timers[id]; ok {
		t.Stop()
	}
	return q.removeLocked(id)
}

// Close stops all pending expiry timers and clears the queue. Later pushes
// are dropped.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
	q.items = nil
}

func (q *Queue) expire(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removeLocked(id)
}

func (q *Queue) removeLocked(id string) bool {
	delete(q.timers, id)
	for i, n := range q.items {
		if n.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}
