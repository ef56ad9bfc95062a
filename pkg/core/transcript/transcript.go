// Package transcript is the bounded, append-only conversation log.
package transcript

import (
	"sync"
	"time"
)

// MaxEntries is the retention limit. Appending to a full log drops the oldest
// entry.
const MaxEntries = 100

// Role tags who produced an entry.
type Role string

const (
	RoleUser   Role = "user"
	RoleModel  Role = "model"
	RoleSystem Role = "system"
)

// Entry is immutable once appended.
type Entry struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Log is safe for concurrent use.
type Log struct {
	mu       sync.Mutex
	entries  []Entry
	max      int
	onAppend func(Entry)
	now      func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithOnAppend registers fn to be called with each appended entry, outside
// the lock.
func WithOnAppend(fn func(Entry)) Option {
	return func(l *Log) { l.onAppend = fn }
}

// WithMaxEntries overrides the retention limit.
func WithMaxEntries(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.max = n
		}
	}
}

// New creates an empty log.
func New(opts ...Option) *Log {
	l := &Log{max: MaxEntries, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append adds an entry stamped with the current time.
func (l *Log) Append(role Role, text string) Entry {
	l.mu.Lock()
	e := Entry{Role: role, Text: text, Timestamp: l.now()}
	if len(l.entries) >= l.max {
		drop := len(l.entries) - l.max + 1
		l.entries = append(l.entries[:0:0], l.entries[drop:]...)
	}
	l.entries = append(l.entries, e)
	l.mu.Unlock()

	if l.onAppend != nil {
		l.onAppend(e)
	}
	return e
}

// System appends a system entry.
func (l *Log) System(text string) Entry { return l.Append(RoleSystem, text) }

// Entries returns a copy of the retained entries in append order.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Reset empties the log without calling the change hook.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}
