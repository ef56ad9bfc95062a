package playback

import (
	"sync"
	"time"
)

// TimerOutput is a silent Output that completes units on the wall clock.
// It is used when no speaker is available.
type TimerOutput struct {
	origin time.Time

	mu     sync.Mutex
	timers map[uint64]*time.Timer
	closed bool
}

func NewTimerOutput() *TimerOutput {
	return &TimerOutput{origin: time.Now(), timers: make(map[uint64]*time.Timer)}
}

func (o *TimerOutput) Now() time.Duration { return time.Since(o.origin) }

func (o *TimerOutput) Schedule(u Unit, ended func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	// AfterFunc runs on its own goroutine, so ended is never called inline.
	wait := u.Start + u.Duration - o.Now()
	id := u.ID
	o.timers[id] = time.AfterFunc(wait, func() {
		o.mu.Lock()
		_, live := o.timers[id]
		delete(o.timers, id)
		o.mu.Unlock()
		if live {
			ended()
		}
	})
}

func (o *TimerOutput) StopAll() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, t := range o.timers {
		t.Stop()
		delete(o.timers, id)
	}
}

// Pending returns the number of units not yet finished.
func (o *TimerOutput) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.timers)
}

func (o *TimerOutput) Close() error {
	o.StopAll()
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	return nil
}
