package notify

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeTimer struct {
	d       time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (f *fakeTimers) afterFunc(d time.Duration, fn func()) timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{d: d, fn: fn}
	f.timers = append(f.timers, t)
	return t
}

func newTestQueue(opts ...Option) (*Queue, *fakeTimers) {
	q := NewQueue(opts...)
	ft := &fakeTimers{}
	q.afterFunc = ft.afterFunc
	seq := 0
	q.newID = func() string {
		seq++
		return fmt.Sprintf("n_%d", seq)
	}
	return q, ft
}

func TestQueue_PushArmsTimerWithDefaultTTL(t *testing.T) {
	q, ft := newTestQueue()

	n := q.Info("connected")
	if n.Severity != SeverityInfo || n.Message != "connected" {
		t.Fatalf("Push() = %+v", n)
	}
	if len(ft.timers) != 1 || ft.timers[0].d != 3*time.Second {
		t.Fatalf("timers = %+v, want one 3s timer", ft.timers)
	}
	if got := len(q.List()); got != 1 {
		t.Fatalf("len(List()) = %d, want 1", got)
	}
}

func TestQueue_ExpiresIndependently(t *testing.T) {
	q, ft := newTestQueue()

	q.Success("a")
	q.Error("b")
	q.Info("c")

	// Expire the middle one first.
	ft.timers[1].fn()
	got := q.List()
	if len(got) != 2 || got[0].Message != "a" || got[1].Message != "c" {
		t.Fatalf("List() after expiring b = %+v", got)
	}

	ft.timers[0].fn()
	ft.timers[2].fn()
	if got := q.List(); len(got) != 0 {
		t.Fatalf("List() after all expired = %+v, want empty", got)
	}

	// Expiring twice is harmless.
	ft.timers[0].fn()
}

func TestQueue_DismissStopsTimer(t *testing.T) {
	q, ft := newTestQueue()

	n := q.Info("x")
	if !q.Dismiss(n.ID) {
		t.Fatalf("Dismiss() = false, want true")
	}
	if !ft.timers[0].stopped {
		t.Fatalf("timer not stopped after Dismiss")
	}
	if q.Dismiss(n.ID) {
		t.Fatalf("second Dismiss() = true, want false")
	}
}

func TestQueue_ListenerAndClose(t *testing.T) {
	var seen []Notification
	q, ft := newTestQueue(WithListener(func(n Notification) { seen = append(seen, n) }), WithTTL(time.Second))

	q.Error("boom")
	if len(seen) != 1 || seen[0].Severity != SeverityError {
		t.Fatalf("listener saw %+v", seen)
	}
	if ft.timers[0].d != time.Second {
		t.Fatalf("ttl = %v, want 1s", ft.timers[0].d)
	}

	q.Close()
	if !ft.timers[0].stopped {
		t.Fatalf("Close() did not stop timers")
	}
	if got := len(q.List()); got != 0 {
		t.Fatalf("len(List()) after Close = %d, want 0", got)
	}
}

func TestQueue_PushAfterCloseIsDropped(t *testing.T) {
	var seen []Notification
	q, ft := newTestQueue(WithListener(func(n Notification) { seen = append(seen, n) }))
	q.Close()

	n := q.Success("late")
	if n.Message != "late" {
		t.Fatalf("Push() after Close = %+v", n)
	}
	if len(ft.timers) != 0 {
		t.Fatalf("timers armed after Close = %d, want 0", len(ft.timers))
	}
	if got := len(q.List()); got != 0 || len(seen) != 0 {
		t.Fatalf("len(List()) = %d, listener calls = %d after Close, want 0, 0", got, len(seen))
	}
	q.Close()
}

func TestQueue_RealTimerExpires(t *testing.T) {
	q := NewQueue(WithTTL(10 * time.Millisecond))
	q.Info("short lived")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(q.List()) == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("notification did not expire")
}
