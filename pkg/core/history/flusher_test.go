package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vango-go/vai-canvas/pkg/core"
)

// gatedStore blocks every Save until release is closed.
type gatedStore struct {
	*MemoryStore

	mu      sync.Mutex
	saved   []string
	entered chan struct{}
	release chan struct{}
	err     error
}

func newGatedStore() *gatedStore {
	return &gatedStore{
		MemoryStore: NewMemoryStore(),
		entered:     make(chan struct{}, 16),
		release:     make(chan struct{}),
	}
}

func (g *gatedStore) Save(ctx context.Context, snap Snapshot) error {
	g.entered <- struct{}{}
	<-g.release
	g.mu.Lock()
	g.saved = append(g.saved, snap.SessionID+":"+snap.ActiveItemID)
	err := g.err
	g.mu.Unlock()
	if err != nil {
		return err
	}
	return g.MemoryStore.Save(ctx, snap)
}

func (g *gatedStore) savedKeys() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.saved...)
}

func TestFlusher_CoalescesWhileBusy(t *testing.T) {
	store := newGatedStore()
	f := NewFlusher(store)

	f.Submit(Snapshot{SessionID: "s", ActiveItemID: "1"})
	<-store.entered // first save is in progress

	f.Submit(Snapshot{SessionID: "s", ActiveItemID: "2"})
	f.Submit(Snapshot{SessionID: "s", ActiveItemID: "3"})
	close(store.release)

	f.Close()

	got := store.savedKeys()
	if len(got) != 2 || got[0] != "s:1" || got[1] != "s:3" {
		t.Fatalf("saved = %v, want [s:1 s:3]", got)
	}
	snaps, _ := store.List(context.Background())
	if len(snaps) != 1 || snaps[0].ActiveItemID != "3" {
		t.Fatalf("stored = %+v, want latest snapshot", snaps)
	}
}

func TestFlusher_KeepsOtherSessions(t *testing.T) {
	store := newGatedStore()
	f := NewFlusher(store)

	f.Submit(Snapshot{SessionID: "a", ActiveItemID: "1"})
	<-store.entered

	end := time.Now()
	f.Submit(Snapshot{SessionID: "a", ActiveItemID: "2", EndTime: &end})
	f.Submit(Snapshot{SessionID: "b", ActiveItemID: "1"})
	close(store.release)
	f.Close()

	got := store.savedKeys()
	if len(got) != 3 || got[1] != "a:2" || got[2] != "b:1" {
		t.Fatalf("saved = %v, want [a:1 a:2 b:1]", got)
	}
	snap, err := Find(context.Background(), store, "a")
	if err != nil || !snap.Closed() {
		t.Fatalf("Find(a) = %+v, %v; want closed snapshot", snap, err)
	}
}

func TestFlusher_FlushWaitsForSave(t *testing.T) {
	store := NewMemoryStore()
	f := NewFlusher(store)
	defer f.Close()

	end := time.Now()
	if err := f.Flush(context.Background(), Snapshot{SessionID: "s", EndTime: &end}); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	snap, err := Find(context.Background(), store, "s")
	if err != nil || !snap.Closed() {
		t.Fatalf("Find() = %+v, %v; want closed snapshot", snap, err)
	}
}

func TestFlusher_FlushReportsErrorAndHook(t *testing.T) {
	store := newGatedStore()
	diskFull := errors.New("disk full")
	store.err = diskFull
	close(store.release)

	var hooked []error
	var mu sync.Mutex
	f := NewFlusher(store, WithErrorHook(func(err error) {
		mu.Lock()
		hooked = append(hooked, err)
		mu.Unlock()
	}))
	defer f.Close()

	err := f.Flush(context.Background(), Snapshot{SessionID: "s"})
	if !errors.Is(err, diskFull) || core.KindOf(err) != core.KindPersistence {
		t.Fatalf("Flush() error = %v, want persistence error wrapping disk full", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(hooked) != 1 || core.KindOf(hooked[0]) != core.KindPersistence {
		t.Fatalf("error hook calls = %v, want one persistence error", hooked)
	}
}

func TestFlusher_FlushHonorsContext(t *testing.T) {
	store := newGatedStore()
	f := NewFlusher(store)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := f.Flush(ctx, Snapshot{SessionID: "s"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Flush() error = %v, want deadline exceeded", err)
	}

	close(store.release)
	f.Close()
}

func TestFlusher_ClosedRejectsFlush(t *testing.T) {
	f := NewFlusher(NewMemoryStore())
	f.Close()
	f.Close()

	if err := f.Flush(context.Background(), Snapshot{SessionID: "s"}); !errors.Is(err, ErrFlusherClosed) {
		t.Fatalf("Flush() after Close error = %v, want ErrFlusherClosed", err)
	}
	// Submit after close is a no-op.
	f.Submit(Snapshot{SessionID: "s"})
}
