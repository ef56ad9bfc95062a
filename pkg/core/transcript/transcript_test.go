package transcript

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestLog_AppendKeepsOrder(t *testing.T) {
	l := New()
	l.Append(RoleUser, "hi")
	l.Append(RoleModel, "hello")
	l.System("Connected")

	got := l.Entries()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	wantRoles := []Role{RoleUser, RoleModel, RoleSystem}
	for i, r := range wantRoles {
		if got[i].Role != r {
			t.Fatalf("entries[%d].Role = %q, want %q", i, got[i].Role, r)
		}
	}
}

func TestLog_EvictsOldestWhenFull(t *testing.T) {
	l := New()
	for i := 0; i < MaxEntries+5; i++ {
		l.Append(RoleUser, fmt.Sprintf("m%d", i))
		if l.Len() > MaxEntries {
			t.Fatalf("Len() = %d after %d appends, exceeds %d", l.Len(), i+1, MaxEntries)
		}
	}

	got := l.Entries()
	if len(got) != MaxEntries {
		t.Fatalf("len = %d, want %d", len(got), MaxEntries)
	}
	if got[0].Text != "m5" {
		t.Fatalf("oldest = %q, want m5", got[0].Text)
	}
	if got[len(got)-1].Text != fmt.Sprintf("m%d", MaxEntries+4) {
		t.Fatalf("newest = %q", got[len(got)-1].Text)
	}
}

func TestLog_FullAppendDropsExactlyOne(t *testing.T) {
	l := New(WithMaxEntries(3))
	l.Append(RoleUser, "a")
	l.Append(RoleUser, "b")
	l.Append(RoleUser, "c")
	l.Append(RoleUser, "d")

	got := l.Entries()
	if len(got) != 3 || got[0].Text != "b" || got[2].Text != "d" {
		t.Fatalf("Entries() = %+v, want [b c d]", got)
	}
}

func TestLog_EntriesIsACopy(t *testing.T) {
	l := New()
	l.Append(RoleUser, "a")
	got := l.Entries()
	got[0].Text = "mutated"
	if l.Entries()[0].Text != "a" {
		t.Fatalf("Entries() exposed internal storage")
	}
}

func TestLog_TimestampAndHook(t *testing.T) {
	var seen []Entry
	l := New(WithOnAppend(func(e Entry) { seen = append(seen, e) }))
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	l.now = func() time.Time { return ts }

	e := l.System("Disconnected")
	if !e.Timestamp.Equal(ts) {
		t.Fatalf("Timestamp = %v, want %v", e.Timestamp, ts)
	}
	l.Reset()
	if len(seen) != 1 || seen[0] != e {
		t.Fatalf("onAppend entries = %+v, want [%+v]", seen, e)
	}
	if l.Len() != 0 {
		t.Fatalf("Len() after Reset = %d", l.Len())
	}
}

func TestLog_OnAppendReceivesEachEntryOnce(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	l := New(WithOnAppend(func(e Entry) {
		mu.Lock()
		seen[string(e.Role)+":"+e.Text]++
		mu.Unlock()
	}))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				l.Append(RoleUser, "u")
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				l.Append(RoleModel, "m")
			}
		}()
	}
	wg.Wait()

	want := map[string]int{string(RoleUser) + ":u": 400, string(RoleModel) + ":m": 400}
	if len(seen) != len(want) || seen[string(RoleUser)+":u"] != 400 || seen[string(RoleModel)+":m"] != 400 {
		t.Fatalf("onAppend saw %v, want %v", seen, want)
	}
}

func TestLog_ConcurrentAppend(t *testing.T) {
	l := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.Append(RoleModel, "x")
			}
		}()
	}
	wg.Wait()
	if l.Len() != MaxEntries {
		t.Fatalf("Len() = %d, want %d", l.Len(), MaxEntries)
	}
}
