// Package history persists session snapshots. The live session hands every
// snapshot to a Flusher, which writes it through a Store on its own goroutine.
package history

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/vango-go/vai-canvas/pkg/core/transcript"
	"github.com/vango-go/vai-canvas/pkg/core/workspace"
)

// ErrNotFound is returned when a session id has no snapshot.
var ErrNotFound = errors.New("history: session not found")

// Snapshot is the persisted record of one connection lifetime. It is opaque
// to the stores: they key it by SessionID and store it whole.
type Snapshot struct {
	SessionID    string             `json:"session_id"`
	StartTime    time.Time          `json:"start_time"`
	EndTime      *time.Time         `json:"end_time,omitempty"`
	Transcript   []transcript.Entry `json:"transcript"`
	Items        []workspace.Item   `json:"items"`
	ActiveItemID string             `json:"active_item_id,omitempty"`
}

// Closed reports whether the snapshot was taken at disconnect.
func (s Snapshot) Closed() bool { return s.EndTime != nil }

// Store is the key-value session store. Save is an upsert keyed by
// SessionID. List returns snapshots newest StartTime first.
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	List(ctx context.Context) ([]Snapshot, error)
	Delete(ctx context.Context, sessionID string) error
}

// Find returns the snapshot for sessionID using the store's List.
func Find(ctx context.Context, store Store, sessionID string) (Snapshot, error) {
	snaps, err := store.List(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	for _, s := range snaps {
		if s.SessionID == sessionID {
			return s, nil
		}
	}
	return Snapshot{}, ErrNotFound
}

func sortNewestFirst(snaps []Snapshot) {
	sort.SliceStable(snaps, func(i, j int) bool {
		return snaps[i].StartTime.After(snaps[j].StartTime)
	})
}
