// Package workspace is the canvas item store mutated by tool calls.
//
// Items are kept newest first. The store owns a single active-item pointer
// that is either empty or references an item that currently exists.
package workspace

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind is the type of a canvas item.
type Kind string

const (
	KindNote        Kind = "note"
	KindImage       Kind = "image"
	KindRoutine     Kind = "routine"
	KindSuggestion  Kind = "suggestion"
	KindSpreadsheet Kind = "spreadsheet"
)

// ParseKind validates a kind name. An empty name is a note.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return KindNote, nil
	case KindNote, KindImage, KindRoutine, KindSuggestion, KindSpreadsheet:
		return k, nil
	default:
		return "", fmt.Errorf("unknown item kind %q", s)
	}
}

// Item is a user-visible artifact. Content is free text for notes and
// suggestions, a data URL for images, line-oriented steps for routines and
// comma-separated rows for spreadsheets.
type Item struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Patch holds the optional fields of an update. Nil fields keep their value.
type Patch struct {
	Title   *string
	Content *string
}

// Store is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	items    []Item
	activeID string

	onChange func()
	now      func() time.Time
	newID    func() string
}

// Option configures a Store.
type Option func(*Store)

// WithOnChange registers fn to be called after every mutation, outside the
// store lock.
func WithOnChange(fn func()) Option {
	return func(s *Store) { s.onChange = fn }
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create inserts a new item at the front and makes it active.
func (s *Store) Create(kind Kind, title, content string) Item {
	if kind == "" {
		kind = KindNote
	}
	item := Item{
		ID:        s.newID(),
		Kind:      kind,
		Title:     title,
		Content:   content,
		CreatedAt: s.now(),
	}

	s.mu.Lock()
	s.items = append([]Item{item}, s.items...)
	s.activeID = item.ID
	s.mu.Unlock()

	s.changed()
	return item
}

// Get returns the item with id.
func (s *Store) Get(id string) (Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.items[i], true
	}
	return Item{}, false
}

// List returns all items, newest first.
func (s *Store) List() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Item, len(s.items))
	copy(out, s.items)
	return out
}

// Len returns the number of items.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Update applies p to the item with id. Other items are untouched.
func (s *Store) Update(id string, p Patch) (Item, bool) {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return Item{}, false
	}
	if p.Title != nil {
		s.items[i].Title = *p.Title
	}
	if p.Content != nil {
		s.items[i].Content = *p.Content
	}
	item := s.items[i]
	s.mu.Unlock()

	s.changed()
	return item, true
}

// Delete removes the item with id and clears the active pointer if it
// referenced that item.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	if s.activeID == id {
		s.activeID = ""
	}
	s.mu.Unlock()

	s.changed()
	return true
}

// ActiveID returns the active item id, or "".
func (s *Store) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// Active returns the active item.
func (s *Store) Active() (Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.activeID == "" {
		return Item{}, false
	}
	if i := s.indexLocked(s.activeID); i >= 0 {
		return s.items[i], true
	}
	return Item{}, false
}

// SetActive selects an existing item. An empty id clears the selection.
func (s *Store) SetActive(id string) bool {
	s.mu.Lock()
	if id != "" && s.indexLocked(id) < 0 {
		s.mu.Unlock()
		return false
	}
	s.activeID = id
	s.mu.Unlock()

	s.changed()
	return true
}

// Listing renders the items as one "- [id] title (kind)" line each.
func (s *Store) Listing() string {
	items := s.List()
	if len(items) == 0 {
		return "No items in workspace."
	}
	var b strings.Builder
	for i, item := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- [%s] %s (%s)", item.ID, item.Title, item.Kind)
	}
	return b.String()
}

// Reset removes every item without notifying the change hook. It is used when
// a new session starts.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	s.activeID = ""
}

func (s *Store) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}
