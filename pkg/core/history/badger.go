package history

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dgraph-io/badger/v4"
)

const badgerSessionPrefix = "sess:"

// BadgerStore keeps snapshots as JSON under "sess:<id>" keys.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens the store at path. An empty path opens an in-memory store.
func OpenBadger(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }

func (s *BadgerStore) Save(ctx context.Context, snap Snapshot) error {
	key := []byte(badgerSessionPrefix + snap.SessionID)
	buf, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, buf)
	})
}

func (s *BadgerStore) List(ctx context.Context) ([]Snapshot, error) {
	var out []Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerSessionPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var snap Snapshot
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &snap)
			}); err != nil {
				return err
			}
			out = append(out, snap)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *BadgerStore) Delete(ctx context.Context, sessionID string) error {
	key := []byte(badgerSessionPrefix + sessionID)
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return txn.Delete(key)
	})
}
