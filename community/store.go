package community

import (
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// Store wraps pebble as an ordered key-value store with prefix scans and
// range deletes. All community actor state lives here, grouped under a
// "g/<id>/" prefix per community so one range covers exactly one actor.
type Store struct {
	db *pebble.DB
}

func OpenStore(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("opening store at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// NewMemStore opens a store backed by an in-memory filesystem, for tests.
func NewMemStore() (*Store, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("opening in-memory store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns nil (and no error) for a missing key.
func (s *Store) Get(key string) ([]byte, error) {
	val, closer, err := s.db.Get([]byte(key))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(val))
	copy(out, val)
	if err := closer.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Set(key string, val []byte) error {
	return s.db.Set([]byte(key), val, pebble.Sync)
}

func (s *Store) Delete(key string) error {
	return s.db.Delete([]byte(key), pebble.Sync)
}

// DeletePrefix removes every key under the given prefix in one range
// delete.
func (s *Store) DeletePrefix(prefix string) error {
	return s.db.DeleteRange([]byte(prefix), prefixEnd(prefix), pebble.Sync)
}

// Scan visits keys under prefix in ascending order. The callback returns
// false to stop early.
func (s *Store) Scan(prefix string, fn func(key string, val []byte) (bool, error)) error {
	return s.scan([]byte(prefix), prefixEnd(prefix), fn)
}

// ScanAfter visits keys under prefix strictly greater than after, in
// ascending order.
func (s *Store) ScanAfter(prefix, after string, fn func(key string, val []byte) (bool, error)) error {
	lower := append([]byte(after), 0x00)
	return s.scan(lower, prefixEnd(prefix), fn)
}

func (s *Store) scan(lower, upper []byte, fn func(key string, val []byte) (bool, error)) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upper,
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		val, err := iter.ValueAndErr()
		if err != nil {
			return err
		}
		cont, err := fn(string(iter.Key()), val)
		if err != nil {
			return err
		}
		if !cont {
			break
		}
	}
	return iter.Error()
}

// prefixEnd returns the smallest key greater than every key with the given
// prefix, or nil when no upper bound exists.
func prefixEnd(prefix string) []byte {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return b[: i+1 : i+1]
		}
	}
	return nil
}
