package kv

import (
	"bytes"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// rootBucket is the single top-level bbolt bucket holding the whole
// keyspace, so the store behaves as one flat ordered byte range.
var rootBucket = []byte("root")

// boltStore implements Store on top of a bbolt database file.
//
// The database is opened with NoSync so that unsynced writes can batch;
// sync=true writes call Sync explicitly after the commit.
type boltStore struct {
	db *bolt.DB
}

// Open opens or creates the database file at path.
func Open(path string) (Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	db.NoSync = true

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rootBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init store: %w", err)
	}

	return &boltStore{db: db}, nil
}

func (s *boltStore) Get(key []byte) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(rootBucket).Get(key)
		if v == nil {
			return ErrNotFound
		}
		value = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *boltStore) Put(key, value []byte, sync bool) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(rootBucket).Put(key, value)
	})
	if err != nil {
		return fmt.Errorf("put failed: %w", err)
	}
	if sync {
		if err := s.db.Sync(); err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
	}
	return nil
}

func (s *boltStore) Delete(key []byte, sync bool) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(rootBucket).Delete(key)
	})
	if err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	if sync {
		if err := s.db.Sync(); err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
	}
	return nil
}

func (s *boltStore) Scan(r Range) Iterator {
	tx, err := s.db.Begin(false)
	if err != nil {
		return &boltIterator{err: fmt.Errorf("scan failed: %w", err), closed: true}
	}
	return &boltIterator{
		tx:     tx,
		cursor: tx.Bucket(rootBucket).Cursor(),
		rng:    r,
	}
}

func (s *boltStore) Close() error {
	if err := s.db.Sync(); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}

// boltIterator walks one bbolt cursor under its own read transaction. The
// transaction is held until Close so delivered slices stay valid; they are
// copied anyway so callers can retain them.
type boltIterator struct {
	tx     *bolt.Tx
	cursor *bolt.Cursor
	rng    Range

	started bool
	count   int
	key     []byte
	value   []byte
	err     error
	closed  bool
}

// lowerBound resolves Start/GTE/GT to a single bound; excl reports whether
// the bound itself is excluded.
func (it *boltIterator) lowerBound() (bound []byte, excl bool, ok bool) {
	bound = it.rng.Start
	if it.rng.GTE != nil && (bound == nil || bytes.Compare(it.rng.GTE, bound) > 0) {
		bound, excl = it.rng.GTE, false
	}
	if it.rng.GT != nil && (bound == nil || bytes.Compare(it.rng.GT, bound) >= 0) {
		bound, excl = it.rng.GT, true
	}
	return bound, excl, bound != nil
}

// upperBound resolves LT/LTE; incl reports whether the bound itself is
// included.
func (it *boltIterator) upperBound() (bound []byte, incl bool, ok bool) {
	if it.rng.LT != nil {
		bound, incl = it.rng.LT, false
	}
	if it.rng.LTE != nil && (bound == nil || bytes.Compare(it.rng.LTE, bound) < 0) {
		bound, incl = it.rng.LTE, true
	}
	return bound, incl, bound != nil
}

func (it *boltIterator) aboveLower(key []byte) bool {
	lo, excl, ok := it.lowerBound()
	if !ok {
		return true
	}
	c := bytes.Compare(key, lo)
	if excl {
		return c > 0
	}
	return c >= 0
}

func (it *boltIterator) belowUpper(key []byte) bool {
	hi, incl, ok := it.upperBound()
	if !ok {
		return true
	}
	c := bytes.Compare(key, hi)
	if incl {
		return c <= 0
	}
	return c < 0
}

// first positions the cursor on the first in-range entry.
func (it *boltIterator) first() ([]byte, []byte) {
	if it.rng.Reverse {
		hi, incl, ok := it.upperBound()
		if !ok {
			return it.cursor.Last()
		}
		k, v := it.cursor.Seek(hi)
		if k == nil {
			// Past the last key; the last key may still be in range.
			return it.cursor.Last()
		}
		if !incl || bytes.Compare(k, hi) > 0 {
			for k != nil && !it.belowUpper(k) {
				k, v = it.cursor.Prev()
			}
		}
		return k, v
	}

	lo, excl, ok := it.lowerBound()
	if !ok {
		return it.cursor.First()
	}
	k, v := it.cursor.Seek(lo)
	if excl && k != nil && bytes.Equal(k, lo) {
		k, v = it.cursor.Next()
	}
	return k, v
}

func (it *boltIterator) Next() bool {
	if it.closed || it.err != nil {
		return false
	}
	if it.rng.Limit > 0 && it.count >= it.rng.Limit {
		return false
	}

	var k, v []byte
	if !it.started {
		it.started = true
		k, v = it.first()
	} else if it.rng.Reverse {
		k, v = it.cursor.Prev()
	} else {
		k, v = it.cursor.Next()
	}

	if k == nil {
		return false
	}
	if it.rng.Reverse {
		if !it.aboveLower(k) {
			return false
		}
	} else if !it.belowUpper(k) {
		return false
	}

	it.key = append([]byte(nil), k...)
	it.value = append([]byte(nil), v...)
	it.count++
	return true
}

func (it *boltIterator) Key() []byte   { return it.key }
func (it *boltIterator) Value() []byte { return it.value }
func (it *boltIterator) Err() error    { return it.err }

func (it *boltIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	return it.tx.Rollback()
}
