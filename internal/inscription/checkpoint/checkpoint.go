// Package checkpoint persists scan progress: the highest fully committed
// block height plus an optional partial-commit marker. It is the single
// source of truth for where a resumed scan starts.
package checkpoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ugorji/go/codec"
	bolt "go.etcd.io/bbolt"
)

// ErrNonSequential signals an Advance call that would skip or repeat a
// height. It indicates a scheduling bug and is never corrected silently.
var ErrNonSequential = errors.New("checkpoint advance out of order")

var (
	bucketCheckpoint = []byte("checkpoint")
	keyHeight        = []byte("height")
	keyPartial       = []byte("partial")
)

var cborHandle = &codec.CborHandle{}

// Partial records in-progress commitment of a single block: the height being
// committed and the transaction indices already durably cached.
type Partial struct {
	Height       uint64   `codec:"h"`
	CompletedTxs []uint32 `codec:"t,omitempty"`
}

// Store is a durable, strictly sequential checkpoint. Every Advance persists
// synchronously before returning; the store is cheap to write and its loss
// has outsized correctness impact, so it is never batched.
type Store struct {
	db *bolt.DB

	mu      sync.Mutex
	current uint64
	started bool
}

// Open opens (creating if needed) the checkpoint file at path and loads the
// last committed height.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}

	s := &Store{db: db}
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketCheckpoint)
		if err != nil {
			return err
		}
		if v := b.Get(keyHeight); len(v) == 8 {
			s.current = binary.BigEndian.Uint64(v)
			s.started = true
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init checkpoint: %w", err)
	}
	return s, nil
}

// Current returns the last committed height. The second return is false when
// nothing has ever been committed.
func (s *Store) Current() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.started
}

// Advance records height as fully committed. It is legal only for the height
// immediately following the current one (the first Advance after Open or
// Rebase establishes the base) and persists before returning.
func (s *Store) Advance(height uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started && height != s.current+1 {
		return fmt.Errorf("%w: have %d, got %d", ErrNonSequential, s.current, height)
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCheckpoint)
		var v [8]byte
		binary.BigEndian.PutUint64(v[:], height)
		if err := b.Put(keyHeight, v[:]); err != nil {
			return err
		}
		return b.Delete(keyPartial)
	})
	if err != nil {
		return fmt.Errorf("persist checkpoint %d: %w", height, err)
	}

	s.current = height
	s.started = true
	return nil
}

// Rebase moves the resume point so the next Advance must be height. Used
// only when an explicit start height was requested: that is a deliberate
// re-scan and bypasses the sequential contract once.
func (s *Store) Rebase(height uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if height == 0 {
		s.started = false
		s.current = 0
		return
	}
	s.current = height - 1
	s.started = true
}

// PutPartial durably records in-progress commitment of one block.
func (s *Store) PutPartial(p Partial) error {
	var data []byte
	if err := codec.NewEncoderBytes(&data, cborHandle).Encode(p); err != nil {
		return fmt.Errorf("encode partial marker: %w", err)
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCheckpoint).Put(keyPartial, data)
	})
	if err != nil {
		return fmt.Errorf("persist partial marker: %w", err)
	}
	return nil
}

// PartialMarker returns the in-progress marker, or nil when the last commit
// completed cleanly.
func (s *Store) PartialMarker() (*Partial, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketCheckpoint).Get(keyPartial); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read partial marker: %w", err)
	}
	if data == nil {
		return nil, nil
	}

	var p Partial
	if err := codec.NewDecoderBytes(data, cborHandle).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode partial marker: %w", err)
	}
	return &p, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}
