package cache

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketTxSeen = []byte("tx_seen")

// KV is a single pending key/value pair queued for a durable batch write.
type KV struct {
	Key   []byte
	Value []byte
}

// Store is the persistent layer of the cache: an embedded key-value store
// holding one entry per processed transaction. It grows monotonically;
// nothing is deleted during normal operation.
type Store struct {
	db *bolt.DB
}

// OpenStore opens (creating if needed) the store file at path.
func OpenStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cache store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketTxSeen)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init cache bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Get returns the value stored under key, or nil when absent. The returned
// slice is an owned copy.
func (s *Store) Get(key []byte) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketTxSeen).Get(key); v != nil {
			value = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}
	return value, nil
}

// PutBatch writes all pairs in one durable transaction; either every pair is
// persisted or none is.
func (s *Store) PutBatch(pairs []KV) error {
	if len(pairs) == 0 {
		return nil
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTxSeen)
		for _, kv := range pairs {
			if err := b.Put(kv.Key, kv.Value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache put batch: %w", err)
	}
	return nil
}

// ForEachKey visits every stored key; used to rebuild the bloom filter on a
// cold start without a snapshot.
func (s *Store) ForEachKey(fn func(key []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTxSeen).ForEach(func(k, _ []byte) error {
			return fn(k)
		})
	})
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}
