// Package cache provides the layered dedup state for the scanner: a bloom
// existence filter in front of an LRU memory layer backed by a persistent
// embedded store.
package cache

import (
	"fmt"
	"os"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// Presence is the outcome of a bloom probe.
type Presence int

const (
	// DefinitelyAbsent guarantees the key was never inserted; no store
	// lookup is needed.
	DefinitelyAbsent Presence = iota
	// MaybePresent is a hint only and requires store confirmation.
	MaybePresent
)

// Bloom is a concurrency-safe probabilistic existence filter with no false
// negatives and a construction-time false positive target.
type Bloom struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
}

// NewBloom sizes a filter for the expected item count and target false
// positive rate.
func NewBloom(expectedItems uint, fpRate float64) *Bloom {
	return &Bloom{filter: bloom.NewWithEstimates(expectedItems, fpRate)}
}

// Insert adds a key to the filter.
func (b *Bloom) Insert(key []byte) {
	b.mu.Lock()
	b.filter.Add(key)
	b.mu.Unlock()
}

// Probe reports whether the key may have been inserted before.
func (b *Bloom) Probe(key []byte) Presence {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.filter.Test(key) {
		return MaybePresent
	}
	return DefinitelyAbsent
}

// dirtyMarkerSuffix names the sidecar file written while a filter diverges
// from its snapshot. SaveSnapshot clears it; finding it on startup means the
// previous run died with the snapshot out of date.
const dirtyMarkerSuffix = ".dirty"

// SaveSnapshot persists the filter state, writing to a temp file first so a
// crash mid-write never leaves a corrupt snapshot behind. A successful save
// clears the dirty marker.
func (b *Bloom) SaveSnapshot(path string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create bloom snapshot: %w", err)
	}
	if _, err = b.filter.WriteTo(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write bloom snapshot: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("close bloom snapshot: %w", err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return err
	}
	if err = os.Remove(path + dirtyMarkerSuffix); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear bloom dirty marker: %w", err)
	}
	return nil
}

// LoadBloomSnapshot restores a filter persisted by SaveSnapshot. The error
// satisfies os.IsNotExist when no snapshot has been written yet.
func LoadBloomSnapshot(path string) (*Bloom, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	filter := &bloom.BloomFilter{}
	if _, err = filter.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("read bloom snapshot: %w", err)
	}
	return &Bloom{filter: filter}, nil
}
