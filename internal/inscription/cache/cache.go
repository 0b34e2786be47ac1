package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/goodnatureofminers/ordscan-backend/pkg/batcher"
)

const flushRPS = 50

// Metrics records cache lookup outcomes per layer.
type Metrics interface {
	ObserveLookup(layer string, hit bool)
}

// Config sizes the multi-level cache.
type Config struct {
	MemSize       int
	FlushSize     int
	FlushInterval time.Duration
}

// MultiLevel is the authoritative dedup cache. Reads go bloom → memory →
// store, promoting store hits into memory. Writes land in memory and the
// bloom filter immediately and are queued for batched durable writes; Flush
// is the barrier callers use before advancing the checkpoint, so an entry is
// never covered by a checkpoint without being durable first.
type MultiLevel struct {
	logger  *zap.Logger
	metrics Metrics
	store   *Store
	bloom   *Bloom
	mem     *lru.Cache[string, Entry]
	writes  *batcher.Batcher[KV]
}

// NewMultiLevel assembles the cache over an opened store and bloom filter.
func NewMultiLevel(logger *zap.Logger, metrics Metrics, store *Store, bloomFilter *Bloom, cfg Config) (*MultiLevel, error) {
	if metrics == nil {
		return nil, errors.New("cache metrics is required")
	}
	mem, err := lru.New[string, Entry](cfg.MemSize)
	if err != nil {
		return nil, fmt.Errorf("init memory cache: %w", err)
	}

	c := &MultiLevel{
		logger:  logger,
		metrics: metrics,
		store:   store,
		bloom:   bloomFilter,
		mem:     mem,
	}
	c.writes = batcher.New[KV](logger.Named("flusher"), c.flushBatch, cfg.FlushSize, cfg.FlushInterval, flushRPS)
	return c, nil
}

// Start begins the background flush loop. The loop is detached from ctx
// cancellation so that writes queued during shutdown still reach the store;
// Stop is its only terminator.
func (c *MultiLevel) Start(ctx context.Context) {
	c.writes.Start(context.WithoutCancel(ctx))
}

// Stop drains pending writes and stops the flush loop.
func (c *MultiLevel) Stop() {
	c.writes.Stop()
}

// Seen reports whether txid was processed before and returns its entry.
func (c *MultiLevel) Seen(_ context.Context, txid string) (Entry, bool, error) {
	if c.bloom.Probe([]byte(txid)) == DefinitelyAbsent {
		c.metrics.ObserveLookup("bloom", false)
		return Entry{}, false, nil
	}

	if entry, ok := c.mem.Get(txid); ok {
		c.metrics.ObserveLookup("memory", true)
		return entry, true, nil
	}

	raw, err := c.store.Get([]byte(txid))
	if err != nil {
		return Entry{}, false, err
	}
	if raw == nil {
		// Bloom false positive.
		c.metrics.ObserveLookup("store", false)
		return Entry{}, false, nil
	}

	entry, err := decodeEntry(raw)
	if err != nil {
		return Entry{}, false, err
	}
	c.mem.Add(txid, entry)
	c.metrics.ObserveLookup("store", true)
	return entry, true, nil
}

// Put records a processed transaction in every layer. The durable write is
// asynchronous; call Flush before treating it as committed.
func (c *MultiLevel) Put(ctx context.Context, txid string, entry Entry) error {
	data, err := entry.encode()
	if err != nil {
		return err
	}

	c.mem.Add(txid, entry)
	c.bloom.Insert([]byte(txid))
	return c.writes.Add(ctx, KV{Key: []byte(txid), Value: data})
}

// Flush forces every queued entry onto the persistent layer and returns the
// write error, if any.
func (c *MultiLevel) Flush(ctx context.Context) error {
	return c.writes.Flush(ctx)
}

func (c *MultiLevel) flushBatch(_ context.Context, pairs []KV) error {
	return c.store.PutBatch(pairs)
}

// LoadOrRebuildBloom restores the filter from its snapshot, or rebuilds it
// from the store's key set. A snapshot left behind by an unclean shutdown is
// ignored: the store may hold keys the snapshot predates, and loading it
// would reintroduce false negatives. The dirty marker written here is
// cleared by SaveSnapshot, so its presence on the next start identifies the
// crash.
func LoadOrRebuildBloom(logger *zap.Logger, store *Store, snapshotPath string, expectedItems uint, fpRate float64) (*Bloom, error) {
	marker := snapshotPath + dirtyMarkerSuffix

	var b *Bloom
	if _, err := os.Stat(marker); err == nil {
		logger.Warn("unclean shutdown, bloom snapshot is stale", zap.String("path", snapshotPath))
	} else {
		loaded, err := LoadBloomSnapshot(snapshotPath)
		switch {
		case err == nil:
			logger.Info("bloom snapshot loaded", zap.String("path", snapshotPath))
			b = loaded
		case !os.IsNotExist(err):
			logger.Warn("bloom snapshot unreadable, rebuilding from store", zap.Error(err))
		}
	}

	if b == nil {
		b = NewBloom(expectedItems, fpRate)
		keys := 0
		err := store.ForEachKey(func(key []byte) error {
			b.Insert(key)
			keys++
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("rebuild bloom from store: %w", err)
		}
		logger.Info("bloom filter rebuilt", zap.Int("keys", keys))
	}

	if err := os.WriteFile(marker, nil, 0o600); err != nil {
		return nil, fmt.Errorf("write bloom dirty marker: %w", err)
	}
	return b, nil
}
