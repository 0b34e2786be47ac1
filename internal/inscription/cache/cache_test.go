package cache

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type nopMetrics struct {
	mu      sync.Mutex
	lookups map[string]int
}

func newNopMetrics() *nopMetrics {
	return &nopMetrics{lookups: make(map[string]int)}
}

func (m *nopMetrics) ObserveLookup(layer string, hit bool) {
	m.mu.Lock()
	m.lookups[layer]++
	m.mu.Unlock()
}

func newTestCache(t *testing.T, memSize int) (*MultiLevel, *Store, *nopMetrics) {
	t.Helper()

	store, err := OpenStore(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})

	metrics := newNopMetrics()
	c, err := NewMultiLevel(zap.NewNop(), metrics, store, NewBloom(1_000, 0.01), Config{
		MemSize:       memSize,
		FlushSize:     64,
		FlushInterval: time.Hour,
	})
	require.NoError(t, err)
	return c, store, metrics
}

func TestMultiLevel_PutThenSeen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, _, _ := newTestCache(t, 16)
	c.Start(ctx)
	defer c.Stop()

	entry := Entry{Height: 7, Inscriptions: []string{"abci0"}}
	require.NoError(t, c.Put(ctx, "abc", entry))

	got, seen, err := c.Seen(ctx, "abc")
	require.NoError(t, err)
	require.True(t, seen)
	require.Equal(t, entry, got)
}

func TestMultiLevel_AbsentKeySkipsStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, _, metrics := newTestCache(t, 16)
	c.Start(ctx)
	defer c.Stop()

	_, seen, err := c.Seen(ctx, "never-inserted")
	require.NoError(t, err)
	require.False(t, seen)

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	require.Equal(t, 1, metrics.lookups["bloom"])
	require.Zero(t, metrics.lookups["store"])
}

func TestMultiLevel_EvictedEntryPromotedFromStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, _, metrics := newTestCache(t, 1)
	c.Start(ctx)
	defer c.Stop()

	require.NoError(t, c.Put(ctx, "first", Entry{Height: 1}))
	require.NoError(t, c.Flush(ctx))

	// Evict "first" from the single-slot memory layer.
	require.NoError(t, c.Put(ctx, "second", Entry{Height: 2}))

	got, seen, err := c.Seen(ctx, "first")
	require.NoError(t, err)
	require.True(t, seen)
	require.Equal(t, uint64(1), got.Height)

	metrics.mu.Lock()
	storeHits := metrics.lookups["store"]
	metrics.mu.Unlock()
	require.Equal(t, 1, storeHits)

	// Promoted into memory: the next lookup stays there.
	_, seen, err = c.Seen(ctx, "first")
	require.NoError(t, err)
	require.True(t, seen)
	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	require.Equal(t, storeHits, metrics.lookups["store"])
}

func TestMultiLevel_FlushMakesEntriesDurable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.db")

	store, err := OpenStore(path)
	require.NoError(t, err)

	c, err := NewMultiLevel(zap.NewNop(), newNopMetrics(), store, NewBloom(100, 0.01), Config{
		MemSize:       4,
		FlushSize:     64,
		FlushInterval: time.Hour,
	})
	require.NoError(t, err)
	c.Start(ctx)

	require.NoError(t, c.Put(ctx, "txid-1", Entry{Height: 9, Inscriptions: []string{"txid-1i0"}}))
	require.NoError(t, c.Flush(ctx))
	c.Stop()
	require.NoError(t, store.Close())

	// Reopen the store cold: the entry must have survived.
	reopened, err := OpenStore(path)
	require.NoError(t, err)
	defer func() {
		_ = reopened.Close()
	}()

	raw, err := reopened.Get([]byte("txid-1"))
	require.NoError(t, err)
	require.NotNil(t, raw)

	entry, err := decodeEntry(raw)
	require.NoError(t, err)
	require.Equal(t, uint64(9), entry.Height)
	require.Equal(t, []string{"txid-1i0"}, entry.Inscriptions)
}

func TestLoadOrRebuildBloom_RebuildsFromStoreKeys(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := OpenStore(filepath.Join(dir, "cache.db"))
	require.NoError(t, err)
	defer func() {
		_ = store.Close()
	}()

	entry := Entry{Height: 1}
	data, err := entry.encode()
	require.NoError(t, err)
	require.NoError(t, store.PutBatch([]KV{
		{Key: []byte("tx-a"), Value: data},
		{Key: []byte("tx-b"), Value: data},
	}))

	b, err := LoadOrRebuildBloom(zap.NewNop(), store, filepath.Join(dir, "bloom.snapshot"), 100, 0.01)
	require.NoError(t, err)
	require.Equal(t, MaybePresent, b.Probe([]byte("tx-a")))
	require.Equal(t, MaybePresent, b.Probe([]byte("tx-b")))
	require.Equal(t, DefinitelyAbsent, b.Probe([]byte("tx-c")))
}

func TestLoadOrRebuildBloom_DistrustsSnapshotAfterCrash(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	snapshot := filepath.Join(dir, "bloom.snapshot")

	store, err := OpenStore(filepath.Join(dir, "cache.db"))
	require.NoError(t, err)
	defer func() {
		_ = store.Close()
	}()

	// First run shuts down cleanly while the store is still empty.
	b, err := LoadOrRebuildBloom(zap.NewNop(), store, snapshot, 100, 0.01)
	require.NoError(t, err)
	require.NoError(t, b.SaveSnapshot(snapshot))

	// Second run writes an entry durably, then dies before snapshotting.
	_, err = LoadOrRebuildBloom(zap.NewNop(), store, snapshot, 100, 0.01)
	require.NoError(t, err)
	entry := Entry{Height: 12}
	data, err := entry.encode()
	require.NoError(t, err)
	require.NoError(t, store.PutBatch([]KV{{Key: []byte("tx-durable"), Value: data}}))

	// Third run must not trust the stale snapshot: the filter is rebuilt
	// from the store and the durable entry stays visible.
	b, err = LoadOrRebuildBloom(zap.NewNop(), store, snapshot, 100, 0.01)
	require.NoError(t, err)
	require.Equal(t, MaybePresent, b.Probe([]byte("tx-durable")))

	c, err := NewMultiLevel(zap.NewNop(), newNopMetrics(), store, b, Config{
		MemSize:       4,
		FlushSize:     64,
		FlushInterval: time.Hour,
	})
	require.NoError(t, err)
	c.Start(ctx)
	defer c.Stop()

	got, seen, err := c.Seen(ctx, "tx-durable")
	require.NoError(t, err)
	require.True(t, seen)
	require.Equal(t, uint64(12), got.Height)
}
