package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func delta(t *testing.T, collector prometheus.Collector, observe func()) float64 {
	t.Helper()

	before := testutil.ToFloat64(collector)
	observe()
	after := testutil.ToFloat64(collector)
	return after - before
}

func TestScannerRecords(t *testing.T) {
	m := NewScanner("")
	start := time.Now().Add(-time.Second)

	if inc := delta(t, scannerFetchBlockTotal.WithLabelValues("unknown", "success"), func() {
		m.ObserveFetchBlock(nil, 100, start)
	}); inc != 1 {
		t.Fatalf("expected fetch block counter increment, got %v", inc)
	}

	if inc := delta(t, scannerCommitBlockTotal.WithLabelValues("unknown", "error"), func() {
		m.ObserveCommitBlock(errors.New("boom"), 100, start)
	}); inc != 1 {
		t.Fatalf("expected commit block error counter increment, got %v", inc)
	}

	if inc := delta(t, scannerInscriptionsTotal.WithLabelValues("unknown"), func() {
		m.AddInscriptions(3)
	}); inc != 3 {
		t.Fatalf("expected inscriptions counter +3, got %v", inc)
	}

	if inc := delta(t, scannerRejectionsTotal.WithLabelValues("unknown"), func() {
		m.AddRejections(0)
	}); inc != 0 {
		t.Fatalf("expected no rejection increment for zero count, got %v", inc)
	}
}

func TestRPCClientRecords(t *testing.T) {
	m := NewRPCClient("testnet")
	start := time.Now().Add(-250 * time.Millisecond)

	if inc := delta(t, rpcRequestsTotal.WithLabelValues("get_block", "testnet", "success"), func() {
		m.Observe("get_block", nil, start)
	}); inc != 1 {
		t.Fatalf("expected rpc success counter increment, got %v", inc)
	}

	if inc := delta(t, rpcRequestsTotal.WithLabelValues("get_block_hash", "testnet", "error"), func() {
		m.Observe("get_block_hash", errors.New("fail"), start)
	}); inc != 1 {
		t.Fatalf("expected rpc error counter increment, got %v", inc)
	}
}

func TestCacheRecords(t *testing.T) {
	m := NewCache("mainnet")

	if inc := delta(t, cacheLookupsTotal.WithLabelValues("mainnet", "memory", "hit"), func() {
		m.ObserveLookup("memory", true)
	}); inc != 1 {
		t.Fatalf("expected cache hit counter increment, got %v", inc)
	}

	if inc := delta(t, cacheLookupsTotal.WithLabelValues("mainnet", "store", "miss"), func() {
		m.ObserveLookup("store", false)
	}); inc != 1 {
		t.Fatalf("expected cache miss counter increment, got %v", inc)
	}
}
