package scanner

import (
	"context"
	"time"

	"github.com/goodnatureofminers/ordscan-backend/internal/inscription/cache"
	"github.com/goodnatureofminers/ordscan-backend/internal/inscription/checkpoint"
	"github.com/goodnatureofminers/ordscan-backend/internal/inscription/model"
)

type (
	// TxCache answers whether a transaction was already processed and
	// records newly processed ones.
	TxCache interface {
		Seen(ctx context.Context, txid string) (cache.Entry, bool, error)
		Put(ctx context.Context, txid string, entry cache.Entry) error
		Flush(ctx context.Context) error
	}

	// Checkpoint tracks the highest fully committed block.
	Checkpoint interface {
		Current() (uint64, bool)
		Advance(height uint64) error
		Rebase(height uint64)
		PutPartial(p checkpoint.Partial) error
		PartialMarker() (*checkpoint.Partial, error)
	}

	ScannerMetrics interface {
		ObserveFetchBlock(err error, height uint64, started time.Time)
		ObserveCommitBlock(err error, height uint64, started time.Time)
		AddInscriptions(count int)
		AddRejections(count int)
	}
)

// txResult is one scanned transaction awaiting commit.
type txResult struct {
	txid         string
	index        uint32
	seen         bool
	inscriptions []model.Inscription
	rejections   int
}

// blockResult is one scanned block awaiting ordered commit.
type blockResult struct {
	height uint64
	hash   string
	txs    []txResult
}
