package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"go.uber.org/zap"

	"github.com/goodnatureofminers/ordscan-backend/internal/inscription/chain"
	"github.com/goodnatureofminers/ordscan-backend/internal/inscription/script"
	"github.com/goodnatureofminers/ordscan-backend/pkg/safe"
	"github.com/goodnatureofminers/ordscan-backend/pkg/workerpool"
)

type blockProcessor struct {
	workerCount int
	maxPayload  int
	source      chain.BlockSource
	txCache     TxCache
	metrics     ScannerMetrics
	logger      *zap.Logger
}

// Process fetches and parses the given heights concurrently, streaming
// results to out in completion order. It closes out when done; the first
// worker error cancels the rest.
func (p *blockProcessor) Process(ctx context.Context, heights []uint64, out chan<- *blockResult) error {
	defer close(out)

	return workerpool.Process(ctx, p.workerCount, heights, func(ctx context.Context, height uint64) error {
		res, err := p.processHeight(ctx, height)
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- res:
			return nil
		}
	})
}

func (p *blockProcessor) processHeight(ctx context.Context, height uint64) (*blockResult, error) {
	started := time.Now()
	block, err := p.source.FetchBlock(ctx, height)
	p.metrics.ObserveFetchBlock(err, height, started)
	if err != nil {
		return nil, fmt.Errorf("fetch block height %d: %w", height, err)
	}

	// btcutil caches tx hashes, so the lookup key and the inscription ids
	// share one hash computation per transaction.
	txs := btcutil.NewBlock(block.Block).Transactions()

	res := &blockResult{
		height: height,
		hash:   block.Hash,
		txs:    make([]txResult, 0, len(txs)),
	}

	for i, tx := range txs {
		index, err := safe.Uint32(i)
		if err != nil {
			return nil, fmt.Errorf("tx index in block %d: %w", height, err)
		}
		txid := tx.Hash().String()

		_, seen, err := p.txCache.Seen(ctx, txid)
		if err != nil {
			return nil, fmt.Errorf("cache lookup tx %s: %w", txid, err)
		}
		if seen {
			res.txs = append(res.txs, txResult{txid: txid, index: index, seen: true})
			continue
		}

		ins, rejections := script.FromTransaction(tx, height, index, p.maxPayload)
		for _, rej := range rejections {
			p.logger.Warn("envelope rejected",
				zap.Uint64("height", height),
				zap.String("txid", txid),
				zap.String("reason", string(rej.Reason)),
			)
		}

		res.txs = append(res.txs, txResult{
			txid:         txid,
			index:        index,
			inscriptions: ins,
			rejections:   len(rejections),
		})
	}

	return res, nil
}
