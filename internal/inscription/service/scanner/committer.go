package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/goodnatureofminers/ordscan-backend/internal/inscription/cache"
	"github.com/goodnatureofminers/ordscan-backend/internal/inscription/chain"
	"github.com/goodnatureofminers/ordscan-backend/internal/inscription/checkpoint"
)

// errDurableWrite marks failures to land cache or checkpoint state on disk.
// They are not retryable in place: the run must stop at the last known-good
// checkpoint.
var errDurableWrite = errors.New("durable write failed")

// committer turns out-of-order scan results back into strictly ascending
// block commits. A block is committed by emitting its inscriptions, caching
// its transactions durably, and only then advancing the checkpoint.
type committer struct {
	sink    chain.Sink
	txCache TxCache
	cp      Checkpoint
	metrics ScannerMetrics
	logger  *zap.Logger

	// resume lists transactions already committed for the first block
	// after a crash mid-commit.
	resume *checkpoint.Partial
}

// Run consumes results until the channel closes. next is the first height it
// will commit; anything arriving above it is held back until the gap fills.
// The hold-back set is bounded by the scan window. A stop signal takes
// effect only between blocks: results already parsed still commit, and no
// block is ever left half-committed.
func (c *committer) Run(ctx context.Context, next uint64, results <-chan *blockResult) error {
	pending := make(map[uint64]*blockResult)

	// Commits run detached from cancellation so a block either commits
	// whole or not at all.
	commitCtx := context.WithoutCancel(ctx)

	commitReady := func() error {
		for {
			b, ready := pending[next]
			if !ready {
				return nil
			}
			delete(pending, next)
			if err := c.commitBlock(commitCtx, b); err != nil {
				return err
			}
			next++
		}
	}

	for {
		select {
		case <-ctx.Done():
			// The processor stops on the same signal and closes the
			// channel; whatever it already parsed still commits.
			for res := range results {
				pending[res.height] = res
			}
			if err := commitReady(); err != nil {
				return err
			}
			return ctx.Err()
		case res, ok := <-results:
			if !ok {
				return ctx.Err()
			}
			pending[res.height] = res
			if err := commitReady(); err != nil {
				return err
			}
		}
	}
}

func (c *committer) commitBlock(ctx context.Context, b *blockResult) error {
	started := time.Now()

	var skip map[uint32]struct{}
	if c.resume != nil && c.resume.Height == b.height {
		skip = make(map[uint32]struct{}, len(c.resume.CompletedTxs))
		for _, idx := range c.resume.CompletedTxs {
			skip[idx] = struct{}{}
		}
	}
	c.resume = nil

	var (
		completed    = make([]uint32, 0, len(b.txs))
		inscriptions int
		rejections   int
		sinceDurable int
	)
	for _, tx := range b.txs {
		if _, ok := skip[tx.index]; ok || tx.seen {
			completed = append(completed, tx.index)
			continue
		}
		rejections += tx.rejections

		ids := make([]string, 0, len(tx.inscriptions))
		for _, ins := range tx.inscriptions {
			if err := c.sink.Emit(ctx, ins); err != nil {
				if errors.Is(err, chain.ErrRejected) {
					rejections++
					c.logger.Warn("inscription rejected",
						zap.String("id", ins.ID.String()),
						zap.Error(err),
					)
					continue
				}
				return fmt.Errorf("emit inscription %s: %w", ins.ID, err)
			}
			ids = append(ids, ins.ID.String())
			inscriptions++
		}

		err := c.txCache.Put(ctx, tx.txid, cache.Entry{Height: b.height, Inscriptions: ids})
		if err != nil {
			return fmt.Errorf("%w: cache tx %s: %w", errDurableWrite, tx.txid, err)
		}
		completed = append(completed, tx.index)
		sinceDurable++

		if sinceDurable >= partialFlushEvery {
			if err := c.markDurable(ctx, b.height, completed); err != nil {
				return err
			}
			sinceDurable = 0
		}
	}

	c.metrics.AddInscriptions(inscriptions)
	c.metrics.AddRejections(rejections)

	if err := c.txCache.Flush(ctx); err != nil {
		return fmt.Errorf("%w: flush cache for block %d: %w", errDurableWrite, b.height, err)
	}

	err := c.cp.Advance(b.height)
	c.metrics.ObserveCommitBlock(err, b.height, started)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNonSequential) {
			return fmt.Errorf("advance checkpoint to %d: %w", b.height, err)
		}
		return fmt.Errorf("%w: advance checkpoint to %d: %w", errDurableWrite, b.height, err)
	}

	c.logger.Info("block committed",
		zap.Uint64("height", b.height),
		zap.String("hash", b.hash),
		zap.Int("txs", len(b.txs)),
		zap.Int("inscriptions", inscriptions),
		zap.Int("rejections", rejections),
	)
	return nil
}

// markDurable flushes the cache and records partial progress so a crash
// resumes inside the block instead of replaying it wholesale.
func (c *committer) markDurable(ctx context.Context, height uint64, completed []uint32) error {
	if err := c.txCache.Flush(ctx); err != nil {
		return fmt.Errorf("%w: flush cache mid-block %d: %w", errDurableWrite, height, err)
	}
	p := checkpoint.Partial{
		Height:       height,
		CompletedTxs: append([]uint32(nil), completed...),
	}
	if err := c.cp.PutPartial(p); err != nil {
		return fmt.Errorf("%w: record partial progress at %d: %w", errDurableWrite, height, err)
	}
	return nil
}
