// Package scanner drives the scan loop: it walks the chain from the resume
// point, fans block fetching and parsing out to workers, and commits results
// strictly in height order.
package scanner

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/goodnatureofminers/ordscan-backend/internal/clock"
	"github.com/goodnatureofminers/ordscan-backend/internal/inscription/chain"
	"github.com/goodnatureofminers/ordscan-backend/internal/inscription/checkpoint"
)

// Config tunes the scan loop. Zero values fall back to defaults.
type Config struct {
	WorkerCount  int
	Window       int
	PollInterval time.Duration
	RetryDelay   time.Duration
	MaxPayload   int

	// StartHeight, when set, overrides the checkpoint and re-scans from
	// that height. The transaction cache still suppresses duplicate
	// output.
	StartHeight *uint64

	// EndHeight, when set, stops the scan after that block commits
	// instead of following the chain tip.
	EndHeight *uint64
}

type Service struct {
	logger       *zap.Logger
	metrics      ScannerMetrics
	source       chain.BlockSource
	cp           Checkpoint
	sleep        func(context.Context, time.Duration) error
	pollInterval time.Duration
	retryDelay   time.Duration
	window       int
	base         uint64
	end          *uint64

	processor *blockProcessor
	committer *committer
}

func New(
	logger *zap.Logger,
	metrics ScannerMetrics,
	source chain.BlockSource,
	sink chain.Sink,
	txCache TxCache,
	cp Checkpoint,
	cfg Config,
) (*Service, error) {
	if metrics == nil {
		return nil, errors.New("scanner metrics is required")
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = defaultWorkerCount
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.MaxPayload <= 0 {
		cfg.MaxPayload = defaultMaxPayload
	}

	base, resume, err := resolveStart(cp, cfg.StartHeight)
	if err != nil {
		return nil, err
	}
	if cfg.StartHeight != nil {
		logger.Info("explicit start height set, re-scanning", zap.Uint64("height", base))
	}

	return &Service{
		logger:       logger,
		metrics:      metrics,
		source:       source,
		cp:           cp,
		sleep:        clock.SleepWithContext,
		pollInterval: cfg.PollInterval,
		retryDelay:   cfg.RetryDelay,
		window:       cfg.Window,
		base:         base,
		end:          cfg.EndHeight,
		processor: &blockProcessor{
			workerCount: cfg.WorkerCount,
			maxPayload:  cfg.MaxPayload,
			source:      source,
			txCache:     txCache,
			metrics:     metrics,
			logger:      logger.Named("blockProcessor"),
		},
		committer: &committer{
			sink:    sink,
			txCache: txCache,
			cp:      cp,
			metrics: metrics,
			logger:  logger.Named("committer"),
			resume:  resume,
		},
	}, nil
}

// resolveStart picks the first height to scan. An explicit override rebases
// the checkpoint; otherwise the scan resumes after the last committed block,
// honoring any partial-commit marker.
func resolveStart(cp Checkpoint, override *uint64) (uint64, *checkpoint.Partial, error) {
	if override != nil {
		cp.Rebase(*override)
		return *override, nil, nil
	}

	resume, err := cp.PartialMarker()
	if err != nil {
		return 0, nil, err
	}

	current, ok := cp.Current()
	if !ok {
		return 0, resume, nil
	}
	return current + 1, resume, nil
}

// Run scans until ctx is cancelled. Transient failures are retried in place;
// context cancellation, checkpoint ordering violations, and durable write
// failures end the loop, leaving the last committed height standing.
func (s *Service) Run(ctx context.Context) error {
	next := s.base
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.end != nil && next > *s.end {
			s.logger.Info("end height committed, stopping", zap.Uint64("height", *s.end))
			return nil
		}

		tip, err := s.source.LatestHeight(ctx)
		if err != nil {
			s.logger.Error("latest height failed", zap.Error(err))
			if err = s.sleep(ctx, s.retryDelay); err != nil {
				return err
			}
			continue
		}

		if next > tip {
			s.logger.Debug("at chain tip, polling",
				zap.Uint64("next", next),
				zap.Uint64("tip", tip),
			)
			if err = s.sleep(ctx, s.pollInterval); err != nil {
				return err
			}
			continue
		}

		end := next + uint64(s.window) - 1
		if end > tip {
			end = tip
		}
		if s.end != nil && end > *s.end {
			end = *s.end
		}

		err = s.scanRange(ctx, next, end)
		next = s.committed()
		switch {
		case err == nil:
			continue
		case errors.Is(err, checkpoint.ErrNonSequential):
			return err
		case errors.Is(err, errDurableWrite):
			s.logger.Error("durable write failed, stopping",
				zap.Uint64("next", next),
				zap.Error(err),
			)
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, chain.ErrNotYetMined):
			if err = s.sleep(ctx, s.pollInterval); err != nil {
				return err
			}
		default:
			s.logger.Error("scan range failed, retrying",
				zap.Uint64("from", next),
				zap.Error(err),
			)
			if err = s.sleep(ctx, s.retryDelay); err != nil {
				return err
			}
		}
	}
}

// scanRange processes [from, to] concurrently and commits in order. On error
// the committed prefix stays committed and the rest is retried.
func (s *Service) scanRange(ctx context.Context, from, to uint64) error {
	heights := make([]uint64, 0, to-from+1)
	for h := from; h <= to; h++ {
		heights = append(heights, h)
	}

	results := make(chan *blockResult, len(heights))
	processDone := make(chan error, 1)
	go func() {
		processDone <- s.processor.Process(ctx, heights, results)
	}()

	commitErr := s.committer.Run(ctx, from, results)
	processErr := <-processDone

	if commitErr != nil {
		return commitErr
	}
	return processErr
}

// committed returns the next height to scan based on durable state.
func (s *Service) committed() uint64 {
	if current, ok := s.cp.Current(); ok {
		return current + 1
	}
	return s.base
}
