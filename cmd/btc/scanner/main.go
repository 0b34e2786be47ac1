package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/rpcclient"
	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/goodnatureofminers/ordscan-backend/internal/inscription/bitcoin"
	"github.com/goodnatureofminers/ordscan-backend/internal/inscription/cache"
	"github.com/goodnatureofminers/ordscan-backend/internal/inscription/chain"
	"github.com/goodnatureofminers/ordscan-backend/internal/inscription/checkpoint"
	"github.com/goodnatureofminers/ordscan-backend/internal/inscription/model"
	"github.com/goodnatureofminers/ordscan-backend/internal/inscription/service/scanner"
	"github.com/goodnatureofminers/ordscan-backend/internal/inscription/sink"
	"github.com/goodnatureofminers/ordscan-backend/internal/metrics"
	rpcclient2 "github.com/goodnatureofminers/ordscan-backend/internal/pkg/btcd/rpcclient"
)

type config struct {
	Network     model.Network `long:"network" env:"BTC_SCANNER_NETWORK" description:"network name" required:"true"`
	RPCURL      string        `long:"rpc-url" env:"BTC_SCANNER_RPC_URL" description:"Bitcoin RPC URL" default:"http://127.0.0.1:8332"`
	RPCUser     string        `long:"rpc-user" env:"BTC_SCANNER_RPC_USER" description:"Bitcoin RPC username"`
	RPCPassword string        `long:"rpc-password" env:"BTC_SCANNER_RPC_PASSWORD" description:"Bitcoin RPC password"`
	Mock        bool          `long:"mock" env:"BTC_SCANNER_MOCK" description:"serve synthetic blocks instead of connecting to a node"`
	MockTip     uint64        `long:"mock-tip" env:"BTC_SCANNER_MOCK_TIP" description:"chain tip height in mock mode" default:"100"`

	DataDir  string `long:"data-dir" env:"BTC_SCANNER_DATA_DIR" description:"directory for cache, checkpoint and output files" default:"./data"`
	TextOut  string `long:"text-out" env:"BTC_SCANNER_TEXT_OUT" description:"JSON-lines file for text inscriptions (default <data-dir>/inscriptions.jsonl)"`
	ImageDir string `long:"image-dir" env:"BTC_SCANNER_IMAGE_DIR" description:"directory for image inscriptions (default <data-dir>/images)"`

	StartHeight  *uint64       `long:"start-height" env:"BTC_SCANNER_START_HEIGHT" description:"override the checkpoint and re-scan from this height"`
	EndHeight    *uint64       `long:"end-height" env:"BTC_SCANNER_END_HEIGHT" description:"stop after committing this height instead of following the tip"`
	Workers      int           `long:"workers" env:"BTC_SCANNER_WORKERS" description:"concurrent block fetchers" default:"8"`
	Window       int           `long:"window" env:"BTC_SCANNER_WINDOW" description:"max blocks in flight ahead of the checkpoint" default:"32"`
	PollInterval time.Duration `long:"poll-interval" env:"BTC_SCANNER_POLL_INTERVAL" description:"delay between tip checks when caught up" default:"5s"`
	MaxPayload   int           `long:"max-payload" env:"BTC_SCANNER_MAX_PAYLOAD" description:"max inscription payload bytes per envelope" default:"1048576"`

	MemCacheSize  int           `long:"mem-cache-size" env:"BTC_SCANNER_MEM_CACHE_SIZE" description:"entries kept in the in-memory cache layer" default:"100000"`
	FlushSize     int           `long:"flush-size" env:"BTC_SCANNER_FLUSH_SIZE" description:"cache entries per batched store write" default:"1000"`
	FlushInterval time.Duration `long:"flush-interval" env:"BTC_SCANNER_FLUSH_INTERVAL" description:"max delay before buffered cache writes land" default:"2s"`
	BloomItems    uint          `long:"bloom-items" env:"BTC_SCANNER_BLOOM_ITEMS" description:"expected transaction count for bloom sizing" default:"10000000"`
	BloomFPRate   float64       `long:"bloom-fp-rate" env:"BTC_SCANNER_BLOOM_FP_RATE" description:"bloom false positive target" default:"0.001"`

	MetricsAddr string `long:"metrics-addr" env:"BTC_SCANNER_METRICS_ADDR" description:"address for metrics server" default:":2112"`
}

func main() {
	cfg := config{}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic("can't initialize zap logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync()
	}()

	if _, err := flags.ParseArgs(&cfg, os.Args); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return
		}
		logger.Fatal("failed to parse flags", zap.Error(err))
	}

	if cfg.TextOut == "" {
		cfg.TextOut = filepath.Join(cfg.DataDir, "inscriptions.jsonl")
	}
	if cfg.ImageDir == "" {
		cfg.ImageDir = filepath.Join(cfg.DataDir, "images")
	}

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("btc inscription scanner failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config, logger *zap.Logger) error {
	startMetricsServer(ctx, cfg.MetricsAddr, logger)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	store, err := cache.OpenStore(filepath.Join(cfg.DataDir, "cache.db"))
	if err != nil {
		return fmt.Errorf("open cache store: %w", err)
	}
	defer func() {
		_ = store.Close()
	}()

	bloomPath := filepath.Join(cfg.DataDir, "bloom.snapshot")
	bloomFilter, err := cache.LoadOrRebuildBloom(logger, store, bloomPath, cfg.BloomItems, cfg.BloomFPRate)
	if err != nil {
		return err
	}
	defer func() {
		if err := bloomFilter.SaveSnapshot(bloomPath); err != nil {
			logger.Error("failed to save bloom snapshot", zap.Error(err))
		}
	}()

	txCache, err := cache.NewMultiLevel(logger, metrics.NewCache(cfg.Network), store, bloomFilter, cache.Config{
		MemSize:       cfg.MemCacheSize,
		FlushSize:     cfg.FlushSize,
		FlushInterval: cfg.FlushInterval,
	})
	if err != nil {
		return fmt.Errorf("init tx cache: %w", err)
	}
	txCache.Start(ctx)
	defer txCache.Stop()

	cp, err := checkpoint.Open(filepath.Join(cfg.DataDir, "checkpoint.db"))
	if err != nil {
		return err
	}
	defer func() {
		_ = cp.Close()
	}()

	source, cleanup, err := newBlockSource(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	textSink, err := sink.NewTextSink(logger, cfg.TextOut)
	if err != nil {
		return err
	}
	defer func() {
		_ = textSink.Close()
	}()
	imageSink, err := sink.NewImageSink(logger, cfg.ImageDir)
	if err != nil {
		return err
	}

	svc, err := scanner.New(
		logger,
		metrics.NewScanner(cfg.Network),
		source,
		sink.NewFanout(textSink, imageSink),
		txCache,
		cp,
		scanner.Config{
			WorkerCount:  cfg.Workers,
			Window:       cfg.Window,
			PollInterval: cfg.PollInterval,
			MaxPayload:   cfg.MaxPayload,
			StartHeight:  cfg.StartHeight,
			EndHeight:    cfg.EndHeight,
		},
	)
	if err != nil {
		return err
	}
	return svc.Run(ctx)
}

func newBlockSource(cfg config, logger *zap.Logger) (chain.BlockSource, func(), error) {
	if cfg.Mock {
		logger.Info("using mock block source", zap.Uint64("tip", cfg.MockTip))
		return bitcoin.NewMockSource(cfg.MockTip), func() {}, nil
	}

	rpcClient, err := newRPCClient(cfg.RPCURL, cfg.RPCUser, cfg.RPCPassword)
	if err != nil {
		return nil, nil, fmt.Errorf("init btc rpc client: %w", err)
	}
	cleanup := func() {
		rpcClient.Shutdown()
		rpcClient.WaitForShutdown()
	}
	rpc := rpcclient2.NewObservedClient(rpcClient, metrics.NewRPCClient(cfg.Network))
	return bitcoin.NewSource(rpc), cleanup, nil
}

func startMetricsServer(ctx context.Context, addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("starting metrics server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", zap.Error(err))
		}
	}()
}

func newRPCClient(rawURL, user, password string) (*rpcclient.Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse rpc url: %w", err)
	}
	if parsed.Scheme != "http" {
		return nil, fmt.Errorf("rpc url scheme %q not supported, use http", parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, errors.New("rpc url missing host")
	}

	cfg := &rpcclient.ConnConfig{
		Host:         parsed.Host,
		User:         user,
		Pass:         password,
		HTTPPostMode: true,
		DisableTLS:   true,
	}
	return rpcclient.New(cfg, nil)
}
