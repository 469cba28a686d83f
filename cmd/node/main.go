package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/qxchain/qxchain-node/internal/archive"
	archclickhouse "github.com/qxchain/qxchain-node/internal/archive/clickhouse"
	"github.com/qxchain/qxchain-node/internal/clock"
	"github.com/qxchain/qxchain-node/internal/consensus"
	"github.com/qxchain/qxchain-node/internal/crypto"
	"github.com/qxchain/qxchain-node/internal/ledger"
	"github.com/qxchain/qxchain-node/internal/metrics"
	"github.com/qxchain/qxchain-node/internal/mining"
	"github.com/qxchain/qxchain-node/internal/node"
	"github.com/qxchain/qxchain-node/internal/transport"
	"github.com/qxchain/qxchain-node/internal/wallet"
)

type config struct {
	ListenAddr  string `long:"listen-addr" env:"QX_NODE_LISTEN_ADDR" description:"API listen address" default:":8080"`
	MetricsAddr string `long:"metrics-addr" env:"QX_NODE_METRICS_ADDR" description:"metrics listen address" default:":2112"`
	RPS         int    `long:"rps" env:"QX_NODE_RPS" description:"API requests per second" default:"50"`

	TargetBlockTime    time.Duration `long:"target-block-time" env:"QX_NODE_TARGET_BLOCK_TIME" description:"desired block interval" default:"10s"`
	AdjustmentInterval uint64        `long:"adjustment-interval" env:"QX_NODE_ADJUSTMENT_INTERVAL" description:"blocks between difficulty retargets" default:"10"`
	MinDifficulty      uint64        `long:"min-difficulty" env:"QX_NODE_MIN_DIFFICULTY" description:"difficulty floor" default:"1"`
	BaseReward         uint64        `long:"base-reward" env:"QX_NODE_BASE_REWARD" description:"block reward before halving" default:"50"`
	HalvingInterval    uint64        `long:"halving-interval" env:"QX_NODE_HALVING_INTERVAL" description:"blocks between reward halvings, 0 disables" default:"0"`
	MaxBlockTxs        int           `long:"max-block-txs" env:"QX_NODE_MAX_BLOCK_TXS" description:"pending transactions per block" default:"100"`

	MinerAddress string        `long:"miner-address" env:"QX_NODE_MINER_ADDRESS" description:"mine continuously to this address when set"`
	MineInterval time.Duration `long:"mine-interval" env:"QX_NODE_MINE_INTERVAL" description:"pause between mining attempts" default:"1s"`

	ClickhouseDSN        string        `long:"clickhouse-dsn" env:"QX_NODE_CLICKHOUSE_DSN" description:"ClickHouse DSN for the chain archive, empty disables"`
	ArchiveFlushSize     int           `long:"archive-flush-size" env:"QX_NODE_ARCHIVE_FLUSH_SIZE" description:"blocks per archive batch" default:"64"`
	ArchiveFlushInterval time.Duration `long:"archive-flush-interval" env:"QX_NODE_ARCHIVE_FLUSH_INTERVAL" description:"max archive flush delay" default:"5s"`
	ArchiveRPS           int           `long:"archive-rps" env:"QX_NODE_ARCHIVE_RPS" description:"archive flushes per second" default:"4"`
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

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("node failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config, logger *zap.Logger) error {
	startMetricsServer(ctx, cfg.MetricsAddr, logger)

	provider, err := crypto.NewProvider()
	if err != nil {
		return fmt.Errorf("init crypto provider: %w", err)
	}

	engine := mining.NewEngine(provider, mining.Config{
		TargetBlockTime:         cfg.TargetBlockTime,
		AdjustmentInterval:      cfg.AdjustmentInterval,
		MinDifficulty:           cfg.MinDifficulty,
		BaseReward:              cfg.BaseReward,
		HalvingInterval:         cfg.HalvingInterval,
		MaxTransactionsPerBlock: cfg.MaxBlockTxs,
	}, logger, metrics.NewMiner())

	resolver := consensus.NewResolver(provider, logger, metrics.NewConsensus(), 0, cfg.MinDifficulty)

	opts := []node.Option{node.WithPoolMetrics(metrics.NewPool())}
	if cfg.ClickhouseDSN != "" {
		archiveMetrics := metrics.NewArchiveRepository()
		repo, err := archclickhouse.NewRepository(cfg.ClickhouseDSN, archiveMetrics)
		if err != nil {
			return fmt.Errorf("init archive repository: %w", err)
		}
		archiver := archive.New(repo, archive.Config{
			FlushSize:     cfg.ArchiveFlushSize,
			FlushInterval: cfg.ArchiveFlushInterval,
			RPS:           cfg.ArchiveRPS,
		}, logger, archive.WithMetrics(archiveMetrics))
		archiver.Start(ctx)
		defer archiver.Stop()
		opts = append(opts, node.WithSink(archiver))
	}

	n := node.New(provider, engine, resolver, ledger.DefaultGenesis(), logger, opts...)
	wallets := wallet.NewStore(provider)

	if cfg.MinerAddress != "" {
		go mineLoop(ctx, n, cfg.MinerAddress, cfg.MineInterval, logger)
	}

	handler := transport.NewHandler(n, wallets, provider, logger,
		transport.WithMetrics(metrics.NewHTTP()),
		transport.WithRequestsPerSecond(cfg.RPS),
	)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           cors.Default().Handler(handler.Router()),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    http.DefaultMaxHeaderBytes,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down the http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown http server", zap.Error(err))
		}
	}()

	logger.Info("starting API server", zap.String("addr", cfg.ListenAddr))
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// mineLoop mines continuously, pausing between blocks so transaction
// submission is never starved.
func mineLoop(ctx context.Context, n *node.Node, minerAddress string, interval time.Duration, logger *zap.Logger) {
	logger = logger.Named("mine-loop")
	for {
		if _, err := n.MineBlock(ctx, minerAddress); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("mining attempt failed", zap.Error(err))
		}
		if err := clock.SleepWithContext(ctx, interval); err != nil {
			return
		}
	}
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
