package archive

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/qxchain/qxchain-node/internal/ledger"
	"github.com/qxchain/qxchain-node/pkg/batcher"
)

// Repository persists archive rows.
type Repository interface {
	InsertBlocks(ctx context.Context, rows []BlockRow) error
	InsertTransactions(ctx context.Context, rows []TransactionRow) error
}

// Metrics tracks archive batch flushes.
type Metrics interface {
	ObserveBatch(blocks int)
}

type nopMetrics struct{}

func (nopMetrics) ObserveBatch(int) {}

// Config tunes the write-behind buffer.
type Config struct {
	FlushSize     int           `long:"flush-size" env:"FLUSH_SIZE" default:"64" description:"Blocks per archive batch"`
	FlushInterval time.Duration `long:"flush-interval" env:"FLUSH_INTERVAL" default:"5s" description:"Max time a block waits before flush"`
	RPS           int           `long:"rps" env:"RPS" default:"4" description:"Max archive flushes per second"`
}

func (c Config) withDefaults() Config {
	if c.FlushSize <= 0 {
		c.FlushSize = 64
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.RPS <= 0 {
		c.RPS = 4
	}
	return c
}

// Archiver buffers accepted blocks and writes them to the repository in
// batches. It satisfies the node's block sink.
type Archiver struct {
	repo    Repository
	logger  *zap.Logger
	metrics Metrics
	batch   *batcher.Batcher[*ledger.Block]

	ctx context.Context
}

// Option customizes an Archiver.
type Option func(*Archiver)

// WithMetrics reports batch sizes.
func WithMetrics(m Metrics) Option {
	return func(a *Archiver) { a.metrics = m }
}

// New constructs an Archiver. Start must be called before blocks flow.
func New(repo Repository, cfg Config, logger *zap.Logger, opts ...Option) *Archiver {
	cfg = cfg.withDefaults()
	a := &Archiver{
		repo:    repo,
		logger:  logger.Named("archiver"),
		metrics: nopMetrics{},
		ctx:     context.Background(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.batch = batcher.New(a.logger, a.flush, cfg.FlushSize, cfg.FlushInterval, cfg.RPS)
	return a
}

// Start begins the background flush loop.
func (a *Archiver) Start(ctx context.Context) {
	a.ctx = ctx
	a.batch.Start(ctx)
}

// Stop flushes remaining blocks and stops the loop.
func (a *Archiver) Stop() {
	a.batch.Stop()
}

// ArchiveBlock queues an accepted block for storage. It never blocks chain
// acceptance on archive health; a failed enqueue is logged and dropped.
func (a *Archiver) ArchiveBlock(block *ledger.Block) {
	if err := a.batch.Add(a.ctx, block); err != nil {
		a.logger.Warn("block not archived",
			zap.Uint64("height", block.Index),
			zap.Error(err),
		)
	}
}

func (a *Archiver) flush(ctx context.Context, blocks []*ledger.Block) error {
	blockRows := make([]BlockRow, 0, len(blocks))
	var txRows []TransactionRow
	for _, b := range blocks {
		row, txs, err := RowsFromBlock(b)
		if err != nil {
			return fmt.Errorf("convert block %d: %w", b.Index, err)
		}
		blockRows = append(blockRows, row)
		txRows = append(txRows, txs...)
	}

	if err := a.repo.InsertBlocks(ctx, blockRows); err != nil {
		return fmt.Errorf("archive blocks: %w", err)
	}
	if err := a.repo.InsertTransactions(ctx, txRows); err != nil {
		return fmt.Errorf("archive transactions: %w", err)
	}
	a.metrics.ObserveBatch(len(blockRows))
	return nil
}
