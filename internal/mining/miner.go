// Package mining assembles candidate blocks from pending transactions and
// searches the nonce space for hashes meeting the difficulty target.
package mining

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/qxchain/qxchain-node/internal/ledger"
	"github.com/qxchain/qxchain-node/pkg/safe"
)

// State tracks where a mining attempt currently is.
type State int32

const (
	StateIdle State = iota
	StateAssembling
	StateSearching
	StateFound
	StateCancelled
	StateSuperseded
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAssembling:
		return "assembling"
	case StateSearching:
		return "searching"
	case StateFound:
		return "found"
	case StateCancelled:
		return "cancelled"
	case StateSuperseded:
		return "superseded"
	default:
		return "unknown"
	}
}

// Config tunes the mining engine.
type Config struct {
	// TargetBlockTime is the average block interval difficulty adjustment
	// steers toward.
	TargetBlockTime time.Duration
	// AdjustmentInterval is how many blocks pass between difficulty
	// recalculations.
	AdjustmentInterval uint64
	// MaxAdjustmentFactor clamps a single recalculation step.
	MaxAdjustmentFactor uint64
	// MinDifficulty is the difficulty floor.
	MinDifficulty uint64
	// BaseReward is the block subsidy before halving.
	BaseReward uint64
	// HalvingInterval halves the subsidy every this many blocks; zero
	// disables halving.
	HalvingInterval uint64
	// MaxTransactionsPerBlock caps pool selection per block, not counting
	// the reward transaction.
	MaxTransactionsPerBlock int
	// CancelCheckEvery is the nonce-attempt interval at which the search
	// loop polls for cancellation.
	CancelCheckEvery uint64
}

// DefaultConfig returns the network defaults.
func DefaultConfig() Config {
	return Config{
		TargetBlockTime:         10 * time.Second,
		AdjustmentInterval:      10,
		MaxAdjustmentFactor:     4,
		MinDifficulty:           1,
		BaseReward:              50,
		HalvingInterval:         0,
		MaxTransactionsPerBlock: 100,
		CancelCheckEvery:        4096,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TargetBlockTime <= 0 {
		c.TargetBlockTime = d.TargetBlockTime
	}
	if c.AdjustmentInterval == 0 {
		c.AdjustmentInterval = d.AdjustmentInterval
	}
	if c.MaxAdjustmentFactor == 0 {
		c.MaxAdjustmentFactor = d.MaxAdjustmentFactor
	}
	if c.MinDifficulty == 0 {
		c.MinDifficulty = d.MinDifficulty
	}
	if c.MaxTransactionsPerBlock == 0 {
		c.MaxTransactionsPerBlock = d.MaxTransactionsPerBlock
	}
	if c.CancelCheckEvery == 0 {
		c.CancelCheckEvery = d.CancelCheckEvery
	}
	return c
}

// Metrics records mining observations.
type Metrics interface {
	ObserveAssemble(txCount int)
	ObserveSearch(outcome string, attempts uint64, started time.Time)
}

type nopMetrics struct{}

func (nopMetrics) ObserveAssemble(int)                     {}
func (nopMetrics) ObserveSearch(string, uint64, time.Time) {}

// Engine builds candidate blocks and runs the proof-of-work search. It holds
// no locks of its own: callers pass chain snapshots in and decide what to do
// with the sealed block.
type Engine struct {
	cfg     Config
	hasher  ledger.Hasher
	logger  *zap.Logger
	metrics Metrics
	state   atomic.Int32
}

// NewEngine constructs an Engine.
func NewEngine(hasher ledger.Hasher, cfg Config, logger *zap.Logger, metrics Metrics) *Engine {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Engine{
		cfg:     cfg.withDefaults(),
		hasher:  hasher,
		logger:  logger.Named("miner"),
		metrics: metrics,
	}
}

// Config returns the engine's effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// State reports the current phase of the mining state machine.
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

// RewardAt returns the block subsidy at the given height, applying the
// halving schedule.
func (e *Engine) RewardAt(height uint64) uint64 {
	if e.cfg.HalvingInterval == 0 {
		return e.cfg.BaseReward
	}
	halvings := height / e.cfg.HalvingInterval
	if halvings >= 64 {
		return 0
	}
	return e.cfg.BaseReward >> halvings
}

// Assemble selects pending transactions, prepends the reward transaction, and
// builds the unsealed candidate block on top of the snapshot's tip.
func (e *Engine) Assemble(blocks []*ledger.Block, pending []*ledger.Transaction, minerAddress string, now time.Time) *ledger.Block {
	e.setState(StateAssembling)

	tip := blocks[len(blocks)-1]
	if len(pending) > e.cfg.MaxTransactionsPerBlock {
		pending = pending[:e.cfg.MaxTransactionsPerBlock]
	}

	// Accumulate the reward total with overflow checks, dropping any tail of
	// the selection whose fees would no longer fit.
	baseReward := e.RewardAt(tip.Index + 1)
	rewardAmount := baseReward
	selected := make([]*ledger.Transaction, 0, len(pending))
	for _, tx := range pending {
		sum, err := safe.AddUint64(rewardAmount, tx.Fee)
		if err != nil {
			break
		}
		rewardAmount = sum
		selected = append(selected, tx)
	}
	reward := ledger.NewRewardTransaction(e.hasher, minerAddress, rewardAmount, now.Unix(), "mining reward")

	txs := make([]*ledger.Transaction, 0, len(selected)+1)
	txs = append(txs, reward)
	txs = append(txs, selected...)

	difficulty := e.NextDifficulty(blocks)
	block := ledger.BuildBlock(e.hasher, tip, txs, minerAddress, difficulty, baseReward, now.Unix())
	e.metrics.ObserveAssemble(len(txs))
	e.logger.Debug("assembled candidate block",
		zap.Uint64("index", block.Index),
		zap.Uint64("difficulty", difficulty),
		zap.Int("transactions", len(txs)),
	)
	return block
}

// Search iterates nonce values until the block hash meets its difficulty
// target or the context is cancelled. The cancellation signal is polled every
// CancelCheckEvery attempts so crypto work never blocks it for long. The
// block is sealed with the winning nonce on success.
func (e *Engine) Search(ctx context.Context, block *ledger.Block) (uint64, error) {
	e.setState(StateSearching)
	started := time.Now()

	for nonce := uint64(0); ; nonce++ {
		if nonce%e.cfg.CancelCheckEvery == 0 {
			select {
			case <-ctx.Done():
				e.setState(StateCancelled)
				e.metrics.ObserveSearch("cancelled", nonce, started)
				e.logger.Info("search cancelled",
					zap.Uint64("index", block.Index),
					zap.Uint64("attempts", nonce),
				)
				return 0, ctx.Err()
			default:
			}
		}

		block.Seal(e.hasher, nonce)
		if ledger.HashMeetsDifficulty(block.Hash, block.Difficulty) {
			e.setState(StateFound)
			e.metrics.ObserveSearch("found", nonce+1, started)
			e.logger.Info("found valid nonce",
				zap.Uint64("index", block.Index),
				zap.Uint64("nonce", nonce),
				zap.Uint64("difficulty", block.Difficulty),
				zap.Duration("elapsed", time.Since(started)),
			)
			return nonce, nil
		}
	}
}

// MarkSuperseded records that an externally observed block won the race for
// the current tip.
func (e *Engine) MarkSuperseded() {
	e.setState(StateSuperseded)
}

// AuditSupply verifies the monotonic issuance invariant: the sum of all
// confirmed balances equals the genesis supply plus every block subsidy.
func AuditSupply(blocks []*ledger.Block) error {
	balances, err := ledger.RunningBalances(blocks)
	if err != nil {
		return err
	}
	var total uint64
	for _, v := range balances {
		if total, err = safe.AddUint64(total, v); err != nil {
			return fmt.Errorf("circulating supply: %w", err)
		}
	}
	var issued uint64
	for _, b := range blocks {
		if issued, err = safe.AddUint64(issued, b.Reward); err != nil {
			return fmt.Errorf("issued supply: %w", err)
		}
	}
	if total != issued {
		return fmt.Errorf("circulating supply %d does not match issued supply %d", total, issued)
	}
	return nil
}
