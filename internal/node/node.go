// Package node owns the authoritative chain and the pending pool and exposes
// the operation surface the transport layer serves. All chain mutations,
// appending a mined block and consensus replacement, are serialized through
// one lock, so they can never interleave into an inconsistent state.
package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qxchain/qxchain-node/internal/consensus"
	"github.com/qxchain/qxchain-node/internal/ledger"
	"github.com/qxchain/qxchain-node/internal/mining"
	"github.com/qxchain/qxchain-node/pkg/safe"
)

// Sink receives every block accepted into the canonical chain. Implementations
// must not block the caller; the archive sink buffers internally.
type Sink interface {
	ArchiveBlock(block *ledger.Block)
}

// PoolMetrics tracks the pending pool size.
type PoolMetrics interface {
	SetPendingCount(n int)
}

type nopPoolMetrics struct{}

func (nopPoolMetrics) SetPendingCount(int) {}

// Stats summarizes the node's view of the chain.
type Stats struct {
	BlockCount       int         `json:"block_count"`
	TransactionCount int         `json:"transaction_count"`
	PendingCount     int         `json:"pending_count"`
	Difficulty       uint64      `json:"difficulty"`
	TotalSupply      uint64      `json:"total_supply"`
	IsValid          bool        `json:"is_valid"`
	LatestBlockHash  ledger.Hash `json:"latest_block_hash"`
}

// Node wires the ledger, mining engine, and consensus resolver together.
type Node struct {
	crypto   ledger.CryptoSuite
	engine   *mining.Engine
	resolver *consensus.Resolver
	logger   *zap.Logger
	sink     Sink
	metrics  PoolMetrics

	chainMu sync.RWMutex
	chain   *ledger.Chain
	pool    *ledger.PendingPool

	waiterMu sync.Mutex
	waiters  map[chan struct{}]struct{}
}

// Option customizes a Node.
type Option func(*Node)

// WithSink streams accepted blocks into an archive.
func WithSink(sink Sink) Option {
	return func(n *Node) { n.sink = sink }
}

// WithPoolMetrics reports pending pool sizes.
func WithPoolMetrics(m PoolMetrics) Option {
	return func(n *Node) { n.metrics = m }
}

// New constructs a Node with a freshly mined genesis chain.
func New(cs ledger.CryptoSuite, engine *mining.Engine, resolver *consensus.Resolver, genesis ledger.GenesisConfig, logger *zap.Logger, opts ...Option) *Node {
	n := &Node{
		crypto:   cs,
		engine:   engine,
		resolver: resolver,
		logger:   logger.Named("node"),
		metrics:  nopPoolMetrics{},
		chain:    ledger.NewChain(cs, genesis),
		pool:     ledger.NewPendingPool(),
		waiters:  make(map[chan struct{}]struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// SubmitTransaction validates a signed transaction and queues it for mining.
func (n *Node) SubmitTransaction(tx *ledger.Transaction) error {
	if tx.IsReward() {
		return fmt.Errorf("%w: reward transactions are system issued", ledger.ErrInvalidSignature)
	}
	if err := tx.WellFormed(time.Now()); err != nil {
		return err
	}
	if err := tx.VerifySignature(n.crypto); err != nil {
		return err
	}

	n.chainMu.RLock()
	balance := n.chain.BalanceOf(tx.Sender)
	confirmed := n.isConfirmed(tx.Hash)
	n.chainMu.RUnlock()

	if confirmed {
		return ledger.ErrDuplicateTransaction
	}
	debit, err := safe.AddUint64(tx.Amount, tx.Fee)
	if err != nil {
		return fmt.Errorf("%w: amount plus fee overflows", ledger.ErrInvalidBlock)
	}
	if balance < debit {
		return fmt.Errorf("%w: %s holds %d, needs %d", ledger.ErrInsufficientBalance, tx.Sender, balance, debit)
	}
	if err := n.pool.Add(tx); err != nil {
		return err
	}
	n.metrics.SetPendingCount(n.pool.Len())
	n.logger.Debug("transaction queued",
		zap.Stringer("hash", tx.Hash),
		zap.Uint64("amount", tx.Amount),
		zap.Uint64("fee", tx.Fee),
	)
	return nil
}

// isConfirmed reports whether the hash is already in a chain block.
// Callers hold at least a read lock.
func (n *Node) isConfirmed(h ledger.Hash) bool {
	for _, b := range n.chain.Blocks() {
		for _, tx := range b.Transactions {
			if tx.Hash == h {
				return true
			}
		}
	}
	return false
}

// PendingTransactions returns the queued transactions in arrival order.
func (n *Node) PendingTransactions() []*ledger.Transaction {
	return n.pool.All()
}

// Chain returns a snapshot of the canonical block sequence.
func (n *Node) Chain() []*ledger.Block {
	n.chainMu.RLock()
	defer n.chainMu.RUnlock()
	return n.chain.Blocks()
}

// Balance computes the confirmed balance of a checksummed address.
func (n *Node) Balance(address string) (uint64, error) {
	if err := ledger.ValidateAddress(address); err != nil {
		return 0, err
	}
	n.chainMu.RLock()
	defer n.chainMu.RUnlock()
	return n.chain.BalanceOf(address), nil
}

// History lists the confirmed transactions touching an address, oldest first.
func (n *Node) History(address string) ([]*ledger.Transaction, error) {
	if err := ledger.ValidateAddress(address); err != nil {
		return nil, err
	}
	n.chainMu.RLock()
	defer n.chainMu.RUnlock()
	return n.chain.HistoryFor(address), nil
}

// ValidateChain re-validates the local chain from genesis.
func (n *Node) ValidateChain() error {
	n.chainMu.RLock()
	defer n.chainMu.RUnlock()
	return n.chain.Validate()
}

// Stats reports chain statistics under a consistent snapshot.
func (n *Node) Stats() Stats {
	n.chainMu.RLock()
	defer n.chainMu.RUnlock()
	blocks := n.chain.Blocks()
	return Stats{
		BlockCount:       len(blocks),
		TransactionCount: n.chain.TransactionCount(),
		PendingCount:     n.pool.Len(),
		Difficulty:       n.engine.NextDifficulty(blocks),
		TotalSupply:      n.chain.TotalSupply(),
		IsValid:          n.chain.Validate() == nil,
		LatestBlockHash:  n.chain.Tip().Hash,
	}
}

// MineBlock assembles a candidate block from the pending pool and searches
// for a valid nonce. If a competing block extends the chain first, the
// in-flight search is abandoned and a fresh attempt starts against the new
// tip. The search itself holds no lock.
func (n *Node) MineBlock(ctx context.Context, minerAddress string) (*ledger.Block, error) {
	if err := ledger.ValidateAddress(minerAddress); err != nil {
		return nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n.chainMu.RLock()
		blocks := n.chain.Blocks()
		n.chainMu.RUnlock()

		pending := n.spendableSelection(blocks)
		block := n.engine.Assemble(blocks, pending, minerAddress, time.Now())

		nonceFound, err := n.searchSuperseded(ctx, block)
		if err != nil {
			return nil, err
		}
		if !nonceFound {
			// Superseded by a competing block; reassemble against the new tip.
			n.logger.Info("mining attempt superseded", zap.Uint64("index", block.Index))
			continue
		}

		n.chainMu.Lock()
		if n.chain.Tip().Hash != block.PreviousHash {
			n.chainMu.Unlock()
			n.logger.Info("tip moved before append, retrying", zap.Uint64("index", block.Index))
			continue
		}
		if err := n.chain.Append(block); err != nil {
			n.chainMu.Unlock()
			return nil, fmt.Errorf("append mined block: %w", err)
		}
		n.notifyTipChanged()
		n.chainMu.Unlock()

		n.pool.Remove(consensus.ConfirmedHashes([]*ledger.Block{block}))
		n.metrics.SetPendingCount(n.pool.Len())
		n.archive([]*ledger.Block{block})
		n.logger.Info("block mined",
			zap.Uint64("index", block.Index),
			zap.Stringer("hash", block.Hash),
			zap.Int("transactions", len(block.Transactions)),
		)
		return block, nil
	}
}

// searchSuperseded runs the nonce search, cancelling it early when the tip
// changes underneath. Returns false when superseded, an error only when the
// caller's context ended.
func (n *Node) searchSuperseded(ctx context.Context, block *ledger.Block) (bool, error) {
	searchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	tipChanged := n.subscribeTipChange()
	defer n.unsubscribeTipChange(tipChanged)

	superseded := make(chan struct{})
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		select {
		case <-tipChanged:
			n.engine.MarkSuperseded()
			close(superseded)
			cancel()
		case <-searchCtx.Done():
		}
	}()

	_, err := n.engine.Search(searchCtx, block)
	cancel()
	<-watchDone

	if err == nil {
		return true, nil
	}
	select {
	case <-superseded:
		return false, nil
	default:
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return false, err
}

// spendableSelection picks pool transactions that the confirmed balances in
// the snapshot can actually cover, in fee-priority order. A transaction left
// behind stays queued; it may become spendable later.
func (n *Node) spendableSelection(blocks []*ledger.Block) []*ledger.Transaction {
	balances, err := ledger.RunningBalances(blocks)
	if err != nil {
		// The local chain is valid by construction; treat a scan failure as
		// an empty selection rather than mining an invalid block.
		n.logger.Error("balance scan failed during assembly", zap.Error(err))
		return nil
	}

	candidates := n.pool.Select(n.engine.Config().MaxTransactionsPerBlock)
	selected := make([]*ledger.Transaction, 0, len(candidates))
	for _, tx := range candidates {
		debit, err := safe.AddUint64(tx.Amount, tx.Fee)
		if err != nil || balances[tx.Sender] < debit {
			continue
		}
		credited, err := safe.AddUint64(balances[tx.Recipient], tx.Amount)
		if err != nil {
			continue
		}
		balances[tx.Sender] -= debit
		balances[tx.Recipient] = credited
		selected = append(selected, tx)
	}
	return selected
}

// ReceiveCandidateChain feeds a chain learned from a peer through consensus
// resolution. On acceptance the local chain is swapped atomically, orphaned
// transactions return to the pending pool, and newly confirmed ones leave it.
func (n *Node) ReceiveCandidateChain(ctx context.Context, candidate []*ledger.Block) error {
	n.chainMu.RLock()
	local := n.chain.Blocks()
	n.chainMu.RUnlock()

	if err := n.resolver.Consider(ctx, local, candidate); err != nil {
		return err
	}

	n.chainMu.Lock()
	current := n.chain.Blocks()
	if len(candidate) <= len(current) {
		// The local chain grew while the candidate was being validated.
		n.chainMu.Unlock()
		return fmt.Errorf("%w: candidate length %d, local length %d", ledger.ErrChainTooShort, len(candidate), len(current))
	}
	n.chain.Replace(candidate)
	n.notifyTipChanged()
	n.chainMu.Unlock()

	orphans := consensus.Orphaned(current, candidate)
	n.pool.Requeue(orphans)
	n.pool.Remove(consensus.ConfirmedHashes(candidate))
	n.metrics.SetPendingCount(n.pool.Len())

	n.archive(newBlocks(current, candidate))
	n.logger.Info("chain replaced by candidate",
		zap.Int("old_length", len(current)),
		zap.Int("new_length", len(candidate)),
		zap.Int("orphaned_transactions", len(orphans)),
	)
	return nil
}

// newBlocks returns the candidate blocks past the point of divergence from
// the old chain.
func newBlocks(old, accepted []*ledger.Block) []*ledger.Block {
	diverged := len(accepted)
	for i := range accepted {
		if i >= len(old) || old[i].Hash != accepted[i].Hash {
			diverged = i
			break
		}
	}
	return accepted[diverged:]
}

func (n *Node) archive(blocks []*ledger.Block) {
	if n.sink == nil {
		return
	}
	for _, b := range blocks {
		n.sink.ArchiveBlock(b)
	}
}

// subscribeTipChange returns a channel closed the next time the canonical tip
// moves.
func (n *Node) subscribeTipChange() chan struct{} {
	ch := make(chan struct{})
	n.waiterMu.Lock()
	n.waiters[ch] = struct{}{}
	n.waiterMu.Unlock()
	return ch
}

func (n *Node) unsubscribeTipChange(ch chan struct{}) {
	n.waiterMu.Lock()
	delete(n.waiters, ch)
	n.waiterMu.Unlock()
}

func (n *Node) notifyTipChanged() {
	n.waiterMu.Lock()
	for ch := range n.waiters {
		close(ch)
		delete(n.waiters, ch)
	}
	n.waiterMu.Unlock()
}
