// Package consensus decides whether a candidate chain learned from a peer
// should replace the local chain, applying the longest-valid-chain rule.
package consensus

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/qxchain/qxchain-node/internal/ledger"
	"github.com/qxchain/qxchain-node/pkg/workerpool"
)

// Metrics records resolution observations.
type Metrics interface {
	ObserveConsider(outcome string, candidateLength int, started time.Time)
}

type nopMetrics struct{}

func (nopMetrics) ObserveConsider(string, int, time.Time) {}

// Resolver fully re-validates candidate chains before accepting them.
type Resolver struct {
	crypto        ledger.CryptoSuite
	logger        *zap.Logger
	metrics       Metrics
	workers       int
	minDifficulty uint64
}

// NewResolver constructs a Resolver. Signature verification across the
// candidate is fanned out over workers CPU-bound goroutines; zero means
// GOMAXPROCS. minDifficulty is the network floor every candidate block must
// record; a zero floor is raised to one so blocks can never claim free work.
func NewResolver(cs ledger.CryptoSuite, logger *zap.Logger, metrics Metrics, workers int, minDifficulty uint64) *Resolver {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if minDifficulty == 0 {
		minDifficulty = 1
	}
	return &Resolver{
		crypto:        cs,
		logger:        logger.Named("consensus"),
		metrics:       metrics,
		workers:       workers,
		minDifficulty: minDifficulty,
	}
}

// Consider applies the longest-valid-chain rule: a candidate no longer than
// the local chain is rejected outright (first seen wins on ties); a longer
// candidate is re-validated from genesis (genesis identity, linkage, the
// difficulty floor, proof of work, every signature, running balance
// consistency) and any violation rejects it
// with the specific reason. A nil return means the candidate should replace
// the local chain.
func (r *Resolver) Consider(ctx context.Context, local, candidate []*ledger.Block) error {
	started := time.Now()
	err := r.consider(ctx, local, candidate)
	outcome := "accepted"
	if err != nil {
		outcome = "rejected"
	}
	r.metrics.ObserveConsider(outcome, len(candidate), started)
	if err != nil {
		r.logger.Info("candidate chain rejected",
			zap.Int("local_length", len(local)),
			zap.Int("candidate_length", len(candidate)),
			zap.Error(err),
		)
		return err
	}
	r.logger.Info("candidate chain accepted",
		zap.Int("local_length", len(local)),
		zap.Int("candidate_length", len(candidate)),
		zap.Duration("elapsed", time.Since(started)),
	)
	return nil
}

func (r *Resolver) consider(ctx context.Context, local, candidate []*ledger.Block) error {
	if len(candidate) <= len(local) {
		return fmt.Errorf("%w: candidate length %d, local length %d", ledger.ErrChainTooShort, len(candidate), len(local))
	}

	if err := ledger.ValidateGenesis(r.crypto, candidate[0]); err != nil {
		return err
	}
	if len(local) > 0 && candidate[0].Hash != local[0].Hash {
		return fmt.Errorf("%w: candidate genesis %s does not match local genesis %s",
			ledger.ErrInvalidBlockLinkage, candidate[0].Hash, local[0].Hash)
	}
	for i := 1; i < len(candidate); i++ {
		if candidate[i].Difficulty < r.minDifficulty {
			return fmt.Errorf("%w: block %d records difficulty %d below the floor %d",
				ledger.ErrDifficultyNotMet, candidate[i].Index, candidate[i].Difficulty, r.minDifficulty)
		}
		if err := candidate[i].ValidateStructure(r.crypto, candidate[i-1]); err != nil {
			return fmt.Errorf("block %d: %w", candidate[i].Index, err)
		}
	}

	if err := r.verifySignatures(ctx, candidate); err != nil {
		return err
	}

	if _, err := ledger.RunningBalances(candidate); err != nil {
		return err
	}
	return nil
}

// verifySignatures checks every transaction signature in the candidate,
// fanned out over the worker pool. Verification is pure CPU work, so the
// fan-out bounds wall time on long candidates.
func (r *Resolver) verifySignatures(ctx context.Context, blocks []*ledger.Block) error {
	var txs []*ledger.Transaction
	for _, b := range blocks {
		txs = append(txs, b.Transactions...)
	}
	return workerpool.Process(ctx, r.workers, txs,
		func(_ context.Context, tx *ledger.Transaction) error {
			if err := tx.VerifySignature(r.crypto); err != nil {
				return fmt.Errorf("transaction %s: %w", tx.Hash, err)
			}
			return nil
		},
		nil,
	)
}

// Orphaned returns the transactions confirmed in the old tail that the
// accepted candidate does not carry; the node requeues them. Reward
// transactions are never requeued.
func Orphaned(old, accepted []*ledger.Block) []*ledger.Transaction {
	confirmed := make(map[ledger.Hash]struct{})
	for _, b := range accepted {
		for _, tx := range b.Transactions {
			confirmed[tx.Hash] = struct{}{}
		}
	}

	var orphans []*ledger.Transaction
	for _, b := range old {
		for _, tx := range b.Transactions {
			if tx.IsReward() {
				continue
			}
			if _, ok := confirmed[tx.Hash]; !ok {
				orphans = append(orphans, tx)
			}
		}
	}
	return orphans
}

// ConfirmedHashes lists every transaction hash carried by the blocks, used to
// drop newly confirmed transactions from the pending pool.
func ConfirmedHashes(blocks []*ledger.Block) []ledger.Hash {
	var hashes []ledger.Hash
	for _, b := range blocks {
		for _, tx := range b.Transactions {
			hashes = append(hashes, tx.Hash)
		}
	}
	return hashes
}
