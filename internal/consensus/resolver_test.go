package consensus

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/qxchain/qxchain-node/internal/crypto"
	"github.com/qxchain/qxchain-node/internal/ledger"
)

var testCrypto = crypto.MustProvider()

type keyHolder struct {
	pk   []byte
	sk   []byte
	addr string
}

func newKeyHolder(t *testing.T) keyHolder {
	t.Helper()
	pk, sk, err := testCrypto.GenerateSigningKeyPair()
	if err != nil {
		t.Fatalf("generate signing key pair: %v", err)
	}
	return keyHolder{pk: pk, sk: sk, addr: ledger.AddressFromPublicKey(testCrypto, pk)}
}

func testResolver() *Resolver {
	return NewResolver(testCrypto, zap.NewNop(), nil, 2, 1)
}

// extend mines count valid blocks on top of the chain, optionally carrying
// the given transfers in the first mined block.
func extend(t *testing.T, chain *ledger.Chain, count int, miner keyHolder, transfers ...*ledger.Transaction) {
	t.Helper()
	for i := 0; i < count; i++ {
		txs := transfers
		if i > 0 {
			txs = nil
		}
		var fees uint64
		for _, tx := range txs {
			fees += tx.Fee
		}
		timestamp := chain.Tip().Timestamp + 10
		all := make([]*ledger.Transaction, 0, len(txs)+1)
		all = append(all, ledger.NewRewardTransaction(testCrypto, miner.addr, 50+fees, timestamp, "mining reward"))
		all = append(all, txs...)

		b := ledger.BuildBlock(testCrypto, chain.Tip(), all, miner.addr, 1, 50, timestamp)
		for nonce := uint64(0); ; nonce++ {
			b.Seal(testCrypto, nonce)
			if ledger.HashMeetsDifficulty(b.Hash, b.Difficulty) {
				break
			}
		}
		if err := chain.Append(b); err != nil {
			t.Fatalf("append block %d: %v", b.Index, err)
		}
	}
}

func TestConsiderRejectsShortAndEqualCandidates(t *testing.T) {
	miner := newKeyHolder(t)
	r := testResolver()

	local := ledger.NewChain(testCrypto, ledger.DefaultGenesis())
	extend(t, local, 2, miner)

	equal := ledger.NewChain(testCrypto, ledger.DefaultGenesis())
	extend(t, equal, 2, miner)

	shorter := ledger.NewChain(testCrypto, ledger.DefaultGenesis())
	extend(t, shorter, 1, miner)

	tests := []struct {
		name      string
		candidate []*ledger.Block
	}{
		{name: "shorter candidate", candidate: shorter.Blocks()},
		{name: "equal length keeps first seen", candidate: equal.Blocks()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Consider(context.Background(), local.Blocks(), tt.candidate)
			if !errors.Is(err, ledger.ErrChainTooShort) {
				t.Errorf("Consider() error = %v, want ErrChainTooShort", err)
			}
		})
	}
}

func TestConsiderAcceptsLongerValidChain(t *testing.T) {
	miner := newKeyHolder(t)
	recipient := newKeyHolder(t)
	r := testResolver()

	local := ledger.NewChain(testCrypto, ledger.DefaultGenesis())
	extend(t, local, 1, miner)

	candidate := ledger.NewChain(testCrypto, ledger.DefaultGenesis())
	extend(t, candidate, 1, miner)
	transfer := ledger.NewTransaction(testCrypto, miner.addr, recipient.addr, 10, 1, "", candidate.Tip().Timestamp+5)
	if err := transfer.SignWith(testCrypto, miner.pk, miner.sk); err != nil {
		t.Fatalf("SignWith() error = %v", err)
	}
	extend(t, candidate, 2, miner, transfer)

	if err := r.Consider(context.Background(), local.Blocks(), candidate.Blocks()); err != nil {
		t.Fatalf("Consider() rejected a longer valid chain: %v", err)
	}
}

func TestConsiderRejectsInvalidCandidates(t *testing.T) {
	miner := newKeyHolder(t)
	recipient := newKeyHolder(t)
	r := testResolver()

	local := ledger.NewChain(testCrypto, ledger.DefaultGenesis())

	t.Run("tampered transaction amount", func(t *testing.T) {
		candidate := ledger.NewChain(testCrypto, ledger.DefaultGenesis())
		transfer := ledger.NewTransaction(testCrypto, miner.addr, recipient.addr, 10, 1, "", candidate.Tip().Timestamp+5)
		if err := transfer.SignWith(testCrypto, miner.pk, miner.sk); err != nil {
			t.Fatalf("SignWith() error = %v", err)
		}
		extend(t, candidate, 1, miner)
		extend(t, candidate, 1, miner, transfer)

		blocks := candidate.Blocks()
		// Rewrite history in the middle block and re-mine it so only the
		// signature check can catch the fraud.
		tampered := *transfer
		tampered.Amount = 1000
		tampered.Hash = tampered.ComputeHash(testCrypto)
		reward := blocks[2].Transactions[0]
		remined := ledger.BuildBlock(testCrypto, blocks[1], []*ledger.Transaction{reward, &tampered}, miner.addr, 1, 50, blocks[2].Timestamp)
		for nonce := uint64(0); ; nonce++ {
			remined.Seal(testCrypto, nonce)
			if ledger.HashMeetsDifficulty(remined.Hash, remined.Difficulty) {
				break
			}
		}
		blocks[2] = remined

		err := r.Consider(context.Background(), local.Blocks(), blocks)
		if !errors.Is(err, ledger.ErrInvalidSignature) {
			t.Errorf("Consider() error = %v, want ErrInvalidSignature", err)
		}
	})

	t.Run("broken linkage", func(t *testing.T) {
		candidate := ledger.NewChain(testCrypto, ledger.DefaultGenesis())
		extend(t, candidate, 2, miner)

		blocks := candidate.Blocks()
		detached := *blocks[2]
		detached.PreviousHash = ledger.Hash{0xCC}
		blocks[2] = &detached

		err := r.Consider(context.Background(), local.Blocks(), blocks)
		if !errors.Is(err, ledger.ErrInvalidBlockLinkage) {
			t.Errorf("Consider() error = %v, want ErrInvalidBlockLinkage", err)
		}
	})

	t.Run("different genesis", func(t *testing.T) {
		other := ledger.NewChain(testCrypto, ledger.GenesisConfig{
			InitialSupply: 1,
			Timestamp:     1600000000,
			Difficulty:    1,
			Note:          "fork",
		})
		extend(t, other, 2, miner)

		blocks := other.Blocks()
		forged := *blocks[0]
		forged.Index = 0
		forged.PreviousHash = ledger.Hash{0x01}
		blocks[0] = &forged

		err := r.Consider(context.Background(), local.Blocks(), blocks)
		if !errors.Is(err, ledger.ErrInvalidBlockLinkage) {
			t.Errorf("Consider() error = %v, want ErrInvalidBlockLinkage", err)
		}
	})
}

func TestConsiderRejectsZeroWorkCandidate(t *testing.T) {
	miner := newKeyHolder(t)
	r := testResolver()

	local := ledger.NewChain(testCrypto, ledger.DefaultGenesis())

	// A forger records difficulty zero on every block, so any nonce passes
	// the hash target. The floor must reject the chain before length wins.
	candidate := []*ledger.Block{local.Blocks()[0]}
	for i := 0; i < 2; i++ {
		prev := candidate[len(candidate)-1]
		timestamp := prev.Timestamp + 10
		reward := ledger.NewRewardTransaction(testCrypto, miner.addr, 50, timestamp, "mining reward")
		b := ledger.BuildBlock(testCrypto, prev, []*ledger.Transaction{reward}, miner.addr, 0, 50, timestamp)
		b.Seal(testCrypto, 0)
		candidate = append(candidate, b)
	}

	err := r.Consider(context.Background(), local.Blocks(), candidate)
	if !errors.Is(err, ledger.ErrDifficultyNotMet) {
		t.Errorf("Consider() error = %v, want ErrDifficultyNotMet", err)
	}
}

func TestConsiderRejectsForeignGenesis(t *testing.T) {
	miner := newKeyHolder(t)
	r := testResolver()

	local := ledger.NewChain(testCrypto, ledger.DefaultGenesis())

	// A longer chain mined honestly on a different genesis is still another
	// network's history, not ours.
	foreign := ledger.NewChain(testCrypto, ledger.GenesisConfig{
		InitialSupply: 42_000_000,
		Timestamp:     1600000000,
		Difficulty:    1,
		Note:          "parallel network",
	})
	extend(t, foreign, 2, miner)

	err := r.Consider(context.Background(), local.Blocks(), foreign.Blocks())
	if !errors.Is(err, ledger.ErrInvalidBlockLinkage) {
		t.Errorf("Consider() error = %v, want ErrInvalidBlockLinkage", err)
	}
}

func TestOrphanedSkipsRewardsAndConfirmed(t *testing.T) {
	miner := newKeyHolder(t)
	recipient := newKeyHolder(t)

	old := ledger.NewChain(testCrypto, ledger.DefaultGenesis())
	extend(t, old, 1, miner)
	transfer := ledger.NewTransaction(testCrypto, miner.addr, recipient.addr, 10, 1, "", old.Tip().Timestamp+5)
	if err := transfer.SignWith(testCrypto, miner.pk, miner.sk); err != nil {
		t.Fatalf("SignWith() error = %v", err)
	}
	extend(t, old, 1, miner, transfer)

	accepted := ledger.NewChain(testCrypto, ledger.DefaultGenesis())
	extend(t, accepted, 3, miner)

	orphans := Orphaned(old.Blocks(), accepted.Blocks())
	if len(orphans) != 1 {
		t.Fatalf("Orphaned() returned %d transactions, want only the transfer", len(orphans))
	}
	if orphans[0].Hash != transfer.Hash {
		t.Errorf("orphan = %s, want %s", orphans[0].Hash, transfer.Hash)
	}

	// Once the accepted chain carries the transfer, nothing is orphaned.
	carried := ledger.NewChain(testCrypto, ledger.DefaultGenesis())
	extend(t, carried, 1, miner)
	extend(t, carried, 2, miner, transfer)
	if got := Orphaned(old.Blocks(), carried.Blocks()); len(got) != 0 {
		t.Errorf("Orphaned() = %d transactions, want 0", len(got))
	}
}

func TestConfirmedHashes(t *testing.T) {
	miner := newKeyHolder(t)

	chain := ledger.NewChain(testCrypto, ledger.DefaultGenesis())
	extend(t, chain, 2, miner)

	hashes := ConfirmedHashes(chain.Blocks())
	if len(hashes) != 3 {
		t.Fatalf("ConfirmedHashes() returned %d hashes, want 3", len(hashes))
	}
	seen := make(map[ledger.Hash]struct{}, len(hashes))
	for _, h := range hashes {
		seen[h] = struct{}{}
	}
	if len(seen) != 3 {
		t.Error("ConfirmedHashes() returned duplicate hashes")
	}
}
