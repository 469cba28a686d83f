package mining

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/qxchain/qxchain-node/internal/crypto"
	"github.com/qxchain/qxchain-node/internal/ledger"
)

var testCrypto = crypto.MustProvider()

func testEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	return NewEngine(testCrypto, cfg, zap.NewNop(), nil)
}

func TestRewardAt(t *testing.T) {
	tests := []struct {
		name   string
		cfg    Config
		height uint64
		want   uint64
	}{
		{name: "no halving", cfg: Config{BaseReward: 50}, height: 1_000_000, want: 50},
		{name: "before first halving", cfg: Config{BaseReward: 50, HalvingInterval: 10}, height: 9, want: 50},
		{name: "first halving", cfg: Config{BaseReward: 50, HalvingInterval: 10}, height: 10, want: 25},
		{name: "second halving", cfg: Config{BaseReward: 50, HalvingInterval: 10}, height: 20, want: 12},
		{name: "subsidy exhausted", cfg: Config{BaseReward: 50, HalvingInterval: 1}, height: 70, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := testEngine(t, tt.cfg)
			if got := e.RewardAt(tt.height); got != tt.want {
				t.Errorf("RewardAt(%d) = %d, want %d", tt.height, got, tt.want)
			}
		})
	}
}

func TestAssemble(t *testing.T) {
	e := testEngine(t, Config{BaseReward: 50, MaxTransactionsPerBlock: 2})
	chain := ledger.NewChain(testCrypto, ledger.DefaultGenesis())

	minerPK, _, err := testCrypto.GenerateSigningKeyPair()
	if err != nil {
		t.Fatalf("GenerateSigningKeyPair() error = %v", err)
	}
	miner := ledger.AddressFromPublicKey(testCrypto, minerPK)

	pending := []*ledger.Transaction{
		ledger.NewTransaction(testCrypto, miner, miner, 5, 3, "", 1700000100),
		ledger.NewTransaction(testCrypto, miner, miner, 5, 2, "", 1700000101),
		ledger.NewTransaction(testCrypto, miner, miner, 5, 9, "", 1700000102),
	}

	block := e.Assemble(chain.Blocks(), pending, miner, time.Unix(1700000110, 0))

	if block.Index != 1 {
		t.Errorf("Index = %d, want 1", block.Index)
	}
	if len(block.Transactions) != 3 {
		t.Fatalf("transaction count = %d, want reward plus capped selection of 2", len(block.Transactions))
	}
	reward := block.Transactions[0]
	if !reward.IsReward() {
		t.Fatal("first transaction is not the reward")
	}
	// Only the first two pending transactions fit, carrying fees 3 and 2.
	if reward.Amount != 55 {
		t.Errorf("reward amount = %d, want 55", reward.Amount)
	}
	if block.Reward != 50 {
		t.Errorf("header reward = %d, want base 50", block.Reward)
	}
	if block.PreviousHash != chain.Tip().Hash {
		t.Error("candidate not linked to the snapshot tip")
	}
}

func TestAssembleDropsFeeOverflowTail(t *testing.T) {
	e := testEngine(t, Config{BaseReward: 50, MaxTransactionsPerBlock: 10})
	chain := ledger.NewChain(testCrypto, ledger.DefaultGenesis())

	// The second fee would wrap the reward total, so only the first transfer
	// may be selected.
	pending := []*ledger.Transaction{
		ledger.NewTransaction(testCrypto, ledger.GenesisAddress, ledger.GenesisAddress, 1, math.MaxUint64-100, "", 1700000100),
		ledger.NewTransaction(testCrypto, ledger.GenesisAddress, ledger.GenesisAddress, 1, 200, "", 1700000101),
	}

	block := e.Assemble(chain.Blocks(), pending, ledger.GenesisAddress, time.Unix(1700000110, 0))

	if len(block.Transactions) != 2 {
		t.Fatalf("transaction count = %d, want reward plus the single fitting transfer", len(block.Transactions))
	}
	if got := block.Transactions[0].Amount; got != 50+(math.MaxUint64-100) {
		t.Errorf("reward amount = %d, want base plus the first fee", got)
	}
}

func TestSearchFindsNonce(t *testing.T) {
	e := testEngine(t, Config{BaseReward: 50})
	chain := ledger.NewChain(testCrypto, ledger.DefaultGenesis())

	block := e.Assemble(chain.Blocks(), nil, ledger.GenesisAddress, time.Unix(1700000110, 0))
	nonce, err := e.Search(context.Background(), block)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if block.Nonce != nonce {
		t.Errorf("sealed nonce %d does not match returned %d", block.Nonce, nonce)
	}
	if !ledger.HashMeetsDifficulty(block.Hash, block.Difficulty) {
		t.Error("sealed hash misses the difficulty target")
	}
	if e.State() != StateFound {
		t.Errorf("state = %s, want found", e.State())
	}
}

func TestSearchHonorsCancellation(t *testing.T) {
	e := testEngine(t, Config{BaseReward: 50, CancelCheckEvery: 64})
	chain := ledger.NewChain(testCrypto, ledger.DefaultGenesis())

	block := e.Assemble(chain.Blocks(), nil, ledger.GenesisAddress, time.Unix(1700000110, 0))
	// A 255-bit target is unreachable in practice, so only cancellation can
	// end the search.
	block.Difficulty = 255

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := e.Search(ctx, block)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Search() error = %v, want context.DeadlineExceeded", err)
	}
	if e.State() != StateCancelled {
		t.Errorf("state = %s, want cancelled", e.State())
	}
}

func TestAuditSupply(t *testing.T) {
	chain := ledger.NewChain(testCrypto, ledger.DefaultGenesis())

	if err := AuditSupply(chain.Blocks()); err != nil {
		t.Errorf("AuditSupply() on genesis chain: %v", err)
	}

	// A block whose reward transaction credits more than its header declares
	// breaks the issuance invariant.
	inflated := ledger.NewRewardTransaction(testCrypto, ledger.GenesisAddress, 60, 1700000100, "mining reward")
	blocks := append(chain.Blocks(), &ledger.Block{
		Index:        1,
		Reward:       50,
		Transactions: []*ledger.Transaction{inflated},
	})
	if err := AuditSupply(blocks); err == nil {
		t.Error("AuditSupply() missed an inflated reward")
	}
}
