package ledger

import (
	"errors"
	"math"
	"math/big"
	"testing"
	"time"
)

func TestTarget(t *testing.T) {
	tests := []struct {
		name       string
		difficulty uint64
		want       *big.Int
	}{
		{name: "difficulty one", difficulty: 1, want: new(big.Int).Lsh(big.NewInt(1), 255)},
		{name: "difficulty eight", difficulty: 8, want: new(big.Int).Lsh(big.NewInt(1), 248)},
		{name: "saturates at 256", difficulty: 256, want: big.NewInt(1)},
		{name: "beyond 256", difficulty: 1000, want: big.NewInt(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Target(tt.difficulty); got.Cmp(tt.want) != 0 {
				t.Errorf("Target(%d) = %s, want %s", tt.difficulty, got, tt.want)
			}
		})
	}
}

func TestHashMeetsDifficulty(t *testing.T) {
	var low Hash
	low[31] = 1

	var high Hash
	for i := range high {
		high[i] = 0xff
	}

	if !HashMeetsDifficulty(low, 8) {
		t.Error("near-zero hash rejected at difficulty 8")
	}
	if HashMeetsDifficulty(high, 1) {
		t.Error("all-ones hash accepted at difficulty 1")
	}
	if !HashMeetsDifficulty(high, 0) {
		t.Error("difficulty zero must accept every hash")
	}
}

func TestSealThenValidate(t *testing.T) {
	chain := NewChain(testCrypto, DefaultGenesis())
	miner := newKeyHolder(t)

	block := mineNext(t, chain.Tip(), nil, miner.addr, 50, 1700000100)
	if err := block.Validate(testCrypto, chain.Tip()); err != nil {
		t.Fatalf("Validate() on a freshly mined block: %v", err)
	}
}

func TestValidateStructureRejects(t *testing.T) {
	chain := NewChain(testCrypto, DefaultGenesis())
	miner := newKeyHolder(t)
	genesis := chain.Tip()

	tests := []struct {
		name    string
		mutate  func(b *Block)
		wantErr error
	}{
		{
			name:    "wrong index",
			mutate:  func(b *Block) { b.Index = 5 },
			wantErr: ErrInvalidBlockLinkage,
		},
		{
			name:    "wrong previous hash",
			mutate:  func(b *Block) { b.PreviousHash = Hash{0xAA} },
			wantErr: ErrInvalidBlockLinkage,
		},
		{
			name:    "tampered merkle root",
			mutate:  func(b *Block) { b.MerkleRoot = Hash{0xBB} },
			wantErr: ErrInvalidBlock,
		},
		{
			name:    "tampered nonce breaks the hash",
			mutate:  func(b *Block) { b.Nonce++ },
			wantErr: ErrInvalidBlock,
		},
		{
			name:    "no transactions",
			mutate:  func(b *Block) { b.Transactions = nil },
			wantErr: ErrInvalidBlock,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := mineNext(t, genesis, nil, miner.addr, 50, 1700000100)
			tt.mutate(b)
			if err := b.ValidateStructure(testCrypto, genesis); !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateStructure() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateRewardStructure(t *testing.T) {
	chain := NewChain(testCrypto, DefaultGenesis())
	miner := newKeyHolder(t)
	genesis := chain.Tip()

	t.Run("overstated reward amount", func(t *testing.T) {
		txs := []*Transaction{NewRewardTransaction(testCrypto, miner.addr, 51, 1700000100, "mining reward")}
		b := BuildBlock(testCrypto, genesis, txs, miner.addr, 1, 50, 1700000100)
		for nonce := uint64(0); ; nonce++ {
			b.Seal(testCrypto, nonce)
			if HashMeetsDifficulty(b.Hash, b.Difficulty) {
				break
			}
		}
		if err := b.ValidateStructure(testCrypto, genesis); !errors.Is(err, ErrInvalidBlock) {
			t.Errorf("ValidateStructure() error = %v, want ErrInvalidBlock", err)
		}
	})

	t.Run("second reward transaction", func(t *testing.T) {
		txs := []*Transaction{
			NewRewardTransaction(testCrypto, miner.addr, 50, 1700000100, "mining reward"),
			NewRewardTransaction(testCrypto, miner.addr, 50, 1700000101, "mining reward"),
		}
		b := BuildBlock(testCrypto, genesis, txs, miner.addr, 1, 50, 1700000100)
		for nonce := uint64(0); ; nonce++ {
			b.Seal(testCrypto, nonce)
			if HashMeetsDifficulty(b.Hash, b.Difficulty) {
				break
			}
		}
		if err := b.ValidateStructure(testCrypto, genesis); !errors.Is(err, ErrInvalidBlock) {
			t.Errorf("ValidateStructure() error = %v, want ErrInvalidBlock", err)
		}
	})
}

func TestBlockTimestampBounds(t *testing.T) {
	chain := NewChain(testCrypto, DefaultGenesis())
	miner := newKeyHolder(t)
	genesis := chain.Tip()

	t.Run("timestamp before predecessor", func(t *testing.T) {
		b := mineNext(t, genesis, nil, miner.addr, 50, genesis.Timestamp-1)
		if err := b.ValidateStructure(testCrypto, genesis); !errors.Is(err, ErrStaleTimestamp) {
			t.Errorf("ValidateStructure() error = %v, want ErrStaleTimestamp", err)
		}
	})

	t.Run("timestamp beyond allowed skew", func(t *testing.T) {
		future := time.Now().Add(MaxTimestampSkew + time.Hour).Unix()
		b := mineNext(t, genesis, nil, miner.addr, 50, future)
		if err := b.ValidateStructure(testCrypto, genesis); !errors.Is(err, ErrStaleTimestamp) {
			t.Errorf("ValidateStructure() error = %v, want ErrStaleTimestamp", err)
		}
	})

	t.Run("same second as predecessor is allowed", func(t *testing.T) {
		b := mineNext(t, genesis, nil, miner.addr, 50, genesis.Timestamp)
		if err := b.ValidateStructure(testCrypto, genesis); err != nil {
			t.Errorf("ValidateStructure() error = %v, want nil", err)
		}
	})
}

func TestValidateRejectsWrappingFees(t *testing.T) {
	chain := NewChain(testCrypto, DefaultGenesis())
	miner := newKeyHolder(t)
	sender := newKeyHolder(t)
	genesis := chain.Tip()

	// Each fee fits uint64 on its own, but together they wrap; the fee sum
	// must fail instead of validating against a tiny wrapped total.
	txs := []*Transaction{
		NewRewardTransaction(testCrypto, miner.addr, 50, 1700000100, "mining reward"),
		NewTransaction(testCrypto, sender.addr, miner.addr, 1, math.MaxUint64-1, "", 1700000100),
		NewTransaction(testCrypto, sender.addr, miner.addr, 1, math.MaxUint64-1, "", 1700000101),
	}
	b := BuildBlock(testCrypto, genesis, txs, miner.addr, 1, 50, 1700000100)
	for nonce := uint64(0); ; nonce++ {
		b.Seal(testCrypto, nonce)
		if HashMeetsDifficulty(b.Hash, b.Difficulty) {
			break
		}
	}

	if _, err := b.TotalFees(); err == nil {
		t.Error("TotalFees() returned no error for a wrapping fee sum")
	}
	if err := b.ValidateStructure(testCrypto, genesis); !errors.Is(err, ErrInvalidBlock) {
		t.Errorf("ValidateStructure() error = %v, want ErrInvalidBlock", err)
	}
}

func TestProofOfWorkEnforced(t *testing.T) {
	chain := NewChain(testCrypto, DefaultGenesis())
	miner := newKeyHolder(t)

	txs := []*Transaction{NewRewardTransaction(testCrypto, miner.addr, 50, 1700000100, "mining reward")}
	b := BuildBlock(testCrypto, chain.Tip(), txs, miner.addr, 255, 50, 1700000100)
	b.Seal(testCrypto, 0)

	// At difficulty 255 a single nonce essentially never meets the target.
	if err := b.ValidateStructure(testCrypto, chain.Tip()); !errors.Is(err, ErrDifficultyNotMet) {
		t.Errorf("ValidateStructure() error = %v, want ErrDifficultyNotMet", err)
	}
}
