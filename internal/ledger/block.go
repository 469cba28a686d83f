package ledger

import (
	"fmt"
	"math/big"
	"time"

	"github.com/qxchain/qxchain-node/pkg/safe"
)

// Block is one sealed entry in the chain. Hash is derived from the header
// fields (including the merkle root) once the nonce is fixed.
type Block struct {
	Index        uint64         `json:"index"`
	Timestamp    int64          `json:"timestamp"`
	PreviousHash Hash           `json:"previous_hash"`
	MerkleRoot   Hash           `json:"merkle_root"`
	Nonce        uint64         `json:"nonce"`
	Difficulty   uint64         `json:"difficulty"`
	MinerAddress string         `json:"miner_address"`
	Reward       uint64         `json:"reward"`
	Transactions []*Transaction `json:"transactions"`
	Hash         Hash           `json:"block_hash"`
}

// BuildBlock assembles an unsealed block on top of prev: header fields and
// merkle root are set, nonce and hash are left for Seal.
func BuildBlock(h Hasher, prev *Block, txs []*Transaction, minerAddress string, difficulty, reward uint64, timestamp int64) *Block {
	return &Block{
		Index:        prev.Index + 1,
		Timestamp:    timestamp,
		PreviousHash: prev.Hash,
		MerkleRoot:   MerkleRoot(h, txs),
		Difficulty:   difficulty,
		MinerAddress: minerAddress,
		Reward:       reward,
		Transactions: txs,
	}
}

// headerBytes is the canonical hash pre-image of the block header.
func (b *Block) headerBytes() []byte {
	buf := make([]byte, 0, 128+len(b.MinerAddress))
	buf = appendUint64(buf, b.Index)
	buf = appendInt64(buf, b.Timestamp)
	buf = appendBytes(buf, b.PreviousHash[:])
	buf = appendBytes(buf, b.MerkleRoot[:])
	buf = appendUint64(buf, b.Nonce)
	buf = appendUint64(buf, b.Difficulty)
	buf = appendString(buf, b.MinerAddress)
	buf = appendUint64(buf, b.Reward)
	return buf
}

// Seal fixes the nonce and computes the block hash for it.
func (b *Block) Seal(h Hasher, nonce uint64) {
	b.Nonce = nonce
	b.Hash = h.Hash(b.headerBytes())
}

// ComputeHash returns the header digest for the block's current nonce without
// mutating the block.
func (b *Block) ComputeHash(h Hasher) Hash {
	return h.Hash(b.headerBytes())
}

// TotalFees sums the fees of every transaction in the block with overflow
// checks, so a block crafted with wrapping fees cannot report a small total.
func (b *Block) TotalFees() (uint64, error) {
	var fees uint64
	for _, tx := range b.Transactions {
		sum, err := safe.AddUint64(fees, tx.Fee)
		if err != nil {
			return 0, fmt.Errorf("block %d fees: %w", b.Index, err)
		}
		fees = sum
	}
	return fees, nil
}

// Target returns the threshold a block hash must stay below at the given
// difficulty: 2^(256-difficulty). Each difficulty step doubles the expected
// search cost.
func Target(difficulty uint64) *big.Int {
	if difficulty >= 256 {
		return big.NewInt(1)
	}
	return new(big.Int).Lsh(big.NewInt(1), uint(256-difficulty))
}

// HashMeetsDifficulty interprets the digest as a big-endian integer and tests
// it against the difficulty target.
func HashMeetsDifficulty(h Hash, difficulty uint64) bool {
	if difficulty == 0 {
		return true
	}
	return new(big.Int).SetBytes(h[:]).Cmp(Target(difficulty)) < 0
}

// Validate checks every block invariant relative to its predecessor: linkage,
// merkle root, header hash, proof of work, reward structure, and each
// transaction's form and signature.
func (b *Block) Validate(cs CryptoSuite, prev *Block) error {
	if err := b.ValidateStructure(cs, prev); err != nil {
		return err
	}
	return b.ValidateSignatures(cs)
}

// ValidateStructure checks linkage and timestamp ordering plus every invariant
// that needs only the hash function: merkle root, header hash, proof of work,
// reward structure, and transaction well-formedness. Signature checks are separate so callers
// re-validating whole chains can fan them out.
func (b *Block) ValidateStructure(h Hasher, prev *Block) error {
	if b.Index != prev.Index+1 {
		return fmt.Errorf("%w: index %d does not follow %d", ErrInvalidBlockLinkage, b.Index, prev.Index)
	}
	if b.PreviousHash != prev.Hash {
		return fmt.Errorf("%w: previous hash %s does not match tip %s", ErrInvalidBlockLinkage, b.PreviousHash, prev.Hash)
	}
	if b.Timestamp < prev.Timestamp {
		return fmt.Errorf("%w: timestamp %d precedes previous block at %d", ErrStaleTimestamp, b.Timestamp, prev.Timestamp)
	}
	return b.validateSealed(h)
}

// validateSealed checks the invariants that do not depend on the predecessor.
func (b *Block) validateSealed(h Hasher) error {
	if len(b.Transactions) == 0 {
		return fmt.Errorf("%w: block carries no transactions", ErrInvalidBlock)
	}
	if b.Timestamp > time.Now().Add(MaxTimestampSkew).Unix() {
		return fmt.Errorf("%w: block timestamp %d is in the future", ErrStaleTimestamp, b.Timestamp)
	}
	if root := MerkleRoot(h, b.Transactions); root != b.MerkleRoot {
		return fmt.Errorf("%w: merkle root mismatch", ErrInvalidBlock)
	}
	if computed := b.ComputeHash(h); computed != b.Hash {
		return fmt.Errorf("%w: block hash mismatch", ErrInvalidBlock)
	}
	if !HashMeetsDifficulty(b.Hash, b.Difficulty) {
		return fmt.Errorf("%w: hash %s misses difficulty %d", ErrDifficultyNotMet, b.Hash, b.Difficulty)
	}

	reward := b.Transactions[0]
	if !reward.IsReward() {
		return fmt.Errorf("%w: first transaction must be the mining reward", ErrInvalidBlock)
	}
	for i, tx := range b.Transactions[1:] {
		if tx.IsReward() {
			return fmt.Errorf("%w: extra reward transaction at position %d", ErrInvalidBlock, i+1)
		}
	}
	fees, err := b.TotalFees()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBlock, err)
	}
	rewardTotal, err := safe.AddUint64(b.Reward, fees)
	if err != nil {
		return fmt.Errorf("%w: reward plus fees overflows", ErrInvalidBlock)
	}
	if reward.Amount != rewardTotal {
		return fmt.Errorf("%w: reward %d does not equal base %d plus fees %d", ErrInvalidBlock, reward.Amount, b.Reward, fees)
	}

	blockTime := time.Unix(b.Timestamp, 0)
	for _, tx := range b.Transactions {
		if recomputed := tx.ComputeHash(h); recomputed != tx.Hash {
			return fmt.Errorf("%w: transaction %s hash mismatch", ErrInvalidBlock, tx.Hash)
		}
		if err := tx.WellFormed(blockTime); err != nil {
			return fmt.Errorf("transaction %s: %w", tx.Hash, err)
		}
	}
	return nil
}

// ValidateSignatures verifies every transaction signature in the block.
func (b *Block) ValidateSignatures(cs CryptoSuite) error {
	for _, tx := range b.Transactions {
		if err := tx.VerifySignature(cs); err != nil {
			return fmt.Errorf("transaction %s: %w", tx.Hash, err)
		}
	}
	return nil
}
