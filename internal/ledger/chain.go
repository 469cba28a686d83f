package ledger

import (
	"fmt"

	"github.com/qxchain/qxchain-node/pkg/safe"
)

// GenesisConfig fixes the deterministic genesis block every node starts from.
type GenesisConfig struct {
	InitialSupply uint64
	Timestamp     int64
	Difficulty    uint64
	Note          string
}

// DefaultGenesis returns the network's genesis parameters.
func DefaultGenesis() GenesisConfig {
	return GenesisConfig{
		InitialSupply: 42_000_000,
		Timestamp:     1700000000,
		Difficulty:    1,
		Note:          "QXChain genesis",
	}
}

// Chain is the append-only block sequence. It performs no locking itself; the
// node serializes mutations and hands out snapshot slices to readers.
type Chain struct {
	crypto CryptoSuite
	blocks []*Block
}

// NewChain creates a chain holding only the genesis block. Genesis is mined
// deterministically from the config, so independent nodes agree on it.
func NewChain(cs CryptoSuite, cfg GenesisConfig) *Chain {
	supply := NewRewardTransaction(cs, GenesisAddress, cfg.InitialSupply, cfg.Timestamp, cfg.Note)
	genesis := &Block{
		Index:        0,
		Timestamp:    cfg.Timestamp,
		PreviousHash: ZeroHash,
		MerkleRoot:   MerkleRoot(cs, []*Transaction{supply}),
		Difficulty:   cfg.Difficulty,
		MinerAddress: GenesisAddress,
		Reward:       cfg.InitialSupply,
		Transactions: []*Transaction{supply},
	}
	for nonce := uint64(0); ; nonce++ {
		genesis.Seal(cs, nonce)
		if HashMeetsDifficulty(genesis.Hash, genesis.Difficulty) {
			break
		}
	}
	return &Chain{crypto: cs, blocks: []*Block{genesis}}
}

// Height returns the number of blocks in the chain.
func (c *Chain) Height() int {
	return len(c.blocks)
}

// Tip returns the latest block.
func (c *Chain) Tip() *Block {
	return c.blocks[len(c.blocks)-1]
}

// Genesis returns block zero.
func (c *Chain) Genesis() *Block {
	return c.blocks[0]
}

// Blocks returns a snapshot of the block sequence. The slice is safe to hold
// across later appends and replacements.
func (c *Chain) Blocks() []*Block {
	out := make([]*Block, len(c.blocks))
	copy(out, c.blocks)
	return out
}

// Append validates block against the current tip and extends the chain.
// A failed validation leaves the chain untouched.
func (c *Chain) Append(block *Block) error {
	if err := block.Validate(c.crypto, c.Tip()); err != nil {
		return err
	}
	if err := c.checkSpendable(block); err != nil {
		return err
	}
	// Full-slice append so snapshots handed to readers never observe the new
	// block retroactively.
	c.blocks = append(c.blocks[:len(c.blocks):len(c.blocks)], block)
	return nil
}

// checkSpendable verifies every sender in the block can cover amount+fee from
// their confirmed balance, processing the block's transactions in order.
func (c *Chain) checkSpendable(block *Block) error {
	balances := c.Balances()
	for _, tx := range block.Transactions {
		if err := applyTransaction(balances, tx); err != nil {
			return err
		}
	}
	return nil
}

// Replace swaps the whole block sequence. Callers (consensus resolution)
// validate the candidate before swapping.
func (c *Chain) Replace(blocks []*Block) {
	replaced := make([]*Block, len(blocks))
	copy(replaced, blocks)
	c.blocks = replaced
}

// BalanceOf computes an address's confirmed balance by scanning from genesis.
func (c *Chain) BalanceOf(address string) uint64 {
	return c.Balances()[address]
}

// Balances computes the confirmed balance of every address. The chain's own
// blocks are valid by construction, so the scan cannot underflow.
func (c *Chain) Balances() map[string]uint64 {
	balances, _ := RunningBalances(c.blocks)
	return balances
}

// RunningBalances folds blocks into per-address balances, failing with
// ErrInsufficientBalance at the first overspend. Used both for local balance
// queries and for re-validating candidate chains.
func RunningBalances(blocks []*Block) (map[string]uint64, error) {
	balances := make(map[string]uint64)
	for _, block := range blocks {
		for _, tx := range block.Transactions {
			if err := applyTransaction(balances, tx); err != nil {
				return nil, fmt.Errorf("block %d: %w", block.Index, err)
			}
		}
	}
	return balances, nil
}

func applyTransaction(balances map[string]uint64, tx *Transaction) error {
	if !tx.IsReward() {
		debit, err := safe.AddUint64(tx.Amount, tx.Fee)
		if err != nil {
			return fmt.Errorf("%w: %s debit overflows: %v", ErrInsufficientBalance, tx.Sender, err)
		}
		if balances[tx.Sender] < debit {
			return fmt.Errorf("%w: %s holds %d, needs %d", ErrInsufficientBalance, tx.Sender, balances[tx.Sender], debit)
		}
		balances[tx.Sender] -= debit
	}
	credited, err := safe.AddUint64(balances[tx.Recipient], tx.Amount)
	if err != nil {
		return fmt.Errorf("%w: crediting %s: %v", ErrInvalidBlock, tx.Recipient, err)
	}
	balances[tx.Recipient] = credited
	return nil
}

// TotalSupply sums all confirmed balances.
func (c *Chain) TotalSupply() uint64 {
	var total uint64
	for _, v := range c.Balances() {
		total += v
	}
	return total
}

// TransactionCount counts transactions across all blocks.
func (c *Chain) TransactionCount() int {
	var n int
	for _, b := range c.blocks {
		n += len(b.Transactions)
	}
	return n
}

// HistoryFor returns every confirmed transaction touching the address, in
// chain order.
func (c *Chain) HistoryFor(address string) []*Transaction {
	var history []*Transaction
	for _, b := range c.blocks {
		for _, tx := range b.Transactions {
			if tx.Sender == address || tx.Recipient == address {
				history = append(history, tx)
			}
		}
	}
	return history
}

// Validate re-checks the whole chain: genesis shape, pairwise block
// invariants, and balance consistency.
func (c *Chain) Validate() error {
	return ValidateBlocks(c.crypto, c.blocks)
}

// ValidateGenesis checks the structural invariants of block zero.
func ValidateGenesis(h Hasher, genesis *Block) error {
	if genesis.Index != 0 {
		return fmt.Errorf("%w: genesis index %d", ErrInvalidBlockLinkage, genesis.Index)
	}
	if !genesis.PreviousHash.IsZero() {
		return fmt.Errorf("%w: genesis previous hash %s", ErrInvalidBlockLinkage, genesis.PreviousHash)
	}
	if err := genesis.validateSealed(h); err != nil {
		return fmt.Errorf("genesis: %w", err)
	}
	return nil
}

// ValidateBlocks re-validates an arbitrary block sequence from genesis.
func ValidateBlocks(cs CryptoSuite, blocks []*Block) error {
	if len(blocks) == 0 {
		return fmt.Errorf("%w: empty chain", ErrInvalidBlock)
	}
	if err := ValidateGenesis(cs, blocks[0]); err != nil {
		return err
	}
	for i := 1; i < len(blocks); i++ {
		if err := blocks[i].Validate(cs, blocks[i-1]); err != nil {
			return fmt.Errorf("block %d: %w", blocks[i].Index, err)
		}
	}
	if err := blocks[0].ValidateSignatures(cs); err != nil {
		return fmt.Errorf("genesis: %w", err)
	}
	if _, err := RunningBalances(blocks); err != nil {
		return err
	}
	return nil
}
