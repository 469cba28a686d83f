// Package archive exports accepted blocks into analytical storage. The
// archive is a write-behind copy of the chain; the node never reads consensus
// state back from it.
package archive

import (
	"fmt"
	"time"

	"github.com/qxchain/qxchain-node/internal/ledger"
	"github.com/qxchain/qxchain-node/pkg/safe"
)

// BlockRow is the storage representation of an accepted block.
type BlockRow struct {
	Height       uint64
	Hash         string
	PreviousHash string
	MerkleRoot   string
	Timestamp    time.Time
	Nonce        uint64
	Difficulty   uint64
	MinerAddress string
	Reward       uint64
	TotalFees    uint64
	TXCount      uint32
}

// TransactionRow is the storage representation of a confirmed transaction.
type TransactionRow struct {
	BlockHeight uint64
	BlockHash   string
	Hash        string
	Sender      string
	Recipient   string
	Amount      uint64
	Fee         uint64
	Timestamp   time.Time
	DataSize    uint32
	IsReward    bool
}

// RowsFromBlock flattens a block into its archive rows.
func RowsFromBlock(b *ledger.Block) (BlockRow, []TransactionRow, error) {
	txCount, err := safe.Uint32(len(b.Transactions))
	if err != nil {
		return BlockRow{}, nil, fmt.Errorf("transaction count: %w", err)
	}
	totalFees, err := b.TotalFees()
	if err != nil {
		return BlockRow{}, nil, err
	}

	row := BlockRow{
		Height:       b.Index,
		Hash:         b.Hash.String(),
		PreviousHash: b.PreviousHash.String(),
		MerkleRoot:   b.MerkleRoot.String(),
		Timestamp:    time.Unix(b.Timestamp, 0).UTC(),
		Nonce:        b.Nonce,
		Difficulty:   b.Difficulty,
		MinerAddress: b.MinerAddress,
		Reward:       b.Reward,
		TotalFees:    totalFees,
		TXCount:      txCount,
	}

	txRows := make([]TransactionRow, 0, len(b.Transactions))
	for _, tx := range b.Transactions {
		dataSize, err := safe.Uint32(len(tx.Data))
		if err != nil {
			return BlockRow{}, nil, fmt.Errorf("transaction %s data size: %w", tx.Hash, err)
		}
		txRows = append(txRows, TransactionRow{
			BlockHeight: b.Index,
			BlockHash:   b.Hash.String(),
			Hash:        tx.Hash.String(),
			Sender:      tx.Sender,
			Recipient:   tx.Recipient,
			Amount:      tx.Amount,
			Fee:         tx.Fee,
			Timestamp:   time.Unix(tx.Timestamp, 0).UTC(),
			DataSize:    dataSize,
			IsReward:    tx.IsReward(),
		})
	}
	return row, txRows, nil
}
