package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/qxchain/qxchain-node/internal/archive"
)

// InsertBlocks stores block rows in ClickHouse.
func (r *Repository) InsertBlocks(ctx context.Context, rows []archive.BlockRow) error {
	start := time.Now()
	var err error
	defer func() {
		r.metrics.Observe("insert_blocks", err, start)
	}()

	if len(rows) == 0 {
		return nil
	}

	const query = `
INSERT INTO qx_blocks (
	height,
	hash,
	previous_hash,
	merkle_root,
	timestamp,
	nonce,
	difficulty,
	miner_address,
	reward,
	total_fees,
	tx_count
) VALUES`

	batch, err := r.conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare blocks batch: %w", err)
	}

	for _, row := range rows {
		if err = batch.Append(
			row.Height,
			row.Hash,
			row.PreviousHash,
			row.MerkleRoot,
			row.Timestamp,
			row.Nonce,
			row.Difficulty,
			row.MinerAddress,
			row.Reward,
			row.TotalFees,
			row.TXCount,
		); err != nil {
			return fmt.Errorf("append block: %w", err)
		}
	}

	if err = batch.Send(); err != nil {
		return fmt.Errorf("insert blocks: %w", err)
	}
	return nil
}
