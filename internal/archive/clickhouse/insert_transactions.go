package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/qxchain/qxchain-node/internal/archive"
)

// InsertTransactions stores confirmed transaction rows in ClickHouse.
func (r *Repository) InsertTransactions(ctx context.Context, rows []archive.TransactionRow) error {
	start := time.Now()
	var err error
	defer func() {
		r.metrics.Observe("insert_transactions", err, start)
	}()

	if len(rows) == 0 {
		return nil
	}

	const query = `
INSERT INTO qx_transactions (
	block_height,
	block_hash,
	hash,
	sender,
	recipient,
	amount,
	fee,
	timestamp,
	data_size,
	is_reward
) VALUES`

	batch, err := r.conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare transactions batch: %w", err)
	}

	for _, row := range rows {
		if err = batch.Append(
			row.BlockHeight,
			row.BlockHash,
			row.Hash,
			row.Sender,
			row.Recipient,
			row.Amount,
			row.Fee,
			row.Timestamp,
			row.DataSize,
			row.IsReward,
		); err != nil {
			return fmt.Errorf("append transaction: %w", err)
		}
	}

	if err = batch.Send(); err != nil {
		return fmt.Errorf("insert transactions: %w", err)
	}
	return nil
}
