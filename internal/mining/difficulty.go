package mining

import (
	"go.uber.org/zap"

	"github.com/qxchain/qxchain-node/internal/ledger"
)

// NextDifficulty returns the difficulty the next block must be mined at.
// Difficulty is recomputed every AdjustmentInterval blocks by scaling the
// current value with the ratio of target block time to the measured average
// over the last interval, clamped to MaxAdjustmentFactor per step so a single
// outlier window cannot swing the target.
func (e *Engine) NextDifficulty(blocks []*ledger.Block) uint64 {
	tip := blocks[len(blocks)-1]
	current := tip.Difficulty
	if current < e.cfg.MinDifficulty {
		current = e.cfg.MinDifficulty
	}

	nextIndex := tip.Index + 1
	interval := e.cfg.AdjustmentInterval
	if nextIndex%interval != 0 || uint64(len(blocks)) < interval+1 {
		return current
	}

	window := blocks[uint64(len(blocks))-interval-1:]
	actual := window[len(window)-1].Timestamp - window[0].Timestamp
	expected := int64(interval) * int64(e.cfg.TargetBlockTime.Seconds())
	if actual < 1 {
		actual = 1
	}

	next := current * uint64(expected) / uint64(actual)
	if max := current * e.cfg.MaxAdjustmentFactor; next > max {
		next = max
	}
	if min := current / e.cfg.MaxAdjustmentFactor; next < min {
		next = min
	}
	if next < e.cfg.MinDifficulty {
		next = e.cfg.MinDifficulty
	}

	if next != current {
		e.logger.Info("difficulty retargeted",
			zap.Uint64("height", nextIndex),
			zap.Uint64("previous", current),
			zap.Uint64("next", next),
			zap.Int64("window_seconds", actual),
			zap.Int64("expected_seconds", expected),
		)
	}
	return next
}
