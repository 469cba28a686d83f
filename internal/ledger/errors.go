package ledger

import "errors"

// Validation failures are reported through these sentinels so callers can map
// a rejection to its specific reason without string matching.
var (
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrInvalidBlockLinkage  = errors.New("invalid block linkage")
	ErrDifficultyNotMet     = errors.New("difficulty not met")
	ErrMalformedAddress     = errors.New("malformed address")
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	ErrStaleTimestamp       = errors.New("stale timestamp")
	ErrChainTooShort        = errors.New("candidate chain is not longer than the local chain")
	ErrInvalidBlock         = errors.New("invalid block")
)
