// Package ledger defines the block and transaction model, the chain
// container, the pending pool, and the validation rules that make the chain
// tamper evident.
package ledger

import (
	"encoding/hex"
	"fmt"

	"github.com/qxchain/qxchain-node/internal/crypto"
)

// Hash is a SHA3-256 digest. It marshals as lowercase hex so exported chains
// re-hash to identical values on import.
type Hash [crypto.HashSize]byte

// ZeroHash is the previous-hash sentinel carried by the genesis block.
var ZeroHash Hash

// Hasher computes the digest used for transactions, blocks, merkle nodes,
// and addresses. crypto.Provider satisfies it.
type Hasher interface {
	Hash(data []byte) [crypto.HashSize]byte
}

// SignatureVerifier checks lattice signatures. crypto.Provider satisfies it.
type SignatureVerifier interface {
	Verify(public, message, signature []byte) bool
}

// CryptoSuite is the slice of crypto.Provider the ledger needs.
type CryptoSuite interface {
	Hasher
	SignatureVerifier
}

// String returns the lowercase hex encoding of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether the hash is all zero bytes.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	if len(text) != crypto.HashSize*2 {
		return fmt.Errorf("hash must be %d hex characters, got %d", crypto.HashSize*2, len(text))
	}
	decoded, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("decode hash: %w", err)
	}
	copy(h[:], decoded)
	return nil
}
