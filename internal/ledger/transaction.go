package ledger

import (
	"fmt"
	"time"

	"github.com/qxchain/qxchain-node/pkg/safe"
)

const (
	// MaxDataSize bounds the optional transaction payload.
	MaxDataSize = 1024
	// MaxTimestampSkew is how far into the future a transaction timestamp may
	// lie before it is rejected.
	MaxTimestampSkew = 2 * time.Minute
)

// Signer produces lattice signatures. crypto.Provider satisfies it.
type Signer interface {
	Sign(secret, message []byte) ([]byte, error)
}

// Transaction is a signed value transfer. Hash and Signature are derived from
// the other fields and never set independently.
type Transaction struct {
	Sender          string `json:"sender_address"`
	Recipient       string `json:"recipient_address"`
	Amount          uint64 `json:"amount"`
	Fee             uint64 `json:"fee"`
	Timestamp       int64  `json:"timestamp"`
	Data            string `json:"data,omitempty"`
	SenderPublicKey []byte `json:"sender_public_key,omitempty"`
	Signature       []byte `json:"signature,omitempty"`
	Hash            Hash   `json:"transaction_hash"`
}

// NewTransaction assembles an unsigned transaction and seals its hash.
func NewTransaction(h Hasher, sender, recipient string, amount, fee uint64, data string, timestamp int64) *Transaction {
	tx := &Transaction{
		Sender:    sender,
		Recipient: recipient,
		Amount:    amount,
		Fee:       fee,
		Timestamp: timestamp,
		Data:      data,
	}
	tx.Hash = tx.ComputeHash(h)
	return tx
}

// NewRewardTransaction builds the unsigned system transaction crediting a
// miner (or, at genesis, the initial supply).
func NewRewardTransaction(h Hasher, recipient string, amount uint64, timestamp int64, note string) *Transaction {
	return NewTransaction(h, RewardSender, recipient, amount, 0, note, timestamp)
}

// preimage returns the canonical byte encoding the hash and signature cover.
func (t *Transaction) preimage() []byte {
	b := make([]byte, 0, 64+len(t.Sender)+len(t.Recipient)+len(t.Data))
	b = appendString(b, t.Sender)
	b = appendString(b, t.Recipient)
	b = appendUint64(b, t.Amount)
	b = appendUint64(b, t.Fee)
	b = appendInt64(b, t.Timestamp)
	b = appendString(b, t.Data)
	return b
}

// ComputeHash digests the canonical encoding.
func (t *Transaction) ComputeHash(h Hasher) Hash {
	return h.Hash(t.preimage())
}

// SignWith signs the transaction hash and attaches the signature and the
// public key it verifies under.
func (t *Transaction) SignWith(s Signer, publicKey, secretKey []byte) error {
	sig, err := s.Sign(secretKey, t.Hash[:])
	if err != nil {
		return fmt.Errorf("sign transaction %s: %w", t.Hash, err)
	}
	t.SenderPublicKey = publicKey
	t.Signature = sig
	return nil
}

// IsReward reports whether this is a system-issued transaction that carries no
// signature.
func (t *Transaction) IsReward() bool {
	return t.Sender == RewardSender
}

// WellFormed checks the structural invariants that hold for every
// non-reward transaction: positive amount, an amount plus fee that fits
// uint64, bounded payload, checksummed addresses, and a timestamp not too
// far in the future.
func (t *Transaction) WellFormed(now time.Time) error {
	if t.IsReward() {
		if err := ValidateAddress(t.Recipient); err != nil {
			return err
		}
		return nil
	}
	if t.Amount == 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidBlock)
	}
	if _, err := safe.AddUint64(t.Amount, t.Fee); err != nil {
		return fmt.Errorf("%w: amount plus fee overflows", ErrInvalidBlock)
	}
	if len(t.Data) > MaxDataSize {
		return fmt.Errorf("%w: data exceeds %d bytes", ErrInvalidBlock, MaxDataSize)
	}
	if err := ValidateAddress(t.Sender); err != nil {
		return err
	}
	if err := ValidateAddress(t.Recipient); err != nil {
		return err
	}
	if t.Timestamp > now.Add(MaxTimestampSkew).Unix() {
		return fmt.Errorf("%w: timestamp %d is in the future", ErrStaleTimestamp, t.Timestamp)
	}
	return nil
}

// VerifySignature recomputes the hash and checks the lattice signature under
// the attached public key. Reward transactions carry no signature and pass.
func (t *Transaction) VerifySignature(cs CryptoSuite) error {
	if t.IsReward() {
		return nil
	}
	if recomputed := t.ComputeHash(cs); recomputed != t.Hash {
		return fmt.Errorf("%w: transaction hash mismatch", ErrInvalidSignature)
	}
	if len(t.SenderPublicKey) == 0 || len(t.Signature) == 0 {
		return fmt.Errorf("%w: missing signature material", ErrInvalidSignature)
	}
	if AddressFromPublicKey(cs, t.SenderPublicKey) != t.Sender {
		return fmt.Errorf("%w: public key does not own sender address %s", ErrInvalidSignature, t.Sender)
	}
	if !cs.Verify(t.SenderPublicKey, t.Hash[:], t.Signature) {
		return ErrInvalidSignature
	}
	return nil
}
