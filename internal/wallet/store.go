// Package wallet generates post-quantum key material and derives the
// checksummed addresses transactions are sent between.
package wallet

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/qxchain/qxchain-node/internal/crypto"
	"github.com/qxchain/qxchain-node/internal/ledger"
)

var (
	// ErrWalletExists is returned by Create when the identifier is taken;
	// overwriting key material requires the explicit Replace operation.
	ErrWalletExists = errors.New("wallet identifier already exists")
	// ErrWalletNotFound is returned when no wallet matches the identifier.
	ErrWalletNotFound = errors.New("wallet not found")
)

// Wallet bundles a holder's key material and derived address.
type Wallet struct {
	ID                 string    `json:"id"`
	Address            string    `json:"address"`
	SignaturePublicKey []byte    `json:"signature_public_key"`
	SignatureSecretKey []byte    `json:"-"`
	KEMPublicKey       []byte    `json:"kem_public_key"`
	KEMSecretKey       []byte    `json:"-"`
	CreatedAt          time.Time `json:"created_at"`
}

// Store is an in-memory, concurrency-safe wallet registry.
type Store struct {
	provider crypto.Provider

	mu      sync.RWMutex
	wallets map[string]*Wallet
}

// NewStore constructs a Store backed by the given crypto provider.
func NewStore(provider crypto.Provider) *Store {
	return &Store{
		provider: provider,
		wallets:  make(map[string]*Wallet),
	}
}

// Create generates a signing key pair and a KEM key pair for id and derives
// the wallet address. An existing id is never silently overwritten.
func (s *Store) Create(id string) (*Wallet, error) {
	if id == "" {
		return nil, errors.New("wallet identifier is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.wallets[id]; ok {
		return nil, fmt.Errorf("%w: %q", ErrWalletExists, id)
	}
	w, err := s.generate(id)
	if err != nil {
		return nil, err
	}
	s.wallets[id] = w
	return w, nil
}

// Replace regenerates key material for an existing id. This is the explicit
// overwrite operation; the previous keys become unusable.
func (s *Store) Replace(id string) (*Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.wallets[id]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrWalletNotFound, id)
	}
	w, err := s.generate(id)
	if err != nil {
		return nil, err
	}
	s.wallets[id] = w
	return w, nil
}

func (s *Store) generate(id string) (*Wallet, error) {
	sigPK, sigSK, err := s.provider.GenerateSigningKeyPair()
	if err != nil {
		return nil, fmt.Errorf("wallet %q: %w", id, err)
	}
	kemPK, kemSK, err := s.provider.GenerateKEMKeyPair()
	if err != nil {
		return nil, fmt.Errorf("wallet %q: %w", id, err)
	}
	return &Wallet{
		ID:                 id,
		Address:            ledger.AddressFromPublicKey(s.provider, sigPK),
		SignaturePublicKey: sigPK,
		SignatureSecretKey: sigSK,
		KEMPublicKey:       kemPK,
		KEMSecretKey:       kemSK,
		CreatedAt:          time.Now().UTC(),
	}, nil
}

// Get returns the wallet registered under id.
func (s *Store) Get(id string) (*Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrWalletNotFound, id)
	}
	return w, nil
}

// List returns all wallets ordered by identifier.
func (s *Store) List() []*Wallet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Wallet, 0, len(s.wallets))
	for _, w := range s.wallets {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NewTransaction builds and signs a transfer from this wallet, timestamped
// at now.
func (w *Wallet) NewTransaction(h ledger.Hasher, signer ledger.Signer, recipient string, amount, fee uint64, data string, now time.Time) (*ledger.Transaction, error) {
	if err := ledger.ValidateAddress(recipient); err != nil {
		return nil, err
	}
	tx := ledger.NewTransaction(h, w.Address, recipient, amount, fee, data, now.Unix())
	if err := tx.SignWith(signer, w.SignaturePublicKey, w.SignatureSecretKey); err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return tx, nil
}

// DeriveAddress returns the address owned by a signing public key. The KEM
// key pair is wallet material for confidential payloads and plays no part in
// address derivation, so spends can be verified from the transaction alone.
func DeriveAddress(h ledger.Hasher, sigPublicKey []byte) string {
	return ledger.AddressFromPublicKey(h, sigPublicKey)
}
