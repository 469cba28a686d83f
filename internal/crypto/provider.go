// Package crypto provides the post-quantum primitives the ledger is built on:
// lattice signatures, key encapsulation, and the SHA3-256 digest used for
// transaction, block, and address hashing.
package crypto

import (
	"fmt"

	"github.com/cloudflare/circl/kem"
	kemschemes "github.com/cloudflare/circl/kem/schemes"
	"github.com/cloudflare/circl/sign"
	signschemes "github.com/cloudflare/circl/sign/schemes"
	"golang.org/x/crypto/sha3"
)

const (
	// SignatureSchemeName is the lattice signature scheme securing transactions.
	SignatureSchemeName = "ML-DSA-65"
	// KEMSchemeName is the key encapsulation mechanism issued to wallets.
	KEMSchemeName = "ML-KEM-1024"
)

// HashSize is the digest size in bytes.
const HashSize = 32

// Provider is the capability set the ledger, miner, and consensus code rely
// on. Alternative backends can be substituted without touching those packages.
type Provider interface {
	GenerateKEMKeyPair() (public, secret []byte, err error)
	GenerateSigningKeyPair() (public, secret []byte, err error)
	Sign(secret, message []byte) ([]byte, error)
	Verify(public, message, signature []byte) bool
	Hash(data []byte) [HashSize]byte
	Encapsulate(public []byte) (ciphertext, shared []byte, err error)
	Decapsulate(secret, ciphertext []byte) (shared []byte, err error)
}

// MLProvider implements Provider with the standardized ML-DSA and ML-KEM
// schemes.
type MLProvider struct {
	sig sign.Scheme
	kem kem.Scheme
}

var _ Provider = (*MLProvider)(nil)

// NewProvider constructs an MLProvider. It fails only when the compiled-in
// scheme registry is missing a scheme, which is a build configuration bug.
func NewProvider() (*MLProvider, error) {
	sigScheme := signschemes.ByName(SignatureSchemeName)
	if sigScheme == nil {
		return nil, fmt.Errorf("signature scheme %q not registered", SignatureSchemeName)
	}
	kemScheme := kemschemes.ByName(KEMSchemeName)
	if kemScheme == nil {
		return nil, fmt.Errorf("kem scheme %q not registered", KEMSchemeName)
	}
	return &MLProvider{sig: sigScheme, kem: kemScheme}, nil
}

// MustProvider is NewProvider for wiring paths where a missing scheme should
// stop the process immediately.
func MustProvider() *MLProvider {
	p, err := NewProvider()
	if err != nil {
		panic(err)
	}
	return p
}

// GenerateSigningKeyPair produces an ML-DSA key pair in binary form.
func (p *MLProvider) GenerateSigningKeyPair() ([]byte, []byte, error) {
	pk, sk, err := p.sig.GenerateKey()
	if err != nil {
		return nil, nil, fmt.Errorf("generate signing key pair: %w", err)
	}
	pkBytes, err := pk.MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("marshal signing public key: %w", err)
	}
	skBytes, err := sk.MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("marshal signing secret key: %w", err)
	}
	return pkBytes, skBytes, nil
}

// GenerateKEMKeyPair produces an ML-KEM key pair in binary form.
func (p *MLProvider) GenerateKEMKeyPair() ([]byte, []byte, error) {
	pk, sk, err := p.kem.GenerateKeyPair()
	if err != nil {
		return nil, nil, fmt.Errorf("generate kem key pair: %w", err)
	}
	pkBytes, err := pk.MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("marshal kem public key: %w", err)
	}
	skBytes, err := sk.MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("marshal kem secret key: %w", err)
	}
	return pkBytes, skBytes, nil
}

// Sign signs message with the given secret key. A secret key of the wrong
// size is a configuration error and is reported, never signed around.
func (p *MLProvider) Sign(secret, message []byte) ([]byte, error) {
	if len(secret) != p.sig.PrivateKeySize() {
		return nil, fmt.Errorf("signing secret key must be %d bytes, got %d", p.sig.PrivateKeySize(), len(secret))
	}
	sk, err := p.sig.UnmarshalBinaryPrivateKey(secret)
	if err != nil {
		return nil, fmt.Errorf("unmarshal signing secret key: %w", err)
	}
	return p.sig.Sign(sk, message, nil), nil
}

// Verify reports whether signature is valid for message under public.
// Malformed key or signature material yields false, never a panic.
func (p *MLProvider) Verify(public, message, signature []byte) bool {
	if len(public) != p.sig.PublicKeySize() || len(signature) != p.sig.SignatureSize() {
		return false
	}
	pk, err := p.sig.UnmarshalBinaryPublicKey(public)
	if err != nil {
		return false
	}
	return p.sig.Verify(pk, message, signature, nil)
}

// Hash returns the SHA3-256 digest of data.
func (p *MLProvider) Hash(data []byte) [HashSize]byte {
	return sha3.Sum256(data)
}

// Encapsulate derives a shared secret for the holder of the given KEM public
// key, returning the ciphertext to transmit and the local copy of the secret.
func (p *MLProvider) Encapsulate(public []byte) ([]byte, []byte, error) {
	pk, err := p.kem.UnmarshalBinaryPublicKey(public)
	if err != nil {
		return nil, nil, fmt.Errorf("unmarshal kem public key: %w", err)
	}
	ct, ss, err := p.kem.Encapsulate(pk)
	if err != nil {
		return nil, nil, fmt.Errorf("encapsulate: %w", err)
	}
	return ct, ss, nil
}

// Decapsulate recovers the shared secret from a ciphertext.
func (p *MLProvider) Decapsulate(secret, ciphertext []byte) ([]byte, error) {
	sk, err := p.kem.UnmarshalBinaryPrivateKey(secret)
	if err != nil {
		return nil, fmt.Errorf("unmarshal kem secret key: %w", err)
	}
	ss, err := p.kem.Decapsulate(sk, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decapsulate: %w", err)
	}
	return ss, nil
}
