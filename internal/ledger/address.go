package ledger

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
)

const (
	// AddressPrefix marks every wallet address on this chain.
	AddressPrefix = "QX"
	// AddressPayloadSize is the truncated public-key digest carried in an
	// address.
	AddressPayloadSize = 20
	// addressVersion is the base58check version byte.
	addressVersion = 0x58

	// RewardSender is the synthetic sender of mining-reward and
	// initial-supply transactions. It is not a spendable address.
	RewardSender = "0"
)

// GenesisAddress receives the initial supply minted in the genesis block.
var GenesisAddress = EncodeAddress(make([]byte, AddressPayloadSize))

// EncodeAddress renders a truncated public-key digest as a checksummed,
// transcription-safe address string.
func EncodeAddress(payload []byte) string {
	return AddressPrefix + base58.CheckEncode(payload, addressVersion)
}

// DecodeAddress parses and checksums an address, returning its payload.
func DecodeAddress(addr string) ([]byte, error) {
	if !strings.HasPrefix(addr, AddressPrefix) {
		return nil, fmt.Errorf("%w: missing %q prefix", ErrMalformedAddress, AddressPrefix)
	}
	payload, version, err := base58.CheckDecode(addr[len(AddressPrefix):])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAddress, err)
	}
	if version != addressVersion {
		return nil, fmt.Errorf("%w: unexpected version byte 0x%02x", ErrMalformedAddress, version)
	}
	if len(payload) != AddressPayloadSize {
		return nil, fmt.Errorf("%w: payload must be %d bytes, got %d", ErrMalformedAddress, AddressPayloadSize, len(payload))
	}
	return payload, nil
}

// AddressFromPublicKey derives the address owned by a signing public key:
// the truncated digest of the key, checksummed and encoded.
func AddressFromPublicKey(h Hasher, publicKey []byte) string {
	digest := h.Hash(publicKey)
	return EncodeAddress(digest[:AddressPayloadSize])
}

// ValidateAddress rejects addresses with a bad prefix, checksum, or payload
// size. The reward sender is accepted only where callers allow it explicitly.
func ValidateAddress(addr string) error {
	_, err := DecodeAddress(addr)
	return err
}
