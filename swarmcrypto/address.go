package swarmcrypto

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
)

// AddressPrefix is a human-readable bech32 prefix distinguishing account
// kinds, generalized from the teacher's single NHB/ZNHB prefix pair
// (nhbchain/crypto.Address) to this module's account taxonomy.
type AddressPrefix string

const (
	// AccountPrefix addresses ordinary economics accounts.
	AccountPrefix AddressPrefix = "swarm"
	// VerifierPrefix addresses registered verifier accounts.
	VerifierPrefix AddressPrefix = "swarmv"
)

// Address is a 20-byte identifier rendered with a bech32 human-readable
// prefix. The econ, challenge and dispatch packages identify accounts and
// verifiers by plain strings, not by Address.
type Address struct {
	prefix AddressPrefix
	bytes  []byte
}

// NewAddress wraps 20 raw bytes with a prefix.
func NewAddress(prefix AddressPrefix, b []byte) (Address, error) {
	if len(b) != 20 {
		return Address{}, fmt.Errorf("swarmcrypto: address must be 20 bytes, got %d", len(b))
	}
	cloned := append([]byte(nil), b...)
	return Address{prefix: prefix, bytes: cloned}, nil
}

// AddressFromPublicKey derives a deterministic 20-byte address from an
// Ed25519 public key: the low 20 bytes of SHA-256(pubkey).
func AddressFromPublicKey(prefix AddressPrefix, pub []byte) Address {
	sum := sha256.Sum256(pub)
	addr, _ := NewAddress(prefix, sum[12:])
	return addr
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.bytes, 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// Bytes returns a copy of the raw 20-byte address.
func (a Address) Bytes() []byte { return append([]byte(nil), a.bytes...) }

// Prefix returns the address's human-readable prefix.
func (a Address) Prefix() AddressPrefix { return a.prefix }

// DecodeAddress parses a bech32-encoded address string.
func DecodeAddress(s string) (Address, error) {
	prefix, decoded, err := bech32.Decode(s)
	if err != nil {
		return Address{}, fmt.Errorf("swarmcrypto: invalid bech32 address: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("swarmcrypto: error converting bits: %w", err)
	}
	return NewAddress(AddressPrefix(prefix), conv)
}
