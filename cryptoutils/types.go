package cryptoutils

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

const (
	// SeedSize is the length of every secret produced or consumed by the key hierarchy.
	SeedSize = 32
	// PublicKeySize is the length of an uncompressed secp256k1 point.
	PublicKeySize = 65
	// SIVTagSize is the synthetic IV prepended to every AES-SIV ciphertext.
	SIVTagSize = 16
	// EncryptedSeedSize is the exact length of a seed sealed for transport.
	EncryptedSeedSize = SeedSize + SIVTagSize
)

var (
	ErrInvalidSeedLength      = errors.New("invalid seed length")
	ErrInvalidPublicKey       = errors.New("invalid public key")
	ErrInvalidPublicKeyLength = errors.New("invalid public key length")
)

// Seed is 32 bytes of secret material: the consensus seed, a derived
// symmetric key or a shared secret.
type Seed [SeedSize]byte

// NewRandomSeed draws a fresh seed from the platform RNG.
func NewRandomSeed() (Seed, error) {
	var s Seed
	if _, err := io.ReadFull(rand.Reader, s[:]); err != nil {
		return Seed{}, fmt.Errorf("reading randomness: %w", err)
	}
	return s, nil
}

func NewSeedFromBytes(b []byte) (Seed, error) {
	if len(b) != SeedSize {
		return Seed{}, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidSeedLength, len(b), SeedSize)
	}
	var s Seed
	copy(s[:], b)
	return s, nil
}

func (s Seed) Bytes() []byte {
	return s[:]
}

// Equal compares in constant time.
func (s Seed) Equal(other Seed) bool {
	return subtle.ConstantTimeCompare(s[:], other[:]) == 1
}

func (s Seed) IsZero() bool {
	return s == Seed{}
}

// Wipe zeroes the seed in place.
func (s *Seed) Wipe() {
	for i := range s {
		s[i] = 0
	}
}

// PublicKey is an uncompressed secp256k1 public key (0x04 || X || Y).
type PublicKey [PublicKeySize]byte

// NewPublicKeyFromBytes validates that b is a 65-byte point on the curve.
func NewPublicKeyFromBytes(b []byte) (PublicKey, error) {
	if len(b) != PublicKeySize {
		return PublicKey{}, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidPublicKeyLength, len(b), PublicKeySize)
	}
	if _, err := crypto.UnmarshalPubkey(b); err != nil {
		return PublicKey{}, fmt.Errorf("%w: %w", ErrInvalidPublicKey, err)
	}

	var pk PublicKey
	copy(pk[:], b)
	return pk, nil
}

func NewPublicKeyFromHex(s string) (PublicKey, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: invalid hex: %w", ErrInvalidPublicKey, err)
	}
	return NewPublicKeyFromBytes(raw)
}

// String returns the hex encoding of the key.
func (pk PublicKey) String() string {
	return hex.EncodeToString(pk[:])
}

func (pk PublicKey) Bytes() []byte {
	return pk[:]
}
