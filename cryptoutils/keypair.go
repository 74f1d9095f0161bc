package cryptoutils

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

var ErrInvalidSecretKey = errors.New("invalid secret key")

// KeyPair is a secp256k1 key pair used for ECDH key agreement.
type KeyPair struct {
	priv *ecdsa.PrivateKey
}

// NewKeyPair generates a key pair from the platform RNG.
func NewKeyPair() (*KeyPair, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generating secp256k1 key: %w", err)
	}
	return &KeyPair{priv: priv}, nil
}

// NewKeyPairFromSecret builds a key pair from a 32-byte scalar. The scalar
// must be non-zero and below the curve order.
func NewKeyPairFromSecret(secret []byte) (*KeyPair, error) {
	priv, err := crypto.ToECDSA(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSecretKey, err)
	}
	return &KeyPair{priv: priv}, nil
}

func (kp *KeyPair) PublicKey() PublicKey {
	var pk PublicKey
	copy(pk[:], crypto.FromECDSAPub(&kp.priv.PublicKey))
	return pk
}

// SecretBytes returns the 32-byte big-endian scalar.
func (kp *KeyPair) SecretBytes() []byte {
	return crypto.FromECDSA(kp.priv)
}

// SharedSecret performs ECDH with peer and returns SHA-256 over the
// compressed shared point, the same value libsecp256k1 produces.
func (kp *KeyPair) SharedSecret(peer PublicKey) (Seed, error) {
	pub, err := crypto.UnmarshalPubkey(peer[:])
	if err != nil {
		return Seed{}, fmt.Errorf("%w: %w", ErrInvalidPublicKey, err)
	}

	curve := crypto.S256()
	x, y := curve.ScalarMult(pub.X, pub.Y, kp.priv.D.Bytes())
	if x == nil || (x.Sign() == 0 && y.Sign() == 0) {
		return Seed{}, errors.New("ecdh produced the point at infinity")
	}

	compressed := make([]byte, 33)
	compressed[0] = 0x02 | byte(y.Bit(0))
	x.FillBytes(compressed[1:])

	return Seed(sha256.Sum256(compressed)), nil
}
