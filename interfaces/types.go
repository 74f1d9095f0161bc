package interfaces

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ruteri/tee-contract-enclave/cryptoutils"
)

type Seed = cryptoutils.Seed
type PublicKey = cryptoutils.PublicKey
type KeyPair = cryptoutils.KeyPair

// Attestation is a raw platform quote.
type Attestation []byte

// ContractKeySize is the length of a contract storage scope.
const ContractKeySize = 32

// ContractKey scopes a contract's storage so that equal raw keys written by
// different contracts never collide.
type ContractKey [ContractKeySize]byte

func NewContractKeyFromBytes(b []byte) (ContractKey, error) {
	if len(b) != ContractKeySize {
		return ContractKey{}, errors.New("invalid contract key length: must be 32 bytes")
	}

	var key ContractKey
	copy(key[:], b)
	return key, nil
}

func NewContractKeyFromHex(s string) (ContractKey, error) {
	clean := strings.TrimPrefix(s, "0x")
	if len(clean) != 2*ContractKeySize {
		return ContractKey{}, errors.New("invalid contract key length: hex string must be 64 characters")
	}

	raw, err := hex.DecodeString(clean)
	if err != nil {
		return ContractKey{}, fmt.Errorf("invalid hex format: %w", err)
	}
	return NewContractKeyFromBytes(raw)
}

// String returns the hex string representation of the contract key.
func (k ContractKey) String() string {
	return hex.EncodeToString(k[:])
}

func (k ContractKey) Bytes() []byte {
	return k[:]
}

// Short is a log-friendly prefix of the key.
func (k ContractKey) Short() string {
	return hex.EncodeToString(k[:4])
}
