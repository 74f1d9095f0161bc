package kms

import (
	"errors"

	"github.com/ruteri/tee-contract-enclave/interfaces"
)

var (
	// ErrKeyNotInitialized is recoverable: the caller should generate the
	// key or obtain it through seed exchange.
	ErrKeyNotInitialized = errors.New("key not initialized")
	ErrSealFailed        = errors.New("failed to seal key")
	ErrUnsealFailed      = errors.New("failed to unseal key")
	ErrKeyDerivation     = errors.New("key derivation failed")
	ErrKeyGeneration     = errors.New("key generation failed")
	// ErrSeedAlreadySet rejects a second seed; ReplaceConsensusSeed is the
	// administrative path for replacing it.
	ErrSeedAlreadySet = errors.New("consensus seed already set")
)

// EnclaveErrorFor collapses a keychain error for the enclave boundary.
func EnclaveErrorFor(err error) interfaces.EnclaveError {
	switch {
	case errors.Is(err, ErrKeyNotInitialized):
		return interfaces.EnclaveKeyNotInitialized
	case errors.Is(err, ErrSealFailed):
		return interfaces.EnclaveFailedSeal
	case errors.Is(err, ErrUnsealFailed):
		return interfaces.EnclaveFailedUnseal
	default:
		return interfaces.EnclaveUnexpected
	}
}
