package storage

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ruteri/tee-contract-enclave/cryptoutils"
	"github.com/ruteri/tee-contract-enclave/interfaces"
	"github.com/ruteri/tee-contract-enclave/metrics"
)

const stateKeyLabel = "contract-state"

// GasCosts prices the storage operations reachable from contract code.
type GasCosts struct {
	ReadBase     uint64
	ReadPerByte  uint64
	WriteBase    uint64
	WritePerByte uint64
	RemoveBase   uint64
}

func DefaultGasCosts() GasCosts {
	return GasCosts{
		ReadBase:     1000,
		ReadPerByte:  3,
		WriteBase:    2000,
		WritePerByte: 30,
		RemoveBase:   1000,
	}
}

// StateKeySource provides the input keying material contract state keys are
// derived from. kms.Keychain satisfies it.
type StateKeySource interface {
	StateIKM() (cryptoutils.Seed, error)
}

// StateService encrypts contract state before it reaches an untrusted
// KVBackend. Backend keys are sha256(contractKey || key) and values are
// AES-SIV sealed under a per-contract key with the contract key and raw key
// as associated data, so one contract can neither read nor overwrite
// another's entries.
type StateService struct {
	log     *slog.Logger
	backend interfaces.KVBackend
	keys    StateKeySource
	costs   GasCosts
	// alloc sizes buffers for values coming back from the backend.
	alloc func(int) []byte
}

func NewStateService(log *slog.Logger, backend interfaces.KVBackend, keys StateKeySource, costs GasCosts) *StateService {
	return &StateService{
		log:     log,
		backend: backend,
		keys:    keys,
		costs:   costs,
		alloc:   func(n int) []byte { return make([]byte, n) },
	}
}

// WithHostAllocator routes buffers for backend values through alloc, so a
// value larger than the host allocation ceiling fails like any other
// oversized allocation. safetybuffer.Allocator.Alloc fits.
func (s *StateService) WithHostAllocator(alloc func(int) []byte) *StateService {
	if alloc != nil {
		s.alloc = alloc
	}
	return s
}

// Read returns a nil value and the base read cost when the key is absent.
func (s *StateService) Read(ctx context.Context, key []byte, contractKey interfaces.ContractKey) (value []byte, gas uint64, err error) {
	defer func() { metrics.RecordStateOperation("read", err) }()

	gas = s.costs.ReadBase
	stored, err := s.backend.Get(ctx, physicalKey(contractKey, key))
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return nil, gas, nil
	}
	if err != nil {
		return nil, gas, fmt.Errorf("reading from %s: %w", s.backend.Name(), err)
	}
	ciphertext := s.alloc(len(stored))
	copy(ciphertext, stored)

	stateKey, err := s.stateKey(contractKey)
	if err != nil {
		return nil, gas, fmt.Errorf("%w: %w", interfaces.ErrStateDecryption, err)
	}

	value, err = cryptoutils.SIVDecrypt(stateKey, ciphertext, contractKey[:], key)
	if err != nil {
		s.log.Warn("state entry failed authentication",
			slog.String("contract", contractKey.Short()),
			slog.String("backend", s.backend.Name()))
		return nil, gas, fmt.Errorf("%w: %w", interfaces.ErrStateDecryption, err)
	}
	// nil means absent to callers; an entry written empty stays present.
	if value == nil {
		value = []byte{}
	}

	return value, gas + s.costs.ReadPerByte*uint64(len(value)), nil
}

func (s *StateService) Write(ctx context.Context, key, value []byte, contractKey interfaces.ContractKey) (gas uint64, err error) {
	defer func() { metrics.RecordStateOperation("write", err) }()

	gas = s.costs.WriteBase + s.costs.WritePerByte*uint64(len(key)+len(value))

	stateKey, err := s.stateKey(contractKey)
	if err != nil {
		return gas, fmt.Errorf("%w: %w", interfaces.ErrStateEncryption, err)
	}

	ciphertext, err := cryptoutils.SIVEncrypt(stateKey, value, contractKey[:], key)
	if err != nil {
		return gas, fmt.Errorf("%w: %w", interfaces.ErrStateEncryption, err)
	}

	if err := s.backend.Set(ctx, physicalKey(contractKey, key), ciphertext); err != nil {
		return gas, fmt.Errorf("writing to %s: %w", s.backend.Name(), err)
	}

	return gas, nil
}

func (s *StateService) Remove(ctx context.Context, key []byte, contractKey interfaces.ContractKey) (gas uint64, err error) {
	defer func() { metrics.RecordStateOperation("remove", err) }()

	gas = s.costs.RemoveBase
	if err := s.backend.Delete(ctx, physicalKey(contractKey, key)); err != nil {
		return gas, fmt.Errorf("removing from %s: %w", s.backend.Name(), err)
	}
	return gas, nil
}

func (s *StateService) stateKey(contractKey interfaces.ContractKey) (cryptoutils.Seed, error) {
	ikm, err := s.keys.StateIKM()
	if err != nil {
		return cryptoutils.Seed{}, err
	}
	return cryptoutils.DeriveKey(ikm[:], []byte(stateKeyLabel), contractKey[:])
}

// contractKey is fixed-size so the concatenation is unambiguous.
func physicalKey(contractKey interfaces.ContractKey, key []byte) []byte {
	h := sha256.New()
	h.Write(contractKey[:])
	h.Write(key)
	return h.Sum(nil)
}
