package kms

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/ruteri/tee-contract-enclave/cryptoutils"
	"github.com/ruteri/tee-contract-enclave/metrics"
)

// Derivation labels of the seed-dependent keys. Each key is HKDF of the
// seed with its own label, so the three never coincide.
const (
	SeedExchangeKeyDeriveOrder byte = 1
	IOExchangeKeyDeriveOrder   byte = 2
	StateIKMDeriveOrder        byte = 3
)

type Config struct {
	// SealDir holds one sealed file per persisted key.
	SealDir string
	Sealer  cryptoutils.Sealer
}

// Keychain owns every secret of the enclave. The consensus seed and the
// registration key are persisted sealed; the seed-exchange key pair, the IO
// key pair and the state IKM are derived from the seed and only ever held
// in memory.
//
// Readers may run concurrently. Setters seal before committing, so a
// failed seal leaves both the in-memory and the on-disk state untouched.
type Keychain struct {
	log     *slog.Logger
	sealDir string
	sealer  cryptoutils.Sealer

	mu                  sync.RWMutex
	consensusSeed       *cryptoutils.Seed
	seedExchangeKeyPair *cryptoutils.KeyPair
	ioExchangeKeyPair   *cryptoutils.KeyPair
	stateIKM            *cryptoutils.Seed
	registrationKey     *cryptoutils.KeyPair
}

// Open builds the keychain from whatever is sealed in cfg.SealDir. Missing
// or corrupt sealed files leave the corresponding key unset. If a seed was
// recovered the derived keys are generated immediately.
func Open(log *slog.Logger, cfg Config) (*Keychain, error) {
	if cfg.SealDir == "" {
		return nil, errors.New("seal directory not configured")
	}
	if cfg.Sealer == nil {
		return nil, errors.New("sealer not configured")
	}
	if err := os.MkdirAll(cfg.SealDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating seal directory: %w", err)
	}

	k := &Keychain{
		log:     log,
		sealDir: cfg.SealDir,
		sealer:  cfg.Sealer,
	}

	if raw, err := k.unseal(ConsensusSeedSealingPath); err != nil {
		log.Warn("consensus seed not recovered", "err", err)
	} else if raw != nil {
		seed, err := cryptoutils.NewSeedFromBytes(raw)
		if err != nil {
			log.Warn("sealed consensus seed is malformed", "err", err)
		} else {
			k.consensusSeed = &seed
		}
	}

	if raw, err := k.unseal(RegistrationKeySealingPath); err != nil {
		log.Warn("registration key not recovered", "err", err)
	} else if raw != nil {
		kp, err := cryptoutils.NewKeyPairFromSecret(raw)
		if err != nil {
			log.Warn("sealed registration key is malformed", "err", err)
		} else {
			k.registrationKey = kp
		}
	}

	if err := k.GenerateConsensusMasterKeys(); err != nil {
		return nil, err
	}

	log.Info("keychain opened",
		"consensus_seed", k.IsConsensusSeedSet(),
		"registration_key", k.IsRegistrationKeySet())
	return k, nil
}

func (k *Keychain) unseal(name string) ([]byte, error) {
	blob, err := readSealedFile(filepath.Join(k.sealDir, name))
	if err != nil {
		metrics.RecordSeal("unseal", name, err)
		return nil, fmt.Errorf("%w: %w", ErrUnsealFailed, err)
	}
	if blob == nil {
		return nil, nil
	}

	raw, err := k.sealer.Unseal(name, blob)
	metrics.RecordSeal("unseal", name, err)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsealFailed, err)
	}
	return raw, nil
}

func (k *Keychain) seal(name string, secret []byte) error {
	blob, err := k.sealer.Seal(name, secret)
	if err == nil {
		err = writeSealedFile(filepath.Join(k.sealDir, name), blob)
	}
	metrics.RecordSeal("seal", name, err)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSealFailed, name, err)
	}
	return nil
}

// CreateConsensusSeed generates and seals a fresh seed. It is used once, on
// the genesis node.
func (k *Keychain) CreateConsensusSeed() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.consensusSeed != nil {
		return ErrSeedAlreadySet
	}

	seed, err := cryptoutils.NewRandomSeed()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrKeyGeneration, err)
	}
	if err := k.setConsensusSeedLocked(seed); err != nil {
		return fmt.Errorf("%w: %w", ErrKeyGeneration, err)
	}

	k.log.Info("consensus seed created")
	return nil
}

// CreateRegistrationKey generates and seals the node's registration key,
// replacing any previous one.
func (k *Keychain) CreateRegistrationKey() error {
	kp, err := cryptoutils.NewKeyPair()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrKeyGeneration, err)
	}
	if err := k.SetRegistrationKey(kp); err != nil {
		return fmt.Errorf("%w: %w", ErrKeyGeneration, err)
	}

	k.log.Info("registration key created")
	return nil
}

// EnsureConsensusSeed creates the consensus seed unless one is present. The
// check and the creation happen under one lock, so concurrent callers end up
// with a single seed.
func (k *Keychain) EnsureConsensusSeed() (created bool, err error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.consensusSeed != nil {
		return false, nil
	}

	seed, err := cryptoutils.NewRandomSeed()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrKeyGeneration, err)
	}
	if err := k.setConsensusSeedLocked(seed); err != nil {
		return false, fmt.Errorf("%w: %w", ErrKeyGeneration, err)
	}

	k.log.Info("consensus seed created")
	return true, nil
}

// EnsureRegistrationKey returns the registration key, creating and sealing
// it first if the node has none.
func (k *Keychain) EnsureRegistrationKey() (*cryptoutils.KeyPair, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.registrationKey != nil {
		return k.registrationKey, nil
	}

	kp, err := cryptoutils.NewKeyPair()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyGeneration, err)
	}
	if err := k.seal(RegistrationKeySealingPath, kp.SecretBytes()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyGeneration, err)
	}
	k.registrationKey = kp

	k.log.Info("registration key created")
	return kp, nil
}

// SetConsensusSeed installs a seed obtained through seed exchange. It fails
// with ErrSeedAlreadySet if a seed is present.
func (k *Keychain) SetConsensusSeed(seed cryptoutils.Seed) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.consensusSeed != nil {
		return ErrSeedAlreadySet
	}
	return k.setConsensusSeedLocked(seed)
}

// ReplaceConsensusSeed overwrites the current seed and every key derived
// from it.
func (k *Keychain) ReplaceConsensusSeed(seed cryptoutils.Seed) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.setConsensusSeedLocked(seed); err != nil {
		return err
	}
	k.log.Warn("consensus seed replaced")
	return nil
}

func (k *Keychain) setConsensusSeedLocked(seed cryptoutils.Seed) error {
	seedExchange, ioExchange, stateIKM, err := deriveMasterKeys(seed)
	if err != nil {
		return err
	}
	if err := k.seal(ConsensusSeedSealingPath, seed[:]); err != nil {
		return err
	}

	k.consensusSeed = &seed
	k.seedExchangeKeyPair = seedExchange
	k.ioExchangeKeyPair = ioExchange
	k.stateIKM = &stateIKM
	return nil
}

func (k *Keychain) SetRegistrationKey(kp *cryptoutils.KeyPair) error {
	if kp == nil {
		return errors.New("nil registration key")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.seal(RegistrationKeySealingPath, kp.SecretBytes()); err != nil {
		return err
	}
	k.registrationKey = kp
	return nil
}

// GenerateConsensusMasterKeys re-derives the seed-dependent keys. Without a
// seed it does nothing.
func (k *Keychain) GenerateConsensusMasterKeys() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.consensusSeed == nil {
		return nil
	}

	seedExchange, ioExchange, stateIKM, err := deriveMasterKeys(*k.consensusSeed)
	if err != nil {
		return err
	}
	k.seedExchangeKeyPair = seedExchange
	k.ioExchangeKeyPair = ioExchange
	k.stateIKM = &stateIKM
	return nil
}

func deriveMasterKeys(seed cryptoutils.Seed) (seedExchange, ioExchange *cryptoutils.KeyPair, stateIKM cryptoutils.Seed, err error) {
	seedExchange, err = deriveKeyPair(seed, SeedExchangeKeyDeriveOrder)
	if err != nil {
		return nil, nil, cryptoutils.Seed{}, err
	}
	ioExchange, err = deriveKeyPair(seed, IOExchangeKeyDeriveOrder)
	if err != nil {
		return nil, nil, cryptoutils.Seed{}, err
	}
	stateIKM, err = cryptoutils.DeriveKey(seed[:], []byte{StateIKMDeriveOrder})
	if err != nil {
		return nil, nil, cryptoutils.Seed{}, fmt.Errorf("%w: state ikm: %w", ErrKeyDerivation, err)
	}
	return seedExchange, ioExchange, stateIKM, nil
}

func deriveKeyPair(seed cryptoutils.Seed, label byte) (*cryptoutils.KeyPair, error) {
	secret, err := cryptoutils.DeriveKey(seed[:], []byte{label})
	if err != nil {
		return nil, fmt.Errorf("%w: label %d: %w", ErrKeyDerivation, label, err)
	}
	defer secret.Wipe()

	kp, err := cryptoutils.NewKeyPairFromSecret(secret[:])
	if err != nil {
		return nil, fmt.Errorf("%w: label %d: %w", ErrKeyDerivation, label, err)
	}
	return kp, nil
}

func (k *Keychain) ConsensusSeed() (cryptoutils.Seed, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.consensusSeed == nil {
		return cryptoutils.Seed{}, fmt.Errorf("%w: consensus seed", ErrKeyNotInitialized)
	}
	return *k.consensusSeed, nil
}

func (k *Keychain) SeedExchangeKeyPair() (*cryptoutils.KeyPair, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.seedExchangeKeyPair == nil {
		return nil, fmt.Errorf("%w: seed exchange key pair", ErrKeyNotInitialized)
	}
	return k.seedExchangeKeyPair, nil
}

func (k *Keychain) IOExchangeKeyPair() (*cryptoutils.KeyPair, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.ioExchangeKeyPair == nil {
		return nil, fmt.Errorf("%w: io exchange key pair", ErrKeyNotInitialized)
	}
	return k.ioExchangeKeyPair, nil
}

// StateIKM is the input keying material for contract state encryption keys.
func (k *Keychain) StateIKM() (cryptoutils.Seed, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.stateIKM == nil {
		return cryptoutils.Seed{}, fmt.Errorf("%w: state ikm", ErrKeyNotInitialized)
	}
	return *k.stateIKM, nil
}

func (k *Keychain) RegistrationKey() (*cryptoutils.KeyPair, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.registrationKey == nil {
		return nil, fmt.Errorf("%w: registration key", ErrKeyNotInitialized)
	}
	return k.registrationKey, nil
}

func (k *Keychain) IsConsensusSeedSet() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.consensusSeed != nil
}

func (k *Keychain) IsSeedExchangeKeyPairSet() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.seedExchangeKeyPair != nil
}

func (k *Keychain) IsIOExchangeKeyPairSet() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.ioExchangeKeyPair != nil
}

func (k *Keychain) IsStateIKMSet() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.stateIKM != nil
}

func (k *Keychain) IsRegistrationKeySet() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.registrationKey != nil
}
