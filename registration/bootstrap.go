package registration

import (
	"errors"
	"log/slog"

	"github.com/ruteri/tee-contract-enclave/cryptoutils"
	"github.com/ruteri/tee-contract-enclave/interfaces"
	"github.com/ruteri/tee-contract-enclave/kms"
	"github.com/ruteri/tee-contract-enclave/safetybuffer"
)

// Bootstrapper exposes the node-registration entry points of the enclave.
// Every method runs under the safety buffer supervisor and reports failures
// as an interfaces.EnclaveError only.
type Bootstrapper struct {
	log         *slog.Logger
	keychain    *kms.Keychain
	attestation cryptoutils.AttestationProvider
	supervisor  *safetybuffer.Supervisor
	requesters  RequesterPolicy
}

func NewBootstrapper(log *slog.Logger, keychain *kms.Keychain, attestation cryptoutils.AttestationProvider, supervisor *safetybuffer.Supervisor) *Bootstrapper {
	return &Bootstrapper{
		log:         log,
		keychain:    keychain,
		attestation: attestation,
		supervisor:  supervisor,
		requesters:  DefaultRequesterPolicy(),
	}
}

// WithRequesterPolicy replaces the default policy, which accepts DCAP quotes
// only.
func (b *Bootstrapper) WithRequesterPolicy(policy RequesterPolicy) *Bootstrapper {
	if policy.AllowsDummy() {
		b.log.Warn("seed requesters are accepted with dummy attestations")
	}
	b.requesters = policy
	return b
}

// InitBootstrap is run once on the genesis node: it creates the consensus
// seed unless one exists and returns the seed-exchange public key.
func (b *Bootstrapper) InitBootstrap() (pk cryptoutils.PublicKey, err error) {
	err = b.run("init_bootstrap", func() error {
		if _, err := b.keychain.EnsureConsensusSeed(); err != nil {
			return err
		}
		if err := b.keychain.GenerateConsensusMasterKeys(); err != nil {
			return err
		}

		kp, err := b.keychain.SeedExchangeKeyPair()
		if err != nil {
			return err
		}
		pk = kp.PublicKey()
		return nil
	})
	return pk, err
}

// KeyGen makes sure the node has a registration key and returns it with an
// attestation whose report data commits to the key.
func (b *Bootstrapper) KeyGen() (pk cryptoutils.PublicKey, attestation interfaces.Attestation, err error) {
	err = b.run("key_gen", func() error {
		kp, err := b.keychain.EnsureRegistrationKey()
		if err != nil {
			return err
		}
		pk = kp.PublicKey()

		quote, err := b.attestation.Attest(cryptoutils.ReportDataForPublicKey(pk))
		if err != nil {
			b.log.Error("attestation failed", "err", err)
			return interfaces.EnclaveFailedAttestation
		}
		attestation = quote
		return nil
	})
	return pk, attestation, err
}

// VerifyRequester checks report against the requester policy before the
// seed is released to requester.
func (b *Bootstrapper) VerifyRequester(requester cryptoutils.PublicKey, attType cryptoutils.AttestationType, report []byte) error {
	measured, err := b.requesters.Check(requester, attType, report)
	if err != nil {
		b.log.Warn("requester attestation rejected",
			"requester", requester.String()[:16],
			"attestation_type", attType.StringID,
			"measurements", measured,
			"err", err)
		return interfaces.EnclaveFailedAttestation
	}
	return nil
}

// GetEncryptedSeed encrypts the consensus seed for requester.
func (b *Bootstrapper) GetEncryptedSeed(requester cryptoutils.PublicKey) (blob []byte, err error) {
	err = b.run("get_encrypted_seed", func() error {
		blob, err = EncryptSeed(b.keychain, requester)
		return err
	})
	return blob, err
}

// InitSeed installs the seed received from holder. Receiving the seed the
// node already holds is a no-op.
func (b *Bootstrapper) InitSeed(holder cryptoutils.PublicKey, encryptedSeed []byte) error {
	return b.run("init_seed", func() error {
		seed, err := DecryptSeed(b.keychain, holder, encryptedSeed)
		if err != nil {
			return err
		}
		defer seed.Wipe()

		if current, err := b.keychain.ConsensusSeed(); err == nil && current.Equal(seed) {
			return b.keychain.GenerateConsensusMasterKeys()
		}
		if err := b.keychain.SetConsensusSeed(seed); err != nil {
			return err
		}
		return b.keychain.GenerateConsensusMasterKeys()
	})
}

func (b *Bootstrapper) SeedExchangePublicKey() (cryptoutils.PublicKey, error) {
	kp, err := b.keychain.SeedExchangeKeyPair()
	if err != nil {
		return cryptoutils.PublicKey{}, kms.EnclaveErrorFor(err)
	}
	return kp.PublicKey(), nil
}

func (b *Bootstrapper) IOPublicKey() (cryptoutils.PublicKey, error) {
	kp, err := b.keychain.IOExchangeKeyPair()
	if err != nil {
		return cryptoutils.PublicKey{}, kms.EnclaveErrorFor(err)
	}
	return kp.PublicKey(), nil
}

func (b *Bootstrapper) run(op string, fn func() error) error {
	err := b.supervisor.Protect(fn)
	if err == nil {
		return nil
	}

	enclaveErr := boundaryError(err)
	b.log.Warn("enclave call failed", "op", op, "err", enclaveErr)
	return enclaveErr
}

func boundaryError(err error) interfaces.EnclaveError {
	var enclaveErr interfaces.EnclaveError
	switch {
	case errors.As(err, &enclaveErr):
		return enclaveErr
	case errors.Is(err, safetybuffer.ErrOutOfMemory):
		return interfaces.EnclaveMemoryAllocation
	case errors.Is(err, safetybuffer.ErrMemorySafetyAllocation):
		return interfaces.EnclaveMemorySafetyAllocation
	case errors.Is(err, ErrUnexpected):
		return interfaces.EnclaveUnexpected
	default:
		return kms.EnclaveErrorFor(err)
	}
}
