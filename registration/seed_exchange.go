package registration

import (
	"errors"
	"fmt"

	"github.com/ruteri/tee-contract-enclave/cryptoutils"
	"github.com/ruteri/tee-contract-enclave/metrics"
)

// ErrUnexpected covers every cryptographic failure of the exchange. The
// cause is wrapped for local diagnostics but never crosses the boundary.
var ErrUnexpected = errors.New("unexpected seed exchange failure")

// SeedHolder is a node that already has the consensus seed.
type SeedHolder interface {
	SeedExchangeKeyPair() (*cryptoutils.KeyPair, error)
	ConsensusSeed() (cryptoutils.Seed, error)
}

// SeedRequester is a node waiting for the consensus seed.
type SeedRequester interface {
	RegistrationKey() (*cryptoutils.KeyPair, error)
}

// EncryptSeed encrypts the holder's seed for requester. The key is the ECDH
// secret of the holder's seed-exchange key and the requester's key; the
// requester's key is the associated data, binding the blob to that node.
func EncryptSeed(holder SeedHolder, requester cryptoutils.PublicKey) (blob []byte, err error) {
	defer func() { metrics.RecordSeedExchange("encrypt", err) }()

	kp, err := holder.SeedExchangeKeyPair()
	if err != nil {
		return nil, err
	}
	seed, err := holder.ConsensusSeed()
	if err != nil {
		return nil, err
	}
	defer seed.Wipe()

	shared, err := kp.SharedSecret(requester)
	if err != nil {
		return nil, fmt.Errorf("%w: ecdh: %w", ErrUnexpected, err)
	}
	defer shared.Wipe()

	ct, err := cryptoutils.SIVEncrypt(shared, seed[:], requester[:])
	if err != nil {
		return nil, fmt.Errorf("%w: encrypt: %w", ErrUnexpected, err)
	}
	if len(ct) != cryptoutils.EncryptedSeedSize {
		return nil, fmt.Errorf("%w: encrypted seed is %d bytes, want %d", ErrUnexpected, len(ct), cryptoutils.EncryptedSeedSize)
	}
	return ct, nil
}

// DecryptSeed recovers the seed encrypted by holder for this node. The
// associated data is this node's own registration public key.
func DecryptSeed(requester SeedRequester, holder cryptoutils.PublicKey, blob []byte) (seed cryptoutils.Seed, err error) {
	defer func() { metrics.RecordSeedExchange("decrypt", err) }()

	if len(blob) != cryptoutils.EncryptedSeedSize {
		return cryptoutils.Seed{}, fmt.Errorf("%w: encrypted seed is %d bytes, want %d", ErrUnexpected, len(blob), cryptoutils.EncryptedSeedSize)
	}

	kp, err := requester.RegistrationKey()
	if err != nil {
		return cryptoutils.Seed{}, err
	}

	shared, err := kp.SharedSecret(holder)
	if err != nil {
		return cryptoutils.Seed{}, fmt.Errorf("%w: ecdh: %w", ErrUnexpected, err)
	}
	defer shared.Wipe()

	own := kp.PublicKey()
	pt, err := cryptoutils.SIVDecrypt(shared, blob, own[:])
	if err != nil {
		return cryptoutils.Seed{}, fmt.Errorf("%w: decrypt: %w", ErrUnexpected, err)
	}

	seed, err = cryptoutils.NewSeedFromBytes(pt)
	if err != nil {
		return cryptoutils.Seed{}, fmt.Errorf("%w: %w", ErrUnexpected, err)
	}
	return seed, nil
}
