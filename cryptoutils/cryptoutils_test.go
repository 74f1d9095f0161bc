package cryptoutils

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharedSecretIsSymmetric(t *testing.T) {
	alice, err := NewKeyPair()
	require.NoError(t, err)
	bob, err := NewKeyPair()
	require.NoError(t, err)

	ab, err := alice.SharedSecret(bob.PublicKey())
	require.NoError(t, err)
	ba, err := bob.SharedSecret(alice.PublicKey())
	require.NoError(t, err)

	assert.True(t, ab.Equal(ba), "both sides should agree on the shared secret")
	assert.False(t, ab.IsZero())
}

func TestKeyPairFromSecretIsDeterministic(t *testing.T) {
	secret, err := hex.DecodeString("2a1b1c8e0cdd8b8e6a0dbb2a5f0a0f8a2c6c1a04c5e14e2fd24d61c2b8c3e1f7")
	require.NoError(t, err)

	kp1, err := NewKeyPairFromSecret(secret)
	require.NoError(t, err)
	kp2, err := NewKeyPairFromSecret(secret)
	require.NoError(t, err)

	assert.Equal(t, kp1.PublicKey(), kp2.PublicKey())
	assert.Equal(t, secret, kp1.SecretBytes())
	assert.Equal(t, byte(0x04), kp1.PublicKey()[0], "public keys are uncompressed")

	_, err = NewKeyPairFromSecret(make([]byte, 32))
	assert.ErrorIs(t, err, ErrInvalidSecretKey, "zero scalar must be rejected")
}

func TestPublicKeyParsing(t *testing.T) {
	kp, err := NewKeyPair()
	require.NoError(t, err)
	pk := kp.PublicKey()

	parsed, err := NewPublicKeyFromHex("0x" + pk.String())
	require.NoError(t, err)
	assert.Equal(t, pk, parsed)

	_, err = NewPublicKeyFromBytes(pk[:64])
	assert.ErrorIs(t, err, ErrInvalidPublicKeyLength)

	offCurve := pk
	offCurve[10] ^= 0xff
	_, err = NewPublicKeyFromBytes(offCurve[:])
	assert.ErrorIs(t, err, ErrInvalidPublicKey)

	_, err = NewPublicKeyFromHex("zz")
	assert.ErrorIs(t, err, ErrInvalidPublicKey)
}

func TestDeriveKey(t *testing.T) {
	seed, err := NewRandomSeed()
	require.NoError(t, err)

	k1, err := DeriveKey(seed[:], []byte{1})
	require.NoError(t, err)
	k1again, err := DeriveKey(seed[:], []byte{1})
	require.NoError(t, err)
	k2, err := DeriveKey(seed[:], []byte{2})
	require.NoError(t, err)

	assert.Equal(t, k1, k1again)
	assert.NotEqual(t, k1, k2)
	assert.NotEqual(t, seed, k1)
}

func TestSIVRoundTrip(t *testing.T) {
	key, err := NewRandomSeed()
	require.NoError(t, err)
	ad := []byte("associated")

	ct, err := SIVEncrypt(key, []byte("hello"), ad)
	require.NoError(t, err)
	assert.Len(t, ct, len("hello")+SIVTagSize)

	again, err := SIVEncrypt(key, []byte("hello"), ad)
	require.NoError(t, err)
	assert.Equal(t, ct, again, "aes-siv is deterministic")

	pt, err := SIVDecrypt(key, ct, ad)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), pt)

	_, err = SIVDecrypt(key, ct, []byte("other"))
	assert.ErrorIs(t, err, ErrSIVAuthentication)

	tampered := append([]byte{}, ct...)
	tampered[len(tampered)-1] ^= 1
	_, err = SIVDecrypt(key, tampered, ad)
	assert.ErrorIs(t, err, ErrSIVAuthentication)

	_, err = SIVDecrypt(key, ct[:4], ad)
	assert.ErrorIs(t, err, ErrSIVAuthentication)
}

func TestSoftwareSealer(t *testing.T) {
	sealer, err := NewSoftwareSealer([]byte("platform secret"), "measurement-a")
	require.NoError(t, err)

	blob, err := sealer.Seal("consensus_seed", []byte("secret"))
	require.NoError(t, err)

	pt, err := sealer.Unseal("consensus_seed", blob)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), pt)

	_, err = sealer.Unseal("registration_key", blob)
	assert.ErrorIs(t, err, ErrSealedBlobInvalid, "label is bound into the blob")

	other, err := NewSoftwareSealer([]byte("platform secret"), "measurement-b")
	require.NoError(t, err)
	_, err = other.Unseal("consensus_seed", blob)
	assert.ErrorIs(t, err, ErrSealedBlobInvalid, "a different measurement cannot unseal")

	_, err = sealer.Unseal("consensus_seed", []byte("not json"))
	assert.ErrorIs(t, err, ErrSealedBlobInvalid)

	_, err = NewSoftwareSealer(nil, "m")
	assert.Error(t, err)
}

func TestDummyAttestationVerification(t *testing.T) {
	kp, err := NewKeyPair()
	require.NoError(t, err)
	rd := ReportDataForPublicKey(kp.PublicKey())
	assert.Equal(t, make([]byte, 32), rd[32:])

	quote, err := DummyAttestationProvider{}.Attest(rd)
	require.NoError(t, err)

	_, err = VerifyAttestation(DummyAttestation, rd, quote)
	require.NoError(t, err)

	other, err := NewKeyPair()
	require.NoError(t, err)
	_, err = VerifyAttestation(DummyAttestation, ReportDataForPublicKey(other.PublicKey()), quote)
	assert.ErrorIs(t, err, ErrAttestationMismatch)

	attType, err := AttestationTypeFromString("dummy")
	require.NoError(t, err)
	assert.Equal(t, DummyAttestation.StringID, attType.StringID)
}
