package cryptoutils

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

var ErrSealedBlobInvalid = errors.New("sealed blob invalid")

const sealedBlobVersion = 1

// Sealer binds secrets to the platform so they can be persisted outside of
// protected memory. The label ties a blob to its slot: a blob sealed under
// one label does not unseal under another.
type Sealer interface {
	Seal(label string, plaintext []byte) ([]byte, error)
	Unseal(label string, blob []byte) ([]byte, error)
}

type sealedBlob struct {
	V      int    `json:"v"`
	Nonce  []byte `json:"nonce"`
	Cipher []byte `json:"cipher"`
}

// SoftwareSealer seals with XChaCha20-Poly1305 under a key derived from a
// platform secret and the enclave measurement. Changing either makes every
// previously sealed blob unreadable.
type SoftwareSealer struct {
	aead cipher.AEAD
}

func NewSoftwareSealer(platformSecret []byte, measurement string) (*SoftwareSealer, error) {
	if len(platformSecret) == 0 {
		return nil, errors.New("empty platform secret")
	}

	measurementHash := sha256.Sum256([]byte(measurement))
	key, err := DeriveKey(platformSecret, []byte("enclave-sealing-key"), measurementHash[:])
	if err != nil {
		return nil, fmt.Errorf("deriving sealing key: %w", err)
	}
	defer key.Wipe()

	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("creating sealing cipher: %w", err)
	}
	return &SoftwareSealer{aead: aead}, nil
}

func (s *SoftwareSealer) Seal(label string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	blob := sealedBlob{
		V:      sealedBlobVersion,
		Nonce:  nonce,
		Cipher: s.aead.Seal(nil, nonce, plaintext, []byte(label)),
	}
	return json.Marshal(blob)
}

func (s *SoftwareSealer) Unseal(label string, data []byte) ([]byte, error) {
	var blob sealedBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSealedBlobInvalid, err)
	}
	if blob.V != sealedBlobVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrSealedBlobInvalid, blob.V)
	}
	if len(blob.Nonce) != s.aead.NonceSize() {
		return nil, fmt.Errorf("%w: bad nonce length", ErrSealedBlobInvalid)
	}

	pt, err := s.aead.Open(nil, blob.Nonce, blob.Cipher, []byte(label))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSealedBlobInvalid, err)
	}
	return pt, nil
}
