package cryptoutils

import (
	"errors"
	"fmt"

	"github.com/miscreant/miscreant.go"
)

var ErrSIVAuthentication = errors.New("aes-siv authentication failed")

// SIVEncrypt seals plaintext with AES-SIV (CMAC, 32-byte key). The output is
// the 16-byte synthetic IV followed by the ciphertext. Encryption is
// deterministic for a given key, plaintext and associated data.
func SIVEncrypt(key Seed, plaintext []byte, ad ...[]byte) ([]byte, error) {
	c, err := miscreant.NewAESCMACSIV(key[:])
	if err != nil {
		return nil, fmt.Errorf("creating aes-siv cipher: %w", err)
	}
	return c.Seal(nil, plaintext, ad...)
}

// SIVDecrypt reverses SIVEncrypt. Any mismatch of key, associated data or
// ciphertext yields ErrSIVAuthentication.
func SIVDecrypt(key Seed, ciphertext []byte, ad ...[]byte) ([]byte, error) {
	if len(ciphertext) < SIVTagSize {
		return nil, fmt.Errorf("%w: ciphertext shorter than tag", ErrSIVAuthentication)
	}

	c, err := miscreant.NewAESCMACSIV(key[:])
	if err != nil {
		return nil, fmt.Errorf("creating aes-siv cipher: %w", err)
	}

	pt, err := c.Open(nil, ciphertext, ad...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSIVAuthentication, err)
	}
	return pt, nil
}
