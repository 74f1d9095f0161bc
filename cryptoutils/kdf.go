package cryptoutils

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KDFSalt is the fixed HKDF salt of the key hierarchy. It is the hash of
// Bitcoin block 420000, the third halving.
var KDFSalt = [32]byte{
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x02, 0x4b, 0xea, 0xd8, 0xdf, 0x69, 0x99,
	0x08, 0x52, 0xc2, 0x02, 0xdb, 0x0e, 0x00, 0x97,
	0xc1, 0xa1, 0x2e, 0xa6, 0x37, 0xd7, 0xe9, 0x6d,
}

// DeriveKey expands ikm into a 32-byte key with HKDF-SHA256 under KDFSalt.
// Distinct info values yield independent keys.
func DeriveKey(ikm []byte, info ...[]byte) (Seed, error) {
	var joined []byte
	for _, part := range info {
		joined = append(joined, part...)
	}

	var out Seed
	r := hkdf.New(sha256.New, ikm, KDFSalt[:], joined)
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return Seed{}, fmt.Errorf("hkdf expand: %w", err)
	}
	return out, nil
}
