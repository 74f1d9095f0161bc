package registration

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ruteri/tee-contract-enclave/cryptoutils"
)

const (
	// PublicKeyLength is the hex length of a registration public key.
	PublicKeyLength = 2 * cryptoutils.PublicKeySize
	// EncryptedKeyLength is the hex length of an encrypted seed.
	EncryptedKeyLength = 2 * cryptoutils.EncryptedSeedSize
)

// SeedConfig is what a joining node receives from the chain: the holder's
// seed-exchange public key and the seed encrypted for this node.
type SeedConfig struct {
	MasterKey    string `json:"pk"`
	EncryptedKey string `json:"encKey"`
}

func NewSeedConfig(holder cryptoutils.PublicKey, encryptedSeed []byte) SeedConfig {
	return SeedConfig{
		MasterKey:    base64.StdEncoding.EncodeToString(holder[:]),
		EncryptedKey: hex.EncodeToString(encryptedSeed),
	}
}

// Decode validates both fields and returns them in binary form.
func (c SeedConfig) Decode() (cryptoutils.PublicKey, []byte, error) {
	rawPk, err := base64.StdEncoding.DecodeString(c.MasterKey)
	if err != nil {
		return cryptoutils.PublicKey{}, nil, fmt.Errorf("decoding master key: %w", err)
	}
	pk, err := cryptoutils.NewPublicKeyFromBytes(rawPk)
	if err != nil {
		return cryptoutils.PublicKey{}, nil, err
	}

	if len(c.EncryptedKey) != EncryptedKeyLength {
		return cryptoutils.PublicKey{}, nil, fmt.Errorf("encrypted key must be %d hex characters, got %d", EncryptedKeyLength, len(c.EncryptedKey))
	}
	enc, err := hex.DecodeString(c.EncryptedKey)
	if err != nil {
		return cryptoutils.PublicKey{}, nil, fmt.Errorf("decoding encrypted key: %w", err)
	}
	return pk, enc, nil
}

func LoadSeedConfig(path string) (SeedConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SeedConfig{}, err
	}

	var cfg SeedConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return SeedConfig{}, fmt.Errorf("parsing seed config: %w", err)
	}
	return cfg, nil
}

func (c SeedConfig) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
