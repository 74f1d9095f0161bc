package engine

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

// Bech32PrefixAccAddr is the human-readable part of account addresses.
const Bech32PrefixAccAddr = "secret"

// Status codes returned to contract code by the address host functions.
const (
	StatusOK int32 = 0

	StatusInvalidUTF8   int32 = -1
	StatusInvalidBech32 int32 = -2
	StatusWrongPrefix   int32 = -3
	StatusInvalidBase32 int32 = -4

	StatusEncodeFailed int32 = -1
)

var ErrEmptyAddress = errors.New("empty address")

// AddressCodec converts between bech32 account addresses and their raw
// canonical bytes under a fixed prefix.
type AddressCodec struct {
	Prefix string
}

func NewAddressCodec() AddressCodec {
	return AddressCodec{Prefix: Bech32PrefixAccAddr}
}

// Canonicalize decodes a human address. Malformed input yields a negative
// status; an input that is empty after trimming yields ErrEmptyAddress.
func (c AddressCodec) Canonicalize(human []byte) ([]byte, int32, error) {
	if !utf8.Valid(human) {
		return nil, StatusInvalidUTF8, nil
	}

	addr := strings.TrimSpace(string(human))
	if addr == "" {
		return nil, 0, ErrEmptyAddress
	}

	hrp, data, err := bech32.Decode(addr)
	if err != nil {
		return nil, StatusInvalidBech32, nil
	}
	if hrp != c.Prefix {
		return nil, StatusWrongPrefix, nil
	}

	canonical, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, StatusInvalidBase32, nil
	}
	return canonical, StatusOK, nil
}

// Humanize encodes canonical bytes as an address.
func (c AddressCodec) Humanize(canonical []byte) (string, int32) {
	data, err := bech32.ConvertBits(canonical, 8, 5, true)
	if err != nil {
		return "", StatusEncodeFailed
	}

	human, err := bech32.Encode(c.Prefix, data)
	if err != nil {
		return "", StatusEncodeFailed
	}
	return human, StatusOK
}
