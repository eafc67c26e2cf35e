package model

import (
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidHash is returned by ParseHash for input that is not 32 hex digits.
var ErrInvalidHash = errors.New("model: invalid content hash")

// Hash is the 128-bit content hash a manifest records for each bundle.
//
// The zero Hash means "unknown". Hashes are written as 32 lowercase hex
// characters:
//
//	h, err := model.ParseHash("8a1f0c9e2b7d4f6a0e3c5b1d9f7a2c4e")
//	fmt.Println(h) // 8a1f0c9e2b7d4f6a0e3c5b1d9f7a2c4e
type Hash [16]byte

// ParseHash decodes a 32-character hex string. Surrounding whitespace is
// ignored and upper case digits are accepted.
func ParseHash(s string) (Hash, error) {
	var h Hash
	s = strings.TrimSpace(s)
	if len(s) != hex.EncodedLen(len(h)) {
		return Hash{}, errors.Wrapf(ErrInvalidHash, "%q has %d characters", s, len(s))
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return Hash{}, errors.Wrapf(ErrInvalidHash, "%q: %v", s, err)
	}
	return h, nil
}

// String returns the lowercase hex form.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
