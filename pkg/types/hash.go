// Package types defines small value types shared across the DBC packages.
package types

import (
	"encoding/hex"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// HashSize is the size of a hash in bytes (BLAKE2b-256)
const HashSize = 32

// ErrInvalidHash is returned when a hash cannot be parsed
var ErrInvalidHash = errors.New("invalid hash")

// Hash represents a 32-byte BLAKE2b-256 digest
type Hash [HashSize]byte

// EmptyHash is the zero hash
var EmptyHash = Hash{}

// IsEmpty returns true if the hash is empty (all zeros)
func (h Hash) IsEmpty() bool {
	return h == EmptyHash
}

// Bytes returns the hash as a byte slice
func (h Hash) Bytes() []byte {
	return h[:]
}

// String returns the hex string representation of the hash
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the first eight hex characters, for log fields.
func (h Hash) Short() string {
	return hex.EncodeToString(h[:4])
}

// HashFromBytes creates a Hash from a byte slice
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, errors.Wrapf(ErrInvalidHash, "length %d", len(b))
	}
	copy(h[:], b)
	return h, nil
}

// HashFromHex parses a hex encoded hash
func HashFromHex(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, errors.Wrap(ErrInvalidHash, err.Error())
	}
	return HashFromBytes(b)
}

// Sum hashes the concatenation of parts under a domain tag. The tag and
// every part are length prefixed so distinct inputs never collide.
func Sum(domain string, parts ...[]byte) Hash {
	h, _ := blake2b.New256(nil)
	writeLen(h, len(domain))
	h.Write([]byte(domain))
	for _, p := range parts {
		writeLen(h, len(p))
		h.Write(p)
	}

	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

func writeLen(w interface{ Write([]byte) (int, error) }, n int) {
	var b [4]byte
	b[0] = byte(n >> 24)
	b[1] = byte(n >> 16)
	b[2] = byte(n >> 8)
	b[3] = byte(n)
	w.Write(b[:])
}
