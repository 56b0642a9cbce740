package zkp

import (
	"encoding/binary"
	"hash"
	"math/big"

	"golang.org/x/crypto/blake2b"
)

// transcript accumulates Fiat-Shamir inputs. Every item is labelled and
// length prefixed so distinct sequences never hash to the same challenge.
type transcript struct {
	h hash.Hash
}

func newTranscript(domain string) *transcript {
	h, _ := blake2b.New512(nil)
	t := &transcript{h: h}
	t.appendBytes("domain", []byte(domain))
	return t
}

func (t *transcript) appendBytes(label string, b []byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(label)))
	t.h.Write(n[:])
	t.h.Write([]byte(label))
	binary.BigEndian.PutUint32(n[:], uint32(len(b)))
	t.h.Write(n[:])
	t.h.Write(b)
}

func (t *transcript) appendPoint(label string, p Point) {
	b := p.Bytes()
	t.appendBytes(label, b[:])
}

func (t *transcript) appendUint(label string, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	t.appendBytes(label, b[:])
}

// challenge returns the current state reduced to a scalar. The transcript
// stays usable afterwards.
func (t *transcript) challenge() *big.Int {
	sum := t.h.Sum(nil)
	return modOrder(new(big.Int).SetBytes(sum))
}

// digest returns the raw transcript hash.
func (t *transcript) digest() []byte {
	return t.h.Sum(nil)
}
