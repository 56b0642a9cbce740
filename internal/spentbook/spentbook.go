// Package spentbook records spent key images. It is the only shared mutable
// state of a mint: appends are linearizable per key image and a batch is
// applied all-or-nothing.
package spentbook

import (
	"context"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/ccoin/dbc/internal/zkp"
	"github.com/ccoin/dbc/pkg/dbc"
	"github.com/ccoin/dbc/pkg/types"
)

// Spentbook errors
var (
	ErrAlreadySpent = errors.New("key image already spent")
	ErrNotFound     = errors.New("key image not found")
	ErrCorruptEntry = errors.New("corrupt spentbook entry")
)

// Entry is one logged spend.
type Entry struct {
	KeyImage        zkp.KeyImage
	TransactionHash types.Hash
	Proof           *dbc.SpentProof
	// RecordedAt is unix nanoseconds.
	RecordedAt int64
}

// Store is a backend. Append must apply every entry or none, and must fail
// with ErrAlreadySpent if any key image is present or repeated.
type Store interface {
	Get(ctx context.Context, ki zkp.KeyImage) (*Entry, error)
	Append(ctx context.Context, entries []*Entry) error
	Len(ctx context.Context) (int, error)
	Close() error
}

// Spentbook is the contract mints depend on.
type Spentbook interface {
	IsSpent(ctx context.Context, ki zkp.KeyImage) (bool, error)
	LogSpent(ctx context.Context, ki zkp.KeyImage, proof *dbc.SpentProof, txRef types.Hash) error
	LogSpentBatch(ctx context.Context, entries []*Entry) error
	// ProofOfSpend returns a nil proof when ki is unspent.
	ProofOfSpend(ctx context.Context, ki zkp.KeyImage) (*dbc.SpentProof, types.Hash, error)
	Close() error
}

// EncodeEntry serializes everything but the key image, which backends use
// as the key.
func EncodeEntry(e *Entry) []byte {
	proof := dbc.EncodeSpentProof(e.Proof)
	out := make([]byte, 0, 8+types.HashSize+len(proof))
	out = binary.BigEndian.AppendUint64(out, uint64(e.RecordedAt))
	out = append(out, e.TransactionHash[:]...)
	return append(out, proof...)
}

// DecodeEntry parses EncodeEntry output for key image ki.
func DecodeEntry(ki zkp.KeyImage, b []byte) (*Entry, error) {
	if len(b) < 8+types.HashSize {
		return nil, errors.Wrapf(ErrCorruptEntry, "length %d", len(b))
	}
	proof, err := dbc.DecodeSpentProof(b[8+types.HashSize:])
	if err != nil {
		return nil, errors.Wrap(ErrCorruptEntry, err.Error())
	}
	e := &Entry{
		KeyImage:   ki,
		Proof:      proof,
		RecordedAt: int64(binary.BigEndian.Uint64(b[:8])),
	}
	copy(e.TransactionHash[:], b[8:8+types.HashSize])
	return e, nil
}

// CheckBatch rejects nil entries and repeated key images within entries.
func CheckBatch(entries []*Entry) error {
	seen := make(map[zkp.KeyImage]struct{}, len(entries))
	for i, e := range entries {
		if e == nil || e.Proof == nil {
			return errors.Errorf("entry %d is incomplete", i)
		}
		if _, dup := seen[e.KeyImage]; dup {
			return errors.Wrapf(ErrAlreadySpent, "key image %s repeated in batch", e.KeyImage.Short())
		}
		seen[e.KeyImage] = struct{}{}
	}
	return nil
}
