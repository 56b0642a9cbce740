package zkp

import (
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRangeProofRoundTrip(t *testing.T) {
	for _, amount := range []uint64{0, 1, 1000, math.MaxUint64} {
		c, r, err := NewRandomCommitment(amount)
		require.NoError(t, err)

		proof, err := ProveRange(amount, r)
		require.NoError(t, err)
		assert.Equal(t, SchemeBitSigma, proof.Scheme)
		assert.NoError(t, VerifyRange(c, proof), "amount %d", amount)
	}
}

func TestRangeProofBoundToCommitment(t *testing.T) {
	c, r, err := NewRandomCommitment(5)
	require.NoError(t, err)
	proof, err := ProveRange(5, r)
	require.NoError(t, err)

	other, _, err := NewRandomCommitment(5)
	require.NoError(t, err)
	assert.ErrorIs(t, VerifyRange(other, proof), ErrInvalidRangeProof)

	// Same amount, same blinding, but shifted by one unit.
	assert.ErrorIs(t, VerifyRange(c.Add(Commit(1, new(big.Int))), proof), ErrInvalidRangeProof)
}

func TestRangeProofRejectsOutOfRange(t *testing.T) {
	rp := DefaultRangeProofs()
	r, err := RandomScalar()
	require.NoError(t, err)

	_, err = rp.proveRange(big.NewInt(-1), r)
	assert.ErrorIs(t, err, ErrAmountOutOfRange)

	tooBig := new(big.Int).Lsh(big.NewInt(1), RangeBits)
	_, err = rp.proveRange(tooBig, r)
	assert.ErrorIs(t, err, ErrAmountOutOfRange)
}

func TestRangeProofRejectsNegativeAmountForgery(t *testing.T) {
	// A commitment to -1 is (order-1)*G + r*H. Proving it with a bit
	// decomposition of a different value must not verify.
	r, err := RandomScalar()
	require.NoError(t, err)
	neg := commitBig(big.NewInt(-1), r)

	proof, err := ProveRange(math.MaxUint64, r)
	require.NoError(t, err)
	assert.ErrorIs(t, VerifyRange(neg, proof), ErrInvalidRangeProof)
}

func TestRangeProofTampering(t *testing.T) {
	c, r, err := NewRandomCommitment(77)
	require.NoError(t, err)
	proof, err := ProveRange(77, r)
	require.NoError(t, err)

	t.Run("truncated", func(t *testing.T) {
		bad := RangeProof{Scheme: proof.Scheme, Data: proof.Data[:len(proof.Data)-1]}
		assert.ErrorIs(t, VerifyRange(c, bad), ErrInvalidRangeProof)
	})

	t.Run("flipped response", func(t *testing.T) {
		data := append([]byte(nil), proof.Data...)
		// last byte of z1 in bit 3
		data[4*bitProofSize-1] ^= 0x01
		assert.ErrorIs(t, VerifyRange(c, RangeProof{Scheme: proof.Scheme, Data: data}), ErrInvalidRangeProof)
	})

	t.Run("swapped bits", func(t *testing.T) {
		data := append([]byte(nil), proof.Data...)
		a := append([]byte(nil), data[:bitProofSize]...)
		copy(data[:bitProofSize], data[bitProofSize:2*bitProofSize])
		copy(data[bitProofSize:2*bitProofSize], a)
		assert.ErrorIs(t, VerifyRange(c, RangeProof{Scheme: proof.Scheme, Data: data}), ErrInvalidRangeProof)
	})

	t.Run("unknown scheme", func(t *testing.T) {
		assert.ErrorIs(t, VerifyRange(c, RangeProof{Scheme: 9, Data: proof.Data}), ErrInvalidRangeProof)
	})

	t.Run("groth16 without keys", func(t *testing.T) {
		assert.ErrorIs(t, VerifyRange(c, RangeProof{Scheme: SchemeGroth16, Data: proof.Data}), ErrInvalidRangeProof)
	})
}

func TestParseRangeScheme(t *testing.T) {
	s, err := ParseRangeScheme("")
	require.NoError(t, err)
	assert.Equal(t, SchemeBitSigma, s)

	s, err = ParseRangeScheme("groth16")
	require.NoError(t, err)
	assert.Equal(t, SchemeGroth16, s)

	_, err = ParseRangeScheme("bulletproofs")
	assert.ErrorIs(t, err, ErrUnknownRangeScheme)

	_, err = NewRangeProofs(SchemeGroth16, nil)
	assert.ErrorIs(t, err, ErrRangeSchemeDisabled)
}
