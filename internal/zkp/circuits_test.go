package zkp

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroth16RangeProof(t *testing.T) {
	if testing.Short() {
		t.Skip("groth16 setup is slow")
	}

	cm := NewCircuitManager()
	require.NoError(t, cm.Setup())

	rp, err := NewRangeProofs(SchemeGroth16, cm)
	require.NoError(t, err)

	c, r, err := NewRandomCommitment(1234)
	require.NoError(t, err)
	proof, err := rp.Prove(1234, r)
	require.NoError(t, err)
	assert.Equal(t, SchemeGroth16, proof.Scheme)
	require.NoError(t, rp.Verify(c, proof))

	other, _, err := NewRandomCommitment(1234)
	require.NoError(t, err)
	assert.ErrorIs(t, rp.Verify(other, proof), ErrInvalidRangeProof)

	// Bit-sigma proofs still verify with a Groth16 prover configured.
	sigma, err := ProveRange(1234, r)
	require.NoError(t, err)
	assert.NoError(t, rp.Verify(c, sigma))

	_, err = rp.proveRange(new(big.Int).Lsh(big.NewInt(1), RangeBits), r)
	assert.ErrorIs(t, err, ErrAmountOutOfRange)

	t.Run("keys persist", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, cm.SaveKeys(dir))

		verifier := NewCircuitManager()
		require.NoError(t, verifier.LoadKeys(dir, true))
		require.NoError(t, verifier.Verify(c, proof.Data))

		_, err := verifier.Prove(big.NewInt(1), r, c)
		assert.ErrorIs(t, err, ErrCircuitNotReady)
	})
}

func TestCircuitManagerNotReady(t *testing.T) {
	cm := NewCircuitManager()
	c, _, err := NewRandomCommitment(1)
	require.NoError(t, err)
	assert.ErrorIs(t, cm.Verify(c, nil), ErrCircuitNotReady)
	assert.ErrorIs(t, cm.SaveKeys(t.TempDir()), ErrCircuitNotReady)
}
