package bls

import (
	"encoding/binary"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerify(t *testing.T) {
	sk, err := GenerateSecretKey()
	require.NoError(t, err)
	pk := sk.PublicKey()

	sig := sk.Sign([]byte("hello"))
	assert.True(t, pk.Verify([]byte("hello"), sig))
	assert.False(t, pk.Verify([]byte("hullo"), sig))

	other, err := GenerateSecretKey()
	require.NoError(t, err)
	assert.False(t, other.PublicKey().Verify([]byte("hello"), sig))
}

func TestEncodings(t *testing.T) {
	sk, err := GenerateSecretKey()
	require.NoError(t, err)

	skb := sk.Bytes()
	sk2, err := SecretKeyFromBytes(skb[:])
	require.NoError(t, err)
	assert.True(t, sk.PublicKey().Equal(sk2.PublicKey()))

	pkb := sk.PublicKey().Bytes()
	pk, err := PublicKeyFromBytes(pkb[:])
	require.NoError(t, err)
	assert.True(t, pk.Equal(sk.PublicKey()))

	sig := sk.Sign([]byte("m"))
	sb := sig.Bytes()
	sig2, err := SignatureFromBytes(sb[:])
	require.NoError(t, err)
	assert.True(t, sig.Equal(sig2))

	_, err = PublicKeyFromBytes(pkb[:10])
	assert.ErrorIs(t, err, ErrInvalidPublicKey)
	_, err = SignatureFromBytes(sb[:10])
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestThresholdCombine(t *testing.T) {
	set, err := NewSecretKeySet(3)
	require.NoError(t, err)
	pks := set.PublicKeySet()
	require.Equal(t, 3, pks.Threshold())
	require.True(t, pks.PublicKey().Equal(set.SecretKey().PublicKey()))

	msg := []byte("reissue")
	shares := make([]SignatureShare, 5)
	for i := range shares {
		ks, err := set.SecretKeyShare(i)
		require.NoError(t, err)
		assert.True(t, ks.PublicKeyShare().Equal(pks.PublicKeyShare(i)))
		shares[i] = ks.Sign(msg)
		assert.True(t, pks.VerifyShare(msg, shares[i]))
	}

	master := set.SecretKey().Sign(msg)

	for _, subset := range [][]int{{0, 1, 2}, {4, 2, 0}, {1, 3, 4}, {0, 1, 2, 3, 4}} {
		picked := make([]SignatureShare, 0, len(subset))
		for _, i := range subset {
			picked = append(picked, shares[i])
		}
		sig, err := pks.Combine(picked)
		require.NoError(t, err)
		assert.True(t, sig.Equal(master), "subset %v", subset)
		assert.True(t, pks.PublicKey().Verify(msg, sig))
	}

	_, err = pks.Combine(shares[:2])
	assert.ErrorIs(t, err, ErrNotEnoughShares)

	// Duplicates do not count twice.
	_, err = pks.Combine([]SignatureShare{shares[0], shares[0], shares[1]})
	assert.ErrorIs(t, err, ErrNotEnoughShares)
}

func TestShareFromWrongSetRejected(t *testing.T) {
	set, err := NewSecretKeySet(2)
	require.NoError(t, err)
	rogue, err := NewSecretKeySet(2)
	require.NoError(t, err)

	ks, err := rogue.SecretKeyShare(0)
	require.NoError(t, err)
	assert.False(t, set.PublicKeySet().VerifyShare([]byte("m"), ks.Sign([]byte("m"))))
}

func TestSingleKeySet(t *testing.T) {
	set, err := NewSecretKeySet(1)
	require.NoError(t, err)
	ks, err := set.SecretKeyShare(0)
	require.NoError(t, err)

	pks := set.PublicKeySet()
	sig, err := pks.Combine([]SignatureShare{ks.Sign([]byte("m"))})
	require.NoError(t, err)
	assert.True(t, pks.PublicKey().Verify([]byte("m"), sig))
}

func TestPublicKeySetEncoding(t *testing.T) {
	set, err := NewSecretKeySet(4)
	require.NoError(t, err)
	pks := set.PublicKeySet()

	decoded, err := PublicKeySetFromBytes(pks.Bytes())
	require.NoError(t, err)
	assert.True(t, pks.Equal(decoded))

	other, err := NewSecretKeySet(4)
	require.NoError(t, err)
	assert.False(t, pks.Equal(other.PublicKeySet()))

	_, err = PublicKeySetFromBytes(pks.Bytes()[:20])
	assert.ErrorIs(t, err, ErrInvalidKeySet)

	ks, err := set.SecretKeyShare(2)
	require.NoError(t, err)
	b := ks.Bytes()
	restored, err := NewSecretKeyShare(2, b[:])
	require.NoError(t, err)
	assert.True(t, restored.PublicKeyShare().Equal(pks.PublicKeyShare(2)))

	_, err = NewSecretKeySet(0)
	assert.ErrorIs(t, err, ErrInvalidThreshold)
}

func TestPublicKeySetCountFitsEncoding(t *testing.T) {
	_, err := NewSecretKeySet(MaxShares + 1)
	assert.ErrorIs(t, err, ErrInvalidThreshold)

	set, err := NewSecretKeySet(2)
	require.NoError(t, err)
	_, err = set.SecretKeyShare(MaxShares)
	assert.ErrorIs(t, err, ErrInvalidShareIndex)

	// The largest allowed set must not wrap the two-byte count.
	full := &PublicKeySet{commitments: make([]bn254.G2Affine, MaxShares)}
	b := full.Bytes()
	assert.Equal(t, MaxShares, int(binary.BigEndian.Uint16(b)))
	assert.Len(t, b, 2+MaxShares*PublicKeySize)
}

func TestValidateGroup(t *testing.T) {
	tests := []struct {
		threshold, members int
		ok                 bool
	}{
		{1, 1, true},
		{2, 3, true},
		{3, 5, true},
		{3, 4, true},
		{4, 4, true},
		{1, 2, false},
		{2, 4, false},
		{2, 5, false},
		{0, 1, false},
		{4, 3, false},
		{1, 0, false},
		{MaxShares, MaxShares + 1, false},
	}
	for _, tt := range tests {
		err := ValidateGroup(tt.threshold, tt.members)
		if tt.ok {
			assert.NoError(t, err, "%d of %d", tt.threshold, tt.members)
		} else {
			assert.ErrorIs(t, err, ErrInvalidThreshold, "%d of %d", tt.threshold, tt.members)
		}
	}
}
