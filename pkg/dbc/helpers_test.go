package dbc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ccoin/dbc/internal/bls"
	"github.com/ccoin/dbc/internal/zkp"
)

// testMint signs DBC contents directly with a master key.
type testMint struct {
	set  *bls.SecretKeySet
	keys *SimpleKeyManager
}

func newTestMint(t *testing.T) *testMint {
	t.Helper()
	set, err := bls.NewSecretKeySet(1)
	require.NoError(t, err)
	return &testMint{set: set, keys: NewSimpleKeyManager(set.PublicKeySet().PublicKey())}
}

func (m *testMint) sign(c Content) *DBC {
	id := c.ID()
	return &DBC{
		Content:       c,
		MintPublicKey: m.set.PublicKeySet().PublicKey(),
		MintSignature: m.set.SecretKey().Sign(id[:]),
	}
}

func (m *testMint) genesis(t *testing.T, amount uint64) *Bundle {
	t.Helper()
	g, err := NewGenesisMaterial(amount, zkp.DefaultRangeProofs())
	require.NoError(t, err)
	b, err := g.Bundle(m.sign(g.Content))
	require.NoError(t, err)
	return b
}

func newOwner(t *testing.T) *zkp.SecretKey {
	t.Helper()
	sk, err := zkp.GenerateSecretKey()
	require.NoError(t, err)
	return sk
}
