package coordinator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ccoin/dbc/internal/bls"
	"github.com/ccoin/dbc/internal/coordinator"
	"github.com/ccoin/dbc/internal/mint"
	"github.com/ccoin/dbc/internal/spentbook"
	"github.com/ccoin/dbc/internal/zkp"
	"github.com/ccoin/dbc/pkg/dbc"
	"github.com/ccoin/dbc/pkg/types"
)

type network struct {
	pks    *bls.PublicKeySet
	keys   *dbc.SimpleKeyManager
	proofs *zkp.RangeProofs
	mints  []*mint.Mint
}

// newNetwork starts n in-process mints sharing a threshold key set.
func newNetwork(t *testing.T, threshold, n int) *network {
	t.Helper()
	set, err := bls.NewSecretKeySet(threshold)
	require.NoError(t, err)
	pks := set.PublicKeySet()
	net := &network{
		pks:    pks,
		keys:   dbc.NewSimpleKeyManager(pks.PublicKey()),
		proofs: zkp.DefaultRangeProofs(),
	}
	for i := 0; i < n; i++ {
		share, err := set.SecretKeyShare(i)
		require.NoError(t, err)
		auth, err := mint.NewShareAuthority(share, pks)
		require.NoError(t, err)
		book, err := spentbook.NewBook(spentbook.NewMemoryStore(), nil, zaptest.NewLogger(t))
		require.NoError(t, err)
		m, err := mint.New(&mint.Config{GenesisAmount: 1000}, auth, book, net.keys, net.proofs, zaptest.NewLogger(t))
		require.NoError(t, err)
		t.Cleanup(func() { m.Close() })
		net.mints = append(net.mints, m)
	}
	return net
}

func (n *network) clients() []coordinator.MintClient {
	out := make([]coordinator.MintClient, len(n.mints))
	for i, m := range n.mints {
		out[i] = m
	}
	return out
}

func (n *network) coordinator(t *testing.T, clients []coordinator.MintClient) *coordinator.Coordinator {
	t.Helper()
	return n.coordinatorWithTimeout(t, clients, 10*time.Second)
}

// coordinatorWithTimeout is for rounds that must wait out hanging mints.
func (n *network) coordinatorWithTimeout(t *testing.T, clients []coordinator.MintClient, timeout time.Duration) *coordinator.Coordinator {
	t.Helper()
	c, err := coordinator.New(&coordinator.Config{MintTimeout: timeout}, n.pks, clients, zaptest.NewLogger(t))
	require.NoError(t, err)
	return c
}

func (n *network) genesis(t *testing.T, c *coordinator.Coordinator) *dbc.Bundle {
	t.Helper()
	g, err := dbc.NewGenesisMaterial(1000, n.proofs)
	require.NoError(t, err)
	b, err := c.IssueGenesis(context.Background(), g)
	require.NoError(t, err)
	return b
}

func newOwner(t *testing.T) *zkp.SecretKey {
	t.Helper()
	sk, err := zkp.GenerateSecretKey()
	require.NoError(t, err)
	return sk
}

// hangingMint never answers before its deadline.
type hangingMint struct{ coordinator.MintClient }

func (h hangingMint) Reissue(ctx context.Context, _ *dbc.ReissueTransaction) (*dbc.ReissueShare, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (h hangingMint) SpentProof(ctx context.Context, _ zkp.KeyImage) (*dbc.SpentProof, types.Hash, error) {
	<-ctx.Done()
	return nil, types.Hash{}, ctx.Err()
}

// forkedMint signs honestly but reports a different transaction.
type forkedMint struct{ coordinator.MintClient }

func (f forkedMint) Reissue(ctx context.Context, tx *dbc.ReissueTransaction) (*dbc.ReissueShare, error) {
	share, err := f.MintClient.Reissue(ctx, tx)
	if err != nil {
		return nil, err
	}
	share.TransactionHash[0] ^= 1
	return share, nil
}

func TestThresholdReissue(t *testing.T) {
	net := newNetwork(t, 2, 3)
	c := net.coordinator(t, net.clients())
	genesis := net.genesis(t, c)
	require.NoError(t, genesis.DBC.Verify(net.keys, net.proofs))

	alice, bob := newOwner(t), newOwner(t)
	tx, secrets, err := dbc.NewTransactionBuilder(net.proofs).
		AddInput(genesis).
		AddOutput(600, alice.PublicKey()).
		AddOutput(400, bob.PublicKey()).
		Build()
	require.NoError(t, err)

	res, err := c.Reissue(context.Background(), tx)
	require.NoError(t, err)
	require.Len(t, res.Outputs, 2)
	require.Len(t, res.SpentCertificates, 1)

	for _, d := range res.Outputs {
		assert.NoError(t, d.Verify(net.keys, net.proofs))
	}
	assert.NoError(t, res.SpentCertificates[0].Verify(net.keys))
	assert.Equal(t, genesis.KeyImage(), res.SpentCertificates[0].Content.KeyImage)
	assert.NoError(t, dbc.VerifySpentCertificates(tx, res.SpentCertificates, net.keys))

	a, err := dbc.OutputBundle(res.Outputs[0], alice, secrets[0])
	require.NoError(t, err)
	assert.Equal(t, uint64(600), a.Secrets.Amount)

	// Resubmission fails at every mint with AlreadySpent.
	_, err = c.Reissue(context.Background(), tx)
	assert.ErrorIs(t, err, coordinator.ErrInsufficientShares)
	assert.ErrorIs(t, err, spentbook.ErrAlreadySpent)

	var qe *coordinator.QuorumError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, 2, qe.Threshold)

	cert, err := c.SpentCertificate(context.Background(), genesis.KeyImage())
	require.NoError(t, err)
	require.NotNil(t, cert)
	assert.Equal(t, tx.Hash(), cert.Content.TransactionHash)
}

func TestReissueToleratesSlowMint(t *testing.T) {
	net := newNetwork(t, 2, 3)
	honest := net.coordinator(t, net.clients())
	genesis := net.genesis(t, honest)

	clients := net.clients()
	clients[0] = hangingMint{clients[0]}
	c := net.coordinator(t, clients)

	tx, _, err := dbc.NewTransactionBuilder(net.proofs).
		AddInput(genesis).
		AddOutput(1000, newOwner(t).PublicKey()).
		Build()
	require.NoError(t, err)

	res, err := c.Reissue(context.Background(), tx)
	require.NoError(t, err)
	assert.NoError(t, res.Outputs[0].Verify(net.keys, net.proofs))
}

func TestReissueInsufficientShares(t *testing.T) {
	net := newNetwork(t, 2, 3)
	honest := net.coordinator(t, net.clients())
	genesis := net.genesis(t, honest)

	clients := net.clients()
	clients[0] = hangingMint{clients[0]}
	clients[1] = hangingMint{clients[1]}
	c := net.coordinatorWithTimeout(t, clients, 200*time.Millisecond)

	tx, _, err := dbc.NewTransactionBuilder(net.proofs).
		AddInput(genesis).
		AddOutput(1000, newOwner(t).PublicKey()).
		Build()
	require.NoError(t, err)

	start := time.Now()
	res, err := c.Reissue(context.Background(), tx)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, coordinator.ErrInsufficientShares)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestReissueConflictingShares(t *testing.T) {
	net := newNetwork(t, 2, 3)
	honest := net.coordinator(t, net.clients())
	genesis := net.genesis(t, honest)

	clients := net.clients()
	clients[2] = forkedMint{clients[2]}
	clients[1] = hangingMint{clients[1]}
	c := net.coordinatorWithTimeout(t, clients, 200*time.Millisecond)

	tx, _, err := dbc.NewTransactionBuilder(net.proofs).
		AddInput(genesis).
		AddOutput(1000, newOwner(t).PublicKey()).
		Build()
	require.NoError(t, err)

	res, err := c.Reissue(context.Background(), tx)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, coordinator.ErrConflictingShares)
}

func TestNewRejectsBadMembership(t *testing.T) {
	net := newNetwork(t, 3, 3)

	_, err := coordinator.New(nil, net.pks, net.clients()[:2], nil)
	assert.ErrorIs(t, err, coordinator.ErrInsufficientShares)

	dup := append(net.clients(), net.mints[0])
	_, err = coordinator.New(nil, net.pks, dup, nil)
	assert.ErrorIs(t, err, coordinator.ErrUnknownMint)
}

func TestGenesisThroughQuorum(t *testing.T) {
	net := newNetwork(t, 2, 2)
	c := net.coordinator(t, net.clients())
	net.genesis(t, c)

	g, err := dbc.NewGenesisMaterial(1000, net.proofs)
	require.NoError(t, err)
	_, err = c.IssueGenesis(context.Background(), g)
	assert.ErrorIs(t, err, mint.ErrGenesisAlreadyIssued)
}

func TestSpentCertificateUnspent(t *testing.T) {
	net := newNetwork(t, 2, 3)
	c := net.coordinator(t, net.clients())

	sk := newOwner(t)
	cert, err := c.SpentCertificate(context.Background(), zkp.DeriveKeyImage(sk, types.Sum("test/output")))
	require.NoError(t, err)
	assert.Nil(t, cert)
}

func TestSpentCertificateWithoutQuorum(t *testing.T) {
	net := newNetwork(t, 2, 3)
	honest := net.coordinator(t, net.clients())
	genesis := net.genesis(t, honest)

	tx, _, err := dbc.NewTransactionBuilder(net.proofs).
		AddInput(genesis).
		AddOutput(1000, newOwner(t).PublicKey()).
		Build()
	require.NoError(t, err)
	_, err = honest.Reissue(context.Background(), tx)
	require.NoError(t, err)

	clients := net.clients()
	clients[1] = hangingMint{clients[1]}
	clients[2] = hangingMint{clients[2]}
	c := net.coordinatorWithTimeout(t, clients, 200*time.Millisecond)

	// Only mint 0 answers.
	cert, err := c.SpentCertificate(context.Background(), genesis.KeyImage())
	assert.Nil(t, cert)
	require.Error(t, err)
	assert.ErrorIs(t, err, coordinator.ErrInsufficientShares)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var qe *coordinator.QuorumError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, 1, qe.Valid)
	assert.Len(t, qe.MintErrors, 2)
}

func TestSpentCertificateSplitAnswers(t *testing.T) {
	net := newNetwork(t, 2, 3)
	genesis := net.genesis(t, net.coordinator(t, net.clients()))

	// Mint 2 never sees the reissue.
	clients := net.clients()
	clients[2] = hangingMint{clients[2]}
	_, err := net.coordinator(t, clients).Reissue(context.Background(), mustSpend(t, net, genesis))
	require.NoError(t, err)

	// Mint 0 reports spent, mint 2 unspent, mint 1 never answers. A
	// threshold answered, so there is no certificate and no error.
	clients = net.clients()
	clients[1] = hangingMint{clients[1]}
	c := net.coordinatorWithTimeout(t, clients, 200*time.Millisecond)

	cert, err := c.SpentCertificate(context.Background(), genesis.KeyImage())
	require.NoError(t, err)
	assert.Nil(t, cert)
}

func mustSpend(t *testing.T, net *network, b *dbc.Bundle) *dbc.ReissueTransaction {
	t.Helper()
	tx, _, err := dbc.NewTransactionBuilder(net.proofs).
		AddInput(b).
		AddOutput(b.Secrets.Amount, newOwner(t).PublicKey()).
		Build()
	require.NoError(t, err)
	return tx
}
