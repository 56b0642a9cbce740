package mint_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ccoin/dbc/internal/bls"
	"github.com/ccoin/dbc/internal/mint"
	"github.com/ccoin/dbc/internal/spentbook"
	"github.com/ccoin/dbc/internal/zkp"
	"github.com/ccoin/dbc/pkg/dbc"
)

type fixture struct {
	mint   *mint.Mint
	auth   mint.MintAuthority
	book   *spentbook.Book
	keys   *dbc.SimpleKeyManager
	proofs *zkp.RangeProofs
}

func newFixture(t *testing.T, cfg *mint.Config) *fixture {
	t.Helper()
	auth, err := mint.NewSimpleAuthority()
	require.NoError(t, err)
	book, err := spentbook.NewBook(spentbook.NewMemoryStore(), nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	keys := dbc.NewSimpleKeyManager(auth.PublicKeySet().PublicKey())
	proofs := zkp.DefaultRangeProofs()

	m, err := mint.New(cfg, auth, book, keys, proofs, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return &fixture{mint: m, auth: auth, book: book, keys: keys, proofs: proofs}
}

// signed turns a single-mint share into the DBC for output i.
func (f *fixture) signed(t *testing.T, contents []dbc.Content, share *dbc.ReissueShare, i int) *dbc.DBC {
	t.Helper()
	pks := f.auth.PublicKeySet()
	sig, err := pks.Combine([]bls.SignatureShare{share.OutputShares[i]})
	require.NoError(t, err)
	d := &dbc.DBC{Content: contents[i], MintPublicKey: pks.PublicKey(), MintSignature: sig}
	require.NoError(t, d.Verify(f.keys, f.proofs))
	return d
}

func (f *fixture) genesis(t *testing.T, amount uint64) *dbc.Bundle {
	t.Helper()
	g, err := dbc.NewGenesisMaterial(amount, f.proofs)
	require.NoError(t, err)
	share, err := f.mint.IssueGenesis(context.Background(), g.Request())
	require.NoError(t, err)
	b, err := g.Bundle(f.signed(t, []dbc.Content{g.Content}, share, 0))
	require.NoError(t, err)
	return b
}

func newOwner(t *testing.T) *zkp.SecretKey {
	t.Helper()
	sk, err := zkp.GenerateSecretKey()
	require.NoError(t, err)
	return sk
}

func TestReissueEndToEnd(t *testing.T) {
	f := newFixture(t, &mint.Config{GenesisAmount: 1000})
	ctx := context.Background()
	genesis := f.genesis(t, 1000)

	alice, bob := newOwner(t), newOwner(t)
	tx, secrets, err := dbc.NewTransactionBuilder(f.proofs).
		AddInput(genesis).
		AddOutput(600, alice.PublicKey()).
		AddOutput(400, bob.PublicKey()).
		Build()
	require.NoError(t, err)

	share, err := f.mint.Reissue(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, tx.Hash(), share.TransactionHash)
	require.Len(t, share.OutputShares, 2)
	require.Len(t, share.SpentProofs, 1)
	assert.NoError(t, share.SpentProofs[0].Verify(share.PublicKeySet))

	contents := tx.OutputContents()
	assert.Equal(t, dbc.OutputsDigest(contents), share.OutputsDigest)
	aliceDBC, err := dbc.OutputBundle(f.signed(t, contents, share, 0), alice, secrets[0])
	require.NoError(t, err)
	assert.Equal(t, uint64(600), aliceDBC.Secrets.Amount)

	// The genesis key image is now spent.
	spent, err := f.book.IsSpent(ctx, genesis.KeyImage())
	require.NoError(t, err)
	assert.True(t, spent)

	proof, ref, err := f.mint.SpentProof(ctx, genesis.KeyImage())
	require.NoError(t, err)
	require.NotNil(t, proof)
	assert.Equal(t, tx.Hash(), ref)

	// Resubmitting the same transaction is a double spend.
	_, err = f.mint.Reissue(ctx, tx)
	assert.ErrorIs(t, err, spentbook.ErrAlreadySpent)

	// Alice's output is spendable in turn.
	tx2, _, err := dbc.NewTransactionBuilder(f.proofs).
		AddInput(aliceDBC).
		AddOutput(600, newOwner(t).PublicKey()).
		Build()
	require.NoError(t, err)
	_, err = f.mint.Reissue(ctx, tx2)
	assert.NoError(t, err)
}

func TestConcurrentDoubleSpend(t *testing.T) {
	f := newFixture(t, &mint.Config{GenesisAmount: 1000})
	genesis := f.genesis(t, 1000)

	const attempts = 8
	txs := make([]*dbc.ReissueTransaction, attempts)
	for i := range txs {
		tx, _, err := dbc.NewTransactionBuilder(f.proofs).
			AddInput(genesis).
			AddOutput(1000, newOwner(t).PublicKey()).
			Build()
		require.NoError(t, err)
		txs[i] = tx
	}

	var wins, spent atomic.Int32
	var wg sync.WaitGroup
	for _, tx := range txs {
		wg.Add(1)
		go func(tx *dbc.ReissueTransaction) {
			defer wg.Done()
			_, err := f.mint.Reissue(context.Background(), tx)
			switch {
			case err == nil:
				wins.Add(1)
			case assert.ErrorIs(t, err, spentbook.ErrAlreadySpent):
				spent.Add(1)
			}
		}(tx)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(attempts-1), spent.Load())
}

func TestPartiallySpentBatchLogsNothing(t *testing.T) {
	f := newFixture(t, &mint.Config{GenesisAmount: 1000})
	ctx := context.Background()
	genesis := f.genesis(t, 1000)

	alice, bob := newOwner(t), newOwner(t)
	tx, secrets, err := dbc.NewTransactionBuilder(f.proofs).
		AddInput(genesis).
		AddOutput(500, alice.PublicKey()).
		AddOutput(500, bob.PublicKey()).
		Build()
	require.NoError(t, err)
	share, err := f.mint.Reissue(ctx, tx)
	require.NoError(t, err)

	contents := tx.OutputContents()
	a, err := dbc.OutputBundle(f.signed(t, contents, share, 0), alice, secrets[0])
	require.NoError(t, err)
	b, err := dbc.OutputBundle(f.signed(t, contents, share, 1), bob, secrets[1])
	require.NoError(t, err)

	// Spend a alone, then try a and b together.
	first, _, err := dbc.NewTransactionBuilder(f.proofs).AddInput(a).AddOutput(500, newOwner(t).PublicKey()).Build()
	require.NoError(t, err)
	_, err = f.mint.Reissue(ctx, first)
	require.NoError(t, err)

	both, _, err := dbc.NewTransactionBuilder(f.proofs).
		AddInput(a).
		AddInput(b).
		AddOutput(1000, newOwner(t).PublicKey()).
		Build()
	require.NoError(t, err)
	_, err = f.mint.Reissue(ctx, both)
	assert.ErrorIs(t, err, spentbook.ErrAlreadySpent)

	spent, err := f.book.IsSpent(ctx, b.KeyImage())
	require.NoError(t, err)
	assert.False(t, spent, "b must stay unspent after a rejected batch")
}

func TestReusedRecipientKeyStaysSpendable(t *testing.T) {
	f := newFixture(t, &mint.Config{GenesisAmount: 1000})
	ctx := context.Background()
	genesis := f.genesis(t, 1000)
	alice, bob := newOwner(t), newOwner(t)

	reissue := func(tx *dbc.ReissueTransaction) []*dbc.DBC {
		share, err := f.mint.Reissue(ctx, tx)
		require.NoError(t, err)
		contents := tx.OutputContents()
		out := make([]*dbc.DBC, len(contents))
		for i := range contents {
			out[i] = f.signed(t, contents, share, i)
		}
		return out
	}

	tx1, s1, err := dbc.NewTransactionBuilder(f.proofs).
		AddInput(genesis).
		AddOutput(300, alice.PublicKey()).
		AddOutput(700, bob.PublicKey()).
		Build()
	require.NoError(t, err)
	out1 := reissue(tx1)
	first, err := dbc.OutputBundle(out1[0], alice, s1[0])
	require.NoError(t, err)
	change, err := dbc.OutputBundle(out1[1], bob, s1[1])
	require.NoError(t, err)

	// A second, separate payment to the same key.
	tx2, s2, err := dbc.NewTransactionBuilder(f.proofs).
		AddInput(change).
		AddOutput(200, alice.PublicKey()).
		AddOutput(500, newOwner(t).PublicKey()).
		Build()
	require.NoError(t, err)
	out2 := reissue(tx2)
	second, err := dbc.OutputBundle(out2[0], alice, s2[0])
	require.NoError(t, err)
	require.NotEqual(t, first.KeyImage(), second.KeyImage())

	tx3, _, err := dbc.NewTransactionBuilder(f.proofs).
		AddInput(first).
		AddOutput(300, newOwner(t).PublicKey()).
		Build()
	require.NoError(t, err)
	reissue(tx3)

	spent, err := f.book.IsSpent(ctx, second.KeyImage())
	require.NoError(t, err)
	assert.False(t, spent)

	// Spent coins make fine decoys.
	tx4, _, err := dbc.NewTransactionBuilder(f.proofs).
		AddInput(second).
		AddDecoys(genesis.DBC, first.DBC, change.DBC).
		SetDecoysPerInput(3).
		SetRequireAllDecoys(true).
		AddOutput(200, newOwner(t).PublicKey()).
		Build()
	require.NoError(t, err)
	require.Len(t, tx4.Inputs[0].Ring, 4)
	reissue(tx4)
}

func TestGenesisOnce(t *testing.T) {
	f := newFixture(t, &mint.Config{GenesisAmount: 1000})
	ctx := context.Background()
	f.genesis(t, 1000)

	g, err := dbc.NewGenesisMaterial(1000, f.proofs)
	require.NoError(t, err)
	_, err = f.mint.IssueGenesis(ctx, g.Request())
	assert.ErrorIs(t, err, mint.ErrGenesisAlreadyIssued)
}

func TestGenesisValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled", func(t *testing.T) {
		f := newFixture(t, nil)
		g, err := dbc.NewGenesisMaterial(1000, f.proofs)
		require.NoError(t, err)
		_, err = f.mint.IssueGenesis(ctx, g.Request())
		assert.ErrorIs(t, err, mint.ErrGenesisDisabled)
	})

	t.Run("wrong amount", func(t *testing.T) {
		f := newFixture(t, &mint.Config{GenesisAmount: 1000})
		g, err := dbc.NewGenesisMaterial(999, f.proofs)
		require.NoError(t, err)
		_, err = f.mint.IssueGenesis(ctx, g.Request())
		assert.ErrorIs(t, err, mint.ErrInvalidGenesis)
	})

	t.Run("lying secrets", func(t *testing.T) {
		f := newFixture(t, &mint.Config{GenesisAmount: 1000})
		g, err := dbc.NewGenesisMaterial(5, f.proofs)
		require.NoError(t, err)
		req := g.Request()
		req.Secrets.Amount = 1000
		_, err = f.mint.IssueGenesis(ctx, req)
		assert.ErrorIs(t, err, mint.ErrInvalidGenesis)
	})

	t.Run("not genesis provenance", func(t *testing.T) {
		f := newFixture(t, &mint.Config{GenesisAmount: 1000})
		g, err := dbc.NewGenesisMaterial(1000, f.proofs)
		require.NoError(t, err)
		req := g.Request()
		req.Content.Index = 1
		_, err = f.mint.IssueGenesis(ctx, req)
		assert.ErrorIs(t, err, mint.ErrInvalidGenesis)

		// A rejected request does not consume the genesis slot.
		_, err = f.mint.IssueGenesis(ctx, g.Request())
		assert.NoError(t, err)
	})
}

func TestFeePolicy(t *testing.T) {
	f := newFixture(t, &mint.Config{GenesisAmount: 1000, MinFee: 10})
	ctx := context.Background()
	genesis := f.genesis(t, 1000)

	low, _, err := dbc.NewTransactionBuilder(f.proofs).
		AddInput(genesis).
		AddOutput(995, newOwner(t).PublicKey()).
		SetFee(5).
		Build()
	require.NoError(t, err)
	_, err = f.mint.Reissue(ctx, low)
	assert.ErrorIs(t, err, mint.ErrInsufficientFee)

	// A rejected fee leaves the input spendable.
	ok, _, err := dbc.NewTransactionBuilder(f.proofs).
		AddInput(genesis).
		AddOutput(990, newOwner(t).PublicKey()).
		SetFee(10).
		Build()
	require.NoError(t, err)
	_, err = f.mint.Reissue(ctx, ok)
	assert.NoError(t, err)
}

func TestReissueRejectsForeignDBC(t *testing.T) {
	f := newFixture(t, &mint.Config{GenesisAmount: 1000})
	other := newFixture(t, &mint.Config{GenesisAmount: 1000})
	foreign := other.genesis(t, 1000)

	tx, _, err := dbc.NewTransactionBuilder(f.proofs).
		AddInput(foreign).
		AddOutput(1000, newOwner(t).PublicKey()).
		Build()
	require.NoError(t, err)

	_, err = f.mint.Reissue(context.Background(), tx)
	assert.ErrorIs(t, err, dbc.ErrUntrustedMintKey)

	spent, err := f.book.IsSpent(context.Background(), foreign.KeyImage())
	require.NoError(t, err)
	assert.False(t, spent)
}

func TestSpentHandler(t *testing.T) {
	f := newFixture(t, &mint.Config{GenesisAmount: 1000})
	genesis := f.genesis(t, 1000)

	var got []*dbc.SpentProof
	f.mint.SetSpentHandler(func(proofs []*dbc.SpentProof) { got = append(got, proofs...) })

	tx, _, err := dbc.NewTransactionBuilder(f.proofs).
		AddInput(genesis).
		AddOutput(1000, newOwner(t).PublicKey()).
		Build()
	require.NoError(t, err)
	_, err = f.mint.Reissue(context.Background(), tx)
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, genesis.KeyImage(), got[0].Content.KeyImage)
}

func TestNewRejectsUntrustedAuthority(t *testing.T) {
	auth, err := mint.NewSimpleAuthority()
	require.NoError(t, err)
	book, err := spentbook.NewBook(spentbook.NewMemoryStore(), nil, nil)
	require.NoError(t, err)

	_, err = mint.New(nil, auth, book, dbc.NewSimpleKeyManager(), nil, nil)
	assert.ErrorIs(t, err, dbc.ErrUntrustedMintKey)
}

func TestClosedMint(t *testing.T) {
	f := newFixture(t, &mint.Config{GenesisAmount: 1000})
	require.NoError(t, f.mint.Close())
	require.NoError(t, f.mint.Close())

	_, err := f.mint.Reissue(context.Background(), &dbc.ReissueTransaction{})
	assert.ErrorIs(t, err, mint.ErrMintClosed)
}

func TestShareAuthority(t *testing.T) {
	set, err := bls.NewSecretKeySet(2)
	require.NoError(t, err)
	share, err := set.SecretKeyShare(1)
	require.NoError(t, err)

	a, err := mint.NewShareAuthority(share, set.PublicKeySet())
	require.NoError(t, err)
	assert.Equal(t, 1, a.Index())
	assert.True(t, set.PublicKeySet().VerifyShare([]byte("m"), a.SignShare([]byte("m"))))

	other, err := bls.NewSecretKeySet(2)
	require.NoError(t, err)
	_, err = mint.NewShareAuthority(share, other.PublicKeySet())
	assert.Error(t, err)
}
