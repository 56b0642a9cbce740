package transport

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ccoin/dbc/internal/coordinator"
	"github.com/ccoin/dbc/internal/mint"
	"github.com/ccoin/dbc/internal/spentbook"
	"github.com/ccoin/dbc/internal/zkp"
	"github.com/ccoin/dbc/pkg/dbc"
)

func newTestHost(t *testing.T) *Host {
	t.Helper()
	h, err := NewHost(context.Background(), &Config{
		ListenAddrs:    []string{"/ip4/127.0.0.1/tcp/0"},
		RequestTimeout: 5 * time.Second,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func newTestMint(t *testing.T) (*mint.Mint, *dbc.SimpleKeyManager) {
	t.Helper()
	auth, err := mint.NewSimpleAuthority()
	require.NoError(t, err)
	book, err := spentbook.NewBook(spentbook.NewMemoryStore(), nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	keys := dbc.NewSimpleKeyManager(auth.PublicKeySet().PublicKey())
	m, err := mint.New(&mint.Config{GenesisAmount: 1000}, auth, book, keys, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m, keys
}

func TestHostIdentityAndPeers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.key")
	first, err := LoadIdentity(path)
	require.NoError(t, err)
	again, err := LoadIdentity(path)
	require.NoError(t, err)
	assert.True(t, first.Equals(again))

	a, err := NewHost(context.Background(), &Config{
		ListenAddrs:  []string{"/ip4/127.0.0.1/tcp/0"},
		IdentityFile: path,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()
	want, err := peer.IDFromPrivateKey(first)
	require.NoError(t, err)
	assert.Equal(t, want, a.ID())

	b := newTestHost(t)
	id, err := b.Connect(context.Background(), a.Addrs()[0])
	require.NoError(t, err)
	assert.Equal(t, a.ID(), id)

	require.Eventually(t, func() bool { return a.PeerCount() == 1 && b.PeerCount() == 1 }, 5*time.Second, 20*time.Millisecond)
	peers := b.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, a.ID(), peers[0].ID)
}

func TestMessageFraming(t *testing.T) {
	var buf bytes.Buffer
	in := &Message{Type: MsgTypeReissue, Payload: []byte("payload")}
	require.NoError(t, in.Encode(&buf))

	var out Message
	require.NoError(t, out.Decode(&buf))
	assert.Equal(t, in.Type, out.Type)
	assert.Equal(t, in.Payload, out.Payload)

	// A header announcing an oversized payload is rejected before reading it.
	oversized := []byte{MsgTypeReissue, 0xff, 0xff, 0xff, 0xff}
	assert.ErrorIs(t, out.Decode(bytes.NewReader(oversized)), ErrMessageTooLarge)
}

func TestErrorCodes(t *testing.T) {
	for _, c := range errorCodes {
		wrapped := errors.Wrap(c.err, "context")
		remote := decodeError(encodeError(wrapped).Payload)
		assert.ErrorIs(t, remote, c.err, "code %d", c.code)
	}

	remote := decodeError(encodeError(errors.New("disk on fire")).Payload)
	assert.ErrorIs(t, remote, ErrRemote)
	assert.Contains(t, remote.Error(), "disk on fire")
}

func TestSpentBatchEncoding(t *testing.T) {
	m, _ := newTestMint(t)
	g, err := dbc.NewGenesisMaterial(1000, zkp.DefaultRangeProofs())
	require.NoError(t, err)
	_, err = m.IssueGenesis(context.Background(), g.Request())
	require.NoError(t, err)

	proof, ref, err := m.SpentProof(context.Background(), zkp.MarkerKeyImage("genesis"))
	require.NoError(t, err)
	require.NotNil(t, proof)

	got, err := decodeSpentBatch(encodeSpentBatch([]*dbc.SpentProof{proof, proof}))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, proof.Content, got[1].Content)

	p, r, err := decodeSpentResponse(encodeSpentResponse(proof, ref))
	require.NoError(t, err)
	assert.Equal(t, ref, r)
	assert.Equal(t, proof.Content, p.Content)

	p, _, err = decodeSpentResponse(encodeSpentResponse(nil, ref))
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = decodeSpentBatch([]byte{0, 0, 0, 1})
	assert.ErrorIs(t, err, dbc.ErrMalformedTransaction)
}

func TestReissueOverLibp2p(t *testing.T) {
	ctx := context.Background()
	m, keys := newTestMint(t)
	proofs := zkp.DefaultRangeProofs()

	server := newTestHost(t)
	NewServer(server, m, zaptest.NewLogger(t))

	local := newTestHost(t)
	client, err := NewClient(local, m.Index(), server.Addrs()[0])
	require.NoError(t, err)

	c, err := coordinator.New(&coordinator.Config{MintTimeout: 10 * time.Second}, m.PublicKeySet(),
		[]coordinator.MintClient{client}, zaptest.NewLogger(t))
	require.NoError(t, err)

	g, err := dbc.NewGenesisMaterial(1000, proofs)
	require.NoError(t, err)
	genesis, err := c.IssueGenesis(ctx, g)
	require.NoError(t, err)

	alice, err := zkp.GenerateSecretKey()
	require.NoError(t, err)
	bob, err := zkp.GenerateSecretKey()
	require.NoError(t, err)
	tx, _, err := dbc.NewTransactionBuilder(proofs).
		AddInput(genesis).
		AddOutput(600, alice.PublicKey()).
		AddOutput(400, bob.PublicKey()).
		Build()
	require.NoError(t, err)

	res, err := c.Reissue(ctx, tx)
	require.NoError(t, err)
	for _, d := range res.Outputs {
		assert.NoError(t, d.Verify(keys, proofs))
	}

	_, err = c.Reissue(ctx, tx)
	assert.ErrorIs(t, err, spentbook.ErrAlreadySpent)

	proof, ref, err := client.SpentProof(ctx, genesis.KeyImage())
	require.NoError(t, err)
	require.NotNil(t, proof)
	assert.Equal(t, tx.Hash(), ref)

	_, err = client.IssueGenesis(ctx, g.Request())
	assert.ErrorIs(t, err, mint.ErrGenesisAlreadyIssued)
}

func TestClientHonoursDeadline(t *testing.T) {
	server := newTestHost(t)
	// No handler registered: the stream cannot be negotiated.
	local := newTestHost(t)
	client, err := NewClient(local, 0, server.Addrs()[0])
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err = client.SpentProof(ctx, zkp.MarkerKeyImage("x"))
	assert.Error(t, err)
}

func TestSpentAnnouncements(t *testing.T) {
	a, b := newTestHost(t), newTestHost(t)
	_, err := b.Connect(context.Background(), a.Addrs()[0])
	require.NoError(t, err)

	received := make(chan []*dbc.SpentProof, 1)
	sender, err := NewAnnouncer(a, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer sender.Close()
	receiver, err := NewAnnouncer(b, func(_ context.Context, proofs []*dbc.SpentProof) {
		received <- proofs
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer receiver.Close()

	require.Eventually(t, func() bool {
		return len(sender.topic.ListPeers()) > 0
	}, 10*time.Second, 50*time.Millisecond)

	m, _ := newTestMint(t)
	g, err := dbc.NewGenesisMaterial(1000, zkp.DefaultRangeProofs())
	require.NoError(t, err)
	_, err = m.IssueGenesis(context.Background(), g.Request())
	require.NoError(t, err)
	proof, _, err := m.SpentProof(context.Background(), zkp.MarkerKeyImage("genesis"))
	require.NoError(t, err)
	sender.Announce([]*dbc.SpentProof{proof})

	select {
	case got := <-received:
		require.Len(t, got, 1)
		assert.Equal(t, proof.Content, got[0].Content)
	case <-time.After(10 * time.Second):
		t.Fatal("spent proof not delivered")
	}
}
