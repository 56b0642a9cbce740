package transport

import (
	"bufio"
	"context"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/multiformats/go-multiaddr"
	"github.com/pkg/errors"

	"github.com/ccoin/dbc/internal/coordinator"
	"github.com/ccoin/dbc/internal/zkp"
	"github.com/ccoin/dbc/pkg/dbc"
	"github.com/ccoin/dbc/pkg/types"
)

// Client talks to one remote mint.
type Client struct {
	host  *Host
	peer  peer.ID
	index int
}

var _ coordinator.MintClient = (*Client)(nil)

// NewClient returns a client for the mint holding share index, reachable at
// addr (a multiaddress ending in /p2p/<id>). The connection is opened on
// first use.
func NewClient(h *Host, index int, addr string) (*Client, error) {
	ma, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return nil, errors.Wrapf(err, "mint %d address", index)
	}
	info, err := peer.AddrInfoFromP2pAddr(ma)
	if err != nil {
		return nil, errors.Wrapf(err, "mint %d address", index)
	}
	h.host.Peerstore().AddAddrs(info.ID, info.Addrs, peerstore.PermanentAddrTTL)
	return &Client{host: h, peer: info.ID, index: index}, nil
}

// Index implements coordinator.MintClient
func (c *Client) Index() int {
	return c.index
}

// Peer is the remote mint's peer ID.
func (c *Client) Peer() peer.ID {
	return c.peer
}

// roundTrip sends req on a fresh stream and reads one response. The stream
// is reset if ctx ends first.
func (c *Client) roundTrip(ctx context.Context, req *Message) (*Message, error) {
	stream, err := c.host.host.NewStream(ctx, c.peer, MintProtocol)
	if err != nil {
		return nil, errors.Wrapf(err, "open stream to mint %d", c.index)
	}
	defer stream.Close()
	stop := context.AfterFunc(ctx, func() { stream.Reset() })
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetDeadline(deadline)
	}

	if err := req.Encode(stream); err != nil {
		return nil, c.streamErr(ctx, err)
	}
	if err := stream.CloseWrite(); err != nil {
		return nil, c.streamErr(ctx, err)
	}

	var resp Message
	if err := resp.Decode(bufio.NewReader(stream)); err != nil {
		return nil, c.streamErr(ctx, err)
	}
	if resp.Type == MsgTypeError {
		return nil, decodeError(resp.Payload)
	}
	return &resp, nil
}

func (c *Client) streamErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return errors.Wrapf(err, "mint %d", c.index)
}

func (c *Client) share(ctx context.Context, req *Message) (*dbc.ReissueShare, error) {
	resp, err := c.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Type != MsgTypeShare {
		return nil, errors.Wrapf(ErrInvalidMessageType, "0x%02x", resp.Type)
	}
	return dbc.DecodeReissueShare(resp.Payload)
}

// Reissue implements coordinator.MintClient
func (c *Client) Reissue(ctx context.Context, tx *dbc.ReissueTransaction) (*dbc.ReissueShare, error) {
	return c.share(ctx, &Message{Type: MsgTypeReissue, Payload: dbc.EncodeTransaction(tx)})
}

// IssueGenesis implements coordinator.MintClient
func (c *Client) IssueGenesis(ctx context.Context, req *dbc.GenesisRequest) (*dbc.ReissueShare, error) {
	return c.share(ctx, &Message{Type: MsgTypeGenesis, Payload: dbc.EncodeGenesisRequest(req)})
}

// SpentProof implements coordinator.MintClient
func (c *Client) SpentProof(ctx context.Context, ki zkp.KeyImage) (*dbc.SpentProof, types.Hash, error) {
	resp, err := c.roundTrip(ctx, &Message{Type: MsgTypeSpentProof, Payload: ki[:]})
	if err != nil {
		return nil, types.EmptyHash, err
	}
	if resp.Type != MsgTypeSpentResponse {
		return nil, types.EmptyHash, errors.Wrapf(ErrInvalidMessageType, "0x%02x", resp.Type)
	}
	return decodeSpentResponse(resp.Payload)
}
