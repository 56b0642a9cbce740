package transport

import (
	"bufio"
	"context"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ccoin/dbc/internal/zkp"
	"github.com/ccoin/dbc/pkg/dbc"
	"github.com/ccoin/dbc/pkg/types"
)

// MintProtocol is the request/response protocol served by mints.
const MintProtocol protocol.ID = "/dbc/mint/1.0.0"

// MintService is the mint as seen by the server. *mint.Mint satisfies it.
type MintService interface {
	Reissue(ctx context.Context, tx *dbc.ReissueTransaction) (*dbc.ReissueShare, error)
	IssueGenesis(ctx context.Context, req *dbc.GenesisRequest) (*dbc.ReissueShare, error)
	SpentProof(ctx context.Context, ki zkp.KeyImage) (*dbc.SpentProof, types.Hash, error)
}

// Server answers mint requests on MintProtocol. Each stream carries one
// request and one response.
type Server struct {
	host    *Host
	mint    MintService
	timeout time.Duration
	logger  *zap.Logger
}

// NewServer registers the mint protocol handler on h.
func NewServer(h *Host, m MintService, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{host: h, mint: m, timeout: h.cfg.RequestTimeout, logger: logger}
	h.host.SetStreamHandler(MintProtocol, s.handleStream)
	return s
}

// Close removes the protocol handler.
func (s *Server) Close() {
	s.host.host.RemoveStreamHandler(MintProtocol)
}

func (s *Server) handleStream(stream network.Stream) {
	defer stream.Close()
	start := time.Now()

	ctx, cancel := context.WithTimeout(s.host.ctx, s.timeout)
	defer cancel()
	_ = stream.SetDeadline(time.Now().Add(s.timeout))

	var req Message
	if err := req.Decode(bufio.NewReader(stream)); err != nil {
		s.logger.Debug("bad request", zap.String("peer", stream.Conn().RemotePeer().String()), zap.Error(err))
		stream.Reset()
		return
	}

	resp := s.dispatch(ctx, &req)
	if err := resp.Encode(stream); err != nil {
		s.logger.Debug("write response", zap.Error(err))
		stream.Reset()
		return
	}
	requestsTotal.WithLabelValues(msgName(req.Type), respName(resp.Type)).Inc()
	requestDuration.WithLabelValues(msgName(req.Type)).Observe(time.Since(start).Seconds())
}

func (s *Server) dispatch(ctx context.Context, req *Message) *Message {
	switch req.Type {
	case MsgTypeReissue:
		tx, err := dbc.DecodeTransaction(req.Payload)
		if err != nil {
			return encodeError(err)
		}
		share, err := s.mint.Reissue(ctx, tx)
		if err != nil {
			return encodeError(err)
		}
		return &Message{Type: MsgTypeShare, Payload: dbc.EncodeReissueShare(share)}

	case MsgTypeGenesis:
		r, err := dbc.DecodeGenesisRequest(req.Payload)
		if err != nil {
			return encodeError(err)
		}
		share, err := s.mint.IssueGenesis(ctx, r)
		if err != nil {
			return encodeError(err)
		}
		return &Message{Type: MsgTypeShare, Payload: dbc.EncodeReissueShare(share)}

	case MsgTypeSpentProof:
		ki, err := zkp.KeyImageFromBytes(req.Payload)
		if err != nil {
			return encodeError(errors.Wrap(dbc.ErrMalformedTransaction, err.Error()))
		}
		proof, ref, err := s.mint.SpentProof(ctx, ki)
		if err != nil {
			return encodeError(err)
		}
		return &Message{Type: MsgTypeSpentResponse, Payload: encodeSpentResponse(proof, ref)}
	}
	return encodeError(ErrInvalidMessageType)
}

func msgName(t uint8) string {
	switch t {
	case MsgTypeReissue:
		return "reissue"
	case MsgTypeGenesis:
		return "genesis"
	case MsgTypeSpentProof:
		return "spent_proof"
	}
	return "unknown"
}

func respName(t uint8) string {
	if t == MsgTypeError {
		return "error"
	}
	return "ok"
}
