// Package transport carries mint requests over libp2p streams and gossips
// spent proofs between mints.
package transport

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/ccoin/dbc/internal/mint"
	"github.com/ccoin/dbc/internal/spentbook"
	"github.com/ccoin/dbc/internal/zkp"
	"github.com/ccoin/dbc/pkg/dbc"
	"github.com/ccoin/dbc/pkg/types"
)

// Message types
const (
	MsgTypeReissue       uint8 = 0x01
	MsgTypeGenesis       uint8 = 0x02
	MsgTypeSpentProof    uint8 = 0x03
	MsgTypeShare         uint8 = 0x81
	MsgTypeSpentResponse uint8 = 0x83
	MsgTypeError         uint8 = 0xff
)

// Message errors
var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrMessageTooLarge    = errors.New("message too large")
	ErrRemote             = errors.New("remote mint error")
)

// MaxMessageSize bounds a single framed message.
const MaxMessageSize = 16 * 1024 * 1024

// Message is one framed request or response: a type byte, a big-endian
// length and the payload.
type Message struct {
	Type    uint8
	Payload []byte
}

// Encode writes the framed message to w.
func (m *Message) Encode(w io.Writer) error {
	if len(m.Payload) > MaxMessageSize {
		return ErrMessageTooLarge
	}
	var hdr [5]byte
	hdr[0] = m.Type
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(m.Payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(m.Payload)
	return err
}

// Decode reads a framed message from r.
func (m *Message) Decode(r io.Reader) error {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return err
	}
	m.Type = hdr[0]
	n := binary.BigEndian.Uint32(hdr[1:])
	if n > MaxMessageSize {
		return ErrMessageTooLarge
	}
	m.Payload = make([]byte, n)
	_, err := io.ReadFull(r, m.Payload)
	return err
}

// ErrorCode identifies a mint error on the wire.
type ErrorCode uint16

// Error codes
const (
	CodeInternal ErrorCode = iota
	CodeMalformedTransaction
	CodeInvalidRangeProof
	CodeUnbalancedTransaction
	CodeInvalidOwnershipProof
	CodeUnknownOutputReference
	CodeDuplicateInput
	CodeDuplicateOutputOwner
	CodeAlreadySpent
	CodeUntrustedMintKey
	CodeInvalidMintSignature
	CodeAmountOutOfRange
	CodeUnknownRangeScheme
	CodeRangeSchemeDisabled
	CodeInsufficientFee
	CodeGenesisDisabled
	CodeGenesisAlreadyIssued
	CodeInvalidGenesis
	CodeMintClosed
)

// errorCodes maps sentinels to codes. Order matters: the first sentinel
// matched by errors.Is wins.
var errorCodes = []struct {
	code ErrorCode
	err  error
}{
	{CodeAlreadySpent, spentbook.ErrAlreadySpent},
	{CodeMalformedTransaction, dbc.ErrMalformedTransaction},
	{CodeInvalidRangeProof, zkp.ErrInvalidRangeProof},
	{CodeUnbalancedTransaction, zkp.ErrUnbalancedTransaction},
	{CodeInvalidOwnershipProof, zkp.ErrInvalidOwnershipProof},
	{CodeUnknownOutputReference, zkp.ErrUnknownOutputReference},
	{CodeDuplicateInput, dbc.ErrDuplicateInputInTransaction},
	{CodeDuplicateOutputOwner, dbc.ErrDuplicateOutputOwner},
	{CodeUntrustedMintKey, dbc.ErrUntrustedMintKey},
	{CodeInvalidMintSignature, dbc.ErrInvalidMintSignature},
	{CodeAmountOutOfRange, zkp.ErrAmountOutOfRange},
	{CodeUnknownRangeScheme, zkp.ErrUnknownRangeScheme},
	{CodeRangeSchemeDisabled, zkp.ErrRangeSchemeDisabled},
	{CodeInsufficientFee, mint.ErrInsufficientFee},
	{CodeGenesisDisabled, mint.ErrGenesisDisabled},
	{CodeGenesisAlreadyIssued, mint.ErrGenesisAlreadyIssued},
	{CodeInvalidGenesis, mint.ErrInvalidGenesis},
	{CodeMintClosed, mint.ErrMintClosed},
}

func codeOf(err error) ErrorCode {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return CodeInternal
}

// RemoteError is an error reported by a mint. It unwraps to the matching
// local sentinel so callers can use errors.Is across the network.
type RemoteError struct {
	Code    ErrorCode
	Message string
}

func (e *RemoteError) Error() string {
	return "remote: " + e.Message
}

// Unwrap returns the sentinel for Code, or ErrRemote.
func (e *RemoteError) Unwrap() error {
	for _, c := range errorCodes {
		if c.code == e.Code {
			return c.err
		}
	}
	return ErrRemote
}

func encodeError(err error) *Message {
	msg := err.Error()
	payload := make([]byte, 2, 2+len(msg))
	binary.BigEndian.PutUint16(payload, uint16(codeOf(err)))
	payload = append(payload, msg...)
	return &Message{Type: MsgTypeError, Payload: payload}
}

func decodeError(payload []byte) error {
	if len(payload) < 2 {
		return errors.Wrap(ErrRemote, "short error message")
	}
	return &RemoteError{
		Code:    ErrorCode(binary.BigEndian.Uint16(payload)),
		Message: string(payload[2:]),
	}
}

// encodeSpentResponse carries an optional proof and its transaction.
func encodeSpentResponse(proof *dbc.SpentProof, ref types.Hash) []byte {
	if proof == nil {
		return []byte{0}
	}
	buf := append([]byte{1}, ref[:]...)
	return append(buf, dbc.EncodeSpentProof(proof)...)
}

func decodeSpentResponse(b []byte) (*dbc.SpentProof, types.Hash, error) {
	if len(b) == 1 && b[0] == 0 {
		return nil, types.EmptyHash, nil
	}
	if len(b) < 1+types.HashSize || b[0] != 1 {
		return nil, types.EmptyHash, errors.Wrap(dbc.ErrMalformedTransaction, "spent proof response")
	}
	var ref types.Hash
	copy(ref[:], b[1:1+types.HashSize])
	proof, err := dbc.DecodeSpentProof(b[1+types.HashSize:])
	if err != nil {
		return nil, types.EmptyHash, err
	}
	return proof, ref, nil
}

// spentBatch is the gossip payload: a count and length-prefixed proofs.
func encodeSpentBatch(proofs []*dbc.SpentProof) []byte {
	buf := binary.BigEndian.AppendUint32(nil, uint32(len(proofs)))
	for _, p := range proofs {
		raw := dbc.EncodeSpentProof(p)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(raw)))
		buf = append(buf, raw...)
	}
	return buf
}

func decodeSpentBatch(b []byte) ([]*dbc.SpentProof, error) {
	if len(b) < 4 {
		return nil, errors.Wrap(dbc.ErrMalformedTransaction, "short spent batch")
	}
	n := binary.BigEndian.Uint32(b)
	b = b[4:]
	if n > dbc.MaxInputs {
		return nil, errors.Wrapf(dbc.ErrMalformedTransaction, "spent batch of %d", n)
	}
	proofs := make([]*dbc.SpentProof, 0, n)
	for i := uint32(0); i < n; i++ {
		if len(b) < 4 {
			return nil, errors.Wrap(dbc.ErrMalformedTransaction, "truncated spent batch")
		}
		l := binary.BigEndian.Uint32(b)
		b = b[4:]
		if uint32(len(b)) < l {
			return nil, errors.Wrap(dbc.ErrMalformedTransaction, "truncated spent proof")
		}
		p, err := dbc.DecodeSpentProof(b[:l])
		if err != nil {
			return nil, err
		}
		proofs = append(proofs, p)
		b = b[l:]
	}
	if len(b) != 0 {
		return nil, errors.Wrap(dbc.ErrMalformedTransaction, "trailing bytes in spent batch")
	}
	return proofs, nil
}
