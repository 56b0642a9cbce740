package dbc

import (
	"github.com/ccoin/dbc/internal/zkp"
	"github.com/ccoin/dbc/pkg/types"
)

// Input spends one DBC hidden among decoys. Ring holds the spent DBC and
// its decoys in ascending id order. PseudoCommitment re-blinds the spent
// amount; balance is checked against it instead of the ring commitments.
type Input struct {
	Ring             []*DBC
	PseudoCommitment zkp.Commitment
	KeyImage         zkp.KeyImage
	Proof            zkp.OwnershipProof
}

// RingMembers returns the ring as the ownership proof sees it.
func (in *Input) RingMembers() []zkp.RingMember {
	out := make([]zkp.RingMember, len(in.Ring))
	for i, d := range in.Ring {
		if d == nil {
			continue
		}
		out[i] = zkp.RingMember{
			Owner:      d.Content.OwnerPublicKey,
			Reference:  d.ID(),
			Commitment: d.Content.Commitment,
		}
	}
	return out
}

// Output is a new DBC body awaiting mint signatures.
type Output struct {
	OwnerPublicKey zkp.PublicKey
	Commitment     zkp.Commitment
	RangeProof     zkp.RangeProof
}

// ReissueTransaction consumes Inputs and creates Outputs. Fee is public.
type ReissueTransaction struct {
	Inputs  []Input
	Outputs []Output
	Fee     uint64
}

// Hash is the transaction id and the provenance of every output. It covers
// the ring member ids, pseudo commitments, key images, outputs and fee but
// not the ownership proofs, which sign it.
func (tx *ReissueTransaction) Hash() types.Hash {
	var e encoder
	e.u32(uint32(len(tx.Inputs)))
	for i := range tx.Inputs {
		in := &tx.Inputs[i]
		e.u32(uint32(len(in.Ring)))
		for _, d := range in.Ring {
			if d == nil {
				e.fixed(types.EmptyHash[:])
				continue
			}
			id := d.ID()
			e.fixed(id[:])
		}
		e.point(in.PseudoCommitment.Point)
		e.fixed(in.KeyImage[:])
	}
	e.u32(uint32(len(tx.Outputs)))
	for i := range tx.Outputs {
		e.output(&tx.Outputs[i])
	}
	e.u64(tx.Fee)
	return types.Sum("dbc/reissue-tx", e.buf)
}

// Message is what every ownership proof signs.
func (tx *ReissueTransaction) Message() []byte {
	h := tx.Hash()
	return h[:]
}

// KeyImages lists input key images in order.
func (tx *ReissueTransaction) KeyImages() []zkp.KeyImage {
	out := make([]zkp.KeyImage, len(tx.Inputs))
	for i := range tx.Inputs {
		out[i] = tx.Inputs[i].KeyImage
	}
	return out
}

// InputCommitments lists input pseudo commitments in order.
func (tx *ReissueTransaction) InputCommitments() []zkp.Commitment {
	out := make([]zkp.Commitment, len(tx.Inputs))
	for i := range tx.Inputs {
		out[i] = tx.Inputs[i].PseudoCommitment
	}
	return out
}

// OutputCommitments lists output commitments in order.
func (tx *ReissueTransaction) OutputCommitments() []zkp.Commitment {
	out := make([]zkp.Commitment, len(tx.Outputs))
	for i := range tx.Outputs {
		out[i] = tx.Outputs[i].Commitment
	}
	return out
}

// FeeCommitment is Commit(Fee, 0).
func (tx *ReissueTransaction) FeeCommitment() zkp.Commitment {
	return zkp.FeeCommitment(tx.Fee)
}

// OutputContents returns the DBC contents mints sign for each output.
func (tx *ReissueTransaction) OutputContents() []Content {
	provenance := tx.Hash()
	out := make([]Content, len(tx.Outputs))
	for i, o := range tx.Outputs {
		out[i] = Content{
			OwnerPublicKey: o.OwnerPublicKey,
			Commitment:     o.Commitment,
			RangeProof:     o.RangeProof,
			Provenance:     provenance,
			Index:          uint32(i),
		}
	}
	return out
}

// SpentProofContents returns what mints attest for each input.
func (tx *ReissueTransaction) SpentProofContents() []SpentProofContent {
	h := tx.Hash()
	out := make([]SpentProofContent, len(tx.Inputs))
	for i := range tx.Inputs {
		out[i] = SpentProofContent{
			KeyImage:        tx.Inputs[i].KeyImage,
			TransactionHash: h,
			InputCommitment: tx.Inputs[i].PseudoCommitment,
		}
	}
	return out
}

// OutputsDigest identifies a set of output contents. Mints that agree on
// the outputs produce the same digest.
func OutputsDigest(contents []Content) types.Hash {
	parts := make([][]byte, len(contents))
	for i := range contents {
		id := contents[i].ID()
		parts[i] = id[:]
	}
	return types.Sum("dbc/outputs", parts...)
}
