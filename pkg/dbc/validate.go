package dbc

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/ccoin/dbc/internal/zkp"
	"github.com/ccoin/dbc/pkg/types"
)

// Transaction limits
const (
	MaxInputs  = 256
	MaxOutputs = 256
)

// Validate checks tx without consulting the spentbook: structure, ring
// member signatures and range proofs, ownership, balance, output range
// proofs. It has no side effects.
func (tx *ReissueTransaction) Validate(keys KeyManager, proofs *zkp.RangeProofs) error {
	if err := tx.checkStructure(); err != nil {
		return err
	}

	msg := tx.Message()
	// Decoys may appear in several rings; each DBC is checked once.
	verified := make(map[types.Hash]struct{})
	for i := range tx.Inputs {
		in := &tx.Inputs[i]
		for _, d := range in.Ring {
			id := d.ID()
			if _, ok := verified[id]; ok {
				continue
			}
			if err := d.Verify(keys, proofs); err != nil {
				return errors.Wrapf(err, "input %d", i)
			}
			verified[id] = struct{}{}
		}
		if err := zkp.VerifyOwnership(in.RingMembers(), in.PseudoCommitment, in.KeyImage, in.Proof, msg); err != nil {
			return errors.Wrapf(err, "input %d", i)
		}
	}

	if err := zkp.VerifyBalance(tx.InputCommitments(), tx.OutputCommitments(), tx.FeeCommitment()); err != nil {
		return err
	}

	for i := range tx.Outputs {
		out := &tx.Outputs[i]
		if err := proofs.Verify(out.Commitment, out.RangeProof); err != nil {
			return errors.Wrapf(err, "output %d", i)
		}
	}
	return nil
}

func (tx *ReissueTransaction) checkStructure() error {
	if len(tx.Inputs) == 0 {
		return errors.Wrap(ErrMalformedTransaction, "no inputs")
	}
	if len(tx.Outputs) == 0 {
		return errors.Wrap(ErrMalformedTransaction, "no outputs")
	}
	if len(tx.Inputs) > MaxInputs || len(tx.Outputs) > MaxOutputs {
		return errors.Wrapf(ErrMalformedTransaction, "%d inputs, %d outputs", len(tx.Inputs), len(tx.Outputs))
	}

	seen := make(map[zkp.KeyImage]struct{}, len(tx.Inputs))
	for i := range tx.Inputs {
		in := &tx.Inputs[i]
		if err := in.checkRing(); err != nil {
			return errors.Wrapf(err, "input %d", i)
		}
		if in.Proof.Challenge == nil || len(in.Proof.KeyResponses) != len(in.Ring) || len(in.Proof.BlindingResponses) != len(in.Ring) {
			return errors.Wrapf(ErrMalformedTransaction, "input %d has no ownership proof for its ring", i)
		}
		if _, dup := seen[in.KeyImage]; dup {
			return errors.Wrapf(ErrDuplicateInputInTransaction, "key image %s", in.KeyImage.Short())
		}
		seen[in.KeyImage] = struct{}{}
	}

	return tx.checkOutputs()
}

// checkRing requires 1..MaxRingSize members in strictly ascending id order,
// which also rules out repeated members.
func (in *Input) checkRing() error {
	if len(in.Ring) == 0 || len(in.Ring) > zkp.MaxRingSize {
		return errors.Wrapf(ErrMalformedTransaction, "ring of %d members", len(in.Ring))
	}
	var prev types.Hash
	for j, d := range in.Ring {
		if d == nil {
			return errors.Wrapf(ErrMalformedTransaction, "ring member %d missing", j)
		}
		id := d.ID()
		if j > 0 && bytes.Compare(prev[:], id[:]) >= 0 {
			return errors.Wrap(ErrMalformedTransaction, "ring members not in ascending id order")
		}
		prev = id
	}
	return nil
}

func (tx *ReissueTransaction) checkOutputs() error {
	owners := make(map[[zkp.PointSize]byte]struct{}, len(tx.Outputs))
	for i := range tx.Outputs {
		out := &tx.Outputs[i]
		if !out.OwnerPublicKey.IsValid() {
			return errors.Wrapf(ErrMalformedTransaction, "output %d has no owner", i)
		}
		if len(out.RangeProof.Data) == 0 {
			return errors.Wrapf(ErrMalformedTransaction, "output %d has no range proof", i)
		}
		key := out.OwnerPublicKey.Bytes()
		if _, dup := owners[key]; dup {
			return errors.Wrapf(ErrDuplicateOutputOwner, "output %d", i)
		}
		owners[key] = struct{}{}
	}
	return nil
}

// VerifySpentCertificates checks, on the client side, that certs are
// exactly one valid certificate per input of tx: matching key image,
// transaction hash and pseudo commitment, signed under a trusted mint key.
// It also requires unique output owners.
func VerifySpentCertificates(tx *ReissueTransaction, certs []*SpentCertificate, keys KeyManager) error {
	if len(certs) != len(tx.Inputs) {
		return errors.Wrapf(ErrSpentCertificateMismatch, "%d certificates for %d inputs", len(certs), len(tx.Inputs))
	}
	if err := tx.checkOutputs(); err != nil {
		return err
	}

	inputs := make(map[zkp.KeyImage]*Input, len(tx.Inputs))
	for i := range tx.Inputs {
		inputs[tx.Inputs[i].KeyImage] = &tx.Inputs[i]
	}
	h := tx.Hash()
	for i, c := range certs {
		if c == nil {
			return errors.Wrapf(ErrSpentCertificateMismatch, "certificate %d missing", i)
		}
		in, ok := inputs[c.Content.KeyImage]
		if !ok {
			return errors.Wrapf(ErrSpentCertificateMismatch, "certificate %d: key image %s is not an input", i, c.Content.KeyImage.Short())
		}
		delete(inputs, c.Content.KeyImage)
		if c.Content.TransactionHash != h {
			return errors.Wrapf(ErrSpentCertificateMismatch, "certificate %d attests transaction %s", i, c.Content.TransactionHash.Short())
		}
		if !c.Content.InputCommitment.Equal(in.PseudoCommitment) {
			return errors.Wrapf(ErrSpentCertificateMismatch, "certificate %d: commitment differs", i)
		}
		if err := c.Verify(keys); err != nil {
			return errors.Wrapf(err, "certificate %d", i)
		}
	}
	return nil
}
