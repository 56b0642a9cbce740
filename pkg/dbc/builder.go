package dbc

import (
	"bytes"
	"crypto/rand"
	"math/big"
	"sort"

	"github.com/pkg/errors"

	"github.com/ccoin/dbc/internal/zkp"
	"github.com/ccoin/dbc/pkg/types"
)

// DefaultDecoysPerInput is the number of decoys mixed into each ring.
const DefaultDecoysPerInput = 10

// OutputSecrets are the private values the builder chose for an output. The
// recipient needs them, together with the signed DBC, to spend it.
type OutputSecrets struct {
	Index          int
	OwnerPublicKey zkp.PublicKey
	// DerivationIndex is set when the owner key was derived with
	// AddOutputOnce.
	DerivationIndex *[zkp.DerivationIndexSize]byte
	Secrets         AmountSecrets
}

type builderOutput struct {
	amount uint64
	owner  zkp.PublicKey
	index  *[zkp.DerivationIndexSize]byte
}

// TransactionBuilder assembles a balanced ReissueTransaction.
type TransactionBuilder struct {
	inputs  []*Bundle
	decoys  []*DBC
	outputs []builderOutput
	fee     uint64
	proofs  *zkp.RangeProofs

	decoysPerInput   int
	requireAllDecoys bool
	allowUnbalanced  bool
}

// NewTransactionBuilder creates a builder proving ranges with proofs.
func NewTransactionBuilder(proofs *zkp.RangeProofs) *TransactionBuilder {
	if proofs == nil {
		proofs = zkp.DefaultRangeProofs()
	}
	return &TransactionBuilder{proofs: proofs, decoysPerInput: DefaultDecoysPerInput}
}

// AddInput spends a bundle.
func (b *TransactionBuilder) AddInput(bundle *Bundle) *TransactionBuilder {
	b.inputs = append(b.inputs, bundle)
	return b
}

// AddDecoys offers signed DBCs to hide inputs among. Each decoy joins at
// most one ring; spent inputs and repeats are ignored.
func (b *TransactionBuilder) AddDecoys(dbcs ...*DBC) *TransactionBuilder {
	b.decoys = append(b.decoys, dbcs...)
	return b
}

// SetDecoysPerInput sets how many decoys each ring gets.
func (b *TransactionBuilder) SetDecoysPerInput(n int) *TransactionBuilder {
	b.decoysPerInput = n
	return b
}

// SetRequireAllDecoys makes Build fail with ErrInsufficientDecoys instead
// of shrinking rings when the pool is too small.
func (b *TransactionBuilder) SetRequireAllDecoys(require bool) *TransactionBuilder {
	b.requireAllDecoys = require
	return b
}

// AddOutput pays amount to owner.
func (b *TransactionBuilder) AddOutput(amount uint64, owner zkp.PublicKey) *TransactionBuilder {
	b.outputs = append(b.outputs, builderOutput{amount: amount, owner: owner})
	return b
}

// AddOutputOnce pays amount to a one-time key derived from base and index.
func (b *TransactionBuilder) AddOutputOnce(amount uint64, base zkp.PublicKey, index [zkp.DerivationIndexSize]byte) *TransactionBuilder {
	owner := zkp.DeriveOneTimePublicKey(base, index)
	b.outputs = append(b.outputs, builderOutput{amount: amount, owner: owner, index: &index})
	return b
}

// SetFee sets the public fee.
func (b *TransactionBuilder) SetFee(fee uint64) *TransactionBuilder {
	b.fee = fee
	return b
}

// InputsAmount sums input amounts.
func (b *TransactionBuilder) InputsAmount() *big.Int {
	sum := new(big.Int)
	for _, in := range b.inputs {
		sum.Add(sum, new(big.Int).SetUint64(in.Secrets.Amount))
	}
	return sum
}

// OutputsAmount sums output amounts and the fee.
func (b *TransactionBuilder) OutputsAmount() *big.Int {
	sum := new(big.Int).SetUint64(b.fee)
	for _, out := range b.outputs {
		sum.Add(sum, new(big.Int).SetUint64(out.amount))
	}
	return sum
}

// Build hides each input among decoys, re-blinds spent amounts as pseudo
// commitments, chooses output blindings so commitments balance, proves
// output ranges, and signs every input's ownership over the finished
// transaction.
func (b *TransactionBuilder) Build() (*ReissueTransaction, []*OutputSecrets, error) {
	if len(b.inputs) == 0 || len(b.outputs) == 0 {
		return nil, nil, errors.Wrap(ErrMalformedTransaction, "need at least one input and one output")
	}
	if !b.allowUnbalanced && b.InputsAmount().Cmp(b.OutputsAmount()) != 0 {
		return nil, nil, errors.Wrapf(zkp.ErrUnbalancedTransaction, "inputs %s, outputs+fee %s", b.InputsAmount(), b.OutputsAmount())
	}
	for i, in := range b.inputs {
		if in == nil || in.DBC == nil || in.OwnerSecret == nil || in.Secrets.Blinding == nil {
			return nil, nil, errors.Wrapf(ErrMalformedTransaction, "input %d incomplete", i)
		}
	}

	rings, err := b.rings()
	if err != nil {
		return nil, nil, err
	}

	pseudoBlindings := make([]*big.Int, len(b.inputs))
	for i := range b.inputs {
		if pseudoBlindings[i], err = zkp.RandomScalar(); err != nil {
			return nil, nil, err
		}
	}

	outBlindings := make([]*big.Int, len(b.outputs))
	for i := 0; i < len(b.outputs)-1; i++ {
		if outBlindings[i], err = zkp.RandomScalar(); err != nil {
			return nil, nil, err
		}
	}
	outBlindings[len(b.outputs)-1] = zkp.BalancingBlinding(pseudoBlindings, outBlindings[:len(b.outputs)-1])

	tx := &ReissueTransaction{
		Inputs:  make([]Input, len(b.inputs)),
		Outputs: make([]Output, len(b.outputs)),
		Fee:     b.fee,
	}
	secrets := make([]*OutputSecrets, len(b.outputs))
	for i, out := range b.outputs {
		rp, err := b.proofs.Prove(out.amount, outBlindings[i])
		if err != nil {
			return nil, nil, errors.Wrapf(err, "output %d", i)
		}
		tx.Outputs[i] = Output{
			OwnerPublicKey: out.owner,
			Commitment:     zkp.Commit(out.amount, outBlindings[i]),
			RangeProof:     rp,
		}
		secrets[i] = &OutputSecrets{
			Index:           i,
			OwnerPublicKey:  out.owner,
			DerivationIndex: out.index,
			Secrets:         AmountSecrets{Amount: out.amount, Blinding: outBlindings[i]},
		}
	}

	for i, in := range b.inputs {
		tx.Inputs[i] = Input{
			Ring:             rings[i],
			PseudoCommitment: zkp.Commit(in.Secrets.Amount, pseudoBlindings[i]),
			KeyImage:         in.KeyImage(),
		}
	}

	msg := tx.Message()
	for i, in := range b.inputs {
		w := zkp.OwnershipWitness{
			Secret:        in.OwnerSecret,
			Reference:     in.DBC.ID(),
			BlindingDelta: new(big.Int).Sub(in.Secrets.Blinding, pseudoBlindings[i]),
		}
		proof, ki, err := zkp.ProveOwnership(w, tx.Inputs[i].RingMembers(), tx.Inputs[i].PseudoCommitment, msg)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "input %d", i)
		}
		if ki != tx.Inputs[i].KeyImage {
			return nil, nil, errors.Wrapf(zkp.ErrInvalidOwnershipProof, "input %d key image changed", i)
		}
		tx.Inputs[i].Proof = proof
	}
	return tx, secrets, nil
}

// rings draws disjoint sets of decoys for each input and sorts every ring
// by id so the spent member's position leaks nothing.
func (b *TransactionBuilder) rings() ([][]*DBC, error) {
	if b.decoysPerInput < 0 || b.decoysPerInput+1 > zkp.MaxRingSize {
		return nil, errors.Wrapf(ErrMalformedTransaction, "%d decoys per input", b.decoysPerInput)
	}

	taken := make(map[types.Hash]struct{}, len(b.inputs)+len(b.decoys))
	for _, in := range b.inputs {
		taken[in.DBC.ID()] = struct{}{}
	}
	pool := make([]*DBC, 0, len(b.decoys))
	for _, d := range b.decoys {
		if d == nil {
			continue
		}
		id := d.ID()
		if _, ok := taken[id]; ok {
			continue
		}
		taken[id] = struct{}{}
		pool = append(pool, d)
	}

	per := b.decoysPerInput
	if want := per * len(b.inputs); len(pool) < want {
		if b.requireAllDecoys {
			return nil, errors.Wrapf(ErrInsufficientDecoys, "have %d, need %d", len(pool), want)
		}
		per = len(pool) / len(b.inputs)
	}
	if err := shuffle(pool); err != nil {
		return nil, err
	}

	rings := make([][]*DBC, len(b.inputs))
	for i, in := range b.inputs {
		ring := make([]*DBC, 0, per+1)
		ring = append(ring, in.DBC)
		ring = append(ring, pool[i*per:(i+1)*per]...)
		ids := make(map[*DBC]types.Hash, len(ring))
		for _, d := range ring {
			ids[d] = d.ID()
		}
		sort.Slice(ring, func(a, c int) bool {
			ia, ic := ids[ring[a]], ids[ring[c]]
			return bytes.Compare(ia[:], ic[:]) < 0
		})
		rings[i] = ring
	}
	return rings, nil
}

func shuffle(dbcs []*DBC) error {
	for i := len(dbcs) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return err
		}
		k := int(j.Int64())
		dbcs[i], dbcs[k] = dbcs[k], dbcs[i]
	}
	return nil
}

// RandomDerivationIndex returns a fresh OwnerOnce index.
func RandomDerivationIndex() ([zkp.DerivationIndexSize]byte, error) {
	var idx [zkp.DerivationIndexSize]byte
	_, err := rand.Read(idx[:])
	return idx, err
}

// OutputBundle pairs a signed output with the secrets the builder chose for
// it. owner must be the output's one-time secret key.
func OutputBundle(d *DBC, owner *zkp.SecretKey, s *OutputSecrets) (*Bundle, error) {
	return NewBundle(d, owner, s.Secrets)
}
