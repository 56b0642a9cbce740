package zkp

import (
	"math/big"

	"github.com/pkg/errors"
)

// Commitment errors
var (
	ErrUnbalancedTransaction = errors.New("commitments do not balance")
	ErrInvalidAmount         = errors.New("invalid amount")
)

// Commitment is a Pedersen commitment C = amount*G + blinding*H.
type Commitment struct {
	Point
}

// Commit computes amount*G + blinding*H.
func Commit(amount uint64, blinding *big.Int) Commitment {
	return commitBig(new(big.Int).SetUint64(amount), blinding)
}

func commitBig(amount, blinding *big.Int) Commitment {
	vG := BasePoint().Mul(amount)
	rH := BlindingPoint().Mul(blinding)
	return Commitment{Point: vG.Add(rH)}
}

// NewRandomCommitment commits to amount under a fresh random blinding.
func NewRandomCommitment(amount uint64) (Commitment, *big.Int, error) {
	blinding, err := RandomScalar()
	if err != nil {
		return Commitment{}, nil, err
	}
	return Commit(amount, blinding), blinding, nil
}

// FeeCommitment commits to a public fee with zero blinding.
func FeeCommitment(fee uint64) Commitment {
	return Commit(fee, new(big.Int))
}

// CommitmentFromBytes decodes a compressed commitment.
func CommitmentFromBytes(b []byte) (Commitment, error) {
	p, err := PointFromBytes(b)
	if err != nil {
		return Commitment{}, err
	}
	return Commitment{Point: p}, nil
}

// Opens reports whether c opens to (amount, blinding).
func (c Commitment) Opens(amount uint64, blinding *big.Int) bool {
	if blinding == nil {
		return false
	}
	return c.Point.Equal(Commit(amount, blinding).Point)
}

// Add returns c + o, a commitment to the summed amounts and blindings.
func (c Commitment) Add(o Commitment) Commitment {
	return Commitment{Point: c.Point.Add(o.Point)}
}

// Sub returns c - o
func (c Commitment) Sub(o Commitment) Commitment {
	return Commitment{Point: c.Point.Sub(o.Point)}
}

// Neg returns -c
func (c Commitment) Neg() Commitment {
	return Commitment{Point: c.Point.Neg()}
}

// Equal reports whether both commitments are the same group element.
func (c Commitment) Equal(o Commitment) bool {
	return c.Point.Equal(o.Point)
}

// Sum adds commitments. The empty sum is the identity.
func Sum(cs ...Commitment) Commitment {
	acc := Commitment{Point: Identity()}
	for _, c := range cs {
		acc = acc.Add(c)
	}
	return acc
}

// VerifyBalance checks sum(inputs) - sum(outputs) - fee == identity.
// Because H has no known discrete log to G, this only holds when both
// amounts and blindings balance.
func VerifyBalance(inputs, outputs []Commitment, fee Commitment) error {
	diff := Sum(inputs...).Sub(Sum(outputs...)).Sub(fee)
	if !diff.IsIdentity() {
		return ErrUnbalancedTransaction
	}
	return nil
}

// BalancingBlinding returns the blinding that makes
// sum(inputs) == sum(outputs) + last, given every other output blinding.
// Fee commitments carry zero blinding and need no term.
func BalancingBlinding(inputs, outputs []*big.Int) *big.Int {
	acc := new(big.Int)
	for _, r := range inputs {
		acc.Add(acc, r)
	}
	for _, r := range outputs {
		acc.Sub(acc, r)
	}
	return modOrder(acc)
}
