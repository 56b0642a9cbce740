package zkp

import (
	"math/big"

	"github.com/pkg/errors"
)

// RangeBits is the bit length of an amount. Valid amounts are [0, 2^64).
const RangeBits = 64

// Range proof errors
var (
	ErrInvalidRangeProof   = errors.New("invalid range proof")
	ErrUnknownRangeScheme  = errors.New("unknown range proof scheme")
	ErrAmountOutOfRange    = errors.New("amount out of range")
	ErrRangeSchemeDisabled = errors.New("range proof scheme disabled")
)

// RangeScheme selects a range proof construction.
type RangeScheme uint8

const (
	// SchemeBitSigma commits to every bit and proves each is 0 or 1 with a
	// sigma OR-proof. Transparent, no setup.
	SchemeBitSigma RangeScheme = 1
	// SchemeGroth16 proves the opening inside a Groth16 circuit.
	SchemeGroth16 RangeScheme = 2
)

func (s RangeScheme) String() string {
	switch s {
	case SchemeBitSigma:
		return "bit-sigma"
	case SchemeGroth16:
		return "groth16"
	default:
		return "unknown"
	}
}

// ParseRangeScheme maps a configuration name to a scheme.
func ParseRangeScheme(name string) (RangeScheme, error) {
	switch name {
	case "", "bit-sigma":
		return SchemeBitSigma, nil
	case "groth16":
		return SchemeGroth16, nil
	default:
		return 0, errors.Wrap(ErrUnknownRangeScheme, name)
	}
}

// RangeProof is a scheme-tagged proof that a commitment opens to an amount
// in [0, 2^64).
type RangeProof struct {
	Scheme RangeScheme
	Data   []byte
}

// RangeProofs proves and verifies range proofs. Verification accepts every
// scheme it has the material for; proving uses the configured scheme.
type RangeProofs struct {
	scheme   RangeScheme
	circuits *CircuitManager
}

// NewRangeProofs creates a prover/verifier. circuits may be nil, in which
// case Groth16 proofs are rejected.
func NewRangeProofs(scheme RangeScheme, circuits *CircuitManager) (*RangeProofs, error) {
	switch scheme {
	case SchemeBitSigma:
	case SchemeGroth16:
		if circuits == nil {
			return nil, errors.Wrap(ErrRangeSchemeDisabled, "groth16 requires circuit keys")
		}
	default:
		return nil, ErrUnknownRangeScheme
	}
	return &RangeProofs{scheme: scheme, circuits: circuits}, nil
}

// DefaultRangeProofs returns a bit-sigma prover with no Groth16 support.
func DefaultRangeProofs() *RangeProofs {
	return &RangeProofs{scheme: SchemeBitSigma}
}

// Scheme returns the scheme used by Prove.
func (rp *RangeProofs) Scheme() RangeScheme {
	return rp.scheme
}

// Prove produces a range proof for Commit(amount, blinding).
func (rp *RangeProofs) Prove(amount uint64, blinding *big.Int) (RangeProof, error) {
	return rp.proveRange(new(big.Int).SetUint64(amount), blinding)
}

func (rp *RangeProofs) proveRange(amount, blinding *big.Int) (RangeProof, error) {
	if amount.Sign() < 0 || amount.BitLen() > RangeBits {
		return RangeProof{}, ErrAmountOutOfRange
	}
	if blinding == nil {
		return RangeProof{}, errors.Wrap(ErrInvalidScalar, "nil blinding")
	}
	commitment := commitBig(amount, blinding)

	switch rp.scheme {
	case SchemeGroth16:
		data, err := rp.circuits.Prove(amount, blinding, commitment)
		if err != nil {
			return RangeProof{}, err
		}
		return RangeProof{Scheme: SchemeGroth16, Data: data}, nil
	default:
		data, err := proveBits(amount, blinding, commitment)
		if err != nil {
			return RangeProof{}, err
		}
		return RangeProof{Scheme: SchemeBitSigma, Data: data}, nil
	}
}

// Verify checks that proof is a valid range proof for commitment.
func (rp *RangeProofs) Verify(commitment Commitment, proof RangeProof) error {
	switch proof.Scheme {
	case SchemeBitSigma:
		return verifyBits(commitment, proof.Data)
	case SchemeGroth16:
		if rp.circuits == nil {
			return errors.Wrap(ErrInvalidRangeProof, ErrRangeSchemeDisabled.Error())
		}
		return rp.circuits.Verify(commitment, proof.Data)
	default:
		return errors.Wrapf(ErrInvalidRangeProof, "scheme %d", proof.Scheme)
	}
}

// ProveRange proves with the default bit-sigma scheme.
func ProveRange(amount uint64, blinding *big.Int) (RangeProof, error) {
	return DefaultRangeProofs().Prove(amount, blinding)
}

// VerifyRange verifies with the default bit-sigma scheme.
func VerifyRange(commitment Commitment, proof RangeProof) error {
	return DefaultRangeProofs().Verify(commitment, proof)
}

// Bit-sigma layout, per bit: C_i || e0 || e1 || z0 || z1.
const bitProofSize = PointSize + 4*ScalarSize

// bitsProofSize is the size of a complete bit-sigma proof.
const bitsProofSize = RangeBits * bitProofSize

func bitChallenge(commitment Commitment, i int, ci, r0, r1 Point) *big.Int {
	t := newTranscript("dbc/range/bit-sigma")
	t.appendPoint("commitment", commitment.Point)
	t.appendUint("bit", uint64(i))
	t.appendPoint("c", ci)
	t.appendPoint("r0", r0)
	t.appendPoint("r1", r1)
	return t.challenge()
}

// proveBits commits to each bit b_i as C_i = b_i*G + r_i*H with
// sum(2^i r_i) == blinding, then proves C_i or C_i - G is a multiple of H.
func proveBits(amount, blinding *big.Int, commitment Commitment) ([]byte, error) {
	order := Order()
	G, H := BasePoint(), BlindingPoint()

	rs := make([]*big.Int, RangeBits)
	acc := new(big.Int)
	for i := 0; i < RangeBits-1; i++ {
		r, err := RandomScalar()
		if err != nil {
			return nil, err
		}
		rs[i] = r
		acc.Add(acc, new(big.Int).Lsh(r, uint(i)))
	}
	top := new(big.Int).Lsh(big.NewInt(1), RangeBits-1)
	topInv := new(big.Int).ModInverse(top, order)
	last := new(big.Int).Sub(blinding, acc)
	last.Mul(last, topInv)
	rs[RangeBits-1] = last.Mod(last, order)

	out := make([]byte, 0, bitsProofSize)
	for i := 0; i < RangeBits; i++ {
		bit := amount.Bit(i)
		ci := H.Mul(rs[i])
		if bit == 1 {
			ci = ci.Add(G)
		}
		p0, p1 := ci, ci.Sub(G)

		k, err := RandomScalar()
		if err != nil {
			return nil, err
		}
		eSim, err := RandomScalar()
		if err != nil {
			return nil, err
		}
		zSim, err := RandomScalar()
		if err != nil {
			return nil, err
		}

		var e0, e1, z0, z1 *big.Int
		if bit == 0 {
			r0 := H.Mul(k)
			r1 := H.Mul(zSim).Sub(p1.Mul(eSim))
			e := bitChallenge(commitment, i, ci, r0, r1)
			e1, z1 = eSim, zSim
			e0 = modOrder(new(big.Int).Sub(e, e1))
			z0 = modOrder(new(big.Int).Add(k, new(big.Int).Mul(e0, rs[i])))
		} else {
			r1 := H.Mul(k)
			r0 := H.Mul(zSim).Sub(p0.Mul(eSim))
			e := bitChallenge(commitment, i, ci, r0, r1)
			e0, z0 = eSim, zSim
			e1 = modOrder(new(big.Int).Sub(e, e0))
			z1 = modOrder(new(big.Int).Add(k, new(big.Int).Mul(e1, rs[i])))
		}

		cb := ci.Bytes()
		out = append(out, cb[:]...)
		for _, s := range []*big.Int{e0, e1, z0, z1} {
			sb := ScalarBytes(s)
			out = append(out, sb[:]...)
		}
	}
	return out, nil
}

func verifyBits(commitment Commitment, data []byte) error {
	if len(data) != bitsProofSize {
		return errors.Wrapf(ErrInvalidRangeProof, "proof length %d", len(data))
	}
	G, H := BasePoint(), BlindingPoint()

	// weighted = sum(2^i C_i), accumulated from the top bit down.
	weighted := Identity()
	bits := make([]Point, RangeBits)

	for i := 0; i < RangeBits; i++ {
		chunk := data[i*bitProofSize : (i+1)*bitProofSize]
		ci, err := PointFromBytes(chunk[:PointSize])
		if err != nil {
			return errors.Wrapf(ErrInvalidRangeProof, "bit %d: %v", i, err)
		}
		var s [4]*big.Int
		for j := range s {
			off := PointSize + j*ScalarSize
			s[j], err = ScalarFromBytes(chunk[off : off+ScalarSize])
			if err != nil {
				return errors.Wrapf(ErrInvalidRangeProof, "bit %d: %v", i, err)
			}
		}
		e0, e1, z0, z1 := s[0], s[1], s[2], s[3]

		p0, p1 := ci, ci.Sub(G)
		r0 := H.Mul(z0).Sub(p0.Mul(e0))
		r1 := H.Mul(z1).Sub(p1.Mul(e1))

		e := bitChallenge(commitment, i, ci, r0, r1)
		if modOrder(new(big.Int).Add(e0, e1)).Cmp(e) != 0 {
			return errors.Wrapf(ErrInvalidRangeProof, "bit %d: challenge mismatch", i)
		}
		bits[i] = ci
	}

	for i := RangeBits - 1; i >= 0; i-- {
		weighted = weighted.Add(weighted).Add(bits[i])
	}
	if !weighted.Equal(commitment.Point) {
		return errors.Wrap(ErrInvalidRangeProof, "bit commitments do not sum to commitment")
	}
	return nil
}
