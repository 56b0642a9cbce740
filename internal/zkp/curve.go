// Package zkp implements the commitment, range proof and ownership primitives
// used by DBC reissue transactions.
//
// All group elements live on the twisted Edwards curve embedded in BN254
// (BabyJubJub), which keeps the native arithmetic and the Groth16 range
// circuit on the same group.
package zkp

import (
	"crypto/rand"
	"encoding/binary"
	"math/big"
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bn254/twistededwards"
	"github.com/pkg/errors"

	"github.com/ccoin/dbc/pkg/types"
)

// PointSize is the size of a compressed curve point.
const PointSize = 32

// ScalarSize is the size of an encoded scalar.
const ScalarSize = 32

// Curve errors
var (
	ErrInvalidPoint  = errors.New("invalid curve point")
	ErrInvalidScalar = errors.New("invalid scalar")
)

var (
	curveOnce sync.Once
	curve     twistededwards.CurveParams
	cofactor  *big.Int

	// G is the curve base point, H the blinding generator with no known
	// discrete log relation to G.
	generatorG Point
	generatorH Point
)

func initCurve() {
	curveOnce.Do(func() {
		curve = twistededwards.GetEdwardsCurve()
		cofactor = curve.Cofactor.BigInt(new(big.Int))
		generatorG = Point{inner: curve.Base}
		generatorH = mapToPoint("dbc/pedersen/H", nil)
	})
}

// Order returns the prime subgroup order. The returned value must not be
// modified.
func Order() *big.Int {
	initCurve()
	return &curve.Order
}

// Point is an element of the prime order subgroup.
type Point struct {
	inner twistededwards.PointAffine
}

// Identity returns the neutral element.
func Identity() Point {
	var p Point
	p.inner.Y.SetOne()
	return p
}

// BasePoint returns G.
func BasePoint() Point {
	initCurve()
	return generatorG
}

// BlindingPoint returns H.
func BlindingPoint() Point {
	initCurve()
	return generatorH
}

// Add returns p + q
func (p Point) Add(q Point) Point {
	var r Point
	r.inner.Add(&p.inner, &q.inner)
	return r
}

// Sub returns p - q
func (p Point) Sub(q Point) Point {
	return p.Add(q.Neg())
}

// Neg returns -p
func (p Point) Neg() Point {
	var r Point
	r.inner.Neg(&p.inner)
	return r
}

// Mul returns s*p. The scalar is reduced modulo the group order.
func (p Point) Mul(s *big.Int) Point {
	k := modOrder(s)
	if k.Sign() == 0 {
		return Identity()
	}
	var r Point
	r.inner.ScalarMultiplication(&p.inner, k)
	return r
}

// Equal reports whether p and q are the same point.
func (p Point) Equal(q Point) bool {
	return p.inner.Equal(&q.inner)
}

// IsIdentity reports whether p is the neutral element.
func (p Point) IsIdentity() bool {
	return p.inner.X.IsZero() && p.inner.Y.IsOne()
}

// IsValid reports whether p is a non-identity curve point. The zero value
// is not valid.
func (p Point) IsValid() bool {
	return p.inner.IsOnCurve() && !p.IsIdentity()
}

// Bytes returns the compressed encoding.
func (p Point) Bytes() [PointSize]byte {
	return p.inner.Bytes()
}

// coordinates returns the affine coordinates as integers.
func (p Point) coordinates() (x, y *big.Int) {
	return p.inner.X.BigInt(new(big.Int)), p.inner.Y.BigInt(new(big.Int))
}

// PointFromBytes decodes a compressed point and checks that it is on the
// curve, canonically encoded, and in the prime order subgroup.
func PointFromBytes(b []byte) (Point, error) {
	initCurve()
	if len(b) != PointSize {
		return Point{}, errors.Wrapf(ErrInvalidPoint, "length %d", len(b))
	}

	var p Point
	if _, err := p.inner.SetBytes(b); err != nil {
		return Point{}, errors.Wrap(ErrInvalidPoint, err.Error())
	}
	if !p.inner.IsOnCurve() {
		return Point{}, errors.Wrap(ErrInvalidPoint, "not on curve")
	}
	if enc := p.inner.Bytes(); string(enc[:]) != string(b) {
		return Point{}, errors.Wrap(ErrInvalidPoint, "non-canonical encoding")
	}

	var check twistededwards.PointAffine
	check.ScalarMultiplication(&p.inner, &curve.Order)
	if !(Point{inner: check}).IsIdentity() {
		return Point{}, errors.Wrap(ErrInvalidPoint, "not in prime subgroup")
	}
	return p, nil
}

// hashToPoint maps (domain, data) to a subgroup point with unknown discrete
// log by try-and-increment over compressed encodings, clearing the cofactor.
func hashToPoint(domain string, data []byte) Point {
	initCurve()
	return mapToPoint(domain, data)
}

func mapToPoint(domain string, data []byte) Point {
	var ctr [4]byte
	for i := uint32(0); ; i++ {
		binary.BigEndian.PutUint32(ctr[:], i)
		candidate := types.Sum(domain, data, ctr[:])

		var p twistededwards.PointAffine
		if _, err := p.SetBytes(candidate[:]); err != nil {
			continue
		}
		if !p.IsOnCurve() {
			continue
		}
		p.ScalarMultiplication(&p, cofactor)

		out := Point{inner: p}
		if out.IsIdentity() {
			continue
		}
		return out
	}
}

// RandomScalar returns a uniformly random non-zero scalar.
func RandomScalar() (*big.Int, error) {
	order := Order()
	for {
		s, err := rand.Int(rand.Reader, order)
		if err != nil {
			return nil, err
		}
		if s.Sign() != 0 {
			return s, nil
		}
	}
}

func modOrder(s *big.Int) *big.Int {
	return new(big.Int).Mod(s, Order())
}

// ScalarBytes encodes a scalar as 32 big-endian bytes. Nil encodes as zero.
func ScalarBytes(s *big.Int) [ScalarSize]byte {
	var out [ScalarSize]byte
	if s == nil {
		return out
	}
	modOrder(s).FillBytes(out[:])
	return out
}

// ScalarFromBytes decodes a canonical scalar.
func ScalarFromBytes(b []byte) (*big.Int, error) {
	if len(b) != ScalarSize {
		return nil, errors.Wrapf(ErrInvalidScalar, "length %d", len(b))
	}
	s := new(big.Int).SetBytes(b)
	if s.Cmp(Order()) >= 0 {
		return nil, errors.Wrap(ErrInvalidScalar, "not reduced")
	}
	return s, nil
}
