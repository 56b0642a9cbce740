package bls

import (
	"encoding/binary"
	"math/big"
	"sort"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/pkg/errors"
)

// Threshold errors
var (
	ErrInvalidThreshold  = errors.New("invalid threshold")
	ErrNotEnoughShares   = errors.New("not enough signature shares")
	ErrInvalidShareIndex = errors.New("invalid share index")
	ErrInvalidKeySet     = errors.New("invalid public key set")
)

// MaxShares bounds share indexes and the threshold, which PublicKeySet
// encodes in two bytes.
const MaxShares = 1<<16 - 1

// ValidateGroup checks that threshold of members is a strict majority, so
// two disjoint quorums can never both sign.
func ValidateGroup(threshold, members int) error {
	if members < 1 || members > MaxShares {
		return errors.Wrapf(ErrInvalidThreshold, "%d members, at most %d", members, MaxShares)
	}
	if threshold > members || threshold <= members/2 {
		return errors.Wrapf(ErrInvalidThreshold, "threshold %d of %d members is not a majority", threshold, members)
	}
	return nil
}

// SecretKeySet is a dealer's polynomial of degree threshold-1. Share i is
// the polynomial evaluated at i+1.
type SecretKeySet struct {
	coeffs []fr.Element
}

// NewSecretKeySet draws a random polynomial so that any threshold shares
// can sign.
func NewSecretKeySet(threshold int) (*SecretKeySet, error) {
	if threshold < 1 || threshold > MaxShares {
		return nil, errors.Wrapf(ErrInvalidThreshold, "%d", threshold)
	}
	coeffs := make([]fr.Element, threshold)
	for i := range coeffs {
		if _, err := coeffs[i].SetRandom(); err != nil {
			return nil, err
		}
	}
	for coeffs[0].IsZero() {
		if _, err := coeffs[0].SetRandom(); err != nil {
			return nil, err
		}
	}
	return &SecretKeySet{coeffs: coeffs}, nil
}

// Threshold is the number of shares needed to sign.
func (s *SecretKeySet) Threshold() int {
	return len(s.coeffs)
}

// SecretKey returns the master key, the polynomial at zero.
func (s *SecretKeySet) SecretKey() *SecretKey {
	return &SecretKey{s: s.coeffs[0]}
}

// SecretKeyShare returns share i.
func (s *SecretKeySet) SecretKeyShare(i int) (*SecretKeyShare, error) {
	if i < 0 || i >= MaxShares {
		return nil, errors.Wrapf(ErrInvalidShareIndex, "%d", i)
	}
	x := shareX(i)
	var acc fr.Element
	for j := len(s.coeffs) - 1; j >= 0; j-- {
		acc.Mul(&acc, &x)
		acc.Add(&acc, &s.coeffs[j])
	}
	return &SecretKeyShare{index: i, s: acc}, nil
}

// PublicKeySet returns the Feldman commitments to the polynomial.
func (s *SecretKeySet) PublicKeySet() *PublicKeySet {
	commitments := make([]bn254.G2Affine, len(s.coeffs))
	for i := range s.coeffs {
		commitments[i] = g2Mul(&g2Gen, &s.coeffs[i])
	}
	return &PublicKeySet{commitments: commitments}
}

func shareX(i int) fr.Element {
	var x fr.Element
	x.SetUint64(uint64(i) + 1)
	return x
}

// SecretKeyShare is one participant's evaluation of the secret polynomial.
type SecretKeyShare struct {
	index int
	s     fr.Element
}

// NewSecretKeyShare reconstructs a share from its index and scalar bytes.
func NewSecretKeyShare(index int, b []byte) (*SecretKeyShare, error) {
	if index < 0 || index >= MaxShares {
		return nil, errors.Wrapf(ErrInvalidShareIndex, "%d", index)
	}
	s, err := scalarFromBytes(b)
	if err != nil {
		return nil, err
	}
	return &SecretKeyShare{index: index, s: s}, nil
}

// Index returns the share index.
func (s *SecretKeyShare) Index() int {
	return s.index
}

// Bytes returns the share scalar.
func (s *SecretKeyShare) Bytes() [SecretKeySize]byte {
	return s.s.Bytes()
}

// PublicKeyShare returns s_i*G2.
func (s *SecretKeyShare) PublicKeyShare() PublicKey {
	return PublicKey{p: g2Mul(&g2Gen, &s.s)}
}

// Sign produces this share's signature over msg.
func (s *SecretKeyShare) Sign(msg []byte) SignatureShare {
	return SignatureShare{Index: s.index, Signature: sign(&s.s, msg)}
}

// SignatureShare is a partial signature from share Index.
type SignatureShare struct {
	Index     int
	Signature Signature
}

// PublicKeySet holds commitments C_j = a_j*G2 to the dealer polynomial.
type PublicKeySet struct {
	commitments []bn254.G2Affine
}

// Threshold is the number of shares needed to sign.
func (pks *PublicKeySet) Threshold() int {
	return len(pks.commitments)
}

// PublicKey is the master public key C_0.
func (pks *PublicKeySet) PublicKey() PublicKey {
	return PublicKey{p: pks.commitments[0]}
}

// PublicKeyShare evaluates the committed polynomial at i+1.
func (pks *PublicKeySet) PublicKeyShare(i int) PublicKey {
	x := shareX(i)
	xb := x.BigInt(new(big.Int))

	var acc, term bn254.G2Jac
	acc.FromAffine(&pks.commitments[len(pks.commitments)-1])
	for j := len(pks.commitments) - 2; j >= 0; j-- {
		acc.ScalarMultiplication(&acc, xb)
		term.FromAffine(&pks.commitments[j])
		acc.AddAssign(&term)
	}

	var out PublicKey
	out.p.FromJacobian(&acc)
	return out
}

// VerifyShare checks a signature share against the share's public key.
func (pks *PublicKeySet) VerifyShare(msg []byte, share SignatureShare) bool {
	if share.Index < 0 || share.Index >= MaxShares {
		return false
	}
	return pks.PublicKeyShare(share.Index).Verify(msg, share.Signature)
}

// Combine interpolates Threshold distinct shares at zero. Shares are not
// verified here; callers verify each with VerifyShare first.
func (pks *PublicKeySet) Combine(shares []SignatureShare) (Signature, error) {
	t := pks.Threshold()

	byIndex := make(map[int]SignatureShare, len(shares))
	for _, s := range shares {
		if s.Index < 0 || s.Index >= MaxShares {
			return Signature{}, errors.Wrapf(ErrInvalidShareIndex, "%d", s.Index)
		}
		byIndex[s.Index] = s
	}
	if len(byIndex) < t {
		return Signature{}, errors.Wrapf(ErrNotEnoughShares, "have %d, need %d", len(byIndex), t)
	}

	indexes := make([]int, 0, len(byIndex))
	for i := range byIndex {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	indexes = indexes[:t]

	xs := make([]fr.Element, t)
	for k, i := range indexes {
		xs[k] = shareX(i)
	}

	var acc, term bn254.G1Jac
	for k, i := range indexes {
		lambda := lagrangeAtZero(xs, k)
		sig := byIndex[i].Signature
		term.FromAffine(&sig.p)
		term.ScalarMultiplication(&term, lambda.BigInt(new(big.Int)))
		if k == 0 {
			acc.Set(&term)
		} else {
			acc.AddAssign(&term)
		}
	}

	var out Signature
	out.p.FromJacobian(&acc)
	return out, nil
}

// lagrangeAtZero returns prod_{j != k} x_j / (x_j - x_k).
func lagrangeAtZero(xs []fr.Element, k int) fr.Element {
	var num, den fr.Element
	num.SetOne()
	den.SetOne()
	for j := range xs {
		if j == k {
			continue
		}
		var diff fr.Element
		diff.Sub(&xs[j], &xs[k])
		num.Mul(&num, &xs[j])
		den.Mul(&den, &diff)
	}
	den.Inverse(&den)
	num.Mul(&num, &den)
	return num
}

// Equal reports whether both sets commit to the same polynomial.
func (pks *PublicKeySet) Equal(o *PublicKeySet) bool {
	if pks == nil || o == nil || len(pks.commitments) != len(o.commitments) {
		return false
	}
	for i := range pks.commitments {
		if !pks.commitments[i].Equal(&o.commitments[i]) {
			return false
		}
	}
	return true
}

// Bytes encodes the set as a 2-byte count followed by compressed points.
func (pks *PublicKeySet) Bytes() []byte {
	out := make([]byte, 2, 2+len(pks.commitments)*PublicKeySize)
	binary.BigEndian.PutUint16(out, uint16(len(pks.commitments)))
	for i := range pks.commitments {
		b := pks.commitments[i].Bytes()
		out = append(out, b[:]...)
	}
	return out
}

// PublicKeySetFromBytes decodes the Bytes encoding.
func PublicKeySetFromBytes(b []byte) (*PublicKeySet, error) {
	if len(b) < 2 {
		return nil, errors.Wrap(ErrInvalidKeySet, "short buffer")
	}
	n := int(binary.BigEndian.Uint16(b))
	if n == 0 || len(b) != 2+n*PublicKeySize {
		return nil, errors.Wrapf(ErrInvalidKeySet, "count %d, length %d", n, len(b))
	}
	commitments := make([]bn254.G2Affine, n)
	for i := range commitments {
		off := 2 + i*PublicKeySize
		pk, err := PublicKeyFromBytes(b[off : off+PublicKeySize])
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidKeySet, "commitment %d: %v", i, err)
		}
		commitments[i] = pk.p
	}
	return &PublicKeySet{commitments: commitments}, nil
}
