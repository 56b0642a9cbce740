package zkp

import (
	"math/big"

	"github.com/pkg/errors"

	"github.com/ccoin/dbc/pkg/types"
)

// Ownership errors
var (
	ErrInvalidOwnershipProof  = errors.New("invalid ownership proof")
	ErrUnknownOutputReference = errors.New("spent output is not a ring member")
)

// MaxRingSize bounds the members of one ring.
const MaxRingSize = 64

// RingMember is one candidate for the output an input spends.
type RingMember struct {
	Owner      PublicKey
	Reference  types.Hash
	Commitment Commitment
}

// OwnershipWitness is the spender's knowledge of the true ring member.
type OwnershipWitness struct {
	Secret    *SecretKey
	Reference types.Hash
	// BlindingDelta is the spent commitment's blinding minus the pseudo
	// commitment's blinding.
	BlindingDelta *big.Int
}

// OwnershipProof is a linkable ring signature with two columns. For the
// true member j the first column shows knowledge of x with P_j = x*G and
// I = x*Hp(P_j, ref_j). The second shows knowledge of z with
// C_j - C' = z*H, so the pseudo commitment C' hides the spent amount.
// Verifiers learn neither j nor the amount.
type OwnershipProof struct {
	Challenge         *big.Int
	KeyResponses      []*big.Int
	BlindingResponses []*big.Int
}

// Size returns the encoded size.
func (p OwnershipProof) Size() int {
	return ScalarSize * (1 + len(p.KeyResponses) + len(p.BlindingResponses))
}

func ringDigest(ring []RingMember, pseudo Commitment, ki KeyImage, message []byte) []byte {
	t := newTranscript("dbc/ring")
	t.appendBytes("message", message)
	t.appendPoint("pseudo", pseudo.Point)
	t.appendBytes("key-image", ki[:])
	t.appendUint("members", uint64(len(ring)))
	for i := range ring {
		t.appendPoint("owner", ring[i].Owner.Point)
		t.appendBytes("reference", ring[i].Reference[:])
		t.appendPoint("commitment", ring[i].Commitment.Point)
	}
	return t.digest()
}

func ringStep(digest []byte, j int, l1, r1, l2 Point) *big.Int {
	t := newTranscript("dbc/ring-step")
	t.appendBytes("ring", digest)
	t.appendUint("member", uint64(j))
	t.appendPoint("l1", l1)
	t.appendPoint("r1", r1)
	t.appendPoint("l2", l2)
	return t.challenge()
}

func checkRing(ring []RingMember) error {
	if len(ring) == 0 || len(ring) > MaxRingSize {
		return errors.Wrapf(ErrInvalidOwnershipProof, "ring of %d members", len(ring))
	}
	for i := range ring {
		if !ring[i].Owner.IsValid() || !ring[i].Commitment.IsValid() {
			return errors.Wrapf(ErrInvalidOwnershipProof, "ring member %d incomplete", i)
		}
	}
	return nil
}

// ProveOwnership signs message with the witness, hiding the true member
// among ring, and returns the proof with the key image it reveals.
func ProveOwnership(w OwnershipWitness, ring []RingMember, pseudo Commitment, message []byte) (OwnershipProof, KeyImage, error) {
	if err := checkRing(ring); err != nil {
		return OwnershipProof{}, KeyImage{}, err
	}
	if w.Secret == nil || w.BlindingDelta == nil {
		return OwnershipProof{}, KeyImage{}, errors.Wrap(ErrInvalidOwnershipProof, "incomplete witness")
	}

	pk := w.Secret.PublicKey()
	pos := -1
	for i := range ring {
		if ring[i].Reference == w.Reference && ring[i].Owner.Equal(pk) {
			pos = i
			break
		}
	}
	if pos < 0 {
		return OwnershipProof{}, KeyImage{}, errors.Wrapf(ErrUnknownOutputReference, "output %s", w.Reference.Short())
	}

	z := modOrder(w.BlindingDelta)
	if !ring[pos].Commitment.Sub(pseudo).Point.Equal(BlindingPoint().Mul(z)) {
		return OwnershipProof{}, KeyImage{}, errors.Wrap(ErrInvalidOwnershipProof, "pseudo commitment does not match spent output")
	}

	n := len(ring)
	bases := make([]Point, n)
	for i := range ring {
		bases[i] = keyImageBase(ring[i].Owner, ring[i].Reference)
	}
	image := bases[pos].Mul(w.Secret.x)
	ki := KeyImage(image.Bytes())
	digest := ringDigest(ring, pseudo, ki, message)

	alpha, err := RandomScalar()
	if err != nil {
		return OwnershipProof{}, KeyImage{}, err
	}
	beta, err := RandomScalar()
	if err != nil {
		return OwnershipProof{}, KeyImage{}, err
	}

	c := make([]*big.Int, n)
	s1 := make([]*big.Int, n)
	s2 := make([]*big.Int, n)

	next := (pos + 1) % n
	c[next] = ringStep(digest, pos, BasePoint().Mul(alpha), bases[pos].Mul(alpha), BlindingPoint().Mul(beta))
	for j := next; j != pos; j = (j + 1) % n {
		if s1[j], err = RandomScalar(); err != nil {
			return OwnershipProof{}, KeyImage{}, err
		}
		if s2[j], err = RandomScalar(); err != nil {
			return OwnershipProof{}, KeyImage{}, err
		}
		l1, r1, l2 := ringTerms(ring[j], bases[j], pseudo, image, c[j], s1[j], s2[j])
		c[(j+1)%n] = ringStep(digest, j, l1, r1, l2)
	}

	s1[pos] = modOrder(new(big.Int).Sub(alpha, new(big.Int).Mul(c[pos], w.Secret.x)))
	s2[pos] = modOrder(new(big.Int).Sub(beta, new(big.Int).Mul(c[pos], z)))
	return OwnershipProof{Challenge: c[0], KeyResponses: s1, BlindingResponses: s2}, ki, nil
}

// ringTerms computes s1*G + c*P, s1*Hp + c*I and s2*H + c*(C - C').
func ringTerms(m RingMember, base Point, pseudo Commitment, image Point, c, s1, s2 *big.Int) (Point, Point, Point) {
	l1 := BasePoint().Mul(s1).Add(m.Owner.Point.Mul(c))
	r1 := base.Mul(s1).Add(image.Mul(c))
	l2 := BlindingPoint().Mul(s2).Add(m.Commitment.Sub(pseudo).Point.Mul(c))
	return l1, r1, l2
}

// VerifyOwnership checks that proof was made by the owner of one ring
// member, that ki is that member's key image, and that pseudo commits to
// that member's amount.
func VerifyOwnership(ring []RingMember, pseudo Commitment, ki KeyImage, proof OwnershipProof, message []byte) error {
	if err := checkRing(ring); err != nil {
		return err
	}
	n := len(ring)
	if proof.Challenge == nil || len(proof.KeyResponses) != n || len(proof.BlindingResponses) != n {
		return errors.Wrap(ErrInvalidOwnershipProof, "proof does not match ring")
	}
	for j := 0; j < n; j++ {
		if proof.KeyResponses[j] == nil || proof.BlindingResponses[j] == nil {
			return errors.Wrap(ErrInvalidOwnershipProof, "incomplete proof")
		}
	}
	if !pseudo.IsValid() {
		return errors.Wrap(ErrInvalidOwnershipProof, "invalid pseudo commitment")
	}
	image, err := ki.Point()
	if err != nil {
		return errors.Wrap(ErrInvalidOwnershipProof, err.Error())
	}
	if image.IsIdentity() {
		return errors.Wrap(ErrInvalidOwnershipProof, "identity key image")
	}

	digest := ringDigest(ring, pseudo, ki, message)
	c := proof.Challenge
	for j := 0; j < n; j++ {
		base := keyImageBase(ring[j].Owner, ring[j].Reference)
		l1, r1, l2 := ringTerms(ring[j], base, pseudo, image, c, proof.KeyResponses[j], proof.BlindingResponses[j])
		c = ringStep(digest, j, l1, r1, l2)
	}
	if c.Cmp(proof.Challenge) != 0 {
		return ErrInvalidOwnershipProof
	}
	return nil
}

// Bytes encodes the proof as challenge || key responses || blinding
// responses.
func (p OwnershipProof) Bytes() []byte {
	out := make([]byte, 0, p.Size())
	e := ScalarBytes(p.Challenge)
	out = append(out, e[:]...)
	for _, s := range p.KeyResponses {
		b := ScalarBytes(s)
		out = append(out, b[:]...)
	}
	for _, s := range p.BlindingResponses {
		b := ScalarBytes(s)
		out = append(out, b[:]...)
	}
	return out
}

// OwnershipProofFromBytes decodes a proof for a ring of n members.
func OwnershipProofFromBytes(b []byte, n int) (OwnershipProof, error) {
	if n <= 0 || n > MaxRingSize || len(b) != ScalarSize*(1+2*n) {
		return OwnershipProof{}, errors.Wrapf(ErrInvalidOwnershipProof, "length %d for ring of %d", len(b), n)
	}
	scalars := make([]*big.Int, 1+2*n)
	for i := range scalars {
		s, err := ScalarFromBytes(b[i*ScalarSize : (i+1)*ScalarSize])
		if err != nil {
			return OwnershipProof{}, errors.Wrap(ErrInvalidOwnershipProof, err.Error())
		}
		scalars[i] = s
	}
	return OwnershipProof{
		Challenge:         scalars[0],
		KeyResponses:      scalars[1 : 1+n],
		BlindingResponses: scalars[1+n:],
	}, nil
}
