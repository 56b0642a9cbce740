package zkp

import (
	"io"
	"math/big"

	"github.com/pkg/errors"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
)

// DerivationIndexSize is the size of an OwnerOnce derivation index.
const DerivationIndexSize = 32

// SecretKey is a spending key x.
type SecretKey struct {
	x *big.Int
}

// PublicKey is x*G.
type PublicKey struct {
	Point
}

// GenerateSecretKey returns a fresh random spending key.
func GenerateSecretKey() (*SecretKey, error) {
	x, err := RandomScalar()
	if err != nil {
		return nil, err
	}
	return &SecretKey{x: x}, nil
}

// SecretKeyFromBytes decodes a canonical non-zero scalar.
func SecretKeyFromBytes(b []byte) (*SecretKey, error) {
	x, err := ScalarFromBytes(b)
	if err != nil {
		return nil, err
	}
	if x.Sign() == 0 {
		return nil, errors.Wrap(ErrInvalidScalar, "zero secret key")
	}
	return &SecretKey{x: x}, nil
}

// Bytes returns the scalar encoding.
func (sk *SecretKey) Bytes() [ScalarSize]byte {
	return ScalarBytes(sk.x)
}

// PublicKey returns x*G.
func (sk *SecretKey) PublicKey() PublicKey {
	return PublicKey{Point: BasePoint().Mul(sk.x)}
}

// PublicKeyFromBytes decodes a public key, rejecting the identity.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	p, err := PointFromBytes(b)
	if err != nil {
		return PublicKey{}, err
	}
	if p.IsIdentity() {
		return PublicKey{}, errors.Wrap(ErrInvalidPoint, "identity public key")
	}
	return PublicKey{Point: p}, nil
}

// Equal reports whether both keys are the same.
func (pk PublicKey) Equal(o PublicKey) bool {
	return pk.Point.Equal(o.Point)
}

// derivationScalar maps (base public key, index) to Hs(index), bound to the
// base key so the same index yields unrelated keys for different owners.
func derivationScalar(base PublicKey, index [DerivationIndexSize]byte) *big.Int {
	pb := base.Bytes()
	r := hkdf.New(sha3.New256, index[:], pb[:], []byte("dbc/owner-once"))
	buf := make([]byte, 64)
	if _, err := io.ReadFull(r, buf); err != nil {
		panic(err)
	}
	return modOrder(new(big.Int).SetBytes(buf))
}

// DeriveOneTimePublicKey returns base + Hs(index)*G. Anyone holding the base
// public key can address a payment to it.
func DeriveOneTimePublicKey(base PublicKey, index [DerivationIndexSize]byte) PublicKey {
	d := derivationScalar(base, index)
	return PublicKey{Point: base.Point.Add(BasePoint().Mul(d))}
}

// DeriveOneTimeSecretKey returns x + Hs(index), the secret matching
// DeriveOneTimePublicKey(x*G, index).
func (sk *SecretKey) DeriveOneTimeSecretKey(index [DerivationIndexSize]byte) *SecretKey {
	d := derivationScalar(sk.PublicKey(), index)
	return &SecretKey{x: modOrder(new(big.Int).Add(sk.x, d))}
}
