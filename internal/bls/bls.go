// Package bls implements BLS signatures on the BN254 pairing with Feldman
// threshold key sets. Signatures live in G1 and public keys in G2.
package bls

import (
	"encoding/hex"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/pkg/errors"
)

// Encoded sizes
const (
	SecretKeySize = fr.Bytes
	PublicKeySize = bn254.SizeOfG2AffineCompressed
	SignatureSize = bn254.SizeOfG1AffineCompressed
)

// BLS errors
var (
	ErrInvalidPublicKey = errors.New("invalid bls public key")
	ErrInvalidSignature = errors.New("invalid bls signature")
	ErrInvalidSecretKey = errors.New("invalid bls secret key")
)

var signatureDST = []byte("DBC-MINT-V1-BN254G1_XMD:SHA-256_SVDW_RO_")

var g2Gen bn254.G2Affine

func init() {
	_, _, _, g2Gen = bn254.Generators()
}

// SecretKey is a scalar s.
type SecretKey struct {
	s fr.Element
}

// PublicKey is s*G2.
type PublicKey struct {
	p bn254.G2Affine
}

// Signature is s*H(m) in G1.
type Signature struct {
	p bn254.G1Affine
}

// GenerateSecretKey returns a random non-zero key.
func GenerateSecretKey() (*SecretKey, error) {
	var sk SecretKey
	for sk.s.IsZero() {
		if _, err := sk.s.SetRandom(); err != nil {
			return nil, err
		}
	}
	return &sk, nil
}

// SecretKeyFromBytes decodes a canonical big-endian scalar.
func SecretKeyFromBytes(b []byte) (*SecretKey, error) {
	s, err := scalarFromBytes(b)
	if err != nil {
		return nil, err
	}
	if s.IsZero() {
		return nil, errors.Wrap(ErrInvalidSecretKey, "zero")
	}
	return &SecretKey{s: s}, nil
}

func scalarFromBytes(b []byte) (fr.Element, error) {
	var s fr.Element
	if len(b) != SecretKeySize {
		return s, errors.Wrapf(ErrInvalidSecretKey, "length %d", len(b))
	}
	if new(big.Int).SetBytes(b).Cmp(fr.Modulus()) >= 0 {
		return s, errors.Wrap(ErrInvalidSecretKey, "not reduced")
	}
	s.SetBytes(b)
	return s, nil
}

// Bytes returns the big-endian scalar.
func (sk *SecretKey) Bytes() [SecretKeySize]byte {
	return sk.s.Bytes()
}

// PublicKey returns s*G2.
func (sk *SecretKey) PublicKey() PublicKey {
	return PublicKey{p: g2Mul(&g2Gen, &sk.s)}
}

// Sign returns s*H(msg).
func (sk *SecretKey) Sign(msg []byte) Signature {
	return sign(&sk.s, msg)
}

func sign(s *fr.Element, msg []byte) Signature {
	h := hashToG1(msg)
	var sig Signature
	sig.p.ScalarMultiplication(&h, s.BigInt(new(big.Int)))
	return sig
}

func hashToG1(msg []byte) bn254.G1Affine {
	h, err := bn254.HashToG1(msg, signatureDST)
	if err != nil {
		// HashToG1 only fails on an oversized DST.
		panic(err)
	}
	return h
}

func g2Mul(p *bn254.G2Affine, s *fr.Element) bn254.G2Affine {
	var out bn254.G2Affine
	out.ScalarMultiplication(p, s.BigInt(new(big.Int)))
	return out
}

// Verify checks e(sig, G2) == e(H(msg), pk).
func (pk PublicKey) Verify(msg []byte, sig Signature) bool {
	if pk.p.IsInfinity() || sig.p.IsInfinity() {
		return false
	}
	h := hashToG1(msg)
	var negH bn254.G1Affine
	negH.Neg(&h)

	ok, err := bn254.PairingCheck(
		[]bn254.G1Affine{sig.p, negH},
		[]bn254.G2Affine{g2Gen, pk.p},
	)
	return err == nil && ok
}

// Equal reports whether both keys are the same.
func (pk PublicKey) Equal(o PublicKey) bool {
	return pk.p.Equal(&o.p)
}

// Bytes returns the compressed G2 encoding.
func (pk PublicKey) Bytes() [PublicKeySize]byte {
	return pk.p.Bytes()
}

// String returns the hex encoding.
func (pk PublicKey) String() string {
	b := pk.Bytes()
	return hex.EncodeToString(b[:])
}

// PublicKeyFromBytes decodes a compressed G2 point. SetBytes performs the
// subgroup check.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	var pk PublicKey
	if len(b) != PublicKeySize {
		return pk, errors.Wrapf(ErrInvalidPublicKey, "length %d", len(b))
	}
	if _, err := pk.p.SetBytes(b); err != nil {
		return pk, errors.Wrap(ErrInvalidPublicKey, err.Error())
	}
	if pk.p.IsInfinity() {
		return pk, errors.Wrap(ErrInvalidPublicKey, "infinity")
	}
	return pk, nil
}

// Bytes returns the compressed G1 encoding.
func (sig Signature) Bytes() [SignatureSize]byte {
	return sig.p.Bytes()
}

// Equal reports whether both signatures are the same.
func (sig Signature) Equal(o Signature) bool {
	return sig.p.Equal(&o.p)
}

// SignatureFromBytes decodes a compressed G1 point.
func SignatureFromBytes(b []byte) (Signature, error) {
	var sig Signature
	if len(b) != SignatureSize {
		return sig, errors.Wrapf(ErrInvalidSignature, "length %d", len(b))
	}
	if _, err := sig.p.SetBytes(b); err != nil {
		return sig, errors.Wrap(ErrInvalidSignature, err.Error())
	}
	if sig.p.IsInfinity() {
		return sig, errors.Wrap(ErrInvalidSignature, "infinity")
	}
	return sig, nil
}
