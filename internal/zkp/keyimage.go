package zkp

import (
	"encoding/hex"

	"github.com/pkg/errors"

	"github.com/ccoin/dbc/pkg/types"
)

// KeyImage is the compressed encoding of x*Hp(x*G, ref), where ref is the id
// of the output being spent. Every spend of one output yields the same
// image, while two outputs paid to the same key yield different ones.
type KeyImage [PointSize]byte

// DeriveKeyImage computes I = x*Hp(P, ref) for P = x*G.
func DeriveKeyImage(sk *SecretKey, ref types.Hash) KeyImage {
	return KeyImage(keyImageBase(sk.PublicKey(), ref).Mul(sk.x).Bytes())
}

// keyImageBase is Hp(P, ref).
func keyImageBase(pk PublicKey, ref types.Hash) Point {
	pb := pk.Bytes()
	return hashToPoint("dbc/key-image", append(pb[:], ref[:]...))
}

// MarkerKeyImage returns a reserved key image that no spending key can
// produce in practice, used to record one-off events such as genesis.
func MarkerKeyImage(tag string) KeyImage {
	return KeyImage(hashToPoint("dbc/marker", []byte(tag)).Bytes())
}

// KeyImageFromBytes decodes and validates a key image.
func KeyImageFromBytes(b []byte) (KeyImage, error) {
	var ki KeyImage
	p, err := PointFromBytes(b)
	if err != nil {
		return ki, err
	}
	if p.IsIdentity() {
		return ki, errors.Wrap(ErrInvalidPoint, "identity key image")
	}
	copy(ki[:], b)
	return ki, nil
}

// Point decodes the key image.
func (ki KeyImage) Point() (Point, error) {
	return PointFromBytes(ki[:])
}

// String returns the hex encoding.
func (ki KeyImage) String() string {
	return hex.EncodeToString(ki[:])
}

// Short returns an abbreviated hex form for logs.
func (ki KeyImage) Short() string {
	return hex.EncodeToString(ki[:4])
}
