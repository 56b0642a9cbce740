package dbc

import (
	"math/big"

	"github.com/pkg/errors"

	"github.com/ccoin/dbc/internal/bls"
	"github.com/ccoin/dbc/internal/zkp"
	"github.com/ccoin/dbc/pkg/types"
)

// GenesisProvenance is the provenance of the genesis DBC, which has no
// creating transaction.
var GenesisProvenance = types.Sum("dbc/genesis")

// Content is the mint-signed part of a DBC.
type Content struct {
	OwnerPublicKey zkp.PublicKey
	Commitment     zkp.Commitment
	RangeProof     zkp.RangeProof
	// Provenance is the hash of the reissue transaction that created this
	// DBC; Index is its output position there.
	Provenance types.Hash
	Index      uint32
}

// Bytes returns the canonical encoding.
func (c *Content) Bytes() []byte {
	var e encoder
	e.content(c)
	return e.buf
}

// ID is the hash of the canonical content encoding.
func (c *Content) ID() types.Hash {
	return types.Sum("dbc/content", c.Bytes())
}

// IsGenesis reports whether the content was issued by genesis.
func (c *Content) IsGenesis() bool {
	return c.Provenance == GenesisProvenance
}

// DBC is a mint-signed bearer certificate.
type DBC struct {
	Content       Content
	MintPublicKey bls.PublicKey
	MintSignature bls.Signature
}

// ID is the content id; the signature is not part of it.
func (d *DBC) ID() types.Hash {
	return d.Content.ID()
}

// Verify checks the range proof and that the mint signature covers the exact
// content under a trusted key.
func (d *DBC) Verify(keys KeyManager, proofs *zkp.RangeProofs) error {
	id := d.ID()
	if err := keys.VerifySignature(id[:], d.MintPublicKey, d.MintSignature); err != nil {
		return errors.Wrapf(err, "dbc %s", id.Short())
	}
	if err := proofs.Verify(d.Content.Commitment, d.Content.RangeProof); err != nil {
		return errors.Wrapf(err, "dbc %s", id.Short())
	}
	return nil
}

// AmountSecrets opens a DBC commitment. Only the owner holds them.
type AmountSecrets struct {
	Amount   uint64
	Blinding *big.Int
}

// Opens reports whether s opens the DBC commitment.
func (d *DBC) Opens(s AmountSecrets) bool {
	return d.Content.Commitment.Opens(s.Amount, s.Blinding)
}

// Bundle is everything needed to spend a DBC: the certificate, the owner's
// one-time secret key and the amount secrets.
type Bundle struct {
	DBC         *DBC
	OwnerSecret *zkp.SecretKey
	Secrets     AmountSecrets
}

// NewBundle checks that owner and secrets match d.
func NewBundle(d *DBC, owner *zkp.SecretKey, secrets AmountSecrets) (*Bundle, error) {
	if d == nil || owner == nil {
		return nil, errors.New("nil dbc or owner")
	}
	if !owner.PublicKey().Equal(d.Content.OwnerPublicKey) {
		return nil, ErrOwnerMismatch
	}
	if !d.Opens(secrets) {
		return nil, ErrSecretsMismatch
	}
	return &Bundle{DBC: d, OwnerSecret: owner, Secrets: secrets}, nil
}

// KeyImage returns the key image spending this bundle will reveal.
func (b *Bundle) KeyImage() zkp.KeyImage {
	return zkp.DeriveKeyImage(b.OwnerSecret, b.DBC.ID())
}
