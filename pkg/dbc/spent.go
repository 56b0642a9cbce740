package dbc

import (
	"github.com/pkg/errors"

	"github.com/ccoin/dbc/internal/bls"
	"github.com/ccoin/dbc/internal/zkp"
	"github.com/ccoin/dbc/pkg/types"
)

// SpentProofContent is what a mint attests when it logs a key image.
type SpentProofContent struct {
	KeyImage        zkp.KeyImage
	TransactionHash types.Hash
	InputCommitment zkp.Commitment
}

// Hash is the signed message.
func (c *SpentProofContent) Hash() types.Hash {
	var e encoder
	e.spentContent(c)
	return types.Sum("dbc/spent-proof", e.buf)
}

// SpentProof is one mint's signature share over a SpentProofContent.
type SpentProof struct {
	Content SpentProofContent
	Share   bls.SignatureShare
}

// MintIndex is the index of the attesting mint.
func (p *SpentProof) MintIndex() int {
	return p.Share.Index
}

// Verify checks the share against the mint's public key share.
func (p *SpentProof) Verify(pks *bls.PublicKeySet) error {
	h := p.Content.Hash()
	if !pks.VerifyShare(h[:], p.Share) {
		return errors.Wrapf(ErrInvalidSpentProof, "mint %d", p.Share.Index)
	}
	return nil
}

// SpentCertificate is a threshold signature over a SpentProofContent,
// combined from a quorum of SpentProofs.
type SpentCertificate struct {
	Content       SpentProofContent
	MintPublicKey bls.PublicKey
	Signature     bls.Signature
}

// CombineSpentProofs interpolates a certificate from proofs that share the
// same content.
func CombineSpentProofs(pks *bls.PublicKeySet, proofs []*SpentProof) (*SpentCertificate, error) {
	if len(proofs) == 0 {
		return nil, errors.Wrap(ErrInvalidSpentProof, "no proofs")
	}
	content := proofs[0].Content
	shares := make([]bls.SignatureShare, 0, len(proofs))
	for _, p := range proofs {
		if p.Content != content {
			return nil, errors.Wrap(ErrInvalidSpentProof, "proofs attest different content")
		}
		shares = append(shares, p.Share)
	}
	sig, err := pks.Combine(shares)
	if err != nil {
		return nil, err
	}
	cert := &SpentCertificate{Content: content, MintPublicKey: pks.PublicKey(), Signature: sig}
	h := content.Hash()
	if !cert.MintPublicKey.Verify(h[:], sig) {
		return nil, errors.Wrap(ErrInvalidSpentProof, "combined signature does not verify")
	}
	return cert, nil
}

// Verify checks the certificate under a trusted mint key.
func (c *SpentCertificate) Verify(keys KeyManager) error {
	h := c.Content.Hash()
	return keys.VerifySignature(h[:], c.MintPublicKey, c.Signature)
}

// ReissueShare is one mint's answer to a reissue or genesis request.
type ReissueShare struct {
	MintIndex       int
	PublicKeySet    *bls.PublicKeySet
	TransactionHash types.Hash
	OutputsDigest   types.Hash
	// OutputShares[i] signs the id of output content i.
	OutputShares []bls.SignatureShare
	// SpentProofs[i] attests input i; empty for genesis.
	SpentProofs []*SpentProof
}

// GenesisRequest asks a mint to sign the genesis DBC. The amount secrets
// let the mint check the commitment opens to the configured supply.
type GenesisRequest struct {
	Content Content
	Secrets AmountSecrets
}

// GenesisMaterial is the issuer's private view of a genesis DBC.
type GenesisMaterial struct {
	OwnerSecret *zkp.SecretKey
	Secrets     AmountSecrets
	Content     Content
}

// NewGenesisMaterial creates the genesis content for amount, owned by a
// fresh key.
func NewGenesisMaterial(amount uint64, proofs *zkp.RangeProofs) (*GenesisMaterial, error) {
	owner, err := zkp.GenerateSecretKey()
	if err != nil {
		return nil, err
	}
	commitment, blinding, err := zkp.NewRandomCommitment(amount)
	if err != nil {
		return nil, err
	}
	rp, err := proofs.Prove(amount, blinding)
	if err != nil {
		return nil, err
	}
	return &GenesisMaterial{
		OwnerSecret: owner,
		Secrets:     AmountSecrets{Amount: amount, Blinding: blinding},
		Content: Content{
			OwnerPublicKey: owner.PublicKey(),
			Commitment:     commitment,
			RangeProof:     rp,
			Provenance:     GenesisProvenance,
			Index:          0,
		},
	}, nil
}

// Request returns the request sent to mints.
func (g *GenesisMaterial) Request() *GenesisRequest {
	return &GenesisRequest{Content: g.Content, Secrets: g.Secrets}
}

// Bundle pairs the signed genesis DBC with its secrets.
func (g *GenesisMaterial) Bundle(d *DBC) (*Bundle, error) {
	return NewBundle(d, g.OwnerSecret, g.Secrets)
}
