package mint

import (
	"github.com/pkg/errors"

	"github.com/ccoin/dbc/internal/bls"
)

// MintAuthority is the signing identity of one mint.
type MintAuthority interface {
	// Index is this mint's share index in the key set.
	Index() int
	PublicKeySet() *bls.PublicKeySet
	SignShare(msg []byte) bls.SignatureShare
}

// SimpleAuthority is a single-key mint: a key set with threshold one, so
// its share signature is already the full signature.
type SimpleAuthority struct {
	share *bls.SecretKeyShare
	pks   *bls.PublicKeySet
}

// NewSimpleAuthority generates a fresh single-key authority.
func NewSimpleAuthority() (*SimpleAuthority, error) {
	set, err := bls.NewSecretKeySet(1)
	if err != nil {
		return nil, err
	}
	share, err := set.SecretKeyShare(0)
	if err != nil {
		return nil, err
	}
	return &SimpleAuthority{share: share, pks: set.PublicKeySet()}, nil
}

// Index implements MintAuthority
func (a *SimpleAuthority) Index() int { return 0 }

// PublicKeySet implements MintAuthority
func (a *SimpleAuthority) PublicKeySet() *bls.PublicKeySet { return a.pks }

// SignShare implements MintAuthority
func (a *SimpleAuthority) SignShare(msg []byte) bls.SignatureShare { return a.share.Sign(msg) }

// ShareAuthority holds one share of a threshold key set.
type ShareAuthority struct {
	share *bls.SecretKeyShare
	pks   *bls.PublicKeySet
}

// NewShareAuthority checks that share belongs to pks.
func NewShareAuthority(share *bls.SecretKeyShare, pks *bls.PublicKeySet) (*ShareAuthority, error) {
	if share == nil || pks == nil {
		return nil, errors.New("nil key share or public key set")
	}
	if !share.PublicKeyShare().Equal(pks.PublicKeyShare(share.Index())) {
		return nil, errors.Errorf("key share %d does not belong to public key set", share.Index())
	}
	return &ShareAuthority{share: share, pks: pks}, nil
}

// Index implements MintAuthority
func (a *ShareAuthority) Index() int { return a.share.Index() }

// PublicKeySet implements MintAuthority
func (a *ShareAuthority) PublicKeySet() *bls.PublicKeySet { return a.pks }

// SignShare implements MintAuthority
func (a *ShareAuthority) SignShare(msg []byte) bls.SignatureShare { return a.share.Sign(msg) }
