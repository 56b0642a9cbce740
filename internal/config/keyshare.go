package config

import (
	"encoding/hex"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/ccoin/dbc/internal/bls"
)

// keyShareFile is the on-disk form of one mint's key share.
type keyShareFile struct {
	Index        int    `yaml:"index"`
	SecretShare  string `yaml:"secretShare"`
	PublicKeySet string `yaml:"publicKeySet"`
}

// SaveKeyShare writes a mint's key share and the group's public key set.
func SaveKeyShare(path string, share *bls.SecretKeyShare, pks *bls.PublicKeySet) error {
	sk := share.Bytes()
	raw, err := yaml.Marshal(&keyShareFile{
		Index:        share.Index(),
		SecretShare:  hex.EncodeToString(sk[:]),
		PublicKeySet: hex.EncodeToString(pks.Bytes()),
	})
	if err != nil {
		return errors.Wrap(err, "marshal key share")
	}
	return errors.Wrap(os.WriteFile(path, raw, 0o600), "write key share")
}

// LoadKeyShare reads a file written by SaveKeyShare and checks that the
// share matches the public key set.
func LoadKeyShare(path string) (*bls.SecretKeyShare, *bls.PublicKeySet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "read key share")
	}
	var f keyShareFile
	if err := yaml.UnmarshalStrict(raw, &f); err != nil {
		return nil, nil, errors.Wrap(err, "parse key share")
	}

	skBytes, err := hex.DecodeString(f.SecretShare)
	if err != nil {
		return nil, nil, errors.Wrap(err, "secret share")
	}
	share, err := bls.NewSecretKeyShare(f.Index, skBytes)
	if err != nil {
		return nil, nil, err
	}
	pksBytes, err := hex.DecodeString(f.PublicKeySet)
	if err != nil {
		return nil, nil, errors.Wrap(err, "public key set")
	}
	pks, err := bls.PublicKeySetFromBytes(pksBytes)
	if err != nil {
		return nil, nil, err
	}
	if !share.PublicKeyShare().Equal(pks.PublicKeyShare(share.Index())) {
		return nil, nil, errors.Wrapf(bls.ErrInvalidKeySet, "share %d does not match key set", share.Index())
	}
	return share, pks, nil
}

// LoadPublicKeySet reads only the public key set from a key share file.
// Clients use it to trust a mint group without holding a share.
func LoadPublicKeySet(path string) (*bls.PublicKeySet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read key share")
	}
	var f keyShareFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, errors.Wrap(err, "parse key share")
	}
	b, err := hex.DecodeString(f.PublicKeySet)
	if err != nil {
		return nil, errors.Wrap(err, "public key set")
	}
	return bls.PublicKeySetFromBytes(b)
}
