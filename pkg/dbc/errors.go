// Package dbc defines digital bearer certificates, reissue transactions and
// the mint attestations exchanged between clients, mints and coordinators.
package dbc

import "github.com/pkg/errors"

// DBC errors
var (
	ErrMalformedTransaction        = errors.New("malformed transaction")
	ErrDuplicateInputInTransaction = errors.New("duplicate input in transaction")
	ErrDuplicateOutputOwner        = errors.New("duplicate output owner in transaction")
	ErrUntrustedMintKey            = errors.New("untrusted mint key")
	ErrInvalidMintSignature        = errors.New("invalid mint signature")
	ErrSecretsMismatch             = errors.New("amount secrets do not open commitment")
	ErrOwnerMismatch               = errors.New("secret key does not own dbc")
	ErrInvalidSpentProof           = errors.New("invalid spent proof")
	ErrSpentCertificateMismatch    = errors.New("spent certificates do not match transaction")
	ErrInsufficientDecoys          = errors.New("insufficient decoys")
)
