package dbc

import (
	"sync"

	"github.com/ccoin/dbc/internal/bls"
)

// KeyManager decides which mint public keys are trusted.
type KeyManager interface {
	Trusts(pk bls.PublicKey) bool
	// VerifySignature returns ErrUntrustedMintKey or ErrInvalidMintSignature.
	VerifySignature(msg []byte, pk bls.PublicKey, sig bls.Signature) error
}

// SimpleKeyManager trusts a fixed set of aggregate mint keys.
type SimpleKeyManager struct {
	mu      sync.RWMutex
	trusted map[[bls.PublicKeySize]byte]struct{}
}

// NewSimpleKeyManager trusts keys.
func NewSimpleKeyManager(keys ...bls.PublicKey) *SimpleKeyManager {
	km := &SimpleKeyManager{trusted: make(map[[bls.PublicKeySize]byte]struct{})}
	for _, k := range keys {
		km.AddTrustedKey(k)
	}
	return km
}

// AddTrustedKey adds pk to the trusted set.
func (km *SimpleKeyManager) AddTrustedKey(pk bls.PublicKey) {
	km.mu.Lock()
	defer km.mu.Unlock()
	km.trusted[pk.Bytes()] = struct{}{}
}

// Trusts implements KeyManager
func (km *SimpleKeyManager) Trusts(pk bls.PublicKey) bool {
	km.mu.RLock()
	defer km.mu.RUnlock()
	_, ok := km.trusted[pk.Bytes()]
	return ok
}

// VerifySignature implements KeyManager
func (km *SimpleKeyManager) VerifySignature(msg []byte, pk bls.PublicKey, sig bls.Signature) error {
	if !km.Trusts(pk) {
		return ErrUntrustedMintKey
	}
	if !pk.Verify(msg, sig) {
		return ErrInvalidMintSignature
	}
	return nil
}
