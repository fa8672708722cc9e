package client

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"Oraculum/internal/attest"
	"Oraculum/internal/record"
)

// Authority holds the signing keypair trusted by a registry's anchor and
// produces attestations entities can be updated with.
type Authority struct {
	privKey ed25519.PrivateKey // privKey is the Ed25519 signing key
	pubKey  ed25519.PublicKey  // pubKey is the Ed25519 public key
	engine  *attest.Engine     // engine fixes the signing scheme
}

// NewAuthority generates a fresh authority keypair for the given scheme.
func NewAuthority(scheme attest.Scheme) (*Authority, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair:\n%w", err)
	}

	return newAuthority(pub, priv, scheme)
}

// LoadAuthority builds an authority from an existing private key.
func LoadAuthority(privKey ed25519.PrivateKey, scheme attest.Scheme) (*Authority, error) {
	if len(privKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key length %d", len(privKey))
	}

	return newAuthority(privKey.Public().(ed25519.PublicKey), privKey, scheme)
}

func newAuthority(pub ed25519.PublicKey, priv ed25519.PrivateKey, scheme attest.Scheme) (*Authority, error) {
	engine, err := attest.NewEngine(scheme)
	if err != nil {
		return nil, fmt.Errorf("create engine:\n%w", err)
	}

	return &Authority{
		privKey: priv,
		pubKey:  pub,
		engine:  engine,
	}, nil
}

// PublicKey returns the authority public key as a fixed array, the form the
// trust anchor stores.
func (a *Authority) PublicKey() [record.KeySize]byte {
	var key [record.KeySize]byte
	copy(key[:], a.pubKey)
	return key
}

// Attest signs a value observation at a timestamp.
func (a *Authority) Attest(value uint64, timestamp int64) record.Attestation {
	return a.engine.SignRecord(a.privKey, value, timestamp)
}
