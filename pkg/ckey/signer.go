// Package ckey manages Convex account key pairs: Ed25519 signing keys
// whose public half is the 32-byte cell.AccountKeyCell embedded directly
// in account and transaction records — a
// GenerateKey/FromPrivateKeyHex/Sign/Verify-shaped
// API, built on the standard library's crypto/ed25519 rather than
// secp256k1 since AccountKey's wire contract specifies a 32-byte Ed25519
// public key, not an Ethereum-style ECDSA address. This is the one
// signing primitive implemented directly on the standard library —
// documented in DESIGN.md.
package ckey

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"convex.dev/node/pkg/cell"
)

// Signer holds one Ed25519 key pair.
type Signer struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
}

// GenerateKey creates a new random Ed25519 key pair.
func GenerateKey() (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return &Signer{private: priv, public: pub}, nil
}

// FromPrivateKeyHex reconstructs a Signer from a hex-encoded 64-byte
// Ed25519 private key (seed + public half, as crypto/ed25519 stores it).
func FromPrivateKeyHex(hexKey string) (*Signer, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}
	priv := ed25519.PrivateKey(raw)
	pub := priv.Public().(ed25519.PublicKey)
	return &Signer{private: priv, public: pub}, nil
}

// AccountKey returns the public half as the 32-byte cell type embedded in
// account and transaction records.
func (s *Signer) AccountKey() cell.AccountKeyCell {
	var k cell.AccountKeyCell
	copy(k[:], s.public)
	return k
}

func (s *Signer) PrivateKeyHex() string { return hex.EncodeToString(s.private) }
func (s *Signer) PublicKeyHex() string  { return hex.EncodeToString(s.public) }

// Sign signs an arbitrary message (typically the canonical encoding of a
// cell payload, the "signed data" wire shape) and returns the 64-byte
// Ed25519 signature.
func (s *Signer) Sign(message []byte) []byte {
	return ed25519.Sign(s.private, message)
}

// Verify checks that signature over message was produced by key.
func Verify(key cell.AccountKeyCell, message, signature []byte) bool {
	if len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(key[:]), message, signature)
}
