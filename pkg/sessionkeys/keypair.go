package sessionkeys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/zendfi/zendfi-go/pkg/base58"
)

// Keypair is an Ed25519 keypair in the 64-byte Solana secret format:
// 32-byte seed followed by the 32-byte public key.
type Keypair struct {
	// PublicKey is the base58-encoded public half, also the session
	// wallet address.
	PublicKey string

	priv ed25519.PrivateKey
}

// GenerateKeypair creates a fresh Ed25519 keypair.
func GenerateKeypair() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &Keypair{
		PublicKey: base58.Encode(pub),
		priv:      priv,
	}, nil
}

// KeypairFromSecret reconstructs a keypair from a 64-byte secret. The
// public key is recomputed from the seed half, so a secret whose trailing
// 32 bytes disagree with the seed still yields a usable, consistent
// keypair.
func KeypairFromSecret(secret []byte) (*Keypair, error) {
	if len(secret) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidKeyLength, len(secret))
	}
	priv := ed25519.NewKeyFromSeed(secret[:ed25519.SeedSize])
	return &Keypair{
		PublicKey: base58.Encode(priv.Public().(ed25519.PublicKey)),
		priv:      priv,
	}, nil
}

// SecretKey returns a copy of the 64-byte secret (seed followed by
// public key).
func (kp *Keypair) SecretKey() []byte {
	out := make([]byte, len(kp.priv))
	copy(out, kp.priv)
	return out
}

// Sign produces a 64-byte Ed25519 signature. Deterministic for a given
// (seed, message) pair.
func (kp *Keypair) Sign(message []byte) []byte {
	return ed25519.Sign(kp.priv, message)
}

// SignBase64 signs and base64-encodes the signature.
func (kp *Keypair) SignBase64(message []byte) string {
	return base64.StdEncoding.EncodeToString(kp.Sign(message))
}
