package sessionkeys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2 and AES-GCM parameters. Fixed: encrypt and decrypt must agree,
// and so must every other SDK that handles these blobs.
const (
	pbkdf2Iterations = 100_000
	derivedKeyLength = 32 // AES-256
	nonceLength      = 12 // 96-bit GCM nonce
)

// validatePIN enforces the storage format: exactly 6 ASCII digits.
func validatePIN(pin string) error {
	if len(pin) != 6 {
		return &ValidationError{Code: "invalid_pin", Message: "PIN must be exactly 6 numeric digits"}
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return &ValidationError{Code: "invalid_pin", Message: "PIN must be exactly 6 numeric digits"}
		}
	}
	return nil
}

// deriveKey derives the AES key from the PIN with PBKDF2-HMAC-SHA256.
// The salt is the SHA-256 of the device fingerprint, deterministic so the
// same (pin, fingerprint) pair always derives the same key without
// storing the salt.
func deriveKey(pin, deviceFingerprint string) []byte {
	salt := sha256.Sum256([]byte(deviceFingerprint))
	return pbkdf2.Key([]byte(pin), salt[:], pbkdf2Iterations, derivedKeyLength, sha256.New)
}

// Encrypt seals a keypair's secret under the PIN and device fingerprint.
// A fresh random nonce is generated per call, so re-encrypting the same
// key material never repeats a nonce under the derived key.
func Encrypt(kp *Keypair, pin, deviceFingerprint string) (*EncryptedKey, error) {
	if err := validatePIN(pin); err != nil {
		return nil, err
	}

	aead, err := newAEAD(pin, deviceFingerprint)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, kp.SecretKey(), nil)

	return &EncryptedKey{
		EncryptedData:     base64.StdEncoding.EncodeToString(ciphertext),
		Nonce:             base64.StdEncoding.EncodeToString(nonce),
		PublicKey:         kp.PublicKey,
		DeviceFingerprint: deviceFingerprint,
		Version:           Version,
	}, nil
}

// Decrypt opens an encrypted blob. The fingerprint equality check runs
// before any key derivation so callers can distinguish "wrong device"
// from "wrong PIN"; the GCM tag remains the actual security boundary.
// Wrong PIN and corrupted ciphertext both surface as ErrDecryptionFailed.
func Decrypt(enc *EncryptedKey, pin, deviceFingerprint string) (*Keypair, error) {
	if err := validatePIN(pin); err != nil {
		return nil, err
	}
	if enc.DeviceFingerprint != deviceFingerprint {
		return nil, ErrDeviceMismatch
	}

	ciphertext, err := base64.StdEncoding.DecodeString(enc.EncryptedData)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	nonce, err := base64.StdEncoding.DecodeString(enc.Nonce)
	if err != nil || len(nonce) != nonceLength {
		return nil, ErrDecryptionFailed
	}

	aead, err := newAEAD(pin, deviceFingerprint)
	if err != nil {
		return nil, err
	}

	secret, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return KeypairFromSecret(secret)
}

func newAEAD(pin, deviceFingerprint string) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(pin, deviceFingerprint))
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return aead, nil
}
