// Package sessionkeys implements device-bound, non-custodial session keys.
//
// The keypair is generated client-side and encrypted with a PIN plus a
// device fingerprint before anything leaves the process. The backend only
// ever stores the encrypted blob; it cannot decrypt it. Decryption for
// signing happens locally, gated by the PIN and the same device.
package sessionkeys

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Version identifies the encryption scheme of an EncryptedKey blob.
const Version = "pbkdf2-aes256gcm-v1"

// RequestFunc is the transport boundary. Implementations perform one
// backend request and return the raw JSON response body. pkg/zendfi
// provides the production implementation.
type RequestFunc func(ctx context.Context, method, path string, body any) (json.RawMessage, error)

var (
	// ErrInvalidKeyLength is returned when a secret key is not the
	// 64-byte seed-plus-public Solana format.
	ErrInvalidKeyLength = errors.New("secret key must be 64 bytes")

	// ErrDeviceMismatch means the encrypted blob was bound to a
	// different device fingerprint. This is wrong device, not wrong PIN.
	ErrDeviceMismatch = errors.New("device fingerprint mismatch: wrong device")

	// ErrDecryptionFailed covers both a wrong PIN and corrupted
	// ciphertext. The GCM tag cannot tell the two apart.
	ErrDecryptionFailed = errors.New("decryption failed: wrong PIN or corrupted data")

	// ErrNotInitialized means the DeviceBoundSessionKey has no key
	// material yet. Call Create or install an encrypted blob first.
	ErrNotInitialized = errors.New("session key not initialized")

	// ErrNotLoaded means the session key id is not in the manager's
	// registry. Call Create or Load first.
	ErrNotLoaded = errors.New("session key not loaded")

	// ErrNotUnlocked means no plaintext keypair is available and no PIN
	// was supplied to decrypt one.
	ErrNotUnlocked = errors.New("session key not unlocked: provide a PIN or call Unlock first")
)

// ValidationError reports a locally detectable problem with caller input.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ConflictError is returned by Manager.Create when the backend already
// holds a session key for the requested agent id. The locally generated
// keypair does not match the existing session wallet and can never sign
// for it, so it is discarded rather than stored.
type ConflictError struct {
	AgentID       string
	SessionKeyID  string
	BackendWallet string
	LocalWallet   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf(
		"session key already exists for agent %q (session %s): backend wallet %s does not match locally generated %s; load the existing session with its PIN or use a different agent id",
		e.AgentID, e.SessionKeyID, e.BackendWallet, e.LocalWallet,
	)
}

// EncryptedKey is the encrypted session key blob stored on the backend.
type EncryptedKey struct {
	EncryptedData     string `json:"encrypted_data"` // base64, GCM tag appended
	Nonce             string `json:"nonce"`          // base64, 12 bytes
	PublicKey         string `json:"public_key"`     // base58
	DeviceFingerprint string `json:"device_fingerprint"`
	Version           string `json:"version"`
}

// CreateOptions configures Manager.Create.
type CreateOptions struct {
	UserWallet         string
	AgentID            string
	AgentName          string
	LimitUSDC          float64
	DurationDays       int // defaults to 7
	PIN                string
	GenerateRecoveryQR bool

	// EnableLit requests Lit Protocol threshold encryption of the
	// keypair so the backend can sign while this client is offline.
	// Best effort: failure degrades to client-present signing.
	EnableLit bool
}

// Result is the outcome of creating a session key.
type Result struct {
	SessionKeyID       string  `json:"session_key_id"`
	AgentID            string  `json:"agent_id"`
	SessionWallet      string  `json:"session_wallet"`
	LimitUSDC          float64 `json:"limit_usdc"`
	ExpiresAt          string  `json:"expires_at"`
	CrossAppCompatible bool    `json:"cross_app_compatible"`
	AgentName          string  `json:"agent_name,omitempty"`
	RecoveryQR         string  `json:"recovery_qr,omitempty"`
}

// Info is the backend's view of a session key's current status.
type Info struct {
	SessionKeyID    string  `json:"session_key_id"`
	IsActive        bool    `json:"is_active"`
	IsApproved      bool    `json:"is_approved"`
	LimitUSDC       float64 `json:"limit_usdc"`
	UsedAmountUSDC  float64 `json:"used_amount_usdc"`
	RemainingUSDC   float64 `json:"remaining_usdc"`
	ExpiresAt       string  `json:"expires_at"`
	DaysUntilExpiry int     `json:"days_until_expiry"`
}

// PaymentResult is the outcome of a backend-signed payment.
type PaymentResult struct {
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
	Status    string `json:"status"`
}
