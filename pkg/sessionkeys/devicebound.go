package sessionkeys

import (
	"sync"
	"time"

	"github.com/zendfi/zendfi-go/internal/metrics"
	"github.com/zendfi/zendfi-go/pkg/devicefp"
)

// DefaultCacheTTL is how long an unlocked keypair stays cached when the
// caller does not choose a TTL.
const DefaultCacheTTL = 30 * time.Minute

// DeviceBoundSessionKey holds one session key's local state.
//
// Lifecycle: Create yields a FRESH instance that still holds the
// plaintext keypair, so the caller can transmit the encrypted blob and
// read the public key before calling Lock. After Lock the key is LOCKED
// and signing requires UnlockWithPIN, which caches the decrypted keypair
// until its TTL passes. Cache expiry is evaluated lazily on read; an
// expired cache behaves exactly like LOCKED.
//
// All methods are safe for concurrent use.
type DeviceBoundSessionKey struct {
	mu sync.Mutex

	keypair           *Keypair // plaintext, FRESH only
	encrypted         *EncryptedKey
	deviceFingerprint string
	sessionKeyID      string

	cached         *Keypair
	cacheExpiresAt time.Time
}

// Create generates a fresh keypair, derives the current device
// fingerprint, and encrypts immediately. The plaintext keypair is
// retained until Lock is called; the caller decides when the exposure
// window closes.
func Create(pin string) (*DeviceBoundSessionKey, error) {
	fp := devicefp.Generate(true)

	keypair, err := GenerateKeypair()
	if err != nil {
		return nil, err
	}

	encrypted, err := Encrypt(keypair, pin, fp.Fingerprint)
	if err != nil {
		return nil, err
	}

	return &DeviceBoundSessionKey{
		keypair:           keypair,
		encrypted:         encrypted,
		deviceFingerprint: fp.Fingerprint,
	}, nil
}

// fromEncrypted builds a LOCKED instance around a blob fetched from the
// backend. Used by Manager.Load.
func fromEncrypted(encrypted *EncryptedKey, deviceFingerprint, sessionKeyID string) *DeviceBoundSessionKey {
	return &DeviceBoundSessionKey{
		encrypted:         encrypted,
		deviceFingerprint: deviceFingerprint,
		sessionKeyID:      sessionKeyID,
	}
}

// EncryptedData returns the blob for backend storage.
func (k *DeviceBoundSessionKey) EncryptedData() (*EncryptedKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.encrypted == nil {
		return nil, ErrNotInitialized
	}
	return k.encrypted, nil
}

// DeviceFingerprint returns the fingerprint the key was bound to.
func (k *DeviceBoundSessionKey) DeviceFingerprint() (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.deviceFingerprint == "" {
		return "", ErrNotInitialized
	}
	return k.deviceFingerprint, nil
}

// PublicKey returns the session wallet's base58 public key.
func (k *DeviceBoundSessionKey) PublicKey() (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.keypair != nil {
		return k.keypair.PublicKey, nil
	}
	if k.encrypted != nil {
		return k.encrypted.PublicKey, nil
	}
	return "", ErrNotInitialized
}

// SetSessionKeyID records the backend-assigned id.
func (k *DeviceBoundSessionKey) SetSessionKeyID(id string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.sessionKeyID = id
}

// SessionKeyID returns the backend-assigned id, if set.
func (k *DeviceBoundSessionKey) SessionKeyID() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.sessionKeyID
}

// IsUnlocked reports whether a usable plaintext keypair is available,
// either the FRESH original or an unexpired unlock cache.
func (k *DeviceBoundSessionKey) IsUnlocked() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.keypair != nil || k.cachedLocked() != nil
}

// IsCached reports whether an unexpired unlock cache exists.
func (k *DeviceBoundSessionKey) IsCached() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.cachedLocked() != nil
}

// cachedLocked returns the cached keypair if present and unexpired.
// Caller holds k.mu.
func (k *DeviceBoundSessionKey) cachedLocked() *Keypair {
	if k.cached == nil || !time.Now().Before(k.cacheExpiresAt) {
		return nil
	}
	return k.cached
}

// UnlockWithPIN decrypts the keypair against the current device
// fingerprint (recomputed, not the stored one) and caches the plaintext
// for cacheTTL. The TTL is taken literally: zero or negative means the
// cache is already expired, so the returned keypair is good for this
// call only. A key loaded on the wrong machine fails here with
// ErrDeviceMismatch.
func (k *DeviceBoundSessionKey) UnlockWithPIN(pin string, cacheTTL time.Duration) (*Keypair, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.encrypted == nil {
		return nil, ErrNotInitialized
	}

	fp := devicefp.Generate(true)

	keypair, err := Decrypt(k.encrypted, pin, fp.Fingerprint)
	if err != nil {
		switch err {
		case ErrDeviceMismatch:
			metrics.SessionKeyUnlocks.WithLabelValues("device_mismatch").Inc()
		case ErrDecryptionFailed:
			metrics.SessionKeyUnlocks.WithLabelValues("bad_pin").Inc()
		}
		return nil, err
	}
	metrics.SessionKeyUnlocks.WithLabelValues("ok").Inc()

	k.cached = keypair
	k.cacheExpiresAt = time.Now().Add(cacheTTL)
	return keypair, nil
}

// Lock discards the FRESH plaintext and the unlock cache. Safe to call
// from any state.
func (k *DeviceBoundSessionKey) Lock() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keypair = nil
	k.cached = nil
	k.cacheExpiresAt = time.Time{}
}

// GetKeypair returns a keypair for signing: the FRESH plaintext if
// present, else the unexpired unlock cache, else a PIN-gated unlock. An
// empty pin with nothing cached fails with ErrNotUnlocked.
func (k *DeviceBoundSessionKey) GetKeypair(pin string) (*Keypair, error) {
	k.mu.Lock()
	if k.keypair != nil {
		kp := k.keypair
		k.mu.Unlock()
		return kp, nil
	}
	if kp := k.cachedLocked(); kp != nil {
		k.mu.Unlock()
		return kp, nil
	}
	k.mu.Unlock()

	if pin == "" {
		return nil, ErrNotUnlocked
	}
	return k.UnlockWithPIN(pin, DefaultCacheTTL)
}

// Sign signs a message, unlocking with pin if necessary.
func (k *DeviceBoundSessionKey) Sign(message []byte, pin string) ([]byte, error) {
	keypair, err := k.GetKeypair(pin)
	if err != nil {
		return nil, err
	}
	metrics.SignaturesTotal.WithLabelValues("message").Inc()
	return keypair.Sign(message), nil
}

// SignBase64 signs and base64-encodes the signature.
func (k *DeviceBoundSessionKey) SignBase64(message []byte, pin string) (string, error) {
	keypair, err := k.GetKeypair(pin)
	if err != nil {
		return "", err
	}
	metrics.SignaturesTotal.WithLabelValues("message").Inc()
	return keypair.SignBase64(message), nil
}
