package sessionkeys

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestCreateStartsFresh(t *testing.T) {
	key, err := Create("123456")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if !key.IsUnlocked() {
		t.Error("freshly created key should be unlocked")
	}
	if key.IsCached() {
		t.Error("fresh key should not have an unlock cache")
	}

	enc, err := key.EncryptedData()
	if err != nil {
		t.Fatalf("encrypted data: %v", err)
	}
	if enc.Version != Version {
		t.Errorf("version = %q", enc.Version)
	}

	pub, err := key.PublicKey()
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	if pub != enc.PublicKey {
		t.Error("public key disagrees with encrypted blob")
	}

	// FRESH signing requires no PIN.
	if _, err := key.Sign([]byte("msg"), ""); err != nil {
		t.Errorf("fresh sign: %v", err)
	}
}

func TestCreateRejectsBadPIN(t *testing.T) {
	if _, err := Create("12345"); err == nil {
		t.Error("5-digit PIN accepted")
	}
	var verr *ValidationError
	_, err := Create("abcdef")
	if !errors.As(err, &verr) {
		t.Errorf("err = %v, want ValidationError", err)
	}
}

func TestLockThenUnlock(t *testing.T) {
	key, err := Create("123456")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	fresh, err := key.GetKeypair("")
	if err != nil {
		t.Fatalf("get fresh keypair: %v", err)
	}

	key.Lock()
	if key.IsUnlocked() {
		t.Error("locked key reports unlocked")
	}
	if _, err := key.Sign([]byte("msg"), ""); !errors.Is(err, ErrNotUnlocked) {
		t.Errorf("sign after lock: err = %v, want ErrNotUnlocked", err)
	}

	unlocked, err := key.UnlockWithPIN("123456", time.Minute)
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if !bytes.Equal(unlocked.SecretKey(), fresh.SecretKey()) {
		t.Error("unlock recovered a different keypair")
	}
	if !key.IsCached() {
		t.Error("unlock did not cache the keypair")
	}

	// Cached signing needs no PIN.
	if _, err := key.Sign([]byte("msg"), ""); err != nil {
		t.Errorf("cached sign: %v", err)
	}
}

func TestUnlockWrongPIN(t *testing.T) {
	key, err := Create("123456")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	key.Lock()

	if _, err := key.UnlockWithPIN("000000", time.Minute); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("err = %v, want ErrDecryptionFailed", err)
	}
	if key.IsUnlocked() {
		t.Error("failed unlock left the key unlocked")
	}
}

func TestCacheExpiresLazily(t *testing.T) {
	key, err := Create("123456")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	key.Lock()

	if _, err := key.UnlockWithPIN("123456", 10*time.Millisecond); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	time.Sleep(25 * time.Millisecond)

	if key.IsCached() {
		t.Error("cache did not expire")
	}
	if _, err := key.Sign([]byte("msg"), ""); !errors.Is(err, ErrNotUnlocked) {
		t.Errorf("sign past expiry: err = %v, want ErrNotUnlocked", err)
	}

	// A PIN re-unlocks through GetKeypair.
	if _, err := key.Sign([]byte("msg"), "123456"); err != nil {
		t.Errorf("sign with PIN past expiry: %v", err)
	}
}

func TestZeroTTLExpiresImmediately(t *testing.T) {
	key, err := Create("123456")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	key.Lock()

	// A zero TTL is an expired cache: the returned keypair is usable,
	// but nothing survives for the next call.
	if _, err := key.UnlockWithPIN("123456", 0); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if key.IsCached() {
		t.Error("zero TTL unlock left a cached keypair")
	}
	if _, err := key.GetKeypair(""); !errors.Is(err, ErrNotUnlocked) {
		t.Errorf("get keypair after ttl=0 unlock: err = %v, want ErrNotUnlocked", err)
	}
}

func TestLockIdempotent(t *testing.T) {
	key, err := Create("123456")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	key.Lock()
	key.Lock()
	key.Lock()
	if key.IsUnlocked() {
		t.Error("key unlocked after repeated locks")
	}
}

func TestSessionKeyID(t *testing.T) {
	key, err := Create("123456")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if key.SessionKeyID() != "" {
		t.Error("id set before backend assignment")
	}
	key.SetSessionKeyID("sess-42")
	if key.SessionKeyID() != "sess-42" {
		t.Errorf("id = %q", key.SessionKeyID())
	}
}

func TestUninitializedKey(t *testing.T) {
	var key DeviceBoundSessionKey

	if _, err := key.EncryptedData(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("encrypted data: err = %v", err)
	}
	if _, err := key.PublicKey(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("public key: err = %v", err)
	}
	if _, err := key.UnlockWithPIN("123456", time.Minute); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("unlock: err = %v", err)
	}
}
