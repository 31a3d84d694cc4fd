package sessionkeys

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zendfi/zendfi-go/internal/logging"
	"github.com/zendfi/zendfi-go/internal/metrics"
	"github.com/zendfi/zendfi-go/internal/syncutil"
	"github.com/zendfi/zendfi-go/pkg/autonomy"
	"github.com/zendfi/zendfi-go/pkg/devicefp"
	"github.com/zendfi/zendfi-go/pkg/lit"
)

// DefaultDurationDays is the session key lifetime when CreateOptions
// leaves DurationDays unset.
const DefaultDurationDays = 7

type sessionMeta struct {
	AgentID    string
	AgentName  string
	UserWallet string
}

// Manager is a registry of device-bound session keys backed by the
// backend API. Registry reads take a shared lock; operations that mutate
// one session's backend state additionally serialize per session key id
// so concurrent callers on different sessions never contend.
type Manager struct {
	request   RequestFunc
	logger    *slog.Logger
	encryptor lit.ThresholdEncryptor

	mu   sync.RWMutex
	keys map[string]*DeviceBoundSessionKey
	meta map[string]sessionMeta

	ids syncutil.ShardedMutex
}

// NewManager returns a Manager bound to the given transport. A nil
// logger disables logging; a nil encryptor disables Lit Protocol
// threshold encryption.
func NewManager(request RequestFunc, logger *slog.Logger, encryptor lit.ThresholdEncryptor) *Manager {
	if logger == nil {
		logger = logging.Discard()
	}
	if encryptor == nil {
		encryptor = lit.Disabled
	}
	return &Manager{
		request:   request,
		logger:    logger,
		encryptor: encryptor,
		keys:      make(map[string]*DeviceBoundSessionKey),
		meta:      make(map[string]sessionMeta),
	}
}

// Create generates a device-bound session key and registers it with the
// backend. The plaintext private key never leaves this process; only the
// encrypted blob and the public key are transmitted.
//
// If the backend responds with a session wallet that differs from the
// locally generated public key, an existing session already owns this
// agent id. The local keypair could never sign for it, so Create refuses
// to store it and returns a *ConflictError.
func (m *Manager) Create(ctx context.Context, opts *CreateOptions) (*Result, error) {
	// Plausibility check only. The strict 6-digit format is enforced by
	// the crypto layer; rejecting obviously short PINs here avoids
	// wasted key generation.
	if len(opts.PIN) < 4 {
		return nil, &ValidationError{Code: "invalid_pin", Message: "PIN must be at least 4 characters"}
	}

	durationDays := opts.DurationDays
	if durationDays == 0 {
		durationDays = DefaultDurationDays
	}

	m.logger.Debug("creating session key", "agent_id", opts.AgentID, "limit_usdc", opts.LimitUSDC)

	key, err := Create(opts.PIN)
	if err != nil {
		return nil, err
	}
	encrypted, err := key.EncryptedData()
	if err != nil {
		return nil, err
	}
	fingerprint, err := key.DeviceFingerprint()
	if err != nil {
		return nil, err
	}

	// Lit encryption is best effort. Without it the key still works,
	// signing just requires this client to be online.
	var litResult *lit.EncryptionResult
	if opts.EnableLit {
		keypair, err := key.GetKeypair("")
		if err == nil {
			litResult, err = m.encryptor.Encrypt(ctx, keypair.SecretKey())
		}
		if err != nil {
			m.logger.Warn("lit encryption unavailable, falling back to client signing", "error", err)
			litResult = nil
		}
	}

	var recoveryQR string
	if opts.GenerateRecoveryQR {
		recoveryQR = base64.StdEncoding.EncodeToString(
			[]byte(encrypted.PublicKey + ":" + encrypted.Nonce))
	}

	agentName := opts.AgentName
	if agentName == "" {
		agentName = fmt.Sprintf("ZendFi Agent (%s)", opts.AgentID)
	}

	body := map[string]any{
		"user_wallet":           opts.UserWallet,
		"agent_id":              opts.AgentID,
		"agent_name":            agentName,
		"limit_usdc":            opts.LimitUSDC,
		"duration_days":         durationDays,
		"encrypted_session_key": encrypted.EncryptedData,
		"nonce":                 encrypted.Nonce,
		"session_public_key":    encrypted.PublicKey,
		"device_fingerprint":    fingerprint,
	}
	if recoveryQR != "" {
		body["recovery_qr_data"] = recoveryQR
	}
	if litResult != nil {
		body["lit_encrypted_keypair"] = litResult.Ciphertext
		body["lit_data_hash"] = litResult.DataHash
	}

	raw, err := m.request(ctx, "POST", "/api/v1/ai/session-keys/device-bound/create", body)
	if err != nil {
		return nil, fmt.Errorf("create session key: %w", err)
	}

	var resp struct {
		SessionKeyID       string   `json:"session_key_id"`
		SessionWallet      string   `json:"session_wallet"`
		AgentID            string   `json:"agent_id"`
		AgentName          string   `json:"agent_name"`
		LimitUSDC          *float64 `json:"limit_usdc"`
		ExpiresAt          string   `json:"expires_at"`
		CrossAppCompatible *bool    `json:"cross_app_compatible"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode create response: %w", err)
	}

	if resp.SessionWallet != "" && resp.SessionWallet != encrypted.PublicKey {
		return nil, discardConflicting(key, opts.AgentID, resp.SessionKeyID, resp.SessionWallet)
	}

	key.SetSessionKeyID(resp.SessionKeyID)

	m.mu.Lock()
	m.keys[resp.SessionKeyID] = key
	m.meta[resp.SessionKeyID] = sessionMeta{
		AgentID:    resp.AgentID,
		AgentName:  resp.AgentName,
		UserWallet: opts.UserWallet,
	}
	m.mu.Unlock()

	m.logger.Info("session key created", "session_key_id", resp.SessionKeyID, "agent_id", opts.AgentID)

	result := &Result{
		SessionKeyID:       resp.SessionKeyID,
		AgentID:            opts.AgentID,
		SessionWallet:      encrypted.PublicKey,
		LimitUSDC:          opts.LimitUSDC,
		ExpiresAt:          resp.ExpiresAt,
		CrossAppCompatible: true,
		AgentName:          resp.AgentName,
		RecoveryQR:         recoveryQR,
	}
	if resp.AgentID != "" {
		result.AgentID = resp.AgentID
	}
	if resp.SessionWallet != "" {
		result.SessionWallet = resp.SessionWallet
	}
	if resp.LimitUSDC != nil {
		result.LimitUSDC = *resp.LimitUSDC
	}
	if resp.CrossAppCompatible != nil {
		result.CrossAppCompatible = *resp.CrossAppCompatible
	}
	return result, nil
}

// discardConflicting handles a create collision: the backend already
// holds a session for this agent under a different wallet. The orphaned
// local keypair can never sign for that session, so its plaintext is
// zeroed immediately rather than left for GC.
func discardConflicting(key *DeviceBoundSessionKey, agentID, sessionKeyID, backendWallet string) error {
	localWallet, _ := key.PublicKey()
	key.Lock()
	return &ConflictError{
		AgentID:       agentID,
		SessionKeyID:  sessionKeyID,
		BackendWallet: backendWallet,
		LocalWallet:   localWallet,
	}
}

// Load fetches the encrypted blob for an existing backend session and
// decrypts it locally, proving the PIN is correct before the key enters
// the registry. Fails with ErrDeviceMismatch if the backend reports this
// device does not match the one bound at creation.
func (m *Manager) Load(ctx context.Context, sessionKeyID, pin string) error {
	unlock := m.ids.Lock(sessionKeyID)
	defer unlock()

	m.logger.Debug("loading session key", "session_key_id", sessionKeyID)

	fp := devicefp.Generate(true).Fingerprint

	raw, err := m.request(ctx, "POST", "/api/v1/ai/session-keys/device-bound/get-encrypted", map[string]any{
		"session_key_id":     sessionKeyID,
		"device_fingerprint": fp,
	})
	if err != nil {
		return fmt.Errorf("fetch encrypted session key: %w", err)
	}

	var resp struct {
		EncryptedSessionKey    string `json:"encrypted_session_key"`
		Nonce                  string `json:"nonce"`
		DeviceFingerprintValid *bool  `json:"device_fingerprint_valid"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("decode get-encrypted response: %w", err)
	}
	if resp.DeviceFingerprintValid != nil && !*resp.DeviceFingerprintValid {
		return ErrDeviceMismatch
	}

	encrypted := &EncryptedKey{
		EncryptedData:     resp.EncryptedSessionKey,
		Nonce:             resp.Nonce,
		DeviceFingerprint: fp,
		Version:           Version,
	}

	// Decrypt once to verify the PIN and recover the public key. The
	// plaintext is discarded; the stored instance starts LOCKED.
	keypair, err := Decrypt(encrypted, pin, fp)
	if err != nil {
		return err
	}
	encrypted.PublicKey = keypair.PublicKey

	m.mu.Lock()
	m.keys[sessionKeyID] = fromEncrypted(encrypted, fp, sessionKeyID)
	m.mu.Unlock()

	m.logger.Info("session key loaded", "session_key_id", sessionKeyID)
	return nil
}

// Unlock decrypts a loaded session key and caches the keypair for
// cacheTTL (DefaultCacheTTL when zero). Pass the ttl straight to
// DeviceBoundSessionKey.UnlockWithPIN for a literal zero.
func (m *Manager) Unlock(sessionKeyID, pin string, cacheTTL time.Duration) error {
	key, err := m.get(sessionKeyID)
	if err != nil {
		return err
	}
	if cacheTTL == 0 {
		cacheTTL = DefaultCacheTTL
	}
	if _, err := key.UnlockWithPIN(pin, cacheTTL); err != nil {
		return err
	}
	m.logger.Debug("session key unlocked", "session_key_id", sessionKeyID)
	return nil
}

// Lock clears a session key's cached plaintext. Unknown ids are a no-op.
func (m *Manager) Lock(sessionKeyID string) {
	m.mu.RLock()
	key := m.keys[sessionKeyID]
	m.mu.RUnlock()
	if key != nil {
		key.Lock()
		m.logger.Debug("session key locked", "session_key_id", sessionKeyID)
	}
}

// GetKeypair returns a signing keypair, unlocking with pin if needed.
func (m *Manager) GetKeypair(sessionKeyID, pin string) (*Keypair, error) {
	key, err := m.get(sessionKeyID)
	if err != nil {
		return nil, err
	}
	return key.GetKeypair(pin)
}

// Sign signs a message with a session key.
func (m *Manager) Sign(sessionKeyID string, message []byte, pin string) ([]byte, error) {
	key, err := m.get(sessionKeyID)
	if err != nil {
		return nil, err
	}
	return key.Sign(message, pin)
}

// SignDelegation constructs the delegation message for the given limits
// and signs it, producing the base64 signature that proves user consent
// for enabling autonomy.
func (m *Manager) SignDelegation(sessionKeyID string, maxAmountUSD float64, expiresAt, pin string) (string, error) {
	key, err := m.get(sessionKeyID)
	if err != nil {
		return "", err
	}

	message := autonomy.CreateDelegationMessage(sessionKeyID, maxAmountUSD, expiresAt)

	keypair, err := key.GetKeypair(pin)
	if err != nil {
		return "", err
	}
	metrics.SignaturesTotal.WithLabelValues("delegation").Inc()
	return keypair.SignBase64([]byte(message)), nil
}

// GetStatus fetches the backend's view of a session key.
func (m *Manager) GetStatus(ctx context.Context, sessionKeyID string) (*Info, error) {
	raw, err := m.request(ctx, "POST", "/api/v1/ai/session-keys/status", map[string]any{
		"session_key_id": sessionKeyID,
	})
	if err != nil {
		return nil, fmt.Errorf("get session key status: %w", err)
	}

	info := &Info{SessionKeyID: sessionKeyID}
	if err := json.Unmarshal(raw, info); err != nil {
		return nil, fmt.Errorf("decode status response: %w", err)
	}
	info.SessionKeyID = sessionKeyID
	return info, nil
}

// MakePayment asks the backend to execute a payment under the session
// key. Signing happens backend-side via Lit Protocol shards; no local
// key material is involved.
func (m *Manager) MakePayment(ctx context.Context, sessionKeyID string, amount float64, recipient, description string) (*PaymentResult, error) {
	raw, err := m.request(ctx, "POST", "/api/v1/ai/session-keys/payment", map[string]any{
		"session_key_id": sessionKeyID,
		"amount":         amount,
		"recipient":      recipient,
		"description":    description,
	})
	if err != nil {
		return nil, fmt.Errorf("make payment: %w", err)
	}

	result := &PaymentResult{Status: "pending"}
	if err := json.Unmarshal(raw, result); err != nil {
		return nil, fmt.Errorf("decode payment response: %w", err)
	}
	if result.Status == "" {
		result.Status = "pending"
	}

	m.logger.Info("payment submitted", "session_key_id", sessionKeyID, "payment_id", result.PaymentID, "amount", amount)
	return result, nil
}

// Revoke permanently deactivates a session key on the backend and drops
// it from the local registry. Irreversible.
func (m *Manager) Revoke(ctx context.Context, sessionKeyID string) error {
	unlock := m.ids.Lock(sessionKeyID)
	defer unlock()

	if _, err := m.request(ctx, "POST", "/api/v1/ai/session-keys/revoke", map[string]any{
		"session_key_id": sessionKeyID,
	}); err != nil {
		return fmt.Errorf("revoke session key: %w", err)
	}

	m.mu.Lock()
	if key := m.keys[sessionKeyID]; key != nil {
		key.Lock()
	}
	delete(m.keys, sessionKeyID)
	delete(m.meta, sessionKeyID)
	m.mu.Unlock()

	m.logger.Info("session key revoked", "session_key_id", sessionKeyID)
	return nil
}

// SessionWallet returns the base58 session wallet address for a loaded
// session key.
func (m *Manager) SessionWallet(sessionKeyID string) (string, error) {
	key, err := m.get(sessionKeyID)
	if err != nil {
		return "", err
	}
	return key.PublicKey()
}

// IsLoaded reports whether a session key is in the registry.
func (m *Manager) IsLoaded(sessionKeyID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.keys[sessionKeyID]
	return ok
}

// IsUnlocked reports whether a session key has an unexpired unlock cache.
func (m *Manager) IsUnlocked(sessionKeyID string) bool {
	m.mu.RLock()
	key := m.keys[sessionKeyID]
	m.mu.RUnlock()
	return key != nil && key.IsCached()
}

// Get returns the underlying DeviceBoundSessionKey, or nil if not loaded.
func (m *Manager) Get(sessionKeyID string) *DeviceBoundSessionKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.keys[sessionKeyID]
}

func (m *Manager) get(sessionKeyID string) (*DeviceBoundSessionKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key := m.keys[sessionKeyID]
	if key == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotLoaded, sessionKeyID)
	}
	return key, nil
}
