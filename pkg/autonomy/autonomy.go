// Package autonomy manages delegated, unattended spending authority
// layered on top of a session key's signing capability.
//
// A user authorizes an agent by signing a delegation message with their
// session key. The backend then enforces the delegated spending limit and
// time bound, and commits to every spending decision with a signed
// attestation that can be verified locally (see VerifyAuditTrail).
package autonomy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/zendfi/zendfi-go/internal/logging"
)

const (
	// MinDurationHours and MaxDurationHours bound a delegation's lifetime.
	// 168 hours is 7 days.
	MinDurationHours = 1
	MaxDurationHours = 168
)

var base64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/]+=*$`)

// RequestFunc is the transport boundary. Implementations perform one
// backend request and return the raw JSON response body. pkg/zendfi
// provides the production implementation.
type RequestFunc func(ctx context.Context, method, path string, body any) (json.RawMessage, error)

// ValidationError reports a locally detectable problem with caller input.
// It is never worth retrying.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// EnableRequest configures autonomous mode for a session key.
type EnableRequest struct {
	MaxAmountUSD        float64        `json:"max_amount_usd"`
	DurationHours       int            `json:"duration_hours"`
	DelegationSignature string         `json:"delegation_signature"`
	ExpiresAt           string         `json:"expires_at,omitempty"`
	LitEncryptedKeypair string         `json:"lit_encrypted_keypair,omitempty"`
	LitDataHash         string         `json:"lit_data_hash,omitempty"`
	Metadata            map[string]any `json:"metadata,omitempty"`
}

// Delegate is an enabled autonomous delegate as reported by the backend.
type Delegate struct {
	DelegateID   string  `json:"delegate_id"`
	SessionKeyID string  `json:"session_key_id"`
	MaxAmountUSD float64 `json:"max_amount_usd"`
	SpentUSD     float64 `json:"spent_usd"`
	RemainingUSD float64 `json:"remaining_usd"`
	IsActive     bool    `json:"is_active"`
	CreatedAt    string  `json:"created_at"`
	ExpiresAt    string  `json:"expires_at"`
}

// Status is the current autonomy state for one session key. A nil
// Delegate with Enabled false is the normal state for a key that never
// had autonomy enabled.
type Status struct {
	SessionKeyID string    `json:"session_key_id"`
	Enabled      bool      `json:"autonomous_mode_enabled"`
	Delegate     *Delegate `json:"delegate,omitempty"`
}

// Manager drives the delegated-autonomy lifecycle against the backend.
type Manager struct {
	request RequestFunc
	logger  *slog.Logger
}

// NewManager returns a Manager bound to the given transport. A nil logger
// disables logging.
func NewManager(request RequestFunc, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Manager{request: request, logger: logger}
}

// CreateDelegationMessage produces the exact message a user signs to
// authorize autonomous spending. The template is a wire contract shared
// with the backend verifier: any formatting change breaks signature
// verification.
func CreateDelegationMessage(sessionKeyID string, maxAmountUSD float64, expiresAt string) string {
	return fmt.Sprintf(
		"I authorize ZendFi autonomous payments:\n"+
			"Session: %s\n"+
			"Max Amount: $%.2f USD\n"+
			"Expires: %s\n"+
			"This signature enables automated transactions up to the specified limit.",
		sessionKeyID, maxAmountUSD, expiresAt,
	)
}

// CreateDelegationMessage is the method form of the package-level function.
func (m *Manager) CreateDelegationMessage(sessionKeyID string, maxAmountUSD float64, expiresAt string) string {
	return CreateDelegationMessage(sessionKeyID, maxAmountUSD, expiresAt)
}

// ValidateRequest checks an EnableRequest before it hits the network.
// The signature check is syntactic only; cryptographic validity is
// verified by the backend against the session's public key.
func (m *Manager) ValidateRequest(req *EnableRequest) error {
	if req.MaxAmountUSD <= 0 {
		return &ValidationError{Code: "invalid_amount", Message: "max_amount_usd must be positive"}
	}
	if req.DurationHours < MinDurationHours || req.DurationHours > MaxDurationHours {
		return &ValidationError{
			Code:    "invalid_duration",
			Message: fmt.Sprintf("duration_hours must be between %d and %d", MinDurationHours, MaxDurationHours),
		}
	}
	if req.DelegationSignature == "" {
		return &ValidationError{Code: "missing_signature", Message: "delegation_signature is required"}
	}
	if !base64Pattern.MatchString(req.DelegationSignature) {
		return &ValidationError{Code: "invalid_signature", Message: "delegation_signature must be base64 encoded"}
	}
	return nil
}

// Enable grants autonomous signing authority under the given limits.
// Fields the backend omits from its response default to the request's own
// values so partial responses degrade gracefully.
func (m *Manager) Enable(ctx context.Context, sessionKeyID string, req *EnableRequest) (*Delegate, error) {
	if err := m.ValidateRequest(req); err != nil {
		return nil, err
	}

	m.logger.Debug("enabling autonomy", "session_key_id", sessionKeyID, "max_amount_usd", req.MaxAmountUSD)

	raw, err := m.request(ctx, "POST", fmt.Sprintf("/api/v1/ai/session-keys/%s/enable-autonomy", sessionKeyID), req)
	if err != nil {
		return nil, fmt.Errorf("enable autonomy: %w", err)
	}

	var resp struct {
		DelegateID   string   `json:"delegate_id"`
		SessionKeyID string   `json:"session_key_id"`
		MaxAmountUSD *float64 `json:"max_amount_usd"`
		SpentUSD     *float64 `json:"spent_usd"`
		RemainingUSD *float64 `json:"remaining_usd"`
		IsActive     *bool    `json:"is_active"`
		CreatedAt    string   `json:"created_at"`
		ExpiresAt    string   `json:"expires_at"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode enable-autonomy response: %w", err)
	}

	delegate := &Delegate{
		DelegateID:   resp.DelegateID,
		SessionKeyID: sessionKeyID,
		MaxAmountUSD: req.MaxAmountUSD,
		RemainingUSD: req.MaxAmountUSD,
		IsActive:     true,
		CreatedAt:    time.Now().UTC().Format(time.RFC3339),
		ExpiresAt:    resp.ExpiresAt,
	}
	if resp.SessionKeyID != "" {
		delegate.SessionKeyID = resp.SessionKeyID
	}
	if resp.MaxAmountUSD != nil {
		delegate.MaxAmountUSD = *resp.MaxAmountUSD
	}
	if resp.SpentUSD != nil {
		delegate.SpentUSD = *resp.SpentUSD
	}
	if resp.RemainingUSD != nil {
		delegate.RemainingUSD = *resp.RemainingUSD
	}
	if resp.IsActive != nil {
		delegate.IsActive = *resp.IsActive
	}
	if resp.CreatedAt != "" {
		delegate.CreatedAt = resp.CreatedAt
	}

	m.logger.Info("autonomy enabled", "session_key_id", sessionKeyID, "delegate_id", delegate.DelegateID)
	return delegate, nil
}

// Revoke immediately invalidates the autonomous delegate. The session key
// itself stays usable for manually approved payments.
func (m *Manager) Revoke(ctx context.Context, sessionKeyID, reason string) error {
	body := map[string]any{}
	if reason != "" {
		body["reason"] = reason
	}

	if _, err := m.request(ctx, "POST", fmt.Sprintf("/api/v1/ai/session-keys/%s/revoke-autonomy", sessionKeyID), body); err != nil {
		return fmt.Errorf("revoke autonomy: %w", err)
	}

	m.logger.Info("autonomy revoked", "session_key_id", sessionKeyID, "reason", reason)
	return nil
}

// GetStatus reports whether autonomous mode is enabled for a session key
// and, if so, the active delegate with its remaining allowance.
func (m *Manager) GetStatus(ctx context.Context, sessionKeyID string) (*Status, error) {
	raw, err := m.request(ctx, "GET", fmt.Sprintf("/api/v1/ai/session-keys/%s/autonomy-status", sessionKeyID), nil)
	if err != nil {
		return nil, fmt.Errorf("get autonomy status: %w", err)
	}

	status := &Status{SessionKeyID: sessionKeyID}
	if err := json.Unmarshal(raw, status); err != nil {
		return nil, fmt.Errorf("decode autonomy-status response: %w", err)
	}
	status.SessionKeyID = sessionKeyID
	if !status.Enabled {
		status.Delegate = nil
	}
	if status.Delegate != nil && status.Delegate.SessionKeyID == "" {
		status.Delegate.SessionKeyID = sessionKeyID
	}
	return status, nil
}

// GetAttestations retrieves the signed spending audit trail for a
// delegate. Callers that care about trust should pass the result to
// VerifyAuditTrail before acting on it.
func (m *Manager) GetAttestations(ctx context.Context, delegateID string) (*AttestationAuditResponse, error) {
	raw, err := m.request(ctx, "GET", fmt.Sprintf("/api/v1/ai/delegates/%s/attestations", delegateID), nil)
	if err != nil {
		return nil, fmt.Errorf("get attestations: %w", err)
	}

	var resp AttestationAuditResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode attestations response: %w", err)
	}
	return &resp, nil
}

// CalculateExpiresAt returns now (UTC) plus durationHours as an RFC 3339
// timestamp with a trailing Z, the format the delegation message embeds.
func CalculateExpiresAt(durationHours int) string {
	return time.Now().UTC().Add(time.Duration(durationHours) * time.Hour).Format(time.RFC3339)
}
