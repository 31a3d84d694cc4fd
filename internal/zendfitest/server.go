// Package zendfitest provides an in-memory ZendFi backend for tests.
//
// It implements the device-bound session key, autonomy, attestation,
// pricing, and marketplace endpoints with real semantics: spending limits
// are enforced, and every autonomous payment produces an Ed25519-signed
// attestation over the same canonical serialization the SDK verifies.
package zendfitest

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/zendfi/zendfi-go/pkg/autonomy"
	"github.com/zendfi/zendfi-go/pkg/base58"
)

// Session is the backend's record of one device-bound session key.
type Session struct {
	ID                  string
	AgentID             string
	UserWallet          string
	EncryptedSessionKey string
	Nonce               string
	PublicKey           string
	DeviceFingerprint   string
	LimitUSDC           float64
	UsedUSDC            float64
	ExpiresAt           string
	Active              bool
}

// Delegate is an enabled autonomous delegate.
type Delegate struct {
	ID           string
	SessionKeyID string
	MaxAmountUSD float64
	SpentUSD     float64
	Active       bool
	CreatedAt    string
	ExpiresAt    string
}

// Server is the fake backend. Exported state may be inspected or mutated
// by tests between requests.
type Server struct {
	*httptest.Server

	mu           sync.Mutex
	Sessions     map[string]*Session
	Delegates    map[string]*Delegate
	Attestations map[string][]autonomy.SignedSpendingAttestation
	Providers    []gin.H

	apiKey    string
	attestKey ed25519.PrivateKey

	// AttestationPublicKey is the base58 key attestations are signed
	// under.
	AttestationPublicKey string
}

// New starts a fake backend that requires the given bearer API key.
func New(apiKey string) *Server {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		panic(err)
	}

	s := &Server{
		Sessions:             make(map[string]*Session),
		Delegates:            make(map[string]*Delegate),
		Attestations:         make(map[string][]autonomy.SignedSpendingAttestation),
		apiKey:               apiKey,
		attestKey:            priv,
		AttestationPublicKey: base58.Encode(pub),
	}

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(s.auth)

	api := router.Group("/api/v1")
	api.POST("/ai/session-keys/device-bound/create", s.createSessionKey)
	api.POST("/ai/session-keys/device-bound/get-encrypted", s.getEncrypted)
	api.POST("/ai/session-keys/status", s.sessionStatus)
	api.POST("/ai/session-keys/payment", s.payment)
	api.POST("/ai/session-keys/revoke", s.revokeSession)
	api.POST("/ai/session-keys/:id/enable-autonomy", s.enableAutonomy)
	api.POST("/ai/session-keys/:id/revoke-autonomy", s.revokeAutonomy)
	api.GET("/ai/session-keys/:id/autonomy-status", s.autonomyStatus)
	api.GET("/ai/delegates/:id/attestations", s.attestations)
	api.POST("/ai/pricing/ppp-factor", s.pppFactor)
	api.GET("/marketplace/providers", s.marketplaceProviders)

	s.Server = httptest.NewServer(router)
	return s
}

func (s *Server) auth(c *gin.Context) {
	if c.GetHeader("Authorization") != "Bearer "+s.apiKey {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "invalid API key"})
	}
}

func (s *Server) createSessionKey(c *gin.Context) {
	var req struct {
		UserWallet          string  `json:"user_wallet"`
		AgentID             string  `json:"agent_id"`
		LimitUSDC           float64 `json:"limit_usdc"`
		DurationDays        int     `json:"duration_days"`
		EncryptedSessionKey string  `json:"encrypted_session_key"`
		Nonce               string  `json:"nonce"`
		SessionPublicKey    string  `json:"session_public_key"`
		DeviceFingerprint   string  `json:"device_fingerprint"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// One session per agent id. A duplicate create returns the existing
	// session, whose wallet will not match the caller's fresh keypair.
	for _, existing := range s.Sessions {
		if existing.AgentID == req.AgentID && existing.Active {
			c.JSON(http.StatusOK, gin.H{
				"session_key_id": existing.ID,
				"session_wallet": existing.PublicKey,
				"agent_id":       existing.AgentID,
				"limit_usdc":     existing.LimitUSDC,
				"expires_at":     existing.ExpiresAt,
			})
			return
		}
	}

	session := &Session{
		ID:                  uuid.NewString(),
		AgentID:             req.AgentID,
		UserWallet:          req.UserWallet,
		EncryptedSessionKey: req.EncryptedSessionKey,
		Nonce:               req.Nonce,
		PublicKey:           req.SessionPublicKey,
		DeviceFingerprint:   req.DeviceFingerprint,
		LimitUSDC:           req.LimitUSDC,
		ExpiresAt:           time.Now().UTC().AddDate(0, 0, req.DurationDays).Format(time.RFC3339),
		Active:              true,
	}
	s.Sessions[session.ID] = session

	c.JSON(http.StatusOK, gin.H{
		"session_key_id": session.ID,
		"session_wallet": session.PublicKey,
		"agent_id":       session.AgentID,
		"limit_usdc":     session.LimitUSDC,
		"expires_at":     session.ExpiresAt,
	})
}

func (s *Server) getEncrypted(c *gin.Context) {
	var req struct {
		SessionKeyID      string `json:"session_key_id"`
		DeviceFingerprint string `json:"device_fingerprint"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.Sessions[req.SessionKeyID]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "session key not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"encrypted_session_key":    session.EncryptedSessionKey,
		"nonce":                    session.Nonce,
		"device_fingerprint_valid": session.DeviceFingerprint == req.DeviceFingerprint,
	})
}

func (s *Server) sessionStatus(c *gin.Context) {
	var req struct {
		SessionKeyID string `json:"session_key_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.Sessions[req.SessionKeyID]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "session key not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"is_active":         session.Active,
		"is_approved":       true,
		"limit_usdc":        session.LimitUSDC,
		"used_amount_usdc":  session.UsedUSDC,
		"remaining_usdc":    session.LimitUSDC - session.UsedUSDC,
		"expires_at":        session.ExpiresAt,
		"days_until_expiry": 7,
	})
}

func (s *Server) revokeSession(c *gin.Context) {
	var req struct {
		SessionKeyID string `json:"session_key_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.Sessions[req.SessionKeyID]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "session key not found"})
		return
	}
	session.Active = false
	c.JSON(http.StatusOK, gin.H{})
}

func (s *Server) payment(c *gin.Context) {
	var req struct {
		SessionKeyID string  `json:"session_key_id"`
		Amount       float64 `json:"amount"`
		Recipient    string  `json:"recipient"`
		Description  string  `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.Sessions[req.SessionKeyID]
	if !ok || !session.Active {
		c.JSON(http.StatusNotFound, gin.H{"message": "session key not found"})
		return
	}
	if session.UsedUSDC+req.Amount > session.LimitUSDC {
		c.JSON(http.StatusBadRequest, gin.H{
			"message":    "spending limit exceeded",
			"error_code": "INSUFFICIENT_BALANCE",
		})
		return
	}
	session.UsedUSDC += req.Amount

	paymentID := uuid.NewString()

	// Attest if an active delegate covers this session.
	for _, delegate := range s.Delegates {
		if delegate.SessionKeyID == req.SessionKeyID && delegate.Active {
			delegate.SpentUSD += req.Amount
			s.appendAttestation(delegate, req.Amount, req.Recipient, paymentID)
			break
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"payment_id": paymentID,
		"signature":  "sig_" + paymentID[:8],
		"status":     "completed",
	})
}

// appendAttestation signs the spending state the way the production
// backend does. Caller holds s.mu.
func (s *Server) appendAttestation(delegate *Delegate, amount float64, merchantID, paymentID string) {
	att := autonomy.SpendingAttestation{
		DelegateID:        delegate.ID,
		SessionKeyID:      delegate.SessionKeyID,
		MerchantID:        merchantID,
		SpentUSD:          delegate.SpentUSD,
		LimitUSD:          delegate.MaxAmountUSD,
		RequestedUSD:      amount,
		RemainingAfterUSD: delegate.MaxAmountUSD - delegate.SpentUSD,
		TimestampMS:       time.Now().UnixMilli(),
		Nonce:             uuid.NewString(),
		PaymentID:         paymentID,
		Version:           1,
	}
	sig := ed25519.Sign(s.attestKey, autonomy.CanonicalBytes(&att))
	s.Attestations[delegate.ID] = append(s.Attestations[delegate.ID], autonomy.SignedSpendingAttestation{
		Attestation:     att,
		Signature:       base64.StdEncoding.EncodeToString(sig),
		SignerPublicKey: s.AttestationPublicKey,
	})
}

func (s *Server) enableAutonomy(c *gin.Context) {
	sessionKeyID := c.Param("id")

	var req struct {
		MaxAmountUSD        float64 `json:"max_amount_usd"`
		DurationHours       int     `json:"duration_hours"`
		DelegationSignature string  `json:"delegation_signature"`
		ExpiresAt           string  `json:"expires_at"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.Sessions[sessionKeyID]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "session key not found"})
		return
	}

	expiresAt := req.ExpiresAt
	if expiresAt == "" {
		expiresAt = time.Now().UTC().Add(time.Duration(req.DurationHours) * time.Hour).Format(time.RFC3339)
	}

	// Verify the delegation signature against the session wallet, like
	// the production backend.
	pub, err := base58.Decode(session.PublicKey)
	sig, sigErr := base64.StdEncoding.DecodeString(req.DelegationSignature)
	if err != nil || sigErr != nil || len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		c.JSON(http.StatusBadRequest, gin.H{"message": "malformed delegation signature"})
		return
	}
	message := autonomy.CreateDelegationMessage(sessionKeyID, req.MaxAmountUSD, expiresAt)
	if !ed25519.Verify(ed25519.PublicKey(pub), []byte(message), sig) {
		c.JSON(http.StatusBadRequest, gin.H{"message": "delegation signature verification failed"})
		return
	}

	delegate := &Delegate{
		ID:           uuid.NewString(),
		SessionKeyID: sessionKeyID,
		MaxAmountUSD: req.MaxAmountUSD,
		Active:       true,
		CreatedAt:    time.Now().UTC().Format(time.RFC3339),
		ExpiresAt:    expiresAt,
	}
	s.Delegates[delegate.ID] = delegate

	c.JSON(http.StatusOK, gin.H{
		"delegate_id":    delegate.ID,
		"session_key_id": sessionKeyID,
		"max_amount_usd": delegate.MaxAmountUSD,
		"spent_usd":      0,
		"remaining_usd":  delegate.MaxAmountUSD,
		"is_active":      true,
		"created_at":     delegate.CreatedAt,
		"expires_at":     delegate.ExpiresAt,
	})
}

func (s *Server) revokeAutonomy(c *gin.Context) {
	sessionKeyID := c.Param("id")

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, delegate := range s.Delegates {
		if delegate.SessionKeyID == sessionKeyID {
			delegate.Active = false
		}
	}
	c.JSON(http.StatusOK, gin.H{})
}

func (s *Server) autonomyStatus(c *gin.Context) {
	sessionKeyID := c.Param("id")

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, delegate := range s.Delegates {
		if delegate.SessionKeyID == sessionKeyID && delegate.Active {
			c.JSON(http.StatusOK, gin.H{
				"autonomous_mode_enabled": true,
				"delegate": gin.H{
					"delegate_id":    delegate.ID,
					"session_key_id": delegate.SessionKeyID,
					"max_amount_usd": delegate.MaxAmountUSD,
					"spent_usd":      delegate.SpentUSD,
					"remaining_usd":  delegate.MaxAmountUSD - delegate.SpentUSD,
					"is_active":      true,
					"created_at":     delegate.CreatedAt,
					"expires_at":     delegate.ExpiresAt,
				},
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"autonomous_mode_enabled": false})
}

func (s *Server) attestations(c *gin.Context) {
	delegateID := c.Param("id")

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.Delegates[delegateID]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "delegate not found"})
		return
	}
	trail := s.Attestations[delegateID]
	c.JSON(http.StatusOK, gin.H{
		"delegate_id":                   delegateID,
		"attestation_count":             len(trail),
		"attestations":                  trail,
		"zendfi_attestation_public_key": s.AttestationPublicKey,
	})
}

func (s *Server) pppFactor(c *gin.Context) {
	var req struct {
		CountryCode string `json:"country_code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	factors := map[string]gin.H{
		"BR": {"country_name": "Brazil", "ppp_factor": 0.45, "currency_code": "BRL", "adjustment_percentage": 55.0},
		"IN": {"country_name": "India", "ppp_factor": 0.30, "currency_code": "INR", "adjustment_percentage": 70.0},
	}
	factor, ok := factors[strings.ToUpper(req.CountryCode)]
	if !ok {
		factor = gin.H{"country_name": req.CountryCode, "ppp_factor": 1.0, "currency_code": "USD", "adjustment_percentage": 0.0}
	}
	factor["country_code"] = strings.ToUpper(req.CountryCode)
	c.JSON(http.StatusOK, factor)
}

func (s *Server) marketplaceProviders(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	serviceType := c.Query("service_type")
	var matches []gin.H
	for _, p := range s.Providers {
		if p["service_type"] == serviceType {
			matches = append(matches, p)
		}
	}
	c.JSON(http.StatusOK, gin.H{"providers": matches})
}

// TamperAttestation corrupts one attestation's spent figure without
// re-signing it, for integrity failure tests.
func (s *Server) TamperAttestation(delegateID string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	trail := s.Attestations[delegateID]
	if index < 0 || index >= len(trail) {
		return fmt.Errorf("no attestation %d for delegate %s", index, delegateID)
	}
	trail[index].Attestation.SpentUSD += 1
	trail[index].Attestation.RemainingAfterUSD -= 1
	return nil
}
