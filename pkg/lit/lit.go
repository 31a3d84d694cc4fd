// Package lit integrates the optional Lit Protocol threshold-encryption
// service. When enabled, the backend can decrypt and sign with distributed
// key shards while the client device is offline. It is strictly
// best-effort: session keys work without it, they just require the client
// to be present for signing.
package lit

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultServiceURL is the hosted Lit encryption microservice.
const DefaultServiceURL = "https://lit-service.zendfi.tech"

// EncryptionResult is the threshold-encrypted form of a session keypair.
type EncryptionResult struct {
	Ciphertext string `json:"ciphertext"`
	DataHash   string `json:"data_hash"`
}

// ThresholdEncryptor encrypts session key material for backend-side
// autonomous signing. Implementations must treat failure as recoverable:
// callers fall back to client-present signing.
type ThresholdEncryptor interface {
	Encrypt(ctx context.Context, secretKey []byte) (*EncryptionResult, error)
}

// Disabled is the default ThresholdEncryptor: it reports that threshold
// encryption is not configured.
var Disabled ThresholdEncryptor = disabled{}

type disabled struct{}

func (disabled) Encrypt(context.Context, []byte) (*EncryptionResult, error) {
	return nil, fmt.Errorf("lit: threshold encryption disabled")
}

// HTTPEncryptor talks to a Lit encryption microservice.
type HTTPEncryptor struct {
	ServiceURL string
	Network    string // "datil", "datil-dev", "datil-test"

	httpClient *http.Client
}

// NewHTTPEncryptor creates an encryptor for the given service URL.
// An empty url uses DefaultServiceURL; an empty network uses "datil".
func NewHTTPEncryptor(url, network string) *HTTPEncryptor {
	if url == "" {
		url = DefaultServiceURL
	}
	if network == "" {
		network = "datil"
	}
	return &HTTPEncryptor{
		ServiceURL: url,
		Network:    network,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type healthResponse struct {
	Status    string `json:"status"`
	Connected bool   `json:"connected"`
}

type encryptRequest struct {
	SecretKeyBase64 string `json:"secret_key_base64"`
	Network         string `json:"network,omitempty"`
}

type encryptResponse struct {
	Ciphertext string `json:"ciphertext"`
	DataHash   string `json:"dataHash"`
	Error      string `json:"error,omitempty"`
}

// Encrypt checks service health and then threshold-encrypts secretKey.
// Encryption can take minutes on a cold Lit network connection, so the
// caller's context governs the wait.
func (e *HTTPEncryptor) Encrypt(ctx context.Context, secretKey []byte) (*EncryptionResult, error) {
	if err := e.checkHealth(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(encryptRequest{
		SecretKeyBase64: base64.StdEncoding.EncodeToString(secretKey),
		Network:         e.Network,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.ServiceURL+"/encrypt", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lit: encrypt request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lit: encrypt returned status %d", resp.StatusCode)
	}

	var out encryptResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("lit: decode encrypt response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("lit: %s", out.Error)
	}
	return &EncryptionResult{Ciphertext: out.Ciphertext, DataHash: out.DataHash}, nil
}

func (e *HTTPEncryptor) checkHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.ServiceURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("lit: service unavailable at %s: %w", e.ServiceURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var health healthResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&health); err != nil {
		return fmt.Errorf("lit: decode health response: %w", err)
	}
	if !health.Connected {
		return fmt.Errorf("lit: service not ready (status: %s)", health.Status)
	}
	return nil
}
