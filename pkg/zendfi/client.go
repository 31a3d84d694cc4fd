// Package zendfi is the HTTP client for the ZendFi API.
//
// It implements the request boundary that pkg/sessionkeys and
// pkg/autonomy are written against: bearer auth, JSON bodies, retries
// with exponential backoff for transient faults, a per-endpoint circuit
// breaker, and Prometheus/OpenTelemetry instrumentation.
package zendfi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zendfi/zendfi-go/internal/circuitbreaker"
	"github.com/zendfi/zendfi-go/internal/logging"
	"github.com/zendfi/zendfi-go/internal/metrics"
	"github.com/zendfi/zendfi-go/internal/retry"
	"github.com/zendfi/zendfi-go/internal/traces"
	"github.com/zendfi/zendfi-go/pkg/autonomy"
	"github.com/zendfi/zendfi-go/pkg/lit"
	"github.com/zendfi/zendfi-go/pkg/sessionkeys"
)

const (
	// DefaultBaseURL is the production API endpoint. Test and live mode
	// share it; the API key prefix (zk_test_ / zk_live_) selects the
	// network.
	DefaultBaseURL = "https://api.zendfi.com"

	// DefaultTimeout bounds a single HTTP attempt.
	DefaultTimeout = 30 * time.Second

	defaultMaxAttempts = 3
	retryBaseDelay     = 500 * time.Millisecond

	sdkVersion = "0.1.0"
)

// ErrCircuitOpen is returned when an endpoint's circuit breaker is open
// and the request was not attempted.
var ErrCircuitOpen = errors.New("circuit breaker open")

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("zendfi api %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("zendfi api %d: %s", e.StatusCode, e.Message)
}

// Config configures a Client. Zero values take sensible defaults; only
// APIKey is required (falls back to the ZENDFI_API_KEY environment
// variable).
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration

	// MaxRetries bounds attempts per request for transient faults.
	MaxRetries int

	// LitEncryptor enables Lit Protocol threshold encryption during
	// session key creation. Nil disables it.
	LitEncryptor lit.ThresholdEncryptor

	Logger     *slog.Logger
	HTTPClient *http.Client
}

// Client talks to the ZendFi API and hands out the session key and
// autonomy managers bound to it.
type Client struct {
	apiKey      string
	baseURL     string
	maxAttempts int

	http    *http.Client
	logger  *slog.Logger
	breaker *circuitbreaker.Breaker

	sessionKeys *sessionkeys.Manager
	autonomy    *autonomy.Manager
}

// New builds a Client from cfg.
func New(cfg Config) (*Client, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ZENDFI_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("zendfi: API key required, set ZENDFI_API_KEY or Config.APIKey")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	maxAttempts := cfg.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	c := &Client{
		apiKey:      apiKey,
		baseURL:     baseURL,
		maxAttempts: maxAttempts,
		http:        httpClient,
		logger:      logger,
		breaker:     circuitbreaker.New(5, 30*time.Second),
	}
	c.sessionKeys = sessionkeys.NewManager(c.Request, logger, cfg.LitEncryptor)
	c.autonomy = autonomy.NewManager(c.Request, logger)
	return c, nil
}

// SessionKeys returns the session key manager bound to this client.
func (c *Client) SessionKeys() *sessionkeys.Manager { return c.sessionKeys }

// Autonomy returns the autonomy manager bound to this client.
func (c *Client) Autonomy() *autonomy.Manager { return c.autonomy }

// NewIdempotencyKey generates a key for deduplicating payment requests.
func NewIdempotencyKey(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// Request performs one API call with retries and returns the raw JSON
// response body. 4xx responses are permanent; 5xx and transport errors
// retry with exponential backoff. POSTs carry an idempotency key that is
// stable across retries, so a retried payment can never execute twice.
func (c *Client) Request(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	ctx, span := traces.StartSpan(ctx, "zendfi.request", traces.Path(path))
	defer span.End()

	if !c.breaker.Allow(path) {
		metrics.APIRequestsTotal.WithLabelValues(method, path, "circuit_open").Inc()
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, path)
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}

	idempotencyKey := ""
	if method == http.MethodPost {
		idempotencyKey = NewIdempotencyKey("pay")
	}

	var result json.RawMessage
	start := time.Now()
	err := retry.Do(ctx, c.maxAttempts, retryBaseDelay, func() error {
		raw, err := c.do(ctx, method, path, payload, idempotencyKey)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != 429 {
				return retry.Permanent(err)
			}
			c.logger.Warn("request failed, may retry", "method", method, "path", path, "error", err)
			return err
		}
		result = raw
		return nil
	})

	status := "ok"
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			status = strconv.Itoa(apiErr.StatusCode)
		} else {
			status = "error"
		}
		c.breaker.Failure(path)
	} else {
		c.breaker.Success(path)
	}
	metrics.ObserveAPIRequest(method, path, status, time.Since(start))

	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte, idempotencyKey string) (json.RawMessage, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "zendfi-go/"+sdkVersion)
	req.Header.Set("X-ZendFi-SDK", "go/"+sdkVersion)
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, parseAPIError(resp.StatusCode, raw)
	}

	if len(raw) == 0 {
		return json.RawMessage(`{}`), nil
	}
	return json.RawMessage(raw), nil
}

func parseAPIError(statusCode int, raw []byte) *APIError {
	apiErr := &APIError{StatusCode: statusCode, Message: "unknown error"}

	var body struct {
		Message   string `json:"message"`
		Error     string `json:"error"`
		Code      string `json:"code"`
		ErrorCode string `json:"error_code"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Message != "" {
			apiErr.Message = body.Message
		} else if body.Error != "" {
			apiErr.Message = body.Error
		}
		if body.Code != "" {
			apiErr.Code = body.Code
		} else if body.ErrorCode != "" {
			apiErr.Code = body.ErrorCode
		}
	}
	return apiErr
}
