package lit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDisabledAlwaysFails(t *testing.T) {
	_, err := Disabled.Encrypt(context.Background(), []byte("secret"))
	if err == nil {
		t.Fatal("expected Disabled encryptor to return an error")
	}
}

func TestHTTPEncryptor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "connected": true})
		case "/encrypt":
			var req map[string]string
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req["secret_key_base64"] == "" {
				http.Error(w, "missing key", http.StatusBadRequest)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]string{
				"ciphertext": "ct-abc",
				"dataHash":   "hash-def",
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	enc := NewHTTPEncryptor(srv.URL, "datil-test")
	result, err := enc.Encrypt(context.Background(), []byte("0123456789abcdef"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if result.Ciphertext != "ct-abc" || result.DataHash != "hash-def" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestHTTPEncryptorServiceNotReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "connecting", "connected": false})
	}))
	defer srv.Close()

	enc := NewHTTPEncryptor(srv.URL, "")
	if _, err := enc.Encrypt(context.Background(), []byte("key")); err == nil {
		t.Fatal("expected error when service reports not connected")
	}
}

func TestHTTPEncryptorUnavailable(t *testing.T) {
	enc := NewHTTPEncryptor("http://127.0.0.1:1", "")
	if _, err := enc.Encrypt(context.Background(), []byte("key")); err == nil {
		t.Fatal("expected error when service is unreachable")
	}
}
