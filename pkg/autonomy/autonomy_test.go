package autonomy

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

// fakeRequest returns a RequestFunc that records the last call and serves
// a fixed response body.
func fakeRequest(t *testing.T, lastMethod, lastPath *string, lastBody *any, response string) RequestFunc {
	t.Helper()
	return func(_ context.Context, method, path string, body any) (json.RawMessage, error) {
		*lastMethod = method
		*lastPath = path
		*lastBody = body
		return json.RawMessage(response), nil
	}
}

func TestCreateDelegationMessageDeterministic(t *testing.T) {
	want := "I authorize ZendFi autonomous payments:\n" +
		"Session: sess-1\n" +
		"Max Amount: $100.00 USD\n" +
		"Expires: 2025-01-01T00:00:00Z\n" +
		"This signature enables automated transactions up to the specified limit."

	got := CreateDelegationMessage("sess-1", 100.0, "2025-01-01T00:00:00Z")
	if got != want {
		t.Errorf("delegation message mismatch:\ngot:  %q\nwant: %q", got, want)
	}

	again := CreateDelegationMessage("sess-1", 100.0, "2025-01-01T00:00:00Z")
	if got != again {
		t.Error("delegation message is not reproducible")
	}
}

func TestCreateDelegationMessageAmountFormatting(t *testing.T) {
	msg := CreateDelegationMessage("sk", 7.5, "2025-06-01T00:00:00Z")
	if !strings.Contains(msg, "Max Amount: $7.50 USD") {
		t.Errorf("amount not formatted to 2 decimals: %q", msg)
	}
}

func TestDelegationSignatureVerifies(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	msg := []byte(CreateDelegationMessage("sess-2", 50.0, "2025-03-01T12:00:00Z"))
	sig1 := ed25519.Sign(priv, msg)
	sig2 := ed25519.Sign(priv, msg)

	if !ed25519.Verify(pub, msg, sig1) || !ed25519.Verify(pub, msg, sig2) {
		t.Error("signatures over the delegation message must verify")
	}
}

func TestValidateRequest(t *testing.T) {
	m := NewManager(nil, nil)

	valid := &EnableRequest{
		MaxAmountUSD:        100,
		DurationHours:       24,
		DelegationSignature: "c2lnbmF0dXJl",
	}
	if err := m.ValidateRequest(valid); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	cases := []struct {
		name string
		mut  func(*EnableRequest)
		code string
	}{
		{"zero amount", func(r *EnableRequest) { r.MaxAmountUSD = 0 }, "invalid_amount"},
		{"negative amount", func(r *EnableRequest) { r.MaxAmountUSD = -5 }, "invalid_amount"},
		{"duration too short", func(r *EnableRequest) { r.DurationHours = 0 }, "invalid_duration"},
		{"duration too long", func(r *EnableRequest) { r.DurationHours = 169 }, "invalid_duration"},
		{"empty signature", func(r *EnableRequest) { r.DelegationSignature = "" }, "missing_signature"},
		{"non-base64 signature", func(r *EnableRequest) { r.DelegationSignature = "not base64!!" }, "invalid_signature"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := *valid
			tc.mut(&req)
			err := m.ValidateRequest(&req)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Code != tc.code {
				t.Errorf("code = %q, want %q", verr.Code, tc.code)
			}
		})
	}
}

func TestValidateRequestBoundaryDurations(t *testing.T) {
	m := NewManager(nil, nil)
	for _, hours := range []int{1, 168} {
		req := &EnableRequest{MaxAmountUSD: 10, DurationHours: hours, DelegationSignature: "YWJj"}
		if err := m.ValidateRequest(req); err != nil {
			t.Errorf("duration %d rejected: %v", hours, err)
		}
	}
}

func TestEnableDefaultsMissingResponseFields(t *testing.T) {
	var method, path string
	var body any
	m := NewManager(fakeRequest(t, &method, &path, &body, `{"delegate_id":"del-1"}`), nil)

	req := &EnableRequest{
		MaxAmountUSD:        75,
		DurationHours:       48,
		DelegationSignature: "c2ln",
	}
	delegate, err := m.Enable(context.Background(), "sess-3", req)
	if err != nil {
		t.Fatalf("enable: %v", err)
	}

	if method != "POST" || path != "/api/v1/ai/session-keys/sess-3/enable-autonomy" {
		t.Errorf("unexpected request: %s %s", method, path)
	}
	if delegate.DelegateID != "del-1" {
		t.Errorf("delegate_id = %q", delegate.DelegateID)
	}
	if delegate.SessionKeyID != "sess-3" {
		t.Errorf("session_key_id = %q, want request value", delegate.SessionKeyID)
	}
	if delegate.MaxAmountUSD != 75 || delegate.RemainingUSD != 75 {
		t.Errorf("limits not defaulted from request: max=%v remaining=%v", delegate.MaxAmountUSD, delegate.RemainingUSD)
	}
	if !delegate.IsActive {
		t.Error("is_active should default to true")
	}
}

func TestEnableUsesFullResponse(t *testing.T) {
	var method, path string
	var body any
	resp := `{
		"delegate_id": "del-2",
		"session_key_id": "sess-backend",
		"max_amount_usd": 60,
		"spent_usd": 10,
		"remaining_usd": 50,
		"is_active": true,
		"created_at": "2025-02-01T00:00:00Z",
		"expires_at": "2025-02-08T00:00:00Z"
	}`
	m := NewManager(fakeRequest(t, &method, &path, &body, resp), nil)

	delegate, err := m.Enable(context.Background(), "sess-4", &EnableRequest{
		MaxAmountUSD:        60,
		DurationHours:       168,
		DelegationSignature: "c2ln",
	})
	if err != nil {
		t.Fatalf("enable: %v", err)
	}
	if delegate.SessionKeyID != "sess-backend" {
		t.Errorf("session_key_id = %q, want backend value", delegate.SessionKeyID)
	}
	if delegate.SpentUSD != 10 || delegate.RemainingUSD != 50 {
		t.Errorf("spent/remaining = %v/%v", delegate.SpentUSD, delegate.RemainingUSD)
	}
	if delegate.ExpiresAt != "2025-02-08T00:00:00Z" {
		t.Errorf("expires_at = %q", delegate.ExpiresAt)
	}
}

func TestEnableRejectsInvalidBeforeNetwork(t *testing.T) {
	called := false
	m := NewManager(func(context.Context, string, string, any) (json.RawMessage, error) {
		called = true
		return nil, nil
	}, nil)

	_, err := m.Enable(context.Background(), "sess-5", &EnableRequest{MaxAmountUSD: -1})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if called {
		t.Error("request must not be sent when validation fails")
	}
}

func TestRevoke(t *testing.T) {
	var method, path string
	var body any
	m := NewManager(fakeRequest(t, &method, &path, &body, `{}`), nil)

	if err := m.Revoke(context.Background(), "sess-6", "key rotation"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if method != "POST" || path != "/api/v1/ai/session-keys/sess-6/revoke-autonomy" {
		t.Errorf("unexpected request: %s %s", method, path)
	}
	sent, ok := body.(map[string]any)
	if !ok || sent["reason"] != "key rotation" {
		t.Errorf("reason not sent: %v", body)
	}
}

func TestGetStatusDisabled(t *testing.T) {
	var method, path string
	var body any
	m := NewManager(fakeRequest(t, &method, &path, &body, `{"autonomous_mode_enabled":false}`), nil)

	status, err := m.GetStatus(context.Background(), "sess-7")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if status.Enabled {
		t.Error("enabled should be false")
	}
	if status.Delegate != nil {
		t.Error("delegate should be nil when disabled")
	}
	if status.SessionKeyID != "sess-7" {
		t.Errorf("session_key_id = %q", status.SessionKeyID)
	}
}

func TestGetStatusEnabled(t *testing.T) {
	var method, path string
	var body any
	resp := `{
		"autonomous_mode_enabled": true,
		"delegate": {"delegate_id": "del-3", "max_amount_usd": 20, "spent_usd": 5, "remaining_usd": 15, "is_active": true}
	}`
	m := NewManager(fakeRequest(t, &method, &path, &body, resp), nil)

	status, err := m.GetStatus(context.Background(), "sess-8")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if !status.Enabled || status.Delegate == nil {
		t.Fatal("expected an active delegate")
	}
	if status.Delegate.SessionKeyID != "sess-8" {
		t.Errorf("delegate session_key_id = %q, want defaulted", status.Delegate.SessionKeyID)
	}
	if status.Delegate.RemainingUSD != 15 {
		t.Errorf("remaining_usd = %v", status.Delegate.RemainingUSD)
	}
}

func TestCalculateExpiresAtFormat(t *testing.T) {
	s := CalculateExpiresAt(24)
	if !strings.HasSuffix(s, "Z") {
		t.Errorf("expires_at must end in Z: %q", s)
	}
}
