package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ZENDFI_API_KEY", "zk_test_key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIURL != DefaultAPIURL {
		t.Errorf("api url = %q", cfg.APIURL)
	}
	if cfg.Mode != "test" {
		t.Errorf("mode = %q", cfg.Mode)
	}
	if cfg.Timeout != DefaultTimeout {
		t.Errorf("timeout = %v", cfg.Timeout)
	}
	if cfg.EnableLit {
		t.Error("lit should default off")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ZENDFI_API_KEY", "zk_live_key")
	t.Setenv("ZENDFI_MODE", "live")
	t.Setenv("ZENDFI_TIMEOUT", "5s")
	t.Setenv("ZENDFI_MAX_RETRIES", "1")
	t.Setenv("ZENDFI_ENABLE_LIT", "true")
	t.Setenv("LIT_SERVICE_URL", "http://localhost:3100")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != "live" || cfg.Timeout != 5*time.Second || cfg.MaxRetries != 1 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if !cfg.EnableLit || cfg.LitServiceURL != "http://localhost:3100" {
		t.Errorf("lit config not applied: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"missing key", Config{Mode: "test"}, true},
		{"bad mode", Config{APIKey: "zk_test_k", Mode: "staging"}, true},
		{"test key in live mode", Config{APIKey: "zk_test_k", Mode: "live"}, true},
		{"live ok", Config{APIKey: "zk_live_k", Mode: "live"}, false},
		{"test ok", Config{APIKey: "zk_test_k", Mode: "test"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("err = %v, wantErr = %v", err, tc.wantErr)
			}
		})
	}
}
