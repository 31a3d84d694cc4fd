package metrics

import (
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, m interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return out.GetCounter().GetValue()
}

func TestObserveAPIRequest(t *testing.T) {
	before := counterValue(t, APIRequestsTotal.WithLabelValues("POST", "/v1/ai/session-keys/status", "200"))

	ObserveAPIRequest("POST", "/v1/ai/session-keys/status", "200", 25*time.Millisecond)

	after := counterValue(t, APIRequestsTotal.WithLabelValues("POST", "/v1/ai/session-keys/status", "200"))
	if after != before+1 {
		t.Errorf("expected counter to increment by 1, got %v -> %v", before, after)
	}
}

func TestUnlockCounterLabels(t *testing.T) {
	c := SessionKeyUnlocks.WithLabelValues("bad_pin")
	before := counterValue(t, c)
	c.Inc()
	if got := counterValue(t, c); got != before+1 {
		t.Errorf("expected bad_pin counter to increment, got %v -> %v", before, got)
	}
}
