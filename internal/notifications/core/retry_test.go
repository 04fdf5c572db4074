package core

import (
	"testing"
	"time"

	"courier/internal/config"
)

func TestCalculateNextRetry_DefaultPolicy(t *testing.T) {
	// DefaultRetryPolicy: BaseDelay=1s, BackoffFactor=2.0, MaxDelay=1m
	tests := []struct {
		retryCount int
		expected   time.Duration
	}{
		{0, 1 * time.Second}, // 1s * 2^0
		{1, 2 * time.Second}, // 1s * 2^1
		{2, 4 * time.Second}, // 1s * 2^2
		{3, 8 * time.Second}, // 1s * 2^3
		{7, 1 * time.Minute}, // 128s, capped at 60s
	}

	for _, tt := range tests {
		d := CalculateNextRetry(DefaultRetryPolicy, tt.retryCount)
		if d != tt.expected {
			t.Errorf("retry %d: expected %v, got %v", tt.retryCount, tt.expected, d)
		}
	}
}

func TestCalculateNextRetry_NegativeRetryCount(t *testing.T) {
	d := CalculateNextRetry(DefaultRetryPolicy, -1)
	if d != 1*time.Second {
		t.Errorf("expected 1s for negative retry count, got %v", d)
	}
}

func TestCalculateNextRetry_Overflow(t *testing.T) {
	policy := RetryPolicy{BaseDelay: time.Hour, MaxDelay: 0, BackoffFactor: 10}
	d := CalculateNextRetry(policy, 40)
	if d < 0 {
		t.Errorf("delay must never be negative, got %v", d)
	}
}

func TestRetryPolicyFromConfig(t *testing.T) {
	p := RetryPolicyFromConfig(config.DeliveryConfig{
		MaxRetries: 5,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   3 * time.Second,
	})

	if p.MaxRetries != 5 {
		t.Errorf("expected MaxRetries 5, got %d", p.MaxRetries)
	}
	if got := CalculateNextRetry(p, 1); got != time.Second {
		t.Errorf("expected 1s for retry 1, got %v", got)
	}
	if got := CalculateNextRetry(p, 4); got != 3*time.Second {
		t.Errorf("expected cap of 3s, got %v", got)
	}

	// Zero durations keep the defaults.
	d := RetryPolicyFromConfig(config.DeliveryConfig{MaxRetries: 3})
	if d.BaseDelay != time.Second || d.MaxDelay != time.Minute {
		t.Errorf("expected default delays, got base=%v max=%v", d.BaseDelay, d.MaxDelay)
	}
}
