package core

import (
	"testing"
	"time"
)

func TestCalculateNextRetry_PipelinePolicy(t *testing.T) {
	policy := NewRetryPolicy(2*time.Second, 30*time.Second)
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 2 * time.Second},  // 2s * 2^0
		{1, 4 * time.Second},  // 2s * 2^1
		{2, 8 * time.Second},  // 2s * 2^2
		{3, 16 * time.Second}, // 2s * 2^3
		{4, 30 * time.Second}, // 32s, capped at 30s
		{80, 30 * time.Second},
	}

	for _, tt := range tests {
		d := CalculateNextRetry(policy, tt.attempt)
		if d != tt.expected {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.expected, d)
		}
	}
}

func TestCalculateNextRetry_NegativeAttempt(t *testing.T) {
	d := CalculateNextRetry(NewRetryPolicy(time.Second, time.Minute), -1)
	if d != 1*time.Second {
		t.Errorf("expected 1s for negative attempt, got %v", d)
	}
}

func TestCalculateNextRetry_Monotonic(t *testing.T) {
	policy := NewRetryPolicy(500*time.Millisecond, 5*time.Minute)
	prev := time.Duration(0)
	for attempt := 0; attempt < 64; attempt++ {
		d := CalculateNextRetry(policy, attempt)
		if d < prev {
			t.Fatalf("attempt %d: %v shorter than previous %v", attempt, d, prev)
		}
		if d > policy.MaxDelay {
			t.Fatalf("attempt %d: %v exceeds max %v", attempt, d, policy.MaxDelay)
		}
		prev = d
	}
}

func TestBackoff_JitterBounds(t *testing.T) {
	policy := NewRetryPolicy(10*time.Second, time.Hour)
	tests := []struct {
		r    float64
		want time.Duration
	}{
		{0, 8 * time.Second},
		{0.5, 10 * time.Second},
		{0.999999, 12 * time.Second},
	}
	for _, tt := range tests {
		got := Backoff(policy, 0, func() float64 { return tt.r })
		if diff := got - tt.want; diff > time.Millisecond || diff < -time.Millisecond {
			t.Errorf("Backoff(r=%v) = %v, want ~%v", tt.r, got, tt.want)
		}
	}

	for i := 0; i < 1000; i++ {
		got := Backoff(policy, 2, nil)
		if got < 32*time.Second || got > 48*time.Second {
			t.Fatalf("Backoff(attempt=2) = %v, outside [32s, 48s]", got)
		}
	}
}

func TestBackoff_NoJitter(t *testing.T) {
	policy := RetryPolicy{BaseDelay: time.Second, MaxDelay: time.Minute, BackoffFactor: 3}
	if got := Backoff(policy, 2, func() float64 { return 0 }); got != 9*time.Second {
		t.Errorf("Backoff without jitter = %v, want 9s", got)
	}
}
