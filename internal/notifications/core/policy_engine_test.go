package core

import (
	"testing"
	"time"

	"medtrack/internal/types"
)

// mockClock implements types.Clock for deterministic testing.
type mockClock struct {
	now time.Time
}

func (c *mockClock) Now() time.Time { return c.now }

// mockLogger implements types.Logger as a no-op for tests.
type mockLogger struct{}

func (l *mockLogger) Info(msg string, args ...any)  {}
func (l *mockLogger) Error(msg string, args ...any) {}
func (l *mockLogger) Warn(msg string, args ...any)  {}
func (l *mockLogger) With(args ...any) types.Logger { return l }

func tod(h, m int) *types.TimeOfDay {
	t := types.TimeOfDay(h*60 + m)
	return &t
}

func TestPolicyEngine_Evaluate(t *testing.T) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	quiet := types.NotificationPreferences{PushEnabled: true, QuietHoursEnabled: true, QuietStart: tod(22, 0), QuietEnd: tod(7, 0)}

	tests := []struct {
		name  string
		utc   time.Time
		prefs types.NotificationPreferences
		want  PolicyDecision
	}{
		{"defaults deliver", time.Date(2026, 6, 1, 3, 0, 0, 0, time.UTC), types.DefaultPreferences(), PolicyDeliver},
		{"push disabled", time.Date(2026, 6, 1, 3, 0, 0, 0, time.UTC), types.NotificationPreferences{}, PolicySkip},
		// 14:30 UTC is 23:30 in Seoul.
		{"inside overnight quiet hours", time.Date(2026, 6, 1, 14, 30, 0, 0, time.UTC), quiet, PolicySkip},
		// 21:00 UTC is 06:00 in Seoul.
		{"after midnight inside quiet hours", time.Date(2026, 6, 1, 21, 0, 0, 0, time.UTC), quiet, PolicySkip},
		// 22:00 UTC is 07:00 in Seoul; the end bound is exclusive.
		{"quiet end boundary", time.Date(2026, 6, 1, 22, 0, 0, 0, time.UTC), quiet, PolicyDeliver},
		// 03:00 UTC is 12:00 in Seoul.
		{"outside quiet hours", time.Date(2026, 6, 1, 3, 0, 0, 0, time.UTC), quiet, PolicyDeliver},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := NewPolicyEngine(&mockClock{now: tt.utc}, seoul)
			got := engine.Evaluate(tt.prefs)
			if got.Decision != tt.want {
				t.Errorf("Evaluate() = %s (%s), want %s", got.Decision, got.Reason, tt.want)
			}
		})
	}
}

func TestPolicyEngine_NilLocationIsUTC(t *testing.T) {
	prefs := types.NotificationPreferences{PushEnabled: true, QuietHoursEnabled: true, QuietStart: tod(1, 0), QuietEnd: tod(5, 0)}
	engine := NewPolicyEngine(&mockClock{now: time.Date(2026, 6, 1, 3, 0, 0, 0, time.UTC)}, nil)
	if got := engine.Evaluate(prefs); got.Decision != PolicySkip {
		t.Errorf("Evaluate() = %s, want skip", got.Decision)
	}
}
