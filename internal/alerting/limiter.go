// Package alerting decides which operator alerts are sent and sends
// server-error alerts.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"medtrack/internal/types"
)

// failOpenInterval bounds how often one key may be let through while the
// window store is failing.
const failOpenInterval = time.Minute

// Limits configures a Limiter.
type Limits struct {
	MaxPerWindow int
	Window       time.Duration
	MinSeverity  types.Severity
	KeyPrefix    string
}

// DecisionRecorder receives limiter decisions. Optional.
type DecisionRecorder interface {
	RecordAlertDecision(category string, allowed bool)
}

// Limiter bounds operator alerts per (category, severity) and window.
type Limiter struct {
	store    WindowStore
	limits   Limits
	clock    types.Clock
	logger   types.Logger
	recorder DecisionRecorder

	mu       sync.Mutex
	failOpen map[string]time.Time
}

// NewLimiter creates a Limiter. recorder may be nil.
func NewLimiter(store WindowStore, limits Limits, clock types.Clock, logger types.Logger, recorder DecisionRecorder) *Limiter {
	return &Limiter{
		store:    store,
		limits:   limits,
		clock:    clock,
		logger:   logger.With("component", "alert_limiter"),
		recorder: recorder,
		failOpen: make(map[string]time.Time),
	}
}

// Allow reports whether an alert for category at severity may be sent now.
// It never returns an error or panics: when the store misbehaves it lets at
// most one alert per key per minute through.
func (l *Limiter) Allow(ctx context.Context, category string, severity types.Severity) (allowed bool) {
	if severity < l.limits.MinSeverity {
		return false
	}
	key := l.key(category, severity)
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Alert limiter panicked", "key", key, "panic", fmt.Sprint(r))
			allowed = l.permitDegraded(key)
		}
		if l.recorder != nil {
			l.recorder.RecordAlertDecision(category, allowed)
		}
	}()

	count, err := l.store.Increment(ctx, key, l.clock.Now(), l.limits.Window)
	switch {
	case errors.Is(err, ErrWindowExpiry):
		// The count is still authoritative.
		l.logger.Warn("Alert window expiry could not be set", "key", key, "error", err)
	case err != nil:
		l.logger.Warn("Alert window store failed", "key", key, "error", err)
		return l.permitDegraded(key)
	}
	if count > int64(l.limits.MaxPerWindow) {
		if count == int64(l.limits.MaxPerWindow)+1 {
			l.logger.Warn("Alert rate limit reached, suppressing", "key", key, "max", l.limits.MaxPerWindow)
		}
		return false
	}
	return true
}

func (l *Limiter) key(category string, severity types.Severity) string {
	return l.limits.KeyPrefix + category + ":" + severity.String()
}

func (l *Limiter) permitDegraded(key string) bool {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if last, ok := l.failOpen[key]; ok && now.Sub(last) < failOpenInterval {
		return false
	}
	l.failOpen[key] = now
	return true
}
