package core

import (
	"time"

	"medtrack/internal/types"
)

// PolicyEngine decides whether a member wants a push right now.
type PolicyEngine struct {
	clock types.Clock
	loc   *time.Location
}

// NewPolicyEngine creates a PolicyEngine that evaluates quiet hours in loc.
func NewPolicyEngine(clock types.Clock, loc *time.Location) *PolicyEngine {
	if loc == nil {
		loc = time.UTC
	}
	return &PolicyEngine{clock: clock, loc: loc}
}

// Evaluate applies, in order: push disabled -> skip; inside quiet hours in
// the member timezone -> skip; otherwise deliver.
func (e *PolicyEngine) Evaluate(prefs types.NotificationPreferences) PolicyResult {
	if !prefs.PushEnabled {
		return PolicyResult{Decision: PolicySkip, Reason: "push notifications disabled"}
	}
	if prefs.InQuietHours(e.clock.Now().In(e.loc)) {
		return PolicyResult{
			Decision: PolicySkip,
			Reason:   "quiet hours active (" + prefs.QuietStart.String() + "-" + prefs.QuietEnd.String() + ")",
		}
	}
	return PolicyResult{Decision: PolicyDeliver, Reason: "no policy restrictions apply"}
}
