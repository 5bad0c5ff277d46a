package types

import (
	"context"
	"time"
)

// Producer is the only entry point reminder generation (and any other
// producer) uses to hand work to the pipeline. Enqueue never waits for
// delivery.
type Producer interface {
	Enqueue(ctx context.Context, job NotificationJob) (JobID, error)
}

// PushSender delivers one payload to one device. Errors are classified with
// the delivery error codes (transient, permanent, invalid token).
type PushSender interface {
	Send(ctx context.Context, deviceToken string, payload map[string]any) error
}

// Webhook posts an operator-facing payload to a chat webhook.
type Webhook interface {
	Post(ctx context.Context, url string, payload map[string]any) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// Logger defines the structured logging interface used throughout the pipeline.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	With(args ...any) Logger
}
