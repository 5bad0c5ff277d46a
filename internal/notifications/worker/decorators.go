package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"medtrack/internal/notifications/core"
	"medtrack/internal/types"
)

// Step processes one job and reports whether it was delivered or skipped.
// A nil error means the job is done and can be acked.
type Step func(ctx context.Context, job types.NotificationJob) (core.MetricResult, error)

// withRecover turns a panic inside next into a transient delivery failure.
func withRecover(next Step, logger types.Logger) Step {
	return func(ctx context.Context, job types.NotificationJob) (result core.MetricResult, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Panic while processing job", "job_id", job.ID, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
				err = types.NewTransientDeliveryError(fmt.Sprintf("panic: %v", r), nil)
			}
		}()
		return next(ctx, job)
	}
}

// timeoutSender bounds every Send by d, returning a transient failure when
// the wrapped sender does not return in time, even if it ignores ctx. A panic
// in the wrapped sender is also reported as a transient failure.
type timeoutSender struct {
	next types.PushSender
	d    time.Duration
}

func withSendTimeout(next types.PushSender, d time.Duration) types.PushSender {
	if d <= 0 {
		return next
	}
	return timeoutSender{next: next, d: d}
}

func (s timeoutSender) Send(ctx context.Context, token string, payload map[string]any) error {
	ctx, cancel := context.WithTimeout(ctx, s.d)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		// Panics here are not visible to withRecover.
		defer func() {
			if r := recover(); r != nil {
				done <- types.NewTransientDeliveryError(fmt.Sprintf("push send panic: %v", r), nil)
			}
		}()
		done <- s.next.Send(ctx, token, payload)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return types.NewTransientDeliveryError("push send timed out", ctx.Err())
	}
}
