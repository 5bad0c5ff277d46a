package alerting

import (
	"context"
	"fmt"

	"medtrack/internal/notifications/webhook"
	"medtrack/internal/types"
)

// CategoryServerError is the limiter category for unhandled server errors.
const CategoryServerError = "SERVER_ERROR"

// ServerErrorReporter alerts operators about unexpected server errors through
// the shared limiter and webhook.
type ServerErrorReporter struct {
	limiter  *Limiter
	notifier *webhook.Notifier
	clock    types.Clock
	logger   types.Logger
	service  string
}

// NewServerErrorReporter creates a reporter.
func NewServerErrorReporter(limiter *Limiter, notifier *webhook.Notifier, clock types.Clock, logger types.Logger, service string) *ServerErrorReporter {
	return &ServerErrorReporter{limiter: limiter, notifier: notifier, clock: clock, logger: logger, service: service}
}

// Report sends a CRITICAL alert for err raised while serving route, subject
// to the rate limit. Failures are logged.
func (r *ServerErrorReporter) Report(ctx context.Context, route string, err error) {
	if !r.limiter.Allow(ctx, CategoryServerError, types.SeverityCritical) {
		return
	}
	if !r.notifier.Enabled() {
		r.logger.Error("Server error (no alert webhook configured)", "route", route, "error", err)
		return
	}

	alert := webhook.Alert{
		Kind:        webhook.KindServerError,
		Title:       "Server error in " + r.service,
		Description: truncate(fmt.Sprint(err), 1000),
		Severity:    types.SeverityCritical,
		Fields: []webhook.Field{
			{Name: "Route", Value: route, Inline: true},
			{Name: "Error type", Value: fmt.Sprintf("%T", err), Inline: true},
			{Name: "Trace ID", Value: types.GetRequestID(ctx)},
		},
		Footer: r.service,
		At:     r.clock.Now(),
	}
	if sendErr := r.notifier.Send(ctx, alert); sendErr != nil {
		r.logger.Error("Failed to send server error alert", "route", route, "error", sendErr)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
