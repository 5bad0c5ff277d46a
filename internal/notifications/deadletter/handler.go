// Package deadletter turns dead-lettered jobs into rate-limited operator
// alerts.
package deadletter

import (
	"context"
	"fmt"
	"time"

	"medtrack/internal/alerting"
	"medtrack/internal/notifications/webhook"
	"medtrack/internal/types"
)

// DeadQueue is the slice of the job log the handler consumes.
type DeadQueue interface {
	PollDead(ctx context.Context, group, consumer string, batchSize int, pollTimeout time.Duration) ([]types.DeadLetterRecord, error)
	AckDead(ctx context.Context, group string, id types.JobID) error
}

// Limiter decides whether an alert may be sent.
type Limiter interface {
	Allow(ctx context.Context, category string, severity types.Severity) bool
}

// Config tunes the handler's polling.
type Config struct {
	Group        string
	Consumer     string
	BatchSize    int
	PollTimeout  time.Duration
	ErrorBackoff time.Duration
}

// Handler consumes the dead-letter stream in its own consumer group.
type Handler struct {
	queue    DeadQueue
	limiter  Limiter
	notifier *webhook.Notifier
	pseudo   *alerting.Pseudonymizer
	clock    types.Clock
	logger   types.Logger
	cfg      Config
}

// New creates a Handler. A disabled notifier makes the handler log-only.
func New(cfg Config, queue DeadQueue, limiter Limiter, notifier *webhook.Notifier, pseudo *alerting.Pseudonymizer, clock types.Clock, logger types.Logger) *Handler {
	return &Handler{
		queue:    queue,
		limiter:  limiter,
		notifier: notifier,
		pseudo:   pseudo,
		clock:    clock,
		logger:   logger.With("component", "dead_letter_handler", "consumer", cfg.Consumer),
		cfg:      cfg,
	}
}

// Name identifies the handler to the supervisor.
func (h *Handler) Name() string { return h.cfg.Consumer }

// Run polls the dead-letter stream until pollCtx is done.
func (h *Handler) Run(pollCtx, workCtx context.Context) error {
	h.logger.Info("Dead-letter handler started", "group", h.cfg.Group)
	defer h.logger.Info("Dead-letter handler stopped")

	for pollCtx.Err() == nil {
		records, err := h.queue.PollDead(pollCtx, h.cfg.Group, h.cfg.Consumer, h.cfg.BatchSize, h.cfg.PollTimeout)
		if err != nil {
			if pollCtx.Err() != nil {
				return nil
			}
			h.logger.Error("Dead-letter poll failed", "error", err)
			if !sleep(pollCtx, h.cfg.ErrorBackoff) {
				return nil
			}
			continue
		}
		for _, rec := range records {
			if workCtx.Err() != nil {
				return nil
			}
			h.Handle(workCtx, rec)
		}
	}
	return nil
}

// Handle alerts on one record and always acks it.
func (h *Handler) Handle(ctx context.Context, rec types.DeadLetterRecord) {
	job := rec.Job
	severity := types.SeverityFor(job.Category)
	member := h.pseudo.Member(job.TargetMemberID)
	log := h.logger.With("job_id", job.ID, "category", job.Category, "member", member)

	log.Error("Notification job dead-lettered",
		"reason", rec.FailureReason,
		"attempts", job.Attempt,
		"severity", severity.String(),
	)

	switch {
	case !h.limiter.Allow(ctx, string(job.Category), severity):
		log.Info("Dead-letter alert suppressed by rate limit")
	case !h.notifier.Enabled():
		// Log-only.
	default:
		if err := h.notifier.Send(ctx, h.alert(rec, member, severity)); err != nil {
			log.Error("Failed to send dead-letter alert, dropping", "error", err)
		}
	}

	if err := h.queue.AckDead(ctx, h.cfg.Group, job.ID); err != nil {
		log.Error("Failed to ack dead-letter record", "error", err)
	}
}

func (h *Handler) alert(rec types.DeadLetterRecord, member string, severity types.Severity) webhook.Alert {
	job := rec.Job
	return webhook.Alert{
		Kind:        webhook.KindDeadLetter,
		Title:       "Notification dead-lettered: " + string(job.Category),
		Description: rec.FailureReason,
		Severity:    severity,
		Fields: []webhook.Field{
			{Name: "Job ID", Value: string(job.ID), Inline: true},
			{Name: "Category", Value: string(job.Category), Inline: true},
			{Name: "Member", Value: member, Inline: true},
			{Name: "Attempts", Value: fmt.Sprintf("%d/%d", job.Attempt, job.MaxAttempts), Inline: true},
			{Name: "Dead-lettered at", Value: rec.DeadLetteredAt.UTC().Format(time.RFC3339), Inline: true},
			{Name: "Enqueued at", Value: job.EnqueuedAt.UTC().Format(time.RFC3339), Inline: true},
			{Name: "Reason", Value: rec.FailureReason},
		},
		Footer: "medtrack dead-letter handler",
		At:     h.clock.Now(),
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
