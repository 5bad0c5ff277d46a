// Package worker delivers notification jobs from the job log to devices.
//
// Per claimed job: CLAIMED -> DELIVERING -> ACKED | RETRY_SCHEDULED | DEAD.
package worker

import (
	"context"
	"fmt"
	"maps"
	"time"

	"medtrack/internal/notifications/core"
	"medtrack/internal/types"
)

// JobQueue is the slice of the job log a worker consumes.
type JobQueue interface {
	Poll(ctx context.Context, group, consumer string, batchSize int, pollTimeout time.Duration) ([]types.NotificationJob, error)
	Ack(ctx context.Context, group string, id types.JobID) error
	Nack(ctx context.Context, group string, job types.NotificationJob, backoff time.Duration) error
	DeadLetter(ctx context.Context, job types.NotificationJob, reason string) error
}

// Config tunes one worker.
type Config struct {
	Stream       string
	Group        string
	Consumer     string
	BatchSize    int
	PollTimeout  time.Duration
	ErrorBackoff time.Duration
	SendTimeout  time.Duration
	Retry        core.RetryPolicy
}

// Worker is one long-lived consumer in the push delivery group.
type Worker struct {
	queue      JobQueue
	recipients Recipients
	sender     types.PushSender
	policy     *core.PolicyEngine
	metrics    core.PipelineMetrics
	clock      types.Clock
	logger     types.Logger
	cfg        Config
	process    Step
	randFloat  func() float64
}

// New creates a Worker.
func New(cfg Config, queue JobQueue, recipients Recipients, sender types.PushSender, policy *core.PolicyEngine, metrics core.PipelineMetrics, clock types.Clock, logger types.Logger) *Worker {
	w := &Worker{
		queue:      queue,
		recipients: recipients,
		sender:     withSendTimeout(sender, cfg.SendTimeout),
		policy:     policy,
		metrics:    metrics,
		clock:      clock,
		logger:     logger.With("component", "notification_worker", "consumer", cfg.Consumer),
		cfg:        cfg,
	}
	w.process = withRecover(w.deliver, w.logger)
	return w
}

// Name identifies the worker to the supervisor.
func (w *Worker) Name() string { return w.cfg.Consumer }

// Run polls until pollCtx is done. Jobs already claimed keep processing
// under workCtx; if workCtx ends first the job is left to its lease.
func (w *Worker) Run(pollCtx, workCtx context.Context) error {
	w.logger.Info("Worker started", "group", w.cfg.Group, "batch_size", w.cfg.BatchSize)
	defer w.logger.Info("Worker stopped")

	for pollCtx.Err() == nil {
		jobs, err := w.queue.Poll(pollCtx, w.cfg.Group, w.cfg.Consumer, w.cfg.BatchSize, w.cfg.PollTimeout)
		if err != nil {
			if pollCtx.Err() != nil {
				return nil
			}
			w.logger.Error("Poll failed", "error", err)
			if !sleep(pollCtx, w.cfg.ErrorBackoff) {
				return nil
			}
			continue
		}
		for _, job := range jobs {
			if workCtx.Err() != nil {
				return nil
			}
			w.Handle(workCtx, job)
		}
	}
	return nil
}

// Handle drives one job to ack, retry or dead letter.
func (w *Worker) Handle(ctx context.Context, job types.NotificationJob) {
	ctx = types.WithRequestID(ctx, string(job.ID))
	start := w.clock.Now()
	log := w.logger.With("job_id", job.ID, "category", job.Category, "attempt", job.Attempt, "member_id", job.TargetMemberID)
	w.metrics.RecordQueueLag(ctx, w.cfg.Stream, max(start.Sub(job.NotBefore), 0))

	if job.Exhausted() {
		w.deadLetter(ctx, log, job, "max attempts exceeded")
		return
	}

	result, err := w.process(ctx, job)
	if ctx.Err() != nil {
		// Hard stop: leave the job to its lease.
		log.Warn("Shutdown interrupted delivery, job will be redelivered", "error", err)
		return
	}
	w.metrics.RecordLatency(ctx, job.Category, w.clock.Now().Sub(start))

	switch {
	case err == nil:
		if ackErr := w.queue.Ack(ctx, w.cfg.Group, job.ID); ackErr != nil {
			log.Error("Ack failed, job will be redelivered", "error", ackErr)
			return
		}
		w.metrics.RecordOutcome(ctx, job.Category, result)
		log.Info("Job completed", "result", string(result))

	case types.IsPermanentDelivery(err):
		w.deadLetter(ctx, log, job, err.Error())

	case job.Attempt+1 >= job.MaxAttempts:
		job.Attempt++
		job.LastAttemptAt = start
		w.deadLetter(ctx, log, job, "max attempts exceeded: "+err.Error())

	default:
		backoff := core.Backoff(w.cfg.Retry, job.Attempt, w.randFloat)
		if nackErr := w.queue.Nack(ctx, w.cfg.Group, job, backoff); nackErr != nil {
			log.Error("Nack failed, job will be redelivered after its lease", "error", nackErr)
			return
		}
		w.metrics.RecordOutcome(ctx, job.Category, core.MetricRetried)
		log.Warn("Delivery failed, retry scheduled", "error", err, "backoff", backoff.String())
	}
}

func (w *Worker) deadLetter(ctx context.Context, log types.Logger, job types.NotificationJob, reason string) {
	if err := w.queue.DeadLetter(ctx, job, reason); err != nil {
		log.Error("Dead-letter failed, job will be redelivered", "error", err)
		return
	}
	w.metrics.RecordOutcome(ctx, job.Category, core.MetricDead)
}

// deliver resolves the recipient and pushes to every active device.
func (w *Worker) deliver(ctx context.Context, job types.NotificationJob) (core.MetricResult, error) {
	prefs, err := w.recipients.Preferences(ctx, job.TargetMemberID)
	if err != nil {
		return "", types.NewTransientDeliveryError("load notification preferences", err)
	}
	if decision := w.policy.Evaluate(prefs); decision.Decision == core.PolicySkip {
		w.logger.Info("Job skipped by member preferences", "job_id", job.ID, "reason", decision.Reason)
		return core.MetricSkipped, nil
	}

	devices, err := w.recipients.ActiveDevices(ctx, job.TargetMemberID)
	if err != nil {
		return "", types.NewTransientDeliveryError("load device tokens", err)
	}
	if len(devices) == 0 {
		w.logger.Info("Job skipped, member has no active devices", "job_id", job.ID)
		return core.MetricSkipped, nil
	}

	payload := buildPayload(job)
	var (
		delivered int
		transient error
		permanent error
	)
	for _, d := range devices {
		err := w.sender.Send(ctx, d.Token, payload)
		switch {
		case err == nil:
			delivered++
			if touchErr := w.recipients.TouchDevice(ctx, d.ID); touchErr != nil {
				w.logger.Warn("Failed to record device use", "device_id", d.ID, "error", touchErr)
			}
		case types.IsInvalidToken(err):
			permanent = err
			w.logger.Warn("Device token rejected, deactivating", "device_id", d.ID, "device_name", d.DeviceName)
			if deErr := w.recipients.DeactivateDevice(ctx, d.ID); deErr != nil {
				w.logger.Error("Failed to deactivate device token", "device_id", d.ID, "error", deErr)
			}
		case types.IsPermanentDelivery(err):
			permanent = err
		default:
			transient = err
		}
	}

	switch {
	case delivered > 0:
		return core.MetricDelivered, nil
	case transient != nil:
		return "", transient
	default:
		return "", types.NewPermanentDeliveryError(
			fmt.Sprintf("all %d devices rejected the push", len(devices)), permanent)
	}
}

// buildPayload copies the job payload and tags its data with the job identity.
func buildPayload(job types.NotificationJob) map[string]any {
	payload := maps.Clone(job.Payload)
	if payload == nil {
		payload = map[string]any{}
	}
	data := map[string]any{}
	switch d := payload[types.PayloadData].(type) {
	case map[string]any:
		maps.Copy(data, d)
	case map[string]string:
		for k, v := range d {
			data[k] = v
		}
	}
	data["job_id"] = string(job.ID)
	data["category"] = string(job.Category)
	payload[types.PayloadData] = data
	return payload
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
