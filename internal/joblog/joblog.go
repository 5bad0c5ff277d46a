// Package joblog is the durable, partitioned job log the notification pipeline
// is built on. Producers append jobs; consumer groups claim them under a lease
// and ack, nack (retry later) or dead-letter them.
package joblog

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"medtrack/internal/types"
)

// Options configures a JobLog.
type Options struct {
	Stream       string
	DeadStream   string
	Partitions   int
	MaxAttempts  int
	ClaimLease   time.Duration
	PollInterval time.Duration
}

// Recorder receives enqueue telemetry. Optional.
type Recorder interface {
	RecordEnqueue(category types.Category, duplicate bool)
}

// JobLog implements types.Producer on top of a Store.
type JobLog struct {
	store    Store
	opts     Options
	clock    types.Clock
	logger   types.Logger
	recorder Recorder

	mu   sync.Mutex
	wake chan struct{}
}

// Option customizes a JobLog.
type Option func(*JobLog)

// WithClock overrides the clock.
func WithClock(c types.Clock) Option {
	return func(l *JobLog) { l.clock = c }
}

// WithRecorder attaches enqueue telemetry.
func WithRecorder(r Recorder) Option {
	return func(l *JobLog) { l.recorder = r }
}

// New creates a JobLog. Zero options fall back to single-partition defaults.
func New(store Store, opts Options, logger types.Logger, options ...Option) *JobLog {
	if opts.Partitions <= 0 {
		opts.Partitions = 1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.ClaimLease <= 0 {
		opts.ClaimLease = 60 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.DeadStream == "" {
		opts.DeadStream = opts.Stream + ".dead"
	}
	l := &JobLog{
		store:  store,
		opts:   opts,
		clock:  types.RealClock{},
		logger: logger.With("component", "joblog", "stream", opts.Stream),
		wake:   make(chan struct{}),
	}
	for _, o := range options {
		o(l)
	}
	return l
}

// Stream returns the job stream name.
func (l *JobLog) Stream() string { return l.opts.Stream }

// DeadStream returns the dead-letter stream name.
func (l *JobLog) DeadStream() string { return l.opts.DeadStream }

// partition maps a member to its partition, so a member's jobs share one
// partition in append order. Leases are per entry, so consumers in one group
// may still process them concurrently.
func (l *JobLog) partition(memberID int64) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strconv.FormatInt(memberID, 10)))
	return int(h.Sum32() % uint32(l.opts.Partitions))
}

func (l *JobLog) waitChan() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.wake
}

func (l *JobLog) notify() {
	l.mu.Lock()
	close(l.wake)
	l.wake = make(chan struct{})
	l.mu.Unlock()
}

// Enqueue appends job and returns its ID without waiting for delivery. When
// the job's fingerprint is already held by a live job, the holder's ID is
// returned and nothing is appended.
func (l *JobLog) Enqueue(ctx context.Context, job types.NotificationJob) (types.JobID, error) {
	if err := job.Validate(); err != nil {
		return "", err
	}
	now := l.clock.Now()
	if job.ID == "" {
		job.ID = types.JobID(uuid.NewString())
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = l.opts.MaxAttempts
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = now
	}
	if job.NotBefore.IsZero() {
		job.NotBefore = now
	}

	body, err := json.Marshal(job)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeValidationInvalidJob, "job payload is not serializable", err)
	}
	id, dup, err := l.store.Append(ctx, Entry{
		Stream:      l.opts.Stream,
		Partition:   l.partition(job.TargetMemberID),
		ID:          job.ID,
		Fingerprint: job.Fingerprint,
		NotBefore:   job.NotBefore,
		Body:        body,
	})
	if err != nil {
		return "", types.NewStorageError("enqueue", err)
	}
	if l.recorder != nil {
		l.recorder.RecordEnqueue(job.Category, dup)
	}
	if dup {
		l.logger.Info("Duplicate enqueue suppressed", "job_id", id, "fingerprint", job.Fingerprint)
		return id, nil
	}
	l.notify()
	return id, nil
}

// Poll blocks until at least one job is deliverable to group, pollTimeout
// elapses or ctx is done, and returns up to batchSize jobs leased to consumer.
// An expired timeout returns an empty slice and no error.
func (l *JobLog) Poll(ctx context.Context, group, consumer string, batchSize int, pollTimeout time.Duration) ([]types.NotificationJob, error) {
	entries, err := l.claim(ctx, l.opts.Stream, group, consumer, batchSize, pollTimeout)
	if err != nil {
		return nil, err
	}
	jobs := make([]types.NotificationJob, 0, len(entries))
	for _, e := range entries {
		var job types.NotificationJob
		if err := json.Unmarshal(e.Body, &job); err != nil {
			l.logger.Error("Undecodable job entry", "job_id", e.ID, "seq", e.Seq, "error", err)
			if derr := l.DeadLetter(ctx, types.NotificationJob{ID: e.ID}, "undecodable entry: "+err.Error()); derr != nil {
				return nil, derr
			}
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// PollDead is Poll for the dead-letter stream.
func (l *JobLog) PollDead(ctx context.Context, group, consumer string, batchSize int, pollTimeout time.Duration) ([]types.DeadLetterRecord, error) {
	entries, err := l.claim(ctx, l.opts.DeadStream, group, consumer, batchSize, pollTimeout)
	if err != nil {
		return nil, err
	}
	records := make([]types.DeadLetterRecord, 0, len(entries))
	for _, e := range entries {
		var rec types.DeadLetterRecord
		if err := json.Unmarshal(e.Body, &rec); err != nil {
			l.logger.Error("Undecodable dead-letter entry, acking", "job_id", e.ID, "seq", e.Seq, "error", err)
			if aerr := l.AckDead(ctx, group, e.ID); aerr != nil {
				return nil, aerr
			}
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (l *JobLog) claim(ctx context.Context, stream, group, consumer string, batchSize int, pollTimeout time.Duration) ([]Entry, error) {
	if batchSize <= 0 {
		batchSize = 1
	}
	deadline := l.clock.Now().Add(pollTimeout)
	for {
		wake := l.waitChan()
		now := l.clock.Now()
		entries, err := l.store.Claim(ctx, stream, group, consumer, now, l.opts.ClaimLease, batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, types.NewStorageError("poll", err)
		}
		if len(entries) > 0 {
			return entries, nil
		}

		remaining := deadline.Sub(now)
		if remaining <= 0 {
			return nil, nil
		}
		timer := time.NewTimer(min(l.opts.PollInterval, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Ack marks job id as handled by group. Acking an unknown or already acked id
// is a no-op.
func (l *JobLog) Ack(ctx context.Context, group string, id types.JobID) error {
	if err := l.store.Ack(ctx, l.opts.Stream, group, id); err != nil {
		return types.NewStorageError("ack", err)
	}
	return nil
}

// AckDead acks a dead-letter record for group.
func (l *JobLog) AckDead(ctx context.Context, group string, id types.JobID) error {
	if err := l.store.Ack(ctx, l.opts.DeadStream, group, id); err != nil {
		return types.NewStorageError("ack dead letter", err)
	}
	return nil
}

// Nack acks job's current entry for group and schedules the next attempt
// after backoff, visible to group only.
func (l *JobLog) Nack(ctx context.Context, group string, job types.NotificationJob, backoff time.Duration) error {
	if job.Attempt+1 > job.MaxAttempts {
		return types.NewAppError(types.ErrCodeValidationInvalidJob,
			fmt.Sprintf("job %s has no attempts left (%d of %d)", job.ID, job.Attempt, job.MaxAttempts), nil)
	}
	now := l.clock.Now()
	job.Attempt++
	job.LastAttemptAt = now
	job.NotBefore = now.Add(backoff)

	body, err := json.Marshal(job)
	if err != nil {
		return types.NewAppError(types.ErrCodeValidationInvalidJob, "job payload is not serializable", err)
	}
	ok, err := l.store.Nack(ctx, group, Entry{
		Stream:      l.opts.Stream,
		Partition:   l.partition(job.TargetMemberID),
		ID:          job.ID,
		Fingerprint: job.Fingerprint,
		NotBefore:   job.NotBefore,
		Body:        body,
	})
	if err != nil {
		return types.NewStorageError("nack", err)
	}
	if !ok {
		l.logger.Warn("Nack for job with no live entry ignored", "job_id", job.ID, "group", group)
	}
	return nil
}

// DeadLetter tombstones every live entry of job and records it on the
// dead-letter stream exactly once.
func (l *JobLog) DeadLetter(ctx context.Context, job types.NotificationJob, reason string) error {
	now := l.clock.Now()
	body, err := json.Marshal(types.DeadLetterRecord{Job: job, FailureReason: reason, DeadLetteredAt: now})
	if err != nil {
		return types.NewAppError(types.ErrCodeValidationInvalidJob, "job payload is not serializable", err)
	}
	ok, err := l.store.DeadLetter(ctx, l.opts.Stream, job.ID, Entry{
		Stream:    l.opts.DeadStream,
		Partition: l.partition(job.TargetMemberID),
		ID:        job.ID,
		NotBefore: now,
		Body:      body,
	})
	if err != nil {
		return types.NewStorageError("dead letter", err)
	}
	if !ok {
		l.logger.Info("Job already dead-lettered", "job_id", job.ID)
		return nil
	}
	l.logger.Warn("Job dead-lettered", "job_id", job.ID, "category", job.Category, "attempt", job.Attempt, "reason", reason)
	l.notify()
	return nil
}

// EnsureGroup registers group on stream for every partition.
func (l *JobLog) EnsureGroup(ctx context.Context, stream, group string) error {
	if err := l.checkStream(stream); err != nil {
		return err
	}
	if err := l.store.EnsureGroup(ctx, stream, group, l.opts.Partitions); err != nil {
		return types.NewStorageError("ensure group", err)
	}
	return nil
}

// ResetCursor rewinds (or forwards) group's position on a partition. Entries
// after offset are redelivered to group.
func (l *JobLog) ResetCursor(ctx context.Context, stream, group string, partition int, offset int64) error {
	if err := l.checkStream(stream); err != nil {
		return err
	}
	if partition < 0 || partition >= l.opts.Partitions {
		return types.NewAppError(types.ErrCodeValidationMissingField,
			fmt.Sprintf("partition %d outside [0, %d)", partition, l.opts.Partitions), nil)
	}
	if offset < 0 {
		return types.NewAppError(types.ErrCodeValidationMissingField, "offset must not be negative", nil)
	}
	if err := l.store.ResetCursor(ctx, stream, group, partition, offset); err != nil {
		return types.NewStorageError("reset cursor", err)
	}
	l.logger.Warn("Cursor reset", "target_stream", stream, "group", group, "partition", partition, "offset", offset)
	l.notify()
	return nil
}

// Stats reports the group's view of stream.
func (l *JobLog) Stats(ctx context.Context, stream, group string) (Stats, error) {
	if err := l.checkStream(stream); err != nil {
		return Stats{}, err
	}
	parts, err := l.store.Stats(ctx, stream, group, l.clock.Now())
	if err != nil {
		return Stats{}, types.NewStorageError("stats", err)
	}
	return summarize(stream, group, parts), nil
}

// Purge deletes up to limit entries of stream that all groups have moved past
// and that became deliverable more than olderThan ago. Cursor resets cannot
// replay purged entries.
func (l *JobLog) Purge(ctx context.Context, stream string, olderThan time.Duration, limit int) (int64, error) {
	if err := l.checkStream(stream); err != nil {
		return 0, err
	}
	n, err := l.store.Purge(ctx, stream, l.clock.Now().Add(-olderThan), limit)
	if err != nil {
		return 0, types.NewStorageError("purge", err)
	}
	return n, nil
}

func (l *JobLog) checkStream(stream string) error {
	if stream != l.opts.Stream && stream != l.opts.DeadStream {
		return types.NewAppError(types.ErrCodeNotFoundStream, fmt.Sprintf("unknown stream %q", stream), nil)
	}
	return nil
}
