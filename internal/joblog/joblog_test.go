package joblog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medtrack/internal/types"
)

// mockClock is a settable types.Clock.
type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// mockLogger implements types.Logger as a no-op for tests.
type mockLogger struct{}

func (l *mockLogger) Info(msg string, args ...any)  {}
func (l *mockLogger) Error(msg string, args ...any) {}
func (l *mockLogger) Warn(msg string, args ...any)  {}
func (l *mockLogger) With(args ...any) types.Logger { return l }

type countingRecorder struct {
	mu         sync.Mutex
	enqueued   int
	duplicates int
}

func (r *countingRecorder) RecordEnqueue(_ types.Category, duplicate bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if duplicate {
		r.duplicates++
		return
	}
	r.enqueued++
}

var t0 = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

const (
	group    = "push-delivery"
	deadGrp  = "dead-letter"
	consumer = "worker-a"
)

func newTestLog(t *testing.T, opts Options) (*JobLog, *mockClock) {
	t.Helper()
	if opts.Stream == "" {
		opts.Stream = "notifications"
	}
	if opts.ClaimLease == 0 {
		opts.ClaimLease = time.Minute
	}
	clock := &mockClock{now: t0}
	return New(NewMemoryStore(), opts, &mockLogger{}, WithClock(clock)), clock
}

func reminder(member int64) types.NotificationJob {
	return types.NotificationJob{
		Category:       types.CategoryMissedDoseReminder,
		TargetMemberID: member,
		Payload:        map[string]any{types.PayloadTitle: "Missed dose", types.PayloadBody: "Metformin 08:00"},
	}
}

func pollNow(t *testing.T, l *JobLog, group, consumer string, n int) []types.NotificationJob {
	t.Helper()
	jobs, err := l.Poll(context.Background(), group, consumer, n, 0)
	require.NoError(t, err)
	return jobs
}

func TestEnqueue_AssignsDefaults(t *testing.T) {
	l, _ := newTestLog(t, Options{MaxAttempts: 3})

	id, err := l.Enqueue(context.Background(), reminder(7))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	jobs := pollNow(t, l, group, consumer, 10)
	require.Len(t, jobs, 1)
	got := jobs[0]
	assert.Equal(t, id, got.ID)
	assert.Equal(t, 3, got.MaxAttempts)
	assert.Equal(t, 0, got.Attempt)
	assert.True(t, got.EnqueuedAt.Equal(t0))
	assert.True(t, got.NotBefore.Equal(t0))
	assert.Equal(t, "Missed dose", got.Title())
}

func TestEnqueue_RejectsInvalidJob(t *testing.T) {
	l, _ := newTestLog(t, Options{})

	tests := []struct {
		name string
		job  types.NotificationJob
	}{
		{"unknown category", types.NotificationJob{Category: "SMS", TargetMemberID: 1}},
		{"missing member", types.NotificationJob{Category: types.CategorySystemAlert}},
		{"attempt beyond max", types.NotificationJob{Category: types.CategorySystemAlert, TargetMemberID: 1, Attempt: 4, MaxAttempts: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Enqueue(context.Background(), tt.job)
			require.Error(t, err)
			assert.Equal(t, types.ErrCodeValidationInvalidJob, types.CodeOf(err))
		})
	}
}

func TestPartition_IsStablePerMember(t *testing.T) {
	l, _ := newTestLog(t, Options{Partitions: 8})

	for member := int64(1); member < 50; member++ {
		p := l.partition(member)
		if p < 0 || p >= 8 {
			t.Fatalf("partition(%d) = %d, outside [0, 8)", member, p)
		}
		if again := l.partition(member); again != p {
			t.Errorf("partition(%d) not stable: %d then %d", member, p, again)
		}
	}
}

func TestPoll_PreservesPerMemberOrder(t *testing.T) {
	l, _ := newTestLog(t, Options{Partitions: 4})
	ctx := context.Background()

	var want []types.JobID
	for i := 0; i < 5; i++ {
		id, err := l.Enqueue(ctx, reminder(42))
		require.NoError(t, err)
		want = append(want, id)
	}

	jobs := pollNow(t, l, group, consumer, 10)
	var got []types.JobID
	for _, j := range jobs {
		got = append(got, j.ID)
	}
	assert.Equal(t, want, got)
}

func TestPoll_LeaseHidesJobUntilExpiry(t *testing.T) {
	l, clock := newTestLog(t, Options{ClaimLease: 30 * time.Second})
	ctx := context.Background()

	id, err := l.Enqueue(ctx, reminder(7))
	require.NoError(t, err)

	require.Len(t, pollNow(t, l, group, "worker-a", 1), 1)
	assert.Empty(t, pollNow(t, l, group, "worker-b", 1), "leased job must not be handed to a second consumer")

	clock.Advance(31 * time.Second)
	jobs := pollNow(t, l, group, "worker-b", 1)
	require.Len(t, jobs, 1, "expired lease must make the job visible again")
	assert.Equal(t, id, jobs[0].ID)
}

func TestPoll_GroupsConsumeIndependently(t *testing.T) {
	l, _ := newTestLog(t, Options{})
	ctx := context.Background()

	_, err := l.Enqueue(ctx, reminder(7))
	require.NoError(t, err)

	a := pollNow(t, l, "group-a", consumer, 1)
	b := pollNow(t, l, "group-b", consumer, 1)
	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, a[0].ID, b[0].ID)
}

func TestPoll_RespectsNotBefore(t *testing.T) {
	l, clock := newTestLog(t, Options{})
	ctx := context.Background()

	job := reminder(7)
	job.NotBefore = t0.Add(time.Hour)
	_, err := l.Enqueue(ctx, job)
	require.NoError(t, err)

	assert.Empty(t, pollNow(t, l, group, consumer, 1))
	clock.Advance(time.Hour)
	assert.Len(t, pollNow(t, l, group, consumer, 1), 1)
}

func TestAck_RemovesJobAndIsIdempotent(t *testing.T) {
	l, clock := newTestLog(t, Options{ClaimLease: time.Second})
	ctx := context.Background()

	id, err := l.Enqueue(ctx, reminder(7))
	require.NoError(t, err)
	require.Len(t, pollNow(t, l, group, consumer, 1), 1)

	require.NoError(t, l.Ack(ctx, group, id))
	require.NoError(t, l.Ack(ctx, group, id))
	require.NoError(t, l.Ack(ctx, group, "unknown"))

	clock.Advance(time.Minute)
	assert.Empty(t, pollNow(t, l, group, consumer, 1))
}

func TestNack_SchedulesRetryForSameGroupOnly(t *testing.T) {
	l, clock := newTestLog(t, Options{MaxAttempts: 3})
	ctx := context.Background()

	id, err := l.Enqueue(ctx, reminder(7))
	require.NoError(t, err)
	jobs := pollNow(t, l, group, consumer, 1)
	require.Len(t, jobs, 1)

	require.NoError(t, l.Nack(ctx, group, jobs[0], 10*time.Second))
	assert.Empty(t, pollNow(t, l, group, consumer, 1), "retry must wait for its backoff")

	clock.Advance(10 * time.Second)
	retry := pollNow(t, l, group, consumer, 1)
	require.Len(t, retry, 1)
	assert.Equal(t, id, retry[0].ID)
	assert.Equal(t, 1, retry[0].Attempt)
	assert.True(t, retry[0].LastAttemptAt.Equal(t0))

	// Another group still sees the original entry and never the retry.
	other := pollNow(t, l, "audit", consumer, 10)
	require.Len(t, other, 1)
	assert.Equal(t, 0, other[0].Attempt)
}

func TestNack_RejectsExhaustedJob(t *testing.T) {
	l, _ := newTestLog(t, Options{MaxAttempts: 1})
	ctx := context.Background()

	_, err := l.Enqueue(ctx, reminder(7))
	require.NoError(t, err)
	jobs := pollNow(t, l, group, consumer, 1)
	require.Len(t, jobs, 1)
	require.NoError(t, l.Nack(ctx, group, jobs[0], 0))

	retry := pollNow(t, l, group, consumer, 1)
	require.Len(t, retry, 1)
	err = l.Nack(ctx, group, retry[0], 0)
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeValidationInvalidJob, types.CodeOf(err))
}

func TestNack_AfterAckIsIgnored(t *testing.T) {
	l, clock := newTestLog(t, Options{})
	ctx := context.Background()

	_, err := l.Enqueue(ctx, reminder(7))
	require.NoError(t, err)
	jobs := pollNow(t, l, group, consumer, 1)
	require.NoError(t, l.Ack(ctx, group, jobs[0].ID))

	require.NoError(t, l.Nack(ctx, group, jobs[0], 0))
	clock.Advance(time.Hour)
	assert.Empty(t, pollNow(t, l, group, consumer, 1))
}

func TestDeadLetter_ExactlyOnce(t *testing.T) {
	l, _ := newTestLog(t, Options{})
	ctx := context.Background()

	_, err := l.Enqueue(ctx, reminder(7))
	require.NoError(t, err)
	jobs := pollNow(t, l, group, consumer, 1)
	require.Len(t, jobs, 1)

	require.NoError(t, l.DeadLetter(ctx, jobs[0], "push rejected"))
	require.NoError(t, l.DeadLetter(ctx, jobs[0], "push rejected again"))

	dead, err := l.PollDead(ctx, deadGrp, consumer, 10, 0)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, jobs[0].ID, dead[0].Job.ID)
	assert.Equal(t, "push rejected", dead[0].FailureReason)
	assert.True(t, dead[0].DeadLetteredAt.Equal(t0))

	require.NoError(t, l.AckDead(ctx, deadGrp, dead[0].Job.ID))
	dead, err = l.PollDead(ctx, deadGrp, consumer, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, dead)
}

func TestDeadLetter_TombstonesPendingRetries(t *testing.T) {
	l, clock := newTestLog(t, Options{})
	ctx := context.Background()

	_, err := l.Enqueue(ctx, reminder(7))
	require.NoError(t, err)
	jobs := pollNow(t, l, group, consumer, 1)
	require.NoError(t, l.Nack(ctx, group, jobs[0], time.Second))
	require.NoError(t, l.DeadLetter(ctx, jobs[0], "operator abort"))

	clock.Advance(time.Hour)
	assert.Empty(t, pollNow(t, l, group, consumer, 10))
	assert.Empty(t, pollNow(t, l, "audit", consumer, 10))
}

func TestFingerprint_DeduplicatesWhileLive(t *testing.T) {
	rec := &countingRecorder{}
	clock := &mockClock{now: t0}
	l := New(NewMemoryStore(), Options{Stream: "notifications"}, &mockLogger{}, WithClock(clock), WithRecorder(rec))
	ctx := context.Background()

	job := reminder(7)
	job.Fingerprint = "missed_dose:7:2026-06-01"

	first, err := l.Enqueue(ctx, job)
	require.NoError(t, err)
	second, err := l.Enqueue(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, pollNow(t, l, group, consumer, 10), 1)

	// A retry still holds the fingerprint.
	jobs := pollNow(t, l, group, "other", 10)
	assert.Empty(t, jobs)
	clock.Advance(2 * time.Minute)
	jobs = pollNow(t, l, group, consumer, 10)
	require.Len(t, jobs, 1)
	require.NoError(t, l.Nack(ctx, group, jobs[0], time.Minute))
	again, err := l.Enqueue(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	// Once acked the fingerprint is free.
	clock.Advance(time.Minute)
	jobs = pollNow(t, l, group, consumer, 10)
	require.Len(t, jobs, 1)
	require.NoError(t, l.Ack(ctx, group, jobs[0].ID))
	third, err := l.Enqueue(ctx, job)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)

	assert.Equal(t, 2, rec.enqueued)
	assert.Equal(t, 2, rec.duplicates)
}

func TestFingerprint_ReleasedByDeadLetter(t *testing.T) {
	l, _ := newTestLog(t, Options{})
	ctx := context.Background()

	job := reminder(7)
	job.Fingerprint = "side_effect_nudge:99"
	first, err := l.Enqueue(ctx, job)
	require.NoError(t, err)

	job.ID = first
	require.NoError(t, l.DeadLetter(ctx, job, "invalid token"))

	job.ID = ""
	second, err := l.Enqueue(ctx, job)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestResetCursor_RedeliversAckedJobs(t *testing.T) {
	l, _ := newTestLog(t, Options{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := l.Enqueue(ctx, reminder(7))
		require.NoError(t, err)
	}
	for _, j := range pollNow(t, l, group, consumer, 10) {
		require.NoError(t, l.Ack(ctx, group, j.ID))
	}
	stats, err := l.Stats(ctx, l.Stream(), group)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Partitions[0].Cursor)

	require.NoError(t, l.ResetCursor(ctx, l.Stream(), group, 0, 1))
	jobs := pollNow(t, l, group, consumer, 10)
	assert.Len(t, jobs, 1, "only entries after the new offset are redelivered")
}

func TestResetCursor_Validation(t *testing.T) {
	l, _ := newTestLog(t, Options{Partitions: 2})
	ctx := context.Background()

	tests := []struct {
		name      string
		stream    string
		partition int
		offset    int64
		code      types.ErrorCode
	}{
		{"unknown stream", "nope", 0, 0, types.ErrCodeNotFoundStream},
		{"partition out of range", l.Stream(), 2, 0, types.ErrCodeValidationMissingField},
		{"negative offset", l.Stream(), 0, -1, types.ErrCodeValidationMissingField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := l.ResetCursor(ctx, tt.stream, group, tt.partition, tt.offset)
			assert.Equal(t, tt.code, types.CodeOf(err))
		})
	}
}

func TestStats_ClassifiesEntries(t *testing.T) {
	l, _ := newTestLog(t, Options{})
	ctx := context.Background()
	require.NoError(t, l.EnsureGroup(ctx, l.Stream(), group))

	enqueue := func(notBefore time.Time) types.NotificationJob {
		job := reminder(7)
		job.NotBefore = notBefore
		id, err := l.Enqueue(ctx, job)
		require.NoError(t, err)
		job.ID = id
		return job
	}
	first := enqueue(time.Time{})
	enqueue(time.Time{})
	enqueue(t0.Add(time.Hour))
	doomed := enqueue(time.Time{})

	jobs := pollNow(t, l, group, consumer, 1)
	require.Equal(t, first.ID, jobs[0].ID)
	require.NoError(t, l.Ack(ctx, group, first.ID))
	require.Len(t, pollNow(t, l, group, consumer, 1), 1)
	require.NoError(t, l.DeadLetter(ctx, doomed, "test"))
	enqueue(time.Time{})

	stats, err := l.Stats(ctx, l.Stream(), group)
	require.NoError(t, err)
	assert.Equal(t, PartitionStats{Partition: -1, Pending: 1, Leased: 1, Delayed: 1, Acked: 1, Dead: 1}, stats.Total)
	require.Len(t, stats.Partitions, 1)
	assert.Equal(t, int64(1), stats.Partitions[0].Cursor)

	dead, err := l.Stats(ctx, l.DeadStream(), deadGrp)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dead.Total.Pending)

	_, err = l.Stats(ctx, "unknown", group)
	assert.Equal(t, types.ErrCodeNotFoundStream, types.CodeOf(err))
}

func TestPoll_TimesOutEmpty(t *testing.T) {
	l := New(NewMemoryStore(), Options{Stream: "notifications", PollInterval: 5 * time.Millisecond}, &mockLogger{})

	start := time.Now()
	jobs, err := l.Poll(context.Background(), group, consumer, 1, 30*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, jobs)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestPoll_WokenByEnqueue(t *testing.T) {
	l := New(NewMemoryStore(), Options{Stream: "notifications", PollInterval: time.Hour}, &mockLogger{})

	done := make(chan []types.NotificationJob, 1)
	go func() {
		jobs, _ := l.Poll(context.Background(), group, consumer, 1, time.Hour)
		done <- jobs
	}()

	time.Sleep(20 * time.Millisecond)
	_, err := l.Enqueue(context.Background(), reminder(7))
	require.NoError(t, err)

	select {
	case jobs := <-done:
		assert.Len(t, jobs, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("poll was not woken by enqueue")
	}
}

func TestPoll_ContextCancelled(t *testing.T) {
	l := New(NewMemoryStore(), Options{Stream: "notifications", PollInterval: time.Hour}, &mockLogger{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := l.Poll(ctx, group, consumer, 1, time.Hour)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPoll_DeadLettersUndecodableEntries(t *testing.T) {
	store := NewMemoryStore()
	l := New(store, Options{Stream: "notifications"}, &mockLogger{}, WithClock(&mockClock{now: t0}))
	ctx := context.Background()

	_, _, err := store.Append(ctx, Entry{Stream: "notifications", ID: "garbage", NotBefore: t0, Body: []byte("{not json")})
	require.NoError(t, err)
	_, err = l.Enqueue(ctx, reminder(7))
	require.NoError(t, err)

	jobs := pollNow(t, l, group, consumer, 10)
	require.Len(t, jobs, 1)

	dead, err := l.PollDead(ctx, deadGrp, consumer, 10, 0)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, types.JobID("garbage"), dead[0].Job.ID)
	assert.Contains(t, dead[0].FailureReason, "undecodable")
}

// failingStore fails every call.
type failingStore struct{ Store }

var errDown = errors.New("connection refused")

func (failingStore) Append(context.Context, Entry) (types.JobID, bool, error) {
	return "", false, errDown
}

func (failingStore) Claim(context.Context, string, string, string, time.Time, time.Duration, int) ([]Entry, error) {
	return nil, errDown
}

func (failingStore) Ack(context.Context, string, string, types.JobID) error { return errDown }

func TestStoreFailuresSurfaceAsStorageErrors(t *testing.T) {
	l := New(failingStore{}, Options{Stream: "notifications"}, &mockLogger{})
	ctx := context.Background()

	_, err := l.Enqueue(ctx, reminder(7))
	assert.True(t, types.IsStorageError(err))
	assert.ErrorIs(t, err, errDown)

	_, err = l.Poll(ctx, group, consumer, 1, 0)
	assert.True(t, types.IsStorageError(err))

	assert.True(t, types.IsStorageError(l.Ack(ctx, group, "x")))
}
