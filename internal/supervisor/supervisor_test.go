package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medtrack/internal/types"
)

type mockLogger struct{}

func (l *mockLogger) Info(msg string, args ...any)  {}
func (l *mockLogger) Error(msg string, args ...any) {}
func (l *mockLogger) Warn(msg string, args ...any)  {}
func (l *mockLogger) With(args ...any) types.Logger { return l }

// fakeRunner runs fn on each start and counts starts.
type fakeRunner struct {
	name   string
	starts atomic.Int32
	fn     func(pollCtx, workCtx context.Context, start int32) error
}

func (r *fakeRunner) Name() string { return r.name }

func (r *fakeRunner) Run(pollCtx, workCtx context.Context) error {
	return r.fn(pollCtx, workCtx, r.starts.Add(1))
}

func untilPollDone(pollCtx, _ context.Context, _ int32) error {
	<-pollCtx.Done()
	return nil
}

func newSupervisor(drain time.Duration, runners ...Runner) *Supervisor {
	return New(Config{DrainTimeout: drain, RestartBackoff: time.Millisecond}, types.RealClock{}, &mockLogger{}, runners...)
}

func runAsync(ctx context.Context, s *Supervisor) <-chan error {
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop")
		return nil
	}
}

func TestRun_GracefulStop(t *testing.T) {
	a := &fakeRunner{name: "worker-1", fn: untilPollDone}
	b := &fakeRunner{name: "dlq-1", fn: untilPollDone}
	s := newSupervisor(time.Second, a, b)

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, s)
	require.Eventually(t, s.Healthy, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, wait(t, done), context.Canceled)
	for _, st := range s.Status() {
		assert.Equal(t, StateStopped, st.State, st.Name)
		assert.Zero(t, st.Restarts)
	}
}

func TestRun_InFlightWorkFinishesWithinDrain(t *testing.T) {
	var finished atomic.Bool
	r := &fakeRunner{name: "worker-1", fn: func(pollCtx, workCtx context.Context, _ int32) error {
		<-pollCtx.Done()
		select {
		case <-time.After(20 * time.Millisecond):
			finished.Store(true)
		case <-workCtx.Done():
		}
		return nil
	}}
	s := newSupervisor(time.Second, r)

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, s)
	require.Eventually(t, s.Healthy, time.Second, time.Millisecond)
	cancel()
	wait(t, done)

	assert.True(t, finished.Load())
}

func TestRun_DrainTimeoutCancelsWork(t *testing.T) {
	var hardStopped atomic.Bool
	r := &fakeRunner{name: "worker-1", fn: func(pollCtx, workCtx context.Context, _ int32) error {
		<-pollCtx.Done()
		<-workCtx.Done()
		hardStopped.Store(true)
		return nil
	}}
	s := newSupervisor(10*time.Millisecond, r)

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, s)
	require.Eventually(t, s.Healthy, time.Second, time.Millisecond)
	cancel()
	wait(t, done)

	assert.True(t, hardStopped.Load())
}

func TestRun_RestartsFailedRunner(t *testing.T) {
	tests := []struct {
		name    string
		fail    func() error
		wantErr string
	}{
		{"error", func() error { return errors.New("store gone") }, "store gone"},
		{"panic", func() error { panic("boom") }, "panic: boom"},
		{"unexpected exit", func() error { return nil }, "runner exited unexpectedly"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRunner{name: "worker-1", fn: func(pollCtx, workCtx context.Context, start int32) error {
				if start == 1 {
					return tt.fail()
				}
				return untilPollDone(pollCtx, workCtx, start)
			}}
			s := newSupervisor(time.Second, r)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			done := runAsync(ctx, s)

			require.Eventually(t, func() bool { return r.starts.Load() == 2 && s.Healthy() }, time.Second, time.Millisecond)
			st := s.Status()[0]
			assert.Equal(t, 1, st.Restarts)
			assert.Contains(t, st.LastError, tt.wantErr)
			assert.False(t, st.LastErrorAt.IsZero())

			cancel()
			wait(t, done)
		})
	}
}

func TestStatus_BeforeRun(t *testing.T) {
	s := newSupervisor(time.Second, &fakeRunner{name: "worker-1", fn: untilPollDone})
	assert.Equal(t, []RunnerStatus{{Name: "worker-1", State: StateStopped}}, s.Status())
	assert.False(t, s.Healthy())
}
