// Package supervisor runs the pipeline's long-lived consumers.
//
// Shutdown has two phases. Cancelling the context passed to Run stops
// polling; claimed jobs keep running on the work context until they finish
// or DrainTimeout elapses, after which the work context is cancelled and
// unfinished jobs are left to expire their leases.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"medtrack/internal/types"
)

// Runner is a long-lived consumer.
type Runner interface {
	Name() string
	Run(pollCtx, workCtx context.Context) error
}

// State is the lifecycle state of one runner.
type State string

const (
	StateRunning    State = "running"
	StateRestarting State = "restarting"
	StateStopped    State = "stopped"
)

// RunnerStatus is the health view of one runner.
type RunnerStatus struct {
	Name        string    `json:"name"`
	State       State     `json:"state"`
	Restarts    int       `json:"restarts"`
	LastError   string    `json:"last_error,omitempty"`
	LastErrorAt time.Time `json:"last_error_at,omitempty"`
}

// Config tunes shutdown and restarts.
type Config struct {
	DrainTimeout   time.Duration
	RestartBackoff time.Duration
}

// Supervisor owns a fixed set of runners.
type Supervisor struct {
	runners []Runner
	cfg     Config
	clock   types.Clock
	logger  types.Logger

	mu     sync.Mutex
	status []RunnerStatus
}

// New creates a Supervisor for runners.
func New(cfg Config, clock types.Clock, logger types.Logger, runners ...Runner) *Supervisor {
	status := make([]RunnerStatus, len(runners))
	for i, r := range runners {
		status[i] = RunnerStatus{Name: r.Name(), State: StateStopped}
	}
	return &Supervisor{
		runners: runners,
		cfg:     cfg,
		clock:   clock,
		logger:  logger.With("component", "supervisor"),
		status:  status,
	}
}

// Run starts every runner and blocks until all have stopped. ctx is the
// graceful stop signal. Run returns ctx's error once shutdown is complete,
// or nil if the runners were stopped by other means.
func (s *Supervisor) Run(ctx context.Context) error {
	workCtx, hardStop := context.WithCancel(context.WithoutCancel(ctx))
	defer hardStop()

	var g errgroup.Group
	for i, r := range s.runners {
		g.Go(func() error {
			s.supervise(ctx, workCtx, i, r)
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Draining in-flight jobs", "timeout", s.cfg.DrainTimeout.String())
	timer := time.NewTimer(s.cfg.DrainTimeout)
	defer timer.Stop()
	select {
	case <-done:
		s.logger.Info("Drain complete")
	case <-timer.C:
		s.logger.Warn("Drain timeout reached, cancelling in-flight work")
		hardStop()
		<-done
	}
	return ctx.Err()
}

// supervise keeps runner i alive until pollCtx is done.
func (s *Supervisor) supervise(pollCtx, workCtx context.Context, i int, r Runner) {
	for {
		s.setState(i, StateRunning)
		err := runSafely(pollCtx, workCtx, r)
		if pollCtx.Err() != nil {
			s.setState(i, StateStopped)
			return
		}
		if err == nil {
			err = errors.New("runner exited unexpectedly")
		}
		s.recordFailure(i, err)
		s.logger.Error("Runner failed, restarting", "runner", r.Name(), "error", err, "backoff", s.cfg.RestartBackoff.String())

		t := time.NewTimer(s.cfg.RestartBackoff)
		select {
		case <-pollCtx.Done():
			t.Stop()
			s.setState(i, StateStopped)
			return
		case <-t.C:
		}
	}
}

func runSafely(pollCtx, workCtx context.Context, r Runner) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v\n%s", p, debug.Stack())
		}
	}()
	return r.Run(pollCtx, workCtx)
}

func (s *Supervisor) setState(i int, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[i].State = state
}

func (s *Supervisor) recordFailure(i int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &s.status[i]
	st.State = StateRestarting
	st.Restarts++
	st.LastError = err.Error()
	st.LastErrorAt = s.clock.Now()
}

// Status returns a snapshot of every runner's state in registration order.
func (s *Supervisor) Status() []RunnerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RunnerStatus, len(s.status))
	copy(out, s.status)
	return out
}

// Healthy reports whether every runner is currently running.
func (s *Supervisor) Healthy() bool {
	for _, st := range s.Status() {
		if st.State != StateRunning {
			return false
		}
	}
	return true
}
