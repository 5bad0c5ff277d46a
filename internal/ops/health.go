package ops

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"medtrack/internal/supervisor"
)

const healthCheckTimeout = 2 * time.Second

// HealthProbe checks one dependency.
type HealthProbe interface {
	Name() string
	Check(ctx context.Context) error
}

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components,omitempty"`
	Runners    []supervisor.RunnerStatus  `json:"runners,omitempty"`
}

// HandleHealth runs every probe concurrently under a 2s deadline. Any failed
// or unfinished probe makes the response 503.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	type result struct {
		name string
		err  error
	}
	results := make(chan result, len(s.Probes))
	var wg sync.WaitGroup
	for _, p := range s.Probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var err error
			func() {
				defer func() {
					if rv := recover(); rv != nil {
						err = fmt.Errorf("probe panicked: %v", rv)
					}
				}()
				err = p.Check(ctx)
			}()
			results <- result{name: p.Name(), err: err}
		}()
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	completed := map[string]error{}
	for drained := false; !drained; {
		select {
		case res := <-results:
			completed[res.name] = res.err
		default:
			drained = true
		}
	}

	resp := healthResponse{Status: "healthy", Components: make(map[string]componentStatus, len(s.Probes))}
	for _, p := range s.Probes {
		err, ok := completed[p.Name()]
		switch {
		case !ok:
			resp.Components[p.Name()] = componentStatus{Status: "unhealthy", Message: "health check timed out"}
			resp.Status = "unhealthy"
		case err != nil:
			resp.Components[p.Name()] = componentStatus{Status: "unhealthy", Message: err.Error()}
			resp.Status = "unhealthy"
		default:
			resp.Components[p.Name()] = componentStatus{Status: "healthy"}
		}
		if sp, ok := p.(SupervisorProbe); ok {
			resp.Runners = sp.Source.Status()
		}
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	JSON(w, r, status, resp)
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingProbe checks a dependency with a Ping method.
type PingProbe struct {
	Label  string
	Target Pinger
}

func (p PingProbe) Name() string                    { return p.Label }
func (p PingProbe) Check(ctx context.Context) error { return p.Target.Ping(ctx) }

// RedisProbe pings the alert limiter's Redis.
type RedisProbe struct {
	Client redis.UniversalClient
}

func (p RedisProbe) Name() string { return "redis" }

func (p RedisProbe) Check(ctx context.Context) error {
	return p.Client.Ping(ctx).Err()
}

// RunnerStatusSource reports the pipeline's runners.
type RunnerStatusSource interface {
	Status() []supervisor.RunnerStatus
}

// SupervisorProbe fails when any runner is not running.
type SupervisorProbe struct {
	Source RunnerStatusSource
}

func (p SupervisorProbe) Name() string { return "pipeline" }

func (p SupervisorProbe) Check(context.Context) error {
	var down []string
	for _, st := range p.Source.Status() {
		if st.State != supervisor.StateRunning {
			down = append(down, fmt.Sprintf("%s %s", st.Name, st.State))
		}
	}
	if len(down) > 0 {
		return fmt.Errorf("runners not running: %s", strings.Join(down, ", "))
	}
	return nil
}
