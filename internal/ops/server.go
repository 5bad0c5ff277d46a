// Package ops is the operator HTTP surface of the notification pipeline:
// health, Prometheus metrics and a small admin API over the job log.
package ops

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"

	"medtrack/internal/joblog"
	"medtrack/internal/reminder"
	"medtrack/internal/types"
)

// JobLogAdmin is the part of the job log exposed to operators.
type JobLogAdmin interface {
	Stats(ctx context.Context, stream, group string) (joblog.Stats, error)
	ResetCursor(ctx context.Context, stream, group string, partition int, offset int64) error
}

// EventPublisher hands a domain event to the reminder trigger queue.
type EventPublisher interface {
	Publish(ctx context.Context, ev types.DomainEvent) (string, error)
}

// MissedDoseSweeper runs a sweep in-process.
type MissedDoseSweeper interface {
	SweepMissedDoses(ctx context.Context, memberID int64) (reminder.SweepResult, error)
}

// MemberDirectory answers whether a member exists.
type MemberDirectory interface {
	MemberExists(ctx context.Context, memberID int64) (bool, error)
}

// ErrorReporter is told about unexpected server errors.
type ErrorReporter interface {
	Report(ctx context.Context, route string, err error)
}

// MetricsCollector records request telemetry.
type MetricsCollector interface {
	RecordRequest(method, route, status string, duration time.Duration)
}

// Server holds the dependencies of the ops surface. Nil optional
// dependencies disable the routes that need them.
type Server struct {
	Logger   types.Logger
	AdminKey types.SecretString
	Probes   []HealthProbe
	Gatherer prometheus.Gatherer
	Metrics  MetricsCollector
	Reporter ErrorReporter

	JobLog    JobLogAdmin
	Publisher EventPublisher
	Sweeper   MissedDoseSweeper
	Members   MemberDirectory

	router *chi.Mux
}

// NewServer creates a Server and mounts its routes.
func NewServer(s Server) *Server {
	srv := &s
	srv.router = chi.NewRouter()
	srv.mountRoutes()
	return srv
}

// Handler returns the gzip-wrapped router.
func (s *Server) Handler() http.Handler {
	return gzhttp.GzipHandler(s.router)
}

// ListenAndServe serves on addr until ctx is done, then shuts down within
// shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
