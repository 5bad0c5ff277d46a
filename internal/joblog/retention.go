package joblog

import (
	"context"
	"time"

	"medtrack/internal/types"
)

// RetentionConfig configures a Retention runner.
type RetentionConfig struct {
	Keep      time.Duration // minimum age of a purged entry
	Interval  time.Duration // time between sweeps
	BatchSize int           // rows deleted per statement
}

// Retention periodically purges entries every group has finished with from
// both streams of a JobLog.
type Retention struct {
	log    *JobLog
	cfg    RetentionConfig
	logger types.Logger
}

// NewRetention creates a Retention runner for l.
func NewRetention(l *JobLog, cfg RetentionConfig, logger types.Logger) *Retention {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	return &Retention{log: l, cfg: cfg, logger: logger.With("component", "joblog_retention")}
}

// Name implements supervisor.Runner.
func (r *Retention) Name() string { return "joblog-retention" }

// Run sweeps once immediately and then every Interval until pollCtx is done.
// A sweep in progress stops at the next batch once workCtx is done.
func (r *Retention) Run(pollCtx, workCtx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		r.Sweep(workCtx)
		select {
		case <-pollCtx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep purges both streams in batches and returns the number of entries
// deleted. Storage errors end the sweep early and are logged.
func (r *Retention) Sweep(ctx context.Context) int64 {
	var total int64
	for _, stream := range []string{r.log.Stream(), r.log.DeadStream()} {
		for ctx.Err() == nil {
			n, err := r.log.Purge(ctx, stream, r.cfg.Keep, r.cfg.BatchSize)
			if err != nil {
				r.logger.Error("Retention sweep failed", "target_stream", stream, "error", err.Error())
				return total
			}
			total += n
			if n < int64(r.cfg.BatchSize) {
				break
			}
		}
	}
	if total > 0 {
		r.logger.Info("Purged job log entries", "count", total, "keep", r.cfg.Keep.String())
	}
	return total
}
