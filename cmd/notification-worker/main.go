// Package main is the entrypoint for the notification worker service.
//
// One process hosts the whole delivery side of the pipeline:
//
//   - WORKER_COUNT notification workers consuming the job stream under
//     CONSUMER_GROUP and pushing to member devices.
//   - One dead-letter handler consuming the dead-letter stream under
//     DEAD_LETTER_GROUP and posting rate-limited operator alerts.
//   - A retention sweeper purging job log entries older than JOBLOG_RETENTION.
//   - The ops HTTP surface (/healthz, /metrics, /admin).
//
// SIGINT/SIGTERM stop polling; in-flight jobs get DRAIN_TIMEOUT to finish
// before their context is cancelled and their leases are left to expire.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"medtrack/internal/alerting"
	"medtrack/internal/config"
	"medtrack/internal/db"
	"medtrack/internal/external"
	"medtrack/internal/joblog"
	"medtrack/internal/notifications/core"
	"medtrack/internal/notifications/deadletter"
	"medtrack/internal/notifications/webhook"
	"medtrack/internal/notifications/worker"
	"medtrack/internal/ops"
	"medtrack/internal/push"
	"medtrack/internal/queue"
	"medtrack/internal/reminder"
	"medtrack/internal/security"
	"medtrack/internal/supervisor"
	"medtrack/internal/types"
)

// slogAdapter wraps *slog.Logger to implement types.Logger.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

const serviceName = "notification-worker"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig(config.NewEnvVarProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := &slogAdapter{logger: newLogger(cfg.LogLevel)}
	logger.Info("Notification worker starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"job_store", cfg.Pipeline.JobStore,
		"workers", cfg.Pipeline.WorkerCount,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, types.RealClock{})
	if err != nil {
		return err
	}
	defer a.Close()

	return a.Run(ctx)
}

// app is the wired process.
type app struct {
	cfg        *config.Config
	logger     types.Logger
	jobs       *joblog.JobLog
	supervisor *supervisor.Supervisor
	ops        *ops.Server
	closers    []func()
}

// newApp builds every component from cfg. Nothing is started.
func newApp(ctx context.Context, cfg *config.Config, logger types.Logger, clock types.Clock) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	p := cfg.Pipeline

	// Telemetry.
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := core.FanoutMetrics{core.NewPrometheusMetrics(reg)}

	var awsCfg *aws.Config
	if cfg.Observability.EnableCloudWatch || cfg.AWS.DomainEventQueue != "" {
		loaded, err := loadAWSConfig(ctx, cfg.AWS)
		if err != nil {
			return nil, err
		}
		if err := verifyAWSIdentity(ctx, sts.NewFromConfig(loaded), logger); err != nil {
			return nil, err
		}
		awsCfg = &loaded
	}
	if cfg.Observability.EnableCloudWatch {
		cw := cloudwatch.NewFromConfig(*awsCfg)
		metrics = append(metrics, core.NewCloudWatchMetrics(cw, cfg.Observability.MetricNamespace, logger))
	}

	// Storage.
	var pool *pgxpool.Pool
	if cfg.Database.URL.IsSet() {
		var err error
		if pool, err = db.NewPool(ctx, cfg.Database); err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
	}

	var store joblog.Store
	switch p.JobStore {
	case "postgres":
		pg := joblog.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			a.Close()
			return nil, err
		}
		store = pg
	default:
		logger.Warn("Using in-memory job store; jobs do not survive restarts")
		store = joblog.NewMemoryStore()
	}

	a.jobs = joblog.New(store, joblog.Options{
		Stream:       p.NotificationStream,
		DeadStream:   p.DeadLetterStream,
		Partitions:   p.PartitionCount,
		MaxAttempts:  p.MaxRetries,
		ClaimLease:   p.ClaimLease,
		PollInterval: p.PollInterval,
	}, logger, joblog.WithClock(clock), joblog.WithRecorder(metrics))

	if err := a.jobs.EnsureGroup(ctx, a.jobs.Stream(), p.ConsumerGroup); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.jobs.EnsureGroup(ctx, a.jobs.DeadStream(), p.DeadLetterGroup); err != nil {
		a.Close()
		return nil, err
	}

	// Delivery.
	var sender types.PushSender
	if cfg.Push.GatewayURL != "" {
		client := external.NewBaseClient(&http.Client{Timeout: cfg.Push.Timeout}, "push-gateway", external.RetryPolicy{}, serviceName)
		sender = push.NewGatewaySender(client, cfg.Push.GatewayURL, cfg.Push.ServerKey)
	} else {
		logger.Warn("PUSH_GATEWAY_URL not set; pushes are logged, not sent")
		sender = push.NewLogSender(logger)
	}

	var recipients worker.Recipients = worker.LocalRecipients{}
	if pool != nil {
		recipients = worker.NewDBRecipients(pool)
	}
	policy := core.NewPolicyEngine(clock, cfg.Reminder.Location())

	// Alerting.
	var windows alerting.WindowStore = alerting.NewMemoryWindowStore()
	var redisClient *redis.Client
	if cfg.Alerting.Store == "redis" {
		var err error
		if redisClient, err = alerting.NewRedisClient(cfg.Alerting.RedisURL.Unmask()); err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = redisClient.Close() })
		windows = alerting.NewRedisWindowStore(redisClient)
	}
	limiter := alerting.NewLimiter(windows, alerting.Limits{
		MaxPerWindow: cfg.Alerting.MaxAlertsPerHour,
		Window:       cfg.Alerting.Window,
		MinSeverity:  cfg.Alerting.MinAlertSeverity(),
		KeyPrefix:    cfg.Alerting.KeyPrefix,
	}, clock, logger, metrics)

	pseudo, err := alerting.NewPseudonymizer([]byte(cfg.Alerting.PseudonymKey.Unmask()))
	if err != nil {
		a.Close()
		return nil, err
	}
	registry := webhook.NewPlatformRegistry()
	hookHTTP := &http.Client{Timeout: 10 * time.Second}
	if cfg.Environment != "local" {
		hookHTTP = security.NewGuard(nil).NewHTTPClient(10*time.Second, 3)
	}
	hookClient := external.NewBaseClient(hookHTTP, "alert-webhook", external.RetryPolicy{}, serviceName)
	poster := webhook.NewPoster(hookClient, registry, webhook.NewSigner(cfg.Alerting.WebhookSecret.Unmask()), clock)
	notifier := webhook.NewNotifier(poster, registry, cfg.Alerting.WebhookURL.Unmask())
	reporter := alerting.NewServerErrorReporter(limiter, notifier, clock, logger, serviceName)

	// Runners.
	retry := core.NewRetryPolicy(p.RetryBaseDelay, p.RetryMaxDelay)
	var runners []supervisor.Runner
	for n := 1; n <= p.WorkerCount; n++ {
		runners = append(runners, worker.New(worker.Config{
			Stream:       a.jobs.Stream(),
			Group:        p.ConsumerGroup,
			Consumer:     fmt.Sprintf("%s-%d", p.ConsumerName, n),
			BatchSize:    p.BatchSize,
			PollTimeout:  p.PollTimeout,
			ErrorBackoff: p.ErrorBackoff,
			SendTimeout:  p.SendTimeout,
			Retry:        retry,
		}, a.jobs, recipients, sender, policy, metrics, clock, logger))
	}
	runners = append(runners, deadletter.New(deadletter.Config{
		Group:        p.DeadLetterGroup,
		Consumer:     p.ConsumerName + "-dlq",
		BatchSize:    p.BatchSize,
		PollTimeout:  p.PollTimeout,
		ErrorBackoff: p.ErrorBackoff,
	}, a.jobs, limiter, notifier, pseudo, clock, logger))

	if p.Retention > 0 {
		runners = append(runners, joblog.NewRetention(a.jobs, joblog.RetentionConfig{
			Keep:     p.Retention,
			Interval: p.RetentionInterval,
		}, logger))
	}

	a.supervisor = supervisor.New(supervisor.Config{
		DrainTimeout:   p.DrainTimeout,
		RestartBackoff: p.RestartBackoff,
	}, clock, logger, runners...)

	// Ops surface.
	probes := []ops.HealthProbe{ops.SupervisorProbe{Source: a.supervisor}}
	srv := ops.Server{
		Logger:   logger.With("component", "ops_http"),
		AdminKey: cfg.Server.AdminAPIKey,
		Gatherer: reg,
		Metrics:  ops.NewRequestMetrics(reg),
		Reporter: reporter,
		JobLog:   a.jobs,
	}
	if pool != nil {
		probes = append(probes, ops.PingProbe{Label: "database", Target: pool})
		schedules := db.NewScheduleRepository(pool)
		srv.Members = schedules
		srv.Sweeper = reminder.NewGenerator(a.jobs, schedules, clock, cfg.Reminder.Location(), cfg.Reminder.NudgeDelay, logger)
	}
	if redisClient != nil {
		probes = append(probes, ops.RedisProbe{Client: redisClient})
	}
	if cfg.AWS.DomainEventQueue != "" {
		sqsClient := sqs.NewFromConfig(*awsCfg)
		srv.Publisher = queue.NewEventPublisher(sqsClient, cfg.AWS.DomainEventQueue, clock, logger)
	}
	srv.Probes = probes
	a.ops = ops.NewServer(srv)

	return a, nil
}

// Run serves until ctx is cancelled and the supervisor has drained.
func (a *app) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := a.supervisor.Run(gctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
	g.Go(func() error {
		addr := net.JoinHostPort("", a.cfg.Server.Port)
		a.logger.Info("Ops server listening", "addr", addr)
		return a.ops.ListenAndServe(gctx, addr, 5*time.Second)
	})
	err := g.Wait()
	a.logger.Info("Notification worker stopped")
	return err
}

// Close releases connections in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func loadAWSConfig(ctx context.Context, c config.AWSConfig) (aws.Config, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(c.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS SDK config: %w", err)
	}
	// LocalStack support.
	if c.EndpointURL != "" {
		cfg.BaseEndpoint = aws.String(c.EndpointURL)
	}
	return cfg, nil
}

type callerIdentity interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// verifyAWSIdentity fails startup when the credentials chain resolves to
// nothing usable.
func verifyAWSIdentity(ctx context.Context, client callerIdentity, logger types.Logger) error {
	out, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return fmt.Errorf("verifying AWS identity: %w", err)
	}
	logger.Info("AWS identity verified",
		"account", aws.ToString(out.Account),
		"arn", aws.ToString(out.Arn),
	)
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
