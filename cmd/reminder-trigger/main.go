// Package main is the entrypoint for the Reminder Trigger Lambda function.
//
// The product API publishes domain events (login, intake recorded) to SQS
// fire-and-forget. This function turns each event into notification jobs:
//
//	login_succeeded / sweep_requested -> missed-dose sweep for the member
//	intake_recorded                   -> delayed side-effect nudge
//
// Jobs are appended to the shared Postgres job log; delivery happens in the
// notification worker. Events that can never succeed (bad JSON, failed
// validation, unknown type) are logged and acknowledged. Everything else is
// reported as a batch item failure so SQS redelivers only that message.
// Re-processing is safe because sweep and nudge jobs carry fingerprints.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"medtrack/internal/config"
	"medtrack/internal/db"
	"medtrack/internal/joblog"
	"medtrack/internal/notifications/core"
	"medtrack/internal/queue"
	"medtrack/internal/reminder"
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

// Dispatcher turns one domain event into jobs.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev types.DomainEvent) error
}

// Handler holds the dependencies for the reminder trigger.
type Handler struct {
	dispatcher Dispatcher
	clock      types.Clock
	logger     types.Logger
}

// Handle processes an SQS batch and reports per-message failures.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := h.processMessage(ctx, record); err != nil {
			h.logger.Error("failed to process domain event",
				"message_id", record.MessageId,
				"error", err.Error(),
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	return response, nil
}

func (h *Handler) processMessage(ctx context.Context, record events.SQSMessage) error {
	ev, err := queue.ParseEvent(record.Body)
	if err != nil {
		h.logger.Error("discarding malformed domain event",
			"message_id", record.MessageId,
			"error", err.Error(),
		)
		return nil
	}

	logger := h.logger.With(
		"event_id", ev.EventID,
		"event_type", string(ev.Type),
		"member_id", ev.MemberID,
	)
	logger.Info("processing domain event", "age", queue.Age(ev, h.clock.Now()).String())

	if err := h.dispatcher.Dispatch(ctx, ev); err != nil {
		if isPoison(err) {
			logger.Error("discarding unprocessable domain event", "error", err.Error())
			return nil
		}
		return fmt.Errorf("dispatch %s: %w", ev.Type, err)
	}
	return nil
}

// isPoison reports whether redelivering the event can never help.
func isPoison(err error) bool {
	return strings.HasPrefix(string(types.CodeOf(err)), "validation_")
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.LoadConfig(config.NewEnvVarProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if cfg.Pipeline.JobStore != "postgres" {
		return fmt.Errorf("reminder trigger requires JOB_STORE=postgres, got %q", cfg.Pipeline.JobStore)
	}

	logger := &slogAdapter{logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))}
	logger.Info("Reminder Trigger Lambda initializing (cold start)", "version", cfg.Build.Version)

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}

	var options []joblog.Option
	if cfg.Observability.EnableCloudWatch {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return fmt.Errorf("loading AWS SDK config: %w", err)
		}
		if cfg.AWS.EndpointURL != "" {
			awsCfg.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
		cw := cloudwatch.NewFromConfig(awsCfg)
		options = append(options, joblog.WithRecorder(core.NewCloudWatchMetrics(cw, cfg.Observability.MetricNamespace, logger)))
	}

	p := cfg.Pipeline
	jobs := joblog.New(joblog.NewPostgresStore(pool), joblog.Options{
		Stream:       p.NotificationStream,
		DeadStream:   p.DeadLetterStream,
		Partitions:   p.PartitionCount,
		MaxAttempts:  p.MaxRetries,
		ClaimLease:   p.ClaimLease,
		PollInterval: p.PollInterval,
	}, logger, options...)

	handler := &Handler{
		dispatcher: reminder.NewGenerator(jobs, db.NewScheduleRepository(pool), types.RealClock{},
			cfg.Reminder.Location(), cfg.Reminder.NudgeDelay, logger),
		clock:  types.RealClock{},
		logger: logger,
	}

	logger.Info("Reminder Trigger Lambda initialized",
		"stream", p.NotificationStream,
		"timezone", cfg.Reminder.Timezone,
		"nudge_delay", cfg.Reminder.NudgeDelay.String(),
	)

	lambda.StartWithOptions(handler.Handle, lambda.WithEnableSIGTERM(pool.Close))
	return nil
}
