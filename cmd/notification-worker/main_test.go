package main

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medtrack/internal/config"
	"medtrack/internal/types"
)

type mockLogger struct{}

func (l *mockLogger) Info(msg string, args ...any)  {}
func (l *mockLogger) Error(msg string, args ...any) {}
func (l *mockLogger) Warn(msg string, args ...any)  {}
func (l *mockLogger) With(args ...any) types.Logger { return l }

func localConfig() *config.Config {
	return &config.Config{
		Environment: "local",
		LogLevel:    "info",
		Server:      config.ServerConfig{Port: "0"},
		AWS:         config.AWSConfig{Region: "ap-northeast-2"},
		Pipeline: config.PipelineConfig{
			JobStore:           "memory",
			NotificationStream: "medtrack:notifications",
			DeadLetterStream:   "medtrack:notifications:dlq",
			ConsumerGroup:      "notification-consumers",
			ConsumerName:       "test",
			DeadLetterGroup:    "dead-letter-alerts",
			MaxRetries:         3,
			PollTimeout:        50 * time.Millisecond,
			PollInterval:       10 * time.Millisecond,
			BatchSize:          10,
			PartitionCount:     2,
			WorkerCount:        2,
			ClaimLease:         time.Minute,
			RetryBaseDelay:     time.Second,
			RetryMaxDelay:      time.Minute,
			SendTimeout:        time.Second,
			DrainTimeout:       time.Second,
			ErrorBackoff:       10 * time.Millisecond,
			RestartBackoff:     10 * time.Millisecond,
			Retention:          7 * 24 * time.Hour,
			RetentionInterval:  time.Hour,
		},
		Alerting: config.AlertingConfig{
			MaxAlertsPerHour: 10,
			Window:           time.Hour,
			MinSeverity:      "HIGH",
			Store:            "memory",
		},
		Reminder: config.ReminderConfig{Timezone: "Asia/Seoul", NudgeDelay: time.Hour},
	}
}

func TestApp_DeliversJobAndStopsOnSignal(t *testing.T) {
	cfg := localConfig()
	a, err := newApp(context.Background(), cfg, &mockLogger{}, types.RealClock{})
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	_, err = a.jobs.Enqueue(context.Background(), types.NotificationJob{
		Category:       types.CategoryMissedDoseReminder,
		TargetMemberID: 7,
		Payload:        map[string]any{"title": "Missed dose", "body": "You missed 1 dose today"},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		stats, err := a.jobs.Stats(context.Background(), a.jobs.Stream(), cfg.Pipeline.ConsumerGroup)
		return err == nil && stats.Total.Acked == 1
	}, 5*time.Second, 20*time.Millisecond)

	assert.True(t, a.supervisor.Healthy())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop after cancellation")
	}
}

func TestNewApp_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{
			name: "unparseable redis url",
			mutate: func(c *config.Config) {
				c.Alerting.Store = "redis"
				c.Alerting.RedisURL = "not-a-url"
			},
		},
		{
			name: "unparseable database url",
			mutate: func(c *config.Config) {
				c.Database.URL = "::not a dsn::"
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := localConfig()
			tt.mutate(cfg)
			if _, err := newApp(context.Background(), cfg, &mockLogger{}, types.RealClock{}); err == nil {
				t.Error("newApp() error = nil, want error")
			}
		})
	}
}

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		level   string
		enabled slog.Level
		muted   slog.Level
	}{
		{"debug", slog.LevelDebug, slog.LevelDebug - 4},
		{"info", slog.LevelInfo, slog.LevelDebug},
		{"warn", slog.LevelWarn, slog.LevelInfo},
		{"error", slog.LevelError, slog.LevelWarn},
		{"bogus", slog.LevelInfo, slog.LevelDebug},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			l := newLogger(tt.level)
			ctx := context.Background()
			if !l.Enabled(ctx, tt.enabled) {
				t.Errorf("newLogger(%q) does not log at %v", tt.level, tt.enabled)
			}
			if l.Enabled(ctx, tt.muted) {
				t.Errorf("newLogger(%q) logs at %v", tt.level, tt.muted)
			}
		})
	}
}

type fakeIdentity struct {
	out *sts.GetCallerIdentityOutput
	err error
}

func (f fakeIdentity) GetCallerIdentity(context.Context, *sts.GetCallerIdentityInput, ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	return f.out, f.err
}

func TestVerifyAWSIdentity(t *testing.T) {
	ok := fakeIdentity{out: &sts.GetCallerIdentityOutput{
		Account: aws.String("123456789012"),
		Arn:     aws.String("arn:aws:sts::123456789012:assumed-role/worker/i-0abc"),
	}}
	assert.NoError(t, verifyAWSIdentity(context.Background(), ok, &mockLogger{}))

	err := verifyAWSIdentity(context.Background(), fakeIdentity{err: errors.New("no credentials")}, &mockLogger{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no credentials")
}
