// Package config defines the configuration of the medtrack notification
// pipeline. Configuration is loaded once at process start and is immutable
// thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> SecretProvider (Lowest)
//
// Any missing required value or invalid format is returned as a *ConfigError
// and the binaries exit before serving traffic.
package config

import (
	"time"

	"medtrack/internal/types"
)

// SecretString is an alias for types.SecretString.
type SecretString = types.SecretString

// Config is the top-level configuration. Sub-components receive only the
// subset they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"medtrack-notifications"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Pipeline      PipelineConfig
	Alerting      AlertingConfig
	Push          PushConfig
	Reminder      ReminderConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds the ops HTTP surface settings.
type ServerConfig struct {
	Port        string       `envconfig:"OPS_PORT" default:"9090"`
	AdminAPIKey SecretString `envconfig:"ADMIN_API_KEY"`
}

// DatabaseConfig holds the Postgres connection and pool tuning parameters.
// URL is required when the job store is postgres.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10" validate:"gte=1"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2" validate:"gte=0"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"ap-northeast-2"`

	// DomainEventQueue is where the ops surface publishes manual sweep events.
	DomainEventQueue string `envconfig:"SQS_DOMAIN_EVENTS" validate:"omitempty,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// PipelineConfig configures the job log, workers and supervisor.
type PipelineConfig struct {
	JobStore           string `envconfig:"JOB_STORE" default:"postgres" validate:"oneof=memory postgres"`
	NotificationStream string `envconfig:"NOTIFICATION_STREAM" default:"medtrack:notifications" validate:"required"`
	DeadLetterStream   string `envconfig:"DEAD_LETTER_STREAM" default:"medtrack:notifications:dlq" validate:"required,nefield=NotificationStream"`
	ConsumerGroup      string `envconfig:"CONSUMER_GROUP" default:"notification-consumers" validate:"required"`
	ConsumerName       string `envconfig:"CONSUMER_NAME" default:"consumer-1" validate:"required"`
	DeadLetterGroup    string `envconfig:"DEAD_LETTER_GROUP" default:"dead-letter-alerts" validate:"required"`

	MaxRetries     int           `envconfig:"MAX_RETRIES" default:"3" validate:"gte=1"`
	PollTimeout    time.Duration `envconfig:"POLL_TIMEOUT" default:"5s" validate:"gt=0"`
	PollInterval   time.Duration `envconfig:"POLL_INTERVAL" default:"500ms" validate:"gt=0"`
	BatchSize      int           `envconfig:"BATCH_SIZE" default:"10" validate:"gte=1"`
	PartitionCount int           `envconfig:"PARTITION_COUNT" default:"8" validate:"gte=1"`
	WorkerCount    int           `envconfig:"WORKER_COUNT" default:"4" validate:"gte=1"`
	ClaimLease     time.Duration `envconfig:"CLAIM_LEASE" default:"60s" validate:"gt=0"`
	RetryBaseDelay time.Duration `envconfig:"RETRY_BASE_DELAY" default:"2s" validate:"gt=0"`
	RetryMaxDelay  time.Duration `envconfig:"RETRY_MAX_DELAY" default:"5m" validate:"gtefield=RetryBaseDelay"`
	SendTimeout    time.Duration `envconfig:"SEND_TIMEOUT" default:"10s" validate:"gt=0"`
	DrainTimeout   time.Duration `envconfig:"DRAIN_TIMEOUT" default:"30s" validate:"gt=0"`
	ErrorBackoff   time.Duration `envconfig:"ERROR_BACKOFF" default:"1s" validate:"gt=0"`
	RestartBackoff time.Duration `envconfig:"RESTART_BACKOFF" default:"5s" validate:"gt=0"`

	// Acked and dead entries older than Retention are purged every
	// RetentionInterval. Zero Retention disables purging.
	Retention         time.Duration `envconfig:"JOBLOG_RETENTION" default:"168h" validate:"gte=0"`
	RetentionInterval time.Duration `envconfig:"RETENTION_INTERVAL" default:"1h" validate:"gt=0"`
}

// AlertingConfig configures dead-letter and server-error alerts.
type AlertingConfig struct {
	MaxAlertsPerHour int           `envconfig:"MAX_ALERTS_PER_HOUR" default:"10" validate:"gte=1"`
	Window           time.Duration `envconfig:"ALERT_WINDOW" default:"3600s" validate:"gt=0"`
	MinSeverity      string        `envconfig:"MIN_ALERT_SEVERITY" default:"HIGH" validate:"oneof=LOW MEDIUM HIGH CRITICAL"`
	Store            string        `envconfig:"ALERT_STORE" default:"memory" validate:"oneof=memory redis"`
	RedisURL         SecretString  `envconfig:"REDIS_URL"`
	KeyPrefix        string        `envconfig:"ALERT_KEY_PREFIX" default:"medtrack:alert:ratelimit:"`
	WebhookURL       SecretString  `envconfig:"ALERT_WEBHOOK_URL"`
	WebhookSecret    SecretString  `envconfig:"ALERT_WEBHOOK_SECRET"`
	PseudonymKey     SecretString  `envconfig:"ALERT_PSEUDONYM_KEY"`
}

// MinAlertSeverity returns the parsed severity threshold.
func (a AlertingConfig) MinAlertSeverity() types.Severity {
	s, err := types.ParseSeverity(a.MinSeverity)
	if err != nil {
		return types.SeverityHigh
	}
	return s
}

// PushConfig configures the push gateway.
type PushConfig struct {
	GatewayURL string        `envconfig:"PUSH_GATEWAY_URL" validate:"omitempty,url"`
	ServerKey  SecretString  `envconfig:"PUSH_SERVER_KEY"`
	Timeout    time.Duration `envconfig:"PUSH_HTTP_TIMEOUT" default:"15s"`
}

// ReminderConfig configures reminder generation.
type ReminderConfig struct {
	Timezone   string        `envconfig:"REMINDER_TIMEZONE" default:"Asia/Seoul" validate:"timezone"`
	NudgeDelay time.Duration `envconfig:"NUDGE_DELAY" default:"1h" validate:"gte=0"`
}

// Location returns the configured time zone. Validation guarantees it loads.
func (r ReminderConfig) Location() *time.Location {
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace  string `envconfig:"METRIC_NAMESPACE" default:"Medtrack/Notifications"`
	EnableCloudWatch bool   `envconfig:"ENABLE_CLOUDWATCH" default:"false"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSecretResolution indicates a _SECRET_REF could not be resolved.
	ErrSecretResolution ConfigErrorType = "SECRET_RESOLUTION"
	// ErrValidation indicates the configuration failed validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates an environment value could not be parsed.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
