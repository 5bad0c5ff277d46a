// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC as the process time zone.
//  2. Load .env via godotenv (non-fatal if absent).
//  3. Unless APP_ENV is local, resolve *_SECRET_REF variables via the
//     SecretProvider and inject the values into the environment.
//  4. Populate Config with envconfig.
//  5. Populate BuildInfo from linker-injected variables.
//  6. Validate struct tags and cross-field rules.
package config

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is the diagnostic error returned by LoadConfig.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// secretRefSuffix marks pointer variables: PUSH_SERVER_KEY_SECRET_REF names
// where PUSH_SERVER_KEY is to be read from.
const secretRefSuffix = "_SECRET_REF"

const localEnv = "local"

type loaderDeps struct {
	lookupEnv func(key string) (string, bool)
	setEnv    func(key, value string) error
	environ   func() []string
}

func defaultDeps() loaderDeps {
	return loaderDeps{
		lookupEnv: os.LookupEnv,
		setEnv:    os.Setenv,
		environ:   os.Environ,
	}
}

// LoadConfig loads and validates the configuration. provider may be nil in
// local mode or when no *_SECRET_REF variables are present.
func LoadConfig(provider SecretProvider) (*Config, error) {
	return loadConfigWithDeps(provider, defaultDeps())
}

func loadConfigWithDeps(provider SecretProvider, deps loaderDeps) (*Config, error) {
	time.Local = time.UTC

	// godotenv does not override variables that are already set.
	_ = godotenv.Load()

	appEnv, ok := deps.lookupEnv("APP_ENV")
	if !ok {
		return nil, &ConfigError{Type: ErrMissingEnv, Message: "APP_ENV is not set"}
	}

	if appEnv != localEnv {
		if err := resolveSecretRefs(provider, deps); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Build = NewBuildInfo()

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate runs struct-tag validation followed by the cross-field rules that
// tags cannot express.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	var problems []string
	if cfg.Pipeline.JobStore == "postgres" && !cfg.Database.URL.IsSet() {
		problems = append(problems, "DATABASE_URL is required when JOB_STORE=postgres")
	}
	if cfg.Alerting.Store == "redis" && !cfg.Alerting.RedisURL.IsSet() {
		problems = append(problems, "REDIS_URL is required when ALERT_STORE=redis")
	}
	if cfg.Pipeline.ConsumerGroup == cfg.Pipeline.DeadLetterGroup {
		problems = append(problems, "DEAD_LETTER_GROUP must differ from CONSUMER_GROUP")
	}
	if cfg.Pipeline.ClaimLease <= cfg.Pipeline.SendTimeout {
		problems = append(problems, "CLAIM_LEASE must exceed SEND_TIMEOUT")
	}
	if n := len(cfg.Alerting.PseudonymKey.Unmask()); n != 0 && (n < 16 || n > 64) {
		problems = append(problems, "ALERT_PSEUDONYM_KEY must be 16 to 64 bytes")
	}
	if cfg.Database.MinConns > cfg.Database.MaxConns {
		problems = append(problems, "DB_MIN_CONNS must not exceed DB_MAX_CONNS")
	}

	if len(problems) > 0 {
		return &ConfigError{
			Type:    ErrValidation,
			Message: strings.Join(problems, "; "),
		}
	}
	return nil
}

// ResolveSecrets performs only the secret resolution step. The Lambda entry
// point calls it before reading individual variables.
func ResolveSecrets(provider SecretProvider) error {
	if appEnv, _ := os.LookupEnv("APP_ENV"); appEnv == localEnv {
		return nil
	}
	return resolveSecretRefs(provider, defaultDeps())
}

// resolveSecretRefs scans the environment for *_SECRET_REF entries whose
// target is not already set, resolves them in one batch, and injects the
// results. A target set directly in the environment wins over its reference.
func resolveSecretRefs(provider SecretProvider, deps loaderDeps) error {
	refToTarget := make(map[string]string)
	for _, entry := range deps.environ() {
		key, ref, found := strings.Cut(entry, "=")
		if !found || !strings.HasSuffix(key, secretRefSuffix) || ref == "" {
			continue
		}
		target := strings.TrimSuffix(key, secretRefSuffix)
		if _, exists := deps.lookupEnv(target); exists {
			continue
		}
		refToTarget[ref] = target
	}
	if len(refToTarget) == 0 {
		return nil
	}

	refs := make([]string, 0, len(refToTarget))
	targets := make([]string, 0, len(refToTarget))
	for ref, target := range refToTarget {
		refs = append(refs, ref)
		targets = append(targets, target)
	}
	sort.Strings(refs)
	sort.Strings(targets)

	if provider == nil {
		return &ConfigError{
			Type:    ErrSecretResolution,
			Message: fmt.Sprintf("SecretProvider is required to resolve: %s", strings.Join(targets, ", ")),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resolved, err := provider.Resolve(ctx, refs)
	if err != nil {
		return &ConfigError{
			Type:    ErrSecretResolution,
			Message: fmt.Sprintf("failed to resolve %d secret references", len(refs)),
			Err:     err,
		}
	}

	var missing []string
	for _, ref := range refs {
		value, ok := resolved[ref]
		if !ok {
			missing = append(missing, refToTarget[ref])
			continue
		}
		if err := deps.setEnv(refToTarget[ref], value); err != nil {
			return &ConfigError{
				Type:    ErrSecretResolution,
				Message: fmt.Sprintf("failed to set resolved value for %s", refToTarget[ref]),
				Err:     err,
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &ConfigError{
			Type:    ErrSecretResolution,
			Message: fmt.Sprintf("secret references not found for: %s", strings.Join(missing, ", ")),
		}
	}
	return nil
}
