package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnvVarProvider resolves each reference as the name of another environment
// variable. Used in local development and tests.
type EnvVarProvider struct{}

// NewEnvVarProvider creates a new EnvVarProvider.
func NewEnvVarProvider() *EnvVarProvider {
	return &EnvVarProvider{}
}

// Resolve looks each ref up with os.LookupEnv; unset refs are omitted.
func (p *EnvVarProvider) Resolve(_ context.Context, refs []string) (map[string]string, error) {
	result := make(map[string]string, len(refs))
	for _, ref := range refs {
		if val, ok := os.LookupEnv(ref); ok {
			result[ref] = val
		}
	}
	return result, nil
}

// FileProvider resolves references as file names under Dir, the layout used
// by mounted container secrets (e.g. /run/secrets/push_server_key).
type FileProvider struct {
	Dir string
}

// NewFileProvider creates a FileProvider rooted at dir.
func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{Dir: dir}
}

// Resolve reads each ref as a file relative to Dir. Missing files are omitted;
// other read errors fail the whole batch. Trailing newlines are trimmed.
func (p *FileProvider) Resolve(ctx context.Context, refs []string) (map[string]string, error) {
	result := make(map[string]string, len(refs))
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := filepath.Join(p.Dir, filepath.Clean("/"+ref))
		data, err := os.ReadFile(name)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read secret %s: %w", ref, err)
		}
		result[ref] = strings.TrimRight(string(data), "\r\n")
	}
	return result, nil
}
