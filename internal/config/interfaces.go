package config

import "context"

// SecretProvider resolves secret references named by *_SECRET_REF variables.
// Implementations return only the keys they could resolve.
type SecretProvider interface {
	Resolve(ctx context.Context, refs []string) (map[string]string, error)
}
