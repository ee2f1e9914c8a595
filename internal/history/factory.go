package history

import (
	"context"
	"strings"
	"time"
)

type Options struct {
	DatabaseURL   string
	RedisURL      string
	RedisPassword string
	// MaxPerSession caps the in-memory and Redis backends.
	MaxPerSession int
	RedisTTL      time.Duration
}

// NewStore picks postgres when DatabaseURL is set, then redis when RedisURL
// is set, otherwise in-memory.
func NewStore(ctx context.Context, opts Options) (Store, error) {
	switch {
	case strings.TrimSpace(opts.DatabaseURL) != "":
		return NewPostgresStore(ctx, opts.DatabaseURL)
	case strings.TrimSpace(opts.RedisURL) != "":
		return NewRedisStore(ctx, opts.RedisURL, opts.RedisPassword, opts.MaxPerSession, opts.RedisTTL)
	default:
		return NewInMemoryStore(opts.MaxPerSession), nil
	}
}

// Backend names the concrete store for status output.
func Backend(s Store) string {
	switch s.(type) {
	case *PostgresStore:
		return "postgres"
	case *RedisStore:
		return "redis"
	case *InMemoryStore:
		return "memory"
	default:
		return "custom"
	}
}
