package quota

import (
	"context"
	"strings"
)

// Options selects which limiters a deployment runs. A zero limit disables the
// corresponding limiter.
type Options struct {
	DatabaseURL  string
	SubjectLimit int64
	ClusterLimit int64
	ClusterID    string
}

// NewLimiters builds the configured limiter set. With no limits configured a
// single no-op limiter is installed so quota reporting stays populated.
// Postgres backs the counters when a database is configured, memory otherwise.
func NewLimiters(ctx context.Context, opts Options) ([]Limiter, error) {
	usePostgres := strings.TrimSpace(opts.DatabaseURL) != ""

	var limiters []Limiter
	if opts.SubjectLimit > 0 {
		l, err := newLimiter(ctx, usePostgres, opts.DatabaseURL, ScopeSubject, opts.SubjectLimit, "")
		if err != nil {
			return nil, err
		}
		limiters = append(limiters, l)
	}
	if opts.ClusterLimit > 0 {
		l, err := newLimiter(ctx, usePostgres, opts.DatabaseURL, ScopeCluster, opts.ClusterLimit, opts.ClusterID)
		if err != nil {
			return nil, err
		}
		limiters = append(limiters, l)
	}
	if len(limiters) == 0 {
		limiters = append(limiters, NewNoopLimiter())
	}
	return limiters, nil
}

func newLimiter(ctx context.Context, usePostgres bool, databaseURL string, scope Scope, limit int64, defaultSubject string) (Limiter, error) {
	if usePostgres {
		return NewPostgresLimiter(ctx, databaseURL, scope, limit, defaultSubject)
	}
	return NewMemoryLimiter(scope, limit, defaultSubject), nil
}
