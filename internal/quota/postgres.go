package quota

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLimiter stores per-key allowances in PostgreSQL. The counter update
// is a single conditional upsert, so concurrent consumers on the same key
// cannot lose decrements.
type PostgresLimiter struct {
	pool           *pgxpool.Pool
	scope          Scope
	limit          int64
	defaultSubject string
}

// NewPostgresLimiter connects once and reuses the pool for the limiter's
// lifetime. For ScopeCluster every operation accounts against defaultSubject
// regardless of the caller-provided subject.
func NewPostgresLimiter(ctx context.Context, databaseURL string, scope Scope, limit int64, defaultSubject string) (*PostgresLimiter, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("quota limit must be positive, got %d", limit)
	}
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initQuotaSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresLimiter{
		pool:           pool,
		scope:          scope,
		limit:          limit,
		defaultSubject: defaultSubject,
	}, nil
}

func initQuotaSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmt := `CREATE TABLE IF NOT EXISTS quota_usage (
		scope      TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		available  BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (scope, subject_id)
	);`
	if _, err := pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("init quota schema: %w", err)
	}
	return nil
}

func (l *PostgresLimiter) Name() string { return string(l.scope) }

func (l *PostgresLimiter) key(subjectID string) string {
	if l.scope == ScopeCluster {
		return l.defaultSubject
	}
	return subjectID
}

func (l *PostgresLimiter) AvailableQuota(ctx context.Context, subjectID string) (int64, error) {
	var available int64
	err := l.pool.QueryRow(ctx,
		`SELECT available FROM quota_usage WHERE scope=$1 AND subject_id=$2`,
		string(l.scope), l.key(subjectID),
	).Scan(&available)
	if errors.Is(err, pgx.ErrNoRows) {
		// No usage recorded yet: full allowance.
		return l.limit, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read quota for %s: %w", l.key(subjectID), err)
	}
	return available, nil
}

func (l *PostgresLimiter) EnsureAvailableQuota(ctx context.Context, subjectID string) error {
	available, err := l.AvailableQuota(ctx, subjectID)
	if err != nil {
		return err
	}
	if available <= 0 {
		return exceededError(l.Name(), l.key(subjectID))
	}
	return nil
}

func (l *PostgresLimiter) ConsumeTokens(ctx context.Context, inputTokens, outputTokens int64, subjectID string) error {
	consumed := inputTokens + outputTokens
	if consumed < 0 {
		return fmt.Errorf("negative token consumption %d", consumed)
	}
	_, err := l.pool.Exec(ctx,
		`INSERT INTO quota_usage (scope, subject_id, available, updated_at)
		 VALUES ($1, $2, GREATEST(0, $3 - $4), now())
		 ON CONFLICT (scope, subject_id) DO UPDATE
		    SET available = GREATEST(0, quota_usage.available - $4),
		        updated_at = now()`,
		string(l.scope), l.key(subjectID), l.limit, consumed,
	)
	if err != nil {
		return fmt.Errorf("consume %d tokens for %s: %w", consumed, l.key(subjectID), err)
	}
	return nil
}

func (l *PostgresLimiter) RevokeQuota(ctx context.Context) error {
	return l.setQuota(ctx, 0)
}

func (l *PostgresLimiter) IncreaseQuota(ctx context.Context) error {
	return l.setQuota(ctx, l.limit)
}

func (l *PostgresLimiter) setQuota(ctx context.Context, value int64) error {
	_, err := l.pool.Exec(ctx,
		`INSERT INTO quota_usage (scope, subject_id, available, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (scope, subject_id) DO UPDATE
		    SET available = $3, updated_at = now()`,
		string(l.scope), l.key(l.defaultSubject), value,
	)
	if err != nil {
		return fmt.Errorf("set quota to %d for %s: %w", value, l.key(l.defaultSubject), err)
	}
	return nil
}

func (l *PostgresLimiter) Close() error {
	l.pool.Close()
	return nil
}
