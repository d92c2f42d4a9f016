package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists conversation histories in PostgreSQL. One row per
// (subject_id, conversation_id) holds the serialized turn list; the updated_at
// index drives capacity eviction.
type PostgresStore struct {
	pool     *pgxpool.Pool
	capacity int
}

func NewPostgresStore(ctx context.Context, databaseURL string, capacity int) (*PostgresStore, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("conversation cache capacity must be positive, got %d", capacity)
	}
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool, capacity: capacity}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversation_cache (
			subject_id      TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			value           JSONB NOT NULL,
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (subject_id, conversation_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_cache_updated ON conversation_cache (updated_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init cache schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, subjectID, conversationID string) ([]Turn, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM conversation_cache WHERE subject_id=$1 AND conversation_id=$2`,
		subjectID, conversationID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &CacheError{Op: "get", Err: err}
	}

	var turns []Turn
	if err := json.Unmarshal(raw, &turns); err != nil {
		return nil, &CacheError{Op: "get", Err: fmt.Errorf("decode history: %w", err)}
	}
	return turns, nil
}

// InsertOrAppend runs read-append-write inside one transaction with the row
// locked, so two streams finishing on the same conversation cannot lose turns.
func (s *PostgresStore) InsertOrAppend(ctx context.Context, subjectID, conversationID string, turn Turn) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &CacheError{Op: "insert_or_append", Err: fmt.Errorf("begin tx: %w", err)}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var raw []byte
	err = tx.QueryRow(ctx,
		`SELECT value FROM conversation_cache
		  WHERE subject_id=$1 AND conversation_id=$2 FOR UPDATE`,
		subjectID, conversationID,
	).Scan(&raw)

	switch {
	case err == nil:
		var turns []Turn
		if err := json.Unmarshal(raw, &turns); err != nil {
			return &CacheError{Op: "insert_or_append", Err: fmt.Errorf("decode history: %w", err)}
		}
		turns = append(turns, turn)
		updated, err := json.Marshal(turns)
		if err != nil {
			return &CacheError{Op: "insert_or_append", Err: fmt.Errorf("encode history: %w", err)}
		}
		if _, err := tx.Exec(ctx,
			`UPDATE conversation_cache SET value=$1, updated_at=now()
			  WHERE subject_id=$2 AND conversation_id=$3`,
			updated, subjectID, conversationID,
		); err != nil {
			return &CacheError{Op: "insert_or_append", Err: fmt.Errorf("update history: %w", err)}
		}

	case errors.Is(err, pgx.ErrNoRows):
		initial, err := json.Marshal([]Turn{turn})
		if err != nil {
			return &CacheError{Op: "insert_or_append", Err: fmt.Errorf("encode history: %w", err)}
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO conversation_cache (subject_id, conversation_id, value, updated_at)
			 VALUES ($1, $2, $3, now())`,
			subjectID, conversationID, initial,
		); err != nil {
			return &CacheError{Op: "insert_or_append", Err: fmt.Errorf("insert history: %w", err)}
		}
		// Only a freshly created key can push the store over capacity.
		if err := evictOldest(ctx, tx, s.capacity); err != nil {
			return &CacheError{Op: "insert_or_append", Err: err}
		}

	default:
		return &CacheError{Op: "insert_or_append", Err: fmt.Errorf("select history: %w", err)}
	}

	if err := tx.Commit(ctx); err != nil {
		return &CacheError{Op: "insert_or_append", Err: fmt.Errorf("commit: %w", err)}
	}
	return nil
}

// evictOldest removes the oldest-updated conversations in a single bounded
// DELETE until the store holds at most capacity entries.
func evictOldest(ctx context.Context, tx pgx.Tx, capacity int) error {
	var count int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM conversation_cache`).Scan(&count); err != nil {
		return fmt.Errorf("count entries: %w", err)
	}
	excess := count - capacity
	if excess <= 0 {
		return nil
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM conversation_cache
		  WHERE (subject_id, conversation_id) IN (
			SELECT subject_id, conversation_id FROM conversation_cache
			 ORDER BY updated_at ASC LIMIT $1
		  )`,
		excess,
	); err != nil {
		return fmt.Errorf("evict %d entries: %w", excess, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
