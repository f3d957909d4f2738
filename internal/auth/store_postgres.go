package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// PostgresKV stores entries in the dashboard_token_store table, partitioned by
// namespace so several dashboards can share one database. The table is created
// by the migrations package.
type PostgresKV struct {
	db        *sql.DB
	namespace string
}

func NewPostgresKV(db *sql.DB, namespace string) (*PostgresKV, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		return nil, fmt.Errorf("namespace is required")
	}
	return &PostgresKV{db: db, namespace: namespace}, nil
}

func (s *PostgresKV) Get(ctx context.Context, key string) (string, bool, error) {
	const q = `SELECT value FROM dashboard_token_store WHERE namespace = $1 AND key = $2`
	var v string
	if err := s.db.QueryRowContext(ctx, q, s.namespace, key).Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("query token store entry: %w", err)
	}
	return v, true, nil
}

func (s *PostgresKV) Set(ctx context.Context, key, value string) error {
	const q = `
INSERT INTO dashboard_token_store (namespace, key, value, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (namespace, key) DO UPDATE SET
	value = EXCLUDED.value,
	updated_at = NOW()`
	if _, err := s.db.ExecContext(ctx, q, s.namespace, key, value); err != nil {
		return fmt.Errorf("upsert token store entry: %w", err)
	}
	return nil
}

func (s *PostgresKV) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	const q = `DELETE FROM dashboard_token_store WHERE namespace = $1 AND key = ANY($2)`
	if _, err := s.db.ExecContext(ctx, q, s.namespace, pq.Array(keys)); err != nil {
		return fmt.Errorf("delete token store entries: %w", err)
	}
	return nil
}
