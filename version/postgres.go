package version

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/promptforge/promptforge"
)

// PostgresStore persists versions in PostgreSQL, durable across restarts.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

var _ promptforge.VersionStore = (*PostgresStore)(nil)

// NewPostgresStore creates a PostgreSQL-backed version store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, table: "promptforge_versions"}
}

// EnsureSchema creates the versions table if it doesn't exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			content TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT 'optimize',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS %s_user_idx ON %s (user_id, created_at DESC);
	`, s.table, s.table, s.table)
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("promptforge/version: ensure schema: %w", err)
	}
	return nil
}

// SaveVersion stores the version and returns its assigned id.
func (s *PostgresStore) SaveVersion(ctx context.Context, v promptforge.Version) (string, error) {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, user_id, content, kind, created_at) VALUES ($1, $2, $3, $4, $5)`, s.table),
		v.ID, v.UserID, v.Content, v.Kind, v.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("promptforge/version: save: %w", err)
	}
	return v.ID, nil
}

// ListVersions returns the user's versions, newest first, capped at limit.
func (s *PostgresStore) ListVersions(ctx context.Context, userID string, limit int) ([]promptforge.Version, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT id, user_id, content, kind, created_at FROM %s
			WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, s.table),
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("promptforge/version: list: %w", err)
	}
	defer rows.Close()

	var out []promptforge.Version
	for rows.Next() {
		var v promptforge.Version
		if err := rows.Scan(&v.ID, &v.UserID, &v.Content, &v.Kind, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("promptforge/version: scan: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("promptforge/version: rows: %w", err)
	}
	return out, nil
}
