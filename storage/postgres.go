package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/songzhibin97/workflow-canvas/types"
)

const postgresSchemaSQL = `
CREATE TABLE IF NOT EXISTS canvas_state (
    key        TEXT PRIMARY KEY,
    state      JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// PostgresStorage implements StateStore on a canvas_state table with one
// JSONB row per key.
type PostgresStorage struct {
	db *pgxpool.Pool
}

// NewPostgresStorage wraps an existing pool.
func NewPostgresStorage(db *pgxpool.Pool) *PostgresStorage {
	return &PostgresStorage{db: db}
}

// ConnectPostgres opens a pool for dsn and pings it.
func ConnectPostgres(ctx context.Context, dsn string) (*PostgresStorage, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	return &PostgresStorage{db: pool}, nil
}

// CreateSchema creates the canvas_state table if it doesn't exist.
func (s *PostgresStorage) CreateSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, postgresSchemaSQL)
	return err
}

// DropSchema drops the canvas_state table.
func (s *PostgresStorage) DropSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DROP TABLE IF EXISTS canvas_state;`)
	return err
}

// Get reads the state row for key.
func (s *PostgresStorage) Get(ctx context.Context, key string) (types.SavedState, error) {
	var data []byte
	err := s.db.QueryRow(ctx, `SELECT state FROM canvas_state WHERE key = $1`, key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.SavedState{}, fmt.Errorf("%w: key=%s", ErrStateNotFound, key)
	} else if err != nil {
		return types.SavedState{}, fmt.Errorf("failed to get %s: %w", key, err)
	}

	var state types.SavedState
	if err := json.Unmarshal(data, &state); err != nil {
		return types.SavedState{}, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return state, nil
}

// Save upserts the state row for key.
func (s *PostgresStorage) Save(ctx context.Context, key string, state types.SavedState) error {
	if err := validateKey(key); err != nil {
		return err
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO canvas_state (key, state, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET state = EXCLUDED.state, updated_at = NOW()`,
		key, data,
	)
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

// Delete removes the state row for key.
func (s *PostgresStorage) Delete(ctx context.Context, key string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM canvas_state WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: key=%s", ErrStateNotFound, key)
	}
	return nil
}

// Keys lists the stored keys in order.
func (s *PostgresStorage) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT key FROM canvas_state ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	return keys, nil
}

// Close releases the pool.
func (s *PostgresStorage) Close() {
	s.db.Close()
}

var (
	_ StateStore = (*PostgresStorage)(nil)
	_ KeyLister  = (*PostgresStorage)(nil)
)
