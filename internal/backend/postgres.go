// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// postgres.go: PostgreSQL-backed store. Each key is one row in a two-column
// table; writes are a single upsert so readers never see a partial value.

package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultTable is used when NewPostgres is given an empty table name.
const DefaultTable = "konserve"

// Postgres stores values in a PostgreSQL table.
type Postgres struct {
	pool  *pgxpool.Pool
	table string

	selectSQL string
	upsertSQL string
	deleteSQL string
	existsSQL string
	keysSQL   string
}

// NewPostgres returns a backend storing rows in table through pool. Call
// EnsureSchema before first use unless the table already exists.
func NewPostgres(pool *pgxpool.Pool, table string) (*Postgres, error) {
	if pool == nil {
		return nil, errors.New("backend postgres: nil pool")
	}
	if table == "" {
		table = DefaultTable
	}
	t := pgx.Identifier{table}.Sanitize()
	return &Postgres{
		pool:      pool,
		table:     t,
		selectSQL: fmt.Sprintf("SELECT data FROM %s WHERE id = $1", t),
		upsertSQL: fmt.Sprintf("INSERT INTO %s (id, data) VALUES ($1, $2) ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data", t),
		deleteSQL: fmt.Sprintf("DELETE FROM %s WHERE id = $1", t),
		existsSQL: fmt.Sprintf("SELECT 1 FROM %s WHERE id = $1 LIMIT 1", t),
		keysSQL:   fmt.Sprintf("SELECT id FROM %s ORDER BY id", t),
	}, nil
}

// EnsureSchema creates the table if it does not exist.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	sql := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, data BYTEA NOT NULL)", s.table)
	if _, err := s.pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("backend postgres schema %s: %w", s.table, err)
	}
	return nil
}

func (s *Postgres) Read(ctx context.Context, key string) ([]byte, error) {
	var b []byte
	err := s.pool.QueryRow(ctx, s.selectSQL, key).Scan(&b)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("backend postgres get %s: %w", key, err)
	}
	return b, nil
}

func (s *Postgres) Write(ctx context.Context, key string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	if _, err := s.pool.Exec(ctx, s.upsertSQL, key, data); err != nil {
		return fmt.Errorf("backend postgres upsert %s: %w", key, err)
	}
	return nil
}

func (s *Postgres) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, s.deleteSQL, key); err != nil {
		return fmt.Errorf("backend postgres delete %s: %w", key, err)
	}
	return nil
}

func (s *Postgres) Exists(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx, s.existsSQL, key).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("backend postgres exists %s: %w", key, err)
	}
	return true, nil
}

func (s *Postgres) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, s.keysSQL)
	if err != nil {
		return nil, fmt.Errorf("backend postgres keys: %w", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("backend postgres keys: %w", err)
	}
	return keys, nil
}

// Ping verifies the pool is reachable.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close shuts down the underlying connection pool.
func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}
