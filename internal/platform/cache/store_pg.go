package cache

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgStore persists cache rows in a single feature_cache table. The header is
// stored at seq 0 so a domain round-trips byte-for-byte with the CSV backend.
type pgStore struct {
	pool *pgxpool.Pool
}

func NewPG(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

// NewPool connects the postgres backend.
func NewPool(ctx context.Context, databaseURL string, maxConns, minConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	cfg.MaxConns = maxConns
	cfg.MinConns = minConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// Migrate creates the cache schema. Invoked by the migrate command.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS feature_cache (
			domain TEXT NOT NULL,
			seq    INTEGER NOT NULL,
			fields TEXT[] NOT NULL,
			PRIMARY KEY (domain, seq)
		)`)
	if err != nil {
		return fmt.Errorf("create feature_cache: %w", err)
	}
	return nil
}

func (s *pgStore) Write(ctx context.Context, domain string, header []string, rows [][]string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("cache write %s: %w", domain, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM feature_cache WHERE domain = $1`, domain); err != nil {
		return fmt.Errorf("cache write %s: %w", domain, err)
	}

	src := make([][]interface{}, 0, len(rows)+1)
	src = append(src, []interface{}{domain, 0, header})
	for i, row := range rows {
		src = append(src, []interface{}{domain, i + 1, row})
	}
	_, err = tx.CopyFrom(ctx, pgx.Identifier{"feature_cache"},
		[]string{"domain", "seq", "fields"}, pgx.CopyFromRows(src))
	if err != nil {
		return fmt.Errorf("cache write %s: %w", domain, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("cache write %s: %w", domain, err)
	}
	return nil
}

func (s *pgStore) Read(ctx context.Context, domain string) ([][]string, error) {
	result, err := s.pool.Query(ctx, `
		SELECT fields FROM feature_cache
		WHERE domain = $1 AND seq > 0
		ORDER BY seq`, domain)
	if err != nil {
		return nil, fmt.Errorf("cache read %s: %w", domain, err)
	}
	defer result.Close()

	var rows [][]string
	for result.Next() {
		var fields []string
		if err := result.Scan(&fields); err != nil {
			return nil, fmt.Errorf("cache read %s: %w", domain, err)
		}
		rows = append(rows, fields)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("cache read %s: %w", domain, err)
	}
	return rows, nil
}

func (s *pgStore) Exists(ctx context.Context, domain string) (bool, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM feature_cache WHERE domain = $1`, domain).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("cache exists %s: %w", domain, err)
	}
	return n > 0, nil
}
