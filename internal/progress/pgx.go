package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSubstrate stores values in a shared PostgreSQL progress_kv table,
// used when lab workstations keep their progress on a server.
type PostgresSubstrate struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewPostgresSubstrate wraps a pool whose schema has been migrated.
func NewPostgresSubstrate(pool *pgxpool.Pool) *PostgresSubstrate {
	return &PostgresSubstrate{pool: pool, timeout: 5 * time.Second}
}

func (p *PostgresSubstrate) Get(key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	var value string
	err := p.pool.QueryRow(ctx,
		`SELECT value FROM progress_kv WHERE key = $1`, key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("select %s: %w", key, err)
	}
	return value, true, nil
}

func (p *PostgresSubstrate) Set(key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	// UPSERT: creates or updates in one statement.
	_, err := p.pool.Exec(ctx,
		`INSERT INTO progress_kv (key, value, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (key) DO UPDATE
		 SET value = EXCLUDED.value, updated_at = NOW()`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}

func (p *PostgresSubstrate) Remove(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if _, err := p.pool.Exec(ctx, `DELETE FROM progress_kv WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (p *PostgresSubstrate) Keys(prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	rows, err := p.pool.Query(ctx,
		`SELECT key FROM progress_kv WHERE left(key, $1) = $2 ORDER BY key`,
		len(prefix), prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
