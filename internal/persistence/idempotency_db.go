package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresIdempotencyChecker looks commands up in the operation log.
type PostgresIdempotencyChecker struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{
		db:      db,
		timeout: 500 * time.Millisecond,
	}
}

// IsDuplicate checks if the command exists in levfarm.strategy_operations
func (pic *PostgresIdempotencyChecker) IsDuplicate(commandType string, idempotencyKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), pic.timeout)
	defer cancel()

	var exists int
	err := pic.db.QueryRowContext(ctx, `
		SELECT 1
		FROM levfarm.strategy_operations
		WHERE command_type = $1 AND idempotency_key = $2
		LIMIT 1
	`, commandType, idempotencyKey).Scan(&exists)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecentKeys returns the composite keys of the last limit operations, oldest
// first, for LRU warming.
func (pic *PostgresIdempotencyChecker) RecentKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := pic.db.QueryContext(ctx, `
		SELECT command_type || ':' || idempotency_key FROM (
			SELECT command_type, idempotency_key, sequence
			FROM levfarm.strategy_operations
			ORDER BY sequence DESC
			LIMIT $1
		) recent ORDER BY sequence ASC
	`, limit)
	if err != nil {
		return nil, err
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
