package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fieldsync/internal/domain"
)

var _ domain.KVStorage = (*DB)(nil)

func (db *DB) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := db.QueryRowContext(ctx, `SELECT value FROM kv_store WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, true, nil
}

func (db *DB) Set(ctx context.Context, key, value string) error {
	if db.quotaBytes > 0 {
		var used int
		err := db.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(LENGTH(CAST(value AS BLOB))), 0) FROM kv_store WHERE key <> ?`, key,
		).Scan(&used)
		if err != nil {
			return fmt.Errorf("failed to measure storage usage: %w", err)
		}
		if used+len(value) > db.quotaBytes {
			return domain.ErrQuotaExceeded
		}
	}

	_, err := db.ExecContext(ctx, `
        INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value)
	if err != nil {
		return wrapWriteErr("failed to set "+key, err)
	}
	return nil
}

func (db *DB) Remove(ctx context.Context, key string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM kv_store WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	return nil
}
