package database

import (
	"context"
	"fmt"

	"fieldsync/internal/domain"
	"fieldsync/internal/models"
)

// DeadLetters stores dropped actions in the dead_letters table, keeping at
// most limit rows.
type DeadLetters struct {
	db    *DB
	limit int
}

var _ domain.DeadLetterStore = (*DeadLetters)(nil)

func NewDeadLetters(db *DB, limit int) *DeadLetters {
	if limit <= 0 {
		limit = models.DeadLetterLimit
	}
	return &DeadLetters{db: db, limit: limit}
}

func (d *DeadLetters) Push(ctx context.Context, entry models.DeadLetter) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var lastError *string
	if entry.LastError != "" {
		lastError = &entry.LastError
	}

	_, err = tx.ExecContext(ctx, `
        INSERT INTO dead_letters (action_id, kind, payload, enqueued_at, retry_count, reason, last_error, dropped_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Action.ID,
		string(entry.Action.Kind),
		string(entry.Action.Payload),
		entry.Action.EnqueuedAt.UTC(),
		entry.Action.RetryCount,
		entry.Reason,
		lastError,
		entry.DroppedAt.UTC(),
	)
	if err != nil {
		return wrapWriteErr("failed to insert dead letter", err)
	}

	_, err = tx.ExecContext(ctx, `
        DELETE FROM dead_letters
        WHERE id NOT IN (SELECT id FROM dead_letters ORDER BY id DESC LIMIT ?)`, d.limit)
	if err != nil {
		return fmt.Errorf("failed to trim dead letters: %w", err)
	}

	return tx.Commit()
}

func (d *DeadLetters) List(ctx context.Context, limit int) ([]models.DeadLetter, error) {
	query := `SELECT action_id, kind, payload, enqueued_at, retry_count, reason, last_error, dropped_at
              FROM dead_letters ORDER BY id DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer rows.Close()

	var entries []models.DeadLetter
	for rows.Next() {
		var (
			e         models.DeadLetter
			kind      string
			payload   string
			lastError *string
		)
		err := rows.Scan(
			&e.Action.ID, &kind, &payload, &e.Action.EnqueuedAt, &e.Action.RetryCount,
			&e.Reason, &lastError, &e.DroppedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		e.Action.Kind = models.Kind(kind)
		e.Action.Payload = []byte(payload)
		if lastError != nil {
			e.LastError = *lastError
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
