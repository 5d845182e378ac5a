package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"fieldsync/internal/domain"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// DB is the SQLite-backed store for the queue snapshot and dead letters.
type DB struct {
	*sql.DB
	path       string
	logger     *zerolog.Logger
	quotaBytes int
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	// Создаем директорию для БД, если её нет
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and writes serialized.
	db.SetMaxOpenConns(1)

	// Проверяем соединение
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return &DB{DB: db, path: path, logger: logger}, nil
}

// SetQuota caps the total size of stored values; 0 disables the check.
func (db *DB) SetQuota(bytes int) {
	db.quotaBytes = bytes
}

// Path returns the file the database was opened from.
func (db *DB) Path() string {
	return db.path
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS kv_store (
            key TEXT PRIMARY KEY,
            value TEXT NOT NULL,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS dead_letters (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            action_id TEXT NOT NULL,
            kind TEXT NOT NULL,
            payload TEXT NOT NULL,
            enqueued_at DATETIME NOT NULL,
            retry_count INTEGER NOT NULL DEFAULT 0,
            reason TEXT NOT NULL,
            last_error TEXT,
            dropped_at DATETIME NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_dead_letters_dropped_at ON dead_letters(dropped_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// isFull maps SQLite's disk-full result to the storage quota error.
func isFull(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrFull
}

func wrapWriteErr(op string, err error) error {
	if isFull(err) {
		return fmt.Errorf("%s: %w: %v", op, domain.ErrQuotaExceeded, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
