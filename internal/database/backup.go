package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"fieldsync/internal/clock"
	"fieldsync/internal/config"

	"github.com/rs/zerolog"
)

const (
	backupPrefix     = "queue_"
	backupSuffix     = ".db"
	backupTimeLayout = "20060102_150405.000"
)

// BackupService periodically snapshots the queue database with VACUUM INTO
// and prunes snapshots older than the retention window.
type BackupService struct {
	db     *DB
	config config.BackupConfig
	clock  clock.Clock
	logger zerolog.Logger
}

func NewBackupService(db *DB, cfg config.BackupConfig, clk clock.Clock, logger *zerolog.Logger) *BackupService {
	if clk == nil {
		clk = clock.New()
	}
	return &BackupService{
		db:     db,
		config: cfg,
		clock:  clk,
		logger: logger.With().Str("component", "backup").Logger(),
	}
}

// Start takes a snapshot right away and then every Interval until ctx is done.
func (s *BackupService) Start(ctx context.Context) {
	if !s.config.Enabled {
		s.logger.Info().Msg("Backup service is disabled")
		return
	}

	s.logger.Info().Dur("interval", s.config.Interval).Str("dir", s.config.StoragePath).Msg("Backup service started")

	ticker := s.clock.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.runOnce(ctx)
		}
	}
}

func (s *BackupService) runOnce(ctx context.Context) {
	if _, err := s.PerformBackup(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Backup failed")
		return
	}
	if _, err := s.CleanupOldBackups(); err != nil {
		s.logger.Warn().Err(err).Msg("Backup cleanup failed")
	}
}

// PerformBackup writes a consistent copy of the database and returns its path.
func (s *BackupService) PerformBackup(ctx context.Context) (string, error) {
	if err := os.MkdirAll(s.config.StoragePath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	name := backupPrefix + s.clock.Now().UTC().Format(backupTimeLayout) + backupSuffix
	backupPath := filepath.Join(s.config.StoragePath, name)

	quoted := strings.ReplaceAll(backupPath, "'", "''")
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", quoted)); err != nil {
		return "", fmt.Errorf("vacuum into %s: %w", backupPath, err)
	}

	s.logger.Info().Str("path", backupPath).Msg("Queue database backed up")
	return backupPath, nil
}

// Backups lists snapshot paths, oldest first.
func (s *BackupService) Backups() ([]string, error) {
	entries, err := os.ReadDir(s.config.StoragePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []string
	for _, e := range entries {
		if e.IsDir() || !isBackupName(e.Name()) {
			continue
		}
		out = append(out, filepath.Join(s.config.StoragePath, e.Name()))
	}
	// имена содержат время снимка, поэтому лексикографический порядок хронологический
	sort.Strings(out)
	return out, nil
}

// CleanupOldBackups removes snapshots taken before now minus RetentionDays
// and returns how many were removed. RetentionDays <= 0 keeps everything.
func (s *BackupService) CleanupOldBackups() (int, error) {
	if s.config.RetentionDays <= 0 {
		return 0, nil
	}

	paths, err := s.Backups()
	if err != nil {
		return 0, fmt.Errorf("read backup directory: %w", err)
	}

	cutoff := s.clock.Now().AddDate(0, 0, -s.config.RetentionDays)
	removed := 0
	for _, path := range paths {
		taken, ok := backupTime(path)
		if !ok {
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			taken = info.ModTime()
		}
		if !taken.Before(cutoff) {
			continue
		}

		if err := os.Remove(path); err != nil {
			s.logger.Warn().Err(err).Str("file", path).Msg("Failed to delete old backup")
			continue
		}
		s.logger.Info().Str("file", path).Msg("Deleted old backup")
		removed++
	}
	return removed, nil
}

func isBackupName(name string) bool {
	return strings.HasPrefix(name, backupPrefix) && strings.HasSuffix(name, backupSuffix)
}

// backupTime extracts the snapshot time from a backup file name.
func backupTime(path string) (time.Time, bool) {
	name := filepath.Base(path)
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, backupPrefix), backupSuffix)
	t, err := time.Parse(backupTimeLayout, stamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
