package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"fieldsync/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StorageRedis    = "redis"
	StorageFailover = "failover"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Storage    StorageConfig    `yaml:"storage"`
	Redis      RedisConfig      `yaml:"redis"`
	Remote     RemoteConfig     `yaml:"remote"`
	Sync       SyncConfig       `yaml:"sync"`
	Location   LocationConfig   `yaml:"location"`
	Network    NetworkConfig    `yaml:"network"`
	API        APIConfig        `yaml:"api"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	Exports    ExportConfig     `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

// StorageConfig selects where the offline queue is persisted.
type StorageConfig struct {
	Backend    string       `yaml:"backend"`
	Path       string       `yaml:"path"`
	Key        string       `yaml:"key"`
	QuotaBytes int          `yaml:"quota_bytes"`
	Backup     BackupConfig `yaml:"backup"`
}

// BackupConfig schedules snapshots of the sqlite queue database.
type BackupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	StoragePath   string        `yaml:"storage_path"`
	RetentionDays int           `yaml:"retention_days"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// RemoteConfig points at the backend that receives replayed actions.
type RemoteConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
	RPS     float64       `yaml:"rps"`
	Burst   int           `yaml:"burst"`
}

type SyncConfig struct {
	BatchSize    int              `yaml:"batch_size"`
	BatchDelay   time.Duration    `yaml:"batch_delay"`
	MaxRetries   int              `yaml:"max_retries"`
	MaxQueueSize int              `yaml:"max_queue_size"`
	DeadLetter   DeadLetterConfig `yaml:"dead_letter"`
}

type DeadLetterConfig struct {
	Enabled bool   `yaml:"enabled"`
	Backend string `yaml:"backend"`
	Limit   int    `yaml:"limit"`
}

type LocationConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Interval          time.Duration `yaml:"interval"`
	Timeout           time.Duration `yaml:"timeout"`
	MaximumAge        time.Duration `yaml:"maximum_age"`
	HighAccuracy      *bool         `yaml:"high_accuracy"`
	MovementThreshold float64       `yaml:"movement_threshold"`
}

type NetworkConfig struct {
	InitiallyOnline bool `yaml:"initially_online"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Port int `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePath   string `yaml:"file_path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

// Load reads configPath, expanding ${VAR} references from the environment and
// an optional .env file in the working directory.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case StorageMemory:
	case StorageSQLite:
		if c.Storage.Path == "" {
			return errors.New("storage.path is required for sqlite backend")
		}
	case StorageRedis, StorageFailover:
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address is required for %s backend", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Storage.Backup.Enabled && c.Storage.Path == "" {
		return errors.New("storage.backup requires storage.path")
	}

	if c.Remote.BaseURL == "" {
		return errors.New("remote.base_url is required")
	}
	if !strings.HasPrefix(c.Remote.BaseURL, "http://") && !strings.HasPrefix(c.Remote.BaseURL, "https://") {
		return fmt.Errorf("remote.base_url must be an http(s) URL, got %q", c.Remote.BaseURL)
	}

	if c.Sync.BatchSize <= 0 {
		return errors.New("sync.batch_size must be positive")
	}
	if c.Sync.MaxRetries <= 0 {
		return errors.New("sync.max_retries must be positive")
	}
	if c.Sync.MaxQueueSize <= 0 {
		return errors.New("sync.max_queue_size must be positive")
	}

	if c.Sync.DeadLetter.Enabled {
		switch c.Sync.DeadLetter.Backend {
		case StorageMemory:
		case StorageSQLite:
			if c.Storage.Path == "" {
				return errors.New("storage.path is required for sqlite dead letters")
			}
		case StorageRedis:
			if c.Redis.Address == "" {
				return errors.New("redis.address is required for redis dead letters")
			}
		default:
			return fmt.Errorf("unknown dead letter backend %q", c.Sync.DeadLetter.Backend)
		}
	}

	if c.Location.Interval <= 0 {
		return errors.New("location.interval must be positive")
	}

	return nil
}

// HighAccuracyEnabled reports whether high-accuracy positioning is requested (default true).
func (l LocationConfig) HighAccuracyEnabled() bool {
	return l.HighAccuracy == nil || *l.HighAccuracy
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "fieldsync"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageSQLite
	}
	if c.Storage.Key == "" {
		c.Storage.Key = models.QueueStorageKey
	}
	if c.Storage.Backup.Interval == 0 {
		c.Storage.Backup.Interval = 24 * time.Hour
	}
	if c.Storage.Backup.StoragePath == "" {
		c.Storage.Backup.StoragePath = "backups"
	}
	if c.Remote.Timeout == 0 {
		c.Remote.Timeout = 30 * time.Second
	}
	if c.Remote.Burst == 0 {
		c.Remote.Burst = models.SyncBatchSize
	}

	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = models.SyncBatchSize
	}
	if c.Sync.BatchDelay == 0 {
		c.Sync.BatchDelay = models.SyncBatchDelay
	}
	if c.Sync.MaxRetries == 0 {
		c.Sync.MaxRetries = models.MaxRetries
	}
	if c.Sync.MaxQueueSize == 0 {
		c.Sync.MaxQueueSize = models.MaxQueueSize
	}
	if c.Sync.DeadLetter.Backend == "" {
		c.Sync.DeadLetter.Backend = StorageMemory
	}
	if c.Sync.DeadLetter.Limit == 0 {
		c.Sync.DeadLetter.Limit = models.DeadLetterLimit
	}

	if c.Location.Interval == 0 {
		c.Location.Interval = models.LocationInterval
	}
	if c.Location.Timeout == 0 {
		c.Location.Timeout = models.LocationTimeout
	}
	if c.Location.MaximumAge == 0 {
		c.Location.MaximumAge = models.LocationMaximumAge
	}
	if c.Location.MovementThreshold == 0 {
		c.Location.MovementThreshold = models.MovementThreshold
	}

	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}
