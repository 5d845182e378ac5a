// Package app assembles the queue, the sync engine and their backends from config.
package app

import (
	"context"
	"errors"
	"fmt"

	"fieldsync/internal/api"
	"fieldsync/internal/clock"
	"fieldsync/internal/config"
	"fieldsync/internal/database"
	"fieldsync/internal/domain"
	"fieldsync/internal/events"
	"fieldsync/internal/location"
	"fieldsync/internal/network"
	"fieldsync/internal/queue"
	"fieldsync/internal/remote"
	"fieldsync/internal/repository"
	"fieldsync/internal/service"
	"fieldsync/internal/worker"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	deadLetterKeySuffix = ":dead_letters"
	eventLogSize        = 200
)

// App holds the wired components. Sampler, DeadLetters and Backup are nil
// when disabled in config.
type App struct {
	Config *config.Config
	Logger *zerolog.Logger
	Bus    *events.EventBus
	Events *events.Recorder
	Clock  clock.Clock

	Storage     domain.KVStorage
	DeadLetters domain.DeadLetterStore
	Queue       *queue.Store
	Network     *network.Monitor
	Remote      *remote.Client
	Engine      *worker.Engine
	Actions     *service.ActionService
	Positions   *location.PushProvider
	Battery     *location.StaticBattery
	Sampler     *location.Sampler
	Backup      *database.BackupService

	db    *database.DB
	redis *redis.Client
}

// New opens the storage backends and wires every component. Nothing is
// started; see Run.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: logger,
		Bus:    events.NewEventBus(),
		Clock:  clock.New(),
	}
	a.Events = events.NewRecorder(a.Bus, eventLogSize)

	storage, err := a.openStorage(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Storage = storage

	if cfg.Sync.DeadLetter.Enabled {
		dead, err := a.openDeadLetters(ctx)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.DeadLetters = dead
	}

	if cfg.Storage.Backup.Enabled && a.db != nil {
		a.Backup = database.NewBackupService(a.db, cfg.Storage.Backup, a.Clock, logger)
	}

	a.Queue = queue.Open(ctx, storage, queue.Options{
		Key:         cfg.Storage.Key,
		Capacity:    cfg.Sync.MaxQueueSize,
		Clock:       a.Clock,
		DeadLetters: a.DeadLetters,
	}, a.Bus, logger)

	a.Network = network.NewMonitor(cfg.Network.InitiallyOnline, a.Bus, logger)
	a.Remote = remote.NewClient(cfg.Remote, logger)
	a.Engine = worker.NewEngine(a.Queue, a.Network, remote.Handlers(a.Remote), worker.Options{
		BatchSize:   cfg.Sync.BatchSize,
		BatchDelay:  cfg.Sync.BatchDelay,
		Retry:       worker.RetryPolicy{MaxRetries: cfg.Sync.MaxRetries},
		Clock:       a.Clock,
		DeadLetters: a.DeadLetters,
	}, a.Bus, logger)
	a.Actions = service.NewActionService(a.Queue, a.Engine, a.Network, logger)

	if cfg.Location.Enabled {
		a.Positions = location.NewPushProvider(a.Clock)
		a.Battery = location.NewStaticBattery(-1)
		a.Sampler = location.NewSampler(location.Config{
			Interval:          cfg.Location.Interval,
			Timeout:           cfg.Location.Timeout,
			MaximumAge:        cfg.Location.MaximumAge,
			HighAccuracy:      cfg.Location.HighAccuracyEnabled(),
			MovementThreshold: cfg.Location.MovementThreshold,
		}, a.Positions, a.Battery, a.Actions, a.Clock, a.Bus, logger)
	}

	return a, nil
}

// Run starts the background parts (engine, sampler, backups) and returns a
// function stopping them.
func (a *App) Run(ctx context.Context) func() {
	stopEngine := a.Engine.Start(ctx)

	if a.Sampler != nil {
		a.Sampler.Start(ctx)
	}

	backupCtx, cancelBackup := context.WithCancel(ctx)
	backupDone := make(chan struct{})
	go func() {
		defer close(backupDone)
		if a.Backup != nil {
			a.Backup.Start(backupCtx)
		}
	}()

	return func() {
		cancelBackup()
		<-backupDone
		if a.Sampler != nil {
			a.Sampler.Stop()
		}
		stopEngine()
	}
}

// APIDeps exposes the components driven by the control API.
func (a *App) APIDeps() api.Deps {
	return api.Deps{
		Queue:       a.Queue,
		Network:     a.Network,
		Engine:      a.Engine,
		Actions:     a.Actions,
		Sampler:     a.Sampler,
		Positions:   a.Positions,
		Battery:     a.Battery,
		DeadLetters: a.DeadLetters,
		Events:      a.Events,
	}
}

// Close releases the storage backends.
func (a *App) Close() error {
	var errs []error
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
		a.db = nil
	}
	if a.redis != nil {
		if err := repository.Close(a.redis); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
		a.redis = nil
	}
	return errors.Join(errs...)
}

func (a *App) openStorage(ctx context.Context) (domain.KVStorage, error) {
	cfg := a.Config
	switch cfg.Storage.Backend {
	case config.StorageMemory:
		return repository.NewMemoryStorage(cfg.Storage.QuotaBytes), nil

	case config.StorageSQLite:
		return a.sqlite()

	case config.StorageRedis:
		client, err := a.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		return repository.NewRedisStorage(client), nil

	case config.StorageFailover:
		var fallback domain.KVStorage = repository.NewMemoryStorage(cfg.Storage.QuotaBytes)
		if cfg.Storage.Path != "" {
			db, err := a.sqlite()
			if err != nil {
				return nil, err
			}
			fallback = db
		}
		// Redis может быть недоступен при старте, failover сам проверит его позже.
		client := repository.NewRedisClient(cfg.Redis)
		a.redis = client
		return repository.NewFailoverStorage(repository.NewRedisStorage(client), fallback, a.Logger), nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func (a *App) openDeadLetters(ctx context.Context) (domain.DeadLetterStore, error) {
	cfg := a.Config
	limit := cfg.Sync.DeadLetter.Limit
	switch cfg.Sync.DeadLetter.Backend {
	case config.StorageMemory:
		return repository.NewMemoryDeadLetters(limit), nil

	case config.StorageSQLite:
		db, err := a.sqlite()
		if err != nil {
			return nil, err
		}
		return database.NewDeadLetters(db, limit), nil

	case config.StorageRedis:
		client, err := a.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		return repository.NewRedisDeadLetters(client, cfg.Storage.Key+deadLetterKeySuffix, limit), nil

	default:
		return nil, fmt.Errorf("unknown dead letter backend %q", cfg.Sync.DeadLetter.Backend)
	}
}

// sqlite opens the queue database once and shares it between stores.
func (a *App) sqlite() (*database.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := database.NewDB(a.Config.Storage.Path, a.Logger)
	if err != nil {
		return nil, err
	}
	db.SetQuota(a.Config.Storage.QuotaBytes)
	a.db = db
	return db, nil
}

func (a *App) redisClient(ctx context.Context) (*redis.Client, error) {
	if a.redis != nil {
		return a.redis, nil
	}
	client := repository.NewRedisClient(a.Config.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", a.Config.Redis.Address, err)
	}
	a.Logger.Info().Str("addr", a.Config.Redis.Address).Msg("Redis connected")
	a.redis = client
	return client, nil
}
