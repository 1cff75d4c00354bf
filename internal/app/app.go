// -----------------------------------------------------------------------
// App - wires storage, broker, supervisors, services and handlers
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/subfetch/subfetch/internal/common"
	"github.com/subfetch/subfetch/internal/handlers"
	"github.com/subfetch/subfetch/internal/interfaces"
	"github.com/subfetch/subfetch/internal/logbus"
	"github.com/subfetch/subfetch/internal/models"
	"github.com/subfetch/subfetch/internal/queue"
	"github.com/subfetch/subfetch/internal/services/auth"
	jobsvc "github.com/subfetch/subfetch/internal/services/jobs"
	"github.com/subfetch/subfetch/internal/services/scheduler"
	storage "github.com/subfetch/subfetch/internal/storage/badger"
	"github.com/subfetch/subfetch/internal/supervisor"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager *storage.Manager
	Broker         *queue.Broker
	Pool           *queue.Pool
	Bus            interfaces.LogBus
	Registry       *supervisor.Registry
	Supervisor     *supervisor.Supervisor

	JobService  interfaces.JobService
	AuthService interfaces.AuthService
	Scheduler   *scheduler.Service

	JobHandler       *handlers.JobHandler
	WebhookHandler   *handlers.WebhookHandler
	LogStreamHandler *handlers.LogStreamHandler
	APIHandler       *handlers.APIHandler
}

// New creates and wires the application. Nothing is started yet; call Start.
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	manager, err := storage.NewManager(logger, &config.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	// Settings held in the database override file values.
	common.ApplyKVOverrides(config, manager.KVStorage(), logger)

	bus := logbus.NewBus(config.LogBus, logger)

	visibility, err := time.ParseDuration(config.Queue.VisibilityTimeout)
	if err != nil {
		manager.Close()
		return nil, fmt.Errorf("invalid visibility timeout: %w", err)
	}
	broker, err := queue.NewBroker(manager.DB().Badger(), config.Queue.QueueName, visibility, config.Queue.MaxReceive, logger)
	if err != nil {
		manager.Close()
		return nil, fmt.Errorf("failed to initialize broker: %w", err)
	}

	registry := supervisor.NewRegistry()
	sup := supervisor.New(manager.JobStorage(), bus, registry, config.Jobs, logger)

	pollInterval, err := time.ParseDuration(config.Queue.PollInterval)
	if err != nil {
		manager.Close()
		return nil, fmt.Errorf("invalid poll interval: %w", err)
	}
	pool := queue.NewPool(broker, sup.Handle, config.Queue.Concurrency, pollInterval, logger)

	jobService := jobsvc.NewService(manager.JobStorage(), manager.PathStorage(), broker, registry, bus, config.Jobs, logger)
	authService := auth.NewService(manager.UserStorage(), logger)
	sched := scheduler.NewService(jobService, config.Scheduler, logger)

	a := &App{
		Config:         config,
		Logger:         logger,
		StorageManager: manager,
		Broker:         broker,
		Pool:           pool,
		Bus:            bus,
		Registry:       registry,
		Supervisor:     sup,
		JobService:     jobService,
		AuthService:    authService,
		Scheduler:      sched,

		JobHandler:       handlers.NewJobHandler(jobService, authService, logger),
		WebhookHandler:   handlers.NewWebhookHandler(jobService, config.Webhook.Secret, logger),
		LogStreamHandler: handlers.NewLogStreamHandler(jobService, authService, bus, logger),
		APIHandler:       handlers.NewAPIHandler(logger),
	}

	if err := a.seed(); err != nil {
		manager.Close()
		return nil, err
	}

	return a, nil
}

// seed provisions the bootstrap admin account and the configured allow-list
// entries. Both are idempotent upserts.
func (a *App) seed() error {
	ctx := context.Background()

	if key := a.Config.Auth.AdminAPIKey; key != "" {
		name := a.Config.Auth.AdminName
		if name == "" {
			name = "Admin"
		}
		admin := &models.User{
			ID:        "admin",
			Name:      name,
			Admin:     true,
			Superuser: true,
			APIKey:    key,
			CreatedAt: time.Now().UTC(),
		}
		if err := a.StorageManager.UserStorage().SaveUser(ctx, admin); err != nil {
			return fmt.Errorf("failed to seed admin user: %w", err)
		}
	}

	for _, folder := range a.Config.Jobs.AllowedMediaFolders {
		entry, err := models.NewStoragePath(folder, "configured", "config")
		if err != nil {
			return fmt.Errorf("invalid allowed media folder: %w", err)
		}
		if err := a.StorageManager.PathStorage().AddPath(ctx, entry); err != nil {
			return fmt.Errorf("failed to seed allow-list: %w", err)
		}
	}
	return nil
}

// Start launches the worker pool and the scheduler.
func (a *App) Start() error {
	a.Pool.Start()
	if err := a.Scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	return nil
}

// Shutdown stops background work and closes storage. Running supervisors
// observe pool context cancellation and settle their jobs before the store
// closes underneath them, within the shutdown deadline.
func (a *App) Shutdown(ctx context.Context) error {
	a.Scheduler.Stop()
	a.Pool.Stop()

	// Give in-flight supervisors a moment to commit terminal states.
	deadline := time.After(a.Config.TerminateGrace() + 2*time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for a.Registry.Running() > 0 {
		select {
		case <-ctx.Done():
			a.Logger.Warn().Msg("Shutdown deadline reached with jobs still running")
			goto close
		case <-deadline:
			a.Logger.Warn().Msg("Grace period elapsed with jobs still running")
			goto close
		case <-ticker.C:
		}
	}

close:
	return a.StorageManager.Close()
}
