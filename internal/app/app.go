package app

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/certflow/internal/common"
	"github.com/ternarybob/certflow/internal/handlers"
	"github.com/ternarybob/certflow/internal/interfaces"
	"github.com/ternarybob/certflow/internal/services/download"
	"github.com/ternarybob/certflow/internal/services/events"
	"github.com/ternarybob/certflow/internal/services/orders"
	"github.com/ternarybob/certflow/internal/services/pdf"
	"github.com/ternarybob/certflow/internal/services/portal"
	"github.com/ternarybob/certflow/internal/services/scheduler"
	"github.com/ternarybob/certflow/internal/services/workflow"
	"github.com/ternarybob/certflow/internal/storage/badger"
	"github.com/ternarybob/certflow/internal/storage/dataset"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Storage
	Store   interfaces.RecordStore
	DB      *badger.BadgerDB
	Journal interfaces.JournalStorage

	// Workflow
	EventService interfaces.EventService
	Registry     *prometheus.Registry
	Supervisor   *workflow.Supervisor
	Scheduler    *scheduler.Service
	Orders       *orders.Service

	// HTTP handlers
	WSHandler     *handlers.WebSocketHandler
	StatusHandler *handlers.StatusHandler
	OrderHandler  *handlers.OrderHandler
}

// New initializes the application with all dependencies
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: config,
		Logger: logger,
	}

	if err := app.initStorage(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	logger.Debug().Msg("Application initialization complete")
	return app, nil
}

// initStorage opens the dataset store and the run journal
func (a *App) initStorage() error {
	a.Store = dataset.NewStore(a.Config.Dataset.Path, a.Config.Dataset.Sheet, a.Logger)

	db, err := badger.NewBadgerDB(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return err
	}
	a.DB = db
	a.Journal = badger.NewJournalStorage(db, a.Logger)

	a.Logger.Debug().
		Str("dataset", a.Config.Dataset.Path).
		Str("journal", a.Config.Storage.Badger.Path).
		Msg("Storage initialized")
	return nil
}

// initServices builds the workflow stack around one supervisor
func (a *App) initServices() error {
	cfg := a.Config

	a.EventService = events.NewService(a.Logger)
	if err := events.SubscribeLoggerToAllEvents(a.EventService, a.Logger); err != nil {
		return fmt.Errorf("failed to subscribe event logger: %w", err)
	}

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := workflow.NewMetrics(a.Registry)

	watcher := download.NewWatcher(download.Config{
		PollInterval: common.ParseDuration(cfg.Download.PollInterval, download.DefaultPollInterval),
		Timeout:      common.ParseDuration(cfg.Download.Timeout, download.DefaultTimeout),
		Extension:    cfg.Download.Extension,
	}, a.Logger)

	orchestrator := workflow.NewOrchestrator(workflow.Dependencies{
		Store:            a.Store,
		Watcher:          watcher,
		Inspector:        pdf.NewInspector(a.Logger),
		Journal:          a.Journal,
		Events:           a.EventService,
		Metrics:          metrics,
		MinQueryInterval: common.ParseDuration(cfg.Pacing.MinQueryInterval, 0),
	}, a.Logger)

	creds := common.LoadCredentials(cfg.Portal.CredentialsDir, a.Logger)
	if !creds.IsComplete() {
		a.Logger.Warn().
			Str("credentials_dir", cfg.Portal.CredentialsDir).
			Msg("Portal credentials are incomplete; login will fail")
	}

	a.Supervisor = workflow.NewSupervisor(workflow.SupervisorConfig{
		Factory:      portal.NewFactory(portal.ConfigFromCommon(cfg.Portal), a.Logger),
		Orchestrator: orchestrator,
		Credentials:  creds,
		Output: workflow.OutputConfig{
			BaseDir:     cfg.Output.BaseDir,
			Prefix:      cfg.Output.Prefix,
			DownloadDir: cfg.Download.Dir,
		},
		Policy: workflow.RestartPolicy{
			Backoff:     common.ParseDuration(cfg.Supervisor.Backoff, 15*time.Second),
			MaxRestarts: cfg.Supervisor.MaxRestarts,
		},
		Journal: a.Journal,
		Events:  a.EventService,
		Metrics: metrics,
	}, a.Logger)

	a.Scheduler = scheduler.NewService(a.Supervisor, a.Logger)

	a.Orders = orders.NewService(
		orders.NewFileStorage(cfg.Server.OrdersFile, a.Logger),
		cfg.Server.UploadsDir,
		a.Logger,
	)

	return nil
}

func (a *App) initHandlers() {
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, a.Logger)
	a.StatusHandler = handlers.NewStatusHandler(a.Store, a.Supervisor, a.Scheduler, a.Logger)
	a.OrderHandler = handlers.NewOrderHandler(a.Orders, a.Logger)
}

// Close stops the scheduler and releases storage
func (a *App) Close() error {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}
	if a.Journal != nil {
		if err := a.Journal.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close journal")
			return err
		}
	}
	a.Logger.Debug().Msg("Application closed")
	return nil
}
