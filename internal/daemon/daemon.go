// Package daemon is the composition root: it wires the ledger, providers,
// queue, worker, dispatcher, recovery, cleanup, and HTTP surface into one
// process with an ordered startup and shutdown.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/flutterci/internal/cleanup"
	"git.home.luguber.info/inful/flutterci/internal/config"
	"git.home.luguber.info/inful/flutterci/internal/dispatch"
	"git.home.luguber.info/inful/flutterci/internal/events"
	"git.home.luguber.info/inful/flutterci/internal/ingest"
	"git.home.luguber.info/inful/flutterci/internal/logfields"
	"git.home.luguber.info/inful/flutterci/internal/metrics"
	"git.home.luguber.info/inful/flutterci/internal/provider"
	"git.home.luguber.info/inful/flutterci/internal/recovery"
	"git.home.luguber.info/inful/flutterci/internal/server/httpserver"
	"git.home.luguber.info/inful/flutterci/internal/store"
	"git.home.luguber.info/inful/flutterci/internal/worker"
)

// Status represents the current state of the daemon.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
)

// Daemon owns all long-lived components.
type Daemon struct {
	cfg        *config.Config
	configPath string
	logger     *slog.Logger

	status    atomic.Value // Status
	startTime time.Time

	db         *store.DB
	providers  *provider.Registry
	queue      *ingest.Queue
	ingestSvc  *ingest.Service
	worker     *worker.Worker
	dispatcher *dispatch.Dispatcher
	sweeper    *recovery.Sweeper
	cleanup    *cleanup.Task
	publisher  events.Publisher
	httpServer *httpserver.Server
	watcher    *config.Watcher
	registry   *prom.Registry

	workers      WorkerGroup
	workerCancel context.CancelFunc
}

// New wires a daemon from configuration. configPath enables hot reload of
// provider credentials; pass "" to disable watching.
func New(cfg *config.Config, configPath string, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Daemon{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
	}
	d.status.Store(StatusStopped)

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := store.NewDB(filepath.Join(cfg.Storage.DataDir, "ledger.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	if err := store.RunMigrations(db.Writer); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	d.db = db

	deliveries := store.NewDeliveryRepo(db)
	builds := store.NewBuildRepo(db)
	repos := store.NewRepositoryRepo(db)
	replayGuards := store.NewReplayGuardRepo(db)
	oauthStates := store.NewOAuthStateRepo(db)

	d.registry = prom.NewRegistry()
	recorder := metrics.NewPrometheusRecorder(d.registry)

	d.providers = provider.NewRegistry(cfg.Providers)
	d.queue = ingest.NewQueue(cfg.Queue.Capacity, recorder)
	d.ingestSvc = ingest.NewService(d.providers, deliveries, replayGuards, d.queue, cfg.Cleanup.ReplayGuardTTLDuration(), recorder, logger)

	d.publisher = events.NoopPublisher{}
	if cfg.Events.NATSURL != "" {
		publisher, err := events.NewNATSPublisher(context.Background(), cfg.Events.NATSURL, cfg.Events.SubjectPrefix)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect event publisher: %w", err)
		}
		d.publisher = publisher
	}

	executor := dispatch.NewScriptExecutor(cfg.Builds.Command, logger)
	d.dispatcher = dispatch.New(cfg.Builds.MaxConcurrent, builds, repos, executor, d.publisher, recorder, logger)
	d.worker = worker.New(d.queue, d.providers, deliveries, repos, builds, d.dispatcher, logger)
	d.sweeper = recovery.NewSweeper(deliveries, builds, d.queue, d.dispatcher, cfg.Recovery.BatchSize, recorder, logger)

	task, err := cleanup.NewTask(replayGuards, oauthStates, cfg.Cleanup.IntervalDuration(), recorder, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	d.cleanup = task

	d.httpServer = httpserver.New(cfg.Server, httpserver.Options{
		Ingest:     d.ingestSvc,
		Builds:     builds,
		Repos:      repos,
		Deliveries: deliveries,
		Dispatcher: d.dispatcher,
		Runtime:    d,
		Registry:   d.registry,
		Logger:     logger,
	})

	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, d.onConfigReload)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create config watcher: %w", err)
		}
		d.watcher = watcher
	}

	return d, nil
}

// Start brings the daemon up. The worker and the HTTP listener come up before
// the recovery sweep: the worker must already be consuming or a replay backlog
// larger than the queue capacity would block the sweep forever, and health
// checks answer while recovery is still replaying.
func (d *Daemon) Start(ctx context.Context) error {
	d.status.Store(StatusStarting)
	d.startTime = time.Now()

	workerCtx, cancel := context.WithCancel(context.Background())
	d.workerCancel = cancel

	d.workers.Go(func() { d.worker.Run(workerCtx) })

	if err := d.httpServer.Start(ctx); err != nil {
		d.workerCancel()
		d.status.Store(StatusStopped)
		return err
	}

	if err := d.sweeper.Run(ctx); err != nil {
		d.status.Store(StatusStopped)
		return fmt.Errorf("recovery sweep failed: %w", err)
	}

	if err := d.cleanup.Start(); err != nil {
		d.status.Store(StatusStopped)
		return err
	}

	if d.watcher != nil {
		if err := d.watcher.Start(ctx); err != nil {
			d.logger.Warn("Config watcher failed to start", logfields.Error(err))
		}
	}

	d.status.Store(StatusRunning)
	d.logger.Info("Daemon started",
		"listen", d.cfg.Server.Listen,
		"queue_capacity", d.queue.Capacity(),
		"max_concurrent_builds", d.cfg.Builds.MaxConcurrent,
	)
	return nil
}

// Stop shuts components down in reverse order: stop accepting traffic, drain
// the worker, then wait for in-flight builds.
func (d *Daemon) Stop(ctx context.Context) error {
	d.status.Store(StatusStopping)

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			d.logger.Warn("Config watcher stop failed", logfields.Error(err))
		}
	}

	if err := d.httpServer.Stop(ctx); err != nil {
		d.logger.Warn("HTTP server stop failed", logfields.Error(err))
	}

	if err := d.cleanup.Stop(); err != nil {
		d.logger.Warn("Cleanup task stop failed", logfields.Error(err))
	}

	if d.workerCancel != nil {
		d.workerCancel()
	}
	if err := d.workers.StopAndWait(ctx); err != nil {
		d.logger.Warn("Worker shutdown timed out", logfields.Error(err))
	}

	if err := d.dispatcher.Stop(ctx); err != nil {
		d.logger.Warn("Dispatcher shutdown timed out", logfields.Error(err))
	}

	d.publisher.Close()

	if err := d.db.Close(); err != nil {
		d.logger.Warn("Ledger close failed", logfields.Error(err))
	}

	d.status.Store(StatusStopped)
	d.logger.Info("Daemon stopped")
	return nil
}

// onConfigReload swaps provider credentials when the config file changes.
// Structural settings (listen address, queue capacity, concurrency) require
// a restart and are deliberately not reapplied.
func (d *Daemon) onConfigReload(_ context.Context, cfg *config.Config) error {
	d.providers.Reload(cfg.Providers)
	d.logger.Info("Provider credentials reloaded")
	return nil
}

// GetStatus returns the daemon status string.
func (d *Daemon) GetStatus() string {
	return string(d.status.Load().(Status))
}

// GetStartTime returns when Start was called.
func (d *Daemon) GetStartTime() time.Time {
	return d.startTime
}

// QueueDepth returns the number of queued events.
func (d *Daemon) QueueDepth() int {
	return d.queue.Depth()
}

// QueueCapacity returns the configured queue capacity.
func (d *Daemon) QueueCapacity() int {
	return d.queue.Capacity()
}

// BuildsRunning returns the number of builds holding dispatch slots.
func (d *Daemon) BuildsRunning() int {
	return d.dispatcher.Running()
}
