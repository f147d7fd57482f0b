// Package dispatch admits pending builds to a bounded set of execution
// slots. A weighted semaphore caps how many builds run at once; admitted
// builds wait for a slot, transition to running, execute, and always record
// a terminal status.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"git.home.luguber.info/inful/flutterci/internal/events"
	ferrors "git.home.luguber.info/inful/flutterci/internal/foundation/errors"
	"git.home.luguber.info/inful/flutterci/internal/logfields"
	"git.home.luguber.info/inful/flutterci/internal/metrics"
	"git.home.luguber.info/inful/flutterci/internal/store"
)

// Executor runs one build to completion. Implementations return an error
// for build failures; context cancellation is reported as ctx.Err().
type Executor interface {
	Execute(ctx context.Context, build *store.Build, repo *store.Repository) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, build *store.Build, repo *store.Repository) error

func (f ExecutorFunc) Execute(ctx context.Context, build *store.Build, repo *store.Repository) error {
	return f(ctx, build, repo)
}

// Dispatcher admits builds into bounded concurrent execution.
type Dispatcher struct {
	sem      *semaphore.Weighted
	builds   *store.BuildRepo
	repos    *store.RepositoryRepo
	executor Executor
	events   events.Publisher
	recorder metrics.Recorder
	logger   *slog.Logger

	// baseCtx is the lifetime of the dispatcher itself. Build contexts
	// derive from it, never from the admitting caller, so a build outlives
	// the HTTP request or worker iteration that admitted it.
	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu      sync.Mutex
	active  map[string]context.CancelFunc
	running int
	wg      sync.WaitGroup
	stopped bool
}

// New creates a dispatcher with at most maxConcurrent builds running.
func New(maxConcurrent int, builds *store.BuildRepo, repos *store.RepositoryRepo, executor Executor, publisher events.Publisher, recorder metrics.Recorder, logger *slog.Logger) *Dispatcher {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Dispatcher{
		sem:        semaphore.NewWeighted(int64(maxConcurrent)),
		builds:     builds,
		repos:      repos,
		executor:   executor,
		events:     publisher,
		recorder:   recorder,
		logger:     logger,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		active:     make(map[string]context.CancelFunc),
	}
}

// Admit schedules a pending build for execution. It returns immediately;
// the build waits for a free slot in the background. The caller's context
// covers only this synchronous admission; the build itself runs under the
// dispatcher's lifetime. Admitting after Stop returns a daemon error.
func (d *Dispatcher) Admit(_ context.Context, build *store.Build) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return ferrors.DaemonError("dispatcher is stopped").Build()
	}
	if _, exists := d.active[build.ID]; exists {
		d.mu.Unlock()
		return nil
	}
	buildCtx, cancel := context.WithCancel(d.baseCtx)
	d.active[build.ID] = cancel
	d.wg.Add(1)
	d.mu.Unlock()

	go d.run(buildCtx, build)
	return nil
}

// Cancel cancels a build. Pending builds are finalized directly; running
// builds get their context cancelled and finalize on the execution path.
func (d *Dispatcher) Cancel(ctx context.Context, buildID string) error {
	err := d.builds.CancelPending(ctx, buildID, time.Now())
	if err == nil {
		d.mu.Lock()
		if cancel, ok := d.active[buildID]; ok {
			// Wake the slot waiter so it does not start a cancelled build.
			cancel()
		}
		d.mu.Unlock()
		_ = d.events.PublishBuildEvent(ctx, &events.BuildEvent{
			BuildID: buildID,
			Status:  store.BuildStatusCancelled,
		})
		return nil
	}
	if !errors.Is(err, store.ErrInvalidTransition) {
		return err
	}

	// Not pending; cancel it in flight if we own it.
	d.mu.Lock()
	cancel, ok := d.active[buildID]
	d.mu.Unlock()
	if !ok {
		return ferrors.NotFoundError("build is not pending or running: " + buildID).Build()
	}
	cancel()
	return nil
}

// Running returns the number of builds currently holding a slot.
func (d *Dispatcher) Running() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Stop rejects new admissions and waits for in-flight builds, bounded by ctx.
// Builds still waiting for a slot are cancelled.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	// Cancelling the base context reaches every derived build context,
	// including builds still waiting for a slot.
	d.baseCancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run(ctx context.Context, build *store.Build) {
	defer d.wg.Done()
	defer d.release(build.ID)

	log := d.logger.With(
		logfields.BuildID(build.ID),
		logfields.Branch(build.Branch),
		logfields.Commit(build.CommitSHA),
	)

	if err := d.sem.Acquire(ctx, 1); err != nil {
		// Cancelled before a slot opened. The row may already be terminal
		// if Cancel finalized it; an invalid transition here means exactly
		// that and is not an error.
		if cerr := d.builds.CancelPending(context.Background(), build.ID, time.Now()); cerr != nil && !errors.Is(cerr, store.ErrInvalidTransition) {
			log.Error("Failed to finalize cancelled build", logfields.Error(cerr))
		}
		log.Info("Build cancelled before execution")
		return
	}
	defer d.sem.Release(1)

	started := time.Now()
	if err := d.builds.MarkRunning(ctx, build.ID, started); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			// Cancelled between admission and slot acquisition.
			log.Info("Build no longer pending, skipping")
			return
		}
		log.Error("Failed to mark build running", logfields.Error(err))
		return
	}

	d.mu.Lock()
	d.running++
	d.recorder.SetBuildsRunning(d.running)
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.running--
		d.recorder.SetBuildsRunning(d.running)
		d.mu.Unlock()
	}()

	repo, err := d.repos.Get(ctx, build.RepositoryID)
	if err != nil || repo == nil {
		d.finish(build, repo, store.BuildStatusFailure, "repository not found", started, log)
		return
	}

	log.Info("Build started",
		logfields.Repository(repo.FullName()),
		logfields.Trigger(string(build.TriggerType)),
	)
	d.publish(build, repo, store.BuildStatusRunning, "")

	execErr := d.executor.Execute(ctx, build, repo)

	switch {
	case execErr == nil:
		d.finish(build, repo, store.BuildStatusSuccess, "", started, log)
	case errors.Is(execErr, context.Canceled):
		d.finish(build, repo, store.BuildStatusCancelled, "cancelled", started, log)
	default:
		d.finish(build, repo, store.BuildStatusFailure, execErr.Error(), started, log)
	}
}

func (d *Dispatcher) finish(build *store.Build, repo *store.Repository, status store.BuildStatus, message string, started time.Time, log *slog.Logger) {
	// Finalization must not be lost to the cancelled build context.
	if err := d.builds.Finish(context.Background(), build.ID, status, message, time.Now()); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			// Already finalized by a concurrent cancel.
			return
		}
		log.Error("Failed to record build result", logfields.Error(err))
		return
	}

	duration := time.Since(started)
	d.recorder.IncBuildOutcome(string(status))
	d.recorder.ObserveBuildDuration(duration)
	d.publish(build, repo, status, message)

	log.Info("Build finished",
		logfields.Status(string(status)),
		logfields.DurationMS(float64(duration.Milliseconds())),
	)
}

func (d *Dispatcher) publish(build *store.Build, repo *store.Repository, status store.BuildStatus, message string) {
	event := &events.BuildEvent{
		BuildID:   build.ID,
		Branch:    build.Branch,
		CommitSHA: build.CommitSHA,
		Trigger:   build.TriggerType,
		Status:    status,
		Error:     message,
	}
	if repo != nil {
		event.Repository = repo.FullName()
	}
	if err := d.events.PublishBuildEvent(context.Background(), event); err != nil {
		d.logger.Warn("Failed to publish build event",
			logfields.BuildID(build.ID),
			logfields.Error(err),
		)
	}
}

func (d *Dispatcher) release(buildID string) {
	d.mu.Lock()
	if cancel, ok := d.active[buildID]; ok {
		cancel()
		delete(d.active, buildID)
	}
	d.mu.Unlock()
}
