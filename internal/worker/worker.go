// Package worker consumes the event queue. A single consumer drains jobs in
// FIFO order, derives build intents from stored payloads, and admits them to
// the dispatcher. One bad payload never stops the loop; the failure is
// recorded on the delivery and the worker moves on.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/flutterci/internal/ingest"
	"git.home.luguber.info/inful/flutterci/internal/logfields"
	"git.home.luguber.info/inful/flutterci/internal/provider"
	"git.home.luguber.info/inful/flutterci/internal/store"
)

// Admitter schedules a pending build for execution.
type Admitter interface {
	Admit(ctx context.Context, build *store.Build) error
}

// Worker is the single queue consumer.
type Worker struct {
	queue      *ingest.Queue
	providers  *provider.Registry
	deliveries *store.DeliveryRepo
	repos      *store.RepositoryRepo
	builds     *store.BuildRepo
	admitter   Admitter
	logger     *slog.Logger
}

// New creates the queue consumer.
func New(queue *ingest.Queue, providers *provider.Registry, deliveries *store.DeliveryRepo, repos *store.RepositoryRepo, builds *store.BuildRepo, admitter Admitter, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		queue:      queue,
		providers:  providers,
		deliveries: deliveries,
		repos:      repos,
		builds:     builds,
		admitter:   admitter,
		logger:     logger,
	}
}

// Run drains the queue until the context is cancelled. It is intended to be
// started exactly once as a daemon goroutine.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-w.queue.Jobs():
			w.Process(ctx, job)
		}
	}
}

// Process handles one job. Errors are recorded on the delivery row; the
// return value exists for tests and recovery, the run loop ignores it.
func (w *Worker) Process(ctx context.Context, job ingest.Job) error {
	log := w.logger.With(
		logfields.EventID(job.EventID),
		logfields.Provider(string(job.Provider)),
		logfields.DeliveryID(job.DeliveryID),
	)

	build, err := w.process(ctx, job)
	if err != nil {
		log.Error("Event processing failed", logfields.Error(err))
		if serr := w.deliveries.SetError(ctx, job.EventID, err.Error()); serr != nil {
			log.Error("Failed to record processing error", logfields.Error(serr))
		}
		return err
	}

	if err := w.deliveries.MarkProcessed(ctx, job.EventID); err != nil {
		log.Error("Failed to mark event processed", logfields.Error(err))
		return err
	}

	if build == nil {
		log.Debug("Event produced no build", logfields.EventType(job.EventType))
		return nil
	}

	if err := w.admitter.Admit(ctx, build); err != nil {
		log.Error("Failed to admit build", logfields.BuildID(build.ID), logfields.Error(err))
		return err
	}

	log.Info("Build created",
		logfields.BuildID(build.ID),
		logfields.Branch(build.Branch),
		logfields.Commit(build.CommitSHA),
	)
	return nil
}

// process derives and persists the build intent. It returns (nil, nil) for
// events that are valid but not buildable.
func (w *Worker) process(ctx context.Context, job ingest.Job) (*store.Build, error) {
	delivery, err := w.deliveries.GetByID(ctx, job.EventID)
	if err != nil {
		return nil, err
	}
	if delivery == nil {
		return nil, errors.New("delivery not found")
	}

	p, err := w.providers.Get(delivery.Provider)
	if err != nil {
		return nil, err
	}

	trigger, err := p.ParseTrigger(delivery.EventType, delivery.Payload)
	if err != nil {
		return nil, err
	}
	if trigger == nil {
		return nil, nil
	}

	repo, err := w.repos.ResolveOrCreate(ctx, delivery.Provider, strconv.FormatInt(trigger.ProviderRepoID, 10), trigger.Owner, trigger.Name)
	if err != nil {
		return nil, err
	}

	eventID := job.EventID
	build := &store.Build{
		ID:             uuid.NewString(),
		RepositoryID:   repo.ID,
		WebhookEventID: &eventID,
		CommitSHA:      trigger.CommitSHA,
		Branch:         trigger.Branch,
		TriggerType:    trigger.Type,
		Status:         store.BuildStatusPending,
	}

	err = w.builds.Create(ctx, build)
	if errors.Is(err, store.ErrConflict) {
		// A build for this event already exists; a recovery replay landed
		// after the original run got this far. Creation already happened,
		// so this pass has nothing left to do.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return build, nil
}
