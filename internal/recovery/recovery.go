// Package recovery reconciles durable state with reality at startup. The
// process may have died with builds marked running and events sitting
// unprocessed; the sweep settles both before the daemon accepts new traffic.
package recovery

import (
	"context"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/flutterci/internal/ingest"
	"git.home.luguber.info/inful/flutterci/internal/logfields"
	"git.home.luguber.info/inful/flutterci/internal/metrics"
	"git.home.luguber.info/inful/flutterci/internal/store"
)

// interruptedMessage is recorded on builds that were running when the
// previous process died.
const interruptedMessage = "interrupted by restart"

// Admitter schedules a pending build for execution.
type Admitter interface {
	Admit(ctx context.Context, build *store.Build) error
}

// Sweeper runs the startup recovery sweep.
type Sweeper struct {
	deliveries *store.DeliveryRepo
	builds     *store.BuildRepo
	queue      *ingest.Queue
	admitter   Admitter
	batchSize  int
	recorder   metrics.Recorder
	logger     *slog.Logger
}

// NewSweeper wires the recovery sweep.
func NewSweeper(deliveries *store.DeliveryRepo, builds *store.BuildRepo, queue *ingest.Queue, admitter Admitter, batchSize int, recorder metrics.Recorder, logger *slog.Logger) *Sweeper {
	if batchSize <= 0 {
		batchSize = 100
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		deliveries: deliveries,
		builds:     builds,
		queue:      queue,
		admitter:   admitter,
		batchSize:  batchSize,
		recorder:   recorder,
		logger:     logger,
	}
}

// Run executes the full sweep: fail interrupted builds, re-admit pending
// builds, then replay unprocessed events into the queue. Replay blocks when
// the queue is full rather than dropping events, so a large backlog drains
// at whatever pace the worker sustains.
func (s *Sweeper) Run(ctx context.Context) error {
	failed, err := s.builds.FailInterrupted(ctx, interruptedMessage, time.Now())
	if err != nil {
		return err
	}
	if failed > 0 {
		s.logger.Warn("Failed builds interrupted by previous shutdown", "count", failed)
	}

	readmitted, err := s.readmitPending(ctx)
	if err != nil {
		return err
	}

	replayed, err := s.replayUnprocessed(ctx)
	if err != nil {
		return err
	}

	s.logger.Info("Recovery sweep complete",
		"interrupted", failed,
		"readmitted", readmitted,
		"replayed", replayed,
	)
	return nil
}

func (s *Sweeper) readmitPending(ctx context.Context) (int, error) {
	pending, err := s.builds.ListByStatus(ctx, store.BuildStatusPending)
	if err != nil {
		return 0, err
	}
	for _, build := range pending {
		if err := s.admitter.Admit(ctx, build); err != nil {
			return 0, err
		}
		s.logger.Info("Re-admitted pending build", logfields.BuildID(build.ID))
	}
	return len(pending), nil
}

func (s *Sweeper) replayUnprocessed(ctx context.Context) (int, error) {
	total := 0
	afterID := int64(0)
	for {
		batch, err := s.deliveries.ListUnprocessed(ctx, afterID, s.batchSize)
		if err != nil {
			return total, err
		}
		if len(batch) == 0 {
			return total, nil
		}

		for _, d := range batch {
			err := s.queue.EnqueueWait(ctx, ingest.Job{
				EventID:    d.ID,
				Provider:   d.Provider,
				DeliveryID: d.DeliveryID,
				EventType:  d.EventType,
			})
			if err != nil {
				return total, err
			}
			total++
			afterID = d.ID
		}
		s.recorder.IncEventsRecovered(len(batch))

		if len(batch) < s.batchSize {
			return total, nil
		}
	}
}
