// Package cleanup runs the periodic expiry sweep: replay guards past their
// dedup window and stale OAuth states are removed so the tables stay small.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/flutterci/internal/logfields"
	"git.home.luguber.info/inful/flutterci/internal/metrics"
	"git.home.luguber.info/inful/flutterci/internal/store"
)

// Task owns the scheduled expiry sweep.
type Task struct {
	scheduler    gocron.Scheduler
	replayGuards *store.ReplayGuardRepo
	oauthStates  *store.OAuthStateRepo
	interval     time.Duration
	recorder     metrics.Recorder
	logger       *slog.Logger
}

// NewTask creates the cleanup task. Rows carry their own expiry timestamps;
// the sweep just deletes whatever is past due at each tick.
func NewTask(replayGuards *store.ReplayGuardRepo, oauthStates *store.OAuthStateRepo, interval time.Duration, recorder metrics.Recorder, logger *slog.Logger) (*Task, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Task{
		scheduler:    s,
		replayGuards: replayGuards,
		oauthStates:  oauthStates,
		interval:     interval,
		recorder:     recorder,
		logger:       logger,
	}, nil
}

// Start schedules the sweep and begins the scheduler.
func (t *Task) Start() error {
	_, err := t.scheduler.NewJob(
		gocron.DurationJob(t.interval),
		gocron.NewTask(t.Sweep),
		gocron.WithName("expiry-sweep"),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule expiry sweep: %w", err)
	}

	t.scheduler.Start()
	t.logger.Info("Cleanup task started", "interval", t.interval.String())
	return nil
}

// Stop shuts the scheduler down.
func (t *Task) Stop() error {
	return t.scheduler.Shutdown()
}

// Sweep removes expired rows. Errors are logged and the sweep continues;
// the next tick retries whatever this one missed.
func (t *Task) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := time.Now()

	guards, err := t.replayGuards.DeleteExpired(ctx, now)
	if err != nil {
		t.logger.Error("Failed to remove expired replay guards", logfields.Error(err))
	} else if guards > 0 {
		t.recorder.IncExpiryRemoved("replay_guard", int(guards))
	}

	states, err := t.oauthStates.DeleteExpired(ctx, now)
	if err != nil {
		t.logger.Error("Failed to remove expired oauth states", logfields.Error(err))
	} else if states > 0 {
		t.recorder.IncExpiryRemoved("oauth_state", int(states))
	}

	if guards > 0 || states > 0 {
		t.logger.Info("Expiry sweep removed rows",
			"replay_guards", guards,
			"oauth_states", states,
		)
	}
}
