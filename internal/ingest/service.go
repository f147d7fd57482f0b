// Package ingest implements the webhook ingestion pipeline: authenticate the
// delivery, deduplicate replays, persist the event durably, then hand it to
// the in-memory queue for asynchronous processing.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"time"

	ferrors "git.home.luguber.info/inful/flutterci/internal/foundation/errors"
	"git.home.luguber.info/inful/flutterci/internal/logfields"
	"git.home.luguber.info/inful/flutterci/internal/metrics"
	"git.home.luguber.info/inful/flutterci/internal/provider"
	"git.home.luguber.info/inful/flutterci/internal/store"
)

// deferredQueueFull marks a durable delivery that admission could not queue.
// A sender retry or the recovery sweep picks it back up.
const deferredQueueFull = "deferred: queue full"

// Result reports what ingestion did with a delivery.
type Result struct {
	EventID    int64
	DeliveryID string
	Duplicate  bool
	Queued     bool
}

// Service runs the ingestion pipeline for one delivery at a time. It is safe
// for concurrent use.
type Service struct {
	providers      *provider.Registry
	deliveries     *store.DeliveryRepo
	replayGuards   *store.ReplayGuardRepo
	queue          *Queue
	replayGuardTTL time.Duration
	recorder       metrics.Recorder
	logger         *slog.Logger
}

// NewService wires the ingestion pipeline.
func NewService(providers *provider.Registry, deliveries *store.DeliveryRepo, replayGuards *store.ReplayGuardRepo, queue *Queue, replayGuardTTL time.Duration, recorder metrics.Recorder, logger *slog.Logger) *Service {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		providers:      providers,
		deliveries:     deliveries,
		replayGuards:   replayGuards,
		queue:          queue,
		replayGuardTTL: replayGuardTTL,
		recorder:       recorder,
		logger:         logger,
	}
}

// Receive runs the pipeline for one delivery. The ordering is fixed:
// authenticate, deduplicate, persist, enqueue. A replayed delivery returns
// Duplicate=true with no error so the sender sees success and stops
// retrying. A full queue returns a capacity error after the event is
// already durable; the recovery sweep picks it up on the next restart.
// repositoryID is the provider's repository identifier when the route
// carries one (GitLab's per-repository endpoint); nil otherwise.
func (s *Service) Receive(ctx context.Context, name store.Provider, headers http.Header, body []byte, repositoryID *int64) (*Result, error) {
	started := time.Now()

	p, err := s.providers.Get(name)
	if err != nil {
		return nil, err
	}

	if err := p.Verify(headers, body); err != nil {
		s.recorder.IncDeliveryRejected(string(name), metrics.RejectAuth)
		return nil, err
	}

	deliveryID := p.DeliveryID(headers)
	if deliveryID == "" {
		// No provider-assigned identifier; derive one from the payload so
		// retransmissions of the same content still deduplicate.
		sum := sha256.Sum256(body)
		deliveryID = hex.EncodeToString(sum[:])
	}

	log := s.logger.With(
		logfields.Provider(string(name)),
		logfields.DeliveryID(deliveryID),
	)

	seen, err := s.replayGuards.Exists(ctx, name, deliveryID, started)
	if err != nil {
		return nil, ferrors.StorageError("failed to check replay guard").WithCause(err).Build()
	}
	if seen {
		s.recorder.IncDeliveryDuplicate(string(name))
		return s.redeliver(ctx, name, deliveryID, log)
	}

	eventID, err := s.deliveries.Insert(ctx, &store.WebhookDelivery{
		Provider:     name,
		DeliveryID:   deliveryID,
		RepositoryID: repositoryID,
		EventType:    p.EventType(headers),
		Payload:      body,
		ReceivedAt:   started,
	})
	if errors.Is(err, store.ErrConflict) {
		// The unique constraint is the authoritative dedup; the replay guard
		// is a fast path that may have expired.
		s.recorder.IncDeliveryDuplicate(string(name))
		return s.redeliver(ctx, name, deliveryID, log)
	}
	if err != nil {
		return nil, ferrors.StorageError("failed to persist delivery").WithCause(err).Build()
	}

	if err := s.replayGuards.Put(ctx, name, deliveryID, started.Add(s.replayGuardTTL)); err != nil {
		// The delivery is already durable, so a guard write failure only
		// costs the fast-path lookup on replay.
		log.Warn("Failed to record replay guard", logfields.Error(err))
	}

	result := &Result{EventID: eventID, DeliveryID: deliveryID}

	err = s.queue.Enqueue(Job{
		EventID:    eventID,
		Provider:   name,
		DeliveryID: deliveryID,
		EventType:  p.EventType(headers),
	})
	if err != nil {
		// Durable but not admitted. The sender gets backpressure; a retry or
		// the next restart replays the event. The marker distinguishes an
		// event that never reached the queue from one that is merely still
		// waiting in it.
		s.recorder.IncDeliveryRejected(string(name), metrics.RejectCapacity)
		if serr := s.deliveries.SetError(ctx, eventID, deferredQueueFull); serr != nil {
			log.Warn("Failed to mark delivery deferred", logfields.Error(serr))
		}
		log.Warn("Event queue full, delivery deferred",
			logfields.EventID(eventID),
			logfields.QueueDepth(s.queue.Depth()),
		)
		return result, err
	}

	result.Queued = true
	s.recorder.IncDeliveryReceived(string(name))
	s.recorder.ObserveIngestDuration(string(name), time.Since(started))
	log.Info("Delivery accepted",
		logfields.EventID(eventID),
		logfields.EventType(p.EventType(headers)),
		logfields.QueueDepth(s.queue.Depth()),
	)
	return result, nil
}

// redeliver resolves a duplicate delivery. The first admission may have hit a
// full queue: the event is durable but never reached the queue, and the
// sender's retry is the only live signal left. A stored event carrying an
// error marker gets another enqueue attempt; a still-full queue keeps
// returning backpressure so the sender retries until the queue drains. An
// unmarked unprocessed event is already waiting in the queue and must not be
// enqueued twice.
func (s *Service) redeliver(ctx context.Context, name store.Provider, deliveryID string, log *slog.Logger) (*Result, error) {
	result := &Result{DeliveryID: deliveryID, Duplicate: true}

	existing, err := s.deliveries.Get(ctx, name, deliveryID)
	if err != nil || existing == nil {
		log.Info("Duplicate delivery ignored")
		return result, nil
	}
	result.EventID = existing.ID
	if existing.Processed || existing.ErrorMessage == nil {
		log.Info("Duplicate delivery ignored")
		return result, nil
	}

	err = s.queue.Enqueue(Job{
		EventID:    existing.ID,
		Provider:   name,
		DeliveryID: deliveryID,
		EventType:  existing.EventType,
	})
	if err != nil {
		s.recorder.IncDeliveryRejected(string(name), metrics.RejectCapacity)
		log.Warn("Deferred duplicate still waiting, queue full",
			logfields.EventID(existing.ID),
		)
		return result, err
	}

	if err := s.deliveries.ClearError(ctx, existing.ID); err != nil {
		log.Warn("Failed to clear deferral marker", logfields.Error(err))
	}
	result.Queued = true
	log.Info("Deferred duplicate re-admitted", logfields.EventID(existing.ID))
	return result, nil
}
