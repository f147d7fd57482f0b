package metrics

import "time"

// RejectReason enumerates why a delivery was rejected before persistence.
type RejectReason string

const (
	RejectOversized RejectReason = "oversized"
	RejectAuth      RejectReason = "auth"
	RejectPayload   RejectReason = "payload"
	RejectCapacity  RejectReason = "capacity"
)

// Recorder defines observability hooks for ingestion and build metrics.
// Implementations may forward to Prometheus, OpenTelemetry, etc.
type Recorder interface {
	IncDeliveryReceived(provider string)
	IncDeliveryDuplicate(provider string)
	IncDeliveryRejected(provider string, reason RejectReason)
	ObserveIngestDuration(provider string, d time.Duration)
	SetQueueDepth(n int)
	SetBuildsRunning(n int)
	IncBuildOutcome(outcome string) // outcome: success|failure|cancelled
	ObserveBuildDuration(d time.Duration)
	IncEventsRecovered(n int)
	IncExpiryRemoved(kind string, n int) // kind: replay_guard|oauth_state
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) IncDeliveryReceived(string)                  {}
func (NoopRecorder) IncDeliveryDuplicate(string)                 {}
func (NoopRecorder) IncDeliveryRejected(string, RejectReason)    {}
func (NoopRecorder) ObserveIngestDuration(string, time.Duration) {}
func (NoopRecorder) SetQueueDepth(int)                           {}
func (NoopRecorder) SetBuildsRunning(int)                        {}
func (NoopRecorder) IncBuildOutcome(string)                      {}
func (NoopRecorder) ObserveBuildDuration(time.Duration)          {}
func (NoopRecorder) IncEventsRecovered(int)                      {}
func (NoopRecorder) IncExpiryRemoved(string, int)                {}
