package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once               sync.Once
	deliveriesReceived *prom.CounterVec
	deliveriesDup      *prom.CounterVec
	deliveriesRejected *prom.CounterVec
	ingestDuration     *prom.HistogramVec
	queueDepth         prom.Gauge
	buildsRunning      prom.Gauge
	buildOutcome       *prom.CounterVec
	buildDuration      prom.Histogram
	eventsRecovered    prom.Counter
	expiryRemoved      *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.deliveriesReceived = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "flutterci",
			Name:      "deliveries_received_total",
			Help:      "Webhook deliveries accepted for processing",
		}, []string{"provider"})
		pr.deliveriesDup = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "flutterci",
			Name:      "deliveries_duplicate_total",
			Help:      "Webhook deliveries short-circuited as replays",
		}, []string{"provider"})
		pr.deliveriesRejected = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "flutterci",
			Name:      "deliveries_rejected_total",
			Help:      "Webhook deliveries rejected before persistence",
		}, []string{"provider", "reason"})
		pr.ingestDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "flutterci",
			Name:      "ingest_duration_seconds",
			Help:      "Time spent handling a webhook delivery",
			Buckets:   prom.DefBuckets,
		}, []string{"provider"})
		pr.queueDepth = prom.NewGauge(prom.GaugeOpts{
			Namespace: "flutterci",
			Name:      "event_queue_depth",
			Help:      "Events currently waiting in the in-memory queue",
		})
		pr.buildsRunning = prom.NewGauge(prom.GaugeOpts{
			Namespace: "flutterci",
			Name:      "builds_running",
			Help:      "Builds currently holding a dispatch slot",
		})
		pr.buildOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "flutterci",
			Name:      "build_outcomes_total",
			Help:      "Build outcomes by final status",
		}, []string{"outcome"})
		pr.buildDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "flutterci",
			Name:      "build_duration_seconds",
			Help:      "Total build duration from admission to completion",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		})
		pr.eventsRecovered = prom.NewCounter(prom.CounterOpts{
			Namespace: "flutterci",
			Name:      "events_recovered_total",
			Help:      "Unprocessed events re-enqueued by the recovery sweep",
		})
		pr.expiryRemoved = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "flutterci",
			Name:      "expiry_removed_total",
			Help:      "Expired records removed by the cleanup task",
		}, []string{"kind"})
		reg.MustRegister(pr.deliveriesReceived, pr.deliveriesDup, pr.deliveriesRejected, pr.ingestDuration, pr.queueDepth, pr.buildsRunning, pr.buildOutcome, pr.buildDuration, pr.eventsRecovered, pr.expiryRemoved)
	})
	return pr
}

func (p *PrometheusRecorder) IncDeliveryReceived(provider string) {
	if p == nil || p.deliveriesReceived == nil {
		return
	}
	p.deliveriesReceived.WithLabelValues(provider).Inc()
}

func (p *PrometheusRecorder) IncDeliveryDuplicate(provider string) {
	if p == nil || p.deliveriesDup == nil {
		return
	}
	p.deliveriesDup.WithLabelValues(provider).Inc()
}

func (p *PrometheusRecorder) IncDeliveryRejected(provider string, reason RejectReason) {
	if p == nil || p.deliveriesRejected == nil {
		return
	}
	p.deliveriesRejected.WithLabelValues(provider, string(reason)).Inc()
}

func (p *PrometheusRecorder) ObserveIngestDuration(provider string, d time.Duration) {
	if p == nil || p.ingestDuration == nil {
		return
	}
	p.ingestDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func (p *PrometheusRecorder) SetQueueDepth(n int) {
	if p == nil || p.queueDepth == nil {
		return
	}
	p.queueDepth.Set(float64(n))
}

func (p *PrometheusRecorder) SetBuildsRunning(n int) {
	if p == nil || p.buildsRunning == nil {
		return
	}
	p.buildsRunning.Set(float64(n))
}

func (p *PrometheusRecorder) IncBuildOutcome(outcome string) {
	if p == nil || p.buildOutcome == nil {
		return
	}
	p.buildOutcome.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) ObserveBuildDuration(d time.Duration) {
	if p == nil || p.buildDuration == nil {
		return
	}
	p.buildDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncEventsRecovered(n int) {
	if p == nil || p.eventsRecovered == nil {
		return
	}
	p.eventsRecovered.Add(float64(n))
}

func (p *PrometheusRecorder) IncExpiryRemoved(kind string, n int) {
	if p == nil || p.expiryRemoved == nil {
		return
	}
	p.expiryRemoved.WithLabelValues(kind).Add(float64(n))
}
