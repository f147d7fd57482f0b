package handlers

import (
	"log/slog"
	"net/http"
	"time"

	ferrors "git.home.luguber.info/inful/flutterci/internal/foundation/errors"
	"git.home.luguber.info/inful/flutterci/internal/server/responses"
	"git.home.luguber.info/inful/flutterci/internal/store"
	"git.home.luguber.info/inful/flutterci/internal/version"
)

// Runtime is the daemon state the monitoring endpoints report on.
type Runtime interface {
	GetStatus() string
	GetStartTime() time.Time
	QueueDepth() int
	QueueCapacity() int
	BuildsRunning() int
}

// MonitoringHandlers serves health and status endpoints.
type MonitoringHandlers struct {
	runtime      Runtime
	builds       *store.BuildRepo
	errorAdapter *ferrors.HTTPErrorAdapter
}

// NewMonitoringHandlers constructs the monitoring handlers.
func NewMonitoringHandlers(runtime Runtime, builds *store.BuildRepo, logger *slog.Logger) *MonitoringHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &MonitoringHandlers{
		runtime:      runtime,
		builds:       builds,
		errorAdapter: ferrors.NewHTTPErrorAdapter(logger),
	}
}

// HandleHealth reports liveness.
func (h *MonitoringHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	_ = writeJSON(w, http.StatusOK, responses.HealthResponse{
		Status:    "ok",
		Timestamp: now,
		Version:   version.Version,
		Uptime:    now.Sub(h.runtime.GetStartTime()).Seconds(),
	})
}

// HandleStatus reports the daemon's operational status.
func (h *MonitoringHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := h.builds.CountByStatus(r.Context())
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, ferrors.StorageError("failed to count builds").WithCause(err).Build())
		return
	}
	buildCounts := make(map[string]int, len(counts))
	for status, n := range counts {
		buildCounts[string(status)] = n
	}

	now := time.Now().UTC()
	_ = writeJSON(w, http.StatusOK, responses.StatusResponse{
		Status:        h.runtime.GetStatus(),
		StartTime:     h.runtime.GetStartTime(),
		Uptime:        now.Sub(h.runtime.GetStartTime()).Seconds(),
		QueueDepth:    h.runtime.QueueDepth(),
		QueueCapacity: h.runtime.QueueCapacity(),
		BuildsRunning: h.runtime.BuildsRunning(),
		BuildCounts:   buildCounts,
		Timestamp:     now,
	})
}
