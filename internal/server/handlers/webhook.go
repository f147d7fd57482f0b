// Package handlers provides the HTTP handlers for webhook ingestion and the
// management API.
package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	ferrors "git.home.luguber.info/inful/flutterci/internal/foundation/errors"
	"git.home.luguber.info/inful/flutterci/internal/ingest"
	"git.home.luguber.info/inful/flutterci/internal/server/responses"
	"git.home.luguber.info/inful/flutterci/internal/store"
)

// WebhookHandlers receives provider webhook deliveries.
type WebhookHandlers struct {
	service       *ingest.Service
	maxBodyBytes  int64
	ingestTimeout time.Duration
	errorAdapter  *ferrors.HTTPErrorAdapter
}

// NewWebhookHandlers constructs the webhook handlers.
func NewWebhookHandlers(service *ingest.Service, maxBodyBytes int64, ingestTimeout time.Duration, logger *slog.Logger) *WebhookHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandlers{
		service:       service,
		maxBodyBytes:  maxBodyBytes,
		ingestTimeout: ingestTimeout,
		errorAdapter:  ferrors.NewHTTPErrorAdapter(logger),
	}
}

// HandleGitHubWebhook handles GitHub webhook deliveries.
func (h *WebhookHandlers) HandleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, store.ProviderGitHub)
}

// HandleGitLabWebhook handles GitLab webhook deliveries.
func (h *WebhookHandlers) HandleGitLabWebhook(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, store.ProviderGitLab)
}

// handle reads the body under the size cap, then runs the ingestion
// pipeline. The size check comes first so oversized payloads are rejected
// before any signature work.
func (h *WebhookHandlers) handle(w http.ResponseWriter, r *http.Request, provider store.Provider) {
	repositoryID, err := h.pathRepositoryID(r)
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}

	body, err := h.readBody(w, r)
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.ingestTimeout)
	defer cancel()

	result, err := h.service.Receive(ctx, provider, r.Header, body, repositoryID)
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}

	status := "queued"
	if result.Duplicate {
		status = "duplicate"
	}
	_ = writeJSON(w, http.StatusOK, responses.WebhookAckResponse{
		Status:     status,
		EventID:    result.EventID,
		DeliveryID: result.DeliveryID,
		Duplicate:  result.Duplicate,
		Timestamp:  time.Now().UTC(),
	})
}

// pathRepositoryID extracts the repository id from routes that scope a
// webhook endpoint to one repository. Routes without the segment yield nil.
func (h *WebhookHandlers) pathRepositoryID(r *http.Request) (*int64, error) {
	raw := r.PathValue("repository_id")
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, ferrors.ValidationError("repository_id must be numeric: " + raw).Build()
	}
	return &id, nil
}

func (h *WebhookHandlers) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, ferrors.OversizedError("request body exceeds limit").
				WithContext("limit_bytes", maxErr.Limit).
				Build()
		}
		return nil, ferrors.ValidationError("failed to read request body").WithCause(err).Build()
	}
	return body, nil
}
