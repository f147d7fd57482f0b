package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	ferrors "git.home.luguber.info/inful/flutterci/internal/foundation/errors"
	"git.home.luguber.info/inful/flutterci/internal/logfields"
	"git.home.luguber.info/inful/flutterci/internal/server/responses"
	"git.home.luguber.info/inful/flutterci/internal/store"
)

const listLimit = 50

// BuildDispatcher is the slice of the dispatcher the API needs.
type BuildDispatcher interface {
	Admit(ctx context.Context, build *store.Build) error
	Cancel(ctx context.Context, buildID string) error
}

// APIHandlers serves the management API.
type APIHandlers struct {
	builds       *store.BuildRepo
	repos        *store.RepositoryRepo
	deliveries   *store.DeliveryRepo
	dispatcher   BuildDispatcher
	errorAdapter *ferrors.HTTPErrorAdapter
	logger       *slog.Logger
}

// NewAPIHandlers constructs the API handlers.
func NewAPIHandlers(builds *store.BuildRepo, repos *store.RepositoryRepo, deliveries *store.DeliveryRepo, dispatcher BuildDispatcher, logger *slog.Logger) *APIHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIHandlers{
		builds:       builds,
		repos:        repos,
		deliveries:   deliveries,
		dispatcher:   dispatcher,
		errorAdapter: ferrors.NewHTTPErrorAdapter(logger),
		logger:       logger,
	}
}

// HandleListBuilds returns recent builds, newest first.
func (h *APIHandlers) HandleListBuilds(w http.ResponseWriter, r *http.Request) {
	builds, err := h.builds.ListRecent(r.Context(), listLimit)
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, ferrors.StorageError("failed to list builds").WithCause(err).Build())
		return
	}

	resp := responses.BuildListResponse{
		Builds:    make([]responses.BuildResponse, 0, len(builds)),
		Timestamp: time.Now().UTC(),
	}
	for _, b := range builds {
		resp.Builds = append(resp.Builds, h.buildResponse(r.Context(), b))
	}
	_ = writeJSON(w, http.StatusOK, resp)
}

// HandleGetBuild returns a single build by id.
func (h *APIHandlers) HandleGetBuild(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	build, err := h.builds.Get(r.Context(), id)
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, ferrors.StorageError("failed to load build").WithCause(err).Build())
		return
	}
	if build == nil {
		h.errorAdapter.WriteErrorResponse(w, r, ferrors.NotFoundError("build not found: "+id).Build())
		return
	}
	_ = writeJSON(w, http.StatusOK, h.buildResponse(r.Context(), build))
}

// HandleTriggerBuild creates a manual build for an already-known repository
// and admits it to the dispatcher.
func (h *APIHandlers) HandleTriggerBuild(w http.ResponseWriter, r *http.Request) {
	var req responses.TriggerBuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, ferrors.ValidationError("invalid JSON body").WithCause(err).Build())
		return
	}
	if req.Provider == "" || req.Owner == "" || req.Name == "" || req.Branch == "" {
		h.errorAdapter.WriteErrorResponse(w, r, ferrors.ValidationError("provider, owner, name, and branch are required").Build())
		return
	}

	repo, err := h.repos.GetByName(r.Context(), store.Provider(req.Provider), req.Owner, req.Name)
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, ferrors.StorageError("failed to resolve repository").WithCause(err).Build())
		return
	}
	if repo == nil {
		h.errorAdapter.WriteErrorResponse(w, r, ferrors.NotFoundError("unknown repository: "+req.Owner+"/"+req.Name).Build())
		return
	}

	commit := req.CommitSHA
	if commit == "" {
		commit = "HEAD"
	}

	build := &store.Build{
		ID:           uuid.NewString(),
		RepositoryID: repo.ID,
		CommitSHA:    commit,
		Branch:       req.Branch,
		TriggerType:  store.TriggerManual,
		Status:       store.BuildStatusPending,
	}
	if err := h.builds.Create(r.Context(), build); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, ferrors.StorageError("failed to create build").WithCause(err).Build())
		return
	}
	if err := h.dispatcher.Admit(r.Context(), build); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}

	h.logger.Info("Manual build triggered",
		logfields.BuildID(build.ID),
		logfields.Repository(repo.FullName()),
		logfields.Branch(build.Branch),
	)
	_ = writeJSON(w, http.StatusAccepted, responses.TriggerBuildResponse{
		Status:    "accepted",
		BuildID:   build.ID,
		Timestamp: time.Now().UTC(),
	})
}

// HandleCancelBuild cancels a pending or running build.
func (h *APIHandlers) HandleCancelBuild(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.dispatcher.Cancel(r.Context(), id); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling", "build_id": id})
}

// HandleListDeliveries returns recent webhook deliveries without payloads.
func (h *APIHandlers) HandleListDeliveries(w http.ResponseWriter, r *http.Request) {
	deliveries, err := h.deliveries.ListRecent(r.Context(), listLimit)
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, ferrors.StorageError("failed to list deliveries").WithCause(err).Build())
		return
	}

	resp := responses.DeliveryListResponse{
		Deliveries: make([]responses.DeliveryResponse, 0, len(deliveries)),
		Timestamp:  time.Now().UTC(),
	}
	for _, d := range deliveries {
		dr := responses.DeliveryResponse{
			ID:         d.ID,
			Provider:   string(d.Provider),
			DeliveryID: d.DeliveryID,
			EventType:  d.EventType,
			Processed:  d.Processed,
			ReceivedAt: d.ReceivedAt,
		}
		if d.ErrorMessage != nil {
			dr.ErrorMessage = *d.ErrorMessage
		}
		resp.Deliveries = append(resp.Deliveries, dr)
	}
	_ = writeJSON(w, http.StatusOK, resp)
}

func (h *APIHandlers) buildResponse(ctx context.Context, b *store.Build) responses.BuildResponse {
	resp := responses.BuildResponse{
		ID:          b.ID,
		Branch:      b.Branch,
		CommitSHA:   b.CommitSHA,
		TriggerType: string(b.TriggerType),
		Status:      string(b.Status),
		StartedAt:   b.StartedAt,
		FinishedAt:  b.FinishedAt,
		CreatedAt:   b.CreatedAt,
	}
	if b.ErrorMessage != nil {
		resp.ErrorMessage = *b.ErrorMessage
	}
	if repo, err := h.repos.Get(ctx, b.RepositoryID); err == nil && repo != nil {
		resp.Repository = repo.FullName()
	}
	return resp
}
