package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/custos/internal/interfaces"
	"github.com/ternarybob/custos/internal/jobs"
	"github.com/ternarybob/custos/internal/models"
)

// TrackerHandler exposes the independent per-target job tracker
type TrackerHandler struct {
	appCtx   context.Context
	tracker  interfaces.JobTracker
	logger   arbor.ILogger
	validate *validator.Validate
}

// NewTrackerHandler creates a tracker handler
func NewTrackerHandler(appCtx context.Context, tracker interfaces.JobTracker, logger arbor.ILogger) *TrackerHandler {
	return &TrackerHandler{
		appCtx:   appCtx,
		tracker:  tracker,
		logger:   logger,
		validate: validator.New(),
	}
}

// TrackerStartRequest is the body of POST /api/tracker/start
type TrackerStartRequest struct {
	TargetID string            `json:"target_id" validate:"required"`
	Label    string            `json:"label,omitempty"`
	Options  models.JobOptions `json:"options,omitempty"`
}

// TrackerStopRequest is the body of POST /api/tracker/stop
type TrackerStopRequest struct {
	TargetID string `json:"target_id" validate:"required"`
}

// StartHandler starts an independent job for one target.
// POST /api/tracker/start
func (h *TrackerHandler) StartHandler(w http.ResponseWriter, r *http.Request) {
	var req TrackerStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "target_id is required")
		return
	}

	if err := h.tracker.Start(h.appCtx, req.TargetID, req.Label, req.Options); err != nil {
		if errors.Is(err, jobs.ErrAlreadyRunning) {
			WriteError(w, http.StatusConflict, "A job is already running for this target")
			return
		}
		h.logger.Error().Err(err).Str("target_id", req.TargetID).Msg("Failed to start tracker job")
		WriteError(w, http.StatusInternalServerError, "Failed to start job")
		return
	}

	WriteStarted(w, "Job started")
}

// StopHandler cancels one target's independent job.
// POST /api/tracker/stop
func (h *TrackerHandler) StopHandler(w http.ResponseWriter, r *http.Request) {
	var req TrackerStopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "target_id is required")
		return
	}

	if err := h.tracker.Stop(req.TargetID); err != nil {
		h.logger.Error().Err(err).Str("target_id", req.TargetID).Msg("Failed to stop tracker job")
		WriteError(w, http.StatusInternalServerError, "Failed to stop job")
		return
	}

	WriteSuccess(w, "Job cancelled")
}

// GetHandler returns the tracker registry snapshot.
// GET /api/tracker
func (h *TrackerHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"entries": h.tracker.Snapshot(),
	})
}
