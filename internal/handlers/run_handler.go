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

// RunHandler exposes the sequential queue runner to the console
type RunHandler struct {
	appCtx   context.Context
	runner   interfaces.QueueRunner
	logger   arbor.ILogger
	validate *validator.Validate
}

// NewRunHandler creates a run handler. Runs are bound to the application
// context, not the request context, because they outlive the request.
func NewRunHandler(appCtx context.Context, runner interfaces.QueueRunner, logger arbor.ILogger) *RunHandler {
	return &RunHandler{
		appCtx:   appCtx,
		runner:   runner,
		logger:   logger,
		validate: validator.New(),
	}
}

// StartRunRequest is the body of POST /api/runs
type StartRunRequest struct {
	TargetIDs []string          `json:"target_ids" validate:"required,min=1,dive,required"`
	Labels    map[string]string `json:"labels,omitempty"`
	Options   models.JobOptions `json:"options,omitempty"`
}

// StartRunHandler builds a queue from the selection and starts it.
// POST /api/runs
func (h *RunHandler) StartRunHandler(w http.ResponseWriter, r *http.Request) {
	var req StartRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "target_ids is required and must not be empty")
		return
	}

	targets := make([]interfaces.Target, 0, len(req.TargetIDs))
	for _, id := range req.TargetIDs {
		targets = append(targets, interfaces.Target{
			ID:    id,
			Label: req.Labels[id],
		})
	}

	if err := h.runner.BuildAndStart(h.appCtx, targets, req.Options); err != nil {
		if errors.Is(err, jobs.ErrRunActive) {
			WriteError(w, http.StatusConflict, "A run is already in progress")
			return
		}
		h.logger.Error().Err(err).Msg("Failed to start run")
		WriteError(w, http.StatusInternalServerError, "Failed to start run")
		return
	}

	WriteStarted(w, "Run started")
}

// CancelRunHandler cancels the active run.
// POST /api/runs/cancel
func (h *RunHandler) CancelRunHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.runner.Cancel(); err != nil {
		h.logger.Error().Err(err).Msg("Failed to cancel run")
		WriteError(w, http.StatusInternalServerError, "Failed to cancel run")
		return
	}
	WriteSuccess(w, "Run cancelled")
}

// GetRunHandler returns the current queue state.
// GET /api/runs
func (h *RunHandler) GetRunHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.runner.Snapshot())
}

// ResetRunHandler clears a finished run (context switch).
// DELETE /api/runs
func (h *RunHandler) ResetRunHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.runner.Reset(); err != nil {
		if errors.Is(err, jobs.ErrRunActive) {
			WriteError(w, http.StatusConflict, "Cannot reset while a run is in progress")
			return
		}
		h.logger.Error().Err(err).Msg("Failed to reset run")
		WriteError(w, http.StatusInternalServerError, "Failed to reset run")
		return
	}
	WriteSuccess(w, "Run state cleared")
}
