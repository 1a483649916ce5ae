package interfaces

import (
	"context"

	"github.com/ternarybob/custos/internal/models"
)

// Target is one entry of a user's multi-target selection
type Target struct {
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
}

// RunSummary aggregates the outcome of a sequential run
type RunSummary struct {
	RunID      string `json:"run_id"`
	Total      int    `json:"total"`
	Completed  int    `json:"completed"`
	Failed     int    `json:"failed"`
	Cancelled  int    `json:"cancelled"`
	WithErrors bool   `json:"with_errors"`
	Message    string `json:"message"`
}

// QueueSnapshot is a read-only copy of the sequential queue state
type QueueSnapshot struct {
	RunID        string                  `json:"run_id,omitempty"`
	Items        []*models.JobDescriptor `json:"items"`
	CurrentIndex int                     `json:"current_index"`
	Active       bool                    `json:"active"`
	Summary      *RunSummary             `json:"summary,omitempty"`
}

// QueueRunner drives a single queue of targets to completion, one
// remote job at a time
type QueueRunner interface {
	// BuildAndStart turns a selection into an ordered queue and begins
	// advancing it. Rejects if a run is already active.
	BuildAndStart(ctx context.Context, targets []Target, options models.JobOptions) error

	// Cancel stops the active run: local state flips immediately, remote
	// cancellation is requested best-effort.
	Cancel() error

	// Reset clears a finished run so the console can switch context.
	// Rejects while a run is active.
	Reset() error

	// Snapshot returns a copy of the current queue state for display
	Snapshot() QueueSnapshot
}

// TrackerEntry is the per-target record kept by the independent tracker
type TrackerEntry struct {
	TargetID     string           `json:"target_id"`
	TargetLabel  string           `json:"target_label"`
	Status       models.JobStatus `json:"status"`
	RemoteJobID  string           `json:"remote_job_id,omitempty"`
	Progress     models.Progress  `json:"progress"`
	ErrorCode    string           `json:"error_code,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
}

// JobTracker manages concurrently running per-target jobs, each with its
// own polling lifecycle and no cross-target ordering
type JobTracker interface {
	// Start submits a job for a target. At most one in-flight job per
	// target; duplicate starts are rejected with ErrAlreadyRunning.
	Start(ctx context.Context, targetID, label string, options models.JobOptions) error

	// Stop cancels a single target's job without touching other entries
	Stop(targetID string) error

	// Snapshot returns a copy of the registry for display
	Snapshot() map[string]TrackerEntry

	// StopAll tears down every active poller (shutdown path)
	StopAll()
}
