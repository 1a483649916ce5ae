// -----------------------------------------------------------------------
// Job Descriptor - per-target unit of remote work tracked by the console
// -----------------------------------------------------------------------

package models

import "time"

// JobStatus represents the state of a remote job as seen by the console
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal returns true for states with no further transitions
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Progress tracks partial results reported by the remote service.
// Counters only move forward because FetchStatus always returns the
// latest server-side snapshot.
type Progress struct {
	UnitsScanned int `json:"units_scanned"`
	UnitsFound   int `json:"units_found"`
}

// JobOptions is the opaque options payload forwarded to the remote
// service on submission. The console never interprets its contents.
type JobOptions map[string]interface{}

// JobDescriptor represents one queued or tracked unit of remote work.
//
// Status transitions are monotonic:
//   - pending -> running -> completed | failed
//   - pending -> cancelled
//   - running -> cancelled
//
// RemoteJobID is set only once submission actually succeeds; a local
// submission failure marks the descriptor failed without one.
//
// All mutation goes through the Mark* helpers so a terminal descriptor
// can never revert. Owners (runner, tracker) serialize calls; readers
// get copies via Clone.
type JobDescriptor struct {
	TargetID     string     `json:"target_id"`
	TargetLabel  string     `json:"target_label"`
	Status       JobStatus  `json:"status"`
	RemoteJobID  string     `json:"remote_job_id,omitempty"`
	Progress     Progress   `json:"progress"`
	ErrorCode    string     `json:"error_code,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// NewJobDescriptor creates a pending descriptor for a target
func NewJobDescriptor(targetID, label string) *JobDescriptor {
	if label == "" {
		label = targetID
	}
	return &JobDescriptor{
		TargetID:    targetID,
		TargetLabel: label,
		Status:      JobStatusPending,
	}
}

// MarkRunning records a successful submission (or recovery re-attach)
func (d *JobDescriptor) MarkRunning(remoteJobID string) bool {
	if d.Status.IsTerminal() {
		return false
	}
	d.Status = JobStatusRunning
	d.RemoteJobID = remoteJobID
	now := time.Now()
	d.StartedAt = &now
	return true
}

// SetRemoteJobID records the remote job ID once submission succeeds
func (d *JobDescriptor) SetRemoteJobID(remoteJobID string) {
	if d.Status.IsTerminal() {
		return
	}
	d.RemoteJobID = remoteJobID
}

// MarkCompleted records a terminal completed snapshot
func (d *JobDescriptor) MarkCompleted(p Progress) bool {
	if d.Status.IsTerminal() {
		return false
	}
	d.Status = JobStatusCompleted
	d.Progress = p
	now := time.Now()
	d.FinishedAt = &now
	return true
}

// MarkFailed records a terminal failure, either a local submission
// failure (no remote ID assigned) or a remote terminal failure
func (d *JobDescriptor) MarkFailed(code, message string) bool {
	if d.Status.IsTerminal() {
		return false
	}
	d.Status = JobStatusFailed
	d.ErrorCode = code
	d.ErrorMessage = message
	now := time.Now()
	d.FinishedAt = &now
	return true
}

// MarkCancelled transitions a non-terminal descriptor to cancelled
func (d *JobDescriptor) MarkCancelled() bool {
	if d.Status.IsTerminal() {
		return false
	}
	d.Status = JobStatusCancelled
	now := time.Now()
	d.FinishedAt = &now
	return true
}

// MergeProgress folds a partial snapshot into the descriptor while the
// job is still running. Terminal descriptors are left untouched.
func (d *JobDescriptor) MergeProgress(p Progress) {
	if d.Status.IsTerminal() {
		return
	}
	d.Progress = p
}

// IsTerminal returns true if the descriptor reached a terminal state
func (d *JobDescriptor) IsTerminal() bool {
	return d.Status.IsTerminal()
}

// Clone returns a copy safe to hand to the presentation layer
func (d *JobDescriptor) Clone() *JobDescriptor {
	clone := *d
	if d.StartedAt != nil {
		t := *d.StartedAt
		clone.StartedAt = &t
	}
	if d.FinishedAt != nil {
		t := *d.FinishedAt
		clone.FinishedAt = &t
	}
	return &clone
}
