package interfaces

import (
	"context"
	"fmt"

	"github.com/ternarybob/custos/internal/models"
)

// JobSnapshot is the remote service's view of one job at a point in time
type JobSnapshot struct {
	Status       models.JobStatus `json:"status"`
	UnitsScanned int              `json:"units_scanned"`
	UnitsFound   int              `json:"units_found"`
	ErrorCode    string           `json:"error_code,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
}

// Progress converts the snapshot counters into a progress value
func (s *JobSnapshot) Progress() models.Progress {
	return models.Progress{
		UnitsScanned: s.UnitsScanned,
		UnitsFound:   s.UnitsFound,
	}
}

// ActiveJob describes a job the remote service reports as in flight.
// Used only by the recovery reconciler.
type ActiveJob struct {
	RemoteJobID  string           `json:"job_id"`
	TargetID     string           `json:"target_id"`
	Status       models.JobStatus `json:"status"`
	UnitsScanned int              `json:"units_scanned"`
	UnitsFound   int              `json:"units_found"`
}

// RemoteError is a categorized failure returned by the remote service
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote error: %s", e.Code)
	}
	return fmt.Sprintf("remote error %s: %s", e.Code, e.Message)
}

// RemoteJobClient is the contract with the remote crawling service.
// The orchestration engine depends on nothing else about the backend.
type RemoteJobClient interface {
	// Submit starts a job for a target. Failure is reported synchronously
	// and never leaves a job half-started from the console's point of view.
	Submit(ctx context.Context, targetID string, options models.JobOptions) (string, error)

	// FetchStatus is an idempotent, side-effect-free read. Safe to call
	// after the job is terminal; returns the same terminal snapshot.
	FetchStatus(ctx context.Context, remoteJobID string) (*JobSnapshot, error)

	// Cancel requests remote cancellation. Best-effort: the engine does
	// not block on it and treats any response as "cancellation requested".
	Cancel(ctx context.Context, remoteJobID string) error

	// ListActive returns jobs still executing for a scope. Used only by
	// the recovery reconciler after a console restart.
	ListActive(ctx context.Context, scopeID string) ([]ActiveJob, error)
}
