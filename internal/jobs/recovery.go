// -----------------------------------------------------------------------
// Recovery Reconciler - re-attaches to in-flight jobs after a restart
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/custos/internal/interfaces"
	"github.com/ternarybob/custos/internal/models"
)

// Reconciler makes the sequential runner resilient to console restarts.
// On startup it asks the remote service for jobs still executing in the
// configured scope and re-attaches the runner to them without
// re-submitting (submission is not idempotent and must not be repeated).
//
// Reconciliation is idempotent: the runner keys its active poller by
// remote job ID, so a duplicate call (or the optional scheduled re-sync)
// never creates a second poller for the same job.
type Reconciler struct {
	client  interfaces.RemoteJobClient
	runner  *SequentialRunner
	logger  arbor.ILogger
	scopeID string
	cron    *cron.Cron
}

// NewReconciler creates a reconciler for one scope
func NewReconciler(client interfaces.RemoteJobClient, runner *SequentialRunner, logger arbor.ILogger, scopeID string) *Reconciler {
	return &Reconciler{
		client:  client,
		runner:  runner,
		logger:  logger,
		scopeID: scopeID,
	}
}

// Reconcile queries the remote service and re-attaches to any in-flight
// run. Returns nil when there is nothing to recover.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	active, err := r.client.ListActive(ctx, r.scopeID)
	if err != nil {
		return fmt.Errorf("failed to list active remote jobs: %w", err)
	}

	if len(active) == 0 {
		r.logger.Debug().
			Str("scope_id", r.scopeID).
			Msg("No in-flight remote jobs to recover")
		return nil
	}

	items, runningIndex := buildRecoveredQueue(active)
	if runningIndex < 0 {
		// The backend reported activity but nothing actually executing;
		// treat the first item as the one to watch
		runningIndex = 0
		items[0].MarkRunning(items[0].RemoteJobID)
	}

	// Skip quietly when the runner is already attached to this job
	// (duplicate mount or scheduled re-sync)
	if r.runner.ActivePollerJobID() == items[runningIndex].RemoteJobID {
		return nil
	}

	r.logger.Info().
		Str("scope_id", r.scopeID).
		Int("jobs", len(active)).
		Msg("Recovering in-flight remote jobs from previous session")

	if err := r.runner.AttachRecovered(ctx, items, runningIndex); err != nil {
		if err == ErrRunActive {
			// A local run took over between the list call and the attach
			return nil
		}
		return fmt.Errorf("failed to attach recovered queue: %w", err)
	}
	return nil
}

// StartSchedule runs Reconcile on a cron schedule so jobs started before
// a crash are picked up even if the startup reconcile raced the backend.
// Safe because reconciliation is idempotent.
func (r *Reconciler) StartSchedule(ctx context.Context, schedule string) error {
	if schedule == "" {
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if err := r.Reconcile(ctx); err != nil {
			r.logger.Warn().
				Err(err).
				Str("scope_id", r.scopeID).
				Msg("Scheduled reconciliation failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid resync schedule %q: %w", schedule, err)
	}

	c.Start()
	r.cron = c

	r.logger.Info().
		Str("schedule", schedule).
		Msg("Recovery re-sync scheduled")
	return nil
}

// Stop halts the scheduled re-sync if one is running
func (r *Reconciler) Stop() {
	if r.cron != nil {
		r.cron.Stop()
		r.cron = nil
	}
}

// buildRecoveredQueue mirrors the backend's active jobs as a queue:
// Running for the job actually executing remotely, Pending for any the
// backend reports as queued-but-not-yet-started. Returns the index of
// the running item, or -1 when none is running.
func buildRecoveredQueue(active []interfaces.ActiveJob) ([]*models.JobDescriptor, int) {
	items := make([]*models.JobDescriptor, 0, len(active))
	runningIndex := -1

	for i, job := range active {
		item := models.NewJobDescriptor(job.TargetID, "")
		item.SetRemoteJobID(job.RemoteJobID)
		item.MergeProgress(models.Progress{
			UnitsScanned: job.UnitsScanned,
			UnitsFound:   job.UnitsFound,
		})
		if job.Status == models.JobStatusRunning && runningIndex < 0 {
			item.MarkRunning(job.RemoteJobID)
			runningIndex = i
		}
		items = append(items, item)
	}

	return items, runningIndex
}
