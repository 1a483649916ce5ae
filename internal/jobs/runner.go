// -----------------------------------------------------------------------
// Sequential Queue Runner - drives one ordered queue of remote jobs
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/custos/internal/interfaces"
	"github.com/ternarybob/custos/internal/models"
)

var (
	// ErrRunActive is returned when a new run is requested while one is
	// still advancing
	ErrRunActive = errors.New("a run is already in progress")

	// ErrNoTargets is returned for an empty selection
	ErrNoTargets = errors.New("no targets selected")
)

// SequentialRunner owns an ordered queue of job descriptors and drives
// it to completion one remote job at a time.
//
// Targets run strictly in selection order with no parallelism, keeping
// remote resource usage (one browser session) bounded to one at a time.
// A failed item never aborts the run; the runner always proceeds to the
// next item and reports the run as completed-with-errors at the end.
//
// The queue is mutated only by the runner itself (submit path, poll
// merge, cancel); readers get deep copies via Snapshot.
type SequentialRunner struct {
	client       interfaces.RemoteJobClient
	events       interfaces.EventService
	logger       arbor.ILogger
	pollInterval time.Duration

	mu            sync.Mutex
	runID         string
	items         []*models.JobDescriptor
	options       models.JobOptions
	currentIndex  int
	active        bool
	stopRequested bool
	poller        *StatusPoller
	summary       *interfaces.RunSummary
	runCtx        context.Context
	cancelRun     context.CancelFunc
}

// NewSequentialRunner creates an idle runner
func NewSequentialRunner(client interfaces.RemoteJobClient, events interfaces.EventService, logger arbor.ILogger, pollInterval time.Duration) *SequentialRunner {
	return &SequentialRunner{
		client:       client,
		events:       events,
		logger:       logger,
		pollInterval: pollInterval,
		currentIndex: -1,
	}
}

// BuildAndStart turns a selection into an ordered queue of pending
// descriptors and begins advancing it. Rejects while a run is active.
func (r *SequentialRunner) BuildAndStart(ctx context.Context, targets []interfaces.Target, options models.JobOptions) error {
	if len(targets) == 0 {
		return ErrNoTargets
	}

	r.mu.Lock()
	if r.active {
		r.mu.Unlock()
		return ErrRunActive
	}

	items := make([]*models.JobDescriptor, 0, len(targets))
	for _, target := range targets {
		items = append(items, models.NewJobDescriptor(target.ID, target.Label))
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.runID = uuid.New().String()
	r.items = items
	r.options = options
	r.currentIndex = 0
	r.active = true
	r.stopRequested = false
	r.summary = nil
	r.poller = nil
	r.runCtx = runCtx
	r.cancelRun = cancel
	runID := r.runID
	total := len(items)
	r.mu.Unlock()

	r.logger.Info().
		Str("run_id", runID).
		Int("targets", total).
		Msg("Sequential run started")

	r.publish(interfaces.EventRunStarted, map[string]interface{}{
		"run_id":    runID,
		"total":     total,
		"timestamp": time.Now().Format(time.RFC3339),
	})

	go r.advance(0)
	return nil
}

// advance submits item i, or finishes the run when the queue is
// exhausted or a stop was requested. Submission failures auto-advance
// without waiting for any poll.
func (r *SequentialRunner) advance(i int) {
	for {
		r.mu.Lock()
		if !r.active {
			r.mu.Unlock()
			return
		}
		if r.stopRequested || i >= len(r.items) {
			r.finishLocked()
			r.mu.Unlock()
			return
		}

		item := r.items[i]
		r.currentIndex = i

		// A recovered descriptor already owns a remote job; re-attach a
		// poller instead of submitting again (submission is not idempotent)
		if item.RemoteJobID != "" && !item.IsTerminal() {
			item.MarkRunning(item.RemoteJobID)
			poller := r.newItemPoller(item, i)
			r.poller = poller
			runCtx := r.runCtx
			r.mu.Unlock()
			poller.Start(runCtx)
			return
		}

		item.MarkRunning("")
		options := r.options
		runCtx := r.runCtx
		r.mu.Unlock()

		remoteJobID, err := r.client.Submit(runCtx, item.TargetID, options)

		r.mu.Lock()
		if item.IsTerminal() {
			// Cancelled while the submit was in flight. The run has
			// already been finished by Cancel; just tidy the remote side.
			if err == nil && remoteJobID != "" {
				r.requestRemoteCancel(remoteJobID)
			}
			r.mu.Unlock()
			return
		}

		if err != nil {
			code, message := classifySubmitError(err)
			item.MarkFailed(code, message)
			r.logger.Warn().
				Err(err).
				Str("run_id", r.runID).
				Str("target_id", item.TargetID).
				Msg("Job submission failed, advancing to next target")
			r.mu.Unlock()

			r.publishItem(interfaces.EventJobTerminal, item)
			i++
			continue
		}

		item.SetRemoteJobID(remoteJobID)
		poller := r.newItemPoller(item, i)
		r.poller = poller
		r.mu.Unlock()

		r.logger.Info().
			Str("target_id", item.TargetID).
			Str("job_id", remoteJobID).
			Msg("Remote job running, polling for status")

		r.publishItem(interfaces.EventJobProgress, item)
		poller.Start(runCtx)
		return
	}
}

// newItemPoller builds the status poller for item i. Caller holds the lock.
func (r *SequentialRunner) newItemPoller(item *models.JobDescriptor, i int) *StatusPoller {
	jobLogger := r.logger.WithCorrelationId(item.RemoteJobID)

	onProgress := func(snapshot *interfaces.JobSnapshot) {
		r.mu.Lock()
		item.MergeProgress(snapshot.Progress())
		r.mu.Unlock()
		r.publishItem(interfaces.EventJobProgress, item)
	}

	var poller *StatusPoller
	onTerminal := func(snapshot *interfaces.JobSnapshot) {
		r.mu.Lock()
		if r.poller != poller || !r.active {
			// Stale callback from a poller the runner no longer owns
			r.mu.Unlock()
			return
		}
		r.poller = nil
		applyTerminalSnapshot(item, snapshot)
		r.mu.Unlock()

		r.publishItem(interfaces.EventJobTerminal, item)
		r.advance(i + 1)
	}

	poller = NewStatusPoller(r.client, item.RemoteJobID, r.pollInterval, jobLogger, onProgress, onTerminal)
	return poller
}

// Cancel stops the active run. Local state flips immediately: the
// poller is torn down, every pending or running item becomes cancelled,
// and remote cancellation is requested fire-and-forget. Items already
// completed or failed are left untouched. No-op when idle.
func (r *SequentialRunner) Cancel() error {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return nil
	}

	r.stopRequested = true
	poller := r.poller
	r.poller = nil

	var runningJobID string
	for _, item := range r.items {
		if item.Status == models.JobStatusRunning && item.RemoteJobID != "" {
			runningJobID = item.RemoteJobID
		}
		item.MarkCancelled()
	}

	runID := r.runID
	r.finishLocked()
	r.mu.Unlock()

	if poller != nil {
		poller.Stop()
	}
	if runningJobID != "" {
		r.requestRemoteCancel(runningJobID)
	}

	r.logger.Info().
		Str("run_id", runID).
		Str("job_id", runningJobID).
		Msg("Sequential run cancelled")

	return nil
}

// Reset clears a finished run so the console can switch context
func (r *SequentialRunner) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active {
		return ErrRunActive
	}

	r.runID = ""
	r.items = nil
	r.options = nil
	r.currentIndex = -1
	r.summary = nil
	return nil
}

// Snapshot returns a deep copy of the queue state for display
func (r *SequentialRunner) Snapshot() interfaces.QueueSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	items := make([]*models.JobDescriptor, 0, len(r.items))
	for _, item := range r.items {
		items = append(items, item.Clone())
	}

	var summary *interfaces.RunSummary
	if r.summary != nil {
		s := *r.summary
		summary = &s
	}

	return interfaces.QueueSnapshot{
		RunID:        r.runID,
		Items:        items,
		CurrentIndex: r.currentIndex,
		Active:       r.active,
		Summary:      summary,
	}
}

// AttachRecovered rebuilds the queue from server-reported in-flight jobs
// and re-attaches a poller to the running one without re-submitting.
// Idempotent: a second call for the same remote job is a no-op, so a
// duplicate mount never creates duplicate pollers.
func (r *SequentialRunner) AttachRecovered(ctx context.Context, items []*models.JobDescriptor, runningIndex int) error {
	if len(items) == 0 {
		return nil
	}
	if runningIndex < 0 || runningIndex >= len(items) {
		return fmt.Errorf("running index %d out of range", runningIndex)
	}

	runningJobID := items[runningIndex].RemoteJobID

	r.mu.Lock()
	if r.active {
		if r.poller != nil && r.poller.RemoteJobID() == runningJobID {
			r.mu.Unlock()
			return nil
		}
		r.mu.Unlock()
		return ErrRunActive
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.runID = uuid.New().String()
	r.items = items
	r.options = nil
	r.currentIndex = runningIndex
	r.active = true
	r.stopRequested = false
	r.summary = nil
	r.runCtx = runCtx
	r.cancelRun = cancel

	item := items[runningIndex]
	poller := r.newItemPoller(item, runningIndex)
	r.poller = poller
	runID := r.runID
	r.mu.Unlock()

	r.logger.Info().
		Str("run_id", runID).
		Str("job_id", runningJobID).
		Int("items", len(items)).
		Msg("Re-attached to in-flight remote job after restart")

	r.publish(interfaces.EventRunStarted, map[string]interface{}{
		"run_id":    runID,
		"total":     len(items),
		"recovered": true,
		"timestamp": time.Now().Format(time.RFC3339),
	})

	poller.Start(runCtx)
	return nil
}

// ActivePollerJobID reports the remote job the runner is currently
// polling, or empty when none. Used by the reconciler to stay idempotent.
func (r *SequentialRunner) ActivePollerJobID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.poller == nil {
		return ""
	}
	return r.poller.RemoteJobID()
}

// finishLocked aggregates the run outcome and returns the runner to
// idle. Items stay readable through Snapshot until the next run or an
// explicit Reset. Caller holds the lock.
func (r *SequentialRunner) finishLocked() {
	var completed, failed, cancelled int
	for _, item := range r.items {
		switch item.Status {
		case models.JobStatusCompleted:
			completed++
		case models.JobStatusFailed:
			failed++
		case models.JobStatusCancelled:
			cancelled++
		}
	}

	message := fmt.Sprintf("%d completed, %d failed", completed, failed)
	if cancelled > 0 {
		message = fmt.Sprintf("%s, %d cancelled", message, cancelled)
	}

	r.summary = &interfaces.RunSummary{
		RunID:      r.runID,
		Total:      len(r.items),
		Completed:  completed,
		Failed:     failed,
		Cancelled:  cancelled,
		WithErrors: failed > 0,
		Message:    message,
	}
	r.active = false
	r.stopRequested = false
	r.currentIndex = -1
	if r.cancelRun != nil {
		r.cancelRun()
		r.cancelRun = nil
	}

	r.logger.Info().
		Str("run_id", r.runID).
		Str("summary", message).
		Bool("with_errors", r.summary.WithErrors).
		Msg("Sequential run finished")

	r.publish(interfaces.EventRunCompleted, map[string]interface{}{
		"run_id":      r.summary.RunID,
		"total":       r.summary.Total,
		"completed":   completed,
		"failed":      failed,
		"cancelled":   cancelled,
		"with_errors": r.summary.WithErrors,
		"message":     message,
		"timestamp":   time.Now().Format(time.RFC3339),
	})
}

// requestRemoteCancel fires a best-effort remote cancellation. The
// result never gates local state changes.
func (r *SequentialRunner) requestRemoteCancel(remoteJobID string) {
	client := r.client
	logger := r.logger
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := client.Cancel(ctx, remoteJobID); err != nil {
			logger.Warn().
				Err(err).
				Str("job_id", remoteJobID).
				Msg("Remote cancellation request failed")
		}
	}()
}

func (r *SequentialRunner) publish(eventType interfaces.EventType, payload map[string]interface{}) {
	if r.events == nil {
		return
	}
	if err := r.events.Publish(context.Background(), interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		r.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to publish event")
	}
}

// publishItem publishes a per-item event with a consistent payload shape
func (r *SequentialRunner) publishItem(eventType interfaces.EventType, item *models.JobDescriptor) {
	r.mu.Lock()
	runID := r.runID
	clone := item.Clone()
	r.mu.Unlock()

	message := ""
	if clone.ErrorCode != "" || clone.ErrorMessage != "" {
		message = models.FriendlyMessage(clone.ErrorCode, clone.ErrorMessage)
	}

	r.publish(eventType, map[string]interface{}{
		"run_id":        runID,
		"target_id":     clone.TargetID,
		"target_label":  clone.TargetLabel,
		"job_id":        clone.RemoteJobID,
		"status":        string(clone.Status),
		"units_scanned": clone.Progress.UnitsScanned,
		"units_found":   clone.Progress.UnitsFound,
		"error_code":    clone.ErrorCode,
		"error_message": message,
		"timestamp":     time.Now().Format(time.RFC3339),
	})
}

// applyTerminalSnapshot copies a final snapshot into a descriptor
func applyTerminalSnapshot(item *models.JobDescriptor, snapshot *interfaces.JobSnapshot) {
	switch snapshot.Status {
	case models.JobStatusCompleted:
		item.MarkCompleted(snapshot.Progress())
	case models.JobStatusFailed:
		item.MergeProgress(snapshot.Progress())
		code := snapshot.ErrorCode
		if code == "" {
			code = models.ErrorCodeUnknown
		}
		item.MarkFailed(code, snapshot.ErrorMessage)
	case models.JobStatusCancelled:
		item.MarkCancelled()
	}
}

// classifySubmitError extracts a categorical code from a submit failure
func classifySubmitError(err error) (string, string) {
	var remoteErr *interfaces.RemoteError
	if errors.As(err, &remoteErr) {
		return remoteErr.Code, remoteErr.Message
	}
	return models.ErrorCodeUnknown, err.Error()
}
