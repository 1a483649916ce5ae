// -----------------------------------------------------------------------
// Independent Job Tracker - per-target jobs with no cross-target ordering
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/custos/internal/interfaces"
	"github.com/ternarybob/custos/internal/models"
)

// ErrAlreadyRunning is returned when a target already has an in-flight job
var ErrAlreadyRunning = errors.New("a job is already running for this target")

// Tracker manages concurrently running per-target jobs. Each entry has
// its own status poller and lifecycle, entirely decoupled from the
// sequential queue's single-active-job constraint: any number of
// targets may be running at once, but at most one job per target.
//
// Entries are retained after completion so the console can render a
// persistent done/failed badge until the entity list reloads.
type Tracker struct {
	client       interfaces.RemoteJobClient
	events       interfaces.EventService
	logger       arbor.ILogger
	pollInterval time.Duration

	mu      sync.Mutex
	entries map[string]*models.JobDescriptor
	pollers map[string]*StatusPoller
}

// NewTracker creates an empty tracker registry
func NewTracker(client interfaces.RemoteJobClient, events interfaces.EventService, logger arbor.ILogger, pollInterval time.Duration) *Tracker {
	return &Tracker{
		client:       client,
		events:       events,
		logger:       logger,
		pollInterval: pollInterval,
		entries:      make(map[string]*models.JobDescriptor),
		pollers:      make(map[string]*StatusPoller),
	}
}

// Start submits a job for a target and begins polling it. Rejects with
// ErrAlreadyRunning when the target already has an in-flight job; a
// terminal entry is replaced by the new job.
func (t *Tracker) Start(ctx context.Context, targetID, label string, options models.JobOptions) error {
	t.mu.Lock()
	if existing, ok := t.entries[targetID]; ok && !existing.IsTerminal() {
		t.mu.Unlock()
		return ErrAlreadyRunning
	}

	entry := models.NewJobDescriptor(targetID, label)
	entry.MarkRunning("")
	t.entries[targetID] = entry
	t.mu.Unlock()

	remoteJobID, err := t.client.Submit(ctx, targetID, options)

	t.mu.Lock()
	if t.entries[targetID] != entry {
		// Entry was replaced or removed while submitting; tidy the
		// remote side and walk away
		t.mu.Unlock()
		if err == nil && remoteJobID != "" {
			t.requestRemoteCancel(remoteJobID)
		}
		return nil
	}

	if entry.IsTerminal() {
		// Stopped while the submit was in flight
		t.mu.Unlock()
		if err == nil && remoteJobID != "" {
			t.requestRemoteCancel(remoteJobID)
		}
		return nil
	}

	if err != nil {
		code, message := classifySubmitError(err)
		entry.MarkFailed(code, message)
		t.mu.Unlock()

		t.logger.Warn().
			Err(err).
			Str("target_id", targetID).
			Msg("Tracker job submission failed")

		t.publishEntry(entry)
		return nil
	}

	entry.SetRemoteJobID(remoteJobID)
	poller := t.newEntryPoller(entry)
	t.pollers[targetID] = poller
	t.mu.Unlock()

	t.logger.Info().
		Str("target_id", targetID).
		Str("job_id", remoteJobID).
		Msg("Tracker job running, polling for status")

	t.publishEntry(entry)
	poller.Start(ctx)
	return nil
}

// newEntryPoller builds the status poller for one entry. Caller holds
// the lock.
func (t *Tracker) newEntryPoller(entry *models.JobDescriptor) *StatusPoller {
	targetID := entry.TargetID
	jobLogger := t.logger.WithCorrelationId(entry.RemoteJobID)

	onProgress := func(snapshot *interfaces.JobSnapshot) {
		t.mu.Lock()
		entry.MergeProgress(snapshot.Progress())
		t.mu.Unlock()
		t.publishEntry(entry)
	}

	var poller *StatusPoller
	onTerminal := func(snapshot *interfaces.JobSnapshot) {
		t.mu.Lock()
		if t.pollers[targetID] != poller {
			t.mu.Unlock()
			return
		}
		delete(t.pollers, targetID)
		applyTerminalSnapshot(entry, snapshot)
		t.mu.Unlock()

		t.publishEntry(entry)
	}

	poller = NewStatusPoller(t.client, entry.RemoteJobID, t.pollInterval, jobLogger, onProgress, onTerminal)
	return poller
}

// Stop cancels a single target's job: the poller is torn down, the
// entry flips to cancelled if still non-terminal, and remote
// cancellation is requested fire-and-forget. Other entries are
// unaffected. No-op for unknown or already-terminal targets.
func (t *Tracker) Stop(targetID string) error {
	t.mu.Lock()
	entry, ok := t.entries[targetID]
	if !ok {
		t.mu.Unlock()
		return nil
	}

	poller := t.pollers[targetID]
	delete(t.pollers, targetID)

	remoteJobID := ""
	if entry.Status == models.JobStatusRunning {
		remoteJobID = entry.RemoteJobID
	}
	changed := entry.MarkCancelled()
	t.mu.Unlock()

	if poller != nil {
		poller.Stop()
	}
	if remoteJobID != "" {
		t.requestRemoteCancel(remoteJobID)
	}
	if changed {
		t.logger.Info().
			Str("target_id", targetID).
			Str("job_id", remoteJobID).
			Msg("Tracker job cancelled")
		t.publishEntry(entry)
	}
	return nil
}

// StopAll tears down every active poller without touching entry state.
// Shutdown path only; remote jobs keep running for later recovery.
func (t *Tracker) StopAll() {
	t.mu.Lock()
	pollers := make([]*StatusPoller, 0, len(t.pollers))
	for _, poller := range t.pollers {
		pollers = append(pollers, poller)
	}
	t.pollers = make(map[string]*StatusPoller)
	t.mu.Unlock()

	for _, poller := range pollers {
		poller.Stop()
	}
}

// Snapshot returns a copy of the registry for display
func (t *Tracker) Snapshot() map[string]interfaces.TrackerEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	snapshot := make(map[string]interfaces.TrackerEntry, len(t.entries))
	for targetID, entry := range t.entries {
		snapshot[targetID] = interfaces.TrackerEntry{
			TargetID:     entry.TargetID,
			TargetLabel:  entry.TargetLabel,
			Status:       entry.Status,
			RemoteJobID:  entry.RemoteJobID,
			Progress:     entry.Progress,
			ErrorCode:    entry.ErrorCode,
			ErrorMessage: entry.ErrorMessage,
		}
	}
	return snapshot
}

// Clear drops all terminal entries (entity list reload)
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for targetID, entry := range t.entries {
		if entry.IsTerminal() {
			delete(t.entries, targetID)
		}
	}
}

func (t *Tracker) requestRemoteCancel(remoteJobID string) {
	client := t.client
	logger := t.logger
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

// publishEntry publishes a tracker update for one entry
func (t *Tracker) publishEntry(entry *models.JobDescriptor) {
	if t.events == nil {
		return
	}

	t.mu.Lock()
	clone := entry.Clone()
	t.mu.Unlock()

	message := ""
	if clone.ErrorCode != "" || clone.ErrorMessage != "" {
		message = models.FriendlyMessage(clone.ErrorCode, clone.ErrorMessage)
	}

	payload := map[string]interface{}{
		"target_id":     clone.TargetID,
		"target_label":  clone.TargetLabel,
		"job_id":        clone.RemoteJobID,
		"status":        string(clone.Status),
		"units_scanned": clone.Progress.UnitsScanned,
		"units_found":   clone.Progress.UnitsFound,
		"error_code":    clone.ErrorCode,
		"error_message": message,
		"timestamp":     time.Now().Format(time.RFC3339),
	}

	if err := t.events.Publish(context.Background(), interfaces.Event{Type: interfaces.EventTrackerUpdate, Payload: payload}); err != nil {
		t.logger.Warn().Err(err).Msg("Failed to publish tracker update")
	}
}
