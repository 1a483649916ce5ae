package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/custos/internal/interfaces"
	"github.com/ternarybob/custos/internal/models"
)

func newTestTracker(client *mockRemoteClient) (*Tracker, *mockEventService) {
	events := &mockEventService{}
	tracker := NewTracker(client, events, arbor.NewLogger(), testPollInterval)
	return tracker, events
}

func waitForEntryStatus(t *testing.T, tracker *Tracker, targetID string, status models.JobStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		entry, ok := tracker.Snapshot()[targetID]
		return ok && entry.Status == status
	}, 2*time.Second, testPollInterval, "target %s never reached %s", targetID, status)
}

func TestTracker_TargetsRunIndependently(t *testing.T) {
	client := newMockRemoteClient()
	client.script("site-a", running(1, 0)) // stays running
	client.script("site-b", running(2, 0)) // stays running
	client.script("site-c", completed(4, 1))

	tracker, _ := newTestTracker(client)
	defer tracker.StopAll()

	ctx := context.Background()
	require.NoError(t, tracker.Start(ctx, "site-a", "Site A", nil))
	require.NoError(t, tracker.Start(ctx, "site-b", "Site B", nil))
	require.NoError(t, tracker.Start(ctx, "site-c", "Site C", nil))

	waitForEntryStatus(t, tracker, "site-a", models.JobStatusRunning)
	waitForEntryStatus(t, tracker, "site-b", models.JobStatusRunning)
	waitForEntryStatus(t, tracker, "site-c", models.JobStatusCompleted)

	// Two jobs were genuinely in flight at the same time
	assert.GreaterOrEqual(t, client.maxOpenJobs(), 2)

	// The finished entry is retained alongside the running ones
	snapshot := tracker.Snapshot()
	assert.Len(t, snapshot, 3)
	assert.Equal(t, models.JobStatusRunning, snapshot["site-a"].Status)
	assert.Equal(t, 4, snapshot["site-c"].Progress.UnitsScanned)
}

func TestTracker_RejectsDuplicateStart(t *testing.T) {
	client := newMockRemoteClient()
	client.script("site-a", running(1, 0))

	tracker, _ := newTestTracker(client)
	defer tracker.StopAll()

	ctx := context.Background()
	require.NoError(t, tracker.Start(ctx, "site-a", "", nil))

	err := tracker.Start(ctx, "site-a", "", nil)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Equal(t, []string{"site-a"}, client.submitOrder())
}

func TestTracker_TerminalEntryCanBeRestarted(t *testing.T) {
	client := newMockRemoteClient()
	client.script("site-a", completed(3, 0))

	tracker, _ := newTestTracker(client)
	defer tracker.StopAll()

	ctx := context.Background()
	require.NoError(t, tracker.Start(ctx, "site-a", "", nil))
	waitForEntryStatus(t, tracker, "site-a", models.JobStatusCompleted)

	// Re-script so the second run stays observable
	client.script("site-a", running(1, 0))
	require.NoError(t, tracker.Start(ctx, "site-a", "", nil))
	waitForEntryStatus(t, tracker, "site-a", models.JobStatusRunning)

	assert.Equal(t, []string{"site-a", "site-a"}, client.submitOrder())
}

func TestTracker_StopCancelsSingleTarget(t *testing.T) {
	client := newMockRemoteClient()
	client.script("site-a", running(1, 0))
	client.script("site-b", running(1, 0))

	tracker, _ := newTestTracker(client)
	defer tracker.StopAll()

	ctx := context.Background()
	require.NoError(t, tracker.Start(ctx, "site-a", "", nil))
	require.NoError(t, tracker.Start(ctx, "site-b", "", nil))
	waitForEntryStatus(t, tracker, "site-a", models.JobStatusRunning)
	waitForEntryStatus(t, tracker, "site-b", models.JobStatusRunning)

	require.NoError(t, tracker.Stop("site-a"))

	snapshot := tracker.Snapshot()
	assert.Equal(t, models.JobStatusCancelled, snapshot["site-a"].Status)
	assert.Equal(t, models.JobStatusRunning, snapshot["site-b"].Status, "other targets are unaffected")

	cancelledJobID := snapshot["site-a"].RemoteJobID
	require.NotEmpty(t, cancelledJobID)
	require.Eventually(t, func() bool {
		cancelled := client.cancelledJobs()
		return len(cancelled) == 1 && cancelled[0] == cancelledJobID
	}, 2*time.Second, testPollInterval)
}

func TestTracker_StopUnknownTargetIsNoOp(t *testing.T) {
	tracker, _ := newTestTracker(newMockRemoteClient())
	assert.NoError(t, tracker.Stop("missing"))
}

func TestTracker_SubmitFailureMarksEntryFailed(t *testing.T) {
	client := newMockRemoteClient()
	client.scriptSubmitError("site-a", &interfaces.RemoteError{
		Code:    models.ErrorCodeSiteUnavailable,
		Message: "connect refused",
	})

	tracker, events := newTestTracker(client)

	require.NoError(t, tracker.Start(context.Background(), "site-a", "", nil))

	entry := tracker.Snapshot()["site-a"]
	assert.Equal(t, models.JobStatusFailed, entry.Status)
	assert.Equal(t, models.ErrorCodeSiteUnavailable, entry.ErrorCode)
	assert.Empty(t, entry.RemoteJobID)

	updates := events.byType(interfaces.EventTrackerUpdate)
	require.NotEmpty(t, updates)
	payload, ok := updates[len(updates)-1].Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Site unavailable – server may be down", payload["error_message"])
}

func TestTracker_ClearDropsOnlyTerminalEntries(t *testing.T) {
	client := newMockRemoteClient()
	client.script("site-a", completed(1, 0))
	client.script("site-b", running(1, 0))

	tracker, _ := newTestTracker(client)
	defer tracker.StopAll()

	ctx := context.Background()
	require.NoError(t, tracker.Start(ctx, "site-a", "", nil))
	require.NoError(t, tracker.Start(ctx, "site-b", "", nil))
	waitForEntryStatus(t, tracker, "site-a", models.JobStatusCompleted)
	waitForEntryStatus(t, tracker, "site-b", models.JobStatusRunning)

	tracker.Clear()

	snapshot := tracker.Snapshot()
	assert.NotContains(t, snapshot, "site-a")
	assert.Contains(t, snapshot, "site-b")
}

func TestTracker_StopAllKeepsEntries(t *testing.T) {
	client := newMockRemoteClient()
	client.script("site-a", running(1, 0))

	tracker, _ := newTestTracker(client)

	require.NoError(t, tracker.Start(context.Background(), "site-a", "", nil))
	waitForEntryStatus(t, tracker, "site-a", models.JobStatusRunning)

	tracker.StopAll()

	// Shutdown only tears down pollers; the remote job is left running
	// for recovery and no cancellation is requested
	snapshot := tracker.Snapshot()
	assert.Equal(t, models.JobStatusRunning, snapshot["site-a"].Status)
	assert.Empty(t, client.cancelledJobs())
}
