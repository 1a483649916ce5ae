package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/custos/internal/interfaces"
	"github.com/ternarybob/custos/internal/models"
)

const testPollInterval = 5 * time.Millisecond

func newTestRunner(client *mockRemoteClient) (*SequentialRunner, *mockEventService) {
	events := &mockEventService{}
	runner := NewSequentialRunner(client, events, arbor.NewLogger(), testPollInterval)
	return runner, events
}

func targets(ids ...string) []interfaces.Target {
	out := make([]interfaces.Target, 0, len(ids))
	for _, id := range ids {
		out = append(out, interfaces.Target{ID: id})
	}
	return out
}

func waitForFinish(t *testing.T, runner *SequentialRunner) interfaces.QueueSnapshot {
	t.Helper()
	require.Eventually(t, func() bool {
		snap := runner.Snapshot()
		return !snap.Active && snap.Summary != nil
	}, 2*time.Second, testPollInterval, "run did not finish")
	return runner.Snapshot()
}

func TestSequentialRunner_RunsTargetsInOrder(t *testing.T) {
	client := newMockRemoteClient()
	client.script("net-1", running(10, 1), completed(25, 3))
	client.script("net-2", completed(5, 0))
	client.script("net-3", running(1, 0), running(2, 0), completed(9, 2))

	runner, _ := newTestRunner(client)
	err := runner.BuildAndStart(context.Background(), targets("net-1", "net-2", "net-3"), nil)
	require.NoError(t, err)

	snap := waitForFinish(t, runner)

	assert.Equal(t, []string{"net-1", "net-2", "net-3"}, client.submitOrder())
	assert.Equal(t, 1, client.maxOpenJobs(), "only one remote job may be open at a time")

	require.Len(t, snap.Items, 3)
	for _, item := range snap.Items {
		assert.Equal(t, models.JobStatusCompleted, item.Status, "target %s", item.TargetID)
	}
	assert.Equal(t, 25, snap.Items[0].Progress.UnitsScanned)
	assert.Equal(t, 3, snap.Items[0].Progress.UnitsFound)

	assert.False(t, snap.Summary.WithErrors)
	assert.Equal(t, "3 completed, 0 failed", snap.Summary.Message)
}

func TestSequentialRunner_RejectsConcurrentRun(t *testing.T) {
	client := newMockRemoteClient()
	client.script("net-1", running(0, 0))

	runner, _ := newTestRunner(client)
	require.NoError(t, runner.BuildAndStart(context.Background(), targets("net-1"), nil))

	require.Eventually(t, func() bool {
		return len(client.submitOrder()) == 1
	}, 2*time.Second, testPollInterval)

	err := runner.BuildAndStart(context.Background(), targets("net-2"), nil)
	assert.ErrorIs(t, err, ErrRunActive)

	require.NoError(t, runner.Cancel())
}

func TestSequentialRunner_RejectsEmptySelection(t *testing.T) {
	runner, _ := newTestRunner(newMockRemoteClient())
	err := runner.BuildAndStart(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrNoTargets)
}

func TestSequentialRunner_SubmitFailureAdvances(t *testing.T) {
	client := newMockRemoteClient()
	client.script("net-1", completed(10, 1))
	client.scriptSubmitError("net-2", &interfaces.RemoteError{
		Code:    models.ErrorCodeAuthFailed,
		Message: "credentials rejected",
	})
	client.script("net-3", completed(4, 0))

	runner, _ := newTestRunner(client)
	require.NoError(t, runner.BuildAndStart(context.Background(), targets("net-1", "net-2", "net-3"), nil))

	snap := waitForFinish(t, runner)

	// The failed submission never blocks the rest of the queue
	assert.Equal(t, []string{"net-1", "net-2", "net-3"}, client.submitOrder())

	assert.Equal(t, models.JobStatusCompleted, snap.Items[0].Status)
	assert.Equal(t, models.JobStatusFailed, snap.Items[1].Status)
	assert.Equal(t, models.ErrorCodeAuthFailed, snap.Items[1].ErrorCode)
	assert.Empty(t, snap.Items[1].RemoteJobID, "failed submission must not leave a remote job ID")
	assert.Equal(t, models.JobStatusCompleted, snap.Items[2].Status)

	assert.True(t, snap.Summary.WithErrors)
	assert.Equal(t, "2 completed, 1 failed", snap.Summary.Message)
}

func TestSequentialRunner_RemoteFailureDoesNotAbortRun(t *testing.T) {
	client := newMockRemoteClient()
	client.script("net-7", running(3, 0), failed(models.ErrorCodeSiteUnavailable, "connect refused"))
	client.script("net-9", completed(12, 2))

	runner, _ := newTestRunner(client)
	require.NoError(t, runner.BuildAndStart(context.Background(), targets("net-7", "net-9"), nil))

	snap := waitForFinish(t, runner)

	assert.Equal(t, models.JobStatusFailed, snap.Items[0].Status)
	assert.Equal(t, models.ErrorCodeSiteUnavailable, snap.Items[0].ErrorCode)
	assert.Equal(t, models.JobStatusCompleted, snap.Items[1].Status)

	assert.True(t, snap.Summary.WithErrors)
	assert.Equal(t, "1 completed, 1 failed", snap.Summary.Message)
}

func TestSequentialRunner_TransientPollErrorsAreRetried(t *testing.T) {
	client := newMockRemoteClient()
	client.script("net-1",
		running(1, 0),
		fetchError(errors.New("connection reset")),
		fetchError(errors.New("connection reset")),
		completed(8, 1),
	)

	runner, _ := newTestRunner(client)
	require.NoError(t, runner.BuildAndStart(context.Background(), targets("net-1"), nil))

	snap := waitForFinish(t, runner)

	// Fetch errors never surface as job failures
	assert.Equal(t, models.JobStatusCompleted, snap.Items[0].Status)
	assert.Empty(t, snap.Items[0].ErrorCode)
	assert.False(t, snap.Summary.WithErrors)
}

func TestSequentialRunner_CancelFlipsLocalStateImmediately(t *testing.T) {
	client := newMockRemoteClient()
	client.script("net-1", completed(10, 1))
	client.script("net-2", running(3, 0)) // never finishes on its own
	client.script("net-3", completed(1, 0))
	client.script("net-4", completed(1, 0))

	runner, _ := newTestRunner(client)
	require.NoError(t, runner.BuildAndStart(context.Background(), targets("net-1", "net-2", "net-3", "net-4"), nil))

	// Wait until the second target is the one in flight
	require.Eventually(t, func() bool {
		snap := runner.Snapshot()
		return len(snap.Items) == 4 && snap.Items[1].Status == models.JobStatusRunning
	}, 2*time.Second, testPollInterval)

	require.NoError(t, runner.Cancel())

	snap := runner.Snapshot()
	assert.False(t, snap.Active)
	assert.Equal(t, models.JobStatusCompleted, snap.Items[0].Status, "finished items keep their outcome")
	assert.Equal(t, models.JobStatusCancelled, snap.Items[1].Status)
	assert.Equal(t, models.JobStatusCancelled, snap.Items[2].Status)
	assert.Equal(t, models.JobStatusCancelled, snap.Items[3].Status)

	require.NotNil(t, snap.Summary)
	assert.Equal(t, 1, snap.Summary.Completed)
	assert.Equal(t, 3, snap.Summary.Cancelled)
	assert.Equal(t, "1 completed, 0 failed, 3 cancelled", snap.Summary.Message)

	// Remote cancellation is requested for the running job only
	runningJobID := snap.Items[1].RemoteJobID
	require.NotEmpty(t, runningJobID)
	require.Eventually(t, func() bool {
		cancelled := client.cancelledJobs()
		return len(cancelled) == 1 && cancelled[0] == runningJobID
	}, 2*time.Second, testPollInterval)

	// Queued targets were never submitted
	assert.Equal(t, []string{"net-1", "net-2"}, client.submitOrder())
}

func TestSequentialRunner_CancelWhenIdleIsNoOp(t *testing.T) {
	runner, _ := newTestRunner(newMockRemoteClient())
	assert.NoError(t, runner.Cancel())
	assert.Nil(t, runner.Snapshot().Summary)
}

func TestSequentialRunner_ResetClearsFinishedRun(t *testing.T) {
	client := newMockRemoteClient()
	client.script("net-1", completed(2, 0))

	runner, _ := newTestRunner(client)
	require.NoError(t, runner.BuildAndStart(context.Background(), targets("net-1"), nil))
	waitForFinish(t, runner)

	require.NoError(t, runner.Reset())

	snap := runner.Snapshot()
	assert.Empty(t, snap.RunID)
	assert.Empty(t, snap.Items)
	assert.Nil(t, snap.Summary)
}

func TestSequentialRunner_ResetRejectedWhileActive(t *testing.T) {
	client := newMockRemoteClient()
	client.script("net-1", running(0, 0))

	runner, _ := newTestRunner(client)
	require.NoError(t, runner.BuildAndStart(context.Background(), targets("net-1"), nil))

	require.Eventually(t, func() bool {
		return len(client.submitOrder()) == 1
	}, 2*time.Second, testPollInterval)

	assert.ErrorIs(t, runner.Reset(), ErrRunActive)
	require.NoError(t, runner.Cancel())
}

func TestSequentialRunner_SnapshotIsDeepCopy(t *testing.T) {
	client := newMockRemoteClient()
	client.script("net-1", completed(2, 0))

	runner, _ := newTestRunner(client)
	require.NoError(t, runner.BuildAndStart(context.Background(), targets("net-1"), nil))
	waitForFinish(t, runner)

	snap := runner.Snapshot()
	snap.Items[0].Status = models.JobStatusPending
	snap.Summary.Message = "mutated"

	fresh := runner.Snapshot()
	assert.Equal(t, models.JobStatusCompleted, fresh.Items[0].Status)
	assert.Equal(t, "1 completed, 0 failed", fresh.Summary.Message)
}

func TestSequentialRunner_PublishesLifecycleEvents(t *testing.T) {
	client := newMockRemoteClient()
	client.script("net-1", running(5, 1), completed(10, 2))

	runner, events := newTestRunner(client)
	require.NoError(t, runner.BuildAndStart(context.Background(), targets("net-1"), nil))
	waitForFinish(t, runner)

	assert.Len(t, events.byType(interfaces.EventRunStarted), 1)
	assert.Len(t, events.byType(interfaces.EventRunCompleted), 1)
	assert.NotEmpty(t, events.byType(interfaces.EventJobProgress))

	terminal := events.byType(interfaces.EventJobTerminal)
	require.Len(t, terminal, 1)
	payload, ok := terminal[0].Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "completed", payload["status"])
	assert.Equal(t, "net-1", payload["target_id"])
}
