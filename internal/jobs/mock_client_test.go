package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/custos/internal/interfaces"
	"github.com/ternarybob/custos/internal/models"
)

// Mock implementations

// statusResult is one scripted FetchStatus outcome
type statusResult struct {
	snapshot *interfaces.JobSnapshot
	err      error
}

// scriptedJob describes how the mock service behaves for one target
type scriptedJob struct {
	submitErr error
	results   []statusResult // consumed in order; the last one repeats
}

// mockRemoteClient implements interfaces.RemoteJobClient with scripted
// per-target behavior. It records submission order and tracks how many
// jobs are open (submitted but not yet reported terminal) at once.
type mockRemoteClient struct {
	mu sync.Mutex

	scripts    map[string]*scriptedJob
	submits    []string          // target IDs in submission order
	jobTargets map[string]string // remote job ID -> target ID
	fetchIndex map[string]int
	fetchCount map[string]int
	cancelled  []string
	nextID     int

	active    []interfaces.ActiveJob
	activeErr error

	open    map[string]bool
	maxOpen int
}

func newMockRemoteClient() *mockRemoteClient {
	return &mockRemoteClient{
		scripts:    make(map[string]*scriptedJob),
		jobTargets: make(map[string]string),
		fetchIndex: make(map[string]int),
		fetchCount: make(map[string]int),
		open:       make(map[string]bool),
	}
}

// script registers the FetchStatus sequence for a target
func (m *mockRemoteClient) script(targetID string, results ...statusResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[targetID] = &scriptedJob{results: results}
}

// scriptSubmitError makes submission fail for a target
func (m *mockRemoteClient) scriptSubmitError(targetID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[targetID] = &scriptedJob{submitErr: err}
}

// scriptRecovered registers an already-running remote job the way the
// reconciler would find it: bound to a job ID without any submission
func (m *mockRemoteClient) scriptRecovered(remoteJobID, targetID string, results ...statusResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[targetID] = &scriptedJob{results: results}
	m.jobTargets[remoteJobID] = targetID
}

func (m *mockRemoteClient) Submit(ctx context.Context, targetID string, options models.JobOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.submits = append(m.submits, targetID)

	script, ok := m.scripts[targetID]
	if !ok {
		return "", fmt.Errorf("no script for target %s", targetID)
	}
	if script.submitErr != nil {
		return "", script.submitErr
	}

	m.nextID++
	jobID := fmt.Sprintf("job-%s-%d", targetID, m.nextID)
	m.jobTargets[jobID] = targetID

	m.open[jobID] = true
	if len(m.open) > m.maxOpen {
		m.maxOpen = len(m.open)
	}

	return jobID, nil
}

func (m *mockRemoteClient) FetchStatus(ctx context.Context, remoteJobID string) (*interfaces.JobSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	targetID, ok := m.jobTargets[remoteJobID]
	if !ok {
		return nil, fmt.Errorf("unknown job %s", remoteJobID)
	}
	script := m.scripts[targetID]
	if script == nil || len(script.results) == 0 {
		return nil, fmt.Errorf("no status script for target %s", targetID)
	}

	m.fetchCount[remoteJobID]++

	idx := m.fetchIndex[remoteJobID]
	if idx >= len(script.results) {
		idx = len(script.results) - 1
	} else {
		m.fetchIndex[remoteJobID] = idx + 1
	}

	result := script.results[idx]
	if result.err != nil {
		return nil, result.err
	}
	if result.snapshot.Status.IsTerminal() {
		delete(m.open, remoteJobID)
	}
	return result.snapshot, nil
}

func (m *mockRemoteClient) Cancel(ctx context.Context, remoteJobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, remoteJobID)
	delete(m.open, remoteJobID)
	return nil
}

func (m *mockRemoteClient) ListActive(ctx context.Context, scopeID string) ([]interfaces.ActiveJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeErr != nil {
		return nil, m.activeErr
	}
	return m.active, nil
}

func (m *mockRemoteClient) submitOrder() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.submits...)
}

func (m *mockRemoteClient) cancelledJobs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.cancelled...)
}

func (m *mockRemoteClient) fetches(remoteJobID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchCount[remoteJobID]
}

func (m *mockRemoteClient) maxOpenJobs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxOpen
}

// Snapshot shorthands

func running(scanned, found int) statusResult {
	return statusResult{snapshot: &interfaces.JobSnapshot{
		Status:       models.JobStatusRunning,
		UnitsScanned: scanned,
		UnitsFound:   found,
	}}
}

func completed(scanned, found int) statusResult {
	return statusResult{snapshot: &interfaces.JobSnapshot{
		Status:       models.JobStatusCompleted,
		UnitsScanned: scanned,
		UnitsFound:   found,
	}}
}

func failed(code, message string) statusResult {
	return statusResult{snapshot: &interfaces.JobSnapshot{
		Status:       models.JobStatusFailed,
		ErrorCode:    code,
		ErrorMessage: message,
	}}
}

func fetchError(err error) statusResult {
	return statusResult{err: err}
}

// mockEventService records published events
type mockEventService struct {
	mu     sync.Mutex
	events []interfaces.Event
}

func (m *mockEventService) Publish(ctx context.Context, event interfaces.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockEventService) PublishSync(ctx context.Context, event interfaces.Event) error {
	return m.Publish(ctx, event)
}

func (m *mockEventService) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) error {
	return nil
}

func (m *mockEventService) Close() error {
	return nil
}

func (m *mockEventService) byType(eventType interfaces.EventType) []interfaces.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []interfaces.Event
	for _, e := range m.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
