// -----------------------------------------------------------------------
// Status Poller - fixed-cadence poll loop for one remote job
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/custos/internal/interfaces"
)

// ProgressFunc receives every successful non-final snapshot
type ProgressFunc func(snapshot *interfaces.JobSnapshot)

// TerminalFunc receives the final snapshot exactly once
type TerminalFunc func(snapshot *interfaces.JobSnapshot)

// StatusPoller repeatedly fetches the status of one remote job on a
// fixed cadence until the job is terminal, then reports the final
// snapshot exactly once and exits its own loop.
//
// Retry policy: a transient fetch error does not change job state; it is
// logged and the next tick retries. There is no backoff and no attempt
// cap; the loop is bounded only by terminal status or Stop/context
// cancellation. The single loop goroutine also guarantees there are
// never two concurrent FetchStatus calls for the same job.
type StatusPoller struct {
	client      interfaces.RemoteJobClient
	remoteJobID string
	interval    time.Duration
	logger      arbor.ILogger
	onProgress  ProgressFunc
	onTerminal  TerminalFunc

	cancel   context.CancelFunc
	done     chan struct{}
	startOne sync.Once
	stopOne  sync.Once
}

// NewStatusPoller creates a poller bound to one remote job ID
func NewStatusPoller(client interfaces.RemoteJobClient, remoteJobID string, interval time.Duration, logger arbor.ILogger, onProgress ProgressFunc, onTerminal TerminalFunc) *StatusPoller {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &StatusPoller{
		client:      client,
		remoteJobID: remoteJobID,
		interval:    interval,
		logger:      logger,
		onProgress:  onProgress,
		onTerminal:  onTerminal,
		done:        make(chan struct{}),
	}
}

// RemoteJobID returns the remote job this poller is bound to
func (p *StatusPoller) RemoteJobID() string {
	return p.remoteJobID
}

// Start launches the poll loop in its own goroutine. Subsequent calls
// are no-ops.
func (p *StatusPoller) Start(ctx context.Context) {
	p.startOne.Do(func() {
		pollCtx, cancel := context.WithCancel(ctx)
		p.cancel = cancel
		go p.loop(pollCtx)
	})
}

// Stop cancels the poll loop. The terminal callback will not fire after
// Stop returns and the loop has drained. Safe to call multiple times.
func (p *StatusPoller) Stop() {
	p.stopOne.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
	})
}

// Done is closed once the poll loop has exited
func (p *StatusPoller) Done() <-chan struct{} {
	return p.done
}

func (p *StatusPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// First fetch happens immediately so recovered jobs show a status
	// without waiting a full interval
	if p.pollOnce(ctx, ticker) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug().
				Str("job_id", p.remoteJobID).
				Msg("Status poller stopped")
			return
		case <-ticker.C:
			if p.pollOnce(ctx, ticker) {
				return
			}
		}
	}
}

// pollOnce fetches one snapshot and returns true when the loop is done.
// The ticker is stopped before the terminal callback runs so a slow
// downstream handler cannot cause duplicate ticks.
func (p *StatusPoller) pollOnce(ctx context.Context, ticker *time.Ticker) bool {
	if ctx.Err() != nil {
		return true
	}

	snapshot, err := p.client.FetchStatus(ctx, p.remoteJobID)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		// Transient failure: keep the current state, retry on next tick
		p.logger.Debug().
			Err(err).
			Str("job_id", p.remoteJobID).
			Msg("Status fetch failed, retrying on next tick")
		return false
	}

	if ctx.Err() != nil {
		// Stopped while the fetch was in flight; drop the snapshot so a
		// cancelled owner never sees a late terminal report
		return true
	}

	if !snapshot.Status.IsTerminal() {
		if p.onProgress != nil {
			p.onProgress(snapshot)
		}
		return false
	}

	ticker.Stop()
	if p.onTerminal != nil {
		p.onTerminal(snapshot)
	}
	return true
}
