// -----------------------------------------------------------------------
// App - wires configuration, engine, and handlers together
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/custos/internal/common"
	"github.com/ternarybob/custos/internal/handlers"
	"github.com/ternarybob/custos/internal/interfaces"
	"github.com/ternarybob/custos/internal/jobs"
	"github.com/ternarybob/custos/internal/remote"
	"github.com/ternarybob/custos/internal/services/events"
)

// App holds all application components and dependencies
type App struct {
	Config    *common.Config
	Logger    arbor.ILogger
	ctx       context.Context
	cancelCtx context.CancelFunc

	// Event bus between the engine and the WebSocket layer
	EventService interfaces.EventService

	// Remote crawl service client
	RemoteClient interfaces.RemoteJobClient

	// Orchestration engine
	Runner     *jobs.SequentialRunner
	Tracker    *jobs.Tracker
	Reconciler *jobs.Reconciler

	// HTTP handlers
	RunHandler     *handlers.RunHandler
	TrackerHandler *handlers.TrackerHandler
	APIHandler     *handlers.APIHandler
	WSHandler      *handlers.WebSocketHandler
}

// New creates and wires the application
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	pollInterval, err := config.PollInterval()
	if err != nil {
		cancel()
		return nil, err
	}
	remoteTimeout, err := config.RemoteTimeout()
	if err != nil {
		cancel()
		return nil, err
	}

	a := &App{
		Config:    config,
		Logger:    logger,
		ctx:       ctx,
		cancelCtx: cancel,
	}

	a.EventService = events.NewService(logger)
	a.RemoteClient = remote.NewClient(config.Remote.BaseURL, config.Remote.APIKey, remoteTimeout, logger)

	a.Runner = jobs.NewSequentialRunner(a.RemoteClient, a.EventService, logger, pollInterval)
	a.Tracker = jobs.NewTracker(a.RemoteClient, a.EventService, logger, pollInterval)
	a.Reconciler = jobs.NewReconciler(a.RemoteClient, a.Runner, logger, config.Remote.ScopeID)

	a.RunHandler = handlers.NewRunHandler(ctx, a.Runner, logger)
	a.TrackerHandler = handlers.NewTrackerHandler(ctx, a.Tracker, logger)
	a.APIHandler = handlers.NewAPIHandler(logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, logger, &config.WebSocket, config.ProgressThrottle())

	return a, nil
}

// Context returns the application root context
func (a *App) Context() context.Context {
	return a.ctx
}

// Start runs startup reconciliation and the optional scheduled re-sync
func (a *App) Start() error {
	if !a.Config.Recovery.Enabled {
		a.Logger.Info().Msg("Recovery disabled, skipping reconciliation")
		return nil
	}

	if err := a.Reconciler.Reconcile(a.ctx); err != nil {
		// Recovery failure is not fatal; the console still works for new runs
		a.Logger.Warn().Err(err).Msg("Startup reconciliation failed")
	}

	if schedule := a.Config.Recovery.ResyncSchedule; schedule != "" {
		if err := a.Reconciler.StartSchedule(a.ctx, schedule); err != nil {
			return fmt.Errorf("failed to start recovery re-sync: %w", err)
		}
	}

	return nil
}

// Shutdown tears down the engine. Remote jobs keep running and are
// picked up by reconciliation on the next start.
func (a *App) Shutdown() {
	a.Logger.Info().Msg("Shutting down orchestration engine...")

	a.Reconciler.Stop()
	a.Tracker.StopAll()
	a.cancelCtx()

	if err := a.EventService.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to close event service")
	}
}
