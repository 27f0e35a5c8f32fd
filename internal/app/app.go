package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/optiscan/internal/common"
	"github.com/ternarybob/optiscan/internal/handlers"
	"github.com/ternarybob/optiscan/internal/interfaces"
	"github.com/ternarybob/optiscan/internal/services/bundle"
	"github.com/ternarybob/optiscan/internal/services/cleanup"
	"github.com/ternarybob/optiscan/internal/services/crawler"
	"github.com/ternarybob/optiscan/internal/services/events"
	"github.com/ternarybob/optiscan/internal/services/queue"
	"github.com/ternarybob/optiscan/internal/services/report"
	"github.com/ternarybob/optiscan/internal/services/stats"
	"github.com/ternarybob/optiscan/internal/services/validation"
	"github.com/ternarybob/optiscan/internal/storage/sqlite"
)

const statsBroadcastInterval = 10 * time.Second

// App wires the service graph and owns its lifecycle
type App struct {
	config  *common.Config
	logger  arbor.ILogger
	storage interfaces.StorageManager
	events  interfaces.EventService

	tracker   *stats.Tracker
	queue     *queue.Service
	processor *queue.Processor
	cleanup   *cleanup.Service

	apiHandler   *handlers.APIHandler
	scanHandler  *handlers.ScanHandler
	statsHandler *handlers.StatsHandler
	wsHandler    *handlers.WebSocketHandler
}

// New constructs the application from configuration. Nothing starts running
// until Start.
func New(config *common.Config) (*App, error) {
	logger := common.GetLogger()

	storage, err := sqlite.NewManager(logger, &config.Storage.SQLite)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	bus := events.NewService(logger)
	validator := validation.NewService(config, logger)
	tracker := stats.NewTracker(config, logger, storage, bus)
	crawlSvc := crawler.NewService(config, logger, storage, bus, validator, tracker)
	queueSvc := queue.NewService(config, logger, storage, bus)
	processor := queue.NewProcessor(config, logger, storage, bus, queueSvc, crawlSvc, tracker)
	cleanupSvc := cleanup.NewService(config, logger, storage)
	reportSvc := report.NewService(logger, storage)
	bundleSvc := bundle.NewService(config, logger, storage)

	wsHandler := handlers.NewWebSocketHandler(config, logger, storage, queueSvc)
	if err := wsHandler.RegisterEventHandlers(bus); err != nil {
		storage.Close()
		return nil, fmt.Errorf("failed to wire push channel: %w", err)
	}

	return &App{
		config:       config,
		logger:       logger,
		storage:      storage,
		events:       bus,
		tracker:      tracker,
		queue:        queueSvc,
		processor:    processor,
		cleanup:      cleanupSvc,
		apiHandler:   handlers.NewAPIHandler(config, logger),
		scanHandler:  handlers.NewScanHandler(config, logger, storage, validator, queueSvc, reportSvc, bundleSvc),
		statsHandler: handlers.NewStatsHandler(logger, storage, tracker),
		wsHandler:    wsHandler,
	}, nil
}

// Start recovers interrupted work and launches the background services
func (a *App) Start(ctx context.Context) error {
	// Scans left processing by a crash go back to the queue; their
	// checkpoints survive so they resume instead of restarting.
	requeued, err := a.storage.Scans().ResetProcessingToQueued(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover interrupted scans: %w", err)
	}
	if requeued > 0 {
		a.logger.Info().Int("requeued", requeued).Msg("Interrupted scans returned to queue")
	}

	a.tracker.Start(ctx, statsBroadcastInterval)
	a.processor.Start(ctx)
	if err := a.cleanup.Start(ctx); err != nil {
		return err
	}

	a.logger.Info().Msg("Application started")
	return nil
}

// Stop halts background services and releases storage
func (a *App) Stop() {
	a.processor.Stop()
	a.cleanup.Stop()
	a.tracker.Stop()

	if err := a.events.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to close event bus")
	}
	if err := a.storage.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to close storage")
	}

	a.logger.Info().Msg("Application stopped")
}

func (a *App) Config() *common.Config                        { return a.config }
func (a *App) Logger() arbor.ILogger                         { return a.logger }
func (a *App) APIHandler() *handlers.APIHandler              { return a.apiHandler }
func (a *App) ScanHandler() *handlers.ScanHandler            { return a.scanHandler }
func (a *App) StatsHandler() *handlers.StatsHandler          { return a.statsHandler }
func (a *App) WebSocketHandler() *handlers.WebSocketHandler  { return a.wsHandler }
