package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/optiscan/internal/common"
	"github.com/ternarybob/optiscan/internal/interfaces"
	"github.com/ternarybob/optiscan/internal/models"
	"github.com/ternarybob/optiscan/internal/services/savings"
	"github.com/ternarybob/optiscan/internal/services/stats"
)

// Processor drives the scan lifecycle: it polls the queue, runs scans
// through the crawler under the concurrency cap, and owns every terminal
// transition (completed, failed, timed out).
type Processor struct {
	config  *common.Config
	logger  arbor.ILogger
	storage interfaces.StorageManager
	events  interfaces.EventService
	queue   *Service
	crawler interfaces.CrawlerService
	tracker *stats.Tracker

	slots  chan struct{}
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewProcessor creates the scan processor
func NewProcessor(config *common.Config, logger arbor.ILogger, storage interfaces.StorageManager, events interfaces.EventService, queue *Service, crawler interfaces.CrawlerService, tracker *stats.Tracker) *Processor {
	concurrency := config.Queue.MaxConcurrentScans
	if concurrency < 1 {
		concurrency = 1
	}
	return &Processor{
		config:  config,
		logger:  logger,
		storage: storage,
		events:  events,
		queue:   queue,
		crawler: crawler,
		tracker: tracker,
		slots:   make(chan struct{}, concurrency),
	}
}

// Start launches the poll and aging loops
func (p *Processor) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(2)
	go p.pollLoop(ctx)
	go p.agingLoop(ctx)

	p.logger.Info().
		Int("max_concurrent", cap(p.slots)).
		Str("poll_interval", p.config.Queue.PollInterval).
		Msg("Scan processor started")
}

// Stop halts the loops and waits for in-flight scans to finish
func (p *Processor) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info().Msg("Scan processor stopped")
}

func (p *Processor) pollLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.Queue.PollIntervalDuration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drainQueue(ctx)
		}
	}
}

func (p *Processor) agingLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.Queue.AgingIntervalDuration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.queue.AgePriorities(ctx); err != nil {
				p.logger.Warn().Err(err).Msg("Queue aging pass failed")
			}
		}
	}
}

// drainQueue dequeues scans while concurrency slots are free
func (p *Processor) drainQueue(ctx context.Context) {
	for {
		select {
		case p.slots <- struct{}{}:
		default:
			return
		}

		scan, err := p.queue.Dequeue(ctx)
		if err != nil {
			<-p.slots
			p.logger.Error().Err(err).Msg("Failed to dequeue scan")
			return
		}
		if scan == nil {
			<-p.slots
			return
		}

		p.wg.Add(1)
		go func(scan *models.ScanJob) {
			defer p.wg.Done()
			defer func() { <-p.slots }()
			p.runScan(ctx, scan)
		}(scan)
	}
}

// runScan executes one scan to a terminal state. Panics from the browser
// layer are contained here so one crashed scan never takes down the
// processor.
func (p *Processor) runScan(ctx context.Context, scan *models.ScanJob) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Str("scan_id", scan.ID).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Scan panicked")
			p.failScan(ctx, scan, models.ErrCodeBrowserCrashed, fmt.Sprintf("scan aborted: %v", r))
		}
	}()

	p.logger.Info().
		Str("scan_id", scan.ID).
		Str("url", scan.URL).
		Msg("Scan started")

	p.tracker.StartScan(scan.ID)
	defer p.tracker.EndScan(scan.ID)

	started := time.Now().UTC()
	if scan.StartedAt != nil {
		started = *scan.StartedAt
	}
	if err := p.events.PublishSync(ctx, interfaces.Event{
		Type: interfaces.EventScanStarted,
		Payload: models.ScanStartedPayload{
			ScanID:    scan.ID,
			URL:       scan.URL,
			StartedAt: started,
		},
	}); err != nil {
		p.logger.Warn().Err(err).Str("scan_id", scan.ID).Msg("Failed to publish scan start")
	}

	scanCtx, cancel := context.WithTimeout(ctx, p.config.Crawler.MaxScanDuration)
	defer cancel()

	result, err := p.crawler.Crawl(scanCtx, scan)
	if err != nil {
		code := models.ErrorCodeOf(err)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(scanCtx.Err(), context.DeadlineExceeded) {
			code = models.ErrCodeTimeout
		} else if errors.Is(err, context.Canceled) {
			code = models.ErrCodeCancelled
		}
		p.failScan(ctx, scan, code, err.Error())
		return
	}

	p.completeScan(ctx, scan, result)
}

// completeScan persists the final counters, folds the scan into the
// aggregate stats and publishes ScanComplete
func (p *Processor) completeScan(ctx context.Context, scan *models.ScanJob, result *models.CrawlResult) {
	// Terminal bookkeeping must survive a cancelled scan context
	ctx = context.WithoutCancel(ctx)

	images, err := p.storage.Images().GetImagesByScan(ctx, scan.ID)
	if err != nil {
		p.logger.Error().Err(err).Str("scan_id", scan.ID).Msg("Failed to load scan images")
		p.failScan(ctx, scan, models.ErrCodeInternal, "failed to load discovered images")
		return
	}

	summary := savings.Summarize(images)
	now := time.Now().UTC()
	expires := now.Add(time.Duration(p.config.Retention.Hours) * time.Hour)

	scan.Status = models.ScanStatusCompleted
	scan.PagesScanned = result.PagesScanned
	scan.PagesTotal = result.PagesTotal
	scan.ImagesFound = summary.TotalImages
	scan.NonWebpImages = summary.NonWebpImages
	scan.TotalImageBytes = summary.TotalBytes
	scan.EstimatedSavings = summary.EstimatedSavings
	scan.ReachedPageLimit = result.ReachedPageLimit
	scan.Warnings = result.Warnings
	scan.CompletedAt = &now
	scan.ExpiresAt = &expires

	if err := p.storage.Scans().UpdateScan(ctx, scan); err != nil {
		p.logger.Error().Err(err).Str("scan_id", scan.ID).Msg("Failed to persist completed scan")
		return
	}

	if err := p.storage.Checkpoints().DeleteCheckpoint(ctx, scan.ID); err != nil {
		p.logger.Warn().Err(err).Str("scan_id", scan.ID).Msg("Failed to delete crawl checkpoint")
	}

	delta := stats.BuildScanDelta(result.PagesScanned, images)
	if err := p.storage.Stats().ApplyScanDelta(ctx, delta); err != nil {
		p.logger.Error().Err(err).Str("scan_id", scan.ID).Msg("Failed to apply scan stats delta")
	}

	if err := p.events.Publish(ctx, interfaces.Event{
		Type: interfaces.EventScanCompleted,
		Payload: models.ScanCompletePayload{
			ScanID:           scan.ID,
			PagesScanned:     scan.PagesScanned,
			ImagesFound:      scan.ImagesFound,
			NonWebpImages:    scan.NonWebpImages,
			TotalImageBytes:  scan.TotalImageBytes,
			EstimatedSavings: scan.EstimatedSavings,
			SavingsPercent:   summary.SavingsPercent,
			ReachedPageLimit: scan.ReachedPageLimit,
			CompletedAt:      now,
		},
	}); err != nil {
		p.logger.Warn().Err(err).Str("scan_id", scan.ID).Msg("Failed to publish scan completion")
	}

	p.queue.Complete(ctx, scan)

	p.logger.Info().
		Str("scan_id", scan.ID).
		Int("pages", scan.PagesScanned).
		Int("images", scan.ImagesFound).
		Int64("estimated_savings", scan.EstimatedSavings).
		Bool("reached_page_limit", scan.ReachedPageLimit).
		Msg("Scan completed")
}

// failScan records a terminal failure. Discovered images and counters are
// kept so a partial inventory remains queryable until retention expiry.
func (p *Processor) failScan(ctx context.Context, scan *models.ScanJob, code, message string) {
	ctx = context.WithoutCancel(ctx)

	now := time.Now().UTC()
	expires := now.Add(time.Duration(p.config.Retention.Hours) * time.Hour)

	scan.Status = models.ScanStatusFailed
	scan.Error = message
	scan.ErrorCode = code
	scan.CompletedAt = &now
	scan.ExpiresAt = &expires

	if err := p.storage.Scans().UpdateScan(ctx, scan); err != nil {
		p.logger.Error().Err(err).Str("scan_id", scan.ID).Msg("Failed to persist failed scan")
	}

	if err := p.events.Publish(ctx, interfaces.Event{
		Type: interfaces.EventScanFailed,
		Payload: models.ScanFailedPayload{
			ScanID:    scan.ID,
			Error:     message,
			ErrorCode: code,
		},
	}); err != nil {
		p.logger.Warn().Err(err).Str("scan_id", scan.ID).Msg("Failed to publish scan failure")
	}

	p.queue.Complete(ctx, scan)

	p.logger.Warn().
		Str("scan_id", scan.ID).
		Str("error_code", code).
		Str("error", message).
		Msg("Scan failed")
}
