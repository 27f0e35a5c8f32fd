package stats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/optiscan/internal/common"
	"github.com/ternarybob/optiscan/internal/interfaces"
	"github.com/ternarybob/optiscan/internal/models"
)

// scanCounters accumulates in-flight progress for one active scan. Counters
// move into the persisted aggregate when the scan reaches a terminal state.
type scanCounters struct {
	pages      int64
	images     int64
	imageBytes int64
	savings    int64
	byMime     map[string]*models.MimeTypeStats
	byCategory map[string]*models.CategoryStats
}

func newScanCounters() *scanCounters {
	return &scanCounters{
		byMime:     make(map[string]*models.MimeTypeStats),
		byCategory: make(map[string]*models.CategoryStats),
	}
}

// Tracker merges persisted aggregate totals with live counters from active
// scans, and pushes a periodic StatsUpdate to all connected clients.
type Tracker struct {
	config  *common.Config
	logger  arbor.ILogger
	storage interfaces.StorageManager
	events  interfaces.EventService

	mu     sync.RWMutex
	active map[string]*scanCounters

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewTracker creates the live stats tracker
func NewTracker(config *common.Config, logger arbor.ILogger, storage interfaces.StorageManager, events interfaces.EventService) *Tracker {
	return &Tracker{
		config:  config,
		logger:  logger,
		storage: storage,
		events:  events,
		active:  make(map[string]*scanCounters),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// StartScan registers a scan as active
func (t *Tracker) StartScan(scanID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active[scanID] = newScanCounters()
}

// UpdatePages records the current page count for an active scan
func (t *Tracker) UpdatePages(scanID string, pages int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.active[scanID]; ok {
		c.pages = int64(pages)
	}
}

// AddImage records a newly discovered image for an active scan, including
// its MIME-type and category breakdown contribution
func (t *Tracker) AddImage(scanID, mimeType, category string, sizeBytes, savings int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.active[scanID]
	if !ok {
		return
	}

	c.images++
	c.imageBytes += sizeBytes
	c.savings += savings

	m, ok := c.byMime[mimeType]
	if !ok {
		m = &models.MimeTypeStats{MimeType: mimeType}
		c.byMime[mimeType] = m
	}
	m.ImageCount++
	m.TotalBytes += sizeBytes
	m.EstimatedSavings += savings

	cat, ok := c.byCategory[category]
	if !ok {
		cat = &models.CategoryStats{Category: category}
		c.byCategory[category] = cat
	}
	cat.ImageCount++
	cat.TotalBytes += sizeBytes
}

// EndScan removes a scan from the active set. Its contribution now lives in
// the persisted aggregate (or is discarded for failed scans).
func (t *Tracker) EndScan(scanID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, scanID)
}

// CombinedLive builds the live stats view: persisted lifetime totals plus
// the in-flight counters of active scans. The breakdown maps fold the live
// contribution into the persisted per-MIME and per-category rows.
func (t *Tracker) CombinedLive(ctx context.Context) (*models.LiveStats, error) {
	aggregate, err := t.storage.Stats().GetAggregateStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load aggregate stats: %w", err)
	}

	queued, err := t.storage.Scans().QueuedCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count queued scans: %w", err)
	}

	byMime, err := t.storage.Stats().GetMimeTypeStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load mime type stats: %w", err)
	}
	byCategory, err := t.storage.Stats().GetCategoryStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load category stats: %w", err)
	}

	live := &models.LiveStats{
		AggregateStats: *aggregate,
		QueuedScans:    queued,
		ByMimeType:     make(map[string]models.MimeTypeStats, len(byMime)),
		ByCategory:     make(map[string]models.CategoryStats, len(byCategory)),
	}
	for _, row := range byMime {
		live.ByMimeType[row.MimeType] = *row
	}
	for _, row := range byCategory {
		live.ByCategory[row.Category] = *row
	}

	t.mu.RLock()
	live.ActiveScans = len(t.active)
	for _, c := range t.active {
		live.InFlightPages += c.pages
		live.InFlightImages += c.images
		live.InFlightImageBytes += c.imageBytes
		live.InFlightSavings += c.savings

		for mime, m := range c.byMime {
			merged := live.ByMimeType[mime]
			merged.MimeType = mime
			merged.ImageCount += m.ImageCount
			merged.TotalBytes += m.TotalBytes
			merged.EstimatedSavings += m.EstimatedSavings
			live.ByMimeType[mime] = merged
		}
		for category, cat := range c.byCategory {
			merged := live.ByCategory[category]
			merged.Category = category
			merged.ImageCount += cat.ImageCount
			merged.TotalBytes += cat.TotalBytes
			live.ByCategory[category] = merged
		}
	}
	t.mu.RUnlock()

	return live, nil
}

// Start launches the periodic StatsUpdate broadcast loop
func (t *Tracker) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	go func() {
		defer close(t.doneCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-t.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.broadcast(ctx)
			}
		}
	}()
}

// Stop halts the broadcast loop
func (t *Tracker) Stop() {
	close(t.stopCh)
	<-t.doneCh
}

func (t *Tracker) broadcast(ctx context.Context) {
	live, err := t.CombinedLive(ctx)
	if err != nil {
		t.logger.Warn().Err(err).Msg("Failed to build live stats")
		return
	}
	if err := t.events.Publish(ctx, interfaces.Event{
		Type:    interfaces.EventStatsUpdated,
		Payload: live,
	}); err != nil {
		t.logger.Warn().Err(err).Msg("Failed to publish stats update")
	}
}
