package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/optiscan/internal/common"
	"github.com/ternarybob/optiscan/internal/interfaces"
	"github.com/ternarybob/optiscan/internal/models"
	"github.com/ternarybob/optiscan/internal/services/savings"
	"github.com/ternarybob/optiscan/internal/services/stats"
)

// hostValidator vets a hostname immediately before the browser connects.
// Resolution must be fresh on every call: a DNS record that changed after
// admission is the rebinding attack this guards against.
type hostValidator interface {
	ValidateHostForConnect(ctx context.Context, host string) error
}

// Service crawls a target site breadth-first through a headless browser,
// inventorying every image response it observes on the wire.
type Service struct {
	config    *common.Config
	logger    arbor.ILogger
	storage   interfaces.StorageManager
	events    interfaces.EventService
	validator hostValidator
	tracker   *stats.Tracker

	newSession SessionFactory
}

// NewService creates the crawler with the production Chrome session factory
func NewService(config *common.Config, logger arbor.ILogger, storage interfaces.StorageManager, events interfaces.EventService, validator hostValidator, tracker *stats.Tracker) *Service {
	return &Service{
		config:     config,
		logger:     logger,
		storage:    storage,
		events:     events,
		validator:  validator,
		tracker:    tracker,
		newSession: NewChromeSessionFactory(&config.Crawler, logger),
	}
}

// crawlState is the mutable progress of one crawl
type crawlState struct {
	scan         *models.ScanJob
	origin       *url.URL
	visited      map[string]bool
	frontier     []string
	seenImages   map[string]bool
	pagesScanned int
	nonWebp      int
	warnings     []string
	resumed      bool
}

// addWarning records a per-page condition on the scan without failing it
func (st *crawlState) addWarning(reason, pageURL string) {
	st.warnings = append(st.warnings, fmt.Sprintf("%s: %s", reason, pageURL))
}

// Crawl walks the scan target up to the page limit. Image rows are persisted
// as they are discovered; the scan row's counters are updated after every
// page so progress survives a crash and feeds the reconnect snapshot.
func (s *Service) Crawl(ctx context.Context, scan *models.ScanJob) (*models.CrawlResult, error) {
	origin, err := url.Parse(scan.URL)
	if err != nil {
		return nil, models.NewScanError(models.ErrCodeNavigationFailed, "target url is not parseable", err)
	}

	state, err := s.restoreState(ctx, scan, origin)
	if err != nil {
		return nil, err
	}

	session, err := s.newSession(ctx, origin.Hostname())
	if err != nil {
		return nil, models.NewScanError(models.ErrCodeBrowserCrashed, "failed to start browser", err)
	}
	defer session.Close()

	var robots *robotsRules
	if s.config.Crawler.FollowRobotsTxt {
		robots = fetchRobotsRules(ctx, origin, s.config.Crawler.UserAgent)
	} else {
		robots = &robotsRules{}
	}

	maxPages := s.config.Crawler.MaxPagesPerScan
	for len(state.frontier) > 0 && state.pagesScanned < maxPages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pageURL := state.frontier[0]
		state.frontier = state.frontier[1:]
		if state.visited[pageURL] {
			continue
		}

		if err := s.crawlPage(ctx, state, session, robots, pageURL); err != nil {
			return nil, err
		}

		if robots.crawlDelay > 0 && len(state.frontier) > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(robots.crawlDelay):
			}
		}
	}

	reachedLimit := len(state.frontier) > 0 && state.pagesScanned >= maxPages

	return &models.CrawlResult{
		PagesScanned:     state.pagesScanned,
		PagesTotal:       state.pagesTotal(maxPages),
		ReachedPageLimit: reachedLimit,
		Warnings:         state.warnings,
		Resumed:          state.resumed,
	}, nil
}

// crawlPage processes one page: fresh DNS vetting, navigation, lazy-load
// scroll, image collection and frontier expansion
func (s *Service) crawlPage(ctx context.Context, state *crawlState, session PageSession, robots *robotsRules, pageURL string) error {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		state.visited[pageURL] = true
		return nil
	}

	if !robots.allowed(parsed.Path) {
		s.logger.Debug().Str("url", pageURL).Msg("Page disallowed by robots.txt")
		state.visited[pageURL] = true
		return nil
	}

	// Fresh resolution before every navigation. Only the entry page failing
	// vetting fails the scan; a rebind on a deeper page skips that page with
	// a warning and the crawl continues.
	if err := s.validator.ValidateHostForConnect(ctx, parsed.Hostname()); err != nil {
		if state.pagesScanned == 0 && !state.resumed {
			return err
		}
		s.logger.Warn().Err(err).Str("url", pageURL).Msg("Host vetting failed mid-crawl, skipping page")
		state.addWarning(models.ErrCodeURLBlockedHost, pageURL)
		state.visited[pageURL] = true
		return nil
	}

	if err := navigateWithRetry(ctx, session, pageURL, &s.config.Crawler, s.logger); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		// The entry page failing means the site is unreachable; deeper
		// pages failing just narrows the crawl.
		if state.pagesScanned == 0 && !state.resumed {
			return models.NewScanError(models.ErrCodeNavigationFailed,
				fmt.Sprintf("failed to load %s", pageURL), err)
		}
		s.logger.Warn().Err(err).Str("url", pageURL).Msg("Skipping unreachable page")
		state.visited[pageURL] = true
		return nil
	}

	// Authentication-walled pages contribute no images and their links are
	// never enqueued. Other 4xx pages are deterministic failures and skip
	// without a second attempt.
	docStatus := session.DocumentStatus()
	if docStatus == 401 || docStatus == 403 || isLoginRedirect(pageURL, session.CurrentURL()) {
		s.logger.Debug().Str("url", pageURL).Int64("status", docStatus).Msg("Page requires authentication, skipping")
		state.addWarning(models.ErrCodeAuthRequired, pageURL)
		state.visited[pageURL] = true
		return nil
	}
	if docStatus >= 400 && docStatus < 500 {
		if state.pagesScanned == 0 && !state.resumed {
			return models.NewScanError(models.ErrCodeNavigationFailed,
				fmt.Sprintf("entry page returned %d", docStatus), nil)
		}
		s.logger.Debug().Str("url", pageURL).Int64("status", docStatus).Msg("Skipping page with client error status")
		state.visited[pageURL] = true
		return nil
	}

	if err := session.ScrollUntilIdle(ctx); err != nil && ctx.Err() != nil {
		return err
	}

	for _, resp := range session.Responses() {
		if err := s.recordImage(ctx, state, pageURL, resp); err != nil {
			s.logger.Warn().Err(err).Str("image_url", resp.URL).Msg("Failed to record image")
		}
	}
	for _, reason := range session.Truncated() {
		s.logger.Warn().Str("url", pageURL).Str("reason", reason).Msg("Page collection truncated by cap")
		state.addWarning(reason, pageURL)
	}

	links, err := session.ExtractLinks(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Str("url", pageURL).Msg("Failed to extract links")
	}
	for _, href := range links {
		normalized, ok := normalizeSameOrigin(parsed, state.origin, href)
		if !ok || state.visited[normalized] {
			continue
		}
		if containsURL(state.frontier, normalized) {
			continue
		}
		state.frontier = append(state.frontier, normalized)
	}

	state.visited[pageURL] = true
	state.pagesScanned++

	if err := s.persistProgress(ctx, state); err != nil {
		s.logger.Warn().Err(err).Str("scan_id", state.scan.ID).Msg("Failed to persist crawl progress")
	}

	s.tracker.UpdatePages(state.scan.ID, state.pagesScanned)
	if err := s.events.Publish(ctx, interfaces.Event{
		Type: interfaces.EventPageProgress,
		Payload: models.PageProgressPayload{
			ScanID:       state.scan.ID,
			PageURL:      pageURL,
			PagesScanned: state.pagesScanned,
			PagesTotal:   state.pagesTotal(s.config.Crawler.MaxPagesPerScan),
			ImagesFound:  len(state.seenImages),
		},
	}); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to publish page progress")
	}

	interval := s.config.Crawler.CheckpointIntervalPages
	if interval > 0 && state.pagesScanned%interval == 0 {
		s.saveCheckpoint(ctx, state)
	}

	return nil
}

// recordImage persists one intercepted image response. Repeat sightings of
// the same URL accumulate page references instead of new rows.
func (s *Service) recordImage(ctx context.Context, state *crawlState, pageURL string, resp NetworkResponse) error {
	mime := models.NormalizeMimeType(resp.MimeType)
	firstSighting := !state.seenImages[resp.URL]

	image := &models.DiscoveredImage{
		ScanID:    state.scan.ID,
		URL:       resp.URL,
		MimeType:  mime,
		SizeBytes: resp.SizeBytes,
		PageURLs:  []string{pageURL},
		Category:  models.CategorizeImageURL(resp.URL),
		IsWebP:    mime == "image/webp",
		Savings:   savings.EstimateSavings(mime, resp.SizeBytes),
		CreatedAt: time.Now().UTC(),
	}

	if err := s.storage.Images().UpsertImage(ctx, image); err != nil {
		return err
	}
	if !firstSighting {
		return nil
	}
	state.seenImages[resp.URL] = true
	if !image.IsWebP {
		state.nonWebp++
	}

	s.tracker.AddImage(state.scan.ID, image.MimeType, image.Category, image.SizeBytes, image.Savings)
	if err := s.events.Publish(ctx, interfaces.Event{
		Type: interfaces.EventImageFound,
		Payload: models.ImageFoundPayload{
			ScanID:            state.scan.ID,
			URL:               image.URL,
			PageURL:           pageURL,
			MimeType:          image.MimeType,
			SizeBytes:         image.SizeBytes,
			Category:          image.Category,
			IsWebP:            image.IsWebP,
			Savings:           image.Savings,
			TotalNonWebpCount: state.nonWebp,
		},
	}); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to publish image discovery")
	}

	return nil
}

// restoreState builds the crawl state, resuming from a checkpoint when one
// survives a restart
func (s *Service) restoreState(ctx context.Context, scan *models.ScanJob, origin *url.URL) (*crawlState, error) {
	state := &crawlState{
		scan:       scan,
		origin:     origin,
		visited:    make(map[string]bool),
		seenImages: make(map[string]bool),
	}

	cp, err := s.storage.Checkpoints().GetCheckpoint(ctx, scan.ID)
	switch {
	case err == nil:
		state.resumed = true
		state.pagesScanned = cp.PagesScanned
		for _, u := range cp.VisitedURLs {
			state.visited[u] = true
		}
		state.frontier = append(state.frontier, cp.PendingURLs...)

		images, err := s.storage.Images().GetImagesByScan(ctx, scan.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload scan images: %w", err)
		}
		for _, img := range images {
			state.seenImages[img.URL] = true
			if !img.IsWebP {
				state.nonWebp++
			}
		}
		state.warnings = append(state.warnings, scan.Warnings...)

		s.logger.Info().
			Str("scan_id", scan.ID).
			Int("pages_done", cp.PagesScanned).
			Int("pending", len(cp.PendingURLs)).
			Msg("Resuming crawl from checkpoint")
	case errors.Is(err, models.ErrCheckpointNotFound):
		state.frontier = []string{canonicalURL(origin)}
	default:
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	return state, nil
}

func (s *Service) saveCheckpoint(ctx context.Context, state *crawlState) {
	visited := make([]string, 0, len(state.visited))
	for u := range state.visited {
		visited = append(visited, u)
	}

	cp := &models.CrawlCheckpoint{
		ScanID:       state.scan.ID,
		VisitedURLs:  visited,
		PendingURLs:  append([]string(nil), state.frontier...),
		PagesScanned: state.pagesScanned,
		UpdatedAt:    time.Now().UTC(),
	}
	if err := s.storage.Checkpoints().SaveCheckpoint(ctx, cp); err != nil {
		s.logger.Warn().Err(err).Str("scan_id", state.scan.ID).Msg("Failed to save crawl checkpoint")
		return
	}
	s.logger.Debug().
		Str("scan_id", state.scan.ID).
		Int("pages", state.pagesScanned).
		Msg("Crawl checkpoint saved")
}

// persistProgress writes the scan row's live counters after each page
func (s *Service) persistProgress(ctx context.Context, state *crawlState) error {
	images, err := s.storage.Images().GetImagesByScan(ctx, state.scan.ID)
	if err != nil {
		return err
	}
	summary := savings.Summarize(images)

	state.scan.PagesScanned = state.pagesScanned
	state.scan.PagesTotal = state.pagesTotal(s.config.Crawler.MaxPagesPerScan)
	state.scan.ImagesFound = summary.TotalImages
	state.scan.NonWebpImages = summary.NonWebpImages
	state.scan.TotalImageBytes = summary.TotalBytes
	state.scan.EstimatedSavings = summary.EstimatedSavings
	state.scan.Warnings = state.warnings

	return s.storage.Scans().UpdateScan(ctx, state.scan)
}

// pagesTotal is the discovered page count (visited plus frontier), capped at
// the scan's page limit
func (st *crawlState) pagesTotal(maxPages int) int {
	total := st.pagesScanned + len(st.frontier)
	if total > maxPages {
		return maxPages
	}
	return total
}

func containsURL(list []string, u string) bool {
	for _, v := range list {
		if v == u {
			return true
		}
	}
	return false
}
