package crawler

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/optiscan/internal/common"
)

// chromeSession drives one headless Chrome instance for the lifetime of a
// scan. All pages of the scan share the browser; each Navigate reuses the
// tab so cookies and cache behave like a real visit.
type chromeSession struct {
	cfg       *common.CrawlerConfig
	logger    arbor.ILogger
	collector *responseCollector

	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
}

// NewChromeSessionFactory returns the production SessionFactory backed by a
// headless Chrome launched per scan
func NewChromeSessionFactory(cfg *common.CrawlerConfig, logger arbor.ILogger) SessionFactory {
	return func(ctx context.Context, originHost string) (PageSession, error) {
		return newChromeSession(ctx, cfg, logger, originHost)
	}
}

func newChromeSession(ctx context.Context, cfg *common.CrawlerConfig, logger arbor.ILogger, originHost string) (*chromeSession, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(cfg.UserAgent),
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	s := &chromeSession{
		cfg:           cfg,
		logger:        logger,
		collector:     newResponseCollector(cfg, originHost),
		browserCtx:    browserCtx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
	}

	chromedp.ListenTarget(browserCtx, s.handleEvent)

	if err := chromedp.Run(browserCtx, network.Enable()); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	return s, nil
}

// handleEvent feeds network events into the interception policy. Response
// metadata arrives first; the final wire size only with loading-finished.
func (s *chromeSession) handleEvent(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventResponseReceived:
		if e.Type == network.ResourceTypeDocument {
			s.collector.observeDocument(e.Response.URL, e.Response.Status)
		}
		s.collector.observeResponse(
			string(e.RequestID),
			e.Response.URL,
			e.Response.MimeType,
			e.Response.Status,
			int64(e.Response.EncodedDataLength),
		)
	case *network.EventLoadingFinished:
		s.collector.finishLoading(string(e.RequestID), int64(e.EncodedDataLength))
	}
}

func (s *chromeSession) Navigate(ctx context.Context, pageURL string) error {
	s.collector.reset()

	navCtx, cancel := context.WithTimeout(s.browserCtx, s.cfg.PageTimeout)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-navCtx.Done():
		}
	}()

	if err := chromedp.Run(navCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body"),
	); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", pageURL, err)
	}

	// Give in-flight image requests a bounded window to settle
	if s.cfg.NetworkIdleWait > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.NetworkIdleWait):
		}
	}

	return nil
}

// ScrollUntilIdle steps through the page height to trigger lazy loading,
// stopping once the scroll position stops advancing
func (s *chromeSession) ScrollUntilIdle(ctx context.Context) error {
	scrollCtx, cancel := context.WithTimeout(s.browserCtx, s.cfg.PageTimeout)
	defer cancel()

	var lastY float64 = -1
	for i := 0; i < 20; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var y float64
		err := chromedp.Run(scrollCtx,
			chromedp.Evaluate(`window.scrollBy(0, window.innerHeight); window.scrollY`, &y),
		)
		if err != nil {
			return fmt.Errorf("scroll failed: %w", err)
		}
		if y == lastY {
			break
		}
		lastY = y

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.ScrollSettleWait):
		}
	}

	return chromedp.Run(scrollCtx, chromedp.Evaluate(`window.scrollTo(0, 0)`, nil))
}

func (s *chromeSession) ExtractLinks(ctx context.Context) ([]string, error) {
	extractCtx, cancel := context.WithTimeout(s.browserCtx, s.cfg.PageTimeout)
	defer cancel()

	var html string
	if err := chromedp.Run(extractCtx, chromedp.OuterHTML("html", &html)); err != nil {
		return nil, fmt.Errorf("failed to read page html: %w", err)
	}
	return extractHrefs(html)
}

func (s *chromeSession) Responses() []NetworkResponse {
	return s.collector.snapshot()
}

func (s *chromeSession) DocumentStatus() int64 {
	return s.collector.documentStatus()
}

func (s *chromeSession) CurrentURL() string {
	return s.collector.documentURL()
}

func (s *chromeSession) Truncated() []string {
	return s.collector.truncationReasons()
}

func (s *chromeSession) Close() error {
	s.cancelBrowser()
	s.cancelAlloc()
	return nil
}
