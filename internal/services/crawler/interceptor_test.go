package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/optiscan/internal/common"
	"github.com/ternarybob/optiscan/internal/models"
)

func collectorConfig(mutate func(*common.CrawlerConfig)) *common.CrawlerConfig {
	cfg := common.NewDefaultConfig()
	if mutate != nil {
		mutate(&cfg.Crawler)
	}
	return &cfg.Crawler
}

func TestCollector_KeepsImageResponsesOnly(t *testing.T) {
	c := newResponseCollector(collectorConfig(nil), "example.com")

	c.observeResponse("1", "https://example.com/a.png", "image/png", 200, 0)
	c.observeResponse("2", "https://example.com/app.js", "application/javascript", 200, 0)
	c.observeResponse("3", "https://example.com/page", "text/html", 200, 0)
	c.finishLoading("1", 1000)
	c.finishLoading("2", 5000)
	c.finishLoading("3", 2000)

	got := c.snapshot()
	assert.Len(t, got, 1)
	assert.Equal(t, "https://example.com/a.png", got[0].URL)
	assert.Equal(t, int64(1000), got[0].SizeBytes)
}

func TestCollector_NormalizesMimeAndUsesWireSize(t *testing.T) {
	c := newResponseCollector(collectorConfig(nil), "example.com")

	c.observeResponse("1", "https://example.com/a.png", "Image/PNG; charset=binary", 200, 900)
	c.finishLoading("1", 1234)

	got := c.snapshot()
	assert.Len(t, got, 1)
	assert.Equal(t, "image/png", got[0].MimeType)
	assert.Equal(t, int64(1234), got[0].SizeBytes)
}

func TestCollector_DropsErrorResponses(t *testing.T) {
	c := newResponseCollector(collectorConfig(nil), "example.com")

	c.observeResponse("1", "https://example.com/missing.png", "image/png", 404, 0)
	c.finishLoading("1", 500)

	assert.Empty(t, c.snapshot())
}

func TestCollector_DropsTrackerDomains(t *testing.T) {
	c := newResponseCollector(collectorConfig(nil), "example.com")

	c.observeResponse("1", "https://www.google-analytics.com/collect.gif", "image/gif", 200, 0)
	c.finishLoading("1", 35)

	assert.Empty(t, c.snapshot())
}

func TestCollector_OffOriginAllowlist(t *testing.T) {
	c := newResponseCollector(collectorConfig(func(cfg *common.CrawlerConfig) {
		cfg.AllowedImageHosts = []string{"cdn.example.net"}
	}), "example.com")

	c.observeResponse("1", "https://cdn.example.net/a.png", "image/png", 200, 0)
	c.observeResponse("2", "https://elsewhere.example.org/b.png", "image/png", 200, 0)
	c.observeResponse("3", "https://example.com/c.png", "image/png", 200, 0)
	c.finishLoading("1", 100)
	c.finishLoading("2", 100)
	c.finishLoading("3", 100)

	got := c.snapshot()
	assert.Len(t, got, 2)
}

func TestCollector_EnforcesByteCaps(t *testing.T) {
	c := newResponseCollector(collectorConfig(func(cfg *common.CrawlerConfig) {
		cfg.MaxResponseSize = 1000
		cfg.MaxPageBytes = 1500
	}), "example.com")

	c.observeResponse("1", "https://example.com/huge.png", "image/png", 200, 0)
	c.finishLoading("1", 2000) // over per-response cap

	c.observeResponse("2", "https://example.com/a.png", "image/png", 200, 0)
	c.finishLoading("2", 900)

	c.observeResponse("3", "https://example.com/b.png", "image/png", 200, 0)
	c.finishLoading("3", 900) // would breach the page cap

	got := c.snapshot()
	assert.Len(t, got, 1)
	assert.Equal(t, "https://example.com/a.png", got[0].URL)
	assert.Equal(t, []string{models.ErrCodeSizeCap}, c.truncationReasons())
}

func TestCollector_EnforcesRequestCap(t *testing.T) {
	c := newResponseCollector(collectorConfig(func(cfg *common.CrawlerConfig) {
		cfg.MaxRequestsPerPage = 1
	}), "example.com")

	c.observeResponse("1", "https://example.com/a.png", "image/png", 200, 0)
	c.observeResponse("2", "https://example.com/b.png", "image/png", 200, 0)
	c.finishLoading("1", 100)
	c.finishLoading("2", 100)

	got := c.snapshot()
	assert.Len(t, got, 1)
	assert.Equal(t, []string{models.ErrCodeRequestCap}, c.truncationReasons())
}

func TestCollector_NoTruncationUnderCaps(t *testing.T) {
	c := newResponseCollector(collectorConfig(nil), "example.com")

	c.observeResponse("1", "https://example.com/a.png", "image/png", 200, 0)
	c.finishLoading("1", 100)

	assert.Empty(t, c.truncationReasons())
}

func TestCollector_TracksDocumentResponse(t *testing.T) {
	c := newResponseCollector(collectorConfig(nil), "example.com")

	c.observeDocument("https://example.com/account", 302)
	c.observeDocument("https://example.com/login", 200)

	assert.Equal(t, int64(200), c.documentStatus())
	assert.Equal(t, "https://example.com/login", c.documentURL())

	c.reset()
	assert.Zero(t, c.documentStatus())
	assert.Empty(t, c.documentURL())
	assert.Empty(t, c.truncationReasons())
}

func TestCollector_DedupesWithinPage(t *testing.T) {
	c := newResponseCollector(collectorConfig(nil), "example.com")

	c.observeResponse("1", "https://example.com/a.png", "image/png", 200, 0)
	c.observeResponse("2", "https://example.com/a.png", "image/png", 200, 0)
	c.finishLoading("1", 100)
	c.finishLoading("2", 100)

	assert.Len(t, c.snapshot(), 1)
}

func TestCollector_ResetClearsState(t *testing.T) {
	c := newResponseCollector(collectorConfig(nil), "example.com")

	c.observeResponse("1", "https://example.com/a.png", "image/png", 200, 0)
	c.finishLoading("1", 100)
	c.reset()

	assert.Empty(t, c.snapshot())

	// The same URL counts again on the next page
	c.observeResponse("2", "https://example.com/a.png", "image/png", 200, 0)
	c.finishLoading("2", 100)
	assert.Len(t, c.snapshot(), 1)
}
