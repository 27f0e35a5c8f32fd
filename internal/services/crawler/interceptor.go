package crawler

import (
	"net/url"
	"strings"
	"sync"

	"github.com/ternarybob/optiscan/internal/common"
	"github.com/ternarybob/optiscan/internal/models"
)

// responseCollector applies the interception policy to the stream of network
// events for one page: only image responses are kept, tracker domains are
// dropped, and per-response, per-page and request-count caps bound how much
// a hostile page can make the service account for.
type responseCollector struct {
	mu sync.Mutex

	cfg        *common.CrawlerConfig
	originHost string

	pending   map[string]*NetworkResponse
	collected []NetworkResponse
	seen      map[string]bool

	requests  int
	pageBytes int64

	docStatus     int64
	docURL        string
	requestCapHit bool
	sizeCapHit    bool
}

func newResponseCollector(cfg *common.CrawlerConfig, originHost string) *responseCollector {
	return &responseCollector{
		cfg:        cfg,
		originHost: strings.ToLower(originHost),
		pending:    make(map[string]*NetworkResponse),
		seen:       make(map[string]bool),
	}
}

// reset discards state from the previous page
func (c *responseCollector) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = make(map[string]*NetworkResponse)
	c.collected = nil
	c.seen = make(map[string]bool)
	c.requests = 0
	c.pageBytes = 0
	c.docStatus = 0
	c.docURL = ""
	c.requestCapHit = false
	c.sizeCapHit = false
}

// observeDocument records the main document response. The last document
// event wins, so redirects land on the final URL and status.
func (c *responseCollector) observeDocument(rawURL string, status int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docURL = rawURL
	c.docStatus = status
}

func (c *responseCollector) documentStatus() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.docStatus
}

func (c *responseCollector) documentURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.docURL
}

// truncationReasons reports which per-page caps fired while collecting
func (c *responseCollector) truncationReasons() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var reasons []string
	if c.sizeCapHit {
		reasons = append(reasons, models.ErrCodeSizeCap)
	}
	if c.requestCapHit {
		reasons = append(reasons, models.ErrCodeRequestCap)
	}
	return reasons
}

// observeResponse handles a response-received event. The response stays
// pending until loading finishes and the authoritative wire size is known.
func (c *responseCollector) observeResponse(requestID, rawURL, mimeType string, status int64, preliminarySize int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests++
	if c.cfg.MaxRequestsPerPage > 0 && c.requests > c.cfg.MaxRequestsPerPage {
		c.requestCapHit = true
		return
	}

	mime := models.NormalizeMimeType(mimeType)
	if !models.IsImageMimeType(mime) {
		return
	}
	if status >= 400 {
		return
	}
	if !c.hostAllowed(rawURL) {
		return
	}

	c.pending[requestID] = &NetworkResponse{
		URL:       rawURL,
		MimeType:  mime,
		SizeBytes: preliminarySize,
		Status:    status,
	}
}

// finishLoading commits a pending response with its final encoded size
func (c *responseCollector) finishLoading(requestID string, encodedBytes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp, ok := c.pending[requestID]
	if !ok {
		return
	}
	delete(c.pending, requestID)

	if encodedBytes > 0 {
		resp.SizeBytes = encodedBytes
	}
	if resp.SizeBytes <= 0 {
		return
	}
	if c.cfg.MaxResponseSize > 0 && resp.SizeBytes > c.cfg.MaxResponseSize {
		return
	}
	if c.cfg.MaxPageBytes > 0 && c.pageBytes+resp.SizeBytes > c.cfg.MaxPageBytes {
		c.sizeCapHit = true
		return
	}
	if c.seen[resp.URL] {
		return
	}

	c.seen[resp.URL] = true
	c.pageBytes += resp.SizeBytes
	c.collected = append(c.collected, *resp)
}

// snapshot returns the committed responses for the current page
func (c *responseCollector) snapshot() []NetworkResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]NetworkResponse, len(c.collected))
	copy(out, c.collected)
	return out
}

// hostAllowed applies the tracker blocklist and the off-origin image policy.
// With an empty allowlist any non-tracker host counts; a configured
// allowlist restricts off-origin images to the named CDN hosts.
func (c *responseCollector) hostAllowed(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return false
	}

	for _, blocked := range c.cfg.BlockedTrackerDomains {
		if hostMatches(host, blocked) {
			return false
		}
	}

	if host == c.originHost {
		return true
	}
	if len(c.cfg.AllowedImageHosts) == 0 {
		return true
	}
	for _, allowed := range c.cfg.AllowedImageHosts {
		if hostMatches(host, allowed) {
			return true
		}
	}
	return false
}

// hostMatches reports whether host equals domain or is a subdomain of it
func hostMatches(host, domain string) bool {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return false
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}
