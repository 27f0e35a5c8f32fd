package crawler

import (
	"context"
)

// NetworkResponse is one intercepted network response. Sizes come from the
// browser's loading-finished event, so they reflect bytes on the wire rather
// than decoded pixels.
type NetworkResponse struct {
	URL       string
	MimeType  string
	SizeBytes int64
	Status    int64
}

// PageSession is one browser session scoped to a single scan. Navigate is
// called once per page; the session accumulates intercepted image responses
// between calls and hands them over via Responses.
type PageSession interface {
	// Navigate loads a page and waits for the document to be ready.
	// Responses collected for the previous page are discarded.
	Navigate(ctx context.Context, pageURL string) error
	// ScrollUntilIdle scrolls through the page to trigger lazy-loaded images
	ScrollUntilIdle(ctx context.Context) error
	// ExtractLinks returns the raw href values present in the rendered DOM
	ExtractLinks(ctx context.Context) ([]string, error)
	// Responses returns the image responses intercepted since Navigate
	Responses() []NetworkResponse
	// DocumentStatus returns the HTTP status of the last document response,
	// 0 when none was observed
	DocumentStatus() int64
	// CurrentURL returns the document URL after redirects
	CurrentURL() string
	// Truncated returns the cap conditions hit while collecting the page
	Truncated() []string
	Close() error
}

// SessionFactory opens a browser session for one scan. Tests substitute a
// scripted session; production uses the Chrome factory.
type SessionFactory func(ctx context.Context, originHost string) (PageSession, error)
