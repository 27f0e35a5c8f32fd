package models

// CrawlResult is the crawler's terminal summary for one scan. Image rows are
// persisted incrementally during the crawl; this carries only the page-level
// outcome.
type CrawlResult struct {
	PagesScanned     int
	PagesTotal       int
	ReachedPageLimit bool
	Warnings         []string // Pages skipped or truncated without failing the scan
	Resumed          bool     // True when the crawl continued from a checkpoint
}
