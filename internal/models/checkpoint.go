package models

import (
	"time"
)

// CrawlCheckpoint captures resumable crawl state. Written every few pages so
// an interrupted scan restarts without revisiting completed pages.
type CrawlCheckpoint struct {
	ScanID       string    `json:"scan_id"`
	VisitedURLs  []string  `json:"visited_urls"`
	PendingURLs  []string  `json:"pending_urls"` // BFS frontier in order, current page first
	PagesScanned int       `json:"pages_scanned"`
	UpdatedAt    time.Time `json:"updated_at"`
}
