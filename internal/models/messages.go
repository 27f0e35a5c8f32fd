package models

import (
	"encoding/json"
	"time"
)

// WSMessage is the JSON envelope for all WebSocket traffic
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Server-to-client message types
const (
	MsgQueuePositionUpdate = "QueuePositionUpdate"
	MsgScanStarted         = "ScanStarted"
	MsgPageProgress        = "PageProgress"
	MsgImageFound          = "ImageFound"
	MsgScanComplete        = "ScanComplete"
	MsgScanFailed          = "ScanFailed"
	MsgStatsUpdate         = "StatsUpdate"
	MsgProgressSnapshot    = "ProgressSnapshot"
)

// Client-to-server message types
const (
	MsgSubscribeToScan     = "SubscribeToScan"
	MsgUnsubscribeFromScan = "UnsubscribeFromScan"
	MsgGetCurrentProgress  = "GetCurrentProgress"
)

// ClientMessage is the decoded client-to-server request
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ScanRef identifies the scan a client message refers to
type ScanRef struct {
	ScanID string `json:"scan_id"`
}

// QueuePositionPayload notifies a queued submitter their position changed
type QueuePositionPayload struct {
	ScanID               string `json:"scan_id"`
	Position             int    `json:"position"`
	EstimatedWaitSeconds int64  `json:"estimated_wait_seconds"`
}

// ScanStartedPayload announces a scan leaving the queue
type ScanStartedPayload struct {
	ScanID    string    `json:"scan_id"`
	URL       string    `json:"url"`
	StartedAt time.Time `json:"started_at"`
}

// PageProgressPayload carries per-page crawl progress
type PageProgressPayload struct {
	ScanID       string `json:"scan_id"`
	PageURL      string `json:"page_url"`
	PagesScanned int    `json:"pages_scanned"`
	PagesTotal   int    `json:"pages_total"`
	ImagesFound  int    `json:"images_found"`
}

// ImageFoundPayload announces a newly discovered image
type ImageFoundPayload struct {
	ScanID            string `json:"scan_id"`
	URL               string `json:"url"`
	PageURL           string `json:"page_url"` // Page the image was first seen on
	MimeType          string `json:"mime_type"`
	SizeBytes         int64  `json:"size_bytes"`
	Category          string `json:"category"`
	IsWebP            bool   `json:"is_webp"`
	Savings           int64  `json:"estimated_savings_bytes"`
	TotalNonWebpCount int    `json:"total_non_webp_count"` // Running non-WebP count for the scan
}

// ScanCompletePayload carries the final scan summary
type ScanCompletePayload struct {
	ScanID           string    `json:"scan_id"`
	PagesScanned     int       `json:"pages_scanned"`
	ImagesFound      int       `json:"images_found"`
	NonWebpImages    int       `json:"non_webp_images"`
	TotalImageBytes  int64     `json:"total_image_bytes"`
	EstimatedSavings int64     `json:"estimated_savings_bytes"`
	SavingsPercent   float64   `json:"savings_percent"`
	ReachedPageLimit bool      `json:"reached_page_limit"`
	CompletedAt      time.Time `json:"completed_at"`
}

// ScanFailedPayload carries a terminal failure
type ScanFailedPayload struct {
	ScanID    string `json:"scan_id"`
	Error     string `json:"error"`
	ErrorCode string `json:"error_code"`
}

// ProgressSnapshot is the authoritative resync response to GetCurrentProgress.
// A reconnecting client replaces all locally accumulated state with it.
type ProgressSnapshot struct {
	ScanID           string     `json:"scan_id"`
	Status           ScanStatus `json:"status"`
	QueuePosition    int        `json:"queue_position,omitempty"`
	PagesScanned     int        `json:"pages_scanned"`
	PagesTotal       int        `json:"pages_total"`
	ImagesFound      int        `json:"images_found"`
	NonWebpImages    int        `json:"non_webp_images"`
	TotalImageBytes  int64      `json:"total_image_bytes"`
	EstimatedSavings int64      `json:"estimated_savings_bytes"`
	ReachedPageLimit bool       `json:"reached_page_limit"`
	Error            string     `json:"error,omitempty"`
	ErrorCode        string     `json:"error_code,omitempty"`
}
