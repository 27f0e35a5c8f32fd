package models

import (
	"time"
)

// ScanStatus represents the lifecycle state of a scan job
type ScanStatus string

const (
	ScanStatusQueued     ScanStatus = "queued"
	ScanStatusProcessing ScanStatus = "processing"
	ScanStatusCompleted  ScanStatus = "completed"
	ScanStatusFailed     ScanStatus = "failed"
	ScanStatusCancelled  ScanStatus = "cancelled"
)

// IsTerminal returns true for states that never transition again
func (s ScanStatus) IsTerminal() bool {
	return s == ScanStatusCompleted || s == ScanStatusFailed || s == ScanStatusCancelled
}

// ScanJob represents a single website scan request and its accumulated results
type ScanJob struct {
	ID              string     `json:"id"`
	URL             string     `json:"url"`
	Email           string     `json:"email,omitempty"`
	SubmitterIP     string     `json:"submitter_ip"`
	Status          ScanStatus `json:"status"`
	PriorityScore   int64      `json:"priority_score"`
	SubmissionCount int        `json:"submission_count"` // This scan plus the IP's queued-or-processing scans at admission
	Error           string     `json:"error,omitempty"`
	ErrorCode       string     `json:"error_code,omitempty"`

	// Crawl counters, updated as pages complete
	PagesScanned     int   `json:"pages_scanned"`
	PagesTotal       int   `json:"pages_total"` // Discovered so far (visited + pending), capped at the page limit
	ImagesFound      int   `json:"images_found"`
	NonWebpImages    int   `json:"non_webp_images"`
	TotalImageBytes  int64 `json:"total_image_bytes"`
	EstimatedSavings int64 `json:"estimated_savings_bytes"`
	ReachedPageLimit bool  `json:"reached_page_limit"`

	// Warnings flags pages that completed partially (caps hit, auth walls,
	// hosts blocked mid-crawl). The scan still counts as completed.
	Warnings []string `json:"warnings,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"` // Retention deadline, set on terminal transition
}

// ScanStatusResponse is the payload for GET /api/scan/{id}/status
type ScanStatusResponse struct {
	ID                   string     `json:"id"`
	URL                  string     `json:"url"`
	Status               ScanStatus `json:"status"`
	QueuePosition        int        `json:"queue_position,omitempty"` // 1-based, only while queued
	EstimatedWaitSeconds int64      `json:"estimated_wait_seconds,omitempty"`
	PagesScanned         int        `json:"pages_scanned"`
	PagesTotal           int        `json:"pages_total"`
	ImagesFound          int        `json:"images_found"`
	NonWebpImages        int        `json:"non_webp_images"`
	EstimatedSavings     int64      `json:"estimated_savings_bytes"`
	ReachedPageLimit     bool       `json:"reached_page_limit"`
	Warnings             []string   `json:"warnings,omitempty"`
	Error                string     `json:"error,omitempty"`
	ErrorCode            string     `json:"error_code,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	StartedAt            *time.Time `json:"started_at,omitempty"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
}

// ScanSubmission is the request body for POST /api/scan
type ScanSubmission struct {
	URL   string `json:"url" validate:"required"`
	Email string `json:"email,omitempty" validate:"omitempty,email"`
}

// ScanAccepted is the 201 response for POST /api/scan
type ScanAccepted struct {
	ScanID               string `json:"scan_id"`
	QueuePosition        int    `json:"queue_position"`
	EstimatedWaitSeconds int64  `json:"estimated_wait_seconds"`
}
