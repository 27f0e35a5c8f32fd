package models

import (
	"errors"
	"fmt"
)

// Stable error codes surfaced in API responses and persisted on failed scans
const (
	ErrCodeURLSyntax      = "url_syntax"
	ErrCodeURLScheme      = "url_scheme"
	ErrCodeURLBlockedHost = "url_blocked_host"
	ErrCodeEmailSyntax    = "email_syntax"
	ErrCodeEmailTooLong   = "email_too_long"

	ErrCodeQueueFull = "queue_full"
	ErrCodeIPLimit   = "ip_limit"
	ErrCodeCooldown  = "cooldown"

	ErrCodeNavigationFailed = "navigation_failed"
	ErrCodeDNSFailure       = "dns_failure"
	ErrCodeTimeout          = "timeout"
	ErrCodeBrowserCrashed   = "browser_crashed"
	ErrCodeCancelled        = "cancelled"

	// Per-page conditions recorded as skip reasons or scan warnings
	ErrCodeAuthRequired = "auth_required"
	ErrCodeSizeCap      = "size_cap_exceeded"
	ErrCodeRequestCap   = "request_count_exceeded"

	ErrCodeNotFound    = "not_found"
	ErrCodeNotReady    = "not_ready"
	ErrCodeExpired     = "expired"
	ErrCodeRateLimited = "rate_limited"
	ErrCodeInternal    = "internal"
)

// ValidationError is an admission rejection with a stable code
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewValidationError creates a validation error with a stable code
func NewValidationError(code, message string) *ValidationError {
	return &ValidationError{Code: code, Message: message}
}

// ScanError is a crawl-time failure with a stable code, persisted on the
// failed scan and surfaced in the ScanFailed push
type ScanError struct {
	Code    string
	Message string
	Cause   error
}

func (e *ScanError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ScanError) Unwrap() error { return e.Cause }

// NewScanError creates a crawl-time error with a stable code
func NewScanError(code, message string, cause error) *ScanError {
	return &ScanError{Code: code, Message: message, Cause: cause}
}

// QueueError is an enqueue rejection with a stable code
type QueueError struct {
	Code    string
	Message string
	// RetryAfterSeconds is set for cooldown rejections
	RetryAfterSeconds int64
}

func (e *QueueError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Sentinel errors for storage lookups
var (
	ErrScanNotFound       = errors.New("scan not found")
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	ErrBundleNotFound     = errors.New("bundle not found")
)

// ErrorCodeOf extracts the stable code from an error chain, defaulting to internal
func ErrorCodeOf(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code
	}
	var qe *QueueError
	if errors.As(err, &qe) {
		return qe.Code
	}
	var se *ScanError
	if errors.As(err, &se) {
		return se.Code
	}
	switch {
	case errors.Is(err, ErrScanNotFound), errors.Is(err, ErrBundleNotFound):
		return ErrCodeNotFound
	default:
		return ErrCodeInternal
	}
}
