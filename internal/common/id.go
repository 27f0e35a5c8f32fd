package common

import (
	"github.com/google/uuid"
)

// NewScanID generates a unique scan ID with the "scan_" prefix
// Format: scan_<uuid>
func NewScanID() string {
	return "scan_" + uuid.New().String()
}

// NewBundleID generates a unique converted-image bundle ID with the "zip_" prefix
func NewBundleID() string {
	return "zip_" + uuid.New().String()
}
