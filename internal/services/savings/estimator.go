package savings

import (
	"github.com/ternarybob/optiscan/internal/models"
)

// webpSizeRatios maps a source MIME type to the expected WebP output size
// as a fraction of the original. Derived from bulk re-encoding measurements;
// the report carries a disclaimer that these are empirical estimates.
var webpSizeRatios = map[string]float64{
	"image/png":  0.26,
	"image/jpeg": 0.75,
	"image/jpg":  0.75,
	"image/gif":  0.50,
	"image/bmp":  0.30,
	"image/tiff": 0.35,
}

// Formats already efficient or not raster-convertible; excluded from the
// non-WebP inventory and contribute zero savings.
var excludedFormats = map[string]bool{
	"image/webp":    true,
	"image/avif":    true,
	"image/svg+xml": true,
}

// Disclaimer is attached to every report containing savings figures
const Disclaimer = "Savings figures are empirical estimates based on typical " +
	"WebP re-encoding ratios for each source format. Actual results depend on " +
	"image content and encoder settings."

// IsConvertible reports whether a MIME type counts toward the non-WebP
// inventory and produces a savings estimate
func IsConvertible(mimeType string) bool {
	mime := models.NormalizeMimeType(mimeType)
	_, ok := webpSizeRatios[mime]
	return ok
}

// IsExcluded reports whether a MIME type is deliberately outside the
// conversion set (already WebP/AVIF, or vector)
func IsExcluded(mimeType string) bool {
	return excludedFormats[models.NormalizeMimeType(mimeType)]
}

// EstimateSavings returns the estimated bytes saved by converting one image
// to WebP. Excluded and unknown formats return zero.
func EstimateSavings(mimeType string, sizeBytes int64) int64 {
	if sizeBytes <= 0 {
		return 0
	}
	ratio, ok := webpSizeRatios[models.NormalizeMimeType(mimeType)]
	if !ok {
		return 0
	}
	saved := int64(float64(sizeBytes) * (1 - ratio))
	if saved < 0 {
		return 0
	}
	return saved
}

// Summary aggregates savings across a scan's discovered images
type Summary struct {
	TotalImages      int     `json:"total_images"`
	NonWebpImages    int     `json:"non_webp_images"`
	TotalBytes       int64   `json:"total_bytes"`
	ConvertibleBytes int64   `json:"convertible_bytes"`
	EstimatedSavings int64   `json:"estimated_savings_bytes"`
	SavingsPercent   float64 `json:"savings_percent"` // Of total image bytes, clamped to [0,100]
	MeanSavingsRatio float64 `json:"mean_savings_ratio"`
	Disclaimer       string  `json:"disclaimer"`
}

// Summarize computes the scan-level savings summary
func Summarize(images []*models.DiscoveredImage) *Summary {
	s := &Summary{Disclaimer: Disclaimer}

	var ratioSum float64
	var ratioCount int

	for _, img := range images {
		s.TotalImages++
		s.TotalBytes += img.SizeBytes

		mime := models.NormalizeMimeType(img.MimeType)
		if !IsConvertible(mime) {
			continue
		}
		s.NonWebpImages++
		s.ConvertibleBytes += img.SizeBytes

		saved := EstimateSavings(mime, img.SizeBytes)
		s.EstimatedSavings += saved
		if img.SizeBytes > 0 {
			ratioSum += float64(saved) / float64(img.SizeBytes)
			ratioCount++
		}
	}

	if s.TotalBytes > 0 {
		s.SavingsPercent = float64(s.EstimatedSavings) / float64(s.TotalBytes) * 100
	}
	if s.SavingsPercent < 0 {
		s.SavingsPercent = 0
	}
	if s.SavingsPercent > 100 {
		s.SavingsPercent = 100
	}
	if ratioCount > 0 {
		s.MeanSavingsRatio = ratioSum / float64(ratioCount)
	}

	return s
}
