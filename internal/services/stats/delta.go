package stats

import (
	"github.com/ternarybob/optiscan/internal/models"
	"github.com/ternarybob/optiscan/internal/services/savings"
)

// BuildScanDelta converts a completed scan's image inventory into the
// aggregate-stats contribution applied by the stats upsert
func BuildScanDelta(pagesScanned int, images []*models.DiscoveredImage) *models.ScanDelta {
	delta := &models.ScanDelta{
		Pages:      int64(pagesScanned),
		ByMimeType: make(map[string]models.MimeTypeStats),
		ByCategory: make(map[string]models.CategoryStats),
	}

	for _, img := range images {
		delta.Images++
		delta.ImageBytes += img.SizeBytes

		mime := models.NormalizeMimeType(img.MimeType)
		saved := savings.EstimateSavings(mime, img.SizeBytes)
		if savings.IsConvertible(mime) {
			delta.NonWebpImages++
			delta.EstimatedSavings += saved
		}

		byMime := delta.ByMimeType[mime]
		byMime.MimeType = mime
		byMime.ImageCount++
		byMime.TotalBytes += img.SizeBytes
		byMime.EstimatedSavings += saved
		delta.ByMimeType[mime] = byMime

		byCat := delta.ByCategory[img.Category]
		byCat.Category = img.Category
		byCat.ImageCount++
		byCat.TotalBytes += img.SizeBytes
		delta.ByCategory[img.Category] = byCat
	}

	return delta
}
