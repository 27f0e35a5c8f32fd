package interfaces

import (
	"context"

	"github.com/ternarybob/optiscan/internal/models"
)

// CrawlerService walks a target site and inventories its images. The
// processor owns scan lifecycle transitions; Crawl only reports the page
// outcome and persists image rows as it goes.
type CrawlerService interface {
	Crawl(ctx context.Context, scan *models.ScanJob) (*models.CrawlResult, error)
}
