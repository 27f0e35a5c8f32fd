package crawler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/optiscan/internal/common"
)

// retryableStatus covers server errors and rate limiting. Other 4xx
// statuses are deterministic and handled by the caller without retrying.
func retryableStatus(status int64) bool {
	return status >= 500 || status == http.StatusTooManyRequests
}

// navigateWithRetry retries transient navigation failures, meaning network
// errors, 5xx responses and 429s, with exponential backoff and jitter.
// Cancellation is never retried.
func navigateWithRetry(ctx context.Context, session PageSession, pageURL string, cfg *common.CrawlerConfig, logger arbor.ILogger) error {
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = time.Second
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff + jitter):
			}
			backoff *= 2

			logger.Debug().
				Str("url", pageURL).
				Int("attempt", attempt+1).
				Msg("Retrying page navigation")
		}

		lastErr = session.Navigate(ctx, pageURL)
		if lastErr == nil {
			if status := session.DocumentStatus(); retryableStatus(status) {
				lastErr = fmt.Errorf("server returned %d for %s", status, pageURL)
				continue
			}
			return nil
		}
		if errors.Is(lastErr, context.Canceled) || ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}
