package crawler

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	robotsFetchTimeout = 10 * time.Second
	robotsMaxBytes     = 512 * 1024
	maxCrawlDelay      = 10 * time.Second
)

// robotsRules holds the wildcard-agent group of a site's robots.txt
type robotsRules struct {
	disallow   []string
	crawlDelay time.Duration
}

// fetchRobotsRules retrieves and parses /robots.txt for the scan origin.
// Any fetch or parse problem yields permissive rules: robots.txt is a
// courtesy, not a gate that can fail a scan.
func fetchRobotsRules(ctx context.Context, origin *url.URL, userAgent string) *robotsRules {
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", origin.Scheme, origin.Host)

	reqCtx, cancel := context.WithTimeout(ctx, robotsFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return &robotsRules{}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return &robotsRules{}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &robotsRules{}
	}

	return parseRobots(io.LimitReader(resp.Body, robotsMaxBytes))
}

// parseRobots extracts the Disallow prefixes and Crawl-delay for the
// wildcard user agent
func parseRobots(r io.Reader) *robotsRules {
	rules := &robotsRules{}
	wildcardGroup := false
	lastWasAgent := false

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		field, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		field = strings.ToLower(strings.TrimSpace(field))
		value = strings.TrimSpace(value)

		if field == "user-agent" {
			// Consecutive agent lines share one group; an agent line after
			// directives starts a fresh group
			if !lastWasAgent {
				wildcardGroup = false
			}
			if value == "*" {
				wildcardGroup = true
			}
			lastWasAgent = true
			continue
		}
		lastWasAgent = false
		if !wildcardGroup {
			continue
		}

		switch field {
		case "disallow":
			if value != "" {
				rules.disallow = append(rules.disallow, value)
			}
		case "crawl-delay":
			if secs, err := strconv.ParseFloat(value, 64); err == nil && secs > 0 {
				delay := time.Duration(secs * float64(time.Second))
				if delay > maxCrawlDelay {
					delay = maxCrawlDelay
				}
				rules.crawlDelay = delay
			}
		}
	}

	return rules
}

// allowed reports whether a path may be crawled under the parsed rules
func (r *robotsRules) allowed(path string) bool {
	if path == "" {
		path = "/"
	}
	for _, prefix := range r.disallow {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	return true
}
