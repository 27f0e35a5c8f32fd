package crawler

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseRobots_WildcardGroup(t *testing.T) {
	rules := parseRobots(strings.NewReader(`
# site robots
User-agent: *
Disallow: /admin
Disallow: /private/
Crawl-delay: 2

User-agent: badbot
Disallow: /
`))

	assert.True(t, rules.allowed("/"))
	assert.True(t, rules.allowed("/products"))
	assert.False(t, rules.allowed("/admin"))
	assert.False(t, rules.allowed("/admin/users"))
	assert.False(t, rules.allowed("/private/x"))
	assert.Equal(t, 2*time.Second, rules.crawlDelay)
}

func TestParseRobots_OtherAgentGroupIgnored(t *testing.T) {
	rules := parseRobots(strings.NewReader(`
User-agent: googlebot
Disallow: /no-google

User-agent: *
Disallow: /secret
`))

	assert.True(t, rules.allowed("/no-google"))
	assert.False(t, rules.allowed("/secret"))
}

func TestParseRobots_SharedAgentLines(t *testing.T) {
	rules := parseRobots(strings.NewReader(`
User-agent: somebot
User-agent: *
Disallow: /shared
`))

	assert.False(t, rules.allowed("/shared"))
}

func TestParseRobots_EmptyDisallowAllowsAll(t *testing.T) {
	rules := parseRobots(strings.NewReader(`
User-agent: *
Disallow:
`))

	assert.True(t, rules.allowed("/anything"))
}

func TestParseRobots_CrawlDelayCapped(t *testing.T) {
	rules := parseRobots(strings.NewReader(`
User-agent: *
Crawl-delay: 600
`))

	assert.Equal(t, maxCrawlDelay, rules.crawlDelay)
}

func TestRobotsRules_EmptyPathTreatedAsRoot(t *testing.T) {
	rules := &robotsRules{disallow: []string{"/"}}
	assert.False(t, rules.allowed(""))
}
