package crawler

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestExtractHrefs(t *testing.T) {
	html := `<html><body>
		<a href="/about">About</a>
		<a href="https://example.com/products">Products</a>
		<a href="  ">blank</a>
		<a>no href</a>
		<a href="#section">fragment</a>
	</body></html>`

	hrefs, err := extractHrefs(html)
	require.NoError(t, err)
	assert.Equal(t, []string{"/about", "https://example.com/products", "#section"}, hrefs)
}

func TestNormalizeSameOrigin(t *testing.T) {
	origin := mustParse(t, "https://example.com/")
	page := mustParse(t, "https://example.com/docs/")

	tests := []struct {
		name string
		href string
		want string
		ok   bool
	}{
		{"relative", "guide", "https://example.com/docs/guide", true},
		{"rooted", "/about", "https://example.com/about", true},
		{"absolute same origin", "https://example.com/products", "https://example.com/products", true},
		{"uppercase host", "https://EXAMPLE.com/a", "https://example.com/a", true},
		{"default port stripped", "https://example.com:443/a", "https://example.com/a", true},
		{"fragment dropped", "/pricing#plans", "https://example.com/pricing", true},
		{"query kept", "/search?q=webp", "https://example.com/search?q=webp", true},
		{"off origin", "https://other.example/", "", false},
		{"subdomain is off origin", "https://www.example.com/", "", false},
		{"non-default port", "https://example.com:8443/a", "", false},
		{"mailto", "mailto:team@example.com", "", false},
		{"javascript", "javascript:void(0)", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := normalizeSameOrigin(page, origin, tt.href)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestNormalizeSameOrigin_FragmentOnlyResolvesToPage(t *testing.T) {
	origin := mustParse(t, "https://example.com/")
	page := mustParse(t, "https://example.com/docs")

	got, ok := normalizeSameOrigin(page, origin, "#top")
	require.True(t, ok)
	assert.Equal(t, "https://example.com/docs", got)
}

func TestCanonicalURL_EmptyPathBecomesRoot(t *testing.T) {
	u := mustParse(t, "https://example.com")
	assert.Equal(t, "https://example.com/", canonicalURL(u))
}

func TestIsLoginRedirect(t *testing.T) {
	tests := []struct {
		name      string
		requested string
		final     string
		want      bool
	}{
		{"redirect to login", "https://example.com/account", "https://example.com/login?next=%2Faccount", true},
		{"redirect to signin", "https://example.com/orders", "https://example.com/sign-in", true},
		{"wordpress login", "https://example.com/admin", "https://example.com/wp-login.php", true},
		{"no redirect", "https://example.com/about", "https://example.com/about", false},
		{"redirect elsewhere", "https://example.com/old", "https://example.com/new", false},
		{"login page requested directly", "https://example.com/login", "https://example.com/login", false},
		{"no final url", "https://example.com/about", "", false},
		{"trailing slash is not a redirect", "https://example.com/about", "https://example.com/about#top", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isLoginRedirect(tt.requested, tt.final))
		})
	}
}
