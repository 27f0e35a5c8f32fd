package crawler

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// extractHrefs pulls the raw href values out of rendered page HTML
func extractHrefs(html string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var hrefs []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		if href, ok := sel.Attr("href"); ok {
			href = strings.TrimSpace(href)
			if href != "" {
				hrefs = append(hrefs, href)
			}
		}
	})
	return hrefs, nil
}

// normalizeSameOrigin resolves a raw href against the page it was found on
// and returns its canonical form if it stays on the scan origin. Fragments
// are dropped, hosts lowercased and default ports stripped so the visited
// set never admits the same page twice under different spellings.
func normalizeSameOrigin(page *url.URL, origin *url.URL, href string) (string, bool) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}

	resolved := page.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", false
	}

	if !strings.EqualFold(resolved.Hostname(), origin.Hostname()) {
		return "", false
	}
	if effectivePort(resolved) != effectivePort(origin) {
		return "", false
	}

	return canonicalURL(resolved), true
}

// canonicalURL renders a URL in its deduplication form
func canonicalURL(u *url.URL) string {
	c := *u
	c.Fragment = ""
	c.RawFragment = ""
	c.Host = strings.ToLower(c.Hostname())
	if port := u.Port(); port != "" && port != defaultPort(c.Scheme) {
		c.Host += ":" + port
	}
	if c.Path == "" {
		c.Path = "/"
	}
	return c.String()
}

func effectivePort(u *url.URL) string {
	if port := u.Port(); port != "" {
		return port
	}
	return defaultPort(u.Scheme)
}

func defaultPort(scheme string) string {
	if scheme == "https" {
		return "443"
	}
	return "80"
}

// loginPathPrefixes marks paths that sites redirect unauthenticated
// visitors to
var loginPathPrefixes = []string{
	"/login",
	"/signin",
	"/sign-in",
	"/auth",
	"/account/login",
	"/wp-login",
}

// isLoginRedirect reports whether the browser landed on a login page other
// than the one requested, the usual shape of an authentication wall
func isLoginRedirect(requestedURL, finalURL string) bool {
	if finalURL == "" || finalURL == requestedURL {
		return false
	}

	requested, err := url.Parse(requestedURL)
	if err != nil {
		return false
	}
	final, err := url.Parse(finalURL)
	if err != nil {
		return false
	}
	if canonicalURL(requested) == canonicalURL(final) {
		return false
	}

	path := strings.ToLower(final.Path)
	for _, prefix := range loginPathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
