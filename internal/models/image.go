package models

import (
	"strings"
	"time"
)

// DiscoveredImage is one unique image URL observed on the wire during a scan.
// MIME type comes from the intercepted response header, never the file extension.
type DiscoveredImage struct {
	ID        int64     `json:"id"`
	ScanID    string    `json:"scan_id"`
	URL       string    `json:"url"`
	MimeType  string    `json:"mime_type"`
	SizeBytes int64     `json:"size_bytes"`
	Width     int       `json:"width,omitempty"`
	Height    int       `json:"height,omitempty"`
	PageURLs  []string  `json:"page_urls"` // Pages the image appeared on, in discovery order
	Category  string    `json:"category"`
	IsWebP    bool      `json:"is_webp"`
	Savings   int64     `json:"estimated_savings_bytes"` // Zero for formats excluded from conversion
	CreatedAt time.Time `json:"created_at"`
}

// NormalizeMimeType lowercases a wire MIME type and strips parameters
// ("image/png; charset=binary" -> "image/png").
func NormalizeMimeType(mime string) string {
	mime = strings.TrimSpace(strings.ToLower(mime))
	if idx := strings.Index(mime, ";"); idx >= 0 {
		mime = strings.TrimSpace(mime[:idx])
	}
	return mime
}

// IsImageMimeType reports whether a normalized MIME type is an image type
func IsImageMimeType(mime string) bool {
	return strings.HasPrefix(NormalizeMimeType(mime), "image/")
}

// categoryRule maps a URL substring to a display category. Evaluated in
// order, first match wins.
type categoryRule struct {
	substring string
	category  string
}

// Display categories for discovered images. The set is fixed; aggregation
// keys on these exact names.
const (
	CategoryHeroBanners   = "Hero & Banners"
	CategoryThumbnails    = "Thumbnails"
	CategoryProductImages = "Product Images"
	CategoryBlogArticles  = "Blog & Articles"
	CategoryLogosIcons    = "Logos & Icons"
	CategoryUserAvatars   = "User Avatars"
	CategoryBackgrounds   = "Backgrounds"
	CategoryOtherImages   = "Other Images"
)

var categoryRules = []categoryRule{
	{"hero", CategoryHeroBanners},
	{"banner", CategoryHeroBanners},
	{"thumbnail", CategoryThumbnails},
	{"thumb", CategoryThumbnails},
	{"product", CategoryProductImages},
	{"blog", CategoryBlogArticles},
	{"article", CategoryBlogArticles},
	{"post", CategoryBlogArticles},
	{"logo", CategoryLogosIcons},
	{"icon", CategoryLogosIcons},
	{"avatar", CategoryUserAvatars},
	{"profile", CategoryUserAvatars},
	{"background", CategoryBackgrounds},
}

// CategorizeImageURL derives a display category from the image URL
func CategorizeImageURL(url string) string {
	lower := strings.ToLower(url)
	for _, rule := range categoryRules {
		if strings.Contains(lower, rule.substring) {
			return rule.category
		}
	}
	return CategoryOtherImages
}
