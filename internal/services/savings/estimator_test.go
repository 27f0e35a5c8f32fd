package savings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/optiscan/internal/models"
)

func TestEstimateSavings_PerFormat(t *testing.T) {
	tests := []struct {
		mime  string
		size  int64
		saved int64
	}{
		{"image/png", 1000, 740},
		{"image/jpeg", 1000, 250},
		{"image/jpg", 1000, 250},
		{"image/gif", 1000, 500},
		{"image/bmp", 1000, 700},
		{"image/tiff", 1000, 650},
		{"image/webp", 1000, 0},
		{"image/avif", 1000, 0},
		{"image/svg+xml", 1000, 0},
		{"image/x-unknown", 1000, 0},
		{"image/png", 0, 0},
		{"image/png", -5, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.saved, EstimateSavings(tt.mime, tt.size), tt.mime)
	}
}

func TestEstimateSavings_MimeParameters(t *testing.T) {
	assert.Equal(t, int64(740), EstimateSavings("image/PNG; charset=binary", 1000))
}

func TestIsConvertibleAndExcluded(t *testing.T) {
	assert.True(t, IsConvertible("image/png"))
	assert.True(t, IsConvertible("image/jpeg"))
	assert.False(t, IsConvertible("image/webp"))
	assert.False(t, IsConvertible("image/svg+xml"))

	assert.True(t, IsExcluded("image/webp"))
	assert.True(t, IsExcluded("image/avif"))
	assert.True(t, IsExcluded("image/svg+xml"))
	assert.False(t, IsExcluded("image/png"))
}

func TestSummarize_MixedFormats(t *testing.T) {
	images := []*models.DiscoveredImage{
		{MimeType: "image/png", SizeBytes: 1000},
		{MimeType: "image/jpeg", SizeBytes: 1000},
	}

	s := Summarize(images)
	assert.Equal(t, 2, s.TotalImages)
	assert.Equal(t, 2, s.NonWebpImages)
	assert.Equal(t, int64(2000), s.TotalBytes)
	assert.Equal(t, int64(990), s.EstimatedSavings)
	assert.InDelta(t, 49.5, s.SavingsPercent, 0.001)
	assert.NotEmpty(t, s.Disclaimer)
}

func TestSummarize_ExcludedFormatsContributeNothing(t *testing.T) {
	images := []*models.DiscoveredImage{
		{MimeType: "image/webp", SizeBytes: 5000},
		{MimeType: "image/svg+xml", SizeBytes: 3000},
	}

	s := Summarize(images)
	assert.Equal(t, 2, s.TotalImages)
	assert.Zero(t, s.NonWebpImages)
	assert.Equal(t, int64(8000), s.TotalBytes)
	assert.Zero(t, s.EstimatedSavings)
	assert.Zero(t, s.SavingsPercent)
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)
	assert.Zero(t, s.TotalImages)
	assert.Zero(t, s.SavingsPercent)
}
