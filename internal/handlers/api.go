package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/optiscan/internal/common"
)

// APIHandler serves the service-level endpoints: health, version and the
// public configuration surface
type APIHandler struct {
	config    *common.Config
	logger    arbor.ILogger
	startedAt time.Time
}

// NewAPIHandler creates the service-level handler
func NewAPIHandler(config *common.Config, logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		config:    config,
		logger:    logger,
		startedAt: time.Now().UTC(),
	}
}

// HealthResponse is the GET /api/health payload
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// Health handles GET /api/health
func (h *APIHandler) Health(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		Version:       common.Version,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	})
}

// ClientConfig is the GET /api/config payload. Only settings a browser
// client needs are exposed.
type ClientConfig struct {
	EmailEnabled    bool `json:"emailEnabled"`
	MaxPagesPerScan int  `json:"maxPagesPerScan"`
}

// Config handles GET /api/config
func (h *APIHandler) Config(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, ClientConfig{
		EmailEnabled:    h.config.Email.Enabled,
		MaxPagesPerScan: h.config.Crawler.MaxPagesPerScan,
	})
}

// VersionResponse is the GET /api/version payload
type VersionResponse struct {
	Version   string `json:"version"`
	Build     string `json:"build"`
	GitCommit string `json:"git_commit"`
}

// Version handles GET /api/version
func (h *APIHandler) Version(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, VersionResponse{
		Version:   common.Version,
		Build:     common.Build,
		GitCommit: common.GitCommit,
	})
}
