package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/optiscan/internal/interfaces"
	"github.com/ternarybob/optiscan/internal/models"
	"github.com/ternarybob/optiscan/internal/services/stats"
)

// StatsHandler serves GET /api/scan/stats
type StatsHandler struct {
	logger  arbor.ILogger
	storage interfaces.StorageManager
	tracker *stats.Tracker
}

// NewStatsHandler creates the stats handler
func NewStatsHandler(logger arbor.ILogger, storage interfaces.StorageManager, tracker *stats.Tracker) *StatsHandler {
	return &StatsHandler{logger: logger, storage: storage, tracker: tracker}
}

// Stats handles GET /api/scan/stats. The breakdown maps already include
// the contribution of scans still in flight.
func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	live, err := h.tracker.CombinedLive(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to build live stats")
		WriteError(w, http.StatusInternalServerError, models.ErrCodeInternal, "failed to load stats")
		return
	}

	WriteJSON(w, http.StatusOK, live)
}
