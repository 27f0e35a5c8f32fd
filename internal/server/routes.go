package server

import (
	"net/http"
	"strings"

	"github.com/ternarybob/optiscan/internal/handlers"
)

// setupRoutes wires the API surface onto the mux
func (s *Server) setupRoutes() {
	api := s.app.APIHandler()
	scans := s.app.ScanHandler()
	stats := s.app.StatsHandler()
	ws := s.app.WebSocketHandler()

	s.router.HandleFunc("/api/health", api.Health)
	s.router.HandleFunc("/api/version", api.Version)
	s.router.HandleFunc("/api/config", api.Config)

	s.router.HandleFunc("/api/scan", scans.Submit)
	s.router.HandleFunc("/api/scan/stats", stats.Stats)
	s.router.HandleFunc("/api/scan/", s.routeScanSubpath)

	s.router.HandleFunc("/hubs/scanprogress", ws.Handle)
}

// routeScanSubpath dispatches /api/scan/{id}/{action}
func (s *Server) routeScanSubpath(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/scan/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	scans := s.app.ScanHandler()

	if len(parts) != 2 || parts[0] == "" {
		handlers.WriteError(w, http.StatusNotFound, "not_found", "unknown route")
		return
	}

	scanID := parts[0]
	switch parts[1] {
	case "status":
		scans.Status(w, r, scanID)
	case "report":
		scans.Report(w, r, scanID)
	case "inventory":
		scans.Inventory(w, r, scanID)
	case "images", "bundle":
		scans.Images(w, r, scanID)
	default:
		handlers.WriteError(w, http.StatusNotFound, "not_found", "unknown route")
	}
}
