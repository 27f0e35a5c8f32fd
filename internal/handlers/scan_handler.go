package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/optiscan/internal/common"
	"github.com/ternarybob/optiscan/internal/interfaces"
	"github.com/ternarybob/optiscan/internal/models"
	"github.com/ternarybob/optiscan/internal/services/bundle"
	"github.com/ternarybob/optiscan/internal/services/queue"
	"github.com/ternarybob/optiscan/internal/services/report"
	"github.com/ternarybob/optiscan/internal/services/validation"
)

// ScanHandler serves the scan lifecycle endpoints: submission, status,
// report, image inventory and the conversion bundle download
type ScanHandler struct {
	config    *common.Config
	logger    arbor.ILogger
	storage   interfaces.StorageManager
	validator *validation.Service
	queue     *queue.Service
	reports   *report.Service
	bundles   *bundle.Service
}

// NewScanHandler creates the scan handler
func NewScanHandler(config *common.Config, logger arbor.ILogger, storage interfaces.StorageManager, validator *validation.Service, queueSvc *queue.Service, reports *report.Service, bundles *bundle.Service) *ScanHandler {
	return &ScanHandler{
		config:    config,
		logger:    logger,
		storage:   storage,
		validator: validator,
		queue:     queueSvc,
		reports:   reports,
		bundles:   bundles,
	}
}

// Submit handles POST /api/scan
func (h *ScanHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var submission models.ScanSubmission
	if err := json.NewDecoder(r.Body).Decode(&submission); err != nil {
		WriteError(w, http.StatusBadRequest, models.ErrCodeURLSyntax, "request body is not valid json")
		return
	}

	if _, err := h.validator.ValidateSubmission(r.Context(), submission.URL, submission.Email); err != nil {
		var ve *models.ValidationError
		if errors.As(err, &ve) {
			WriteError(w, http.StatusBadRequest, ve.Code, ve.Message)
			return
		}
		WriteError(w, http.StatusBadRequest, models.ErrCodeURLSyntax, err.Error())
		return
	}

	clientIP := ClientIP(r)
	scan, position, err := h.queue.Enqueue(r.Context(), submission.URL, submission.Email, clientIP)
	if err != nil {
		h.writeEnqueueError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, models.ScanAccepted{
		ScanID:               scan.ID,
		QueuePosition:        position,
		EstimatedWaitSeconds: h.queue.EstimateWaitSeconds(r.Context(), position),
	})
}

func (h *ScanHandler) writeEnqueueError(w http.ResponseWriter, err error) {
	var qe *models.QueueError
	if !errors.As(err, &qe) {
		h.logger.Error().Err(err).Msg("Scan submission failed")
		WriteError(w, http.StatusInternalServerError, models.ErrCodeInternal, "failed to accept scan")
		return
	}

	switch qe.Code {
	case models.ErrCodeQueueFull:
		WriteError(w, http.StatusServiceUnavailable, qe.Code, qe.Message)
	case models.ErrCodeIPLimit:
		WriteError(w, http.StatusConflict, qe.Code, qe.Message)
	case models.ErrCodeCooldown:
		w.Header().Set("Retry-After", strconv.FormatInt(qe.RetryAfterSeconds, 10))
		WriteError(w, http.StatusConflict, qe.Code, qe.Message)
	default:
		WriteError(w, http.StatusInternalServerError, qe.Code, qe.Message)
	}
}

// Status handles GET /api/scan/{id}/status
func (h *ScanHandler) Status(w http.ResponseWriter, r *http.Request, scanID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	scan, err := h.storage.Scans().GetScan(r.Context(), scanID)
	if err != nil {
		h.writeScanLookupError(w, err)
		return
	}

	resp := models.ScanStatusResponse{
		ID:               scan.ID,
		URL:              scan.URL,
		Status:           scan.Status,
		PagesScanned:     scan.PagesScanned,
		PagesTotal:       scan.PagesTotal,
		ImagesFound:      scan.ImagesFound,
		NonWebpImages:    scan.NonWebpImages,
		EstimatedSavings: scan.EstimatedSavings,
		ReachedPageLimit: scan.ReachedPageLimit,
		Warnings:         scan.Warnings,
		Error:            scan.Error,
		ErrorCode:        scan.ErrorCode,
		CreatedAt:        scan.CreatedAt,
		StartedAt:        scan.StartedAt,
		CompletedAt:      scan.CompletedAt,
	}

	if scan.Status == models.ScanStatusQueued {
		if position, err := h.queue.PositionOf(r.Context(), scan.ID); err == nil && position > 0 {
			resp.QueuePosition = position
			resp.EstimatedWaitSeconds = h.queue.EstimateWaitSeconds(r.Context(), position)
		}
	}

	WriteJSON(w, http.StatusOK, resp)
}

// Report handles GET /api/scan/{id}/report
func (h *ScanHandler) Report(w http.ResponseWriter, r *http.Request, scanID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	rep, err := h.reports.Build(r.Context(), scanID)
	if err != nil {
		if models.ErrorCodeOf(err) == models.ErrCodeNotReady {
			WriteError(w, http.StatusConflict, models.ErrCodeNotReady, "scan has not completed yet")
			return
		}
		h.writeScanLookupError(w, err)
		return
	}

	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "optiscan-report-"+scanID+".json"))
	WriteJSON(w, http.StatusOK, rep)
}

// Inventory handles GET /api/scan/{id}/inventory, the JSON image listing
func (h *ScanHandler) Inventory(w http.ResponseWriter, r *http.Request, scanID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	scan, err := h.storage.Scans().GetScan(r.Context(), scanID)
	if err != nil {
		h.writeScanLookupError(w, err)
		return
	}
	if scan.ExpiresAt != nil && scan.ExpiresAt.Before(time.Now().UTC()) {
		WriteError(w, http.StatusGone, models.ErrCodeExpired, "scan results have expired")
		return
	}

	images, err := h.storage.Images().GetImagesByScan(r.Context(), scanID)
	if err != nil {
		h.logger.Error().Err(err).Str("scan_id", scanID).Msg("Failed to load images")
		WriteError(w, http.StatusInternalServerError, models.ErrCodeInternal, "failed to load images")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"scan_id": scanID,
		"count":   len(images),
		"images":  images,
	})
}

// Images handles GET /api/scan/{id}/images, serving the WebP conversion zip
func (h *ScanHandler) Images(w http.ResponseWriter, r *http.Request, scanID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	scan, err := h.storage.Scans().GetScan(r.Context(), scanID)
	if err != nil {
		h.writeScanLookupError(w, err)
		return
	}
	if scan.ExpiresAt != nil && scan.ExpiresAt.Before(time.Now().UTC()) {
		WriteError(w, http.StatusGone, models.ErrCodeExpired, "converted images have expired")
		return
	}

	b, err := h.bundles.GetOrBuild(r.Context(), scanID)
	if err != nil {
		if models.ErrorCodeOf(err) == models.ErrCodeNotReady {
			WriteError(w, http.StatusConflict, models.ErrCodeNotReady, "scan has not completed yet")
			return
		}
		h.writeScanLookupError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "optiscan-"+scanID+".zip"))
	http.ServeFile(w, r, b.FilePath)
}

func (h *ScanHandler) writeScanLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, models.ErrScanNotFound) || errors.Is(err, models.ErrBundleNotFound) {
		WriteError(w, http.StatusNotFound, models.ErrCodeNotFound, "scan not found")
		return
	}
	h.logger.Error().Err(err).Msg("Scan lookup failed")
	WriteError(w, http.StatusInternalServerError, models.ErrCodeInternal, "internal error")
}
