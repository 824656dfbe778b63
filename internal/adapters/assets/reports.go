package assets

import (
	"assetcore/internal/adapters/reports"
	"assetcore/pkg/domain"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

type reportRequest struct {
	Formats  []reports.Format   `json:"formats"`
	Status   domain.AssetStatus `json:"status"`
	Category string             `json:"category"`
}

// POST /api/v1/reports
func (h *Handler) CreateReport(c *gin.Context) {
	var req reportRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	record, err := h.reports.Enqueue(c.Request.Context(), reports.Input{
		Filter:      reports.Filter{Status: req.Status, Category: req.Category},
		Formats:     req.Formats,
		RequestedBy: sessionFrom(c).Actor(),
	})
	if err != nil {
		if errors.Is(err, reports.ErrQueueFull) {
			respondError(c, http.StatusServiceUnavailable, "queue_full", err)
			return
		}
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"report": record})
}

// GET /api/v1/reports
func (h *Handler) ListReports(c *gin.Context) {
	respondOK(c, gin.H{"reports": h.reports.List()})
}

// GET /api/v1/reports/:id
func (h *Handler) GetReport(c *gin.Context) {
	record, ok := h.reports.Get(c.Param("id"))
	if !ok {
		respondError(c, http.StatusNotFound, "not_found", errors.New("report not found"))
		return
	}
	respondOK(c, gin.H{"report": record})
}

// GET /api/v1/reports/:id/download/:format
func (h *Handler) DownloadReport(c *gin.Context) {
	record, ok := h.reports.Get(c.Param("id"))
	if !ok {
		respondError(c, http.StatusNotFound, "not_found", errors.New("report not found"))
		return
	}
	if record.Status != reports.StatusSucceeded {
		respondError(c, http.StatusConflict, "report_not_ready", errors.New("report status is "+string(record.Status)))
		return
	}
	format := reports.Format(c.Param("format"))
	var artifact *reports.Artifact
	for i := range record.Artifacts {
		if record.Artifacts[i].Format == format {
			artifact = &record.Artifacts[i]
			break
		}
	}
	if artifact == nil || h.reportStore == nil {
		respondError(c, http.StatusNotFound, "not_found", errors.New("artifact not found"))
		return
	}
	info, rc, err := h.reportStore.Get(c.Request.Context(), artifact.Key)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	defer func() { _ = rc.Close() }()
	c.Header("Content-Disposition", `attachment; filename="assets.`+string(format)+`"`)
	c.DataFromReader(http.StatusOK, info.Size, artifact.ContentType, rc, nil)
}
