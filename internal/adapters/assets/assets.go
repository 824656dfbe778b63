package assets

import (
	"assetcore/internal/core"
	"assetcore/pkg/domain"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type outcomeResponse struct {
	Asset       domain.Asset              `json:"asset"`
	Assignment  *domain.Assignment        `json:"assignment,omitempty"`
	Completed   *domain.Assignment        `json:"completed,omitempty"`
	Maintenance *domain.MaintenanceRecord `json:"maintenance,omitempty"`
	History     []domain.HistoryEntry     `json:"history"`
	Violations  []domain.Violation        `json:"violations,omitempty"`
}

func newOutcomeResponse(out core.Outcome) outcomeResponse {
	return outcomeResponse{
		Asset:       out.Asset,
		Assignment:  out.Assignment,
		Completed:   out.Completed,
		Maintenance: out.Maintenance,
		History:     out.History,
		Violations:  out.Result.Violations,
	}
}

// assetInput carries the client-owned asset fields. Identity, timestamps,
// the current assignment and stored files are set by the service.
type assetInput struct {
	Name           string              `json:"name"`
	Category       string              `json:"category"`
	SerialNumber   string              `json:"serial_number"`
	Model          string              `json:"model"`
	Manufacturer   string              `json:"manufacturer"`
	Location       string              `json:"location"`
	Status         domain.AssetStatus  `json:"status"`
	Purchase       domain.PurchaseInfo `json:"purchase"`
	CurrentValue   decimal.Decimal     `json:"current_value"`
	Notes          string              `json:"notes"`
	Specifications map[string]string   `json:"specifications"`
}

func (in assetInput) asset() domain.Asset {
	return domain.Asset{
		Name:           in.Name,
		Category:       in.Category,
		SerialNumber:   in.SerialNumber,
		Model:          in.Model,
		Manufacturer:   in.Manufacturer,
		Location:       in.Location,
		Status:         in.Status,
		Purchase:       in.Purchase,
		CurrentValue:   in.CurrentValue,
		Notes:          in.Notes,
		Specifications: in.Specifications,
	}
}

type createAssetRequest struct {
	Asset      assetInput            `json:"asset"`
	Assignment *core.AssignmentInput `json:"assignment,omitempty"`
}

// POST /api/v1/assets
func (h *Handler) CreateAsset(c *gin.Context) {
	var req createAssetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	out, err := h.svc.CreateAssetWithAssignment(c.Request.Context(), sessionFrom(c), req.Asset.asset(), req.Assignment)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newOutcomeResponse(out))
}

// GET /api/v1/assets?status=&category=
func (h *Handler) ListAssets(c *gin.Context) {
	var conds []domain.Condition
	if status := strings.TrimSpace(c.Query("status")); status != "" {
		conds = append(conds, domain.Where("status", domain.OpEqual, status))
	}
	if category := strings.TrimSpace(c.Query("category")); category != "" {
		conds = append(conds, domain.Where("category", domain.OpEqual, category))
	}
	list, err := h.svc.ListAssets(c.Request.Context(), conds...)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"assets": nonNil(list)})
}

// GET /api/v1/assets/:id
func (h *Handler) GetAsset(c *gin.Context) {
	asset, err := h.svc.GetAsset(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"asset": asset})
}

type assetPatch struct {
	Name           *string              `json:"name"`
	Category       *string              `json:"category"`
	SerialNumber   *string              `json:"serial_number"`
	Model          *string              `json:"model"`
	Manufacturer   *string              `json:"manufacturer"`
	Location       *string              `json:"location"`
	Notes          *string              `json:"notes"`
	CurrentValue   *decimal.Decimal     `json:"current_value"`
	Purchase       *domain.PurchaseInfo `json:"purchase"`
	Specifications map[string]string    `json:"specifications"`
}

func (p assetPatch) apply(a *domain.Asset) error {
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&a.Name, p.Name)
	set(&a.Category, p.Category)
	set(&a.SerialNumber, p.SerialNumber)
	set(&a.Model, p.Model)
	set(&a.Manufacturer, p.Manufacturer)
	set(&a.Location, p.Location)
	set(&a.Notes, p.Notes)
	if p.CurrentValue != nil {
		a.CurrentValue = *p.CurrentValue
	}
	if p.Purchase != nil {
		a.Purchase = *p.Purchase
	}
	if p.Specifications != nil {
		a.Specifications = p.Specifications
	}
	if strings.TrimSpace(a.Name) == "" {
		return domain.Invalidf("asset name required")
	}
	return nil
}

// PATCH /api/v1/assets/:id
func (h *Handler) UpdateAsset(c *gin.Context) {
	var patch assetPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	asset, _, err := h.svc.UpdateAsset(c.Request.Context(), sessionFrom(c), c.Param("id"), patch.apply)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"asset": asset})
}

// DELETE /api/v1/assets/:id
func (h *Handler) DeleteAsset(c *gin.Context) {
	if _, err := h.svc.DeleteAsset(c.Request.Context(), sessionFrom(c), c.Param("id")); err != nil {
		respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type assignRequest struct {
	PreviousAssignmentID string               `json:"previous_assignment_id"`
	Assignment           core.AssignmentInput `json:"assignment"`
}

// POST /api/v1/assets/:id/assign
func (h *Handler) AssignAsset(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	out, err := h.svc.AssignAsset(c.Request.Context(), sessionFrom(c), c.Param("id"), req.PreviousAssignmentID, req.Assignment)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, newOutcomeResponse(out))
}

type returnRequest struct {
	AssignmentID string `json:"assignment_id"`
	Notes        string `json:"notes"`
}

// POST /api/v1/assets/:id/return
func (h *Handler) ReturnAsset(c *gin.Context) {
	var req returnRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	out, err := h.svc.ReturnAsset(c.Request.Context(), sessionFrom(c), c.Param("id"), req.AssignmentID, req.Notes)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, newOutcomeResponse(out))
}

type reasonRequest struct {
	Reason string             `json:"reason"`
	Status domain.AssetStatus `json:"status,omitempty"`
}

// POST /api/v1/assets/:id/dispose
func (h *Handler) DisposeAsset(c *gin.Context) {
	var req reasonRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	out, err := h.svc.DisposeAsset(c.Request.Context(), sessionFrom(c), c.Param("id"), req.Reason)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, newOutcomeResponse(out))
}

// POST /api/v1/assets/:id/status
func (h *Handler) ChangeStatus(c *gin.Context) {
	var req reasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	out, err := h.svc.ChangeStatus(c.Request.Context(), sessionFrom(c), c.Param("id"), req.Status, req.Reason)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, newOutcomeResponse(out))
}

// GET /api/v1/assets/:id/assignments
func (h *Handler) ListAssignments(c *gin.Context) {
	list, err := h.svc.ListAssignments(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"assignments": nonNil(list)})
}

// GET /api/v1/assets/:id/history
func (h *Handler) ListHistory(c *gin.Context) {
	list, err := h.svc.AssetHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"history": nonNil(list)})
}

// GET /api/v1/assets/:id/maintenance
func (h *Handler) ListMaintenance(c *gin.Context) {
	list, err := h.svc.AssetMaintenance(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"maintenance": nonNil(list)})
}

// POST /api/v1/assets/:id/maintenance
func (h *Handler) AddMaintenance(c *gin.Context) {
	var in core.MaintenanceInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	out, err := h.svc.AddMaintenance(c.Request.Context(), sessionFrom(c), c.Param("id"), in)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newOutcomeResponse(out))
}

type maintenanceStatusRequest struct {
	Status domain.MaintenanceStatus `json:"status"`
}

// PATCH /api/v1/assets/:id/maintenance/:recordId
func (h *Handler) UpdateMaintenanceStatus(c *gin.Context) {
	var req maintenanceStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	record, _, err := h.svc.UpdateMaintenanceStatus(c.Request.Context(), sessionFrom(c), c.Param("id"), c.Param("recordId"), req.Status)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"maintenance": record})
}

// bindOptionalJSON accepts an empty body.
func bindOptionalJSON(c *gin.Context, dst any) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	return c.ShouldBindJSON(dst)
}

func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}

