package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/refnet/backend/internal/application/report"
	"github.com/refnet/backend/internal/interfaces/http/dto"
)

// ReportHandler handles ledger and dashboard API endpoints
type ReportHandler struct {
	BaseHandler
	reportService *report.Service
}

// NewReportHandler creates a new ReportHandler
func NewReportHandler(reportService *report.Service) *ReportHandler {
	return &ReportHandler{
		reportService: reportService,
	}
}

// ListLedgerRequest represents the ledger listing query parameters
type ListLedgerRequest struct {
	dto.ListRequest
	Level        *int   `form:"level" binding:"omitempty,min=0,max=10"`
	SourceUserID string `form:"source_user_id" binding:"omitempty,uuid"`
	TargetUserID string `form:"target_user_id" binding:"omitempty,uuid"`
}

// Ledger handles GET /ledger/records
func (h *ReportHandler) Ledger(c *gin.Context) {
	var req ListLedgerRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}
	req.ListRequest.ApplyDefaults()

	filter := toFilter(req.ListRequest)
	if req.Level != nil {
		filter.Filters["level"] = *req.Level
	}
	if req.SourceUserID != "" {
		filter.Filters["source_user_id"] = req.SourceUserID
	}
	if req.TargetUserID != "" {
		filter.Filters["target_user_id"] = req.TargetUserID
	}

	page, err := h.reportService.Ledger(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.SuccessWithMeta(c, page.Items, page.Total, page.Page, page.PageSize)
}

// LedgerOriginated handles GET /ledger/users/:id/originated
func (h *ReportHandler) LedgerOriginated(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid user ID format")
		return
	}

	var req dto.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}
	req.ApplyDefaults()

	page, err := h.reportService.LedgerOriginatedBy(c.Request.Context(), userID, toFilter(req))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.SuccessWithMeta(c, page.Items, page.Total, page.Page, page.PageSize)
}

// LedgerForAward handles GET /ledger/awards/:award_id
func (h *ReportHandler) LedgerForAward(c *gin.Context) {
	awardID, err := uuid.Parse(c.Param("award_id"))
	if err != nil {
		h.BadRequest(c, "Invalid award ID format")
		return
	}

	records, err := h.reportService.LedgerForAward(c.Request.Context(), awardID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, records)
}

// LedgerForUser handles GET /ledger/users/:id/received
func (h *ReportHandler) LedgerForUser(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid user ID format")
		return
	}

	var req dto.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}
	req.ApplyDefaults()

	page, err := h.reportService.LedgerForUser(c.Request.Context(), userID, toFilter(req))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.SuccessWithMeta(c, page.Items, page.Total, page.Page, page.PageSize)
}

// Dashboard handles GET /reports/users/:id/earnings
func (h *ReportHandler) Dashboard(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid user ID format")
		return
	}

	dashboard, err := h.reportService.Dashboard(c.Request.Context(), userID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, dashboard)
}

// Summary handles GET /reports/distribution/summary
func (h *ReportHandler) Summary(c *gin.Context) {
	summary, err := h.reportService.Summary(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, summary)
}
