package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/refnet/backend/internal/application/distribution"
	"github.com/refnet/backend/internal/interfaces/http/middleware"
)

// DistributionHandler handles point award API endpoints
type DistributionHandler struct {
	BaseHandler
	distributionService *distribution.Service
}

// NewDistributionHandler creates a new DistributionHandler
func NewDistributionHandler(distributionService *distribution.Service) *DistributionHandler {
	return &DistributionHandler{
		distributionService: distributionService,
	}
}

// DistributePointsRequest represents a request to award points to a member.
// The award ID makes retries safe: the same award ID is applied at most
// once. When omitted the server generates one and returns it.
type DistributePointsRequest struct {
	AwardID      string `json:"award_id" binding:"omitempty,uuid"`
	SourceUserID string `json:"source_user_id" binding:"required,uuid"`
	Points       int64  `json:"points" binding:"required,gt=0"`
}

// Distribute handles POST /distribution/awards
func (h *DistributionHandler) Distribute(c *gin.Context) {
	adminID, ok := middleware.GetAdminID(c)
	if !ok {
		h.Unauthorized(c, "Admin identity is required")
		return
	}

	var req DistributePointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	awardID := uuid.New()
	if req.AwardID != "" {
		parsed, err := uuid.Parse(req.AwardID)
		if err != nil {
			h.BadRequest(c, "Invalid award ID format")
			return
		}
		awardID = parsed
	}
	sourceID, err := uuid.Parse(req.SourceUserID)
	if err != nil {
		h.BadRequest(c, "Invalid source user ID format")
		return
	}

	result, err := h.distributionService.Distribute(c.Request.Context(), distribution.DistributeRequest{
		AwardID:         awardID,
		SourceUserID:    sourceID,
		Points:          req.Points,
		DistributedByID: adminID,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Created(c, result)
}

// GetAward handles GET /distribution/awards/:award_id
func (h *DistributionHandler) GetAward(c *gin.Context) {
	awardID, err := uuid.Parse(c.Param("award_id"))
	if err != nil {
		h.BadRequest(c, "Invalid award ID format")
		return
	}

	view, err := h.distributionService.Award(c.Request.Context(), awardID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, view)
}
