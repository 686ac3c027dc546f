package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/refnet/backend/internal/application/rank"
)

// RankHandler handles rank promotion API endpoints
type RankHandler struct {
	BaseHandler
	rankService *rank.Service
}

// NewRankHandler creates a new RankHandler
func NewRankHandler(rankService *rank.Service) *RankHandler {
	return &RankHandler{
		rankService: rankService,
	}
}

// ReevaluateResponse reports whether a promotion happened
type ReevaluateResponse struct {
	UserID   uuid.UUID `json:"user_id"`
	Promoted bool      `json:"promoted"`
}

// Reevaluate handles POST /users/:id/rank/reevaluate
func (h *RankHandler) Reevaluate(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid user ID format")
		return
	}

	promoted, err := h.rankService.Reevaluate(c.Request.Context(), userID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, ReevaluateResponse{UserID: userID, Promoted: promoted})
}
