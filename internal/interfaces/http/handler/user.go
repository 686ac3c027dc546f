package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/refnet/backend/internal/application/directory"
	"github.com/refnet/backend/internal/domain/shared"
	"github.com/refnet/backend/internal/interfaces/http/dto"
	"github.com/refnet/backend/internal/interfaces/http/middleware"
)

// UserHandler handles user directory API endpoints
type UserHandler struct {
	BaseHandler
	directoryService *directory.Service
}

// NewUserHandler creates a new UserHandler
func NewUserHandler(directoryService *directory.Service) *UserHandler {
	return &UserHandler{
		directoryService: directoryService,
	}
}

// RegisterUserRequest represents a request to register a new member
type RegisterUserRequest struct {
	Name  string `json:"name" binding:"required,min=1,max=200"`
	Email string `json:"email" binding:"required,email,max=200"`
	// ReferrerCode links the new member under an existing one. Empty
	// creates a root member.
	ReferrerCode string `json:"referrer_code" binding:"omitempty,max=32"`
}

// ListUsersRequest represents the user listing query parameters
type ListUsersRequest struct {
	dto.ListRequest
	Rank    *int `form:"rank" binding:"omitempty,min=0,max=10"`
	MinRank *int `form:"min_rank" binding:"omitempty,min=0,max=10"`
}

// Register handles POST /users
func (h *UserHandler) Register(c *gin.Context) {
	var req RegisterUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	view, err := h.directoryService.Register(c.Request.Context(), directory.RegisterRequest{
		Name:         req.Name,
		Email:        req.Email,
		ReferrerCode: req.ReferrerCode,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Created(c, view)
}

// GetByID handles GET /users/:id
func (h *UserHandler) GetByID(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid user ID format")
		return
	}

	view, err := h.directoryService.Get(c.Request.Context(), userID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, view)
}

// GetByReferralCode handles GET /referral-codes/:code
func (h *UserHandler) GetByReferralCode(c *gin.Context) {
	code := c.Param("code")
	if code == "" {
		h.BadRequest(c, "Referral code is required")
		return
	}

	view, err := h.directoryService.GetByReferralCode(c.Request.Context(), code)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, view)
}

// List handles GET /users
func (h *UserHandler) List(c *gin.Context) {
	var req ListUsersRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}
	req.ListRequest.ApplyDefaults()

	filter := toFilter(req.ListRequest)
	if req.Rank != nil {
		filter.Filters["rank"] = *req.Rank
	}
	if req.MinRank != nil {
		filter.Filters["min_rank"] = *req.MinRank
	}

	page, err := h.directoryService.List(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.SuccessWithMeta(c, page.Items, page.Total, page.Page, page.PageSize)
}

// Downline handles GET /users/:id/downline
func (h *UserHandler) Downline(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid user ID format")
		return
	}

	views, err := h.directoryService.DirectDownline(c.Request.Context(), userID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, views)
}

// RankCardResponse is the standing shown on the member rank card
type RankCardResponse struct {
	UserID          uuid.UUID `json:"user_id"`
	Rank            int       `json:"rank"`
	RankTitle       string    `json:"rank_title"`
	NextRequirement string    `json:"next_requirement"`
}

// GetRank handles GET /users/:id/rank
func (h *UserHandler) GetRank(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid user ID format")
		return
	}

	view, err := h.directoryService.Get(c.Request.Context(), userID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, RankCardResponse{
		UserID:          view.ID,
		Rank:            view.Rank,
		RankTitle:       view.RankTitle,
		NextRequirement: view.NextRequirement,
	})
}

// GrantAdmin handles POST /users/:id/admin
func (h *UserHandler) GrantAdmin(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid user ID format")
		return
	}

	view, err := h.directoryService.GrantAdmin(c.Request.Context(), userID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, view)
}

// toFilter converts bound query parameters into a repository filter.
func toFilter(req dto.ListRequest) shared.Filter {
	return shared.Filter{
		Page:     req.Page,
		PageSize: req.PageSize,
		OrderBy:  req.OrderBy,
		OrderDir: req.OrderDir,
		Search:   req.Search,
		Filters:  make(map[string]interface{}),
	}
}
