package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/leadrgg/leadr-core/internal/core/domain"
	"github.com/leadrgg/leadr-core/internal/core/port"
	"github.com/leadrgg/leadr-core/internal/usecase"
)

// ScoreFlagReviewer lists and reviews anti-cheat detections.
type ScoreFlagReviewer interface {
	List(ctx context.Context, accountID string, filter port.ScoreFlagFilter) ([]domain.ScoreFlag, error)
	Get(ctx context.Context, accountID, flagID string) (*domain.ScoreFlag, error)
	Review(ctx context.Context, accountID, flagID string, input usecase.ReviewInput) (*domain.ScoreFlag, error)
	Update(ctx context.Context, accountID, flagID string, status *domain.FlagStatus, decision *string) (*domain.ScoreFlag, error)
}

// ScoreFlagHandler exposes the moderation queue.
type ScoreFlagHandler struct {
	flags ScoreFlagReviewer
}

// NewScoreFlagHandler constructs a score flag handler.
func NewScoreFlagHandler(flags ScoreFlagReviewer) *ScoreFlagHandler {
	return &ScoreFlagHandler{flags: flags}
}

// RegisterRoutes binds score flag routes to an API key protected group.
func (h *ScoreFlagHandler) RegisterRoutes(r *gin.RouterGroup) {
	if r == nil {
		return
	}

	r.GET("/score-flags", h.List)
	r.GET("/score-flags/:id", h.Get)
	r.PATCH("/score-flags/:id", h.Update)
	r.POST("/score-flags/:id/review", h.Review)
}

// List godoc
// @Summary List score flags
// @Tags ScoreFlags
// @Security APIKey
// @Produce json
// @Param status query string false "PENDING, CONFIRMED_CHEAT, FALSE_POSITIVE or DISMISSED"
// @Param board_id query string false "Board filter"
// @Param device_id query string false "Device filter"
// @Success 200 {object} ListResponse[ScoreFlagResponse]
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/score-flags [get]
func (h *ScoreFlagHandler) List(c *gin.Context) {
	caller, ok := requireKey(c)
	if !ok {
		return
	}

	filter := port.ScoreFlagFilter{
		BoardID:  strings.TrimSpace(c.Query("board_id")),
		DeviceID: strings.TrimSpace(c.Query("device_id")),
	}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status := domain.FlagStatus(strings.ToUpper(raw))
		filter.Status = &status
	}

	flags, err := h.flags.List(c.Request.Context(), caller.AccountID, filter)
	if err != nil {
		respondError(c, err, "failed to list score flags")
		return
	}
	c.JSON(http.StatusOK, newListResponse(flags, newScoreFlagResponse))
}

func (h *ScoreFlagHandler) Get(c *gin.Context) {
	caller, ok := requireKey(c)
	if !ok {
		return
	}

	flag, err := h.flags.Get(c.Request.Context(), caller.AccountID, strings.TrimSpace(c.Param("id")))
	if err != nil {
		respondError(c, err, "failed to load score flag")
		return
	}
	c.JSON(http.StatusOK, newScoreFlagResponse(*flag))
}

// Update godoc
// @Summary Amend a score flag
// @Description Changes status or decision text without recording a review.
// @Tags ScoreFlags
// @Security APIKey
// @Accept json
// @Produce json
// @Param id path string true "Flag identifier"
// @Param request body UpdateScoreFlagRequest true "Changes"
// @Success 200 {object} ScoreFlagResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/score-flags/{id} [patch]
func (h *ScoreFlagHandler) Update(c *gin.Context) {
	caller, ok := requireKey(c)
	if !ok {
		return
	}

	var req UpdateScoreFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid request body"))
		return
	}

	flag, err := h.flags.Update(c.Request.Context(), caller.AccountID, strings.TrimSpace(c.Param("id")), req.Status, req.ReviewerDecision)
	if err != nil {
		respondError(c, err, "failed to update score flag")
		return
	}
	c.JSON(http.StatusOK, newScoreFlagResponse(*flag))
}

// Review godoc
// @Summary Review a score flag
// @Tags ScoreFlags
// @Security APIKey
// @Accept json
// @Produce json
// @Param id path string true "Flag identifier"
// @Param request body ReviewScoreFlagRequest true "Decision"
// @Success 200 {object} ScoreFlagResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/score-flags/{id}/review [post]
func (h *ScoreFlagHandler) Review(c *gin.Context) {
	caller, ok := requireKey(c)
	if !ok {
		return
	}

	var req ReviewScoreFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "status is required"))
		return
	}

	reviewer := actorID(caller)
	flag, err := h.flags.Review(c.Request.Context(), caller.AccountID, strings.TrimSpace(c.Param("id")), usecase.ReviewInput{
		Status:     req.Status,
		Decision:   req.ReviewerDecision,
		ReviewerID: &reviewer,
	})
	if err != nil {
		respondError(c, err, "failed to review score flag")
		return
	}
	c.JSON(http.StatusOK, newScoreFlagResponse(*flag))
}
