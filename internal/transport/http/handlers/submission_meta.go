package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/leadrgg/leadr-core/internal/core/domain"
	"github.com/leadrgg/leadr-core/internal/core/port"
)

// SubmissionLedger reads the per device and board submission ledger.
type SubmissionLedger interface {
	GetSubmissionMeta(ctx context.Context, accountID, metaID string) (*domain.ScoreSubmissionMeta, error)
	ListSubmissionMeta(ctx context.Context, filter port.SubmissionMetaFilter) ([]domain.ScoreSubmissionMeta, error)
}

// SubmissionMetaHandler exposes read-only ledger views for support tooling.
type SubmissionMetaHandler struct {
	ledger SubmissionLedger
}

// NewSubmissionMetaHandler constructs a submission metadata handler.
func NewSubmissionMetaHandler(ledger SubmissionLedger) *SubmissionMetaHandler {
	return &SubmissionMetaHandler{ledger: ledger}
}

// RegisterRoutes binds ledger routes to an API key protected group.
func (h *SubmissionMetaHandler) RegisterRoutes(r *gin.RouterGroup) {
	if r == nil {
		return
	}

	r.GET("/submission-meta", h.List)
	r.GET("/submission-meta/:id", h.Get)
}

func (h *SubmissionMetaHandler) List(c *gin.Context) {
	caller, ok := requireKey(c)
	if !ok {
		return
	}

	rows, err := h.ledger.ListSubmissionMeta(c.Request.Context(), port.SubmissionMetaFilter{
		AccountID: caller.AccountID,
		DeviceID:  strings.TrimSpace(c.Query("device_id")),
		BoardID:   strings.TrimSpace(c.Query("board_id")),
	})
	if err != nil {
		respondError(c, err, "failed to list submission metadata")
		return
	}
	c.JSON(http.StatusOK, newListResponse(rows, newSubmissionMetaResponse))
}

func (h *SubmissionMetaHandler) Get(c *gin.Context) {
	caller, ok := requireKey(c)
	if !ok {
		return
	}

	row, err := h.ledger.GetSubmissionMeta(c.Request.Context(), caller.AccountID, strings.TrimSpace(c.Param("id")))
	if err != nil {
		respondError(c, err, "failed to load submission metadata")
		return
	}
	c.JSON(http.StatusOK, newSubmissionMetaResponse(*row))
}
