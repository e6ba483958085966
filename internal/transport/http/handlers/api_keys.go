package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/leadrgg/leadr-core/internal/core/domain"
	"github.com/leadrgg/leadr-core/internal/usecase"
)

// APIKeyManager issues and administers account API keys.
type APIKeyManager interface {
	Issue(ctx context.Context, input usecase.IssueAPIKeyInput) (*domain.APIKey, string, error)
	Get(ctx context.Context, accountID, keyID string) (*domain.APIKey, error)
	List(ctx context.Context, accountID string, status *domain.APIKeyStatus) ([]domain.APIKey, error)
	CountActive(ctx context.Context, accountID string) (int, error)
	UpdateStatus(ctx context.Context, accountID, keyID string, status domain.APIKeyStatus) (*domain.APIKey, error)
	Revoke(ctx context.Context, accountID, keyID string) (*domain.APIKey, error)
}

// APIKeyHandler manages the caller account's API keys.
type APIKeyHandler struct {
	keys APIKeyManager
}

// NewAPIKeyHandler constructs an API key handler.
func NewAPIKeyHandler(keys APIKeyManager) *APIKeyHandler {
	return &APIKeyHandler{keys: keys}
}

// RegisterRoutes binds API key routes to an API key protected group.
func (h *APIKeyHandler) RegisterRoutes(r *gin.RouterGroup) {
	if r == nil {
		return
	}

	r.POST("/api-keys", h.Create)
	r.GET("/api-keys", h.List)
	r.GET("/api-keys/count", h.Count)
	r.GET("/api-keys/:id", h.Get)
	r.PATCH("/api-keys/:id", h.Update)
	r.DELETE("/api-keys/:id", h.Revoke)
}

// Create godoc
// @Summary Create an API key
// @Description The plaintext key is returned once and cannot be retrieved later.
// @Tags APIKeys
// @Security APIKey
// @Accept json
// @Produce json
// @Param request body CreateAPIKeyRequest true "Key details"
// @Success 201 {object} CreateAPIKeyResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/api-keys [post]
func (h *APIKeyHandler) Create(c *gin.Context) {
	caller, ok := requireKey(c)
	if !ok {
		return
	}

	var req CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "name is required"))
		return
	}

	key, plaintext, err := h.keys.Issue(c.Request.Context(), usecase.IssueAPIKeyInput{
		AccountID: caller.AccountID,
		UserID:    actorID(caller),
		Name:      req.Name,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		respondError(c, err, "failed to create api key")
		return
	}

	c.JSON(http.StatusCreated, CreateAPIKeyResponse{APIKeyResponse: newAPIKeyResponse(*key), Key: plaintext})
}

// List godoc
// @Summary List API keys
// @Tags APIKeys
// @Security APIKey
// @Produce json
// @Param status query string false "active or revoked"
// @Success 200 {object} ListResponse[APIKeyResponse]
// @Router /api/v1/api-keys [get]
func (h *APIKeyHandler) List(c *gin.Context) {
	caller, ok := requireKey(c)
	if !ok {
		return
	}

	var status *domain.APIKeyStatus
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		parsed := domain.APIKeyStatus(raw)
		if !parsed.Valid() {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid status"))
			return
		}
		status = &parsed
	}

	keys, err := h.keys.List(c.Request.Context(), caller.AccountID, status)
	if err != nil {
		respondError(c, err, "failed to list api keys")
		return
	}
	c.JSON(http.StatusOK, newListResponse(keys, newAPIKeyResponse))
}

// Count godoc
// @Summary Count active API keys
// @Tags APIKeys
// @Security APIKey
// @Produce json
// @Success 200 {object} CountResponse
// @Router /api/v1/api-keys/count [get]
func (h *APIKeyHandler) Count(c *gin.Context) {
	caller, ok := requireKey(c)
	if !ok {
		return
	}

	count, err := h.keys.CountActive(c.Request.Context(), caller.AccountID)
	if err != nil {
		respondError(c, err, "failed to count api keys")
		return
	}
	c.JSON(http.StatusOK, CountResponse{Count: count})
}

func (h *APIKeyHandler) Get(c *gin.Context) {
	caller, ok := requireKey(c)
	if !ok {
		return
	}

	key, err := h.keys.Get(c.Request.Context(), caller.AccountID, strings.TrimSpace(c.Param("id")))
	if err != nil {
		respondError(c, err, "failed to load api key")
		return
	}
	c.JSON(http.StatusOK, newAPIKeyResponse(*key))
}

func (h *APIKeyHandler) Update(c *gin.Context) {
	caller, ok := requireKey(c)
	if !ok {
		return
	}

	var req UpdateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "status is required"))
		return
	}

	key, err := h.keys.UpdateStatus(c.Request.Context(), caller.AccountID, strings.TrimSpace(c.Param("id")), req.Status)
	if err != nil {
		respondError(c, err, "failed to update api key")
		return
	}
	c.JSON(http.StatusOK, newAPIKeyResponse(*key))
}

// Revoke godoc
// @Summary Revoke an API key
// @Tags APIKeys
// @Security APIKey
// @Param id path string true "Key identifier"
// @Success 204 "Key revoked"
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/api-keys/{id} [delete]
func (h *APIKeyHandler) Revoke(c *gin.Context) {
	caller, ok := requireKey(c)
	if !ok {
		return
	}

	if _, err := h.keys.Revoke(c.Request.Context(), caller.AccountID, strings.TrimSpace(c.Param("id"))); err != nil {
		respondError(c, err, "failed to revoke api key")
		return
	}
	c.Status(http.StatusNoContent)
}
