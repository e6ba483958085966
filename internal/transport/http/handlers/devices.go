package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/leadrgg/leadr-core/internal/core/domain"
	"github.com/leadrgg/leadr-core/internal/core/port"
	"github.com/leadrgg/leadr-core/internal/transport/http/middleware"
)

// DeviceModeration reads devices and their sessions and changes their standing.
type DeviceModeration interface {
	ListDevices(ctx context.Context, filter port.DeviceFilter) ([]domain.Device, error)
	ListAccountSessions(ctx context.Context, filter port.DeviceSessionFilter) ([]domain.DeviceSession, error)
	GetDevice(ctx context.Context, accountID, deviceID string) (*domain.Device, error)
	ListSessions(ctx context.Context, accountID, deviceID string) ([]domain.DeviceSession, error)
	GetSession(ctx context.Context, accountID, sessionID string) (*domain.DeviceSession, error)
	RevokeSession(ctx context.Context, accountID, sessionID, revokedBy string) (*domain.DeviceSession, error)
	BanDevice(ctx context.Context, accountID, deviceID, changedBy string) (*domain.Device, error)
	SuspendDevice(ctx context.Context, accountID, deviceID, changedBy string) (*domain.Device, error)
	ActivateDevice(ctx context.Context, accountID, deviceID, changedBy string) (*domain.Device, error)
}

// DeviceHandler exposes device moderation to account API keys.
type DeviceHandler struct {
	devices DeviceModeration
}

// NewDeviceHandler constructs a device handler.
func NewDeviceHandler(devices DeviceModeration) *DeviceHandler {
	return &DeviceHandler{devices: devices}
}

// RegisterRoutes binds device and device-session routes to an API key protected group.
func (h *DeviceHandler) RegisterRoutes(r *gin.RouterGroup) {
	if r == nil {
		return
	}

	r.GET("/devices", h.ListDevices)
	r.GET("/devices/:id", h.GetDevice)
	r.GET("/devices/:id/sessions", h.ListSessions)
	r.POST("/devices/:id/ban", h.moderate("ban", h.devices.BanDevice))
	r.POST("/devices/:id/suspend", h.moderate("suspend", h.devices.SuspendDevice))
	r.POST("/devices/:id/activate", h.moderate("activate", h.devices.ActivateDevice))
	r.GET("/device-sessions", h.ListAccountSessions)
	r.GET("/device-sessions/:id", h.GetSession)
	r.POST("/device-sessions/:id/revoke", h.RevokeSession)
}

// ListDevices godoc
// @Summary List the account's devices
// @Tags Devices
// @Security APIKey
// @Produce json
// @Param game_id query string false "Game identifier"
// @Param status query string false "active, banned or suspended"
// @Success 200 {object} ListResponse[DeviceResponse]
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/devices [get]
func (h *DeviceHandler) ListDevices(c *gin.Context) {
	key, ok := requireKey(c)
	if !ok {
		return
	}

	filter := port.DeviceFilter{
		AccountID: key.AccountID,
		GameID:    strings.TrimSpace(c.Query("game_id")),
	}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status := domain.DeviceStatus(strings.ToLower(raw))
		filter.Status = &status
	}

	devices, err := h.devices.ListDevices(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err, "failed to list devices")
		return
	}
	c.JSON(http.StatusOK, newListResponse(devices, newDeviceResponse))
}

// GetDevice godoc
// @Summary Get a device
// @Tags Devices
// @Security APIKey
// @Produce json
// @Param id path string true "Device identifier"
// @Success 200 {object} DeviceResponse
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/devices/{id} [get]
func (h *DeviceHandler) GetDevice(c *gin.Context) {
	key, ok := requireKey(c)
	if !ok {
		return
	}

	device, err := h.devices.GetDevice(c.Request.Context(), key.AccountID, strings.TrimSpace(c.Param("id")))
	if err != nil {
		respondError(c, err, "failed to load device")
		return
	}
	c.JSON(http.StatusOK, newDeviceResponse(*device))
}

// ListSessions godoc
// @Summary List a device's sessions
// @Tags Devices
// @Security APIKey
// @Produce json
// @Param id path string true "Device identifier"
// @Success 200 {object} ListResponse[DeviceSessionResponse]
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/devices/{id}/sessions [get]
func (h *DeviceHandler) ListSessions(c *gin.Context) {
	key, ok := requireKey(c)
	if !ok {
		return
	}

	sessions, err := h.devices.ListSessions(c.Request.Context(), key.AccountID, strings.TrimSpace(c.Param("id")))
	if err != nil {
		respondError(c, err, "failed to list device sessions")
		return
	}
	c.JSON(http.StatusOK, newListResponse(sessions, newDeviceSessionResponse))
}

// ListAccountSessions godoc
// @Summary List the account's device sessions
// @Tags Devices
// @Security APIKey
// @Produce json
// @Param device_id query string false "Device identifier"
// @Success 200 {object} ListResponse[DeviceSessionResponse]
// @Router /api/v1/device-sessions [get]
func (h *DeviceHandler) ListAccountSessions(c *gin.Context) {
	key, ok := requireKey(c)
	if !ok {
		return
	}

	sessions, err := h.devices.ListAccountSessions(c.Request.Context(), port.DeviceSessionFilter{
		AccountID: key.AccountID,
		DeviceID:  strings.TrimSpace(c.Query("device_id")),
	})
	if err != nil {
		respondError(c, err, "failed to list device sessions")
		return
	}
	c.JSON(http.StatusOK, newListResponse(sessions, newDeviceSessionResponse))
}

// GetSession godoc
// @Summary Get a device session
// @Tags Devices
// @Security APIKey
// @Produce json
// @Param id path string true "Session identifier"
// @Success 200 {object} DeviceSessionResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/device-sessions/{id} [get]
func (h *DeviceHandler) GetSession(c *gin.Context) {
	key, ok := requireKey(c)
	if !ok {
		return
	}

	session, err := h.devices.GetSession(c.Request.Context(), key.AccountID, strings.TrimSpace(c.Param("id")))
	if err != nil {
		respondError(c, err, "failed to load device session")
		return
	}
	c.JSON(http.StatusOK, newDeviceSessionResponse(*session))
}

// RevokeSession godoc
// @Summary Revoke a device session
// @Description Revoking an already revoked session succeeds without changes.
// @Tags Devices
// @Security APIKey
// @Produce json
// @Param id path string true "Session identifier"
// @Success 200 {object} DeviceSessionResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/device-sessions/{id}/revoke [post]
func (h *DeviceHandler) RevokeSession(c *gin.Context) {
	key, ok := requireKey(c)
	if !ok {
		return
	}

	session, err := h.devices.RevokeSession(c.Request.Context(), key.AccountID, strings.TrimSpace(c.Param("id")), actorID(key))
	if err != nil {
		respondError(c, err, "failed to revoke device session")
		return
	}
	c.JSON(http.StatusOK, newDeviceSessionResponse(*session))
}

type moderationFunc func(ctx context.Context, accountID, deviceID, changedBy string) (*domain.Device, error)

func (h *DeviceHandler) moderate(action string, apply moderationFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := requireKey(c)
		if !ok {
			return
		}

		device, err := apply(c.Request.Context(), key.AccountID, strings.TrimSpace(c.Param("id")), actorID(key))
		if err != nil {
			respondError(c, err, "failed to "+action+" device")
			return
		}
		c.JSON(http.StatusOK, newDeviceResponse(*device))
	}
}

func requireKey(c *gin.Context) (*domain.APIKey, bool) {
	key, ok := middleware.GetAPIKey(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "unauthenticated"))
		return nil, false
	}
	return key, true
}

// actorID attributes admin actions to the user that owns the calling key.
func actorID(key *domain.APIKey) string {
	if key.UserID != "" {
		return key.UserID
	}
	return key.ID
}
