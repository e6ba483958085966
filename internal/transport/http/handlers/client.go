package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/leadrgg/leadr-core/internal/core/domain"
	"github.com/leadrgg/leadr-core/internal/transport/http/middleware"
	"github.com/leadrgg/leadr-core/internal/usecase"
)

const tokenTypeBearer = "Bearer"

// ClientSessions issues and rotates device tokens.
type ClientSessions interface {
	StartSession(ctx context.Context, input usecase.StartSessionInput) (*usecase.SessionTokens, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (*usecase.SessionTokens, error)
}

// NonceIssuer hands out single-use nonces.
type NonceIssuer interface {
	Issue(ctx context.Context, deviceID string) (*domain.Nonce, error)
}

// ScoreSubmitter screens and stores score submissions.
type ScoreSubmitter interface {
	Submit(ctx context.Context, input usecase.SubmitInput) (*usecase.SubmissionResult, error)
}

// ClientHandler serves the game client endpoints.
type ClientHandler struct {
	sessions ClientSessions
	nonces   NonceIssuer
	scores   ScoreSubmitter
}

// NewClientHandler constructs a client handler.
func NewClientHandler(sessions ClientSessions, nonces NonceIssuer, scores ScoreSubmitter) *ClientHandler {
	return &ClientHandler{sessions: sessions, nonces: nonces, scores: scores}
}

// StartSession godoc
// @Summary Start a device session
// @Description Registers the device on first sight and issues an access/refresh token pair.
// @Tags Client
// @Accept json
// @Produce json
// @Param request body StartSessionRequest true "Device identity"
// @Success 201 {object} StartSessionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 429 {object} middleware.ProblemDetails
// @Router /api/v1/client/sessions [post]
func (h *ClientHandler) StartSession(c *gin.Context) {
	var req StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "game_id and device_id are required"))
		return
	}

	reqCtx := middleware.GetRequestContext(c)
	tokens, err := h.sessions.StartSession(c.Request.Context(), usecase.StartSessionInput{
		GameID:         strings.TrimSpace(req.GameID),
		ClientDeviceID: strings.TrimSpace(req.DeviceID),
		Platform:       req.Platform,
		IP:             optionalValue(reqCtx.IP),
		UserAgent:      optionalValue(reqCtx.UserAgent),
		Metadata:       req.Metadata,
	})
	if err != nil {
		respondError(c, err, "failed to start session")
		return
	}

	c.JSON(http.StatusCreated, StartSessionResponse{
		Device:           newDeviceResponse(tokens.Device),
		SessionID:        tokens.SessionID,
		AccessToken:      tokens.AccessToken,
		RefreshToken:     tokens.RefreshToken,
		TokenType:        tokenTypeBearer,
		ExpiresIn:        tokens.ExpiresIn,
		RefreshExpiresIn: tokens.RefreshExpiresIn,
	})
}

// RefreshSession godoc
// @Summary Rotate a device session
// @Description Exchanges a refresh token for a new pair. Each refresh token works once.
// @Tags Client
// @Accept json
// @Produce json
// @Param request body RefreshTokenRequest true "Refresh token"
// @Success 200 {object} RefreshTokenResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/client/sessions/refresh [post]
func (h *ClientHandler) RefreshSession(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "refresh_token is required"))
		return
	}

	tokens, err := h.sessions.RefreshAccessToken(c.Request.Context(), strings.TrimSpace(req.RefreshToken))
	if err != nil {
		respondError(c, err, "failed to refresh session")
		return
	}

	c.JSON(http.StatusOK, RefreshTokenResponse{
		AccessToken:      tokens.AccessToken,
		RefreshToken:     tokens.RefreshToken,
		TokenType:        tokenTypeBearer,
		ExpiresIn:        tokens.ExpiresIn,
		RefreshExpiresIn: tokens.RefreshExpiresIn,
	})
}

// IssueNonce godoc
// @Summary Issue a nonce
// @Description Returns a single-use nonce bound to the calling device.
// @Tags Client
// @Security Bearer
// @Produce json
// @Success 200 {object} NonceResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/client/nonce [get]
func (h *ClientHandler) IssueNonce(c *gin.Context) {
	device, ok := middleware.GetDevice(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "unauthenticated"))
		return
	}

	nonce, err := h.nonces.Issue(c.Request.Context(), device.ID)
	if err != nil {
		respondError(c, err, "failed to issue nonce")
		return
	}

	c.JSON(http.StatusOK, NonceResponse{NonceValue: nonce.Value, ExpiresAt: nonce.ExpiresAt})
}

// SubmitScore godoc
// @Summary Submit a score
// @Description Screens the submission and stores it unless the verdict rejects it.
// @Tags Client
// @Security Bearer
// @Accept json
// @Produce json
// @Param leadr-client-nonce header string true "Single-use nonce"
// @Param request body SubmitScoreRequest true "Score"
// @Success 201 {object} SubmitScoreResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 412 {object} ErrorResponse
// @Failure 422 {object} SubmitScoreResponse
// @Router /api/v1/client/scores [post]
func (h *ClientHandler) SubmitScore(c *gin.Context) {
	device, ok := middleware.GetDevice(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "unauthenticated"))
		return
	}

	var req SubmitScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "board_id, player_name and value are required"))
		return
	}

	result, err := h.scores.Submit(c.Request.Context(), usecase.SubmitInput{
		AccountID:    device.AccountID,
		GameID:       device.GameID,
		BoardID:      strings.TrimSpace(req.BoardID),
		DeviceID:     device.ID,
		PlayerName:   strings.TrimSpace(req.PlayerName),
		Value:        *req.Value,
		ValueDisplay: req.ValueDisplay,
		Metadata:     req.Metadata,
	})
	if err != nil {
		respondError(c, err, "failed to submit score")
		return
	}

	status := http.StatusCreated
	if result.Rejected() {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, newSubmitScoreResponse(*result))
}

func optionalValue(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
