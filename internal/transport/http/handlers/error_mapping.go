package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/leadrgg/leadr-core/internal/usecase"
)

// ErrorCase maps a sentinel error to an HTTP status code and response message.
type ErrorCase struct {
	Err     error
	Status  int
	Message string
}

// commonCases covers the sentinels every admin and client endpoint can produce.
var commonCases = []ErrorCase{
	{Err: usecase.ErrUnauthenticated, Status: http.StatusUnauthorized, Message: "unauthenticated"},
	{Err: usecase.ErrNoncePrecondition, Status: http.StatusPreconditionFailed, Message: "a fresh nonce is required; request one and retry"},
	{Err: usecase.ErrGameNotFound, Status: http.StatusNotFound, Message: "game not found"},
	{Err: usecase.ErrBoardNotFound, Status: http.StatusNotFound, Message: "board not found"},
	{Err: usecase.ErrBoardMismatch, Status: http.StatusBadRequest, Message: "board does not belong to this game"},
	{Err: usecase.ErrDeviceNotFound, Status: http.StatusNotFound, Message: "device not found"},
	{Err: usecase.ErrSessionNotFound, Status: http.StatusNotFound, Message: "device session not found"},
	{Err: usecase.ErrAPIKeyNotFound, Status: http.StatusNotFound, Message: "api key not found"},
	{Err: usecase.ErrFlagNotFound, Status: http.StatusNotFound, Message: "score flag not found"},
	{Err: usecase.ErrSubmissionMetaNotFound, Status: http.StatusNotFound, Message: "submission metadata not found"},
	{Err: usecase.ErrInvalidStatus, Status: http.StatusBadRequest, Message: "invalid status"},
}

// RespondWithMappedError resolves the provided error against known cases or falls back to a generic response.
func RespondWithMappedError(c *gin.Context, err error, cases []ErrorCase, fallbackStatus int, fallbackMessage string) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}

	for _, cs := range cases {
		if cs.Err == nil {
			continue
		}
		if errors.Is(err, cs.Err) {
			c.JSON(cs.Status, NewErrorResponse(c, cs.Message))
			return
		}
	}

	// Validation errors carry caller-facing messages.
	if errors.Is(err, usecase.ErrValidation) {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, err.Error()))
		return
	}

	_ = c.Error(err)
	c.JSON(fallbackStatus, NewErrorResponse(c, fallbackMessage))
}

func respondError(c *gin.Context, err error, fallbackMessage string) {
	RespondWithMappedError(c, err, commonCases, http.StatusInternalServerError, fallbackMessage)
}
