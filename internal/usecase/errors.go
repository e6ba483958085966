package usecase

import (
	"errors"

	"go.opentelemetry.io/otel"
)

var (
	// ErrUnauthenticated covers every credential failure: bad signature, expiry, revocation,
	// replayed refresh tokens, inactive devices and unknown API keys.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrValidation indicates malformed caller input.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidStatus indicates an unknown status value.
	ErrInvalidStatus = errors.New("invalid status")

	// ErrGameNotFound indicates the referenced game does not exist.
	ErrGameNotFound = errors.New("game not found")
	// ErrBoardNotFound indicates the referenced board does not exist.
	ErrBoardNotFound = errors.New("board not found")
	// ErrBoardMismatch indicates the board belongs to another account or game.
	ErrBoardMismatch = errors.New("board does not belong to account or game")
	// ErrDeviceNotFound indicates the device does not exist or belongs to another account.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrSessionNotFound indicates the device session does not exist or belongs to another account.
	ErrSessionNotFound = errors.New("device session not found")
	// ErrAPIKeyNotFound indicates the API key does not exist or belongs to another account.
	ErrAPIKeyNotFound = errors.New("api key not found")
	// ErrFlagNotFound indicates the score flag does not exist or belongs to another account.
	ErrFlagNotFound = errors.New("score flag not found")
	// ErrSubmissionMetaNotFound indicates the submission ledger row does not exist.
	ErrSubmissionMetaNotFound = errors.New("submission metadata not found")

	// ErrNoncePrecondition is the umbrella for every nonce failure. Callers surface it as a
	// single "retry with a fresh nonce" outcome.
	ErrNoncePrecondition = errors.New("nonce precondition failed")
	// ErrNonceNotFound indicates the nonce value is unknown or malformed.
	ErrNonceNotFound = errors.New("nonce not found")
	// ErrNonceDeviceMismatch indicates the nonce was issued to another device.
	ErrNonceDeviceMismatch = errors.New("nonce does not belong to device")
	// ErrNonceAlreadyUsed indicates the nonce was consumed before.
	ErrNonceAlreadyUsed = errors.New("nonce already used")
	// ErrNonceExpired indicates the nonce outlived its TTL.
	ErrNonceExpired = errors.New("nonce expired")
)

var tracer = otel.Tracer("github.com/leadrgg/leadr-core/internal/usecase")
