package port

import (
	"context"
	"time"

	"github.com/leadrgg/leadr-core/internal/core/domain"
)

// DeviceFilter narrows device listings. AccountID is required.
type DeviceFilter struct {
	AccountID string
	GameID    string
	Status    *domain.DeviceStatus
}

// DeviceSessionFilter narrows session listings. AccountID is required.
type DeviceSessionFilter struct {
	AccountID string
	DeviceID  string
}

// DeviceRepository persists game client identities.
type DeviceRepository interface {
	Create(ctx context.Context, device domain.Device) error
	Get(ctx context.Context, deviceID string) (*domain.Device, error)
	GetByClientID(ctx context.Context, gameID, clientDeviceID string) (*domain.Device, error)
	List(ctx context.Context, filter DeviceFilter) ([]domain.Device, error)
	Update(ctx context.Context, device domain.Device) error
}

// DeviceSessionRepository persists issued token pairs.
type DeviceSessionRepository interface {
	Create(ctx context.Context, session domain.DeviceSession) error
	Get(ctx context.Context, sessionID string) (*domain.DeviceSession, error)
	GetByAccessTokenHash(ctx context.Context, hash string) (*domain.DeviceSession, error)
	GetByRefreshTokenHash(ctx context.Context, hash string) (*domain.DeviceSession, error)
	ListByDevice(ctx context.Context, deviceID string) ([]domain.DeviceSession, error)
	// List returns the sessions of every non-deleted device of the account.
	List(ctx context.Context, filter DeviceSessionFilter) ([]domain.DeviceSession, error)
	// Rotate stores next only while the row still carries expectedVersion and is not revoked.
	// A lost race reports repository.ErrConflict.
	Rotate(ctx context.Context, next domain.DeviceSession, expectedVersion int) error
	Revoke(ctx context.Context, sessionID string, at time.Time) error
}
