package domain

import "time"

// DeviceStatus captures the moderation state of a game client.
type DeviceStatus string

const (
	DeviceStatusActive    DeviceStatus = "active"
	DeviceStatusBanned    DeviceStatus = "banned"
	DeviceStatusSuspended DeviceStatus = "suspended"
)

// Valid reports whether the status is one of the known device states.
func (s DeviceStatus) Valid() bool {
	switch s {
	case DeviceStatusActive, DeviceStatusBanned, DeviceStatusSuspended:
		return true
	}
	return false
}

// Device identifies a game client instance. ClientDeviceID is the client supplied
// identifier and is unique per game among non-deleted devices.
type Device struct {
	ID             string
	GameID         string
	AccountID      string
	ClientDeviceID string
	Platform       *string
	Status         DeviceStatus
	FirstSeenAt    time.Time
	LastSeenAt     time.Time
	Metadata       map[string]any
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time
}

// NewDevice builds a freshly observed device owned by the supplied game.
func NewDevice(id string, game Game, clientDeviceID string, platform *string, metadata map[string]any, at time.Time) Device {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return Device{
		ID:             id,
		GameID:         game.ID,
		AccountID:      game.AccountID,
		ClientDeviceID: clientDeviceID,
		Platform:       copyString(platform),
		Status:         DeviceStatusActive,
		FirstSeenAt:    at,
		LastSeenAt:     at,
		Metadata:       metadata,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
}

// IsActive reports whether the device may authenticate.
func (d Device) IsActive() bool {
	return d.Status == DeviceStatusActive && d.DeletedAt == nil
}

// Seen returns the device with last-seen refreshed. A platform is only filled in when
// none was recorded before.
func (d Device) Seen(at time.Time, platform *string) Device {
	next := d
	next.LastSeenAt = at
	next.UpdatedAt = at
	if next.Platform == nil && platform != nil && *platform != "" {
		next.Platform = copyString(platform)
	}
	return next
}

// Ban returns the device in the banned state.
func (d Device) Ban(at time.Time) Device { return d.withStatus(DeviceStatusBanned, at) }

// Suspend returns the device in the suspended state.
func (d Device) Suspend(at time.Time) Device { return d.withStatus(DeviceStatusSuspended, at) }

// Activate returns the device in the active state.
func (d Device) Activate(at time.Time) Device { return d.withStatus(DeviceStatusActive, at) }

func (d Device) withStatus(status DeviceStatus, at time.Time) Device {
	next := d
	if next.Status != status {
		next.Status = status
		next.UpdatedAt = at
	}
	return next
}

func copyString(value *string) *string {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}

func copyTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}
