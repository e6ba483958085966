package postgres

import (
	"context"
	"database/sql"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/leadrgg/leadr-core/internal/core/domain"
	"github.com/leadrgg/leadr-core/internal/core/port"
	"github.com/leadrgg/leadr-core/internal/repository"
)

var deviceColumns = []string{
	"id",
	"game_id",
	"account_id",
	"device_id",
	"platform",
	"status",
	"first_seen_at",
	"last_seen_at",
	"metadata",
	"created_at",
	"updated_at",
	"deleted_at",
}

// DeviceRepository implements port.DeviceRepository backed by PostgreSQL.
type DeviceRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

var _ port.DeviceRepository = (*DeviceRepository)(nil)

// NewDeviceRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewDeviceRepository(exec pgExecutor) *DeviceRepository {
	return &DeviceRepository{exec: exec, builder: newBuilder()}
}

// Create inserts a device. A concurrent first sighting of the same client id reports repository.ErrConflict.
func (r *DeviceRepository) Create(ctx context.Context, device domain.Device) error {
	metadata, err := marshalMetadata(device.Metadata)
	if err != nil {
		return err
	}

	stmt, args, err := r.builder.Insert("leadr.devices").
		Columns(deviceColumns...).
		Values(
			device.ID,
			device.GameID,
			device.AccountID,
			device.ClientDeviceID,
			optionalString(device.Platform),
			string(device.Status),
			device.FirstSeenAt,
			device.LastSeenAt,
			metadata,
			device.CreatedAt,
			device.UpdatedAt,
			optionalTime(device.DeletedAt),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert device sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return translateWriteError(err, "insert device")
	}
	return nil
}

// Get fetches a non-deleted device by id.
func (r *DeviceRepository) Get(ctx context.Context, deviceID string) (*domain.Device, error) {
	return r.selectOne(ctx, squirrel.Eq{"id": deviceID})
}

// GetByClientID resolves the client supplied identifier within a game.
func (r *DeviceRepository) GetByClientID(ctx context.Context, gameID, clientDeviceID string) (*domain.Device, error) {
	return r.selectOne(ctx, squirrel.Eq{"game_id": gameID, "device_id": clientDeviceID})
}

func (r *DeviceRepository) selectOne(ctx context.Context, where squirrel.Eq) (*domain.Device, error) {
	stmt, args, err := r.builder.
		Select(deviceColumns...).
		From("leadr.devices").
		Where(where).
		Where("deleted_at IS NULL").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select device sql: %w", err)
	}

	device, err := scanDevice(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("scan device: %w", err)
	}
	return device, nil
}

// List returns the non-deleted devices of an account, newest first.
func (r *DeviceRepository) List(ctx context.Context, filter port.DeviceFilter) ([]domain.Device, error) {
	where := squirrel.Eq{"account_id": filter.AccountID}
	if filter.GameID != "" {
		where["game_id"] = filter.GameID
	}
	if filter.Status != nil {
		where["status"] = string(*filter.Status)
	}

	stmt, args, err := r.builder.
		Select(deviceColumns...).
		From("leadr.devices").
		Where(where).
		Where("deleted_at IS NULL").
		OrderBy("created_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list devices sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer rows.Close()

	devices := make([]domain.Device, 0)
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, *device)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate devices: %w", err)
	}
	return devices, nil
}

// Update persists the mutable device columns.
func (r *DeviceRepository) Update(ctx context.Context, device domain.Device) error {
	metadata, err := marshalMetadata(device.Metadata)
	if err != nil {
		return err
	}

	stmt, args, err := r.builder.Update("leadr.devices").
		Set("platform", optionalString(device.Platform)).
		Set("status", string(device.Status)).
		Set("last_seen_at", device.LastSeenAt).
		Set("metadata", metadata).
		Set("updated_at", device.UpdatedAt).
		Set("deleted_at", optionalTime(device.DeletedAt)).
		Where(squirrel.Eq{"id": device.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update device sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanDevice(row pgx.Row) (*domain.Device, error) {
	var (
		device    domain.Device
		platform  sql.NullString
		status    string
		metadata  []byte
		deletedAt sql.NullTime
	)

	if err := row.Scan(
		&device.ID,
		&device.GameID,
		&device.AccountID,
		&device.ClientDeviceID,
		&platform,
		&status,
		&device.FirstSeenAt,
		&device.LastSeenAt,
		&metadata,
		&device.CreatedAt,
		&device.UpdatedAt,
		&deletedAt,
	); err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	meta, err := unmarshalMetadata(metadata)
	if err != nil {
		return nil, err
	}

	device.Platform = nullableStringPtr(platform)
	device.Status = domain.DeviceStatus(status)
	device.Metadata = meta
	device.DeletedAt = nullableTimePtr(deletedAt)
	return &device, nil
}
