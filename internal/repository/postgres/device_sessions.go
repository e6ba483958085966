package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/leadrgg/leadr-core/internal/core/domain"
	"github.com/leadrgg/leadr-core/internal/core/port"
	"github.com/leadrgg/leadr-core/internal/repository"
)

var deviceSessionColumns = []string{
	"id",
	"device_id",
	"access_token_hash",
	"refresh_token_hash",
	"access_expires_at",
	"refresh_expires_at",
	"token_version",
	"ip_address",
	"user_agent",
	"created_at",
	"updated_at",
	"revoked_at",
}

// DeviceSessionRepository implements port.DeviceSessionRepository backed by PostgreSQL.
type DeviceSessionRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

var _ port.DeviceSessionRepository = (*DeviceSessionRepository)(nil)

// NewDeviceSessionRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewDeviceSessionRepository(exec pgExecutor) *DeviceSessionRepository {
	return &DeviceSessionRepository{exec: exec, builder: newBuilder()}
}

// Create persists a new session.
func (r *DeviceSessionRepository) Create(ctx context.Context, session domain.DeviceSession) error {
	version := session.TokenVersion
	if version <= 0 {
		version = domain.InitialTokenVersion
	}

	stmt, args, err := r.builder.Insert("leadr.device_sessions").
		Columns(deviceSessionColumns...).
		Values(
			session.ID,
			session.DeviceID,
			session.AccessTokenHash,
			session.RefreshTokenHash,
			session.AccessExpiresAt,
			session.RefreshExpiresAt,
			version,
			optionalString(session.IP),
			optionalString(session.UserAgent),
			session.CreatedAt,
			session.UpdatedAt,
			optionalTime(session.RevokedAt),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert device session sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return translateWriteError(err, "insert device session")
	}
	return nil
}

// Get fetches a session by id.
func (r *DeviceSessionRepository) Get(ctx context.Context, sessionID string) (*domain.DeviceSession, error) {
	return r.selectOne(ctx, squirrel.Eq{"id": sessionID})
}

// GetByAccessTokenHash resolves the session currently holding the access token.
func (r *DeviceSessionRepository) GetByAccessTokenHash(ctx context.Context, hash string) (*domain.DeviceSession, error) {
	return r.selectOne(ctx, squirrel.Eq{"access_token_hash": hash})
}

// GetByRefreshTokenHash resolves the session currently holding the refresh token.
func (r *DeviceSessionRepository) GetByRefreshTokenHash(ctx context.Context, hash string) (*domain.DeviceSession, error) {
	return r.selectOne(ctx, squirrel.Eq{"refresh_token_hash": hash})
}

func (r *DeviceSessionRepository) selectOne(ctx context.Context, where squirrel.Eq) (*domain.DeviceSession, error) {
	stmt, args, err := r.builder.
		Select(deviceSessionColumns...).
		From("leadr.device_sessions").
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select device session sql: %w", err)
	}

	session, err := scanDeviceSession(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("scan device session: %w", err)
	}
	return session, nil
}

// ListByDevice returns every session of a device, newest first.
func (r *DeviceSessionRepository) ListByDevice(ctx context.Context, deviceID string) ([]domain.DeviceSession, error) {
	stmt, args, err := r.builder.
		Select(deviceSessionColumns...).
		From("leadr.device_sessions").
		Where(squirrel.Eq{"device_id": deviceID}).
		OrderBy("created_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list device sessions sql: %w", err)
	}
	return r.query(ctx, stmt, args)
}

// List returns the sessions of an account's devices, newest first. Sessions of soft-deleted
// devices are left out.
func (r *DeviceSessionRepository) List(ctx context.Context, filter port.DeviceSessionFilter) ([]domain.DeviceSession, error) {
	columns := make([]string, len(deviceSessionColumns))
	for i, column := range deviceSessionColumns {
		columns[i] = "s." + column
	}

	where := squirrel.Eq{"d.account_id": filter.AccountID}
	if filter.DeviceID != "" {
		where["s.device_id"] = filter.DeviceID
	}

	stmt, args, err := r.builder.
		Select(columns...).
		From("leadr.device_sessions s").
		Join("leadr.devices d ON d.id = s.device_id").
		Where(where).
		Where("d.deleted_at IS NULL").
		OrderBy("s.created_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list account sessions sql: %w", err)
	}
	return r.query(ctx, stmt, args)
}

func (r *DeviceSessionRepository) query(ctx context.Context, stmt string, args []any) ([]domain.DeviceSession, error) {
	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query device sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]domain.DeviceSession, 0)
	for rows.Next() {
		session, err := scanDeviceSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device session: %w", err)
		}
		sessions = append(sessions, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate device sessions: %w", err)
	}

	return sessions, nil
}

// Rotate swaps the token pair and bumps the version with a compare-and-set on the stored version.
func (r *DeviceSessionRepository) Rotate(ctx context.Context, next domain.DeviceSession, expectedVersion int) error {
	stmt := `
        UPDATE leadr.device_sessions
           SET access_token_hash = $3,
               refresh_token_hash = $4,
               access_expires_at = $5,
               refresh_expires_at = $6,
               token_version = token_version + 1,
               updated_at = $7
         WHERE id = $1
           AND token_version = $2
           AND revoked_at IS NULL
    `

	tag, err := r.exec.Exec(ctx, stmt,
		next.ID,
		expectedVersion,
		next.AccessTokenHash,
		next.RefreshTokenHash,
		next.AccessExpiresAt,
		next.RefreshExpiresAt,
		next.UpdatedAt,
	)
	if err != nil {
		return translateWriteError(err, "rotate device session")
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrConflict
	}
	return nil
}

// Revoke stamps revoked_at once. Revoking an already revoked session is not an error.
func (r *DeviceSessionRepository) Revoke(ctx context.Context, sessionID string, at time.Time) error {
	stmt := `
        UPDATE leadr.device_sessions
           SET revoked_at = COALESCE(revoked_at, $2),
               updated_at = $2
         WHERE id = $1
    `

	tag, err := r.exec.Exec(ctx, stmt, sessionID, at.UTC())
	if err != nil {
		return fmt.Errorf("revoke device session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanDeviceSession(row pgx.Row) (*domain.DeviceSession, error) {
	var (
		session   domain.DeviceSession
		ip        sql.NullString
		userAgent sql.NullString
		revokedAt sql.NullTime
	)

	if err := row.Scan(
		&session.ID,
		&session.DeviceID,
		&session.AccessTokenHash,
		&session.RefreshTokenHash,
		&session.AccessExpiresAt,
		&session.RefreshExpiresAt,
		&session.TokenVersion,
		&ip,
		&userAgent,
		&session.CreatedAt,
		&session.UpdatedAt,
		&revokedAt,
	); err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	session.IP = nullableStringPtr(ip)
	session.UserAgent = nullableStringPtr(userAgent)
	session.RevokedAt = nullableTimePtr(revokedAt)
	return &session, nil
}
