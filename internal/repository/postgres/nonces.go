package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"

	"github.com/leadrgg/leadr-core/internal/core/domain"
	"github.com/leadrgg/leadr-core/internal/core/port"
	"github.com/leadrgg/leadr-core/internal/repository"
)

// NonceRepository implements port.NonceRepository backed by PostgreSQL.
type NonceRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

var _ port.NonceRepository = (*NonceRepository)(nil)

// NewNonceRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewNonceRepository(exec pgExecutor) *NonceRepository {
	return &NonceRepository{exec: exec, builder: newBuilder()}
}

// Create stores a freshly issued nonce.
func (r *NonceRepository) Create(ctx context.Context, nonce domain.Nonce) error {
	stmt, args, err := r.builder.Insert("leadr.nonces").
		Columns("id", "device_id", "nonce_value", "expires_at", "used_at", "status", "created_at").
		Values(
			nonce.ID,
			nonce.DeviceID,
			nonce.Value,
			nonce.ExpiresAt,
			optionalTime(nonce.UsedAt),
			string(nonce.Status),
			nonce.CreatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert nonce sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return translateWriteError(err, "insert nonce")
	}
	return nil
}

// GetByValue resolves a nonce by the value handed to the client.
func (r *NonceRepository) GetByValue(ctx context.Context, value string) (*domain.Nonce, error) {
	stmt, args, err := r.builder.
		Select("id", "device_id", "nonce_value", "expires_at", "used_at", "status", "created_at").
		From("leadr.nonces").
		Where(squirrel.Eq{"nonce_value": value}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select nonce sql: %w", err)
	}

	var (
		nonce  domain.Nonce
		usedAt sql.NullTime
		status string
	)
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(
		&nonce.ID,
		&nonce.DeviceID,
		&nonce.Value,
		&nonce.ExpiresAt,
		&usedAt,
		&status,
		&nonce.CreatedAt,
	); err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan nonce: %w", err)
	}

	nonce.UsedAt = nullableTimePtr(usedAt)
	nonce.Status = domain.NonceStatus(status)
	return &nonce, nil
}

// MarkUsed consumes a pending nonce that has not expired at the supplied moment.
func (r *NonceRepository) MarkUsed(ctx context.Context, nonceID string, at time.Time) error {
	stmt, args, err := r.builder.Update("leadr.nonces").
		Set("status", string(domain.NonceStatusUsed)).
		Set("used_at", at.UTC()).
		Where(squirrel.Eq{"id": nonceID, "status": string(domain.NonceStatusPending)}).
		Where(squirrel.Gt{"expires_at": at.UTC()}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build consume nonce sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("consume nonce: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrConflict
	}
	return nil
}

// DeletePendingExpiredBefore removes pending nonces whose expiry predates cutoff. Used nonces stay as audit trail.
func (r *NonceRepository) DeletePendingExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	stmt, args, err := r.builder.Delete("leadr.nonces").
		Where(squirrel.Eq{"status": string(domain.NonceStatusPending)}).
		Where(squirrel.Lt{"expires_at": cutoff.UTC()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete nonces sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("delete expired nonces: %w", err)
	}
	return tag.RowsAffected(), nil
}
