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

var apiKeyColumns = []string{
	"id",
	"account_id",
	"user_id",
	"name",
	"key_hash",
	"key_prefix",
	"status",
	"last_used_at",
	"expires_at",
	"created_at",
	"updated_at",
}

// APIKeyRepository implements port.APIKeyRepository backed by PostgreSQL.
type APIKeyRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

var _ port.APIKeyRepository = (*APIKeyRepository)(nil)

// NewAPIKeyRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewAPIKeyRepository(exec pgExecutor) *APIKeyRepository {
	return &APIKeyRepository{exec: exec, builder: newBuilder()}
}

// Create stores a key. Prefix collisions report repository.ErrConflict.
func (r *APIKeyRepository) Create(ctx context.Context, key domain.APIKey) error {
	stmt, args, err := r.builder.Insert("leadr.api_keys").
		Columns(apiKeyColumns...).
		Values(
			key.ID,
			key.AccountID,
			key.UserID,
			key.Name,
			key.KeyHash,
			key.KeyPrefix,
			string(key.Status),
			optionalTime(key.LastUsedAt),
			optionalTime(key.ExpiresAt),
			key.CreatedAt,
			key.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert api key sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return translateWriteError(err, "insert api key")
	}
	return nil
}

// Get fetches a key by id.
func (r *APIKeyRepository) Get(ctx context.Context, keyID string) (*domain.APIKey, error) {
	return r.selectOne(ctx, squirrel.Eq{"id": keyID})
}

// GetByPrefix resolves the candidate key for an incoming plaintext.
func (r *APIKeyRepository) GetByPrefix(ctx context.Context, prefix string) (*domain.APIKey, error) {
	return r.selectOne(ctx, squirrel.Eq{"key_prefix": prefix})
}

func (r *APIKeyRepository) selectOne(ctx context.Context, where squirrel.Eq) (*domain.APIKey, error) {
	stmt, args, err := r.builder.
		Select(apiKeyColumns...).
		From("leadr.api_keys").
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select api key sql: %w", err)
	}

	key, err := scanAPIKey(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("scan api key: %w", err)
	}
	return key, nil
}

// ListByAccount returns the account's keys, optionally narrowed to one status.
func (r *APIKeyRepository) ListByAccount(ctx context.Context, accountID string, status *domain.APIKeyStatus) ([]domain.APIKey, error) {
	query := r.builder.
		Select(apiKeyColumns...).
		From("leadr.api_keys").
		Where(squirrel.Eq{"account_id": accountID}).
		OrderBy("created_at DESC")
	if status != nil {
		query = query.Where(squirrel.Eq{"status": string(*status)})
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list api keys sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query api keys: %w", err)
	}
	defer rows.Close()

	keys := make([]domain.APIKey, 0)
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, *key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate api keys: %w", err)
	}
	return keys, nil
}

// CountActive counts active keys that have not expired at the supplied moment.
func (r *APIKeyRepository) CountActive(ctx context.Context, accountID string, at time.Time) (int, error) {
	stmt, args, err := r.builder.
		Select("COUNT(*)").
		From("leadr.api_keys").
		Where(squirrel.Eq{"account_id": accountID, "status": string(domain.APIKeyStatusActive)}).
		Where(squirrel.Or{
			squirrel.Eq{"expires_at": nil},
			squirrel.Gt{"expires_at": at.UTC()},
		}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count api keys sql: %w", err)
	}

	var count int
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count api keys: %w", err)
	}
	return count, nil
}

// UpdateStatus moves a key between active and revoked.
func (r *APIKeyRepository) UpdateStatus(ctx context.Context, keyID string, status domain.APIKeyStatus, at time.Time) error {
	stmt, args, err := r.builder.Update("leadr.api_keys").
		Set("status", string(status)).
		Set("updated_at", at.UTC()).
		Where(squirrel.Eq{"id": keyID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update api key status sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update api key status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// RecordUsage stamps last_used_at after a successful authentication.
func (r *APIKeyRepository) RecordUsage(ctx context.Context, keyID string, at time.Time) error {
	stmt, args, err := r.builder.Update("leadr.api_keys").
		Set("last_used_at", at.UTC()).
		Where(squirrel.Eq{"id": keyID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build record api key usage sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("record api key usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanAPIKey(row pgx.Row) (*domain.APIKey, error) {
	var (
		key        domain.APIKey
		status     string
		lastUsedAt sql.NullTime
		expiresAt  sql.NullTime
	)

	if err := row.Scan(
		&key.ID,
		&key.AccountID,
		&key.UserID,
		&key.Name,
		&key.KeyHash,
		&key.KeyPrefix,
		&status,
		&lastUsedAt,
		&expiresAt,
		&key.CreatedAt,
		&key.UpdatedAt,
	); err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	key.Status = domain.APIKeyStatus(status)
	key.LastUsedAt = nullableTimePtr(lastUsedAt)
	key.ExpiresAt = nullableTimePtr(expiresAt)
	return &key, nil
}
