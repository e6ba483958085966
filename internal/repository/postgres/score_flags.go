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

var scoreFlagColumns = []string{
	"id",
	"score_id",
	"account_id",
	"board_id",
	"device_id",
	"flag_type",
	"confidence",
	"metadata",
	"status",
	"reviewer_id",
	"reviewer_decision",
	"reviewed_at",
	"created_at",
	"updated_at",
}

// ScoreFlagRepository implements port.ScoreFlagRepository backed by PostgreSQL.
type ScoreFlagRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

var _ port.ScoreFlagRepository = (*ScoreFlagRepository)(nil)

// NewScoreFlagRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewScoreFlagRepository(exec pgExecutor) *ScoreFlagRepository {
	return &ScoreFlagRepository{exec: exec, builder: newBuilder()}
}

// WithTx returns a repository instance that executes statements within the supplied transaction.
func (r *ScoreFlagRepository) WithTx(tx pgx.Tx) *ScoreFlagRepository {
	if tx == nil {
		return r
	}
	return &ScoreFlagRepository{exec: tx, builder: r.builder}
}

// Create records a detection.
func (r *ScoreFlagRepository) Create(ctx context.Context, flag domain.ScoreFlag) error {
	metadata, err := marshalMetadata(flag.Metadata)
	if err != nil {
		return err
	}

	stmt, args, err := r.builder.Insert("leadr.score_flags").
		Columns(scoreFlagColumns...).
		Values(
			flag.ID,
			optionalString(flag.ScoreID),
			flag.AccountID,
			flag.BoardID,
			flag.DeviceID,
			string(flag.FlagType),
			string(flag.Confidence),
			metadata,
			string(flag.Status),
			optionalString(flag.ReviewerID),
			optionalString(flag.ReviewerDecision),
			optionalTime(flag.ReviewedAt),
			flag.CreatedAt,
			flag.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert score flag sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return translateWriteError(err, "insert score flag")
	}
	return nil
}

// Get fetches a flag by id.
func (r *ScoreFlagRepository) Get(ctx context.Context, flagID string) (*domain.ScoreFlag, error) {
	stmt, args, err := r.builder.
		Select(scoreFlagColumns...).
		From("leadr.score_flags").
		Where(squirrel.Eq{"id": flagID}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select score flag sql: %w", err)
	}

	flag, err := scanScoreFlag(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("scan score flag: %w", err)
	}
	return flag, nil
}

// List returns an account's flags, newest first, narrowed by the filter.
func (r *ScoreFlagRepository) List(ctx context.Context, accountID string, filter port.ScoreFlagFilter) ([]domain.ScoreFlag, error) {
	query := r.builder.
		Select(scoreFlagColumns...).
		From("leadr.score_flags").
		Where(squirrel.Eq{"account_id": accountID}).
		OrderBy("created_at DESC")
	if filter.Status != nil {
		query = query.Where(squirrel.Eq{"status": string(*filter.Status)})
	}
	if filter.BoardID != "" {
		query = query.Where(squirrel.Eq{"board_id": filter.BoardID})
	}
	if filter.DeviceID != "" {
		query = query.Where(squirrel.Eq{"device_id": filter.DeviceID})
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list score flags sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query score flags: %w", err)
	}
	defer rows.Close()

	flags := make([]domain.ScoreFlag, 0)
	for rows.Next() {
		flag, err := scanScoreFlag(rows)
		if err != nil {
			return nil, fmt.Errorf("scan score flag: %w", err)
		}
		flags = append(flags, *flag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate score flags: %w", err)
	}
	return flags, nil
}

// Update persists review state.
func (r *ScoreFlagRepository) Update(ctx context.Context, flag domain.ScoreFlag) error {
	stmt, args, err := r.builder.Update("leadr.score_flags").
		Set("status", string(flag.Status)).
		Set("reviewer_id", optionalString(flag.ReviewerID)).
		Set("reviewer_decision", optionalString(flag.ReviewerDecision)).
		Set("reviewed_at", optionalTime(flag.ReviewedAt)).
		Set("updated_at", flag.UpdatedAt).
		Where(squirrel.Eq{"id": flag.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update score flag sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update score flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanScoreFlag(row pgx.Row) (*domain.ScoreFlag, error) {
	var (
		flag       domain.ScoreFlag
		scoreID    sql.NullString
		flagType   string
		confidence string
		metadata   []byte
		status     string
		reviewerID sql.NullString
		decision   sql.NullString
		reviewedAt sql.NullTime
	)

	if err := row.Scan(
		&flag.ID,
		&scoreID,
		&flag.AccountID,
		&flag.BoardID,
		&flag.DeviceID,
		&flagType,
		&confidence,
		&metadata,
		&status,
		&reviewerID,
		&decision,
		&reviewedAt,
		&flag.CreatedAt,
		&flag.UpdatedAt,
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

	flag.ScoreID = nullableStringPtr(scoreID)
	flag.FlagType = domain.FlagType(flagType)
	flag.Confidence = domain.FlagConfidence(confidence)
	flag.Metadata = meta
	flag.Status = domain.FlagStatus(status)
	flag.ReviewerID = nullableStringPtr(reviewerID)
	flag.ReviewerDecision = nullableStringPtr(decision)
	flag.ReviewedAt = nullableTimePtr(reviewedAt)
	return &flag, nil
}
