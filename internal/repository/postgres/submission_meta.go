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

var submissionMetaColumns = []string{
	"m.id",
	"m.score_id",
	"m.device_id",
	"m.board_id",
	"m.submission_count",
	"m.last_submission_at",
	"m.last_score_value",
	"m.created_at",
	"m.updated_at",
}

// SubmissionMetaRepository implements port.SubmissionMetaRepository backed by PostgreSQL.
type SubmissionMetaRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

var _ port.SubmissionMetaRepository = (*SubmissionMetaRepository)(nil)

// NewSubmissionMetaRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewSubmissionMetaRepository(exec pgExecutor) *SubmissionMetaRepository {
	return &SubmissionMetaRepository{exec: exec, builder: newBuilder()}
}

// WithTx returns a repository instance that executes statements within the supplied transaction.
func (r *SubmissionMetaRepository) WithTx(tx pgx.Tx) *SubmissionMetaRepository {
	if tx == nil {
		return r
	}
	return &SubmissionMetaRepository{exec: tx, builder: r.builder}
}

// Get fetches a ledger row by id.
func (r *SubmissionMetaRepository) Get(ctx context.Context, metaID string) (*domain.ScoreSubmissionMeta, error) {
	return r.selectOne(ctx, squirrel.Eq{"m.id": metaID})
}

// GetByDeviceAndBoard fetches the ledger for one device on one board.
func (r *SubmissionMetaRepository) GetByDeviceAndBoard(ctx context.Context, deviceID, boardID string) (*domain.ScoreSubmissionMeta, error) {
	return r.selectOne(ctx, squirrel.Eq{"m.device_id": deviceID, "m.board_id": boardID})
}

func (r *SubmissionMetaRepository) selectOne(ctx context.Context, where squirrel.Eq) (*domain.ScoreSubmissionMeta, error) {
	stmt, args, err := r.builder.
		Select(submissionMetaColumns...).
		From("leadr.score_submission_metadata AS m").
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select submission meta sql: %w", err)
	}

	meta, err := scanSubmissionMeta(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("scan submission meta: %w", err)
	}
	return meta, nil
}

// List returns ledger rows narrowed by the filter. The account scope is resolved through the board.
func (r *SubmissionMetaRepository) List(ctx context.Context, filter port.SubmissionMetaFilter) ([]domain.ScoreSubmissionMeta, error) {
	query := r.builder.
		Select(submissionMetaColumns...).
		From("leadr.score_submission_metadata AS m").
		Join("leadr.boards AS b ON b.id = m.board_id").
		Where(squirrel.Eq{"b.account_id": filter.AccountID}).
		OrderBy("m.last_submission_at DESC")
	if filter.DeviceID != "" {
		query = query.Where(squirrel.Eq{"m.device_id": filter.DeviceID})
	}
	if filter.BoardID != "" {
		query = query.Where(squirrel.Eq{"m.board_id": filter.BoardID})
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list submission meta sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query submission meta: %w", err)
	}
	defer rows.Close()

	items := make([]domain.ScoreSubmissionMeta, 0)
	for rows.Next() {
		meta, err := scanSubmissionMeta(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission meta: %w", err)
		}
		items = append(items, *meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submission meta: %w", err)
	}
	return items, nil
}

// Create opens the ledger for a device and board pair.
func (r *SubmissionMetaRepository) Create(ctx context.Context, meta domain.ScoreSubmissionMeta) error {
	stmt, args, err := r.builder.Insert("leadr.score_submission_metadata").
		Columns(
			"id",
			"score_id",
			"device_id",
			"board_id",
			"submission_count",
			"last_submission_at",
			"last_score_value",
			"created_at",
			"updated_at",
		).
		Values(
			meta.ID,
			meta.ScoreID,
			meta.DeviceID,
			meta.BoardID,
			meta.SubmissionCount,
			meta.LastSubmissionAt,
			optionalFloat(meta.LastScoreValue),
			meta.CreatedAt,
			meta.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert submission meta sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return translateWriteError(err, "insert submission meta")
	}
	return nil
}

// Update stores the ledger after another recorded submission.
func (r *SubmissionMetaRepository) Update(ctx context.Context, meta domain.ScoreSubmissionMeta) error {
	stmt, args, err := r.builder.Update("leadr.score_submission_metadata").
		Set("score_id", meta.ScoreID).
		Set("submission_count", meta.SubmissionCount).
		Set("last_submission_at", meta.LastSubmissionAt).
		Set("last_score_value", optionalFloat(meta.LastScoreValue)).
		Set("updated_at", meta.UpdatedAt).
		Where(squirrel.Eq{"id": meta.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update submission meta sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update submission meta: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanSubmissionMeta(row pgx.Row) (*domain.ScoreSubmissionMeta, error) {
	var (
		meta      domain.ScoreSubmissionMeta
		lastValue sql.NullFloat64
	)

	if err := row.Scan(
		&meta.ID,
		&meta.ScoreID,
		&meta.DeviceID,
		&meta.BoardID,
		&meta.SubmissionCount,
		&meta.LastSubmissionAt,
		&lastValue,
		&meta.CreatedAt,
		&meta.UpdatedAt,
	); err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	meta.LastScoreValue = nullableFloatPtr(lastValue)
	return &meta, nil
}
