package postgres

import (
	"context"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/leadrgg/leadr-core/internal/core/domain"
	"github.com/leadrgg/leadr-core/internal/core/port"
	"github.com/leadrgg/leadr-core/internal/repository"
)

// GameRepository reads games owned by the account CRUD layer.
type GameRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

var _ port.GameReader = (*GameRepository)(nil)

// NewGameRepository constructs a GameRepository.
func NewGameRepository(exec pgExecutor) *GameRepository {
	return &GameRepository{exec: exec, builder: newBuilder()}
}

// Get fetches a non-deleted game.
func (r *GameRepository) Get(ctx context.Context, gameID string) (*domain.Game, error) {
	stmt, args, err := r.builder.
		Select("id", "account_id", "name", "anti_cheat_enabled").
		From("leadr.games").
		Where(squirrel.Eq{"id": gameID}).
		Where("deleted_at IS NULL").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select game sql: %w", err)
	}

	var game domain.Game
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&game.ID, &game.AccountID, &game.Name, &game.AntiCheatEnabled); err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan game: %w", err)
	}
	return &game, nil
}

// BoardRepository reads boards owned by the account CRUD layer.
type BoardRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

var _ port.BoardReader = (*BoardRepository)(nil)

// NewBoardRepository constructs a BoardRepository.
func NewBoardRepository(exec pgExecutor) *BoardRepository {
	return &BoardRepository{exec: exec, builder: newBuilder()}
}

// Get fetches a non-deleted board.
func (r *BoardRepository) Get(ctx context.Context, boardID string) (*domain.Board, error) {
	stmt, args, err := r.builder.
		Select("id", "account_id", "game_id", "name").
		From("leadr.boards").
		Where(squirrel.Eq{"id": boardID}).
		Where("deleted_at IS NULL").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select board sql: %w", err)
	}

	var board domain.Board
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&board.ID, &board.AccountID, &board.GameID, &board.Name); err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan board: %w", err)
	}
	return &board, nil
}

// ScoreRepository stores accepted and flagged submissions.
type ScoreRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

var _ port.ScoreWriter = (*ScoreRepository)(nil)

// NewScoreRepository constructs a ScoreRepository.
func NewScoreRepository(exec pgExecutor) *ScoreRepository {
	return &ScoreRepository{exec: exec, builder: newBuilder()}
}

// WithTx returns a repository instance that executes statements within the supplied transaction.
func (r *ScoreRepository) WithTx(tx pgx.Tx) *ScoreRepository {
	if tx == nil {
		return r
	}
	return &ScoreRepository{exec: tx, builder: r.builder}
}

// Create inserts a score.
func (r *ScoreRepository) Create(ctx context.Context, score domain.Score) error {
	metadata, err := marshalMetadata(score.Metadata)
	if err != nil {
		return err
	}

	stmt, args, err := r.builder.Insert("leadr.scores").
		Columns(
			"id",
			"account_id",
			"game_id",
			"board_id",
			"device_id",
			"player_name",
			"value",
			"value_display",
			"metadata",
			"created_at",
		).
		Values(
			score.ID,
			score.AccountID,
			score.GameID,
			score.BoardID,
			score.DeviceID,
			score.PlayerName,
			score.Value,
			optionalString(score.ValueDisplay),
			metadata,
			score.CreatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert score sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return translateWriteError(err, "insert score")
	}
	return nil
}
