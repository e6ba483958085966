package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/leadrgg/leadr-core/internal/core/port"
)

type txBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// TxManager runs submission writes inside one read-committed transaction.
type TxManager struct {
	db     txBeginner
	scores *ScoreRepository
	meta   *SubmissionMetaRepository
	flags  *ScoreFlagRepository
}

var _ port.SubmissionTransactor = (*TxManager)(nil)

// NewTxManager constructs a TxManager over a pool or a single connection.
func NewTxManager(db txBeginner, scores *ScoreRepository, meta *SubmissionMetaRepository, flags *ScoreFlagRepository) *TxManager {
	return &TxManager{db: db, scores: scores, meta: meta, flags: flags}
}

// RunInTx begins a transaction, hands fn repositories bound to it and commits when fn succeeds.
func (m *TxManager) RunInTx(ctx context.Context, fn func(ctx context.Context, w port.SubmissionWriters) error) (err error) {
	tx, err := m.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	err = fn(ctx, port.SubmissionWriters{
		Scores: m.scores.WithTx(tx),
		Meta:   m.meta.WithTx(tx),
		Flags:  m.flags.WithTx(tx),
	})
	if err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
