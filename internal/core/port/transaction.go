package port

import "context"

// SubmissionWriters are the stores a score submission writes to.
type SubmissionWriters struct {
	Scores ScoreWriter
	Meta   SubmissionMetaRepository
	Flags  ScoreFlagRepository
}

// SubmissionTransactor runs fn with writers bound to a single transaction. The transaction
// commits when fn returns nil and rolls back otherwise.
type SubmissionTransactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, w SubmissionWriters) error) error
}
