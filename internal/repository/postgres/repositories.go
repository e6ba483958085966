package postgres

import "github.com/jackc/pgx/v5/pgxpool"

// Repositories groups concrete PostgreSQL repository implementations.
type Repositories struct {
	Devices        *DeviceRepository
	DeviceSessions *DeviceSessionRepository
	Nonces         *NonceRepository
	APIKeys        *APIKeyRepository
	SubmissionMeta *SubmissionMetaRepository
	ScoreFlags     *ScoreFlagRepository
	Games          *GameRepository
	Boards         *BoardRepository
	Scores         *ScoreRepository
	Submissions    *TxManager
}

// NewRepositories wires all repositories backed by the provided pool.
func NewRepositories(pool *pgxpool.Pool) *Repositories {
	repos := &Repositories{
		Devices:        NewDeviceRepository(pool),
		DeviceSessions: NewDeviceSessionRepository(pool),
		Nonces:         NewNonceRepository(pool),
		APIKeys:        NewAPIKeyRepository(pool),
		SubmissionMeta: NewSubmissionMetaRepository(pool),
		ScoreFlags:     NewScoreFlagRepository(pool),
		Games:          NewGameRepository(pool),
		Boards:         NewBoardRepository(pool),
		Scores:         NewScoreRepository(pool),
	}
	repos.Submissions = NewTxManager(pool, repos.Scores, repos.SubmissionMeta, repos.ScoreFlags)
	return repos
}
