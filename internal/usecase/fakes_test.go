package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/leadrgg/leadr-core/internal/core/domain"
	"github.com/leadrgg/leadr-core/internal/core/port"
	"github.com/leadrgg/leadr-core/internal/repository"
)

type fakeGames struct {
	games map[string]domain.Game
	err   error
}

func newFakeGames(games ...domain.Game) *fakeGames {
	f := &fakeGames{games: make(map[string]domain.Game)}
	for _, g := range games {
		f.games[g.ID] = g
	}
	return f
}

func (f *fakeGames) Get(_ context.Context, gameID string) (*domain.Game, error) {
	if f.err != nil {
		return nil, f.err
	}
	game, ok := f.games[gameID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &game, nil
}

type fakeBoards struct {
	boards map[string]domain.Board
}

func newFakeBoards(boards ...domain.Board) *fakeBoards {
	f := &fakeBoards{boards: make(map[string]domain.Board)}
	for _, b := range boards {
		f.boards[b.ID] = b
	}
	return f
}

func (f *fakeBoards) Get(_ context.Context, boardID string) (*domain.Board, error) {
	board, ok := f.boards[boardID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &board, nil
}

type fakeScores struct {
	mu     sync.Mutex
	scores []domain.Score
}

func (f *fakeScores) Create(_ context.Context, score domain.Score) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores = append(f.scores, score)
	return nil
}

func (f *fakeScores) snapshot() []domain.Score {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Score(nil), f.scores...)
}

func (f *fakeScores) restore(scores []domain.Score) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores = scores
}

func (f *fakeScores) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.scores)
}

type fakeDevices struct {
	mu      sync.Mutex
	devices map[string]domain.Device
	// conflictOnce simulates a concurrent insert winning the unique index.
	conflictOnce *domain.Device
	updates      int
}

func newFakeDevices(devices ...domain.Device) *fakeDevices {
	f := &fakeDevices{devices: make(map[string]domain.Device)}
	for _, d := range devices {
		f.devices[d.ID] = d
	}
	return f
}

func (f *fakeDevices) Create(_ context.Context, device domain.Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conflictOnce != nil {
		winner := *f.conflictOnce
		f.conflictOnce = nil
		f.devices[winner.ID] = winner
		return repository.ErrConflict
	}
	for _, existing := range f.devices {
		if existing.GameID == device.GameID && existing.ClientDeviceID == device.ClientDeviceID && existing.DeletedAt == nil {
			return repository.ErrConflict
		}
	}
	f.devices[device.ID] = device
	return nil
}

func (f *fakeDevices) Get(_ context.Context, deviceID string) (*domain.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	device, ok := f.devices[deviceID]
	if !ok || device.DeletedAt != nil {
		return nil, repository.ErrNotFound
	}
	return &device, nil
}

func (f *fakeDevices) GetByClientID(_ context.Context, gameID, clientDeviceID string) (*domain.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, device := range f.devices {
		if device.GameID == gameID && device.ClientDeviceID == clientDeviceID && device.DeletedAt == nil {
			d := device
			return &d, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeDevices) List(_ context.Context, filter port.DeviceFilter) ([]domain.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Device
	for _, device := range f.devices {
		if device.AccountID != filter.AccountID || device.DeletedAt != nil {
			continue
		}
		if filter.GameID != "" && device.GameID != filter.GameID {
			continue
		}
		if filter.Status != nil && device.Status != *filter.Status {
			continue
		}
		out = append(out, device)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeDevices) accountOf(deviceID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	device, ok := f.devices[deviceID]
	if !ok || device.DeletedAt != nil {
		return "", false
	}
	return device.AccountID, true
}

func (f *fakeDevices) Update(_ context.Context, device domain.Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.devices[device.ID]; !ok {
		return repository.ErrNotFound
	}
	f.devices[device.ID] = device
	f.updates++
	return nil
}

func (f *fakeDevices) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.devices)
}

type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]domain.DeviceSession
	// devices resolves session ownership for account listings.
	devices *fakeDevices
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: make(map[string]domain.DeviceSession)}
}

func (f *fakeSessions) Create(_ context.Context, session domain.DeviceSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[session.ID] = session
	return nil
}

func (f *fakeSessions) Get(_ context.Context, sessionID string) (*domain.DeviceSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &session, nil
}

func (f *fakeSessions) find(match func(domain.DeviceSession) bool) (*domain.DeviceSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, session := range f.sessions {
		if match(session) {
			s := session
			return &s, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeSessions) GetByAccessTokenHash(_ context.Context, hash string) (*domain.DeviceSession, error) {
	return f.find(func(s domain.DeviceSession) bool { return s.AccessTokenHash == hash })
}

func (f *fakeSessions) GetByRefreshTokenHash(_ context.Context, hash string) (*domain.DeviceSession, error) {
	return f.find(func(s domain.DeviceSession) bool { return s.RefreshTokenHash == hash })
}

func (f *fakeSessions) ListByDevice(_ context.Context, deviceID string) ([]domain.DeviceSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.DeviceSession
	for _, session := range f.sessions {
		if session.DeviceID == deviceID {
			out = append(out, session)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeSessions) List(_ context.Context, filter port.DeviceSessionFilter) ([]domain.DeviceSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.DeviceSession
	for _, session := range f.sessions {
		if filter.DeviceID != "" && session.DeviceID != filter.DeviceID {
			continue
		}
		if f.devices != nil {
			if account, ok := f.devices.accountOf(session.DeviceID); !ok || account != filter.AccountID {
				continue
			}
		}
		out = append(out, session)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeSessions) Rotate(_ context.Context, next domain.DeviceSession, expectedVersion int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.sessions[next.ID]
	if !ok || current.TokenVersion != expectedVersion || current.RevokedAt != nil {
		return repository.ErrConflict
	}
	f.sessions[next.ID] = next
	return nil
}

func (f *fakeSessions) Revoke(_ context.Context, sessionID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok {
		return repository.ErrNotFound
	}
	if session.RevokedAt == nil {
		session.RevokedAt = &at
	}
	f.sessions[sessionID] = session
	return nil
}

type fakeNonces struct {
	mu      sync.Mutex
	nonces  map[string]domain.Nonce
	cutoffs []time.Time
}

func newFakeNonces() *fakeNonces {
	return &fakeNonces{nonces: make(map[string]domain.Nonce)}
}

func (f *fakeNonces) Create(_ context.Context, nonce domain.Nonce) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nonces[nonce.Value] = nonce
	return nil
}

func (f *fakeNonces) GetByValue(_ context.Context, value string) (*domain.Nonce, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	nonce, ok := f.nonces[value]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &nonce, nil
}

func (f *fakeNonces) MarkUsed(_ context.Context, nonceID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for value, nonce := range f.nonces {
		if nonce.ID != nonceID {
			continue
		}
		if nonce.Status != domain.NonceStatusPending || !nonce.ExpiresAt.After(at) {
			return repository.ErrConflict
		}
		nonce.Status = domain.NonceStatusUsed
		nonce.UsedAt = &at
		f.nonces[value] = nonce
		return nil
	}
	return repository.ErrConflict
}

func (f *fakeNonces) DeletePendingExpiredBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	var deleted int64
	for value, nonce := range f.nonces {
		if nonce.Status == domain.NonceStatusPending && nonce.ExpiresAt.Before(cutoff) {
			delete(f.nonces, value)
			deleted++
		}
	}
	return deleted, nil
}

type fakeAPIKeys struct {
	mu          sync.Mutex
	keys        map[string]domain.APIKey
	usageCalls  int
	statusCalls int
	// lookupGate holds GetByPrefix until closed; lookupStarted is signalled on entry.
	lookupGate    chan struct{}
	lookupStarted chan struct{}
}

func newFakeAPIKeys() *fakeAPIKeys {
	return &fakeAPIKeys{keys: make(map[string]domain.APIKey)}
}

func (f *fakeAPIKeys) Create(_ context.Context, key domain.APIKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.keys {
		if existing.KeyPrefix == key.KeyPrefix {
			return repository.ErrConflict
		}
	}
	f.keys[key.ID] = key
	return nil
}

func (f *fakeAPIKeys) Get(_ context.Context, keyID string) (*domain.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key, ok := f.keys[keyID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &key, nil
}

func (f *fakeAPIKeys) GetByPrefix(ctx context.Context, prefix string) (*domain.APIKey, error) {
	if f.lookupGate != nil {
		select {
		case f.lookupStarted <- struct{}{}:
		default:
		}
		select {
		case <-f.lookupGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range f.keys {
		if key.KeyPrefix == prefix {
			k := key
			return &k, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeAPIKeys) ListByAccount(_ context.Context, accountID string, status *domain.APIKeyStatus) ([]domain.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.APIKey
	for _, key := range f.keys {
		if key.AccountID != accountID || (status != nil && key.Status != *status) {
			continue
		}
		out = append(out, key)
	}
	return out, nil
}

func (f *fakeAPIKeys) CountActive(_ context.Context, accountID string, at time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, key := range f.keys {
		if key.AccountID == accountID && key.Usable(at) {
			count++
		}
	}
	return count, nil
}

func (f *fakeAPIKeys) UpdateStatus(_ context.Context, keyID string, status domain.APIKeyStatus, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key, ok := f.keys[keyID]
	if !ok {
		return repository.ErrNotFound
	}
	f.statusCalls++
	f.keys[keyID] = key.WithStatus(status, at)
	return nil
}

func (f *fakeAPIKeys) RecordUsage(_ context.Context, keyID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key, ok := f.keys[keyID]
	if !ok {
		return repository.ErrNotFound
	}
	f.usageCalls++
	f.keys[keyID] = key.Used(at)
	return nil
}

type fakeMeta struct {
	mu    sync.Mutex
	rows  map[string]domain.ScoreSubmissionMeta
	getFn func(deviceID, boardID string) error
	// writeErr fails every Create and Update.
	writeErr error
	// racer is committed by a concurrent writer on the next Create, which then conflicts.
	racer *domain.ScoreSubmissionMeta
	// committed holds racer rows that survive a rollback of the losing transaction.
	committed []domain.ScoreSubmissionMeta
}

func newFakeMeta(rows ...domain.ScoreSubmissionMeta) *fakeMeta {
	f := &fakeMeta{rows: make(map[string]domain.ScoreSubmissionMeta)}
	for _, row := range rows {
		f.rows[row.ID] = row
	}
	return f
}

func (f *fakeMeta) Get(_ context.Context, metaID string) (*domain.ScoreSubmissionMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[metaID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &row, nil
}

func (f *fakeMeta) GetByDeviceAndBoard(_ context.Context, deviceID, boardID string) (*domain.ScoreSubmissionMeta, error) {
	if f.getFn != nil {
		if err := f.getFn(deviceID, boardID); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.DeviceID == deviceID && row.BoardID == boardID {
			r := row
			return &r, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeMeta) List(_ context.Context, filter port.SubmissionMetaFilter) ([]domain.ScoreSubmissionMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ScoreSubmissionMeta
	for _, row := range f.rows {
		if filter.DeviceID != "" && row.DeviceID != filter.DeviceID {
			continue
		}
		if filter.BoardID != "" && row.BoardID != filter.BoardID {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func (f *fakeMeta) Create(_ context.Context, meta domain.ScoreSubmissionMeta) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	if f.racer != nil {
		winner := *f.racer
		f.racer = nil
		f.rows[winner.ID] = winner
		f.committed = append(f.committed, winner)
		return repository.ErrConflict
	}
	for _, row := range f.rows {
		if row.DeviceID == meta.DeviceID && row.BoardID == meta.BoardID {
			return repository.ErrConflict
		}
	}
	f.rows[meta.ID] = meta
	return nil
}

func (f *fakeMeta) Update(_ context.Context, meta domain.ScoreSubmissionMeta) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	if _, ok := f.rows[meta.ID]; !ok {
		return repository.ErrNotFound
	}
	f.rows[meta.ID] = meta
	return nil
}

func (f *fakeMeta) snapshot() map[string]domain.ScoreSubmissionMeta {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := make(map[string]domain.ScoreSubmissionMeta, len(f.rows))
	for id, row := range f.rows {
		rows[id] = row
	}
	return rows
}

func (f *fakeMeta) restore(rows map[string]domain.ScoreSubmissionMeta) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.committed {
		rows[row.ID] = row
	}
	f.rows = rows
}

func (f *fakeMeta) only(deviceID, boardID string) (domain.ScoreSubmissionMeta, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.DeviceID == deviceID && row.BoardID == boardID {
			return row, true
		}
	}
	return domain.ScoreSubmissionMeta{}, false
}

type fakeFlags struct {
	mu        sync.Mutex
	flags     map[string]domain.ScoreFlag
	createErr error
}

func newFakeFlags(flags ...domain.ScoreFlag) *fakeFlags {
	f := &fakeFlags{flags: make(map[string]domain.ScoreFlag)}
	for _, flag := range flags {
		f.flags[flag.ID] = flag
	}
	return f
}

func (f *fakeFlags) Create(_ context.Context, flag domain.ScoreFlag) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.flags[flag.ID] = flag
	return nil
}

func (f *fakeFlags) Get(_ context.Context, flagID string) (*domain.ScoreFlag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	flag, ok := f.flags[flagID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &flag, nil
}

func (f *fakeFlags) List(_ context.Context, accountID string, filter port.ScoreFlagFilter) ([]domain.ScoreFlag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ScoreFlag
	for _, flag := range f.flags {
		if flag.AccountID != accountID {
			continue
		}
		if filter.Status != nil && flag.Status != *filter.Status {
			continue
		}
		if filter.BoardID != "" && flag.BoardID != filter.BoardID {
			continue
		}
		if filter.DeviceID != "" && flag.DeviceID != filter.DeviceID {
			continue
		}
		out = append(out, flag)
	}
	return out, nil
}

func (f *fakeFlags) Update(_ context.Context, flag domain.ScoreFlag) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.flags[flag.ID]; !ok {
		return repository.ErrNotFound
	}
	f.flags[flag.ID] = flag
	return nil
}

func (f *fakeFlags) snapshot() map[string]domain.ScoreFlag {
	f.mu.Lock()
	defer f.mu.Unlock()
	flags := make(map[string]domain.ScoreFlag, len(f.flags))
	for id, flag := range f.flags {
		flags[id] = flag
	}
	return flags
}

func (f *fakeFlags) restore(flags map[string]domain.ScoreFlag) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flags = flags
}

// fakeTransactor rolls the in-memory stores back to their state at the start of a failed run.
type fakeTransactor struct {
	scores *fakeScores
	meta   *fakeMeta
	flags  *fakeFlags

	mu        sync.Mutex
	commits   int
	rollbacks int
}

var _ port.SubmissionTransactor = (*fakeTransactor)(nil)

func (f *fakeTransactor) RunInTx(ctx context.Context, fn func(ctx context.Context, w port.SubmissionWriters) error) error {
	scores, rows, flags := f.scores.snapshot(), f.meta.snapshot(), f.flags.snapshot()

	err := fn(ctx, port.SubmissionWriters{Scores: f.scores, Meta: f.meta, Flags: f.flags})

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.scores.restore(scores)
		f.meta.restore(rows)
		f.flags.restore(flags)
		f.rollbacks++
		return err
	}
	f.commits++
	return nil
}

func (f *fakeFlags) all() []domain.ScoreFlag {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ScoreFlag, 0, len(f.flags))
	for _, flag := range f.flags {
		out = append(out, flag)
	}
	return out
}

type recordingEvents struct {
	mu            sync.Mutex
	started       []domain.DeviceSessionStartedEvent
	rotated       []domain.DeviceSessionRotatedEvent
	revoked       []domain.DeviceSessionRevokedEvent
	statusChanged []domain.DeviceStatusChangedEvent
	screened      []domain.ScoreScreenedEvent
	keysRevoked   []domain.APIKeyRevokedEvent
}

var _ port.EventPublisher = (*recordingEvents)(nil)

func (r *recordingEvents) PublishSessionStarted(_ context.Context, e domain.DeviceSessionStartedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, e)
	return nil
}

func (r *recordingEvents) PublishSessionRotated(_ context.Context, e domain.DeviceSessionRotatedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rotated = append(r.rotated, e)
	return nil
}

func (r *recordingEvents) PublishSessionRevoked(_ context.Context, e domain.DeviceSessionRevokedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked = append(r.revoked, e)
	return nil
}

func (r *recordingEvents) PublishDeviceStatusChanged(_ context.Context, e domain.DeviceStatusChangedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statusChanged = append(r.statusChanged, e)
	return nil
}

func (r *recordingEvents) PublishScoreScreened(_ context.Context, e domain.ScoreScreenedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.screened = append(r.screened, e)
	return nil
}

func (r *recordingEvents) PublishAPIKeyRevoked(_ context.Context, e domain.APIKeyRevokedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keysRevoked = append(r.keysRevoked, e)
	return nil
}

type countingMetrics struct {
	mu       sync.Mutex
	verdicts map[string]int
	nonces   map[string]int
	sessions map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{
		verdicts: make(map[string]int),
		nonces:   make(map[string]int),
		sessions: make(map[string]int),
	}
}

func (m *countingMetrics) ObserveVerdict(action, flagType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verdicts[action+"/"+flagType]++
}

func (m *countingMetrics) ObserveNonce(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nonces[outcome]++
}

func (m *countingMetrics) ObserveSession(event string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[event]++
}

type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func newSteppingClock(start time.Time) *steppingClock {
	return &steppingClock{now: start}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *steppingClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
