package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/leadrgg/leadr-core/internal/core/domain"
	"github.com/leadrgg/leadr-core/internal/core/port"
	"github.com/leadrgg/leadr-core/internal/transport/http/middleware"
	"github.com/leadrgg/leadr-core/internal/usecase"
)

var fixedNow = time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)

type stubSessions struct {
	started  []usecase.StartSessionInput
	startErr error
	rotated  map[string]bool
}

func (s *stubSessions) StartSession(_ context.Context, input usecase.StartSessionInput) (*usecase.SessionTokens, error) {
	if s.startErr != nil {
		return nil, s.startErr
	}
	s.started = append(s.started, input)
	return &usecase.SessionTokens{
		Device:           domain.Device{ID: "dev-1", GameID: input.GameID, AccountID: "acc-1", ClientDeviceID: input.ClientDeviceID, Status: domain.DeviceStatusActive},
		SessionID:        "sess-1",
		AccessToken:      "access",
		RefreshToken:     "refresh",
		ExpiresIn:        86400,
		RefreshExpiresIn: 2592000,
	}, nil
}

func (s *stubSessions) RefreshAccessToken(_ context.Context, token string) (*usecase.SessionTokens, error) {
	if s.rotated[token] {
		return nil, usecase.ErrUnauthenticated
	}
	if s.rotated == nil {
		s.rotated = map[string]bool{}
	}
	s.rotated[token] = true
	return &usecase.SessionTokens{AccessToken: "access-2", RefreshToken: "refresh-2", ExpiresIn: 86400}, nil
}

type stubNonceIssuer struct{}

func (stubNonceIssuer) Issue(_ context.Context, deviceID string) (*domain.Nonce, error) {
	return &domain.Nonce{ID: "n-1", DeviceID: deviceID, Value: "nonce-for-" + deviceID, ExpiresAt: fixedNow.Add(time.Minute)}, nil
}

type stubSubmitter struct {
	inputs []usecase.SubmitInput
	result *usecase.SubmissionResult
	err    error
}

func (s *stubSubmitter) Submit(_ context.Context, input usecase.SubmitInput) (*usecase.SubmissionResult, error) {
	s.inputs = append(s.inputs, input)
	return s.result, s.err
}

func withDevice(device *domain.Device) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.DeviceKey, device)
		c.Next()
	}
}

func withKey(key *domain.APIKey) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.APIKeyKey, key)
		c.Next()
	}
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v", rr.Body.String(), err)
	}
	return out
}

func clientRouter(sessions ClientSessions, scores ScoreSubmitter, device *domain.Device) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewClientHandler(sessions, stubNonceIssuer{}, scores)
	r := gin.New()
	r.Use(middleware.EnrichContext())
	r.POST("/client/sessions", h.StartSession)
	r.POST("/client/sessions/refresh", h.RefreshSession)
	r.GET("/client/nonce", withDevice(device), h.IssueNonce)
	r.POST("/client/scores", withDevice(device), h.SubmitScore)
	return r
}

func TestStartSessionCreatesTokens(t *testing.T) {
	sessions := &stubSessions{}
	router := clientRouter(sessions, &stubSubmitter{}, nil)

	rr := doJSON(t, router, http.MethodPost, "/client/sessions", map[string]any{"game_id": "game-1", "device_id": " install-42 "})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decode[StartSessionResponse](t, rr)
	if body.AccessToken != "access" || body.TokenType != "Bearer" || body.Device.DeviceID != "install-42" {
		t.Fatalf("unexpected body %+v", body)
	}
	if len(sessions.started) != 1 || sessions.started[0].IP == nil {
		t.Fatalf("expected client ip to be forwarded, got %+v", sessions.started)
	}

	if rr := doJSON(t, router, http.MethodPost, "/client/sessions", map[string]any{"game_id": "game-1"}); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without device_id, got %d", rr.Code)
	}

	sessions.startErr = fmt.Errorf("load game: %w", usecase.ErrGameNotFound)
	if rr := doJSON(t, router, http.MethodPost, "/client/sessions", map[string]any{"game_id": "game-9", "device_id": "x"}); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown game, got %d", rr.Code)
	}
}

func TestRefreshSessionIsSingleUse(t *testing.T) {
	router := clientRouter(&stubSessions{}, &stubSubmitter{}, nil)

	first := doJSON(t, router, http.MethodPost, "/client/sessions/refresh", map[string]any{"refresh_token": "r1"})
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", first.Code)
	}
	replay := doJSON(t, router, http.MethodPost, "/client/sessions/refresh", map[string]any{"refresh_token": "r1"})
	if replay.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 on replay, got %d", replay.Code)
	}
	if body := decode[ErrorResponse](t, replay); body.Error != "unauthenticated" || body.TraceID == "" {
		t.Fatalf("unexpected error body %+v", body)
	}
}

func TestIssueNonceForAuthenticatedDevice(t *testing.T) {
	router := clientRouter(&stubSessions{}, &stubSubmitter{}, &domain.Device{ID: "dev-7"})

	rr := doJSON(t, router, http.MethodGet, "/client/nonce", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if body := decode[NonceResponse](t, rr); body.NonceValue != "nonce-for-dev-7" || !body.ExpiresAt.Equal(fixedNow.Add(time.Minute)) {
		t.Fatalf("unexpected nonce %+v", body)
	}
}

func TestSubmitScoreStatusFollowsVerdict(t *testing.T) {
	device := &domain.Device{ID: "dev-1", AccountID: "acc-1", GameID: "game-1"}
	flagType := domain.FlagTypeRateLimit
	confidence := domain.FlagConfidenceHigh

	stored := &stubSubmitter{result: &usecase.SubmissionResult{
		Score:   &domain.Score{ID: "score-1", BoardID: "board-1", Value: 0},
		Verdict: &domain.AntiCheatResult{Action: domain.FlagActionAccept},
	}}
	router := clientRouter(&stubSessions{}, stored, device)

	rr := doJSON(t, router, http.MethodPost, "/client/scores", map[string]any{"board_id": "board-1", "player_name": "p", "value": 0})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	input := stored.inputs[0]
	if input.AccountID != "acc-1" || input.GameID != "game-1" || input.DeviceID != "dev-1" || input.TrustTier != "" {
		t.Fatalf("submission must be scoped to the device, got %+v", input)
	}

	rejected := &stubSubmitter{result: &usecase.SubmissionResult{
		Verdict: &domain.AntiCheatResult{Action: domain.FlagActionReject, FlagType: &flagType, Confidence: &confidence, Reason: "too many submissions"},
		Flag:    &domain.ScoreFlag{ID: "flag-1"},
	}}
	router = clientRouter(&stubSessions{}, rejected, device)
	rr = doJSON(t, router, http.MethodPost, "/client/scores", map[string]any{"board_id": "board-1", "player_name": "p", "value": 3.5})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	body := decode[SubmitScoreResponse](t, rr)
	if body.Score != nil || body.Verdict == nil || *body.Verdict.FlagType != domain.FlagTypeRateLimit || *body.FlagID != "flag-1" {
		t.Fatalf("unexpected rejection body %+v", body)
	}

	if rr := doJSON(t, router, http.MethodPost, "/client/scores", map[string]any{"board_id": "board-1", "player_name": "p"}); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without value, got %d", rr.Code)
	}

	mismatch := &stubSubmitter{err: fmt.Errorf("%w: board belongs to another game", usecase.ErrBoardMismatch)}
	router = clientRouter(&stubSessions{}, mismatch, device)
	if rr := doJSON(t, router, http.MethodPost, "/client/scores", map[string]any{"board_id": "b", "player_name": "p", "value": 1}); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for board mismatch, got %d", rr.Code)
	}
}

type stubKeys struct {
	keys      map[string]domain.APIKey
	issued    []usecase.IssueAPIKeyInput
	listedFor *domain.APIKeyStatus
}

func (s *stubKeys) Issue(_ context.Context, input usecase.IssueAPIKeyInput) (*domain.APIKey, string, error) {
	s.issued = append(s.issued, input)
	key := domain.APIKey{ID: "key-2", AccountID: input.AccountID, Name: input.Name, KeyPrefix: "ldr_abcdefghij", Status: domain.APIKeyStatusActive, KeyHash: "secret-hash"}
	return &key, "ldr_abcdefghijklmnop", nil
}

func (s *stubKeys) Get(_ context.Context, accountID, keyID string) (*domain.APIKey, error) {
	key, ok := s.keys[keyID]
	if !ok || key.AccountID != accountID {
		return nil, usecase.ErrAPIKeyNotFound
	}
	return &key, nil
}

func (s *stubKeys) List(_ context.Context, _ string, status *domain.APIKeyStatus) ([]domain.APIKey, error) {
	s.listedFor = status
	return []domain.APIKey{{ID: "key-1"}}, nil
}

func (s *stubKeys) CountActive(context.Context, string) (int, error) { return 3, nil }

func (s *stubKeys) UpdateStatus(_ context.Context, accountID, keyID string, status domain.APIKeyStatus) (*domain.APIKey, error) {
	if !status.Valid() {
		return nil, usecase.ErrInvalidStatus
	}
	return s.Get(context.Background(), accountID, keyID)
}

func (s *stubKeys) Revoke(ctx context.Context, accountID, keyID string) (*domain.APIKey, error) {
	return s.Get(ctx, accountID, keyID)
}

func adminRouter(register func(*gin.RouterGroup)) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	group := r.Group("/api/v1")
	group.Use(withKey(&domain.APIKey{ID: "key-1", AccountID: "acc-1", UserID: "user-1"}))
	register(group)
	return r
}

func TestAPIKeyHandlerScopesToCallerAccount(t *testing.T) {
	keys := &stubKeys{keys: map[string]domain.APIKey{
		"key-1": {ID: "key-1", AccountID: "acc-1"},
		"key-9": {ID: "key-9", AccountID: "acc-2"},
	}}
	router := adminRouter(NewAPIKeyHandler(keys).RegisterRoutes)

	rr := doJSON(t, router, http.MethodPost, "/api/v1/api-keys", map[string]any{"name": "ci"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	if bytes.Contains(rr.Body.Bytes(), []byte("secret-hash")) {
		t.Fatal("key hash must never be serialized")
	}
	created := decode[CreateAPIKeyResponse](t, rr)
	if created.Key != "ldr_abcdefghijklmnop" || keys.issued[0].AccountID != "acc-1" || keys.issued[0].UserID != "user-1" {
		t.Fatalf("unexpected create %+v / %+v", created, keys.issued)
	}

	if rr := doJSON(t, router, http.MethodGet, "/api/v1/api-keys/key-9", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign key, got %d", rr.Code)
	}
	if rr := doJSON(t, router, http.MethodDelete, "/api/v1/api-keys/key-1", nil); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if rr := doJSON(t, router, http.MethodPatch, "/api/v1/api-keys/key-1", map[string]any{"status": "paused"}); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid status, got %d", rr.Code)
	}
	if rr := doJSON(t, router, http.MethodGet, "/api/v1/api-keys?status=bogus", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid filter, got %d", rr.Code)
	}

	rr = doJSON(t, router, http.MethodGet, "/api/v1/api-keys/count", nil)
	if rr.Code != http.StatusOK || decode[CountResponse](t, rr).Count != 3 {
		t.Fatalf("unexpected count response %d %s", rr.Code, rr.Body.String())
	}
}

type stubModeration struct {
	changedBy     []string
	deviceFilter  port.DeviceFilter
	sessionFilter port.DeviceSessionFilter
}

func (s *stubModeration) ListDevices(_ context.Context, filter port.DeviceFilter) ([]domain.Device, error) {
	s.deviceFilter = filter
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, usecase.ErrInvalidStatus
	}
	return []domain.Device{{ID: "dev-1", AccountID: filter.AccountID, Status: domain.DeviceStatusActive}}, nil
}

func (s *stubModeration) ListAccountSessions(_ context.Context, filter port.DeviceSessionFilter) ([]domain.DeviceSession, error) {
	s.sessionFilter = filter
	return []domain.DeviceSession{{ID: "sess-1", DeviceID: "dev-1", AccessTokenHash: "hash-a"}}, nil
}

func (s *stubModeration) GetDevice(_ context.Context, accountID, deviceID string) (*domain.Device, error) {
	if accountID != "acc-1" || deviceID != "dev-1" {
		return nil, usecase.ErrDeviceNotFound
	}
	return &domain.Device{ID: deviceID, AccountID: accountID, Status: domain.DeviceStatusActive}, nil
}

func (s *stubModeration) ListSessions(context.Context, string, string) ([]domain.DeviceSession, error) {
	return []domain.DeviceSession{{ID: "sess-1", AccessTokenHash: "hash-a", RefreshTokenHash: "hash-r", TokenVersion: 2}}, nil
}

func (s *stubModeration) GetSession(context.Context, string, string) (*domain.DeviceSession, error) {
	return nil, errors.New("connection reset by peer")
}

func (s *stubModeration) RevokeSession(_ context.Context, _, sessionID, revokedBy string) (*domain.DeviceSession, error) {
	s.changedBy = append(s.changedBy, revokedBy)
	at := fixedNow
	return &domain.DeviceSession{ID: sessionID, RevokedAt: &at}, nil
}

func (s *stubModeration) BanDevice(ctx context.Context, accountID, deviceID, changedBy string) (*domain.Device, error) {
	s.changedBy = append(s.changedBy, changedBy)
	device, err := s.GetDevice(ctx, accountID, deviceID)
	if err != nil {
		return nil, err
	}
	banned := device.Ban(fixedNow)
	return &banned, nil
}

func (s *stubModeration) SuspendDevice(ctx context.Context, accountID, deviceID, changedBy string) (*domain.Device, error) {
	return s.BanDevice(ctx, accountID, deviceID, changedBy)
}

func (s *stubModeration) ActivateDevice(ctx context.Context, accountID, deviceID, changedBy string) (*domain.Device, error) {
	return s.GetDevice(ctx, accountID, deviceID)
}

func TestDeviceHandlerModeration(t *testing.T) {
	devices := &stubModeration{}
	router := adminRouter(NewDeviceHandler(devices).RegisterRoutes)

	rr := doJSON(t, router, http.MethodPost, "/api/v1/devices/dev-1/ban", nil)
	if rr.Code != http.StatusOK || decode[DeviceResponse](t, rr).Status != domain.DeviceStatusBanned {
		t.Fatalf("unexpected ban response %d %s", rr.Code, rr.Body.String())
	}
	if len(devices.changedBy) != 1 || devices.changedBy[0] != "user-1" {
		t.Fatalf("expected the key owner to be recorded, got %v", devices.changedBy)
	}

	if rr := doJSON(t, router, http.MethodGet, "/api/v1/devices/dev-2", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	rr = doJSON(t, router, http.MethodGet, "/api/v1/devices/dev-1/sessions", nil)
	if rr.Code != http.StatusOK || bytes.Contains(rr.Body.Bytes(), []byte("hash-a")) {
		t.Fatalf("sessions must not leak token hashes: %d %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, router, http.MethodGet, "/api/v1/device-sessions/sess-1", nil)
	if rr.Code != http.StatusInternalServerError || bytes.Contains(rr.Body.Bytes(), []byte("connection reset")) {
		t.Fatalf("expected opaque 500, got %d %s", rr.Code, rr.Body.String())
	}

	if rr := doJSON(t, router, http.MethodPost, "/api/v1/device-sessions/sess-1/revoke", nil); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestDeviceHandlerAccountListings(t *testing.T) {
	devices := &stubModeration{}
	router := adminRouter(NewDeviceHandler(devices).RegisterRoutes)

	rr := doJSON(t, router, http.MethodGet, "/api/v1/devices?game_id=game-1&status=BANNED", nil)
	if rr.Code != http.StatusOK || decode[ListResponse[DeviceResponse]](t, rr).Total != 1 {
		t.Fatalf("unexpected list response %d %s", rr.Code, rr.Body.String())
	}
	if devices.deviceFilter.AccountID != "acc-1" || devices.deviceFilter.GameID != "game-1" ||
		devices.deviceFilter.Status == nil || *devices.deviceFilter.Status != domain.DeviceStatusBanned {
		t.Fatalf("unexpected device filter %+v", devices.deviceFilter)
	}

	if rr := doJSON(t, router, http.MethodGet, "/api/v1/devices?status=gone", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rr.Code)
	}

	rr = doJSON(t, router, http.MethodGet, "/api/v1/device-sessions?device_id=dev-1", nil)
	if rr.Code != http.StatusOK || bytes.Contains(rr.Body.Bytes(), []byte("hash-a")) {
		t.Fatalf("unexpected sessions response %d %s", rr.Code, rr.Body.String())
	}
	if devices.sessionFilter.AccountID != "acc-1" || devices.sessionFilter.DeviceID != "dev-1" {
		t.Fatalf("unexpected session filter %+v", devices.sessionFilter)
	}
}

type stubFlags struct {
	filter port.ScoreFlagFilter
	review usecase.ReviewInput
}

func (s *stubFlags) List(_ context.Context, _ string, filter port.ScoreFlagFilter) ([]domain.ScoreFlag, error) {
	s.filter = filter
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, usecase.ErrInvalidStatus
	}
	return []domain.ScoreFlag{{ID: "flag-1", Status: domain.FlagStatusPending}}, nil
}

func (s *stubFlags) Get(_ context.Context, _, flagID string) (*domain.ScoreFlag, error) {
	return &domain.ScoreFlag{ID: flagID}, nil
}

func (s *stubFlags) Review(_ context.Context, _, flagID string, input usecase.ReviewInput) (*domain.ScoreFlag, error) {
	s.review = input
	return &domain.ScoreFlag{ID: flagID, Status: input.Status, ReviewerID: input.ReviewerID}, nil
}

func (s *stubFlags) Update(_ context.Context, _, flagID string, status *domain.FlagStatus, _ *string) (*domain.ScoreFlag, error) {
	return &domain.ScoreFlag{ID: flagID, Status: *status}, nil
}

func TestScoreFlagHandlerReviewAndFilters(t *testing.T) {
	flags := &stubFlags{}
	router := adminRouter(NewScoreFlagHandler(flags).RegisterRoutes)

	rr := doJSON(t, router, http.MethodGet, "/api/v1/score-flags?status=pending&board_id=board-1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if flags.filter.Status == nil || *flags.filter.Status != domain.FlagStatusPending || flags.filter.BoardID != "board-1" {
		t.Fatalf("unexpected filter %+v", flags.filter)
	}
	if list := decode[ListResponse[ScoreFlagResponse]](t, rr); list.Total != 1 {
		t.Fatalf("unexpected list %+v", list)
	}

	if rr := doJSON(t, router, http.MethodGet, "/api/v1/score-flags?status=open", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rr.Code)
	}

	rr = doJSON(t, router, http.MethodPost, "/api/v1/score-flags/flag-1/review", map[string]any{"status": "CONFIRMED_CHEAT", "reviewer_decision": "replayed"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if flags.review.ReviewerID == nil || *flags.review.ReviewerID != "user-1" || *flags.review.Decision != "replayed" {
		t.Fatalf("unexpected review input %+v", flags.review)
	}
}

type stubLedger struct {
	filter port.SubmissionMetaFilter
}

func (s *stubLedger) GetSubmissionMeta(context.Context, string, string) (*domain.ScoreSubmissionMeta, error) {
	return nil, usecase.ErrSubmissionMetaNotFound
}

func (s *stubLedger) ListSubmissionMeta(_ context.Context, filter port.SubmissionMetaFilter) ([]domain.ScoreSubmissionMeta, error) {
	s.filter = filter
	return []domain.ScoreSubmissionMeta{{ID: "meta-1", SubmissionCount: 4}}, nil
}

func TestSubmissionMetaHandlerUsesCallerAccount(t *testing.T) {
	ledger := &stubLedger{}
	router := adminRouter(NewSubmissionMetaHandler(ledger).RegisterRoutes)

	rr := doJSON(t, router, http.MethodGet, "/api/v1/submission-meta?device_id=dev-1", nil)
	if rr.Code != http.StatusOK || ledger.filter.AccountID != "acc-1" || ledger.filter.DeviceID != "dev-1" {
		t.Fatalf("unexpected list %d filter %+v", rr.Code, ledger.filter)
	}
	if rr := doJSON(t, router, http.MethodGet, "/api/v1/submission-meta/meta-9", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
