package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/leadrgg/leadr-core/internal/core/domain"
	"github.com/leadrgg/leadr-core/internal/core/port"
	"github.com/leadrgg/leadr-core/internal/infra/logger"
	"github.com/leadrgg/leadr-core/internal/infra/security"
	"github.com/leadrgg/leadr-core/internal/repository"
)

const (
	// DefaultAccessTokenTTL applies when no positive access TTL is configured.
	DefaultAccessTokenTTL = 24 * time.Hour
	// DefaultRefreshTokenTTL applies when no positive refresh TTL is configured.
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
)

// StartSessionInput carries the client supplied identity of a game install.
type StartSessionInput struct {
	GameID         string
	ClientDeviceID string
	Platform       *string
	IP             *string
	UserAgent      *string
	Metadata       map[string]any
}

// SessionTokens is the freshly issued token pair of a device session.
type SessionTokens struct {
	Device           domain.Device
	SessionID        string
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	ExpiresIn        int
	RefreshExpiresIn int
}

// DeviceService manages device identities and their token sessions.
type DeviceService struct {
	games    port.GameReader
	devices  port.DeviceRepository
	sessions port.DeviceSessionRepository
	codec    *security.TokenCodec
	events   port.EventPublisher
	metrics  port.TrustMetrics
	logger   *zap.Logger

	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewDeviceService wires the session manager.
func NewDeviceService(
	games port.GameReader,
	devices port.DeviceRepository,
	sessions port.DeviceSessionRepository,
	codec *security.TokenCodec,
	events port.EventPublisher,
	logger *zap.Logger,
) *DeviceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeviceService{
		games:      games,
		devices:    devices,
		sessions:   sessions,
		codec:      codec,
		events:     events,
		logger:     logger,
		accessTTL:  DefaultAccessTokenTTL,
		refreshTTL: DefaultRefreshTokenTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the service clock (useful for tests). The codec clock is left alone.
func (s *DeviceService) WithClock(clock func() time.Time) *DeviceService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// WithTokenTTLs overrides the access and refresh lifetimes. Non-positive values keep the defaults.
func (s *DeviceService) WithTokenTTLs(access, refresh time.Duration) *DeviceService {
	if access > 0 {
		s.accessTTL = access
	}
	if refresh > 0 {
		s.refreshTTL = refresh
	}
	return s
}

// WithMetrics attaches session counters.
func (s *DeviceService) WithMetrics(metrics port.TrustMetrics) *DeviceService {
	s.metrics = metrics
	return s
}

// StartSession finds or creates the device and issues a new token pair. Repeated calls for the
// same game install reuse the device.
func (s *DeviceService) StartSession(ctx context.Context, input StartSessionInput) (_ *SessionTokens, err error) {
	ctx, span := tracer.Start(ctx, "DeviceService.StartSession",
		trace.WithAttributes(attribute.String("leadr.game_id", input.GameID)))
	defer func() { endSpan(span, err) }()

	input.ClientDeviceID = strings.TrimSpace(input.ClientDeviceID)
	if input.GameID == "" || input.ClientDeviceID == "" {
		return nil, fmt.Errorf("%w: game id and device id are required", ErrValidation)
	}

	game, err := s.games.Get(ctx, input.GameID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrGameNotFound
		}
		return nil, fmt.Errorf("get game: %w", err)
	}

	now := s.now()
	device, created, err := s.resolveDevice(ctx, *game, input, now)
	if err != nil {
		return nil, err
	}

	identity := security.DeviceIdentity{DeviceID: device.ClientDeviceID, GameID: device.GameID, AccountID: device.AccountID}
	tokens, pair, err := s.issuePair(identity, domain.InitialTokenVersion)
	if err != nil {
		return nil, err
	}

	session := domain.NewDeviceSession(uuid.NewString(), device.ID, pair, input.IP, input.UserAgent, now)
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create device session: %w", err)
	}

	tokens.Device = device
	tokens.SessionID = session.ID
	span.SetAttributes(attribute.String("leadr.device_id", device.ID), attribute.Bool("leadr.device_created", created))

	s.observe("started")
	s.publishStarted(ctx, device, session, created, input.IP)
	s.logger.Info("Device session started",
		zap.String("device_id", device.ID),
		zap.String("session_id", session.ID),
		zap.String("game_id", device.GameID),
		zap.String("client_device_id", logger.MaskString(device.ClientDeviceID)),
		zap.Bool("device_created", created),
	)
	return tokens, nil
}

func (s *DeviceService) resolveDevice(ctx context.Context, game domain.Game, input StartSessionInput, now time.Time) (domain.Device, bool, error) {
	existing, err := s.devices.GetByClientID(ctx, game.ID, input.ClientDeviceID)
	switch {
	case err == nil:
		return s.touchDevice(ctx, *existing, input.Platform, now)
	case !errors.Is(err, repository.ErrNotFound):
		return domain.Device{}, false, fmt.Errorf("get device: %w", err)
	}

	device := domain.NewDevice(uuid.NewString(), game, input.ClientDeviceID, input.Platform, input.Metadata, now)
	if err := s.devices.Create(ctx, device); err != nil {
		if !errors.Is(err, repository.ErrConflict) {
			return domain.Device{}, false, fmt.Errorf("create device: %w", err)
		}
		// a concurrent first session created the row
		existing, err := s.devices.GetByClientID(ctx, game.ID, input.ClientDeviceID)
		if err != nil {
			return domain.Device{}, false, fmt.Errorf("re-read device after conflict: %w", err)
		}
		return s.touchDevice(ctx, *existing, input.Platform, now)
	}
	return device, true, nil
}

func (s *DeviceService) touchDevice(ctx context.Context, device domain.Device, platform *string, now time.Time) (domain.Device, bool, error) {
	seen := device.Seen(now, platform)
	if err := s.devices.Update(ctx, seen); err != nil {
		return domain.Device{}, false, fmt.Errorf("update device: %w", err)
	}
	return seen, false, nil
}

// ValidateAccessToken returns the active device owning token. Every credential failure is
// reported as ErrUnauthenticated.
func (s *DeviceService) ValidateAccessToken(ctx context.Context, token string) (*domain.Device, error) {
	claims, ok := s.codec.ParseAccessToken(token)
	if !ok {
		return nil, ErrUnauthenticated
	}

	device, err := s.devices.GetByClientID(ctx, claims.GameID, claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("get device: %w", err)
	}
	if !device.IsActive() || device.AccountID != claims.AccountID {
		return nil, ErrUnauthenticated
	}

	session, err := s.sessions.GetByAccessTokenHash(ctx, s.codec.HashToken(token))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("get device session: %w", err)
	}
	if session.DeviceID != device.ID || !session.AccessValid(s.now()) {
		return nil, ErrUnauthenticated
	}

	return device, nil
}

// RefreshAccessToken rotates the session owning refreshToken. A refresh token is accepted once:
// its version must equal the stored one and the conditional update must win.
func (s *DeviceService) RefreshAccessToken(ctx context.Context, refreshToken string) (_ *SessionTokens, err error) {
	ctx, span := tracer.Start(ctx, "DeviceService.RefreshAccessToken")
	defer func() { endSpan(span, err) }()

	claims, ok := s.codec.ParseRefreshToken(refreshToken)
	if !ok {
		return nil, s.refreshRejected("invalid_token")
	}

	session, err := s.sessions.GetByRefreshTokenHash(ctx, s.codec.HashToken(refreshToken))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, s.refreshRejected("unknown_token")
		}
		return nil, fmt.Errorf("get device session: %w", err)
	}

	now := s.now()
	if !session.CanRotate(*claims.TokenVersion, now) {
		s.logger.Warn("Refresh token rejected",
			zap.String("session_id", session.ID),
			zap.Int("presented_version", *claims.TokenVersion),
			zap.Int("stored_version", session.TokenVersion),
			zap.Bool("revoked", session.IsRevoked()),
		)
		return nil, s.refreshRejected("stale_version")
	}

	device, err := s.devices.Get(ctx, session.DeviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, s.refreshRejected("device_missing")
		}
		return nil, fmt.Errorf("get device: %w", err)
	}
	if !device.IsActive() || device.ClientDeviceID != claims.Subject || device.GameID != claims.GameID {
		return nil, s.refreshRejected("device_inactive")
	}

	identity := security.DeviceIdentity{DeviceID: device.ClientDeviceID, GameID: device.GameID, AccountID: device.AccountID}
	tokens, pair, err := s.issuePair(identity, session.TokenVersion+1)
	if err != nil {
		return nil, err
	}

	rotated := session.Rotate(pair, now)
	if err := s.sessions.Rotate(ctx, rotated, session.TokenVersion); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, s.refreshRejected("lost_race")
		}
		return nil, fmt.Errorf("rotate device session: %w", err)
	}

	tokens.Device = *device
	tokens.SessionID = rotated.ID
	s.observe("rotated")
	s.publishRotated(ctx, *device, rotated)
	return tokens, nil
}

// GetDevice returns a device owned by accountID.
func (s *DeviceService) GetDevice(ctx context.Context, accountID, deviceID string) (*domain.Device, error) {
	device, err := s.devices.Get(ctx, deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("get device: %w", err)
	}
	if device.AccountID != accountID {
		return nil, ErrDeviceNotFound
	}
	return device, nil
}

// ListDevices returns the non-deleted devices of an account, optionally narrowed by game and status.
func (s *DeviceService) ListDevices(ctx context.Context, filter port.DeviceFilter) ([]domain.Device, error) {
	if filter.AccountID == "" {
		return nil, fmt.Errorf("%w: account is required", ErrValidation)
	}
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, ErrInvalidStatus
	}
	devices, err := s.devices.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return devices, nil
}

// ListAccountSessions returns the sessions of every device of an account, newest first.
func (s *DeviceService) ListAccountSessions(ctx context.Context, filter port.DeviceSessionFilter) ([]domain.DeviceSession, error) {
	if filter.AccountID == "" {
		return nil, fmt.Errorf("%w: account is required", ErrValidation)
	}
	sessions, err := s.sessions.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list account sessions: %w", err)
	}
	return sessions, nil
}

// ListSessions returns the sessions of a device owned by accountID, newest first.
func (s *DeviceService) ListSessions(ctx context.Context, accountID, deviceID string) ([]domain.DeviceSession, error) {
	if _, err := s.GetDevice(ctx, accountID, deviceID); err != nil {
		return nil, err
	}
	sessions, err := s.sessions.ListByDevice(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("list device sessions: %w", err)
	}
	return sessions, nil
}

// GetSession returns a session whose device is owned by accountID.
func (s *DeviceService) GetSession(ctx context.Context, accountID, sessionID string) (*domain.DeviceSession, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get device session: %w", err)
	}
	if _, err := s.GetDevice(ctx, accountID, session.DeviceID); err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return session, nil
}

// RevokeSession terminates a session. Revoking an already revoked session is a no-op.
func (s *DeviceService) RevokeSession(ctx context.Context, accountID, sessionID, revokedBy string) (*domain.DeviceSession, error) {
	session, err := s.GetSession(ctx, accountID, sessionID)
	if err != nil {
		return nil, err
	}

	revoked, changed := session.Revoke(s.now())
	if !changed {
		return session, nil
	}
	if err := s.sessions.Revoke(ctx, sessionID, *revoked.RevokedAt); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("revoke device session: %w", err)
	}

	s.observe("revoked")
	if s.events != nil {
		event := domain.DeviceSessionRevokedEvent{
			EventID:   uuid.NewString(),
			SessionID: revoked.ID,
			DeviceID:  revoked.DeviceID,
			AccountID: accountID,
			RevokedAt: *revoked.RevokedAt,
			RevokedBy: revokedBy,
		}
		if err := s.events.PublishSessionRevoked(ctx, event); err != nil {
			s.logger.Warn("Failed to publish session revoked event", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	return &revoked, nil
}

// BanDevice marks the device banned. Its tokens stop validating immediately.
func (s *DeviceService) BanDevice(ctx context.Context, accountID, deviceID, changedBy string) (*domain.Device, error) {
	return s.moderate(ctx, accountID, deviceID, changedBy, domain.Device.Ban)
}

// SuspendDevice marks the device suspended.
func (s *DeviceService) SuspendDevice(ctx context.Context, accountID, deviceID, changedBy string) (*domain.Device, error) {
	return s.moderate(ctx, accountID, deviceID, changedBy, domain.Device.Suspend)
}

// ActivateDevice lifts a ban or suspension.
func (s *DeviceService) ActivateDevice(ctx context.Context, accountID, deviceID, changedBy string) (*domain.Device, error) {
	return s.moderate(ctx, accountID, deviceID, changedBy, domain.Device.Activate)
}

func (s *DeviceService) moderate(ctx context.Context, accountID, deviceID, changedBy string, transition func(domain.Device, time.Time) domain.Device) (*domain.Device, error) {
	device, err := s.GetDevice(ctx, accountID, deviceID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	next := transition(*device, now)
	if next.Status == device.Status {
		return device, nil
	}

	if err := s.devices.Update(ctx, next); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("update device status: %w", err)
	}

	s.logger.Info("Device status changed",
		zap.String("device_id", next.ID),
		zap.String("previous_status", string(device.Status)),
		zap.String("status", string(next.Status)),
		zap.String("changed_by", changedBy),
	)
	if s.events != nil {
		event := domain.DeviceStatusChangedEvent{
			EventID:        uuid.NewString(),
			DeviceID:       next.ID,
			GameID:         next.GameID,
			AccountID:      next.AccountID,
			PreviousStatus: device.Status,
			Status:         next.Status,
			ChangedAt:      now,
			ChangedBy:      changedBy,
		}
		if err := s.events.PublishDeviceStatusChanged(ctx, event); err != nil {
			s.logger.Warn("Failed to publish device status event", zap.String("device_id", next.ID), zap.Error(err))
		}
	}
	return &next, nil
}

func (s *DeviceService) issuePair(identity security.DeviceIdentity, version int) (*SessionTokens, domain.TokenPairHashes, error) {
	access, err := s.codec.IssueAccessToken(identity, s.accessTTL)
	if err != nil {
		return nil, domain.TokenPairHashes{}, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := s.codec.IssueRefreshToken(identity, version, s.refreshTTL)
	if err != nil {
		return nil, domain.TokenPairHashes{}, fmt.Errorf("issue refresh token: %w", err)
	}

	tokens := &SessionTokens{
		AccessToken:      access.Token,
		RefreshToken:     refresh.Token,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
		ExpiresIn:        int(s.accessTTL.Seconds()),
		RefreshExpiresIn: int(s.refreshTTL.Seconds()),
	}
	pair := domain.TokenPairHashes{
		AccessTokenHash:  access.Hash,
		RefreshTokenHash: refresh.Hash,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
	}
	return tokens, pair, nil
}

func (s *DeviceService) refreshRejected(reason string) error {
	s.observe("refresh_rejected")
	s.logger.Debug("Refresh rejected", zap.String("reason", reason))
	return ErrUnauthenticated
}

func (s *DeviceService) observe(event string) {
	if s.metrics != nil {
		s.metrics.ObserveSession(event)
	}
}

func (s *DeviceService) publishStarted(ctx context.Context, device domain.Device, session domain.DeviceSession, created bool, ip *string) {
	if s.events == nil {
		return
	}
	event := domain.DeviceSessionStartedEvent{
		EventID:       uuid.NewString(),
		SessionID:     session.ID,
		DeviceID:      device.ID,
		GameID:        device.GameID,
		AccountID:     device.AccountID,
		DeviceCreated: created,
		Platform:      device.Platform,
		StartedAt:     session.CreatedAt,
		IPAddress:     ip,
	}
	if err := s.events.PublishSessionStarted(ctx, event); err != nil {
		s.logger.Warn("Failed to publish session started event", zap.String("session_id", session.ID), zap.Error(err))
	}
}

func (s *DeviceService) publishRotated(ctx context.Context, device domain.Device, session domain.DeviceSession) {
	if s.events == nil {
		return
	}
	event := domain.DeviceSessionRotatedEvent{
		EventID:      uuid.NewString(),
		SessionID:    session.ID,
		DeviceID:     device.ID,
		AccountID:    device.AccountID,
		TokenVersion: session.TokenVersion,
		RotatedAt:    session.UpdatedAt,
	}
	if err := s.events.PublishSessionRotated(ctx, event); err != nil {
		s.logger.Warn("Failed to publish session rotated event", zap.String("session_id", session.ID), zap.Error(err))
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
