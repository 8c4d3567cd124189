package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ayush/recipe-assistant/backend/internal/models"
	"github.com/ayush/recipe-assistant/backend/internal/store"
	"github.com/ayush/recipe-assistant/backend/internal/telemetry"
)

const (
	DefaultSessionTTL = 30 * 24 * time.Hour
	SessionCookie     = "session_id"
	CSRFCookie        = "csrf_token"
	CSRFHeader        = "X-CSRF-Token"

	// tokenAttempts bounds retries when a generated token collides.
	tokenAttempts = 3
)

// SessionStore defines the interface for session persistence. Every read and
// conditional write takes the caller's notion of now so expiry is evaluated
// against a single clock.
type SessionStore interface {
	CreateSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, token string, now time.Time) (*models.Session, error)
	DeleteSession(ctx context.Context, token string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
	SetSessionCSRF(ctx context.Context, token, csrf string, now time.Time) error
	EnsureSessionCSRF(ctx context.Context, token, candidate string, now time.Time) (string, error)
}

// Sessions manages the session lifecycle on top of a SessionStore.
type Sessions struct {
	store SessionStore
	ttl   time.Duration
	now   func() time.Time
}

// SessionOption configures Sessions.
type SessionOption func(*Sessions)

// WithClock overrides the time source.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Sessions) { s.now = now }
}

// NewSessions returns a session manager. A non-positive ttl selects DefaultSessionTTL.
func NewSessions(st SessionStore, ttl time.Duration, opts ...SessionOption) *Sessions {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	s := &Sessions{store: st, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the default session lifetime.
func (s *Sessions) TTL() time.Duration {
	return s.ttl
}

// Create opens a new session for userID and returns its session token and
// CSRF token. A non-positive ttl uses the default.
func (s *Sessions) Create(ctx context.Context, userID int64, ttl time.Duration) (string, string, error) {
	if ttl <= 0 {
		ttl = s.ttl
	}

	csrf, err := NewToken()
	if err != nil {
		return "", "", err
	}

	now := s.now().UTC()
	for attempt := 1; attempt <= tokenAttempts; attempt++ {
		token, err := NewToken()
		if err != nil {
			return "", "", err
		}

		session := &models.Session{
			Token:     token,
			UserID:    userID,
			CSRFToken: csrf,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		}

		err = s.store.CreateSession(ctx, session)
		if err == nil {
			telemetry.GetMetrics().SessionsCreated.Add(ctx, 1)
			return token, csrf, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return "", "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		log.Warn().Int("attempt", attempt).Msg("Session token collision, retrying")
	}

	return "", "", fmt.Errorf("%w: could not allocate a unique session token", ErrStoreUnavailable)
}

// Resolve returns the active session for token. Missing and expired sessions
// both yield ErrSessionInvalid.
func (s *Sessions) Resolve(ctx context.Context, token string) (*models.Session, error) {
	if token == "" {
		return nil, ErrSessionInvalid
	}

	session, err := s.store.GetSession(ctx, token, s.now().UTC())
	if err != nil {
		return nil, translateSessionError(err)
	}
	return session, nil
}

// Delete removes the session. Deleting an unknown token succeeds.
func (s *Sessions) Delete(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.store.DeleteSession(ctx, token); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// SweepExpired deletes every session that expired at or before the moment
// the call started.
func (s *Sessions) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpiredSessions(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if n > 0 {
		telemetry.GetMetrics().SessionsSwept.Add(ctx, n)
	}
	return n, nil
}

// RotateCSRF replaces the CSRF token of an active session.
func (s *Sessions) RotateCSRF(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrSessionInvalid
	}

	csrf, err := NewToken()
	if err != nil {
		return "", err
	}
	if err := s.store.SetSessionCSRF(ctx, token, csrf, s.now().UTC()); err != nil {
		return "", translateSessionError(err)
	}
	return csrf, nil
}

// GetOrCreateCSRF returns the session's CSRF token, storing a fresh one if
// none was issued yet.
func (s *Sessions) GetOrCreateCSRF(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrSessionInvalid
	}

	candidate, err := NewToken()
	if err != nil {
		return "", err
	}
	csrf, err := s.store.EnsureSessionCSRF(ctx, token, candidate, s.now().UTC())
	if err != nil {
		return "", translateSessionError(err)
	}
	return csrf, nil
}

func translateSessionError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrSessionInvalid
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
