package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
)

// CSRFGuard issues and checks the per-session synchronizer token.
type CSRFGuard struct {
	sessions *Sessions
}

func NewCSRFGuard(sessions *Sessions) *CSRFGuard {
	return &CSRFGuard{sessions: sessions}
}

// Issue rotates the session's CSRF token and returns the new value.
func (g *CSRFGuard) Issue(ctx context.Context, sessionToken string) (string, error) {
	return g.sessions.RotateCSRF(ctx, sessionToken)
}

// GetOrCreate returns the current CSRF token, issuing one only if missing.
func (g *CSRFGuard) GetOrCreate(ctx context.Context, sessionToken string) (string, error) {
	return g.sessions.GetOrCreateCSRF(ctx, sessionToken)
}

// Check reports whether presented equals the session's CSRF token. It is
// false for an invalid session, a session without a token, or an empty
// presented value. An error is returned only when the store failed.
func (g *CSRFGuard) Check(ctx context.Context, sessionToken, presented string) (bool, error) {
	if presented == "" {
		return false, nil
	}

	session, err := g.sessions.Resolve(ctx, sessionToken)
	if errors.Is(err, ErrSessionInvalid) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if session.CSRFToken == "" {
		return false, nil
	}

	return tokensEqual(session.CSRFToken, presented), nil
}

// tokensEqual compares fixed-size digests so neither content nor length of
// the presented value affects timing.
func tokensEqual(stored, presented string) bool {
	a := sha256.Sum256([]byte(stored))
	b := sha256.Sum256([]byte(presented))
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
