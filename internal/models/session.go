package models

import "time"

// Session represents a row in the PostgreSQL sessions table.
// Token is the only value stored in the HTTP-only cookie; CSRFToken is empty
// until one has been issued.
type Session struct {
	ID        int64
	Token     string
	UserID    int64
	CSRFToken string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// ActiveAt reports whether the session is still valid at now.
// A session expiring exactly at now is already expired.
func (s *Session) ActiveAt(now time.Time) bool {
	return s.ExpiresAt.After(now)
}
