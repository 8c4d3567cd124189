package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/ayush/recipe-assistant/backend/internal/auth"
	"github.com/ayush/recipe-assistant/backend/internal/models"
)

type contextKey string

const userIDKey contextKey = "user_id"

// SessionResolver resolves a session token to an active session.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (*models.Session, error)
}

// RequireAuth is middleware that validates the session cookie and
// injects the user ID into the request context.
func RequireAuth(sessions SessionResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.SessionToken(r)
			if token == "" {
				jsonError(w, http.StatusUnauthorized, "not authenticated")
				return
			}

			session, err := sessions.Resolve(r.Context(), token)
			if errors.Is(err, auth.ErrSessionInvalid) {
				jsonError(w, http.StatusUnauthorized, "session expired")
				return
			}
			if err != nil {
				hlog.FromRequest(r).Error().Err(err).Msg("session lookup failed")
				jsonError(w, http.StatusInternalServerError, "internal error")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), session.UserID)))
		})
	}
}

// WithUserID returns a copy of ctx carrying the authenticated user ID.
func WithUserID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// UserID returns the user ID stored by RequireAuth.
func UserID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok
}

func jsonError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
