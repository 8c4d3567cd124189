package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/hlog"

	"github.com/ayush/recipe-assistant/backend/internal/auth"
	"github.com/ayush/recipe-assistant/backend/internal/telemetry"
)

// DefaultCSRFExemptPaths are reachable by unsafe methods without a CSRF header.
var DefaultCSRFExemptPaths = []string{
	"/api/auth/register",
	"/api/auth/login",
	"/api/auth/logout",
	"/api/auth/me",
	"/api/auth/csrf-token",
	"/api/recipe",
	"/",
	"/static",
}

// CSRFChecker validates a presented CSRF token for a session.
type CSRFChecker interface {
	Check(ctx context.Context, sessionToken, presented string) (bool, error)
}

// CSRF rejects unsafe requests that carry a session cookie but no matching
// X-CSRF-Token header. Requests without a session cookie pass through so
// RequireAuth can answer them.
func CSRF(guard CSRFChecker, exempt []string) func(http.Handler) http.Handler {
	paths := newExemptSet(exempt)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) || paths.match(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			token := auth.SessionToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			ok, err := guard.Check(r.Context(), token, r.Header.Get(auth.CSRFHeader))
			if err != nil {
				hlog.FromRequest(r).Error().Err(err).Msg("csrf check failed")
				jsonError(w, http.StatusInternalServerError, "internal error")
				return
			}
			if !ok {
				telemetry.GetMetrics().CSRFRejectionsTotal.Add(r.Context(), 1)
				hlog.FromRequest(r).Warn().Msg("csrf token rejected")
				jsonError(w, http.StatusForbidden, auth.ErrCSRFMismatch.Error())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}

// exemptSet matches request paths against exempt entries on segment
// boundaries: an entry covers itself and everything below it. The root entry
// covers only the root.
type exemptSet struct {
	exact    map[string]struct{}
	prefixes []string
}

func newExemptSet(entries []string) exemptSet {
	s := exemptSet{exact: make(map[string]struct{})}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if e != "/" {
			e = strings.TrimSuffix(e, "/")
			s.prefixes = append(s.prefixes, e+"/")
		}
		s.exact[e] = struct{}{}
	}
	return s
}

func (s exemptSet) match(path string) bool {
	if _, ok := s.exact[path]; ok {
		return true
	}
	for _, p := range s.prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
