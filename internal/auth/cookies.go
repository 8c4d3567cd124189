package auth

import (
	"net/http"
	"time"
)

// CookieConfig controls the attributes of the session and CSRF cookies.
type CookieConfig struct {
	Secure bool
	MaxAge time.Duration
}

func (c CookieConfig) setSession(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(c.MaxAge / time.Second),
	})
}

// setCSRF writes the CSRF cookie. It is readable by scripts so the frontend
// can echo it in the X-CSRF-Token header.
func (c CookieConfig) setCSRF(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: false,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(c.MaxAge / time.Second),
	})
}

func (c CookieConfig) clear(w http.ResponseWriter) {
	for _, name := range []string{SessionCookie, CSRFCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			HttpOnly: name == SessionCookie,
			Secure:   c.Secure,
			SameSite: http.SameSiteLaxMode,
			MaxAge:   -1,
		})
	}
}

// SessionToken returns the session cookie value, or "" when absent.
func SessionToken(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil {
		return ""
	}
	return cookie.Value
}
