package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/ayush/recipe-assistant/backend/internal/models"
)

// Handler holds auth-related HTTP handlers.
type Handler struct {
	authn    *Authenticator
	sessions *Sessions
	csrf     *CSRFGuard
	cookies  CookieConfig
}

func NewHandler(authn *Authenticator, sessions *Sessions, csrf *CSRFGuard, secureCookies bool) *Handler {
	return &Handler{
		authn:    authn,
		sessions: sessions,
		csrf:     csrf,
		cookies:  CookieConfig{Secure: secureCookies, MaxAge: sessions.TTL()},
	}
}

type sessionResponse struct {
	Message   string `json:"message"`
	Username  string `json:"username"`
	CSRFToken string `json:"csrf_token"`
}

type meUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type meResponse struct {
	User      *meUser `json:"user"`
	CSRFToken *string `json:"csrf_token"`
}

type csrfResponse struct {
	CSRFToken *string `json:"csrf_token"`
}

// Register creates a new user and logs them in.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validateRegistration(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.authn.Register(r.Context(), req.Username, req.Password)
	if errors.Is(err, ErrDuplicateUser) {
		writeError(w, http.StatusBadRequest, "username already exists")
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("register failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.startSession(w, r, user, http.StatusCreated, "registered")
}

// Login authenticates a user and creates a session. Any session named by an
// existing cookie is deleted first.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validateLogin(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.authn.Authenticate(r.Context(), req.Username, req.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("login failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if old := SessionToken(r); old != "" {
		if err := h.sessions.Delete(r.Context(), old); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Msg("could not delete previous session")
		}
	}

	h.startSession(w, r, user, http.StatusOK, "logged in")
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request, user *models.User, status int, message string) {
	token, csrf, err := h.sessions.Create(r.Context(), user.ID, 0)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Int64("user_id", user.ID).Msg("session creation failed")
		writeError(w, http.StatusInternalServerError, "session creation failed")
		return
	}

	h.cookies.setSession(w, token)
	h.cookies.setCSRF(w, csrf)

	writeJSON(w, status, sessionResponse{
		Message:   message,
		Username:  user.Username,
		CSRFToken: csrf,
	})
}

// Logout destroys the current session and clears both cookies.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Delete(r.Context(), SessionToken(r)); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("logout failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.cookies.clear(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// Me returns the current user and CSRF token, or nulls when not logged in.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	token := SessionToken(r)

	session, err := h.sessions.Resolve(r.Context(), token)
	if errors.Is(err, ErrSessionInvalid) {
		writeJSON(w, http.StatusOK, meResponse{})
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("session lookup failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	user, err := h.authn.User(r.Context(), session.UserID)
	if errors.Is(err, ErrSessionInvalid) {
		writeJSON(w, http.StatusOK, meResponse{})
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("user lookup failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	csrf, ok := h.getOrCreateCSRF(w, r, token)
	if !ok {
		return
	}
	if csrf == "" {
		writeJSON(w, http.StatusOK, meResponse{})
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		User:      &meUser{ID: user.ID, Username: user.Username},
		CSRFToken: &csrf,
	})
}

// CSRFToken returns the session's CSRF token, issuing one if missing.
func (h *Handler) CSRFToken(w http.ResponseWriter, r *http.Request) {
	csrf, ok := h.getOrCreateCSRF(w, r, SessionToken(r))
	if !ok {
		return
	}
	if csrf == "" {
		writeJSON(w, http.StatusUnauthorized, csrfResponse{})
		return
	}
	writeJSON(w, http.StatusOK, csrfResponse{CSRFToken: &csrf})
}

// RotateCSRFToken replaces the session's CSRF token.
func (h *Handler) RotateCSRFToken(w http.ResponseWriter, r *http.Request) {
	csrf, err := h.csrf.Issue(r.Context(), SessionToken(r))
	if errors.Is(err, ErrSessionInvalid) {
		writeJSON(w, http.StatusUnauthorized, csrfResponse{})
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("csrf rotation failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.cookies.setCSRF(w, csrf)
	writeJSON(w, http.StatusOK, csrfResponse{CSRFToken: &csrf})
}

// getOrCreateCSRF refreshes the CSRF cookie and returns the token. An empty
// token means the session is not valid. ok is false once an error response
// has been written.
func (h *Handler) getOrCreateCSRF(w http.ResponseWriter, r *http.Request, token string) (string, bool) {
	csrf, err := h.csrf.GetOrCreate(r.Context(), token)
	if errors.Is(err, ErrSessionInvalid) {
		return "", true
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("csrf lookup failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return "", false
	}

	h.cookies.setCSRF(w, csrf)
	return csrf, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
