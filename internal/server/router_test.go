package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ayush/recipe-assistant/backend/internal/auth"
	"github.com/ayush/recipe-assistant/backend/internal/middleware"
	"github.com/ayush/recipe-assistant/backend/internal/recipe"
	"github.com/ayush/recipe-assistant/backend/internal/store"
)

type stubGenerator struct{}

func (stubGenerator) Generate(_ context.Context, chatInput string) (string, error) {
	return "Recipe for " + chatInput, nil
}

// testClock is a settable session clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testApp struct {
	server *httptest.Server
	users  *store.MemoryStore
	clock  *testClock
}

type option func(*Deps)

func newTestApp(t *testing.T, opts ...option) *testApp {
	t.Helper()

	users := store.NewMemoryStore()
	hasher, err := auth.NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)
	authn, err := auth.NewAuthenticator(users, hasher)
	require.NoError(t, err)

	clock := &testClock{now: time.Now().UTC()}
	sessions := auth.NewSessions(users, time.Hour, auth.WithClock(clock.Now))
	guard := auth.NewCSRFGuard(sessions)

	deps := Deps{
		Logger:          zerolog.Nop(),
		Auth:            auth.NewHandler(authn, sessions, guard, false),
		Recipes:         recipe.NewHandler(store.NewMemoryRecipeStore(), nil, stubGenerator{}),
		Sessions:        sessions,
		CSRF:            guard,
		Sweeper:         middleware.NewSweeper(sessions, middleware.DefaultSweepEvery),
		CORSOrigins:     []string{"http://localhost:5173"},
		CSRFExemptPaths: middleware.DefaultCSRFExemptPaths,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	srv := httptest.NewServer(NewRouter(deps))
	t.Cleanup(srv.Close)

	return &testApp{server: srv, users: users, clock: clock}
}

// browser is an HTTP client with its own cookie jar.
type browser struct {
	t      *testing.T
	app    *testApp
	client *http.Client
	csrf   string
}

func (a *testApp) browser(t *testing.T) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browser{t: t, app: a, client: &http.Client{Jar: jar}}
}

func (b *browser) do(method, path string, body any, header http.Header) (*http.Response, map[string]any) {
	b.t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(b.t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, b.app.server.URL+path, reader)
	require.NoError(b.t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := b.client.Do(req)
	require.NoError(b.t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

// send issues a request carrying the browser's CSRF header.
func (b *browser) send(method, path string, body any) (*http.Response, map[string]any) {
	return b.do(method, path, body, http.Header{auth.CSRFHeader: {b.csrf}})
}

func (b *browser) login(path, username, password string) *http.Response {
	b.t.Helper()
	resp, body := b.do(http.MethodPost, path, map[string]string{"username": username, "password": password}, nil)
	if token, ok := body["csrf_token"].(string); ok {
		b.csrf = token
	}
	return resp
}

func (b *browser) cookie(name string) string {
	b.t.Helper()
	u, err := url.Parse(b.app.server.URL)
	require.NoError(b.t, err)
	for _, c := range b.client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// withSession issues a request from a fresh client presenting only the given session token.
func (a *testApp) withSession(t *testing.T, method, path, token string) int {
	t.Helper()
	req, err := http.NewRequest(method, a.server.URL+path, nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: token})

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

var newRecipe = map[string]string{"title": "Pancakes", "content": "Flour, eggs, milk."}

func TestRegisterThenMutateRequiresCSRFHeader(t *testing.T) {
	app := newTestApp(t)
	alice := app.browser(t)

	resp := alice.login("/api/auth/register", "alice", "Sup3rSecret!")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, alice.cookie(auth.SessionCookie))
	require.NotEmpty(t, alice.csrf)
	require.Equal(t, alice.csrf, alice.cookie(auth.CSRFCookie))

	resp, body := alice.do(http.MethodPost, "/api/recipes", newRecipe, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "invalid csrf token", body["error"])

	resp, _ = alice.do(http.MethodPost, "/api/recipes", newRecipe, http.Header{auth.CSRFHeader: {"forged"}})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = alice.send(http.MethodPost, "/api/recipes", newRecipe)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "Pancakes", body["title"])

	resp, body = alice.do(http.MethodGet, "/api/recipes", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, "safe methods need no header")
	require.Len(t, body["recipes"], 1)
}

func TestLogoutInvalidatesSession(t *testing.T) {
	app := newTestApp(t)
	alice := app.browser(t)

	require.Equal(t, http.StatusCreated, alice.login("/api/auth/register", "alice", "Sup3rSecret!").StatusCode)
	token := alice.cookie(auth.SessionCookie)
	require.Equal(t, http.StatusOK, app.withSession(t, http.MethodGet, "/api/recipes", token))

	resp, _ := alice.do(http.MethodPost, "/api/auth/logout", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, alice.cookie(auth.SessionCookie))
	require.Empty(t, alice.cookie(auth.CSRFCookie))

	require.Equal(t, http.StatusUnauthorized, app.withSession(t, http.MethodGet, "/api/recipes", token))

	resp, body := alice.do(http.MethodGet, "/api/auth/me", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Nil(t, body["user"])
	require.Nil(t, body["csrf_token"])
}

func TestLoginReplacesPreviousSession(t *testing.T) {
	app := newTestApp(t)
	alice := app.browser(t)

	require.Equal(t, http.StatusCreated, alice.login("/api/auth/register", "alice", "Sup3rSecret!").StatusCode)
	first := alice.cookie(auth.SessionCookie)

	require.Equal(t, http.StatusOK, alice.login("/api/auth/login", "alice", "Sup3rSecret!").StatusCode)
	second := alice.cookie(auth.SessionCookie)

	require.NotEqual(t, first, second)
	require.Equal(t, http.StatusUnauthorized, app.withSession(t, http.MethodGet, "/api/recipes", first))
	require.Equal(t, http.StatusOK, app.withSession(t, http.MethodGet, "/api/recipes", second))
}

func TestTwoLoginsAreIndependent(t *testing.T) {
	app := newTestApp(t)

	laptop := app.browser(t)
	require.Equal(t, http.StatusCreated, laptop.login("/api/auth/register", "alice", "Sup3rSecret!").StatusCode)

	phone := app.browser(t)
	require.Equal(t, http.StatusOK, phone.login("/api/auth/login", "alice", "Sup3rSecret!").StatusCode)

	require.NotEqual(t, laptop.cookie(auth.SessionCookie), phone.cookie(auth.SessionCookie))
	require.NotEqual(t, laptop.csrf, phone.csrf)

	resp, _ := phone.do(http.MethodPost, "/api/recipes", newRecipe, http.Header{auth.CSRFHeader: {laptop.csrf}})
	require.Equal(t, http.StatusForbidden, resp.StatusCode, "csrf tokens are bound to their session")

	resp, _ = laptop.send(http.MethodPost, "/api/recipes", newRecipe)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = laptop.do(http.MethodPost, "/api/auth/logout", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := phone.do(http.MethodGet, "/api/recipes", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body["recipes"], 1, "recipes belong to the user, not the session")
}

func TestWrongPassword(t *testing.T) {
	app := newTestApp(t)
	alice := app.browser(t)
	require.Equal(t, http.StatusCreated, alice.login("/api/auth/register", "alice", "Sup3rSecret!").StatusCode)

	mallory := app.browser(t)
	resp := mallory.login("/api/auth/login", "alice", "wrong-password")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Empty(t, mallory.cookie(auth.SessionCookie))

	resp = mallory.login("/api/auth/login", "nobody", "Sup3rSecret!")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCSRFTokenEndpoints(t *testing.T) {
	app := newTestApp(t)
	alice := app.browser(t)

	resp, body := alice.do(http.MethodGet, "/api/auth/csrf-token", nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Nil(t, body["csrf_token"])

	require.Equal(t, http.StatusCreated, alice.login("/api/auth/register", "alice", "Sup3rSecret!").StatusCode)

	resp, body = alice.do(http.MethodGet, "/api/auth/csrf-token", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, alice.csrf, body["csrf_token"], "reading does not rotate")

	resp, body = alice.do(http.MethodGet, "/api/auth/me", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, alice.csrf, body["csrf_token"])
	require.Equal(t, "alice", body["user"].(map[string]any)["username"])

	old := alice.csrf
	resp, body = alice.do(http.MethodPost, "/api/auth/csrf-token", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rotated := body["csrf_token"].(string)
	require.NotEqual(t, old, rotated)
	require.Equal(t, rotated, alice.cookie(auth.CSRFCookie))

	resp, _ = alice.send(http.MethodPost, "/api/recipes", newRecipe)
	require.Equal(t, http.StatusForbidden, resp.StatusCode, "rotated token replaces the old one")

	alice.csrf = rotated
	resp, _ = alice.send(http.MethodPost, "/api/recipes", newRecipe)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestUnauthenticatedRecipes(t *testing.T) {
	app := newTestApp(t)
	anon := app.browser(t)

	resp, _ := anon.do(http.MethodPost, "/api/recipes", newRecipe, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = anon.do(http.MethodGet, "/api/recipes", nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	require.Equal(t, http.StatusUnauthorized, app.withSession(t, http.MethodGet, "/api/recipes", "made-up-token"))
}

func TestGenerateIsExempt(t *testing.T) {
	app := newTestApp(t)
	alice := app.browser(t)
	require.Equal(t, http.StatusCreated, alice.login("/api/auth/register", "alice", "Sup3rSecret!").StatusCode)

	resp, body := alice.do(http.MethodPost, "/api/recipe", map[string]string{"chat_input": "soup"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Recipe for soup", body["recipe"])
}

func TestLoginRateLimit(t *testing.T) {
	app := newTestApp(t, func(d *Deps) {
		d.Limiter = middleware.NewMemoryLimiter(2, time.Minute)
	})
	b := app.browser(t)

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusUnauthorized, b.login("/api/auth/login", "alice", "Sup3rSecret!").StatusCode)
	}

	resp := b.login("/api/auth/login", "alice", "Sup3rSecret!")
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("Retry-After"))

	resp = b.login("/api/auth/register", "alice", "Sup3rSecret!")
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode, "register shares the login budget")

	resp, _ = b.do(http.MethodGet, "/api/auth/me", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, "other routes are not throttled")
}

func TestLoginRateLimitIgnoresForwardedHeaders(t *testing.T) {
	app := newTestApp(t, func(d *Deps) {
		d.Limiter = middleware.NewMemoryLimiter(2, time.Minute)
	})
	b := app.browser(t)
	creds := map[string]string{"username": "alice", "password": "Sup3rSecret!"}

	var codes []int
	for i := 0; i < 5; i++ {
		resp, _ := b.do(http.MethodPost, "/api/auth/login", creds, http.Header{
			"X-Forwarded-For": {fmt.Sprintf("10.0.0.%d", i)},
			"X-Real-Ip":       {fmt.Sprintf("10.0.1.%d", i)},
		})
		codes = append(codes, resp.StatusCode)
	}

	require.Equal(t, []int{
		http.StatusUnauthorized,
		http.StatusUnauthorized,
		http.StatusTooManyRequests,
		http.StatusTooManyRequests,
		http.StatusTooManyRequests,
	}, codes, "untrusted peers cannot choose their rate limit bucket")
}

func TestLoginRateLimitBehindTrustedProxy(t *testing.T) {
	trusted, err := middleware.ParseTrustedProxies([]string{"127.0.0.1", "::1"})
	require.NoError(t, err)

	app := newTestApp(t, func(d *Deps) {
		d.Limiter = middleware.NewMemoryLimiter(2, time.Minute)
		d.TrustedProxies = trusted
	})
	b := app.browser(t)
	creds := map[string]string{"username": "alice", "password": "Sup3rSecret!"}

	forwarded := func(ip string) int {
		resp, _ := b.do(http.MethodPost, "/api/auth/login", creds, http.Header{"X-Forwarded-For": {ip}})
		return resp.StatusCode
	}

	require.Equal(t, http.StatusUnauthorized, forwarded("198.51.100.1"))
	require.Equal(t, http.StatusUnauthorized, forwarded("198.51.100.1"))
	require.Equal(t, http.StatusTooManyRequests, forwarded("198.51.100.1"))
	require.Equal(t, http.StatusUnauthorized, forwarded("198.51.100.2"), "clients behind the proxy are limited separately")
}

func TestExpiredSessionsAreSwept(t *testing.T) {
	ctx := context.Background()
	app := newTestApp(t, func(d *Deps) {
		d.Sweeper = middleware.NewSweeper(d.Sessions.(*auth.Sessions), 2)
	})

	alice := app.browser(t)
	require.Equal(t, http.StatusCreated, alice.login("/api/auth/register", "alice", "Sup3rSecret!").StatusCode)
	token := alice.cookie(auth.SessionCookie)

	// a zero now sees every stored row, expired or not
	_, err := app.users.GetSession(ctx, token, time.Time{})
	require.NoError(t, err)

	app.clock.Advance(2 * time.Hour)

	resp, _ := alice.do(http.MethodGet, "/api/recipes", nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, err = app.users.GetSession(ctx, token, time.Time{})
	require.ErrorIs(t, err, store.ErrNotFound, "second request triggers the sweep")
}

func TestHealth(t *testing.T) {
	app := newTestApp(t)
	b := app.browser(t)

	resp, body := b.do(http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body["status"])

	down := newTestApp(t, func(d *Deps) {
		d.Ping = func(context.Context) error { return context.DeadlineExceeded }
	})
	resp, body = down.browser(t).do(http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, "unavailable", body["status"])
}

func TestStaticFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>Recipes</h1>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644))

	app := newTestApp(t, func(d *Deps) { d.StaticDir = dir })

	resp, err := http.Get(app.server.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	require.Contains(t, buf.String(), "Recipes")

	js, err := http.Get(app.server.URL + "/static/app.js")
	require.NoError(t, err)
	defer js.Body.Close()
	require.Equal(t, http.StatusOK, js.StatusCode)
}
