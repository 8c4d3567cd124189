// Package server assembles the HTTP router: request logging, CORS, the
// expired-session sweeper and the CSRF gate in front of the auth and recipe
// handlers.
package server

import (
	"context"
	"net/http"
	"net/netip"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/ayush/recipe-assistant/backend/internal/auth"
	"github.com/ayush/recipe-assistant/backend/internal/logger"
	"github.com/ayush/recipe-assistant/backend/internal/middleware"
	"github.com/ayush/recipe-assistant/backend/internal/recipe"
)

const healthTimeout = 2 * time.Second

// Deps are the components the router wires together.
type Deps struct {
	Logger zerolog.Logger

	Auth     *auth.Handler
	Recipes  *recipe.Handler
	Sessions middleware.SessionResolver
	CSRF     middleware.CSRFChecker
	Sweeper  *middleware.Sweeper

	// Limiter throttles login and registration per client IP. Nil disables it.
	Limiter middleware.Limiter

	// Ping reports backend health for /health. Nil always reports ok.
	Ping func(ctx context.Context) error

	// TrustedProxies may set the client address through X-Forwarded-For or
	// X-Real-IP. Headers from any other peer are ignored.
	TrustedProxies []netip.Prefix

	CORSOrigins     []string
	CSRFExemptPaths []string
	StaticDir       string
}

// NewRouter returns the application handler.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP(d.TrustedProxies))
	r.Use(logger.Requests(d.Logger)...)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", auth.CSRFHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if d.Sweeper != nil {
		r.Use(d.Sweeper.Middleware)
	}
	r.Use(middleware.CSRF(d.CSRF, d.CSRFExemptPaths))

	r.Get("/health", health(d.Ping))

	limit := func(next http.Handler) http.Handler { return next }
	if d.Limiter != nil {
		limit = middleware.RateLimit(d.Limiter)
	}

	r.Route("/api/auth", func(r chi.Router) {
		r.With(limit).Post("/register", d.Auth.Register)
		r.With(limit).Post("/login", d.Auth.Login)
		r.Post("/logout", d.Auth.Logout)
		r.Get("/me", d.Auth.Me)
		r.Get("/csrf-token", d.Auth.CSRFToken)
		r.Post("/csrf-token", d.Auth.RotateCSRFToken)
	})

	r.Post("/api/recipe", d.Recipes.Generate)

	r.Route("/api/recipes", func(r chi.Router) {
		r.Use(middleware.RequireAuth(d.Sessions))
		r.Post("/", d.Recipes.Create)
		r.Get("/", d.Recipes.List)
		r.Get("/{id}", d.Recipes.Get)
		r.Put("/{id}", d.Recipes.Update)
		r.Delete("/{id}", d.Recipes.Delete)
		r.Get("/{id}/export", d.Recipes.Export)
	})

	if d.StaticDir != "" {
		fs := http.StripPrefix("/static/", http.FileServer(http.Dir(d.StaticDir)))
		r.Get("/static/*", fs.ServeHTTP)
		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			http.ServeFile(w, req, filepath.Join(d.StaticDir, "index.html"))
		})
	}

	return r
}

func health(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			defer cancel()

			if err := ping(ctx); err != nil {
				hlog.FromRequest(r).Error().Err(err).Msg("health check failed")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}

		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
