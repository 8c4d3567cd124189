package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"filippo.io/csrf"
	"github.com/klauspost/compress/gzhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/ayush/recipe-assistant/backend/internal/auth"
	"github.com/ayush/recipe-assistant/backend/internal/config"
	"github.com/ayush/recipe-assistant/backend/internal/middleware"
	"github.com/ayush/recipe-assistant/backend/internal/recipe"
	"github.com/ayush/recipe-assistant/backend/internal/server"
	"github.com/ayush/recipe-assistant/backend/internal/store"
	"github.com/ayush/recipe-assistant/backend/internal/telemetry"
)

const (
	serviceName     = "recipe-assistant"
	shutdownTimeout = 10 * time.Second
)

// ServeCmd runs the HTTP server.
type ServeCmd struct{}

func (c *ServeCmd) Run(globals *Globals) error {
	log, err := globals.setup()
	if err != nil {
		return err
	}
	cfg := globals.Config
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Info().Str("version", globals.Version).Bool("debug", cfg.Debug).Msg("Starting server")

	if cfg.OTel {
		shutdown, err := telemetry.InitTelemetry(ctx, serviceName, globals.Version)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	// ── Users and sessions ───────────────────────────────────
	users, ping, closeStore, err := openUserStore(ctx, cfg, cfg.Postgres.AutoMigrate)
	if err != nil {
		return err
	}
	defer closeStore()

	// ── Recipes ──────────────────────────────────────────────
	var recipes recipe.RecipeStore
	if cfg.Mongo.URI != "" {
		client, err := store.NewMongoClient(ctx, cfg.Mongo.URI)
		if err != nil {
			return err
		}
		defer disconnectMongo(client)

		mongoStore := store.NewMongoStore(client.Database(cfg.Mongo.DB))
		if err := mongoStore.EnsureIndexes(ctx); err != nil {
			return err
		}
		recipes = mongoStore
		log.Info().Str("db", cfg.Mongo.DB).Msg("Using MongoDB recipe store")
	} else {
		recipes = store.NewMemoryRecipeStore()
		log.Warn().Msg("MONGO_URI not set, keeping recipes in memory")
	}

	// ── Exports ──────────────────────────────────────────────
	var files recipe.FileStore
	if cfg.Minio.Endpoint != "" {
		minioStore, err := store.NewMinioStore(ctx,
			cfg.Minio.Endpoint, cfg.Minio.AccessKey,
			cfg.Minio.SecretKey, cfg.Minio.Bucket, cfg.Minio.UseSSL,
		)
		if err != nil {
			return err
		}
		files = minioStore
		log.Info().Str("bucket", cfg.Minio.Bucket).Msg("Recipe exports enabled")
	}

	// ── Login throttling ─────────────────────────────────────
	limiter, closeLimiter, err := newLimiter(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLimiter()

	// ── Auth ─────────────────────────────────────────────────
	hasher, err := auth.NewBcryptHasher(cfg.BcryptCost)
	if err != nil {
		return err
	}
	authn, err := auth.NewAuthenticator(users, hasher)
	if err != nil {
		return err
	}
	sessions := auth.NewSessions(users, cfg.Session.TTL)
	guard := auth.NewCSRFGuard(sessions)

	sweeper := middleware.NewSweeper(sessions, cfg.Session.SweepEvery)
	if cfg.Session.SweepInterval > 0 {
		go sweeper.Run(ctx, cfg.Session.SweepInterval)
	}

	// ── Webhook ──────────────────────────────────────────────
	if cfg.Webhook.URL == "" {
		log.Warn().Msg("N8N_WEBHOOK_URL not set, recipe generation is disabled")
	}
	generator := recipe.NewWebhookClient(cfg.Webhook.URL, cfg.Webhook.Timeout, cfg.Webhook.MaxTries)

	trusted, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return err
	}

	router := server.NewRouter(server.Deps{
		Logger:          log,
		Auth:            auth.NewHandler(authn, sessions, guard, cfg.CookieSecure),
		Recipes:         recipe.NewHandler(recipes, files, generator),
		Sessions:        sessions,
		CSRF:            guard,
		Sweeper:         sweeper,
		Limiter:         limiter,
		Ping:            ping,
		TrustedProxies:  trusted,
		CORSOrigins:     cfg.CORSOrigins,
		CSRFExemptPaths: cfg.CSRFExemptPaths,
		StaticDir:       cfg.StaticDir,
	})

	handler, err := wrapHandler(cfg, router)
	if err != nil {
		return err
	}

	srv := configureHTTPServer(cfg.Addr(), handler)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Backend listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	cancel()
	shutCtx, shutCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutCancel()
	return srv.Shutdown(shutCtx)
}

// wrapHandler adds the outer layers: cross-origin request rejection,
// compression and, when enabled, tracing.
func wrapHandler(cfg *config.Config, h http.Handler) (http.Handler, error) {
	protection := csrf.New()
	for _, origin := range cfg.CORSOrigins {
		if err := protection.AddTrustedOrigin(origin); err != nil {
			return nil, fmt.Errorf("trusted origin %q: %w", origin, err)
		}
	}

	h = gzhttp.GzipHandler(protection.Handler(h))
	if cfg.OTel {
		h = otelhttp.NewHandler(h, serviceName)
	}
	return h, nil
}

// newLimiter returns the login limiter: Redis backed when an address is
// configured, process local otherwise. A zero limit disables throttling.
func newLimiter(ctx context.Context, cfg *config.Config) (middleware.Limiter, func(), error) {
	if cfg.Login.RateLimit == 0 {
		return nil, func() {}, nil
	}

	if cfg.Redis.Addr != "" {
		rdb, err := store.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password)
		if err != nil {
			return nil, nil, err
		}
		return store.NewRedisLimiter(rdb, cfg.Login.RateLimit, cfg.Login.RateWindow), closeRedis(rdb), nil
	}

	limiter := middleware.NewMemoryLimiter(cfg.Login.RateLimit, cfg.Login.RateWindow)
	go limiter.Run(ctx, cfg.Login.RateWindow)
	return limiter, func() {}, nil
}

func closeRedis(rdb *redis.Client) func() {
	return func() { _ = rdb.Close() }
}

func disconnectMongo(client *mongo.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = client.Disconnect(ctx)
}
