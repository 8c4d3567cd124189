package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ayush/recipe-assistant/backend/internal/auth"
	"github.com/ayush/recipe-assistant/backend/internal/config"
	"github.com/ayush/recipe-assistant/backend/internal/logger"
	"github.com/ayush/recipe-assistant/backend/internal/store"
)

type Globals struct {
	Config  *config.Config
	Version string
}

// setup validates the configuration and installs the process logger.
func (g *Globals) setup() (zerolog.Logger, error) {
	log := logger.Setup(g.Config.Debug)
	zlog.Logger = log

	if err := g.Config.Validate(); err != nil {
		return log, fmt.Errorf("invalid configuration: %w", err)
	}
	return log, nil
}

func configureHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       5 * time.Minute,
		MaxHeaderBytes:    8 * 1024, // 8KiB
	}
}

// userStore is the user and session backend selected by --store.
type userStore interface {
	auth.UserStore
	auth.SessionStore
}

// openUserStore returns the configured backend, a health check and a close
// function. Migrations run first when migrate is set.
func openUserStore(ctx context.Context, cfg *config.Config, migrate bool) (userStore, func(context.Context) error, func(), error) {
	if cfg.Store == "memory" {
		zlog.Warn().Msg("Using in-memory user and session store; data is lost on restart")
		return store.NewMemoryStore(), nil, func() {}, nil
	}

	pool, err := store.NewPool(ctx, &store.PoolConfig{
		ConnString:      cfg.Postgres.DSN,
		MaxConns:        cfg.Postgres.MaxConns,
		MinConns:        cfg.Postgres.MinConns,
		MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	if migrate {
		if err := store.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	pg := store.NewPostgresStore(pool)
	zlog.Info().Msg("Using PostgreSQL user and session store")
	return pg, pg.Ping, pool.Close, nil
}

var errPostgresOnly = errors.New("this command needs the postgres store (--store=postgres)")
