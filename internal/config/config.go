package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// Config holds all service configuration. Every field can be set by flag,
// environment variable or YAML config file.
type Config struct {
	Debug bool `help:"Enable debug logging." default:"false" env:"DEBUG"`

	Port           string   `help:"HTTP listen port." default:"8080" env:"PORT"`
	StaticDir      string   `help:"Directory served under /static and as the index page." default:"static" env:"STATIC_DIR"`
	CORSOrigins    []string `name:"cors-origins" help:"Allowed CORS origins." default:"http://localhost:5173,http://localhost:3000" env:"CORS_ORIGINS"`
	TrustedProxies []string `name:"trusted-proxies" help:"Proxy IPs or CIDR ranges whose X-Forwarded-For and X-Real-IP headers are honoured." default:"" env:"TRUSTED_PROXIES"`
	OTel           bool     `name:"otel" help:"Export OpenTelemetry metrics and traces over OTLP." default:"false" env:"OTEL_ENABLED"`

	Store    string        `help:"User and session store (postgres or memory)." default:"postgres" enum:"postgres,memory" env:"STORE"`
	Postgres PostgresFlags `embed:"" prefix:"postgres-"`
	Redis    RedisFlags    `embed:"" prefix:"redis-"`
	Mongo    MongoFlags    `embed:"" prefix:"mongo-"`
	Minio    MinioFlags    `embed:"" prefix:"minio-"`
	Webhook  WebhookFlags  `embed:"" prefix:"webhook-"`

	Session SessionFlags `embed:"" prefix:"session-"`
	Login   LoginFlags   `embed:"" prefix:"login-"`

	CookieSecure    bool     `help:"Mark auth cookies Secure (HTTPS only)." default:"false" env:"COOKIE_SECURE"`
	CSRFExemptPaths []string `name:"csrf-exempt-paths" help:"Paths (and everything below them) that skip the CSRF header check." default:"/api/auth/register,/api/auth/login,/api/auth/logout,/api/auth/me,/api/auth/csrf-token,/api/recipe,/,/static" env:"CSRF_EXEMPT_PATHS"`
	BcryptCost      int      `help:"bcrypt work factor." default:"10" env:"BCRYPT_COST"`
}

type PostgresFlags struct {
	DSN             string        `help:"PostgreSQL connection string." env:"POSTGRES_DSN"`
	AutoMigrate     bool          `help:"Run database migrations on startup." default:"true" env:"AUTO_MIGRATE"`
	MaxConns        int32         `help:"Maximum number of connections in the pool." default:"20" env:"POSTGRES_MAX_CONNS"`
	MinConns        int32         `help:"Minimum number of idle connections." default:"2" env:"POSTGRES_MIN_CONNS"`
	MaxConnLifetime time.Duration `help:"Maximum connection lifetime." default:"1h" env:"POSTGRES_MAX_CONN_LIFETIME"`
}

type RedisFlags struct {
	Addr     string `help:"Redis address for the shared login rate limiter; empty uses a per-process limiter." default:"" env:"REDIS_ADDR"`
	Password string `help:"Redis password." default:"" env:"REDIS_PASSWORD"`
}

type MongoFlags struct {
	URI string `help:"MongoDB URI for recipes; empty keeps recipes in memory." default:"" env:"MONGO_URI"`
	DB  string `help:"MongoDB database name." default:"recipe_assistant" env:"MONGO_DB"`
}

type MinioFlags struct {
	Endpoint  string `help:"MinIO endpoint for recipe exports; empty disables exports." default:"" env:"MINIO_ENDPOINT"`
	AccessKey string `help:"MinIO access key." default:"" env:"MINIO_ACCESS_KEY"`
	SecretKey string `help:"MinIO secret key." default:"" env:"MINIO_SECRET_KEY"`
	Bucket    string `help:"MinIO bucket." default:"recipe-exports" env:"MINIO_BUCKET"`
	UseSSL    bool   `name:"use-ssl" help:"Use TLS for MinIO." default:"false" env:"MINIO_USE_SSL"`
}

type WebhookFlags struct {
	URL      string        `help:"n8n webhook URL used to generate recipes." default:"" env:"N8N_WEBHOOK_URL"`
	Timeout  time.Duration `help:"Per-attempt webhook timeout; 0 waits indefinitely." default:"0s" env:"WEBHOOK_TIMEOUT"`
	MaxTries uint          `help:"Webhook attempts before giving up." default:"3" env:"WEBHOOK_MAX_TRIES"`
}

type SessionFlags struct {
	TTL           time.Duration `help:"Session lifetime." default:"720h" env:"SESSION_TTL"`
	SweepEvery    int           `help:"Sweep expired sessions every N requests." default:"100" env:"SESSION_SWEEP_EVERY"`
	SweepInterval time.Duration `help:"Also sweep on this interval; 0 disables." default:"0s" env:"SESSION_SWEEP_INTERVAL"`
}

type LoginFlags struct {
	RateLimit  int           `help:"Login and registration attempts per client IP per window; 0 disables." default:"20" env:"LOGIN_RATE_LIMIT"`
	RateWindow time.Duration `help:"Login rate limit window." default:"1m" env:"LOGIN_RATE_WINDOW"`
}

// Validate checks cross-field constraints kong cannot express.
func (c *Config) Validate() error {
	var errs []error

	if c.Store == "postgres" && c.Postgres.DSN == "" {
		errs = append(errs, errors.New("PostgreSQL connection string is required (--postgres-dsn or POSTGRES_DSN)"))
	}
	if c.Postgres.MinConns > c.Postgres.MaxConns {
		errs = append(errs, fmt.Errorf("postgres min conns (%d) exceeds max conns (%d)", c.Postgres.MinConns, c.Postgres.MaxConns))
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("session TTL must be positive"))
	}
	if c.Session.SweepEvery <= 0 {
		errs = append(errs, errors.New("session sweep interval in requests must be positive"))
	}
	if c.Session.SweepInterval < 0 {
		errs = append(errs, errors.New("session sweep interval must not be negative"))
	}
	if c.Login.RateLimit < 0 {
		errs = append(errs, errors.New("login rate limit must not be negative"))
	}
	if c.Login.RateLimit > 0 && c.Login.RateWindow <= 0 {
		errs = append(errs, errors.New("login rate window must be positive"))
	}
	if c.Minio.Endpoint != "" && (c.Minio.AccessKey == "" || c.Minio.SecretKey == "") {
		errs = append(errs, errors.New("MinIO access and secret keys are required when an endpoint is set"))
	}

	return errors.Join(errs...)
}

// Addr returns the listen address for Port.
func (c *Config) Addr() string {
	if strings.Contains(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

// YAML is a kong.ConfigurationLoader for YAML files. Nested keys are joined
// with "-" to form flag names, so
//
//	postgres:
//	  dsn: postgres://...
//
// sets --postgres-dsn. Keys may use "_" in place of "-".
func YAML(r io.Reader) (kong.Resolver, error) {
	values := map[string]any{}
	if err := yaml.NewDecoder(r).Decode(&values); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config file: %w", err)
	}

	flat := map[string]string{}
	flatten("", values, flat)

	return kong.ResolverFunc(func(_ *kong.Context, _ *kong.Path, flag *kong.Flag) (any, error) {
		if v, ok := flat[flag.Name]; ok {
			return v, nil
		}
		return nil, nil
	}), nil
}

func flatten(prefix string, in map[string]any, out map[string]string) {
	for k, v := range in {
		key := strings.ReplaceAll(strings.ToLower(k), "_", "-")
		if prefix != "" {
			key = prefix + "-" + key
		}

		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, out)
		case []any:
			parts := make([]string, 0, len(val))
			for _, item := range val {
				parts = append(parts, fmt.Sprint(item))
			}
			out[key] = strings.Join(parts, ",")
		case nil:
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}
