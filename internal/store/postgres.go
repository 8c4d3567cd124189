package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/ayush/recipe-assistant/backend/internal/models"
)

// PostgresStore handles users and sessions against PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks that the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (username, password_hash)
		 VALUES ($1, $2)
		 RETURNING id, username, password_hash, created_at`,
		username, passwordHash,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", mapPostgresError(err))
	}
	return &u, nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE username = $1`, username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return nil, mapPostgresError(err)
	}
	return &u, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return nil, mapPostgresError(err)
	}
	return &u, nil
}

// CreateSession inserts a session row and fills in its database ID.
func (s *PostgresStore) CreateSession(ctx context.Context, session *models.Session) error {
	var csrf any
	if session.CSRFToken != "" {
		csrf = session.CSRFToken
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO sessions (session_token, user_id, csrf_token, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		session.Token, session.UserID, csrf, session.CreatedAt, session.ExpiresAt,
	).Scan(&session.ID)
	if err != nil {
		return fmt.Errorf("create session: %w", mapPostgresError(err))
	}

	log.Debug().
		Int64("session_id", session.ID).
		Int64("user_id", session.UserID).
		Msg("Created session")

	return nil
}

// GetSession returns the session for token only if it expires after now.
func (s *PostgresStore) GetSession(ctx context.Context, token string, now time.Time) (*models.Session, error) {
	var session models.Session
	err := s.pool.QueryRow(ctx,
		`SELECT id, session_token, user_id, COALESCE(csrf_token, ''), created_at, expires_at
		 FROM sessions
		 WHERE session_token = $1 AND expires_at > $2`,
		token, now,
	).Scan(
		&session.ID,
		&session.Token,
		&session.UserID,
		&session.CSRFToken,
		&session.CreatedAt,
		&session.ExpiresAt,
	)
	if err != nil {
		return nil, mapPostgresError(err)
	}
	return &session, nil
}

// DeleteSession removes a session by token. Deleting a missing session is not an error.
func (s *PostgresStore) DeleteSession(ctx context.Context, token string) error {
	result, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE session_token = $1`, token)
	if err != nil {
		return fmt.Errorf("delete session: %w", mapPostgresError(err))
	}

	if result.RowsAffected() > 0 {
		log.Debug().Msg("Deleted session")
	}
	return nil
}

// DeleteExpiredSessions deletes every session with expires_at <= now.
func (s *PostgresStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", mapPostgresError(err))
	}

	count := result.RowsAffected()
	if count > 0 {
		log.Info().Int64("count", count).Msg("Deleted expired sessions")
	}
	return count, nil
}

// SetSessionCSRF replaces the CSRF token of a session that is still active at now.
func (s *PostgresStore) SetSessionCSRF(ctx context.Context, token, csrf string, now time.Time) error {
	result, err := s.pool.Exec(ctx,
		`UPDATE sessions SET csrf_token = $2
		 WHERE session_token = $1 AND expires_at > $3`,
		token, csrf, now,
	)
	if err != nil {
		return fmt.Errorf("set session csrf: %w", mapPostgresError(err))
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// EnsureSessionCSRF stores candidate as the CSRF token of an active session
// unless one is already set, and returns whichever token the row ends up with.
func (s *PostgresStore) EnsureSessionCSRF(ctx context.Context, token, candidate string, now time.Time) (string, error) {
	var csrf string
	err := s.pool.QueryRow(ctx,
		`UPDATE sessions SET csrf_token = COALESCE(csrf_token, $2)
		 WHERE session_token = $1 AND expires_at > $3
		 RETURNING csrf_token`,
		token, candidate, now,
	).Scan(&csrf)
	if err != nil {
		return "", mapPostgresError(err)
	}
	return csrf, nil
}
