package auth

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ayush/recipe-assistant/backend/internal/models"
	"github.com/ayush/recipe-assistant/backend/internal/store"
	"github.com/ayush/recipe-assistant/backend/internal/telemetry"
)

// UserStore defines the interface for user persistence.
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

// dummyPassword is hashed once at construction so that lookups of unknown
// users still pay for one password verification.
const dummyPassword = "not-a-real-password"

// Authenticator checks credentials against the user store.
type Authenticator struct {
	users     UserStore
	hasher    Hasher
	dummyHash string
}

func NewAuthenticator(users UserStore, hasher Hasher) (*Authenticator, error) {
	dummy, err := hasher.Hash(dummyPassword)
	if err != nil {
		return nil, fmt.Errorf("dummy hash: %w", err)
	}
	return &Authenticator{users: users, hasher: hasher, dummyHash: dummy}, nil
}

// Authenticate returns the user whose username and password match exactly.
// Unknown users and wrong passwords both yield ErrInvalidCredentials.
func (a *Authenticator) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	user, err := a.users.GetUserByUsername(ctx, username)
	switch {
	case errors.Is(err, store.ErrNotFound):
		a.hasher.Verify(password, a.dummyHash)
		recordLogin(ctx, "unknown_user")
		return nil, ErrInvalidCredentials
	case err != nil:
		recordLogin(ctx, "error")
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if !a.hasher.Verify(password, user.PasswordHash) {
		recordLogin(ctx, "bad_password")
		return nil, ErrInvalidCredentials
	}

	recordLogin(ctx, "success")
	return user, nil
}

// Register hashes password and creates the user.
func (a *Authenticator) Register(ctx context.Context, username, password string) (*models.User, error) {
	hash, err := a.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	user, err := a.users.CreateUser(ctx, username, hash)
	switch {
	case errors.Is(err, store.ErrConflict):
		return nil, ErrDuplicateUser
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return user, nil
}

// User loads a user by ID. A missing user maps to ErrSessionInvalid since
// the only caller holds an ID taken from a session.
func (a *Authenticator) User(ctx context.Context, id int64) (*models.User, error) {
	user, err := a.users.GetUserByID(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrSessionInvalid
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return user, nil
}

func recordLogin(ctx context.Context, result string) {
	telemetry.GetMetrics().LoginAttemptsTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", result)))
}
