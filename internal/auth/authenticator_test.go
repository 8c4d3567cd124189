package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestAuthenticator_Authenticate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.user(t, "alice", "Sup3rSecret!")

	t.Run("valid credentials", func(t *testing.T) {
		u, err := f.authn.Authenticate(ctx, "alice", "Sup3rSecret!")
		require.NoError(t, err)
		require.Equal(t, alice.ID, u.ID)
	})

	t.Run("wrong password", func(t *testing.T) {
		u, err := f.authn.Authenticate(ctx, "alice", "wrong-password")
		require.ErrorIs(t, err, ErrInvalidCredentials)
		require.Nil(t, u)
	})

	t.Run("username is case sensitive", func(t *testing.T) {
		_, err := f.authn.Authenticate(ctx, "Alice", "Sup3rSecret!")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("unknown user", func(t *testing.T) {
		u, err := f.authn.Authenticate(ctx, "mallory", "Sup3rSecret!")
		require.ErrorIs(t, err, ErrInvalidCredentials)
		require.Nil(t, u)
	})
}

func TestAuthenticator_UnknownUserStillVerifies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, "alice", "Sup3rSecret!")

	before := f.hasher.verifies.Load()
	_, err := f.authn.Authenticate(ctx, "nobody", "whatever-password")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	require.Equal(t, before+1, f.hasher.verifies.Load())

	before = f.hasher.verifies.Load()
	_, err = f.authn.Authenticate(ctx, "alice", "whatever-password")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	require.Equal(t, before+1, f.hasher.verifies.Load())
}

func TestAuthenticator_TimingDoesNotRevealExistence(t *testing.T) {
	if testing.Short() {
		t.Skip("timing comparison")
	}

	ctx := context.Background()
	f := newFixture(t)

	h, err := NewBcryptHasher(bcrypt.MinCost + 4)
	require.NoError(t, err)
	authn, err := NewAuthenticator(f.store, h)
	require.NoError(t, err)
	_, err = authn.Register(ctx, "alice", "Sup3rSecret!")
	require.NoError(t, err)

	measure := func(username string) time.Duration {
		start := time.Now()
		for i := 0; i < 5; i++ {
			_, _ = authn.Authenticate(ctx, username, "wrong-password")
		}
		return time.Since(start)
	}

	known := measure("alice")
	unknown := measure("nobody")

	// both paths run bcrypt at the same cost, so they stay within a loose factor
	require.Less(t, unknown, known*3)
	require.Less(t, known, unknown*3)
}

func TestAuthenticator_StoreFailure(t *testing.T) {
	h := newCountingHasher(t)
	authn, err := NewAuthenticator(brokenStore{}, h)
	require.NoError(t, err)

	u, err := authn.Authenticate(context.Background(), "alice", "Sup3rSecret!")
	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.NotErrorIs(t, err, ErrInvalidCredentials)
	require.Nil(t, u)

	_, err = authn.Register(context.Background(), "alice", "Sup3rSecret!")
	require.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestAuthenticator_Register(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	u, err := f.authn.Register(ctx, "alice", "Sup3rSecret!")
	require.NoError(t, err)
	require.NotZero(t, u.ID)
	require.True(t, strings.HasPrefix(u.PasswordHash, "$2a$"))
	require.NotContains(t, u.PasswordHash, "Sup3rSecret!")

	_, err = f.authn.Register(ctx, "alice", "another-password")
	require.ErrorIs(t, err, ErrDuplicateUser)
}

func TestAuthenticator_User(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.user(t, "alice", "Sup3rSecret!")

	u, err := f.authn.User(ctx, alice.ID)
	require.NoError(t, err)
	require.Equal(t, "alice", u.Username)

	_, err = f.authn.User(ctx, alice.ID+100)
	require.ErrorIs(t, err, ErrSessionInvalid)
}
