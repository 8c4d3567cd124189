package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ayush/recipe-assistant/backend/internal/models"
	"github.com/ayush/recipe-assistant/backend/internal/store"
)

var errBroken = errors.New("connection refused")

// countingHasher records how often Verify runs.
type countingHasher struct {
	*BcryptHasher
	verifies atomic.Int64
}

func newCountingHasher(t *testing.T) *countingHasher {
	t.Helper()
	h, err := NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)
	return &countingHasher{BcryptHasher: h}
}

func (h *countingHasher) Verify(password, hash string) bool {
	h.verifies.Add(1)
	return h.BcryptHasher.Verify(password, hash)
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// brokenStore fails every call.
type brokenStore struct{}

func (brokenStore) CreateUser(context.Context, string, string) (*models.User, error) {
	return nil, errBroken
}
func (brokenStore) GetUserByUsername(context.Context, string) (*models.User, error) {
	return nil, errBroken
}
func (brokenStore) GetUserByID(context.Context, int64) (*models.User, error) { return nil, errBroken }
func (brokenStore) CreateSession(context.Context, *models.Session) error      { return errBroken }
func (brokenStore) GetSession(context.Context, string, time.Time) (*models.Session, error) {
	return nil, errBroken
}
func (brokenStore) DeleteSession(context.Context, string) error { return errBroken }
func (brokenStore) DeleteExpiredSessions(context.Context, time.Time) (int64, error) {
	return 0, errBroken
}
func (brokenStore) SetSessionCSRF(context.Context, string, string, time.Time) error {
	return errBroken
}
func (brokenStore) EnsureSessionCSRF(context.Context, string, string, time.Time) (string, error) {
	return "", errBroken
}

// collidingStore reports a token conflict for the first n inserts.
type collidingStore struct {
	*store.MemoryStore
	collisions int
	attempts   int
}

func (s *collidingStore) CreateSession(ctx context.Context, session *models.Session) error {
	s.attempts++
	if s.attempts <= s.collisions {
		return store.ErrConflict
	}
	return s.MemoryStore.CreateSession(ctx, session)
}

type fixture struct {
	store    *store.MemoryStore
	clock    *fakeClock
	hasher   *countingHasher
	authn    *Authenticator
	sessions *Sessions
	csrf     *CSRFGuard
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := store.NewMemoryStore()
	clock := newFakeClock()
	hasher := newCountingHasher(t)

	authn, err := NewAuthenticator(st, hasher)
	require.NoError(t, err)

	sessions := NewSessions(st, time.Hour, WithClock(clock.Now))

	return &fixture{
		store:    st,
		clock:    clock,
		hasher:   hasher,
		authn:    authn,
		sessions: sessions,
		csrf:     NewCSRFGuard(sessions),
	}
}

func (f *fixture) user(t *testing.T, username, password string) *models.User {
	t.Helper()
	u, err := f.authn.Register(context.Background(), username, password)
	require.NoError(t, err)
	return u
}
