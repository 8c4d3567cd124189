package store

import (
	"context"
	"sync"
	"time"

	"github.com/ayush/recipe-assistant/backend/internal/models"
)

// MemoryStore implements the user and session operations of PostgresStore
// in memory. Data is lost on restart; it backs tests and local development.
type MemoryStore struct {
	mu sync.RWMutex

	nextUserID    int64
	nextSessionID int64

	users      map[int64]*models.User    // user_id -> User
	byUsername map[string]int64          // username -> user_id
	sessions   map[string]*models.Session // session_token -> Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[int64]*models.User),
		byUsername: make(map[string]int64),
		sessions:   make(map[string]*models.Session),
	}
}

func (s *MemoryStore) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byUsername[username]; exists {
		return nil, ErrConflict
	}

	s.nextUserID++
	u := &models.User{
		ID:           s.nextUserID,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	s.users[u.ID] = u
	s.byUsername[username] = u.ID

	clone := *u
	return &clone, nil
}

func (s *MemoryStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.byUsername[username]
	if !exists {
		return nil, ErrNotFound
	}
	clone := *s.users[id]
	return &clone, nil
}

func (s *MemoryStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, exists := s.users[id]
	if !exists {
		return nil, ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (s *MemoryStore) CreateSession(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[session.UserID]; !exists {
		return ErrNotFound
	}
	if _, exists := s.sessions[session.Token]; exists {
		return ErrConflict
	}

	s.nextSessionID++
	session.ID = s.nextSessionID

	clone := *session
	s.sessions[session.Token] = &clone
	return nil
}

func (s *MemoryStore) GetSession(ctx context.Context, token string, now time.Time) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[token]
	if !exists || !session.ActiveAt(now) {
		return nil, ErrNotFound
	}
	clone := *session
	return &clone, nil
}

func (s *MemoryStore) DeleteSession(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, token)
	return nil
}

func (s *MemoryStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for token, session := range s.sessions {
		if !session.ActiveAt(now) {
			delete(s.sessions, token)
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) SetSessionCSRF(ctx context.Context, token, csrf string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[token]
	if !exists || !session.ActiveAt(now) {
		return ErrNotFound
	}
	session.CSRFToken = csrf
	return nil
}

func (s *MemoryStore) EnsureSessionCSRF(ctx context.Context, token, candidate string, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[token]
	if !exists || !session.ActiveAt(now) {
		return "", ErrNotFound
	}
	if session.CSRFToken == "" {
		session.CSRFToken = candidate
	}
	return session.CSRFToken, nil
}
