package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ayush/recipe-assistant/backend/internal/models"
)

// MemoryRecipeStore implements the recipe operations of MongoStore in memory.
type MemoryRecipeStore struct {
	mu      sync.RWMutex
	recipes map[primitive.ObjectID]models.Recipe
	now     func() time.Time
}

func NewMemoryRecipeStore() *MemoryRecipeStore {
	return &MemoryRecipeStore{
		recipes: make(map[primitive.ObjectID]models.Recipe),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryRecipeStore) Insert(ctx context.Context, recipe *models.Recipe) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if recipe.ID.IsZero() {
		recipe.ID = primitive.NewObjectID()
	}
	if _, exists := s.recipes[recipe.ID]; exists {
		return "", ErrConflict
	}

	now := s.now()
	recipe.CreatedAt = now
	recipe.UpdatedAt = now
	s.recipes[recipe.ID] = *recipe

	return recipe.ID.Hex(), nil
}

// ListByUser returns the user's recipes, newest first.
func (s *MemoryRecipeStore) ListByUser(ctx context.Context, userID int64) ([]models.Recipe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Recipe, 0)
	for _, r := range s.recipes {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.Hex() > out[j].ID.Hex()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryRecipeStore) GetByID(ctx context.Context, userID int64, id string) (*models.Recipe, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.recipes[oid]
	if !exists || r.UserID != userID {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (s *MemoryRecipeStore) Update(ctx context.Context, recipe *models.Recipe) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.recipes[recipe.ID]
	if !exists || cur.UserID != recipe.UserID {
		return ErrNotFound
	}

	cur.Title = recipe.Title
	cur.Content = recipe.Content
	cur.ExportKey = recipe.ExportKey
	cur.UpdatedAt = s.now()
	s.recipes[recipe.ID] = cur

	recipe.UpdatedAt = cur.UpdatedAt
	return nil
}

func (s *MemoryRecipeStore) Delete(ctx context.Context, userID int64, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.recipes[oid]
	if !exists || r.UserID != userID {
		return ErrNotFound
	}
	delete(s.recipes, oid)
	return nil
}
