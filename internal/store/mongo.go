package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ayush/recipe-assistant/backend/internal/models"
)

// NewMongoClient connects to MongoDB and verifies the connection.
func NewMongoClient(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client, nil
}

// MongoStore handles recipe CRUD in MongoDB. Every lookup is scoped to the
// owning user.
type MongoStore struct {
	col *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{col: db.Collection("recipes")}
}

// EnsureIndexes creates the owner/created_at index used by ListByUser.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("mongo index: %w", err)
	}
	return nil
}

func (s *MongoStore) Insert(ctx context.Context, recipe *models.Recipe) (string, error) {
	now := time.Now().UTC()
	recipe.CreatedAt = now
	recipe.UpdatedAt = now

	res, err := s.col.InsertOne(ctx, recipe)
	if err != nil {
		return "", fmt.Errorf("mongo insert: %w", err)
	}
	oid := res.InsertedID.(primitive.ObjectID)
	recipe.ID = oid
	return oid.Hex(), nil
}

func (s *MongoStore) ListByUser(ctx context.Context, userID int64) ([]models.Recipe, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cur, err := s.col.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	recipes := []models.Recipe{}
	if err := cur.All(ctx, &recipes); err != nil {
		return nil, err
	}
	return recipes, nil
}

func (s *MongoStore) GetByID(ctx context.Context, userID int64, id string) (*models.Recipe, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}

	var recipe models.Recipe
	err = s.col.FindOne(ctx, bson.M{"_id": oid, "user_id": userID}).Decode(&recipe)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &recipe, nil
}

// Update writes title, content and export key of an owned recipe.
func (s *MongoStore) Update(ctx context.Context, recipe *models.Recipe) error {
	recipe.UpdatedAt = time.Now().UTC()

	res, err := s.col.UpdateOne(ctx,
		bson.M{"_id": recipe.ID, "user_id": recipe.UserID},
		bson.M{"$set": bson.M{
			"title":      recipe.Title,
			"content":    recipe.Content,
			"export_key": recipe.ExportKey,
			"updated_at": recipe.UpdatedAt,
		}},
	)
	if err != nil {
		return fmt.Errorf("mongo update: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) Delete(ctx context.Context, userID int64, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}
	res, err := s.col.DeleteOne(ctx, bson.M{"_id": oid, "user_id": userID})
	if err != nil {
		return fmt.Errorf("mongo delete: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}
