package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Recipe is a saved recipe stored in MongoDB.
type Recipe struct {
	ID            primitive.ObjectID `json:"id"                       bson:"_id,omitempty"`
	UserID        int64              `json:"user_id"                  bson:"user_id"`
	Title         string             `json:"title"                    bson:"title"`
	Content       string             `json:"content"                  bson:"content"`
	OriginalQuery string             `json:"original_query,omitempty" bson:"original_query,omitempty"`
	ExportKey     string             `json:"-"                        bson:"export_key,omitempty"`
	CreatedAt     time.Time          `json:"created_at"               bson:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"               bson:"updated_at"`
}

// CreateRecipeRequest is the JSON body for POST /api/recipes.
type CreateRecipeRequest struct {
	Title         string `json:"title"`
	Content       string `json:"content"`
	OriginalQuery string `json:"original_query"`
}

// UpdateRecipeRequest is the JSON body for PUT /api/recipes/{id}.
// Nil fields are left unchanged.
type UpdateRecipeRequest struct {
	Title   *string `json:"title"`
	Content *string `json:"content"`
}

// GenerateRequest is the JSON body for POST /api/recipe.
type GenerateRequest struct {
	ChatInput string `json:"chat_input"`
}
