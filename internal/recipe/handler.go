package recipe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ayush/recipe-assistant/backend/internal/middleware"
	"github.com/ayush/recipe-assistant/backend/internal/models"
	"github.com/ayush/recipe-assistant/backend/internal/store"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// RecipeStore defines the interface for recipe persistence. Lookups are
// scoped to the owning user.
type RecipeStore interface {
	Insert(ctx context.Context, recipe *models.Recipe) (string, error)
	ListByUser(ctx context.Context, userID int64) ([]models.Recipe, error)
	GetByID(ctx context.Context, userID int64, id string) (*models.Recipe, error)
	Update(ctx context.Context, recipe *models.Recipe) error
	Delete(ctx context.Context, userID int64, id string) error
}

// FileStore defines the interface for export storage.
type FileStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	Download(ctx context.Context, key string) ([]byte, string, error)
	Remove(ctx context.Context, key string) error
}

// Generator produces recipe text from a free-form request.
type Generator interface {
	Generate(ctx context.Context, chatInput string) (string, error)
}

const exportContentType = "text/markdown; charset=utf-8"

// Handler holds recipe HTTP handlers.
type Handler struct {
	recipes   RecipeStore
	files     FileStore
	generator Generator
}

// NewHandler returns the recipe handlers. files may be nil, which disables exports.
func NewHandler(recipes RecipeStore, files FileStore, generator Generator) *Handler {
	return &Handler{recipes: recipes, files: files, generator: generator}
}

// Generate proxies a request to the recipe webhook. It needs no session.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	var req models.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.ChatInput) == "" {
		writeError(w, http.StatusBadRequest, "chat_input is required")
		return
	}

	text, err := h.generator.Generate(r.Context(), req.ChatInput)
	if errors.Is(err, ErrWebhookNotConfigured) {
		writeError(w, http.StatusServiceUnavailable, "recipe generation is not configured")
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("recipe generation failed")
		writeError(w, http.StatusBadGateway, "recipe generation failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"recipe": text})
}

// Create stores a new recipe for the current user.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())

	var req models.CreateRecipeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "title and content are required")
		return
	}

	rec := &models.Recipe{
		ID:            primitive.NewObjectID(),
		UserID:        userID,
		Title:         req.Title,
		Content:       req.Content,
		OriginalQuery: req.OriginalQuery,
	}
	h.export(r, rec)

	if _, err := h.recipes.Insert(r.Context(), rec); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("recipe insert failed")
		h.removeExport(r, rec)
		writeError(w, http.StatusInternalServerError, "failed to save recipe")
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

// List returns all recipes of the current user, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())

	recipes, err := h.recipes.ListByUser(r.Context(), userID)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("recipe list failed")
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if recipes == nil {
		recipes = []models.Recipe{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"recipes": recipes})
}

// Get returns a single recipe owned by the current user.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Update applies the fields present in the body.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateRecipeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if (req.Title != nil && strings.TrimSpace(*req.Title) == "") ||
		(req.Content != nil && strings.TrimSpace(*req.Content) == "") {
		writeError(w, http.StatusBadRequest, "title and content must not be empty")
		return
	}

	rec, ok := h.load(w, r)
	if !ok {
		return
	}
	if req.Title != nil {
		rec.Title = *req.Title
	}
	if req.Content != nil {
		rec.Content = *req.Content
	}
	h.export(r, rec)

	err := h.recipes.Update(r.Context(), rec)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "recipe not found")
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("recipe update failed")
		writeError(w, http.StatusInternalServerError, "failed to update recipe")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// Delete removes a recipe and its export.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.load(w, r)
	if !ok {
		return
	}

	err := h.recipes.Delete(r.Context(), rec.UserID, rec.ID.Hex())
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "recipe not found")
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("recipe delete failed")
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	h.removeExport(r, rec)

	writeJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
}

// Export streams the stored markdown rendition of a recipe.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	if h.files == nil {
		writeError(w, http.StatusNotFound, "exports are disabled")
		return
	}

	rec, ok := h.load(w, r)
	if !ok {
		return
	}
	if rec.ExportKey == "" {
		writeError(w, http.StatusNotFound, "export not available")
		return
	}

	data, ct, err := h.files.Download(r.Context(), rec.ExportKey)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "export not available")
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("export download failed")
		writeError(w, http.StatusInternalServerError, "download failed")
		return
	}
	if ct == "" {
		ct = exportContentType
	}

	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Disposition", `attachment; filename="recipe.md"`)
	_, _ = w.Write(data)
}

// load fetches the recipe named by the {id} URL parameter for the current
// user, writing a 404 or 500 when it cannot.
func (h *Handler) load(w http.ResponseWriter, r *http.Request) (*models.Recipe, bool) {
	userID, _ := middleware.UserID(r.Context())

	rec, err := h.recipes.GetByID(r.Context(), userID, chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "recipe not found")
		return nil, false
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("recipe lookup failed")
		writeError(w, http.StatusInternalServerError, "database error")
		return nil, false
	}
	return rec, true
}

// export uploads the markdown rendition and records its key. Upload
// failures are logged and keep whatever key the recipe already had, so a
// failed re-upload leaves the previous export reachable.
func (h *Handler) export(r *http.Request, rec *models.Recipe) {
	if h.files == nil {
		return
	}

	key := exportKey(rec)
	if err := h.files.Upload(r.Context(), key, renderMarkdown(rec), exportContentType); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Str("key", key).Msg("recipe export upload failed")
		return
	}
	rec.ExportKey = key
}

func (h *Handler) removeExport(r *http.Request, rec *models.Recipe) {
	if h.files == nil || rec.ExportKey == "" {
		return
	}
	if err := h.files.Remove(r.Context(), rec.ExportKey); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Str("key", rec.ExportKey).Msg("recipe export removal failed")
	}
}

func exportKey(rec *models.Recipe) string {
	return fmt.Sprintf("%d/%s.md", rec.UserID, rec.ID.Hex())
}

func renderMarkdown(rec *models.Recipe) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", rec.Title)
	if rec.OriginalQuery != "" {
		fmt.Fprintf(&b, "> %s\n\n", rec.OriginalQuery)
	}
	b.WriteString(strings.TrimRight(rec.Content, "\n"))
	b.WriteString("\n")
	return []byte(b.String())
}
