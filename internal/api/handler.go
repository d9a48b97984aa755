// Package api provides HTTP handlers for the Q&A demo API.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/ashureev/qa-demo/internal/config"
	"github.com/ashureev/qa-demo/internal/identity"
	"github.com/ashureev/qa-demo/internal/session"
	"github.com/ashureev/qa-demo/internal/store"
)

// Handler provides common handler utilities.
type Handler struct {
	repo     store.Repository
	sessions *session.Manager
	cfg      *config.Config
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, sessions *session.Manager, cfg *config.Config) *Handler {
	return &Handler{
		repo:     repo,
		sessions: sessions,
		cfg:      cfg,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// sessionKey resolves the caller's session from the identity middleware.
func sessionKey(r *http.Request) (session.Key, bool) {
	key := session.Key{
		UserID:    identity.UserIDFromContext(r.Context()),
		SessionID: identity.SessionIDFromContext(r.Context()),
	}
	return key, key.UserID != ""
}
