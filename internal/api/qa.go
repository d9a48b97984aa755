package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/qa-demo/internal/config"
	"github.com/ashureev/qa-demo/internal/identity"
	"github.com/ashureev/qa-demo/internal/render"
	"github.com/ashureev/qa-demo/internal/session"
)

const maxAskBodyBytes = 64 << 10

// AskRequest is the body of POST /api/ask.
type AskRequest struct {
	Question       string `json:"question"`
	ResponseLength int    `json:"response_length"`
}

// QAHandler handles question and history endpoints.
type QAHandler struct {
	*Handler
}

// NewQAHandler creates a new Q&A handler.
func NewQAHandler(base *Handler) *QAHandler {
	return &QAHandler{Handler: base}
}

// RegisterRoutes registers Q&A routes.
func (h *QAHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Get("/config", h.GetConfig)
		r.Get("/history", h.GetHistory)
		r.Post("/ask", h.Ask)
		r.Post("/history/clear", h.ClearHistory)
	})
}

// GetMe returns the current visitor's information.
func (h *QAHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	visitor, err := h.repo.GetVisitor(r.Context(), userID)
	if err != nil || visitor == nil {
		Error(w, http.StatusUnauthorized, "visitor not found")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":        visitor.VisitorID,
		"display_name":   visitor.DisplayName,
		"session_id":     identity.SessionIDFromContext(r.Context()),
		"question_count": visitor.QuestionCount,
		"first_seen_at":  visitor.FirstSeenAt,
		"visitor_ttl":    int64(visitor.ExpiresIn(time.Now(), h.cfg.SessionIdleTTL).Seconds()),
	})
}

// GetConfig returns the settings the frontend needs to draw the page.
func (h *QAHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"title":      "Q&A Demo",
		"model_name": h.cfg.ModelName,
		"mock":       h.cfg.IsMock(),
		"response_length": map[string]int{
			"min":     config.ResponseLengthMin,
			"max":     config.ResponseLengthMax,
			"default": config.ResponseLengthDefault,
			"step":    config.ResponseLengthStep,
		},
	})
}

// GetHistory returns the caller's session snapshot.
func (h *QAHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	key, ok := sessionKey(r)
	if !ok {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	JSON(w, http.StatusOK, render.History(h.sessions.Get(key).Snapshot()))
}

// Ask answers a question and appends it to the caller's history.
// Upstream failures still produce an entry; only a blank question is rejected.
func (h *QAHandler) Ask(w http.ResponseWriter, r *http.Request) {
	key, ok := sessionKey(r)
	if !ok {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req AskRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxAskBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess := h.sessions.Get(key)
	sess.SetResponseLength(req.ResponseLength)

	// The answer is recorded even if the browser disconnects mid-call.
	ctx := context.WithoutCancel(r.Context())
	entry, err := h.sessions.SubmitTo(ctx, sess, req.Question)
	if errors.Is(err, session.ErrEmptyQuestion) {
		view := render.History(sess.Snapshot())
		view.Warning = session.WarningEmptyQuestion
		JSON(w, http.StatusUnprocessableEntity, view)
		return
	}
	if err != nil {
		slog.Error("Failed to submit question", "error", err, "user_id", key.UserID)
		Error(w, http.StatusInternalServerError, "failed to submit question")
		return
	}

	if err := h.repo.IncrementQuestions(ctx, key.UserID); err != nil {
		slog.Warn("Failed to update visitor question count", "error", err, "user_id", key.UserID)
	}

	slog.Info("Question answered",
		"user_id", key.UserID,
		"session_id", key.SessionID,
		"question_len", len(entry.Question),
		"response_len", len(entry.Response))
	JSON(w, http.StatusOK, render.History(sess.Snapshot()))
}

// ClearHistory empties the caller's history.
func (h *QAHandler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	key, ok := sessionKey(r)
	if !ok {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	snap := h.sessions.Clear(key)
	slog.Info("History cleared", "user_id", key.UserID, "session_id", key.SessionID)
	JSON(w, http.StatusOK, render.History(snap))
}
