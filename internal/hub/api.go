package hub

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gostudio/orchestra/internal/models"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(r *http.Request, v any) error {
	defer func() { _, _ = io.Copy(io.Discard, r.Body) }()
	return json.NewDecoder(r.Body).Decode(v)
}

// HandleConversations serves GET (list) and POST (create) on
// /api/conversations.
func (m *Main) HandleConversations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		conversations, err := m.store.Conversations(r.Context())
		if err != nil {
			m.logger.Error("Failed to list conversations", slog.String(errLoggerKey, err.Error()))
			writeAPIError(w, http.StatusInternalServerError, "failed to list conversations")
			return
		}
		if conversations == nil {
			conversations = []models.Conversation{}
		}
		writeJSON(w, http.StatusOK, conversations)
	case http.MethodPost:
		var req struct {
			Title string `json:"title"`
		}
		if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
			writeAPIError(w, http.StatusBadRequest, "invalid JSON")
			return
		}

		now := time.Now()
		conv := models.Conversation{
			ID:        uuid.NewString(),
			Title:     req.Title,
			CreatedAt: now,
			UpdatedAt: now,
		}
		id, err := m.store.AddConversation(r.Context(), conv)
		if err != nil {
			m.logger.Error("Failed to create conversation", slog.String(errLoggerKey, err.Error()))
			writeAPIError(w, http.StatusInternalServerError, "failed to create conversation")
			return
		}
		conv.ID = id
		writeJSON(w, http.StatusCreated, conv)
	default:
		writeAPIError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// HandleConversation serves GET and PATCH on /api/conversations/{id}.
func (m *Main) HandleConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	conv, found, err := m.store.Conversation(r.Context(), id)
	if err != nil {
		m.logger.Error("Failed to load conversation", slog.String(errLoggerKey, err.Error()))
		writeAPIError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	if !found {
		writeAPIError(w, http.StatusNotFound, "conversation not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, conv)
	case http.MethodPatch:
		var req struct {
			Title string `json:"title"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeAPIError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		conv.Title = req.Title
		conv.UpdatedAt = time.Now()
		if err := m.store.UpdateConversation(r.Context(), conv); err != nil {
			m.logger.Error("Failed to update conversation", slog.String(errLoggerKey, err.Error()))
			writeAPIError(w, http.StatusInternalServerError, "failed to update conversation")
			return
		}
		writeJSON(w, http.StatusOK, conv)
	default:
		writeAPIError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// HandleMessages serves GET (history) and POST (append) on
// /api/conversations/{id}/messages. The first user message of an untitled
// conversation becomes its title.
func (m *Main) HandleMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	conv, found, err := m.store.Conversation(r.Context(), id)
	if err != nil {
		m.logger.Error("Failed to load conversation", slog.String(errLoggerKey, err.Error()))
		writeAPIError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	if !found {
		writeAPIError(w, http.StatusNotFound, "conversation not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		messages, err := m.store.Messages(r.Context(), id)
		if err != nil {
			m.logger.Error("Failed to load messages", slog.String(errLoggerKey, err.Error()))
			writeAPIError(w, http.StatusInternalServerError, "failed to load messages")
			return
		}
		if messages == nil {
			messages = []models.Message{}
		}
		writeJSON(w, http.StatusOK, messages)
	case http.MethodPost:
		var msg models.Message
		if err := decodeBody(r, &msg); err != nil {
			writeAPIError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		if msg.Role == "" || len(msg.Parts) == 0 {
			writeAPIError(w, http.StatusBadRequest, "message needs a role and content")
			return
		}
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = time.Now()
		}

		newID, err := m.store.AddMessage(r.Context(), id, msg)
		if err != nil {
			m.logger.Error("Failed to store message", slog.String(errLoggerKey, err.Error()))
			writeAPIError(w, http.StatusInternalServerError, "failed to store message")
			return
		}
		msg.ID = newID

		if conv.Title == "" && msg.Role == models.RoleUser {
			conv.Title = titleFromMessage(msg)
			conv.UpdatedAt = time.Now()
			if err := m.store.UpdateConversation(r.Context(), conv); err != nil {
				m.logger.Warn("Failed to set conversation title", slog.String(errLoggerKey, err.Error()))
			}
		}

		writeJSON(w, http.StatusCreated, msg)
	default:
		writeAPIError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

const maxTitleRunes = 80

func titleFromMessage(msg models.Message) string {
	text := []rune(models.RenderParts(msg.Parts))
	if len(text) > maxTitleRunes {
		return string(text[:maxTitleRunes])
	}
	return string(text)
}

// HandleStatus reports whether the primary API key is configured, exposing
// it only in masked form, along with the configured model set.
func (m *Main) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"apiKeyConfigured": m.maskedKey != "",
		"apiKey":           m.maskedKey,
		"models":           m.models.All(),
	})
}
