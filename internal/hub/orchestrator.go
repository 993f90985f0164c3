package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gostudio/orchestra/internal/markdown"
	"github.com/gostudio/orchestra/internal/models"
)

// afterDone runs once when a session reaches done. It persists the
// assistant's turn and, unless the turn was itself chained or the request
// addressed a single model, hands the conversation to every auto-responding
// model. Each auto-respond round chains exactly one layer deep.
func (m *Main) afterDone(s *session, desc models.Descriptor) {
	if s.key.conversationID != "" {
		m.persistAssistant(s.key.conversationID, desc.ID, s.text())
	}

	if s.chained || s.key.targetModel != "" || s.key.conversationID == "" {
		return
	}

	responders := m.models.AutoResponders(desc.ID)
	if len(responders) == 0 {
		return
	}

	switch m.autoRespondMode {
	case AutoRespondConcurrent:
		var wg sync.WaitGroup
		for _, responder := range responders {
			wg.Add(1)
			go func(responder models.Descriptor) {
				defer wg.Done()
				m.chainSession(s.conn, s.key.conversationID, responder)
			}(responder)
		}
		wg.Wait()
	default:
		for _, responder := range responders {
			m.chainSession(s.conn, s.key.conversationID, responder)
		}
	}
}

// chainSession runs one auto-respond turn. The chained session re-reads the
// stored history so it includes every assistant message persisted before it,
// and is flagged so its own completion never triggers another round.
func (m *Main) chainSession(conn *connection, conversationID string, desc models.Descriptor) {
	provider, ok := m.providers[desc.Provider]
	if !ok {
		m.logger.Warn("No provider for auto-responding model",
			slog.String("modelID", desc.ID),
			slog.String("provider", string(desc.Provider)))
		return
	}

	messages, err := m.store.Messages(conn.ctx, conversationID)
	if err != nil {
		m.logger.Error("Failed to load history for auto-respond turn",
			slog.String("conversationID", conversationID),
			slog.String(errLoggerKey, err.Error()))
		return
	}
	if len(messages) == 0 {
		return
	}

	params := desc.Parameters
	params.SystemInstructions = joinPrompts(m.systemPrompt, params.SystemInstructions)

	key := sessionKey{conversationID: conversationID, modelID: desc.ID}
	s, err := m.newSession(conn, key, true)
	if err != nil {
		m.logger.Debug("Skipping auto-respond turn",
			slog.String("modelID", desc.ID),
			slog.String(errLoggerKey, err.Error()))
		return
	}
	m.runSession(s, provider, desc, messages, params)
}

// persistAssistant appends a completed model turn to the conversation,
// splitting the raw markdown into structured parts. Empty output is not
// stored.
func (m *Main) persistAssistant(conversationID, modelID, text string) {
	parts := markdown.Split(text)
	if len(parts) == 0 {
		return
	}

	msg := models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleAssistant,
		Parts:     parts,
		ModelID:   modelID,
		CreatedAt: time.Now(),
	}
	if _, err := m.store.AddMessage(context.Background(), conversationID, msg); err != nil {
		m.logger.Error("Failed to persist assistant message",
			slog.String("conversationID", conversationID),
			slog.String("modelID", modelID),
			slog.String(errLoggerKey, err.Error()))
	}
}
