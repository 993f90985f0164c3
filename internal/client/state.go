// Package client implements the Go-side client for the orchestrator's
// websocket protocol: a reconnecting connection, a submission buffer for
// messages written before their conversation exists, and a reconciliation
// state that folds streamed frames into message lists.
package client

import (
	"sync"

	"github.com/gostudio/orchestra/internal/models"
)

// trackedMessage pairs a message with its streaming status. A message stays
// open while chunks may still be appended to it.
type trackedMessage struct {
	msg  models.Message
	open bool
}

// State reconciles streamed frames into per-conversation message lists.
// Chunks append to the most recent open assistant message from the same
// model, opening one when none exists, so interleaved multi-model streams
// never corrupt each other.
type State struct {
	mu            sync.Mutex
	conversations map[string][]trackedMessage
}

// NewState returns an empty reconciliation state.
func NewState() *State {
	return &State{conversations: make(map[string][]trackedMessage)}
}

// Append records a message that is already complete, such as the user's own
// input.
func (s *State) Append(conversationID string, msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conversationID] = append(s.conversations[conversationID],
		trackedMessage{msg: msg})
}

// ApplyChunk folds one streamed chunk into the conversation. The chunk goes
// to the newest open assistant message with a matching model ID; a chunk
// with no open target starts a new assistant message.
func (s *State) ApplyChunk(conversationID, modelID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.conversations[conversationID]
	if i := s.openIndex(msgs, modelID); i >= 0 {
		last := len(msgs[i].msg.Parts) - 1
		if last >= 0 && msgs[i].msg.Parts[last].Type == models.PartTypeText {
			msgs[i].msg.Parts[last].Text += text
		} else {
			msgs[i].msg.Parts = append(msgs[i].msg.Parts,
				models.Part{Type: models.PartTypeText, Text: text})
		}
		return
	}

	msg := models.TextMessage(models.RoleAssistant, text)
	msg.ModelID = modelID
	s.conversations[conversationID] = append(msgs, trackedMessage{msg: msg, open: true})
}

// ApplyDone freezes the open assistant message for the given model. Done
// frames for a model with nothing open are ignored.
func (s *State) ApplyDone(conversationID, modelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.conversations[conversationID]
	if i := s.openIndex(msgs, modelID); i >= 0 {
		msgs[i].open = false
	}
}

// ApplyError closes the open assistant message for the given model,
// appending the error text as a final part. An error with nothing open
// creates a standalone error message so it stays visible.
func (s *State) ApplyError(conversationID, modelID, errText string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	part := models.Part{Type: models.PartTypeText, Text: "Error: " + errText}
	msgs := s.conversations[conversationID]
	if i := s.openIndex(msgs, modelID); i >= 0 {
		msgs[i].msg.Parts = append(msgs[i].msg.Parts, part)
		msgs[i].open = false
		return
	}

	msg := models.Message{Role: models.RoleAssistant, Parts: []models.Part{part}, ModelID: modelID}
	s.conversations[conversationID] = append(msgs, trackedMessage{msg: msg})
}

// openIndex finds the newest open assistant message matching modelID. An
// empty modelID matches any open assistant message, for servers that omit
// the field on single-model turns.
func (s *State) openIndex(msgs []trackedMessage, modelID string) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if !msgs[i].open || msgs[i].msg.Role != models.RoleAssistant {
			continue
		}
		if modelID == "" || msgs[i].msg.ModelID == modelID {
			return i
		}
	}
	return -1
}

// Messages returns a copy of the conversation's messages in order.
func (s *State) Messages(conversationID string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.conversations[conversationID]
	out := make([]models.Message, 0, len(msgs))
	for _, tm := range msgs {
		out = append(out, tm.msg)
	}
	return out
}

// Thinking returns the model IDs with an open message in the conversation.
func (s *State) Thinking(conversationID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, tm := range s.conversations[conversationID] {
		if tm.open {
			out = append(out, tm.msg.ModelID)
		}
	}
	return out
}

// Reset drops a conversation's local state, typically before re-syncing
// from the server after a reconnect.
func (s *State) Reset(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, conversationID)
}
