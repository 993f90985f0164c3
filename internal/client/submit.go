package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/gostudio/orchestra/internal/models"
)

// Submission is one user message queued for sending, together with the
// model that should answer it.
type Submission struct {
	Message models.Message
	ModelID string
}

// ConversationCreator makes a conversation and returns its server-assigned
// ID.
type ConversationCreator interface {
	CreateConversation(ctx context.Context, title string) (string, error)
}

// SendFunc delivers one submission into an existing conversation.
type SendFunc func(ctx context.Context, conversationID string, sub Submission) error

// Submitter serializes message submission around lazy conversation
// creation. Messages submitted before a conversation exists are buffered;
// the first of them triggers exactly one create call, and every buffered
// message replays in order once the ID arrives. Later submissions go
// straight through.
type Submitter struct {
	creator ConversationCreator
	send    SendFunc

	mu             sync.Mutex
	conversationID string
	creating       bool
	pending        []Submission
}

// NewSubmitter builds a submitter. An empty conversationID means the
// conversation does not exist yet and will be created on first use.
func NewSubmitter(creator ConversationCreator, send SendFunc, conversationID string) *Submitter {
	return &Submitter{creator: creator, send: send, conversationID: conversationID}
}

// ConversationID returns the current conversation ID, empty until creation
// completes.
func (s *Submitter) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// Submit queues or sends one message. When the conversation already exists
// the message is sent immediately. Otherwise it is buffered, and the caller
// that finds the buffer empty and no create in flight performs the single
// creation; everyone else just appends.
func (s *Submitter) Submit(ctx context.Context, sub Submission) error {
	s.mu.Lock()
	if s.conversationID != "" {
		id := s.conversationID
		s.mu.Unlock()
		return s.send(ctx, id, sub)
	}

	s.pending = append(s.pending, sub)
	if s.creating {
		s.mu.Unlock()
		return nil
	}
	s.creating = true
	s.mu.Unlock()

	id, err := s.creator.CreateConversation(ctx, "")
	if err != nil {
		s.mu.Lock()
		s.creating = false
		// Drop the buffer so a retry does not replay stale input twice.
		dropped := len(s.pending)
		s.pending = nil
		s.mu.Unlock()
		return fmt.Errorf("failed to create conversation (%d message(s) dropped): %w", dropped, err)
	}

	s.mu.Lock()
	s.conversationID = id
	s.creating = false
	queued := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, queuedSub := range queued {
		if err := s.send(ctx, id, queuedSub); err != nil {
			return err
		}
	}
	return nil
}
