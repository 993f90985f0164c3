package hub

import (
	"context"
	"strings"
	"sync"
)

// sessionState is the lifecycle position of one streaming session. A
// session moves from opening to streaming on its first chunk and then to
// exactly one terminal state; every later transition attempt is refused.
type sessionState int

const (
	sessionOpening sessionState = iota
	sessionStreaming
	sessionDone
	sessionErrored
	sessionCancelled
)

func (s sessionState) terminal() bool {
	return s == sessionDone || s == sessionErrored || s == sessionCancelled
}

func (s sessionState) String() string {
	switch s {
	case sessionOpening:
		return "opening"
	case sessionStreaming:
		return "streaming"
	case sessionDone:
		return "done"
	case sessionErrored:
		return "error"
	case sessionCancelled:
		return "cancelled"
	}
	return "unknown"
}

// sessionKey identifies a generation slot. At most one session per key may
// run at a time; a second request for the same slot is rejected while the
// first is live.
type sessionKey struct {
	conversationID string
	modelID        string
	targetModel    string
}

// session relays one upstream stream to one connection. The mutex orders
// chunk emission against the terminal transition so no chunk frame can
// follow a done, error or cancel frame.
type session struct {
	id      string
	key     sessionKey
	conn    *connection
	runCtx  context.Context
	cancel  context.CancelFunc
	chained bool

	releaseOnce sync.Once

	mu     sync.Mutex
	state  sessionState
	buffer strings.Builder
}

// emitChunk appends text to the accumulated response and relays it. It
// reports false when the session already reached a terminal state, in which
// case nothing is sent.
func (s *session) emitChunk(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.terminal() {
		return false
	}
	s.state = sessionStreaming
	s.buffer.WriteString(text)
	s.conn.enqueue(serverFrame{
		Type:           "chunk",
		Content:        chunkFrame(text),
		ConversationID: s.key.conversationID,
		ModelID:        s.key.modelID,
		SessionID:      s.id,
	})
	return true
}

// finish attempts the transition to a terminal state, emitting the given
// frame if it wins. Exactly one caller wins; the rest get false.
func (s *session) finish(state sessionState, frame *serverFrame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.terminal() {
		return false
	}
	s.state = state
	if frame != nil {
		s.conn.enqueue(*frame)
	}
	return true
}

func (s *session) outcome() sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer.String()
}
