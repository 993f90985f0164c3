// Package hub is the websocket core of the server. It owns the connection
// registry, translates inbound frames into provider calls, relays streamed
// chunks back, and chains auto-responding models after each completed turn.
package hub

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gostudio/orchestra/internal/metrics"
	"github.com/gostudio/orchestra/internal/models"
	"nhooyr.io/websocket"
)

const (
	defaultIdleTimeout = 2 * time.Minute
	errLoggerKey       = "err"
)

// Streamer is an upstream model adapter. Stream yields content chunks until
// the upstream finishes or fails; a context cancellation ends the sequence
// without an error. Generate is the non-streaming form.
type Streamer interface {
	Stream(ctx context.Context, model string, messages []models.Message, params models.Parameters) iter.Seq2[string, error]
	Generate(ctx context.Context, model string, messages []models.Message, params models.Parameters) (string, error)
}

// Store persists conversations and their messages.
type Store interface {
	Conversations(ctx context.Context) ([]models.Conversation, error)
	AddConversation(ctx context.Context, conv models.Conversation) (string, error)
	Conversation(ctx context.Context, id string) (models.Conversation, bool, error)
	UpdateConversation(ctx context.Context, conv models.Conversation) error
	Messages(ctx context.Context, conversationID string) ([]models.Message, error)
	AddMessage(ctx context.Context, conversationID string, message models.Message) (string, error)
}

// Auto-respond scheduling modes.
const (
	AutoRespondSequential = "sequential"
	AutoRespondConcurrent = "concurrent"
)

// Config carries the dependencies and tunables for a Main.
type Config struct {
	Store     Store
	Models    *models.Registry
	Providers map[models.Provider]Streamer
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	// AutoRespondMode selects how chained turns run after a completed
	// model turn: sequential (default) or concurrent.
	AutoRespondMode string

	// IdleTimeout bounds the gap between upstream chunks. Zero means the
	// two minute default.
	IdleTimeout time.Duration

	SystemPrompt     string
	CodeSystemPrompt string

	// MaskedAPIKey is the already-masked primary key shown by the status
	// endpoint. Never pass a raw key here.
	MaskedAPIKey string
}

// Main wires the registry, providers and store together and serves the
// websocket and HTTP API endpoints.
type Main struct {
	logger    *slog.Logger
	store     Store
	models    *models.Registry
	providers map[models.Provider]Streamer
	metrics   *metrics.Metrics
	conns     *Registry
	thinking  *ThinkingSet

	autoRespondMode  string
	idleTimeout      time.Duration
	systemPrompt     string
	codeSystemPrompt string
	maskedKey        string

	mu     sync.Mutex
	active map[sessionKey]*session
}

// NewMain builds the hub. The caller is expected to run Registry.Run on the
// returned hub's connection registry.
func NewMain(cfg Config) *Main {
	mode := cfg.AutoRespondMode
	if mode != AutoRespondConcurrent {
		mode = AutoRespondSequential
	}
	idle := cfg.IdleTimeout
	if idle <= 0 {
		idle = defaultIdleTimeout
	}
	return &Main{
		logger:           cfg.Logger.With(slog.String("module", "hub")),
		store:            cfg.Store,
		models:           cfg.Models,
		providers:        cfg.Providers,
		metrics:          cfg.Metrics,
		conns:            NewRegistry(cfg.Logger, cfg.Metrics, 0, 0),
		thinking:         NewThinkingSet(),
		autoRespondMode:  mode,
		idleTimeout:      idle,
		systemPrompt:     cfg.SystemPrompt,
		codeSystemPrompt: cfg.CodeSystemPrompt,
		maskedKey:        cfg.MaskedAPIKey,
		active:           make(map[sessionKey]*session),
	}
}

// Registry exposes the connection registry so main can run its sweeps.
func (m *Main) Registry() *Registry {
	return m.conns
}

// HandleWS upgrades the request and serves the connection's read loop until
// the client goes away.
func (m *Main) HandleWS(w http.ResponseWriter, r *http.Request) {
	sock, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		m.logger.Error("Failed to accept websocket", slog.String(errLoggerKey, err.Error()))
		return
	}

	conn := m.conns.Register(sock)
	defer m.conns.Unregister(conn.id)

	for {
		_, data, err := sock.Read(conn.ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				m.logger.Debug("Websocket read ended",
					slog.String("connectionID", conn.id),
					slog.String(errLoggerKey, err.Error()))
			}
			return
		}
		m.dispatch(conn, data)
	}
}

// handleGeneration resolves the model and provider for a generation frame
// and starts either a streaming session or a one-shot request.
func (m *Main) handleGeneration(conn *connection, frame clientFrame) {
	modelID := frame.Model
	if modelID == "" {
		modelID = frame.ModelID
	}

	desc, ok := m.models.Get(modelID)
	if !ok {
		conn.enqueue(errorFrame(fmt.Sprintf("unknown model: %s", modelID)))
		return
	}
	if !desc.Enabled {
		conn.enqueue(errorFrame(fmt.Sprintf("model is disabled: %s", modelID)))
		return
	}
	provider, ok := m.providers[desc.Provider]
	if !ok {
		conn.enqueue(errorFrame(fmt.Sprintf("no provider configured for %s", desc.Provider)))
		return
	}

	params := desc.Parameters
	if frame.Parameters != nil {
		params = *frame.Parameters
	}
	params.SystemInstructions = joinPrompts(m.systemPrompt, m.genAugment(frame.Type), params.SystemInstructions)

	messages, err := m.requestMessages(conn.ctx, frame)
	if err != nil {
		conn.enqueue(errorFrame(err.Error()))
		return
	}
	if len(messages) == 0 {
		conn.enqueue(errorFrame("no messages to generate from"))
		return
	}

	streaming := params.Stream
	if frame.Stream != nil {
		streaming = *frame.Stream
	}

	// Streaming and one-shot requests contend for the same slot, so a
	// second request for a busy (conversation, model, target) tuple is
	// rejected either way.
	key := sessionKey{
		conversationID: frame.ConversationID,
		modelID:        desc.ID,
		targetModel:    frame.TargetModel,
	}
	s, err := m.newSession(conn, key, false)
	if err != nil {
		conn.enqueue(errorFrame(err.Error()))
		return
	}
	if !streaming {
		go m.runOnce(s, provider, desc, messages, params)
		return
	}
	go m.runSession(s, provider, desc, messages, params)
}

// requestMessages assembles the history for a generation: the inline
// messages when the frame carries any, otherwise the stored conversation.
func (m *Main) requestMessages(ctx context.Context, frame clientFrame) ([]models.Message, error) {
	if len(frame.Messages) > 0 {
		out := make([]models.Message, 0, len(frame.Messages))
		for _, wm := range frame.Messages {
			out = append(out, wm.toMessage())
		}
		return out, nil
	}
	if frame.ConversationID == "" {
		return nil, nil
	}
	msgs, err := m.store.Messages(ctx, frame.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return msgs, nil
}

func (m *Main) genAugment(frameType string) string {
	if frameType == "code" {
		return m.codeSystemPrompt
	}
	return ""
}

func joinPrompts(prompts ...string) string {
	var parts []string
	for _, p := range prompts {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n\n")
}

// newSession claims the generation slot for key. A slot already held by a
// live session rejects the request.
func (m *Main) newSession(conn *connection, key sessionKey, chained bool) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.active[key]; exists {
		return nil, fmt.Errorf("generation already in progress for model %s", key.modelID)
	}

	ctx, cancel := context.WithCancel(conn.ctx)
	s := &session{
		id:      uuid.NewString(),
		key:     key,
		conn:    conn,
		cancel:  cancel,
		chained: chained,
	}
	s.runCtx = ctx
	m.active[key] = s

	m.thinking.Add(key.conversationID, key.modelID)
	m.metrics.SessionsInFlight.Inc()
	conn.enqueue(serverFrame{
		Type:           "session",
		SessionID:      s.id,
		ConversationID: key.conversationID,
		ModelID:        key.modelID,
	})
	return s, nil
}

// runSession consumes the upstream stream for a session, relaying chunks
// and settling the terminal state. An idle timer bounds the gap between
// chunks; when it fires the session errors out and the upstream request is
// cancelled.
func (m *Main) runSession(s *session, provider Streamer, desc models.Descriptor, messages []models.Message, params models.Parameters) {
	defer m.releaseSession(s)

	idle := time.AfterFunc(m.idleTimeout, func() {
		if s.finish(sessionErrored, &serverFrame{
			Type:           "error",
			Error:          "session idle timeout",
			ConversationID: s.key.conversationID,
			ModelID:        s.key.modelID,
			SessionID:      s.id,
		}) {
			m.logger.Warn("Session timed out waiting for upstream",
				slog.String("sessionID", s.id),
				slog.String("modelID", s.key.modelID))
		}
		s.cancel()
	})
	defer idle.Stop()
	defer s.cancel()

	for chunk, err := range provider.Stream(s.runCtx, desc.Name, messages, params) {
		if err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			s.finish(sessionErrored, &serverFrame{
				Type:           "error",
				Error:          err.Error(),
				ConversationID: s.key.conversationID,
				ModelID:        s.key.modelID,
				SessionID:      s.id,
			})
			m.logger.Error("Upstream stream failed",
				slog.String("sessionID", s.id),
				slog.String("modelID", s.key.modelID),
				slog.String(errLoggerKey, err.Error()))
			return
		}
		idle.Reset(m.idleTimeout)
		if !s.emitChunk(chunk) {
			return
		}
		m.metrics.ChunksRelayedTotal.Inc()
	}

	if s.runCtx.Err() != nil {
		s.finish(sessionCancelled, nil)
		return
	}
	if s.finish(sessionDone, &serverFrame{
		Type:           "done",
		ConversationID: s.key.conversationID,
		ModelID:        s.key.modelID,
		SessionID:      s.id,
	}) {
		// Release before chaining so the finished model stops counting
		// as thinking while auto-responders take their turns.
		m.releaseSession(s)
		m.afterDone(s, desc)
	}
}

// releaseSession frees the generation slot and settles bookkeeping. It runs
// at most once per session however many paths reach it.
func (m *Main) releaseSession(s *session) {
	s.releaseOnce.Do(func() {
		m.mu.Lock()
		if m.active[s.key] == s {
			delete(m.active, s.key)
		}
		m.mu.Unlock()

		m.thinking.Remove(s.key.conversationID, s.key.modelID)
		m.metrics.SessionsInFlight.Dec()
		m.metrics.SessionsTotal.WithLabelValues(s.outcome().String()).Inc()
	})
}

// runOnce serves a non-streaming generation and replies with a single
// result frame. It holds the session's slot for the duration so concurrent
// requests for the same tuple are rejected just like streaming ones.
func (m *Main) runOnce(s *session, provider Streamer, desc models.Descriptor, messages []models.Message, params models.Parameters) {
	defer m.releaseSession(s)
	defer s.cancel()

	params.Stream = false
	text, err := provider.Generate(s.runCtx, desc.Name, messages, params)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			s.finish(sessionCancelled, nil)
			return
		}
		s.finish(sessionErrored, &serverFrame{
			Type:           "error",
			Error:          err.Error(),
			ConversationID: s.key.conversationID,
			ModelID:        desc.ID,
			SessionID:      s.id,
		})
		return
	}

	s.finish(sessionDone, &serverFrame{
		Type:           "result",
		Content:        chunkFrame(text),
		ConversationID: s.key.conversationID,
		ModelID:        desc.ID,
		SessionID:      s.id,
	})
	if s.key.conversationID != "" {
		m.persistAssistant(s.key.conversationID, desc.ID, text)
	}
}

// cancelSession cancels a running session addressed by session ID or by its
// slot key. Cancelling an unknown session is a no-op.
func (m *Main) cancelSession(frame clientFrame) {
	m.mu.Lock()
	var target *session
	for _, s := range m.active {
		if frame.SessionID != "" && s.id == frame.SessionID {
			target = s
			break
		}
		if frame.SessionID == "" &&
			s.key.conversationID == frame.ConversationID &&
			s.key.modelID == frame.ModelID {
			target = s
			break
		}
	}
	m.mu.Unlock()

	if target != nil {
		target.cancel()
	}
}
