package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gostudio/orchestra/internal/models"
	"nhooyr.io/websocket"
)

const reconnectDelay = 2 * time.Second

// Frame is one message on the wire, in either direction.
type Frame struct {
	Type           string        `json:"type"`
	Model          string        `json:"model,omitempty"`
	ModelID        string        `json:"modelId,omitempty"`
	TargetModel    string        `json:"targetModel,omitempty"`
	ConversationID string        `json:"conversationId,omitempty"`
	SessionID      string        `json:"sessionId,omitempty"`
	Content        *FrameContent `json:"content,omitempty"`
	Error          string        `json:"error,omitempty"`
	Count          *int          `json:"count,omitempty"`
	Text           string        `json:"text,omitempty"`
	Timestamp      int64         `json:"timestamp,omitempty"`
	Echo           int64         `json:"echo,omitempty"`
	Stream         *bool         `json:"stream,omitempty"`
	Messages       []WireMessage `json:"messages,omitempty"`
}

// FrameContent carries streamed content parts.
type FrameContent struct {
	Parts []FramePart `json:"parts"`
}

// FramePart is one streamed content part.
type FramePart struct {
	Text string `json:"text"`
}

// WireMessage is the inline message shape for generation requests.
type WireMessage struct {
	Role    models.Role   `json:"role"`
	Content []models.Part `json:"content"`
}

// Conn maintains a websocket connection to the orchestrator, redialing
// after a fixed delay whenever the link drops. Server pings are answered
// automatically; every other frame goes to the onFrame callback.
type Conn struct {
	url     string
	logger  *slog.Logger
	onFrame func(Frame)

	mu     sync.Mutex
	sock   *websocket.Conn
	closed bool
}

// NewConn builds a connection manager for the given websocket URL. Run must
// be called to start it.
func NewConn(url string, logger *slog.Logger, onFrame func(Frame)) *Conn {
	return &Conn{
		url:     url,
		logger:  logger.With(slog.String("module", "client")),
		onFrame: onFrame,
	}
}

// Run dials and serves the connection until ctx is cancelled or Close is
// called, redialing on every failure.
func (c *Conn) Run(ctx context.Context) {
	for {
		if err := c.serve(ctx); err != nil {
			c.logger.Debug("Connection ended", slog.String("err", err.Error()))
		}

		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (c *Conn) serve(ctx context.Context) error {
	sock, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return sock.Close(websocket.StatusNormalClosure, "")
	}
	c.sock = sock
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.sock = nil
		c.mu.Unlock()
		_ = sock.CloseNow()
	}()

	for {
		_, data, err := sock.Read(ctx)
		if err != nil {
			return err
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Debug("Skipping unparseable frame", slog.String("err", err.Error()))
			continue
		}

		if frame.Type == "ping" {
			_ = c.Send(ctx, Frame{Type: "pong", Timestamp: frame.Timestamp})
			continue
		}
		if c.onFrame != nil {
			c.onFrame(frame)
		}
	}
}

// Send marshals and writes one frame. It fails when no connection is
// currently up; the caller decides whether to retry after the redial.
func (c *Conn) Send(ctx context.Context, frame Frame) error {
	c.mu.Lock()
	sock := c.sock
	c.mu.Unlock()
	if sock == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return sock.Write(ctx, websocket.MessageText, data)
}

// Close stops the redial loop and tears down the current connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.closed = true
	sock := c.sock
	c.sock = nil
	c.mu.Unlock()

	if sock != nil {
		return sock.Close(websocket.StatusNormalClosure, "client shutdown")
	}
	return nil
}
