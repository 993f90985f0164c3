package hub

import "github.com/gostudio/orchestra/internal/models"

// clientFrame is one inbound websocket message. The Type field selects which
// of the remaining fields are meaningful; unknown fields are ignored so old
// clients keep working.
type clientFrame struct {
	Type           string             `json:"type"`
	Model          string             `json:"model,omitempty"`
	ModelID        string             `json:"modelId,omitempty"`
	TargetModel    string             `json:"targetModel,omitempty"`
	ConversationID string             `json:"conversationId,omitempty"`
	Messages       []wireMessage      `json:"messages,omitempty"`
	Parameters     *models.Parameters `json:"parameters,omitempty"`
	Stream         *bool              `json:"stream,omitempty"`
	Text           string             `json:"text,omitempty"`
	Timestamp      int64              `json:"timestamp,omitempty"`
	SessionID      string             `json:"sessionId,omitempty"`
}

// wireMessage is the inline message shape clients send with a generation
// request when they hold unsaved history.
type wireMessage struct {
	Role    models.Role   `json:"role"`
	Content []models.Part `json:"content"`
}

func (w wireMessage) toMessage() models.Message {
	return models.Message{Role: w.Role, Parts: w.Content}
}

// serverFrame is one outbound websocket message.
type serverFrame struct {
	Type           string        `json:"type"`
	Content        *frameContent `json:"content,omitempty"`
	ConversationID string        `json:"conversationId,omitempty"`
	ModelID        string        `json:"modelId,omitempty"`
	SessionID      string        `json:"sessionId,omitempty"`
	Error          string        `json:"error,omitempty"`
	Count          *int          `json:"count,omitempty"`
	Timestamp      int64         `json:"timestamp,omitempty"`
	Echo           int64         `json:"echo,omitempty"`
}

type frameContent struct {
	Parts []framePart `json:"parts"`
}

type framePart struct {
	Text string `json:"text"`
}

func chunkFrame(text string) *frameContent {
	return &frameContent{Parts: []framePart{{Text: text}}}
}

func errorFrame(msg string) serverFrame {
	return serverFrame{Type: "error", Error: msg}
}
