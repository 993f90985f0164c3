package models

import (
	"fmt"
	"strings"
	"time"
)

// Conversation is a container for an ordered list of messages. The
// orchestrator only ever reads conversations and appends messages to them;
// titles and lifecycle are managed through the HTTP API.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Message is a single entry in a conversation. An assistant message carries
// the ID of the model that produced it; a user message may carry a
// TargetModel hint addressing it to one specific model, which suppresses
// auto-respond chaining for that turn.
type Message struct {
	ID          string    `json:"id"`
	Role        Role      `json:"role"`
	Parts       []Part    `json:"content"`
	ModelID     string    `json:"modelId,omitempty"`
	TargetModel string    `json:"targetModel,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Part is one typed piece of message content.
type Part struct {
	Type PartType `json:"type"`

	// Text is filled for PartTypeText and PartTypeCode.
	Text string `json:"text,omitempty"`

	// Language is filled for PartTypeCode when the source fence named one.
	Language string `json:"language,omitempty"`

	// MimeType, FileName and FileData are filled for PartTypeImage.
	// FileData is base64, optionally with a data-URL prefix.
	MimeType string `json:"mimeType,omitempty"`
	FileName string `json:"fileName,omitempty"`
	FileData string `json:"fileData,omitempty"`
}

// Role represents the role of a message participant.
type Role string

// PartType represents the type of content in messages.
type PartType string

const (
	// RoleUser represents a user message.
	RoleUser Role = "user"
	// RoleAssistant represents a model-produced message.
	RoleAssistant Role = "assistant"
	// RoleSystem represents a system instruction message.
	RoleSystem Role = "system"

	// PartTypeText represents plain text content.
	PartTypeText PartType = "text"
	// PartTypeCode represents a fenced code block.
	PartTypeCode PartType = "code"
	// PartTypeImage represents inline image data.
	PartTypeImage PartType = "image"
)

// TextMessage builds a single-part text message.
func TextMessage(role Role, text string) Message {
	return Message{
		Role:      role,
		Parts:     []Part{{Type: PartTypeText, Text: text}},
		CreatedAt: time.Now(),
	}
}

// RenderParts flattens a slice of parts into one string, re-fencing code
// parts. Image parts are rendered as a short placeholder since the upstream
// adapters that need raw image bytes read the parts directly.
func RenderParts(parts []Part) string {
	var sb strings.Builder
	for _, part := range parts {
		switch part.Type {
		case PartTypeText:
			sb.WriteString(part.Text)
		case PartTypeCode:
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(fmt.Sprintf("```%s\n%s\n```\n", part.Language, strings.TrimRight(part.Text, "\n")))
		case PartTypeImage:
			sb.WriteString(fmt.Sprintf("[image: %s]", part.FileName))
		}
	}
	return sb.String()
}
