package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"slices"

	"github.com/gostudio/orchestra/internal/models"
	"github.com/ollama/ollama/api"
)

// Ollama provides an implementation of the Streamer interface for models
// served by a local Ollama host.
type Ollama struct {
	host string

	client *api.Client

	logger *slog.Logger
}

// NewOllama creates a new Ollama instance pointed at the given host URL.
func NewOllama(host string, logger *slog.Logger) (Ollama, error) {
	u, err := url.Parse(host)
	if err != nil {
		return Ollama{}, fmt.Errorf("invalid ollama host: %w", err)
	}

	return Ollama{
		host:   host,
		client: api.NewClient(u, &http.Client{}),
		logger: logger.With(slog.String("module", "ollama")),
	}, nil
}

func ollamaMessages(messages []models.Message, systemInstructions string) []api.Message {
	msgs := make([]api.Message, 0, len(messages)+1)
	for _, msg := range messages {
		msgs = append(msgs, api.Message{
			Role:    string(msg.Role),
			Content: models.RenderParts(msg.Parts),
		})
	}
	if systemInstructions != "" {
		msgs = slices.Insert(msgs, 0, api.Message{
			Role:    "system",
			Content: systemInstructions,
		})
	}
	return msgs
}

func ollamaOptions(params models.Parameters) map[string]any {
	return map[string]any{
		"temperature": params.Temperature,
		"top_k":       params.TopK,
		"top_p":       params.TopP,
		"num_predict": params.MaxOutputTokens,
	}
}

// Stream streams a chat completion from the local host, yielding one text
// chunk per response received.
func (o Ollama) Stream(
	ctx context.Context,
	model string,
	messages []models.Message,
	params models.Parameters,
) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		t := true
		req := api.ChatRequest{
			Model:    model,
			Messages: ollamaMessages(messages, params.SystemInstructions),
			Stream:   &t,
			Options:  ollamaOptions(params),
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stopped := false
		if err := o.client.Chat(ctx, &req, func(res api.ChatResponse) error {
			if stopped || res.Message.Content == "" {
				return nil
			}
			if !yield(res.Message.Content, nil) {
				stopped = true
				cancel()
			}
			return nil
		}); err != nil {
			if stopped || errors.Is(err, context.Canceled) {
				return
			}
			yield("", fmt.Errorf("error sending request: %w", err))
		}
	}
}

// Generate performs a non-streaming chat completion against the local host.
func (o Ollama) Generate(
	ctx context.Context,
	model string,
	messages []models.Message,
	params models.Parameters,
) (string, error) {
	f := false
	req := api.ChatRequest{
		Model:    model,
		Messages: ollamaMessages(messages, params.SystemInstructions),
		Stream:   &f,
		Options:  ollamaOptions(params),
	}

	var out string
	if err := o.client.Chat(ctx, &req, func(res api.ChatResponse) error {
		out = res.Message.Content
		return nil
	}); err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}

	return out, nil
}
