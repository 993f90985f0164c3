package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"slices"

	"github.com/gostudio/orchestra/internal/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// Publisher provides an implementation of the Streamer interface for
// hosted-publisher models exposed through an OpenAI-compatible
// chat-completions endpoint.
type Publisher struct {
	client *goopenai.Client

	logger *slog.Logger
}

// NewPublisher creates a new Publisher instance with the specified API key
// and endpoint base URL. An empty base URL uses the library default.
func NewPublisher(apiKey, baseURL string, logger *slog.Logger) Publisher {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return Publisher{
		client: goopenai.NewClientWithConfig(cfg),
		logger: logger.With(slog.String("module", "publisher")),
	}
}

func publisherMessages(messages []models.Message, systemInstructions string) []goopenai.ChatCompletionMessage {
	msgs := make([]goopenai.ChatCompletionMessage, 0, len(messages)+1)
	for _, msg := range messages {
		content := models.RenderParts(msg.Parts)
		if content == "" {
			continue
		}
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: content,
		})
	}
	if systemInstructions != "" {
		msgs = slices.Insert(msgs, 0, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: systemInstructions,
		})
	}
	return msgs
}

func (p Publisher) chatRequest(
	model string,
	messages []goopenai.ChatCompletionMessage,
	params models.Parameters,
	stream bool,
) goopenai.ChatCompletionRequest {
	return goopenai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Stream:      stream,
		Temperature: float32(params.Temperature),
		TopP:        float32(params.TopP),
		MaxTokens:   params.MaxOutputTokens,
	}
}

// Stream is a wrapper around the publisher's streaming chat completion API.
// It yields one normalized text chunk per delta received.
func (p Publisher) Stream(
	ctx context.Context,
	model string,
	messages []models.Message,
	params models.Parameters,
) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		req := p.chatRequest(model, publisherMessages(messages, params.SystemInstructions), params, true)

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stream, err := p.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield("", fmt.Errorf("error sending request: %w", err))
			return
		}
		defer stream.Close()

		for {
			response, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				if errors.Is(err, context.Canceled) {
					return
				}
				yield("", fmt.Errorf("error receiving response: %w", err))
				return
			}

			if len(response.Choices) == 0 {
				continue
			}

			if text := response.Choices[0].Delta.Content; text != "" {
				if !yield(text, nil) {
					return
				}
			}
		}
	}
}

// Generate is a wrapper around the publisher's non-streaming chat
// completion API.
func (p Publisher) Generate(
	ctx context.Context,
	model string,
	messages []models.Message,
	params models.Parameters,
) (string, error) {
	req := p.chatRequest(model, publisherMessages(messages, params.SystemInstructions), params, false)

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("no choices found")
	}

	return resp.Choices[0].Message.Content, nil
}
