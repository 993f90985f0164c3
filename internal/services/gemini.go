package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gostudio/orchestra/internal/models"
	"github.com/tmaxmax/go-sse"
)

// Gemini provides an implementation of the Streamer interface for the
// primary hosted API. Streaming responses arrive as server-sent events; the
// adapter normalizes each event into one text chunk.
type Gemini struct {
	apiKey  string
	baseURL string

	client *http.Client

	logger *slog.Logger
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopK            int     `json:"topK,omitempty"`
	TopP            float64 `json:"topP,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

const geminiAPIEndpoint = "https://generativelanguage.googleapis.com/v1"

// NewGemini creates a new Gemini instance with the specified API key. The
// base URL defaults to the hosted endpoint and can be overridden for tests.
func NewGemini(apiKey, baseURL string, logger *slog.Logger) Gemini {
	if baseURL == "" {
		baseURL = geminiAPIEndpoint
	}
	return Gemini{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{},
		logger:  logger.With(slog.String("module", "gemini")),
	}
}

// stripDataURL removes a leading "data:<mime>;base64," prefix so clients may
// submit either raw base64 or full data URLs.
func stripDataURL(data string) string {
	if !strings.HasPrefix(data, "data:") {
		return data
	}
	if idx := strings.Index(data, ";base64,"); idx != -1 {
		return data[idx+len(";base64,"):]
	}
	return data
}

func geminiParts(parts []models.Part) []geminiPart {
	out := make([]geminiPart, 0, len(parts))
	for _, part := range parts {
		switch part.Type {
		case models.PartTypeText, models.PartTypeCode:
			out = append(out, geminiPart{Text: part.Text})
		case models.PartTypeImage:
			if part.FileData == "" || part.MimeType == "" {
				continue
			}
			out = append(out, geminiPart{InlineData: &geminiInlineData{
				MimeType: part.MimeType,
				Data:     stripDataURL(part.FileData),
			}})
		}
	}
	return out
}

// geminiContents converts message history to the provider's wire format.
// System messages are hoisted into the request-level system instruction,
// and the assistant role maps to the provider's "model" role.
func geminiContents(messages []models.Message, systemInstructions string) ([]geminiContent, *geminiContent) {
	var system []string
	if systemInstructions != "" {
		system = append(system, systemInstructions)
	}

	contents := make([]geminiContent, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			system = append(system, models.RenderParts(msg.Parts))
			continue
		}
		role := string(msg.Role)
		if msg.Role == models.RoleAssistant {
			role = "model"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: geminiParts(msg.Parts),
		})
	}

	var instruction *geminiContent
	if len(system) > 0 {
		instruction = &geminiContent{
			Parts: []geminiPart{{Text: strings.Join(system, "\n\n")}},
		}
	}
	return contents, instruction
}

// chunkText concatenates the first candidate's text parts into one chunk.
// A response without candidates or text yields an empty string.
func chunkText(res geminiResponse) string {
	if len(res.Candidates) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, part := range res.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String()
}

// Stream opens a streaming generation request and yields normalized text
// chunks. The sequence is lazy, finite and non-restartable. A single event
// that fails to parse is logged and skipped; it never aborts the stream.
// The literal "[DONE]" data is a terminal signal. A non-2xx initial response
// yields a single error carrying the upstream status code and body verbatim.
func (g Gemini) Stream(
	ctx context.Context,
	model string,
	messages []models.Message,
	params models.Parameters,
) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		resp, err := g.doRequest(ctx, "streamGenerateContent?alt=sse&", model, messages, params)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield("", err)
			return
		}
		defer resp.Body.Close()

		for ev, err := range sse.Read(resp.Body, nil) {
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				yield("", fmt.Errorf("error reading response: %w", err))
				return
			}

			if ev.Data == "[DONE]" {
				return
			}

			var res geminiResponse
			if err := json.Unmarshal([]byte(ev.Data), &res); err != nil {
				g.logger.Warn("Skipping unparseable stream event",
					slog.String("data", ev.Data),
					slog.String("err", err.Error()))
				continue
			}

			text := chunkText(res)
			if text == "" {
				continue
			}
			if !yield(text, nil) {
				return
			}
		}
	}
}

// Generate performs a non-streaming generation request and returns the
// first candidate's concatenated text.
func (g Gemini) Generate(
	ctx context.Context,
	model string,
	messages []models.Message,
	params models.Parameters,
) (string, error) {
	resp, err := g.doRequest(ctx, "generateContent?", model, messages, params)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var res geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("error decoding response: %w", err)
	}

	if len(res.Candidates) == 0 {
		return "", errors.New("no candidates in response")
	}

	return chunkText(res), nil
}

func (g Gemini) doRequest(
	ctx context.Context,
	operation string,
	model string,
	messages []models.Message,
	params models.Parameters,
) (*http.Response, error) {
	contents, instruction := geminiContents(messages, params.SystemInstructions)

	reqBody := geminiRequest{
		Contents: contents,
		GenerationConfig: geminiGenerationConfig{
			Temperature:     params.Temperature,
			TopK:            params.TopK,
			TopP:            params.TopP,
			MaxOutputTokens: params.MaxOutputTokens,
		},
		SystemInstruction: instruction,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:%skey=%s", g.baseURL, model, operation, g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		// url.Error repeats the full request URL, API key included.
		// Surface only the underlying cause.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("gemini API error (%d): %s", resp.StatusCode, string(body))
	}

	return resp, nil
}
