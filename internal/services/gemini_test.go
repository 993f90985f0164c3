package services_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gostudio/orchestra/internal/models"
	"github.com/gostudio/orchestra/internal/services"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func textEvent(text string) string {
	payload, _ := json.Marshal(map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": []map[string]string{{"text": text}}}},
		},
	})
	return fmt.Sprintf("data: %s\n\n", payload)
}

func sseServer(t *testing.T, events ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Error("response writer must support flushing")
			return
		}
		for _, ev := range events {
			fmt.Fprint(w, ev)
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func collectStream(t *testing.T, g services.Gemini) ([]string, []error) {
	t.Helper()
	msgs := []models.Message{models.TextMessage(models.RoleUser, "hi")}
	var chunks []string
	var errs []error
	for chunk, err := range g.Stream(context.Background(), "test-model", msgs, models.Parameters{}) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		chunks = append(chunks, chunk)
	}
	return chunks, errs
}

func TestGeminiStream(t *testing.T) {
	srv := sseServer(t,
		textEvent("Hello"),
		textEvent(" world"),
		"data: [DONE]\n\n",
		textEvent("after done, never delivered"),
	)
	g := services.NewGemini("test-key", srv.URL, testLogger())

	chunks, errs := collectStream(t, g)
	if len(errs) != 0 {
		t.Fatalf("stream errors = %v, want none", errs)
	}
	want := []string{"Hello", " world"}
	if len(chunks) != len(want) {
		t.Fatalf("chunks = %v, want %v", chunks, want)
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Errorf("chunk %d = %q, want %q", i, chunks[i], want[i])
		}
	}
}

func TestGeminiStreamSkipsMalformedEvents(t *testing.T) {
	srv := sseServer(t,
		textEvent("first"),
		"data: {this is not json}\n\n",
		textEvent("second"),
		"data: [DONE]\n\n",
	)
	g := services.NewGemini("test-key", srv.URL, testLogger())

	chunks, errs := collectStream(t, g)
	if len(errs) != 0 {
		t.Fatalf("stream errors = %v, want none", errs)
	}
	if len(chunks) != 2 || chunks[0] != "first" || chunks[1] != "second" {
		t.Errorf("chunks = %v, want the events around the malformed one", chunks)
	}
}

func TestGeminiStreamUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"API key not valid"}`, http.StatusBadRequest)
	}))
	defer srv.Close()
	g := services.NewGemini("bad-key", srv.URL, testLogger())

	chunks, errs := collectStream(t, g)
	if len(chunks) != 0 {
		t.Errorf("chunks = %v, want none", chunks)
	}
	if len(errs) != 1 {
		t.Fatalf("stream errors = %d, want 1", len(errs))
	}
	msg := errs[0].Error()
	if !strings.Contains(msg, "gemini API error (400)") {
		t.Errorf("error = %q, want it to carry the upstream status", msg)
	}
	if !strings.Contains(msg, "API key not valid") {
		t.Errorf("error = %q, want it to carry the upstream body", msg)
	}
}

func TestGeminiStreamStopsWhenConsumerBreaks(t *testing.T) {
	srv := sseServer(t,
		textEvent("one"),
		textEvent("two"),
		textEvent("three"),
		"data: [DONE]\n\n",
	)
	g := services.NewGemini("test-key", srv.URL, testLogger())

	var got []string
	msgs := []models.Message{models.TextMessage(models.RoleUser, "hi")}
	for chunk, err := range g.Stream(context.Background(), "m", msgs, models.Parameters{}) {
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, chunk)
		break
	}
	if len(got) != 1 || got[0] != "one" {
		t.Errorf("chunks = %v, want just the first", got)
	}
}

func TestGeminiGenerate(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]string{
					{"text": "part one"},
					{"text": " and two"},
				}}},
			},
		})
	}))
	defer srv.Close()
	g := services.NewGemini("test-key", srv.URL, testLogger())

	msgs := []models.Message{models.TextMessage(models.RoleUser, "hi")}
	text, err := g.Generate(context.Background(), "test-model", msgs, models.Parameters{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if text != "part one and two" {
		t.Errorf("Generate() = %q, want the concatenated parts", text)
	}
	if !strings.Contains(gotPath, "test-model") {
		t.Errorf("request path = %q, want it to address the model", gotPath)
	}
}

func TestGeminiGenerateNoCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[]}`)
	}))
	defer srv.Close()
	g := services.NewGemini("test-key", srv.URL, testLogger())

	msgs := []models.Message{models.TextMessage(models.RoleUser, "hi")}
	if _, err := g.Generate(context.Background(), "m", msgs, models.Parameters{}); err == nil {
		t.Error("Generate() should fail when the response has no candidates")
	}
}

func TestGeminiTransportErrorHidesKey(t *testing.T) {
	// Port 1 is never listening; client.Do fails before any response and
	// the raw url.Error would carry the full request URL, key included.
	g := services.NewGemini("secret-key-12345", "http://127.0.0.1:1", testLogger())
	msgs := []models.Message{models.TextMessage(models.RoleUser, "hi")}

	_, errs := collectStream(t, g)
	if len(errs) != 1 {
		t.Fatalf("stream errors = %v, want exactly one transport error", errs)
	}
	if strings.Contains(errs[0].Error(), "secret-key-12345") {
		t.Errorf("stream error leaks the API key: %q", errs[0])
	}

	_, err := g.Generate(context.Background(), "m", msgs, models.Parameters{})
	if err == nil {
		t.Fatal("Generate() should fail against a closed port")
	}
	if strings.Contains(err.Error(), "secret-key-12345") {
		t.Errorf("generate error leaks the API key: %q", err)
	}
}
