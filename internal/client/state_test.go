package client_test

import (
	"slices"
	"testing"

	"github.com/gostudio/orchestra/internal/client"
	"github.com/gostudio/orchestra/internal/models"
)

func TestStateInterleavedModelStreams(t *testing.T) {
	s := client.NewState()
	s.Append("c1", models.TextMessage(models.RoleUser, "hi both"))

	// Two models stream concurrently; their chunks interleave.
	s.ApplyChunk("c1", "alpha", "Hello")
	s.ApplyChunk("c1", "beta", "Hey")
	s.ApplyChunk("c1", "alpha", " world")
	s.ApplyChunk("c1", "beta", " there")
	s.ApplyDone("c1", "alpha")
	s.ApplyDone("c1", "beta")

	msgs := s.Messages("c1")
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}
	if got := models.RenderParts(msgs[1].Parts); got != "Hello world" {
		t.Errorf("alpha message = %q, want %q", got, "Hello world")
	}
	if msgs[1].ModelID != "alpha" {
		t.Errorf("first assistant message modelId = %q, want alpha", msgs[1].ModelID)
	}
	if got := models.RenderParts(msgs[2].Parts); got != "Hey there" {
		t.Errorf("beta message = %q, want %q", got, "Hey there")
	}
}

func TestStateChunkAfterDoneOpensNewMessage(t *testing.T) {
	s := client.NewState()

	s.ApplyChunk("c1", "alpha", "first turn")
	s.ApplyDone("c1", "alpha")
	s.ApplyChunk("c1", "alpha", "second turn")

	msgs := s.Messages("c1")
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if got := models.RenderParts(msgs[1].Parts); got != "second turn" {
		t.Errorf("second message = %q, want %q", got, "second turn")
	}
}

func TestStateErrorClosesOpenMessage(t *testing.T) {
	s := client.NewState()

	s.ApplyChunk("c1", "alpha", "partial")
	s.ApplyError("c1", "alpha", "stream lost")

	msgs := s.Messages("c1")
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	rendered := models.RenderParts(msgs[0].Parts)
	if rendered != "partialError: stream lost" {
		t.Errorf("message = %q, want partial text plus error marker", rendered)
	}
	if got := s.Thinking("c1"); len(got) != 0 {
		t.Errorf("thinking = %v, want empty after error", got)
	}
}

func TestStateErrorWithoutOpenMessage(t *testing.T) {
	s := client.NewState()

	s.ApplyError("c1", "alpha", "refused")

	msgs := s.Messages("c1")
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	if got := models.RenderParts(msgs[0].Parts); got != "Error: refused" {
		t.Errorf("message = %q, want the standalone error", got)
	}
}

func TestStateThinking(t *testing.T) {
	s := client.NewState()

	s.ApplyChunk("c1", "alpha", "a")
	s.ApplyChunk("c1", "beta", "b")
	if got := s.Thinking("c1"); !slices.Contains(got, "alpha") || !slices.Contains(got, "beta") {
		t.Errorf("thinking = %v, want both models", got)
	}

	s.ApplyDone("c1", "alpha")
	if got := s.Thinking("c1"); len(got) != 1 || got[0] != "beta" {
		t.Errorf("thinking = %v, want [beta]", got)
	}
}

func TestStateEmptyModelIDMatchesAnyOpen(t *testing.T) {
	s := client.NewState()

	s.ApplyChunk("c1", "alpha", "start")
	s.ApplyChunk("c1", "", " end")
	s.ApplyDone("c1", "")

	msgs := s.Messages("c1")
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	if got := models.RenderParts(msgs[0].Parts); got != "start end" {
		t.Errorf("message = %q, want %q", got, "start end")
	}
}

func TestStateReset(t *testing.T) {
	s := client.NewState()
	s.ApplyChunk("c1", "alpha", "x")
	s.Reset("c1")
	if got := len(s.Messages("c1")); got != 0 {
		t.Errorf("messages after reset = %d, want 0", got)
	}
}
