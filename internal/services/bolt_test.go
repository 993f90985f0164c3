package services_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/gostudio/orchestra/internal/models"
	"github.com/gostudio/orchestra/internal/services"
)

func newTestDB(t *testing.T) services.BoltDB {
	t.Helper()
	db, err := services.NewBoltDB(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("NewBoltDB() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestBoltMessagesKeepInsertionOrderPastNine(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	convID, err := db.AddConversation(ctx, models.Conversation{ID: "conv", Title: "t"})
	if err != nil {
		t.Fatalf("AddConversation() error = %v", err)
	}

	// Unpadded sequence keys would sort 10 before 2 once the count
	// passes nine.
	const count = 12
	for i := 0; i < count; i++ {
		msg := models.TextMessage(models.RoleUser, fmt.Sprintf("message %02d", i))
		msg.ID = fmt.Sprintf("msg-%02d", i)
		if _, err := db.AddMessage(ctx, convID, msg); err != nil {
			t.Fatalf("AddMessage(%d) error = %v", i, err)
		}
	}

	messages, err := db.Messages(ctx, convID)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(messages) != count {
		t.Fatalf("len(messages) = %d, want %d", len(messages), count)
	}
	for i, msg := range messages {
		want := fmt.Sprintf("message %02d", i)
		if got := models.RenderParts(msg.Parts); got != want {
			t.Errorf("messages[%d] = %q, want %q", i, got, want)
		}
	}
}

func TestBoltConversationsListReverseChronologicalPastNine(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	const count = 12
	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		id, err := db.AddConversation(ctx, models.Conversation{
			ID:    fmt.Sprintf("conv-%02d", i),
			Title: fmt.Sprintf("title %02d", i),
		})
		if err != nil {
			t.Fatalf("AddConversation(%d) error = %v", i, err)
		}
		ids = append(ids, id)
	}

	conversations, err := db.Conversations(ctx)
	if err != nil {
		t.Fatalf("Conversations() error = %v", err)
	}
	if len(conversations) != count {
		t.Fatalf("len(conversations) = %d, want %d", len(conversations), count)
	}
	for i, conv := range conversations {
		if want := ids[count-1-i]; conv.ID != want {
			t.Errorf("conversations[%d].ID = %q, want %q", i, conv.ID, want)
		}
	}
}

func TestBoltMessageRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	convID, err := db.AddConversation(ctx, models.Conversation{ID: "conv", Title: "t"})
	if err != nil {
		t.Fatalf("AddConversation() error = %v", err)
	}

	msg := models.TextMessage(models.RoleAssistant, "hello")
	msg.ModelID = "alpha"
	if _, err := db.AddMessage(ctx, convID, msg); err != nil {
		t.Fatalf("AddMessage() error = %v", err)
	}

	messages, err := db.Messages(ctx, convID)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("len(messages) = %d, want 1", len(messages))
	}
	if messages[0].Role != models.RoleAssistant || messages[0].ModelID != "alpha" {
		t.Errorf("message = %+v, want assistant message from alpha", messages[0])
	}

	if _, err := db.AddMessage(ctx, "missing", msg); err == nil {
		t.Error("AddMessage() to a missing conversation should fail")
	}
}
