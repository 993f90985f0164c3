package services

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/gostudio/orchestra/internal/models"
	bolt "go.etcd.io/bbolt"
)

// BoltDB implements the hub.Store interface using a BoltDB backend for
// persistent storage of conversations and messages. Conversations live in
// one bucket; each conversation's messages live in a dedicated bucket so
// appends stay ordered by insertion sequence.
type BoltDB struct {
	db *bolt.DB
}

// NewBoltDB creates a new BoltDB instance with the specified file path. It
// initializes the database with required buckets and returns an error if the
// database cannot be opened or initialized. The database file is created
// with 0600 permissions if it doesn't exist.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte("conversations"))
		return err
	})

	return BoltDB{db: db}, err
}

func messageBucketName(conversationID string) []byte {
	return []byte(fmt.Sprintf("conversation-%s", conversationID))
}

// Conversations retrieves all stored conversations in reverse chronological
// order of creation.
func (b BoltDB) Conversations(context.Context) ([]models.Conversation, error) {
	var conversations []models.Conversation
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte("conversations"))
		if bkt == nil {
			return nil
		}

		return bkt.ForEach(func(_, v []byte) error {
			var conv models.Conversation
			if err := json.Unmarshal(v, &conv); err != nil {
				return fmt.Errorf("failed to unmarshal conversation: %w", err)
			}
			conversations = append(conversations, conv)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(conversations)
	return conversations, nil
}

// AddConversation stores a new conversation and creates its message bucket.
// It generates a unique ID by prefixing the conversation's original ID with
// a zero-padded sequence number, so lexicographic bucket order matches
// insertion order, and returns the new ID.
func (b BoltDB) AddConversation(_ context.Context, conv models.Conversation) (string, error) {
	var newID string
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte("conversations"))
		if bkt == nil {
			return nil
		}

		idPrefix, err := bkt.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}
		newID = fmt.Sprintf("%020d-%s", idPrefix, conv.ID)
		conv.ID = newID

		if _, err := tx.CreateBucketIfNotExists(messageBucketName(conv.ID)); err != nil {
			return fmt.Errorf("failed to create message bucket: %w", err)
		}

		v, err := json.Marshal(conv)
		if err != nil {
			return fmt.Errorf("failed to marshal conversation: %w", err)
		}

		return bkt.Put([]byte(newID), v)
	})

	return newID, err
}

// Conversation retrieves one conversation by ID. The second return value
// reports whether it exists.
func (b BoltDB) Conversation(_ context.Context, id string) (models.Conversation, bool, error) {
	var conv models.Conversation
	found := false
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte("conversations"))
		if bkt == nil {
			return nil
		}

		v := bkt.Get([]byte(id))
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &conv); err != nil {
			return fmt.Errorf("failed to unmarshal conversation: %w", err)
		}
		found = true
		return nil
	})
	return conv, found, err
}

// UpdateConversation modifies an existing conversation. If it doesn't
// exist, the operation is silently ignored.
func (b BoltDB) UpdateConversation(_ context.Context, conv models.Conversation) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte("conversations"))
		if bkt == nil {
			return nil
		}

		if v := bkt.Get([]byte(conv.ID)); v == nil {
			return nil
		}

		v, err := json.Marshal(conv)
		if err != nil {
			return fmt.Errorf("failed to marshal conversation: %w", err)
		}

		return bkt.Put([]byte(conv.ID), v)
	})
}

// Messages retrieves all messages of the specified conversation in their
// stored order.
func (b BoltDB) Messages(_ context.Context, conversationID string) ([]models.Message, error) {
	var messages []models.Message
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(messageBucketName(conversationID))
		if bkt == nil {
			return nil
		}

		return bkt.ForEach(func(_, v []byte) error {
			var message models.Message
			if err := json.Unmarshal(v, &message); err != nil {
				return fmt.Errorf("failed to unmarshal message: %w", err)
			}
			messages = append(messages, message)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// AddMessage appends a message to the specified conversation's bucket. It
// generates a unique ID by prefixing the message's original ID with a
// zero-padded sequence number, so lexicographic bucket order matches
// insertion order, and returns the new ID.
func (b BoltDB) AddMessage(_ context.Context, conversationID string, message models.Message) (string, error) {
	var newID string
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(messageBucketName(conversationID))
		if bkt == nil {
			return fmt.Errorf("conversation %s not found", conversationID)
		}

		idPrefix, err := bkt.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}
		newID = fmt.Sprintf("%020d-%s", idPrefix, message.ID)
		message.ID = newID

		v, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}

		return bkt.Put([]byte(newID), v)
	})

	return newID, err
}

// Close releases the underlying database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}
