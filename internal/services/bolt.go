package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MegaGrindStone/footballpedia/internal/models"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// BoltDB implements the conversation Store using a BoltDB backend. Conversations live in a single
// bucket keyed by ID, and every conversation owns a bucket of messages keyed by insertion sequence.
type BoltDB struct {
	db *bolt.DB
}

var conversationsBucket = []byte("conversations")

// ErrConversationNotFound is returned when a message is added to a conversation that doesn't exist.
var ErrConversationNotFound = errors.New("conversation not found")

// NewBoltDB creates a new BoltDB instance with the specified file path. It initializes the database
// with required buckets and returns an error if the database cannot be opened or initialized. The
// database file is created with 0600 permissions if it doesn't exist.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(conversationsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return BoltDB{}, fmt.Errorf("failed to create buckets: %w", err)
	}

	return BoltDB{db: db}, nil
}

func messageBucketName(conversationID string) []byte {
	return []byte(fmt.Sprintf("conversation-%s", conversationID))
}

// Close releases the database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}

// Conversations returns the conversations of userID sorted by creation time. An empty userID lists
// the conversations of every user.
func (b BoltDB) Conversations(_ context.Context, userID string, order models.Order) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(conversationsBucket).ForEach(func(_, v []byte) error {
			var conv models.Conversation
			if err := json.Unmarshal(v, &conv); err != nil {
				return fmt.Errorf("failed to unmarshal conversation: %w", err)
			}
			if userID != "" && conv.UserID != userID {
				return nil
			}
			convs = append(convs, conv)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	models.SortConversations(convs, order)
	return convs, nil
}

// AddConversation stores a new conversation and creates its message bucket.
func (b BoltDB) AddConversation(_ context.Context, conv models.Conversation) error {
	if conv.ID == "" {
		return errors.New("conversation id is required")
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(messageBucketName(conv.ID)); err != nil {
			return fmt.Errorf("failed to create message bucket: %w", err)
		}

		v, err := json.Marshal(conv)
		if err != nil {
			return fmt.Errorf("failed to marshal conversation: %w", err)
		}

		return tx.Bucket(conversationsBucket).Put([]byte(conv.ID), v)
	})
}

// DeleteConversation removes the conversation together with all of its messages. Deleting an
// unknown conversation is not an error.
func (b BoltDB) DeleteConversation(_ context.Context, id string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(conversationsBucket).Delete([]byte(id)); err != nil {
			return fmt.Errorf("failed to delete conversation: %w", err)
		}

		err := tx.DeleteBucket(messageBucketName(id))
		if err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
		return nil
	})
}

// Messages retrieves the messages of the specified conversation sorted by creation time.
func (b BoltDB) Messages(_ context.Context, conversationID string, order models.Order) ([]models.Message, error) {
	var messages []models.Message
	err := b.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(messageBucketName(conversationID))
		if b == nil {
			return nil
		}

		return b.ForEach(func(_, v []byte) error {
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

	models.SortMessages(messages, order)
	return messages, nil
}

// AddMessage stores a message in its conversation's bucket. Missing IDs and timestamps are filled
// in, and the stored ID is returned.
func (b BoltDB) AddMessage(_ context.Context, message models.Message) (string, error) {
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(messageBucketName(message.ConversationID))
		if b == nil {
			return fmt.Errorf("%w: %s", ErrConversationNotFound, message.ConversationID)
		}

		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}

		v, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}

		// Zero padded keys keep ForEach in insertion order.
		return b.Put([]byte(fmt.Sprintf("%020d", seq)), v)
	})
	if err != nil {
		return "", err
	}

	return message.ID, nil
}

// AppendAssistantMessage stores the final reply of a stream as an assistant message.
func (b BoltDB) AppendAssistantMessage(ctx context.Context, conversationID, userID, content string) error {
	_, err := b.AddMessage(ctx, models.Message{
		ConversationID: conversationID,
		UserID:         userID,
		Role:           models.RoleAssistant,
		Content:        content,
	})
	return err
}
