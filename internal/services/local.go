package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MegaGrindStone/footballpedia/internal/models"
	bolt "go.etcd.io/bbolt"
)

// LocalConversationsKey is the fixed key the conversation list is stored under.
const LocalConversationsKey = "footballpedia_conversations"

var localBucket = []byte("local")

// LocalConversations keeps the conversation list as a single JSON array under a fixed key. It
// backs the sidebar when the remote store is unavailable and survives restarts.
type LocalConversations struct {
	db *bolt.DB
}

// NewLocalConversations opens (or creates) the local storage file at path.
func NewLocalConversations(path string) (LocalConversations, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return LocalConversations{}, fmt.Errorf("failed to open local storage: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(localBucket)
		return err
	})
	if err != nil {
		db.Close()
		return LocalConversations{}, fmt.Errorf("failed to create local bucket: %w", err)
	}

	return LocalConversations{db: db}, nil
}

// Close releases the storage file.
func (l LocalConversations) Close() error {
	return l.db.Close()
}

// Load returns the stored conversation list, or nil when nothing was saved yet.
func (l LocalConversations) Load(context.Context) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := l.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(localBucket).Get([]byte(LocalConversationsKey))
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &convs); err != nil {
			return fmt.Errorf("failed to unmarshal conversations: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return convs, nil
}

// Save overwrites the stored list with convs. An empty list is not written, so the previous list is
// kept.
func (l LocalConversations) Save(_ context.Context, convs []models.Conversation) error {
	if len(convs) == 0 {
		return nil
	}

	v, err := json.Marshal(convs)
	if err != nil {
		return fmt.Errorf("failed to marshal conversations: %w", err)
	}

	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(localBucket).Put([]byte(LocalConversationsKey), v)
	})
}
