package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/MegaGrindStone/footballpedia/internal/models"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLite implements the conversation Store on top of a SQLite database. It mirrors the hosted
// chat tables: conversations and messages are rows owned by a user, and deleting a conversation
// cascades to its messages.
type SQLite struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chat_conversations (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS chat_messages (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL REFERENCES chat_conversations(id) ON DELETE CASCADE,
    user_id TEXT NOT NULL DEFAULT '',
    role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
    content TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chat_conversations_user ON chat_conversations(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_chat_messages_conversation ON chat_messages(conversation_id, created_at);
`

// NewSQLite opens the database at path, creating the file and schema when needed.
func NewSQLite(path string) (SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return SQLite{}, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return SQLite{}, fmt.Errorf("open database: %w", err)
	}
	// Assistant replies are saved from background goroutines; one writer avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return SQLite{}, fmt.Errorf("initialize schema: %w", err)
	}

	return SQLite{db: db}, nil
}

// Close closes the database.
func (s SQLite) Close() error {
	return s.db.Close()
}

func orderSQL(order models.Order) string {
	if order == models.OrderDescending {
		return "DESC"
	}
	return "ASC"
}

// Conversations returns the conversations of userID sorted by creation time. An empty userID lists
// the conversations of every user.
func (s SQLite) Conversations(ctx context.Context, userID string, order models.Order) ([]models.Conversation, error) {
	dir := orderSQL(order)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, created_at FROM chat_conversations
		 WHERE ? = '' OR user_id = ?
		 ORDER BY created_at `+dir+`, rowid `+dir,
		userID, userID)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var convs []models.Conversation
	for rows.Next() {
		var conv models.Conversation
		var createdAt int64
		if err := rows.Scan(&conv.ID, &conv.UserID, &conv.Title, &createdAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conv.CreatedAt = time.Unix(0, createdAt)
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// AddConversation inserts a new conversation row.
func (s SQLite) AddConversation(ctx context.Context, conv models.Conversation) error {
	if conv.ID == "" {
		return errors.New("conversation id is required")
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_conversations (id, user_id, title, created_at) VALUES (?, ?, ?, ?)`,
		conv.ID, conv.UserID, conv.Title, conv.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// DeleteConversation removes the conversation; its messages go with it through the foreign key.
func (s SQLite) DeleteConversation(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_conversations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// Messages returns the messages of a conversation sorted by creation time.
func (s SQLite) Messages(ctx context.Context, conversationID string, order models.Order) ([]models.Message, error) {
	dir := orderSQL(order)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, user_id, role, content, created_at FROM chat_messages
		 WHERE conversation_id = ?
		 ORDER BY created_at `+dir+`, rowid `+dir,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var msg models.Message
		var role string
		var createdAt int64
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.UserID, &role, &msg.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = models.Role(role)
		msg.CreatedAt = time.Unix(0, createdAt)
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// AddMessage inserts a message row and returns its ID. A message for an unknown conversation is
// rejected by the foreign key.
func (s SQLite) AddMessage(ctx context.Context, msg models.Message) (string, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, conversation_id, user_id, role, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.UserID, string(msg.Role), msg.Content, msg.CreatedAt.UnixNano())
	if err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}
	return msg.ID, nil
}

// AppendAssistantMessage stores the final reply of a stream as an assistant message.
func (s SQLite) AppendAssistantMessage(ctx context.Context, conversationID, userID, content string) error {
	_, err := s.AddMessage(ctx, models.Message{
		ConversationID: conversationID,
		UserID:         userID,
		Role:           models.RoleAssistant,
		Content:        content,
	})
	return err
}
