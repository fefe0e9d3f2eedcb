package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/MegaGrindStone/footballpedia/internal/models"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// HandleChats sends a user question to the chat client of the requesting browser. It accepts the
// question through the "message" form field.
//
// The first question of a session creates a conversation titled after it and refreshes the sidebar.
// The user message is stored right away, the assistant reply is streamed through the session's SSE
// stream and stored by the chat client once complete.
//
// The handler answers 400 for a blank question and 409 while the previous reply is still streaming. On
// success it renders the user message.
func (m Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	msg := r.FormValue("message")
	if strings.TrimSpace(msg) == "" {
		m.logger.Error("Message is required")
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}

	s := m.session(w, r)
	if !s.claim() {
		http.Error(w, "A reply is still streaming", http.StatusConflict)
		return
	}
	started := false
	defer func() {
		if !started {
			s.release()
		}
	}()

	convID := s.client.Conversation()
	if convID == "" {
		conv := models.Conversation{
			ID:        uuid.New().String(),
			Title:     models.ConversationTitle(msg),
			UserID:    s.id,
			CreatedAt: time.Now(),
		}
		if err := m.addConversation(r.Context(), conv); err != nil {
			m.logger.Error("Failed to create conversation", slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		convID = conv.ID
		s.client.SetConversation(convID, s.id)
		m.publishConversations(r.Context(), s.id, convID)
	}

	um := models.Message{
		ConversationID: convID,
		UserID:         s.id,
		Role:           models.RoleUser,
		Content:        msg,
		CreatedAt:      time.Now(),
	}
	if m.store != nil {
		if _, err := m.store.AddMessage(r.Context(), um); err != nil {
			m.logger.Error("Failed to add user message",
				slog.String("message", fmt.Sprintf("%+v", um)),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	s.send(msg)
	started = true

	if err := m.templates.ExecuteTemplate(w, "user_message", messageView{
		Role:    string(um.Role),
		Content: um.Content,
	}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleNewConversation clears the message list of the requesting browser and detaches it from its
// conversation. A reply still streaming is abandoned.
func (m Main) HandleNewConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s := m.session(w, r)
	s.reset("", nil)
	m.publishConversations(r.Context(), s.id, "")

	w.WriteHeader(http.StatusNoContent)
}

// HandleDeleteConversation deletes the conversation named by the "conversation_id" form field together
// with its messages. Deleting the current conversation behaves like starting a new one.
func (m Main) HandleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	convID := r.FormValue("conversation_id")
	if convID == "" {
		http.Error(w, "Conversation ID is required", http.StatusBadRequest)
		return
	}

	s := m.session(w, r)

	convs, err := m.userConversations(r.Context(), s.id)
	if err != nil {
		m.logger.Error("Failed to get conversations", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !slices.ContainsFunc(convs, func(c models.Conversation) bool { return c.ID == convID }) {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	}

	if s.client.Conversation() == convID {
		s.reset("", nil)
	}

	if err := m.deleteConversation(r.Context(), convID); err != nil {
		m.logger.Error("Failed to delete conversation",
			slog.String("conversationID", convID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	m.publishConversations(r.Context(), s.id, s.client.Conversation())

	w.WriteHeader(http.StatusNoContent)
}

func (m Main) publishConversations(ctx context.Context, userID, activeID string) {
	divs, err := m.conversationDivs(ctx, userID, activeID)
	if err != nil {
		m.logger.Error("Failed to render conversations", slog.String(errLoggerKey, err.Error()))
		return
	}

	msg := &sse.Message{Type: chatsSSEType}
	msg.AppendData(divs)
	if err := m.sseSrv.Publish(msg, sessionTopic(userID)); err != nil {
		m.logger.Error("Failed to publish conversations", slog.String(errLoggerKey, err.Error()))
	}
}

func (m Main) conversationDivs(ctx context.Context, userID, activeID string) (string, error) {
	convs, err := m.userConversations(ctx, userID)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, "chat_list", conversationViews(convs, activeID)); err != nil {
		return "", fmt.Errorf("failed to execute chat_list template: %w", err)
	}
	return sb.String(), nil
}
