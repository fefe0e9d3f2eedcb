package handlers

import (
	"log/slog"
	"net/http"
	"slices"

	"github.com/MegaGrindStone/footballpedia/internal/models"
)

type conversationView struct {
	ID    string
	Title string

	Active bool
}

type messagesData struct {
	Messages    []messageView
	Busy        bool
	Suggestions []string
}

type homePageData struct {
	CurrentConversationID string
	Conversations         []conversationView
	Messages              []messageView
	Busy                  bool
	Suggestions           []string
}

var suggestions = []string{
	"Who won the 2018 World Cup?",
	"Tell me about Lionel Messi",
	"Explain the offside rule",
	"Top scorers in Premier League",
}

// HandleHome renders the chat page of the requesting browser. The conversation_id query parameter
// switches the session to a stored conversation and restores its messages.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s := m.session(w, r)

	convs, err := m.userConversations(r.Context(), s.id)
	if err != nil {
		m.logger.Error("Failed to get conversations", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if convID := r.URL.Query().Get("conversation_id"); convID != "" && convID != s.client.Conversation() {
		if !slices.ContainsFunc(convs, func(c models.Conversation) bool { return c.ID == convID }) {
			http.Error(w, "Conversation not found", http.StatusNotFound)
			return
		}

		var messages []models.Message
		if m.store != nil {
			messages, err = m.store.Messages(r.Context(), convID, models.OrderAscending)
			if err != nil {
				m.logger.Error("Failed to get messages",
					slog.String("conversationID", convID),
					slog.String(errLoggerKey, err.Error()))
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}
		s.reset(convID, messages)
	}

	currentID := s.client.Conversation()
	data := homePageData{
		CurrentConversationID: currentID,
		Conversations:         conversationViews(convs, currentID),
		Messages:              messageViews(s.client.Messages()),
		Busy:                  s.client.Busy(),
		Suggestions:           suggestions,
	}

	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		m.logger.Error("Failed to render home", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func conversationViews(convs []models.Conversation, activeID string) []conversationView {
	views := make([]conversationView, len(convs))
	for i, conv := range convs {
		views[i] = conversationView{
			ID:     conv.ID,
			Title:  conv.Title,
			Active: conv.ID == activeID,
		}
	}
	return views
}
