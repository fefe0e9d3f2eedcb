package handlers

import (
	"context"
	"fmt"
	"html/template"
	"iter"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/MegaGrindStone/footballpedia"
	"github.com/MegaGrindStone/footballpedia/internal/chat"
	"github.com/MegaGrindStone/footballpedia/internal/models"
	"github.com/tmaxmax/go-sse"
)

// LLM represents a large language model interface that provides chat functionality. It accepts a context
// and a sequence of messages, returning an iterator that yields response chunks and potential errors.
type LLM interface {
	Chat(ctx context.Context, messages []models.Message) iter.Seq2[string, error]
}

// Store defines the interface for conversation and message persistence. Besides the reads and writes
// the web pages need, it receives the final assistant replies of the chat clients.
type Store interface {
	Conversations(ctx context.Context, userID string, order models.Order) ([]models.Conversation, error)
	AddConversation(ctx context.Context, conv models.Conversation) error
	DeleteConversation(ctx context.Context, id string) error

	Messages(ctx context.Context, conversationID string, order models.Order) ([]models.Message, error)
	AddMessage(ctx context.Context, message models.Message) (string, error)

	chat.Persister
}

// ConversationList is the local copy of the conversation list. It is loaded once on startup and saved
// after every change.
type ConversationList interface {
	Load(ctx context.Context) ([]models.Conversation, error)
	Save(ctx context.Context, convs []models.Conversation) error
}

// Main handles the core functionality of the chat application, managing server-sent events,
// HTML templates, and the chat client of every browser session.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	store     Store
	local     ConversationList
	convs     *conversations
	sessions  *sessions
	clientCfg chat.Config

	logger *slog.Logger
}

type conversations struct {
	mu   sync.Mutex
	list []models.Conversation
}

const errLoggerKey = "err"

// NewMain creates a new Main instance. store may be nil, in which case conversations only live in the
// local list and messages are not persisted. clientCfg points the chat clients at the inference
// endpoint.
func NewMain(store Store, local ConversationList, clientCfg chat.Config, logger *slog.Logger) (Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"markdown": renderMarkdown,
	}).ParseFS(
		footballpedia.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, fmt.Errorf("failed to parse templates: %w", err)
	}

	var list []models.Conversation
	if local != nil {
		list, err = local.Load(context.Background())
		if err != nil {
			return Main{}, fmt.Errorf("failed to load local conversations: %w", err)
		}
	}

	logger = logger.With(slog.String("module", "main"))

	return Main{
		sseSrv: &sse.Server{
			OnSession: func(w http.ResponseWriter, r *http.Request) ([]string, bool) {
				id, ok := sessionID(r)
				if !ok {
					http.Error(w, "Session is required", http.StatusUnauthorized)
					return nil, false
				}
				return []string{sse.DefaultTopic, sessionTopic(id)}, true
			},
			Logger: func(*http.Request) *slog.Logger {
				return logger
			},
		},
		templates: tmpl,
		store:     store,
		local:     local,
		convs:     &conversations{list: list},
		sessions:  &sessions{list: make(map[string]*session), idle: sessionIdleTimeout},
		clientCfg: clientCfg,
		logger:    logger,
	}, nil
}

// HandleSSE streams the events of the requesting browser session.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

// Shutdown gracefully terminates the Main instance. It abandons every running chat stream, waits for
// the pending persistence calls, broadcasts a close message to all connected clients and waits up to 5
// seconds for the SSE connections to terminate.
func (m Main) Shutdown(ctx context.Context) error {
	m.sessions.closeAll()

	e := &sse.Message{Type: sse.Type("close")}
	// Browsers drop events without data.
	e.AppendData("bye")

	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}

func (m Main) userConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	if m.store != nil {
		convs, err := m.store.Conversations(ctx, userID, models.OrderDescending)
		if err != nil {
			return nil, fmt.Errorf("failed to get conversations: %w", err)
		}
		return convs, nil
	}

	m.convs.mu.Lock()
	defer m.convs.mu.Unlock()

	var convs []models.Conversation
	for _, conv := range m.convs.list {
		if conv.UserID == userID {
			convs = append(convs, conv)
		}
	}
	models.SortConversations(convs, models.OrderDescending)
	return convs, nil
}

func (m Main) addConversation(ctx context.Context, conv models.Conversation) error {
	if m.store != nil {
		if err := m.store.AddConversation(ctx, conv); err != nil {
			return fmt.Errorf("failed to add conversation: %w", err)
		}
	}

	m.convs.mu.Lock()
	m.convs.list = append([]models.Conversation{conv}, m.convs.list...)
	list := slices.Clone(m.convs.list)
	m.convs.mu.Unlock()

	m.saveLocal(ctx, list)
	return nil
}

func (m Main) deleteConversation(ctx context.Context, id string) error {
	if m.store != nil {
		if err := m.store.DeleteConversation(ctx, id); err != nil {
			return fmt.Errorf("failed to delete conversation: %w", err)
		}
	}

	m.convs.mu.Lock()
	m.convs.list = slices.DeleteFunc(m.convs.list, func(c models.Conversation) bool {
		return c.ID == id
	})
	list := slices.Clone(m.convs.list)
	m.convs.mu.Unlock()

	m.saveLocal(ctx, list)
	return nil
}

// saveLocal mirrors the conversation list into the local copy. An empty list is never written, so
// the last deleted conversation reappears in the copy after a restart.
func (m Main) saveLocal(ctx context.Context, list []models.Conversation) {
	if m.local == nil || len(list) == 0 {
		return
	}
	if err := m.local.Save(ctx, list); err != nil {
		m.logger.Error("Failed to save local conversations", slog.String(errLoggerKey, err.Error()))
	}
}
