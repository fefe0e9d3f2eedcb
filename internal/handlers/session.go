package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MegaGrindStone/footballpedia/internal/chat"
	"github.com/MegaGrindStone/footballpedia/internal/models"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// session is one browser, identified by an anonymous cookie. The session ID doubles as the user ID of
// its conversations.
type session struct {
	id     string
	client *chat.Client

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc

	sending atomic.Bool
	sends   sync.WaitGroup

	lastSeen atomic.Int64
}

type sessions struct {
	mu   sync.Mutex
	list map[string]*session

	// idle is how long a session without requests or a running send is kept.
	idle time.Duration
}

// sessionView publishes the state of a session's chat client to the browser.
type sessionView struct {
	main Main
	id   string
}

type messageView struct {
	Role    string
	Content string
}

type notificationView struct {
	Title       string
	Description string
	Variant     string
}

const (
	sessionCookieName = "footballpedia_session"
	sessionCookieAge  = 365 * 24 * time.Hour

	sessionIdleTimeout = 30 * time.Minute
)

// SSE event types for real-time updates.
var (
	chatsSSEType        = sse.Type("chats")
	messagesSSEType     = sse.Type("messages")
	busySSEType         = sse.Type("busy")
	notificationSSEType = sse.Type("notification")
)

func sessionTopic(id string) string {
	return fmt.Sprintf("session-%s", id)
}

func sessionID(r *http.Request) (string, bool) {
	c, err := r.Cookie(sessionCookieName)
	if err != nil {
		return "", false
	}
	if _, err := uuid.Parse(c.Value); err != nil {
		return "", false
	}
	return c.Value, true
}

// session returns the session of the requesting browser, creating it and setting the cookie when the
// request carries none.
func (m Main) session(w http.ResponseWriter, r *http.Request) *session {
	id, ok := sessionID(r)
	if !ok {
		id = uuid.New().String()
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookieName,
			Value:    id,
			Path:     "/",
			MaxAge:   int(sessionCookieAge.Seconds()),
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}

	now := time.Now()

	m.sessions.mu.Lock()
	defer m.sessions.mu.Unlock()

	if s, ok := m.sessions.list[id]; ok {
		s.lastSeen.Store(now.UnixNano())
		return s
	}

	m.sessions.evictIdle(now)

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:     id,
		ctx:    ctx,
		cancel: cancel,
	}
	s.lastSeen.Store(now.UnixNano())
	s.client = chat.NewClient(m.clientCfg, m.persister(), sessionView{main: m, id: id},
		m.logger.With(slog.String("session", id)))
	s.client.SetConversation("", id)
	m.sessions.list[id] = s

	return s
}

// evictIdle drops the sessions unused for longer than the idle timeout. Sessions with a send in
// flight are kept. The caller holds s.mu.
func (s *sessions) evictIdle(now time.Time) {
	cutoff := now.Add(-s.idle).UnixNano()
	for id, sess := range s.list {
		if sess.lastSeen.Load() > cutoff || sess.sending.Load() || sess.client.Busy() {
			continue
		}

		sess.mu.Lock()
		sess.cancel()
		sess.mu.Unlock()

		delete(s.list, id)
	}
}

func (m Main) persister() chat.Persister {
	if m.store == nil {
		return nil
	}
	return m.store
}

func (s *sessions) closeAll() {
	s.mu.Lock()
	list := make([]*session, 0, len(s.list))
	for _, sess := range s.list {
		list = append(list, sess)
	}
	s.mu.Unlock()

	for _, sess := range list {
		sess.mu.Lock()
		sess.cancel()
		sess.mu.Unlock()

		sess.sends.Wait()
		sess.client.Wait()
	}
}

func (s *session) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ctx
}

// claim reserves the session for one send. It reports false while another send holds it. A
// successful claim is ended by send, or by release when the send is abandoned before it starts.
func (s *session) claim() bool {
	if !s.sending.CompareAndSwap(false, true) {
		return false
	}
	if s.client.Busy() {
		s.sending.Store(false)
		return false
	}
	return true
}

func (s *session) release() {
	s.sending.Store(false)
}

// send runs a chat send for a claimed session in the background and releases the claim once the
// reply ended.
func (s *session) send(query string) {
	ctx := s.context()
	s.sends.Add(1)
	go func() {
		defer s.sends.Done()
		defer s.release()

		s.client.SendMessage(ctx, query)
	}()
}

// reset abandons the running send and switches the client to conversationID with the given messages.
func (s *session) reset(conversationID string, messages []models.Message) {
	s.mu.Lock()
	s.cancel()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	s.sends.Wait()

	s.client.SetConversation(conversationID, s.id)
	if len(messages) == 0 {
		s.client.ClearMessages()
		return
	}
	s.client.SetMessages(messages)
}

func (v sessionView) Render(messages []models.Message, busy bool) {
	var sb strings.Builder
	if err := v.main.templates.ExecuteTemplate(&sb, "messages", messagesData{
		Messages:    messageViews(messages),
		Busy:        busy,
		Suggestions: suggestions,
	}); err != nil {
		v.main.logger.Error("Failed to render messages", slog.String(errLoggerKey, err.Error()))
		return
	}

	msg := &sse.Message{Type: messagesSSEType}
	msg.AppendData(sb.String())
	v.publish(msg)

	state := &sse.Message{Type: busySSEType}
	state.AppendData(fmt.Sprintf("%t", busy))
	v.publish(state)
}

func (v sessionView) Notify(n chat.Notification) {
	var sb strings.Builder
	if err := v.main.templates.ExecuteTemplate(&sb, "notification", notificationView(n)); err != nil {
		v.main.logger.Error("Failed to render notification", slog.String(errLoggerKey, err.Error()))
		return
	}

	msg := &sse.Message{Type: notificationSSEType}
	msg.AppendData(sb.String())
	v.publish(msg)
}

func (v sessionView) publish(msg *sse.Message) {
	if err := v.main.sseSrv.Publish(msg, sessionTopic(v.id)); err != nil {
		v.main.logger.Error("Failed to publish event",
			slog.String("session", v.id),
			slog.String(errLoggerKey, err.Error()))
	}
}

func messageViews(messages []models.Message) []messageView {
	views := make([]messageView, len(messages))
	for i, msg := range messages {
		views[i] = messageView{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}
	return views
}
