// Package chat implements the streaming chat client: it sends the conversation to the inference
// endpoint, decodes the streamed reply and keeps a caller-visible message list in sync with it.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/footballpedia/internal/models"
)

// Persister stores the final assistant reply of a completed stream.
type Persister interface {
	AppendAssistantMessage(ctx context.Context, conversationID, userID, content string) error
}

// View is the presentation side of a Client. Render receives a snapshot of the message list and the
// busy flag after every change, Notify receives user-facing failures.
type View interface {
	Render(messages []models.Message, busy bool)
	Notify(n Notification)
}

// Notification is a user-facing message about a failed send.
type Notification struct {
	Title       string
	Description string
	Variant     string
}

// Config holds the inference endpoint settings of a Client.
type Config struct {
	Endpoint string
	APIKey   string

	// HTTPClient defaults to a client without timeout, streams may last long.
	HTTPClient *http.Client
	// ChunkSize is the size of a single body read, defaults to 4 KiB.
	ChunkSize int
}

// Client is the streaming chat client of one user session. Sends must be serialized by the caller,
// typically by refusing input while Busy reports true.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	chunkSize  int

	persister Persister
	view      View
	logger    *slog.Logger

	mu             sync.Mutex
	messages       []models.Message
	busy           bool
	state          State
	conversationID string
	userID         string

	persisting sync.WaitGroup
}

type chatRequest struct {
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    models.Role `json:"role"`
	Content string      `json:"content"`
}

// streamState lives for a single send.
type streamState struct {
	text    strings.Builder
	decoder *Decoder
}

const (
	defaultChunkSize   = 4 << 10
	maxErrorBodySize   = 64 << 10
	persistTimeout     = 30 * time.Second
	errLoggerKey       = "err"
	notificationTitle  = "Error"
	notificationDanger = "destructive"
)

// NewClient creates a Client for the given endpoint. persister and view may be nil.
func NewClient(cfg Config, persister Persister, view View, logger *slog.Logger) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	return &Client{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		chunkSize:  chunkSize,
		persister:  persister,
		view:       view,
		logger:     logger.With(slog.String("module", "chat")),
	}
}

// SetConversation sets the conversation and user the final assistant replies are persisted under.
// An empty conversationID disables persistence.
func (c *Client) SetConversation(conversationID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conversationID = conversationID
	c.userID = userID
}

// Conversation returns the current conversation ID.
func (c *Client) Conversation() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.conversationID
}

// SetMessages replaces the message list, used when a stored conversation is restored.
func (c *Client) SetMessages(messages []models.Message) {
	c.mu.Lock()
	c.messages = slices.Clone(messages)
	c.mu.Unlock()

	c.render()
}

// Messages returns a copy of the caller-visible message list.
func (c *Client) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Clone(c.messages)
}

// Busy reports whether a send is in flight.
func (c *Client) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.busy
}

// State returns the stage the current send is in.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// ClearMessages empties the message list. Stored conversations are not touched.
func (c *Client) ClearMessages() {
	c.mu.Lock()
	c.messages = nil
	c.mu.Unlock()

	c.render()
}

// Wait blocks until every persistence call started by completed sends has returned.
func (c *Client) Wait() {
	c.persisting.Wait()
}

// SendMessage appends query as a user message, streams the assistant reply into the message list and
// hands the final reply to the Persister. A blank query is ignored.
//
// SendMessage never returns an error: failures are reported once through View.Notify, and whatever
// part of the reply already arrived stays in the list. Cancelling ctx abandons the stream without a
// notification.
func (c *Client) SendMessage(ctx context.Context, query string) {
	if strings.TrimSpace(query) == "" {
		return
	}

	userMsg := models.Message{
		Role:    models.RoleUser,
		Content: query,
	}

	c.mu.Lock()
	history := append(slices.Clone(c.messages), userMsg)
	c.messages = append(c.messages, userMsg)
	c.busy = true
	c.state = StateAwaitingResponse
	conversationID, userID := c.conversationID, c.userID
	c.mu.Unlock()
	c.render()

	defer func() {
		c.mu.Lock()
		c.busy = false
		c.state = StateIdle
		c.mu.Unlock()
		c.render()
	}()

	text, err := c.stream(ctx, history)
	if err != nil {
		if ctx.Err() != nil {
			c.logger.Debug("Stream abandoned", slog.String(errLoggerKey, ctx.Err().Error()))
			return
		}
		c.logger.Error("Chat error", slog.String(errLoggerKey, err.Error()))
		c.notify(err)
		return
	}

	if text == "" || conversationID == "" {
		return
	}

	c.setState(StatePersisting)
	c.persist(conversationID, userID, text)
}

func (c *Client) stream(ctx context.Context, history []models.Message) (string, error) {
	resp, err := c.doRequest(ctx, history)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	state := streamState{
		decoder: NewDecoder(c.logger),
	}
	c.setState(StateStreaming)

	buf := make([]byte, c.chunkSize)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			for _, delta := range state.decoder.Write(buf[:n]) {
				c.applyDelta(&state, delta)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return state.text.String(), fmt.Errorf("error reading response: %w", err)
		}
	}

	c.setState(StateFlushing)
	for _, delta := range state.decoder.Flush() {
		c.applyDelta(&state, delta)
	}

	return state.text.String(), nil
}

func (c *Client) doRequest(ctx context.Context, history []models.Message) (*http.Response, error) {
	msgs := make([]chatMessage, len(history))
	for i, m := range history {
		msgs[i] = chatMessage{
			Role:    m.Role,
			Content: m.Content,
		}
	}

	jsonBody, err := json.Marshal(chatRequest{Messages: msgs})
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, newRequestError(resp.StatusCode, body)
	}

	if resp.Body == nil || (resp.Body == http.NoBody && nullBodyStatus(resp.StatusCode)) {
		return nil, &StreamUnavailableError{}
	}

	return resp, nil
}

// nullBodyStatus reports whether status forbids a response body. An empty 200 is an empty stream.
func nullBodyStatus(status int) bool {
	return status == http.StatusNoContent || status == http.StatusResetContent || status == http.StatusNotModified
}

func (c *Client) applyDelta(state *streamState, delta string) {
	state.text.WriteString(delta)

	c.mu.Lock()
	c.messages = models.ApplyDelta(c.messages, state.text.String())
	c.mu.Unlock()

	c.render()
}

func (c *Client) persist(conversationID, userID, text string) {
	if c.persister == nil {
		return
	}

	c.persisting.Add(1)
	go func() {
		defer c.persisting.Done()

		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		if err := c.persister.AppendAssistantMessage(ctx, conversationID, userID, text); err != nil {
			c.logger.Error("Failed to save assistant message",
				slog.String("conversationID", conversationID),
				slog.String(errLoggerKey, err.Error()))
		}
	}()
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = s
}

func (c *Client) render() {
	if c.view == nil {
		return
	}

	c.mu.Lock()
	msgs := slices.Clone(c.messages)
	busy := c.busy
	c.mu.Unlock()

	c.view.Render(msgs, busy)
}

func (c *Client) notify(err error) {
	if c.view == nil {
		return
	}

	c.view.Notify(Notification{
		Title:       notificationTitle,
		Description: notificationMessage(err),
		Variant:     notificationDanger,
	})
}
