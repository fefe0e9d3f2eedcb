package services

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MegaGrindStone/footballpedia/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func collect(t *testing.T, seq func(func(string, error) bool)) (string, error) {
	t.Helper()

	var sb strings.Builder
	for chunk, err := range seq {
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(chunk)
	}
	return sb.String(), nil
}

var question = []models.Message{{Role: models.RoleUser, Content: "Who is the all-time top scorer?"}}

func TestOpenRouterChat(t *testing.T) {
	var gotReq openRouterChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer or-key", r.Header.Get("Authorization"))
		_ = json.NewDecoder(r.Body).Decode(&gotReq)

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, ": OPENROUTER PROCESSING\n\n")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Cristiano \"}}]}\n\n")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Ronaldo\"}}]}\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	o := NewOpenRouter("or-key", "some/model", "You answer football questions.", testLogger())
	o.endpoint = srv.URL

	got, err := collect(t, o.Chat(context.Background(), question))
	require.NoError(t, err)
	assert.Equal(t, "Cristiano Ronaldo", got)

	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
	assert.Equal(t, "user", gotReq.Messages[1].Role)
	assert.True(t, gotReq.Stream)
}

func TestOpenRouterChatStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"no credits"}}`, http.StatusPaymentRequired)
	}))
	defer srv.Close()

	o := NewOpenRouter("or-key", "some/model", "", testLogger())
	o.endpoint = srv.URL

	_, err := collect(t, o.Chat(context.Background(), question))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "402")
}

func TestAnthropicChat(t *testing.T) {
	var gotReq anthropicChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "a-key", r.Header.Get("x-api-key"))
		_ = json.NewDecoder(r.Body).Decode(&gotReq)

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "event: message_start\ndata: {\"type\":\"message_start\"}\n\n")
		_, _ = io.WriteString(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"text\":\"Josef \"}}\n\n")
		_, _ = io.WriteString(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"text\":\"Bican\"}}\n\n")
		_, _ = io.WriteString(w, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
	}))
	defer srv.Close()

	a := NewAnthropic("a-key", "claude", "You answer football questions.", 512, testLogger())
	a.endpoint = srv.URL

	got, err := collect(t, a.Chat(context.Background(), question))
	require.NoError(t, err)
	assert.Equal(t, "Josef Bican", got)
	assert.Equal(t, "You answer football questions.", gotReq.System)
	assert.Equal(t, 512, gotReq.MaxTokens)
	require.Len(t, gotReq.Messages, 1)
}

func TestAnthropicChatErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n")
	}))
	defer srv.Close()

	a := NewAnthropic("a-key", "claude", "", 512, testLogger())
	a.endpoint = srv.URL

	_, err := collect(t, a.Chat(context.Background(), question))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Overloaded")
}

func TestOpenAIChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"id\":\"1\",\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\"}}]}\n\n")
		_, _ = io.WriteString(w, "data: {\"id\":\"1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"Offside \"}}]}\n\n")
		_, _ = io.WriteString(w, "data: {\"id\":\"1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"explained\"}}]}\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	o := NewOpenAI("o-key", srv.URL, "gpt-test", "You answer football questions.", LLMParameters{}, testLogger())

	got, err := collect(t, o.Chat(context.Background(), question))
	require.NoError(t, err)
	assert.Equal(t, "Offside explained", got)
}

func TestOpenAIMessages(t *testing.T) {
	msgs := openAIMessages("system prompt", []models.Message{
		{Role: models.RoleUser, Content: "q"},
		{Role: models.RoleAssistant, Content: "a"},
	})

	require.Len(t, msgs, 3)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "assistant", msgs[2].Role)

	assert.Len(t, openAIMessages("", question), 1)
}

func TestOllamaChat(t *testing.T) {
	var gotReq struct {
		Model    string            `json:"model"`
		Messages []providerMessage `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&gotReq)

		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = io.WriteString(w, `{"model":"llama3.2","message":{"role":"assistant","content":"Pelé "},"done":false}`+"\n")
		_, _ = io.WriteString(w, `{"model":"llama3.2","message":{"role":"assistant","content":"scored 1279"},"done":false}`+"\n")
		_, _ = io.WriteString(w, `{"model":"llama3.2","message":{"role":"assistant","content":""},"done":true}`+"\n")
	}))
	defer srv.Close()

	o, err := NewOllama(srv.URL, "llama3.2", "You answer football questions.", testLogger())
	require.NoError(t, err)

	got, err := collect(t, o.Chat(context.Background(), question))
	require.NoError(t, err)
	assert.Equal(t, "Pelé scored 1279", got)

	assert.Equal(t, "llama3.2", gotReq.Model)
	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
}

func TestOllamaChatError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"model \"missing\" not found"}`+"\n")
	}))
	defer srv.Close()

	o, err := NewOllama(srv.URL, "missing", "", testLogger())
	require.NoError(t, err)

	_, err = collect(t, o.Chat(context.Background(), question))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestProviderMessages(t *testing.T) {
	msgs := providerMessages("", []models.Message{{Role: models.RoleAssistant, Content: "a"}})
	require.Len(t, msgs, 1)
	assert.Equal(t, providerMessage{Role: "assistant", Content: "a"}, msgs[0])
}
