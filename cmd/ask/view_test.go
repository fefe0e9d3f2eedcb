package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MegaGrindStone/footballpedia/internal/chat"
	"github.com/MegaGrindStone/footballpedia/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminalViewPrintsIncrementally(t *testing.T) {
	var out, errOut bytes.Buffer
	view := newTerminalView(&out, &errOut)

	user := models.Message{Role: models.RoleUser, Content: "Who is Pelé?"}
	view.Render([]models.Message{user}, true)
	view.Render([]models.Message{user, {Role: models.RoleAssistant, Content: "Pelé "}}, true)
	view.Render([]models.Message{user, {Role: models.RoleAssistant, Content: "Pelé was Brazilian."}}, true)
	view.Render([]models.Message{user, {Role: models.RoleAssistant, Content: "Pelé was Brazilian."}}, false)
	view.endReply()

	assert.Equal(t, "Pelé was Brazilian.\n", out.String())
	assert.Empty(t, errOut.String())
}

func TestTerminalViewNotifyKeepsPartialReply(t *testing.T) {
	var out, errOut bytes.Buffer
	view := newTerminalView(&out, &errOut)

	msgs := []models.Message{
		{Role: models.RoleUser, Content: "q"},
		{Role: models.RoleAssistant, Content: "partial"},
	}
	view.Render(msgs, true)
	view.Notify(chat.Notification{Title: "Error", Description: "connection reset", Variant: "destructive"})
	view.Render(msgs, false)
	view.endReply()

	assert.Equal(t, "partial\n", out.String())
	assert.Equal(t, "Error: connection reset\n", errOut.String())
}

func TestInteract(t *testing.T) {
	var requests []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []models.Message `json:"messages"`
		}
		_ = decodeJSON(r, &body)
		requests = append(requests, len(body.Messages))

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":\"answer %d\"}}]}\n\n", len(requests))
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	var out, errOut bytes.Buffer
	view := newTerminalView(&out, &errOut)
	client := chat.NewClient(chat.Config{Endpoint: srv.URL}, nil, view, discardLogger())

	in := strings.NewReader("first\nsecond\n/clear\nthird\n/exit\nignored\n")
	require.NoError(t, interact(context.Background(), client, view, in, &out))

	// The history grows by two messages per answered question and restarts after /clear.
	assert.Equal(t, []int{1, 3, 1}, requests)
	assert.Contains(t, out.String(), "answer 1\n")
	assert.Contains(t, out.String(), "answer 2\n")
	assert.Contains(t, out.String(), "Conversation cleared.")
	assert.Contains(t, out.String(), "answer 3\n")
	assert.Empty(t, errOut.String())
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
