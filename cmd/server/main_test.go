package main

import (
	"context"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MegaGrindStone/footballpedia/internal/chat"
	"github.com/MegaGrindStone/footballpedia/internal/handlers"
	"github.com/MegaGrindStone/footballpedia/internal/models"
	"github.com/MegaGrindStone/footballpedia/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cannedLLM struct {
	reply string
}

// slowStore delays every assistant reply it stores.
type slowStore struct {
	services.BoltDB

	delay    time.Duration
	started  chan struct{}
	appended atomic.Bool
}

func (l cannedLLM) Chat(context.Context, []models.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		yield(l.reply, nil)
	}
}

func (s *slowStore) AppendAssistantMessage(ctx context.Context, conversationID, userID, content string) error {
	close(s.started)
	time.Sleep(s.delay)

	err := s.BoltDB.AppendAssistantMessage(ctx, conversationID, userID, content)
	s.appended.Store(err == nil)
	return err
}

func TestServeDrainsChatSessions(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	inference := httptest.NewServer(handlers.NewInference(cannedLLM{reply: "Pelé"}, "", logger))
	defer inference.Close()

	db, err := services.NewBoltDB(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	store := &slowStore{BoltDB: db, delay: 300 * time.Millisecond, started: make(chan struct{})}

	m, err := handlers.NewMain(store, nil, chat.Config{Endpoint: inference.URL}, logger)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/chats",
		strings.NewReader(url.Values{"message": {"Greatest of all time?"}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	m.HandleChats(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	select {
	case <-store.started:
	case <-time.After(3 * time.Second):
		t.Fatal("assistant reply was never stored")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	srv := &http.Server{
		Addr:              "127.0.0.1:0",
		Handler:           http.NotFoundHandler(),
		ReadHeaderTimeout: time.Second,
	}
	require.NoError(t, serve(ctx, srv, m, logger))

	assert.True(t, store.appended.Load(), "serve returned before the reply was stored")
	assert.NoError(t, db.Close())
}
