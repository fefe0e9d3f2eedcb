package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MegaGrindStone/footballpedia"
	"github.com/MegaGrindStone/footballpedia/internal/chat"
	"github.com/MegaGrindStone/footballpedia/internal/handlers"
	"github.com/MegaGrindStone/footballpedia/internal/services"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return fmt.Errorf("error getting user config dir: %w", err)
	}
	cfgPath := filepath.Join(cfgDir, "footballpedia")
	if err := os.MkdirAll(cfgPath, 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	cfg, err := loadConfig(filepath.Join(cfgPath, "config.yaml"))
	if err != nil {
		return err
	}

	logger, err := cfg.Log.logger(os.Stderr)
	if err != nil {
		return err
	}

	llm, err := cfg.LLM.llm(cfg.SystemPrompt, logger)
	if err != nil {
		return fmt.Errorf("error creating llm: %w", err)
	}

	store, storeCloser, err := cfg.Store.open(cfgPath)
	if err != nil {
		return fmt.Errorf("error opening store: %w", err)
	}
	if storeCloser != nil {
		defer storeCloser.Close()
	}

	local, err := services.NewLocalConversations(filepath.Join(cfgPath, "local.db"))
	if err != nil {
		return fmt.Errorf("error opening local conversations: %w", err)
	}
	defer local.Close()

	m, err := handlers.NewMain(store, local, chat.Config{
		Endpoint: cfg.Endpoint.URL,
		APIKey:   cfg.Endpoint.APIKey,
	}, logger)
	if err != nil {
		return err
	}

	inference := handlers.NewInference(llm, cfg.Endpoint.APIKey, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           routes(m, inference),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Server starting", slog.String("port", cfg.Port), slog.String("store", cfg.Store.Driver))
	return serve(ctx, srv, m, logger)
}

// serve runs srv until ctx is done and shuts it down. It returns once the chat sessions of m are
// drained, so the stores can be closed afterwards.
func serve(ctx context.Context, srv *http.Server, m handlers.Main, logger *slog.Logger) error {
	drained := make(chan struct{})
	srv.RegisterOnShutdown(func() {
		defer close(drained)
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String("err", err.Error()))
		}
	})

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-listenErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Start shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
		err = srv.Close()
	}

	// Shutdown does not wait for its hooks.
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		logger.Error("Chat sessions not drained in time")
	}

	return err
}

// routes maps the browser pages, the session event stream and the inference endpoint.
func routes(m handlers.Main, inference handlers.Inference) http.Handler {
	static, err := fs.Sub(footballpedia.StaticFS, "static")
	if err != nil {
		panic(err)
	}

	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(static))))
	mux.HandleFunc("/", m.HandleHome)
	mux.HandleFunc("/chats", m.HandleChats)
	mux.HandleFunc("/chats/new", m.HandleNewConversation)
	mux.HandleFunc("/chats/delete", m.HandleDeleteConversation)
	mux.HandleFunc("/sse", m.HandleSSE)
	mux.Handle(inferencePath, inference)

	return mux
}
