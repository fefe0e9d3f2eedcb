package services

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/MegaGrindStone/footballpedia/internal/models"
	"github.com/ollama/ollama/api"
)

// Ollama answers with a model served by a self-hosted Ollama instance.
type Ollama struct {
	host         string
	model        string
	systemPrompt string

	client *api.Client

	logger *slog.Logger
}

// NewOllama returns an Ollama bound to the server at host, e.g. http://localhost:11434.
func NewOllama(host, model, systemPrompt string, logger *slog.Logger) (Ollama, error) {
	u, err := url.Parse(host)
	if err != nil {
		return Ollama{}, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}

	return Ollama{
		host:         host,
		model:        model,
		systemPrompt: systemPrompt,
		client:       api.NewClient(u, &http.Client{}),
		logger:       logger.With(slog.String("module", "ollama")),
	}, nil
}

// Chat streams the reply to messages. The api client delivers chunks through a callback, so an
// early stop from the consumer cancels the underlying request.
func (o Ollama) Chat(ctx context.Context, messages []models.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stream := true
		req := &api.ChatRequest{
			Model:    o.model,
			Messages: ollamaMessages(o.systemPrompt, messages),
			Stream:   &stream,
		}

		var consumerDone bool
		err := o.client.Chat(ctx, req, func(res api.ChatResponse) error {
			if consumerDone || res.Message.Content == "" {
				return nil
			}
			if !yield(res.Message.Content, nil) {
				consumerDone = true
				cancel()
			}
			return nil
		})
		if err == nil || consumerDone || canceled(err) {
			return
		}

		o.logger.Error("Chat failed", slog.String("host", o.host), slog.String(errLoggerKey, err.Error()))
		yield("", fmt.Errorf("ollama chat: %w", err))
	}
}

func ollamaMessages(systemPrompt string, messages []models.Message) []api.Message {
	pms := providerMessages(systemPrompt, messages)
	msgs := make([]api.Message, len(pms))
	for i, pm := range pms {
		msgs[i] = api.Message{Role: pm.Role, Content: pm.Content}
	}
	return msgs
}
