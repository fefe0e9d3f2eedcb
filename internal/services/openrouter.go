package services

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/footballpedia/internal/models"
	"github.com/tmaxmax/go-sse"
)

// OpenRouter streams chat completions from OpenRouter, which fronts many hosted models behind one
// OpenAI-compatible API.
type OpenRouter struct {
	model        string
	systemPrompt string

	endpoint string
	header   http.Header
	client   *http.Client

	logger *slog.Logger
}

type openRouterChatRequest struct {
	Model    string            `json:"model"`
	Messages []providerMessage `json:"messages"`
	Stream   bool              `json:"stream"`
}

type openRouterStreamingResponse struct {
	Choices []struct {
		Delta providerMessage `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

const (
	openRouterAPIEndpoint = "https://openrouter.ai/api/v1"
	openRouterDone        = "[DONE]"
)

// NewOpenRouter creates a new OpenRouter instance with the specified API key, model name, and system prompt.
// Requests are attributed to FootballPedia through the HTTP-Referer and X-Title headers.
func NewOpenRouter(apiKey, model, systemPrompt string, logger *slog.Logger) OpenRouter {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+apiKey)
	header.Set("HTTP-Referer", "https://github.com/MegaGrindStone/footballpedia/")
	header.Set("X-Title", "FootballPedia")

	return OpenRouter{
		model:        model,
		systemPrompt: systemPrompt,
		endpoint:     openRouterAPIEndpoint,
		header:       header,
		client:       &http.Client{},
		logger:       logger.With(slog.String("module", "openrouter")),
	}
}

// Chat streams the reply to messages. Keep-alive comments sent while OpenRouter waits for the
// upstream model are skipped, and an error object inside the stream ends it with an error.
func (o OpenRouter) Chat(ctx context.Context, messages []models.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		resp, err := postStream(ctx, o.client, o.endpoint+"/chat/completions", o.header, openRouterChatRequest{
			Model:    o.model,
			Messages: providerMessages(o.systemPrompt, messages),
			Stream:   true,
		})
		if err != nil {
			if !canceled(err) {
				yield("", err)
			}
			return
		}
		defer resp.Body.Close()

		for ev, err := range sse.Read(resp.Body, nil) {
			if err != nil {
				if !canceled(err) {
					yield("", fmt.Errorf("error reading response: %w", err))
				}
				return
			}
			if ev.Data == openRouterDone {
				return
			}

			var res openRouterStreamingResponse
			if err := json.Unmarshal([]byte(ev.Data), &res); err != nil {
				o.logger.Debug("Undecodable event", slog.String("data", ev.Data))
				yield("", fmt.Errorf("error unmarshaling response: %w", err))
				return
			}
			if res.Error != nil {
				yield("", fmt.Errorf("openrouter error: %s", res.Error.Message))
				return
			}
			if len(res.Choices) == 0 || res.Choices[0].Delta.Content == "" {
				continue
			}
			if !yield(res.Choices[0].Delta.Content, nil) {
				return
			}
		}
	}
}
