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

// Anthropic streams replies from the Anthropic Messages API.
type Anthropic struct {
	model        string
	systemPrompt string
	maxTokens    int

	endpoint string
	header   http.Header
	client   *http.Client

	logger *slog.Logger
}

type anthropicChatRequest struct {
	Model     string            `json:"model"`
	Messages  []providerMessage `json:"messages"`
	System    string            `json:"system,omitempty"`
	MaxTokens int               `json:"max_tokens"`
	Stream    bool              `json:"stream"`
}

// anthropicEvent covers the payloads of the content_block_delta and error events.
type anthropicEvent struct {
	Delta struct {
		Text string `json:"text"`
	} `json:"delta"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

const (
	anthropicAPIEndpoint = "https://api.anthropic.com/v1"
	anthropicAPIVersion  = "2023-06-01"
)

// NewAnthropic creates a new Anthropic instance. maxTokens bounds the length of every reply, the API
// requires it.
func NewAnthropic(apiKey, model, systemPrompt string, maxTokens int, logger *slog.Logger) Anthropic {
	header := http.Header{}
	header.Set("x-api-key", apiKey)
	header.Set("anthropic-version", anthropicAPIVersion)

	return Anthropic{
		model:        model,
		systemPrompt: systemPrompt,
		maxTokens:    maxTokens,
		endpoint:     anthropicAPIEndpoint,
		header:       header,
		client:       &http.Client{},
		logger:       logger.With(slog.String("module", "anthropic")),
	}
}

// Chat streams the reply to messages. The system prompt travels in its dedicated request field
// rather than as a message.
func (a Anthropic) Chat(ctx context.Context, messages []models.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		resp, err := postStream(ctx, a.client, a.endpoint+"/messages", a.header, anthropicChatRequest{
			Model:     a.model,
			Messages:  providerMessages("", messages),
			System:    a.systemPrompt,
			MaxTokens: a.maxTokens,
			Stream:    true,
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

			switch ev.Type {
			case "message_stop":
				return
			case "content_block_delta", "error":
			default:
				a.logger.Debug("Skipping event", slog.String("type", ev.Type))
				continue
			}

			var res anthropicEvent
			if err := json.Unmarshal([]byte(ev.Data), &res); err != nil {
				yield("", fmt.Errorf("error unmarshaling %s event: %w", ev.Type, err))
				return
			}
			if ev.Type == "error" {
				yield("", fmt.Errorf("anthropic error %s: %s", res.Error.Type, res.Error.Message))
				return
			}
			if res.Delta.Text == "" {
				continue
			}
			if !yield(res.Delta.Text, nil) {
				return
			}
		}
	}
}
