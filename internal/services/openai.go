package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"

	"github.com/MegaGrindStone/footballpedia/internal/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// OpenAI answers through the chat completions API of OpenAI or of any server that mimics it
// (vLLM, LM Studio, llama.cpp).
type OpenAI struct {
	model        string
	systemPrompt string

	params LLMParameters

	client *goopenai.Client

	logger *slog.Logger
}

// LLMParameters holds the optional generation settings shared by the providers. Nil fields keep the
// provider default.
type LLMParameters struct {
	Temperature *float32 `yaml:"temperature"`
	TopP        *float32 `yaml:"topP"`
	MaxTokens   *int     `yaml:"maxTokens"`
	Stop        []string `yaml:"stop"`
	Seed        *int     `yaml:"seed"`
}

// NewOpenAI returns an OpenAI client for model. An empty baseURL targets api.openai.com.
func NewOpenAI(apiKey, baseURL, model, systemPrompt string, params LLMParameters, logger *slog.Logger) OpenAI {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return OpenAI{
		model:        model,
		systemPrompt: systemPrompt,
		params:       params,
		client:       goopenai.NewClientWithConfig(cfg),
		logger:       logger.With(slog.String("module", "openai")),
	}
}

func openAIMessages(systemPrompt string, messages []models.Message) []goopenai.ChatCompletionMessage {
	pms := providerMessages(systemPrompt, messages)
	msgs := make([]goopenai.ChatCompletionMessage, len(pms))
	for i, pm := range pms {
		msgs[i] = goopenai.ChatCompletionMessage{Role: pm.Role, Content: pm.Content}
	}
	return msgs
}

// Chat streams the reply to messages, skipping role-only and empty deltas.
func (o OpenAI) Chat(ctx context.Context, messages []models.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		stream, err := o.client.CreateChatCompletionStream(ctx, o.chatRequest(openAIMessages(o.systemPrompt, messages)))
		if err != nil {
			if !canceled(err) {
				yield("", fmt.Errorf("openai chat: %w", err))
			}
			return
		}
		defer stream.Close()

		for {
			chunk, err := stream.Recv()
			switch {
			case errors.Is(err, io.EOF), canceled(err):
				return
			case err != nil:
				yield("", fmt.Errorf("openai stream: %w", err))
				return
			}

			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			if !yield(chunk.Choices[0].Delta.Content, nil) {
				return
			}
		}
	}
}

func (o OpenAI) chatRequest(messages []goopenai.ChatCompletionMessage) goopenai.ChatCompletionRequest {
	req := goopenai.ChatCompletionRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   true,
	}

	if o.params.Temperature != nil {
		req.Temperature = *o.params.Temperature
	}
	if o.params.TopP != nil {
		req.TopP = *o.params.TopP
	}
	if o.params.MaxTokens != nil {
		req.MaxTokens = *o.params.MaxTokens
	}
	if o.params.Stop != nil {
		req.Stop = o.params.Stop
	}
	if o.params.Seed != nil {
		req.Seed = o.params.Seed
	}

	o.logger.Debug("Chat request",
		slog.String("model", req.Model),
		slog.Int("messages", len(req.Messages)))

	return req
}
