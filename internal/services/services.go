// Package services holds the collaborators behind the web handlers: conversation stores, the local
// conversation list and the LLM providers relayed by the inference endpoint.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/MegaGrindStone/footballpedia/internal/models"
)

const (
	errLoggerKey = "err"

	maxErrorBodySize = 64 << 10
)

// providerMessage is the role/content pair every chat API in this package accepts.
type providerMessage struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`
}

// providerMessages converts a conversation into provider messages, led by systemPrompt when it is set.
func providerMessages(systemPrompt string, messages []models.Message) []providerMessage {
	msgs := make([]providerMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		msgs = append(msgs, providerMessage{Role: "system", Content: systemPrompt})
	}
	for _, msg := range messages {
		msgs = append(msgs, providerMessage{Role: string(msg.Role), Content: msg.Content})
	}
	return msgs
}

// postStream sends body as JSON to url and returns the response of a successful request, whose body
// the caller streams and closes. Any other status becomes an error carrying the response body.
func postStream(ctx context.Context, client *http.Client, url string, header http.Header, body any) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header = header.Clone()
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(msg))
	}

	return resp, nil
}

func canceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
