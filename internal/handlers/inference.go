package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"iter"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/footballpedia/internal/models"
	"github.com/tmaxmax/go-sse"
)

// Inference is the inference endpoint the chat clients talk to. It relays an LLM as a stream of
// chat completion chunks, one data record per chunk, terminated by a [DONE] record.
type Inference struct {
	llm    LLM
	apiKey string

	logger *slog.Logger
}

type inferenceRequest struct {
	Messages []inferenceMessage `json:"messages"`
}

type inferenceMessage struct {
	Role    models.Role `json:"role"`
	Content string      `json:"content"`
}

type inferenceChunk struct {
	Choices []inferenceChoice `json:"choices"`
}

type inferenceChoice struct {
	Delta inferenceDelta `json:"delta"`
}

type inferenceDelta struct {
	Content string `json:"content"`
}

type inferenceError struct {
	Error string `json:"error"`
}

const inferenceDone = "[DONE]"

// NewInference creates an Inference relaying llm. Requests must carry apiKey as bearer credential,
// an empty apiKey accepts every request.
func NewInference(llm LLM, apiKey string, logger *slog.Logger) Inference {
	return Inference{
		llm:    llm,
		apiKey: apiKey,
		logger: logger.With(slog.String("module", "inference")),
	}
}

// ServeHTTP answers a chat request with the streamed reply of the LLM. Failures that happen before the
// stream starts are answered with a JSON error body, failures after that end the stream early.
func (i Inference) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !i.authorized(r) {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req inferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		i.logger.Warn("Invalid request body", slog.String(errLoggerKey, err.Error()))
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		writeJSONError(w, http.StatusBadRequest, "messages are required")
		return
	}

	messages := make([]models.Message, len(req.Messages))
	for idx, msg := range req.Messages {
		if !msg.Role.Valid() {
			writeJSONError(w, http.StatusBadRequest, "invalid message role: "+string(msg.Role))
			return
		}
		messages[idx] = models.Message{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	next, stop := iter.Pull2(i.llm.Chat(r.Context(), messages))
	defer stop()

	// The first chunk decides between an error response and a stream.
	first, err, ok := next()
	if ok && err != nil {
		i.logger.Error("Error from llm provider", slog.String(errLoggerKey, err.Error()))
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}

	sess, err := sse.Upgrade(w, r)
	if err != nil {
		i.logger.Error("Failed to upgrade connection", slog.String(errLoggerKey, err.Error()))
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	connected := &sse.Message{}
	connected.AppendComment("connected")
	if err := i.send(sess, connected); err != nil {
		return
	}

	for ok {
		if first != "" {
			if err := i.sendChunk(sess, first); err != nil {
				return
			}
		}

		first, err, ok = next()
		if ok && err != nil {
			if r.Context().Err() == nil {
				i.logger.Error("Stream interrupted", slog.String(errLoggerKey, err.Error()))
			}
			return
		}
	}

	done := &sse.Message{}
	done.AppendData(inferenceDone)
	_ = i.send(sess, done)
}

func (i Inference) authorized(r *http.Request) bool {
	if i.apiKey == "" {
		return true
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(i.apiKey)) == 1
}

func (i Inference) sendChunk(sess *sse.Session, content string) error {
	data, err := json.Marshal(inferenceChunk{
		Choices: []inferenceChoice{{Delta: inferenceDelta{Content: content}}},
	})
	if err != nil {
		i.logger.Error("Failed to marshal chunk", slog.String(errLoggerKey, err.Error()))
		return err
	}

	msg := &sse.Message{}
	msg.AppendData(string(data))
	return i.send(sess, msg)
}

func (i Inference) send(sess *sse.Session, msg *sse.Message) error {
	if err := sess.Send(msg); err != nil {
		i.logger.Warn("Failed to send event", slog.String(errLoggerKey, err.Error()))
		return err
	}
	if err := sess.Flush(); err != nil {
		i.logger.Warn("Failed to flush event", slog.String(errLoggerKey, err.Error()))
		return err
	}
	return nil
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(inferenceError{Error: message})
}
