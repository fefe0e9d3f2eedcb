package chat

import (
	"encoding/json"
	"fmt"
)

const (
	failedResponseMessage = "Failed to get response"
	noBodyMessage         = "No response body"
	sendFailedMessage     = "Failed to send message"
)

// RequestError is returned when the inference endpoint answers with a non-success status. Message
// holds the "error" field of the response payload, or a generic text when the payload carries none.
type RequestError struct {
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	return e.Message
}

// StreamUnavailableError is returned when a successful response carries no readable body.
type StreamUnavailableError struct{}

func (e *StreamUnavailableError) Error() string {
	return noBodyMessage
}

// ParseWarning describes a "data:" line whose payload could not be decoded. It never aborts a
// stream and is only logged.
type ParseWarning struct {
	Line string
	Err  error
}

func (w *ParseWarning) Error() string {
	return fmt.Sprintf("failed to parse stream line %q: %v", w.Line, w.Err)
}

func (w *ParseWarning) Unwrap() error {
	return w.Err
}

func newRequestError(statusCode int, body []byte) *RequestError {
	var payload struct {
		Error string `json:"error"`
	}

	msg := failedResponseMessage
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		msg = payload.Error
	}

	return &RequestError{
		StatusCode: statusCode,
		Message:    msg,
	}
}

func notificationMessage(err error) string {
	if err == nil || err.Error() == "" {
		return sendFailedMessage
	}
	return err.Error()
}
