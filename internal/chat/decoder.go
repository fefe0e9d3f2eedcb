package chat

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
)

const (
	dataPrefix   = "data: "
	doneSentinel = "[DONE]"
)

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Decoder turns the raw byte chunks of an inference stream into text deltas. It buffers the
// trailing fragment of every chunk until the newline that completes it arrives, so a record split
// across chunks is decoded exactly once.
//
// A Decoder is not safe for concurrent use.
type Decoder struct {
	buf []byte

	logger *slog.Logger
}

// NewDecoder creates a Decoder that reports undecodable records to logger.
func NewDecoder(logger *slog.Logger) *Decoder {
	return &Decoder{
		logger: logger,
	}
}

// Write appends chunk to the pending buffer and returns the deltas of every line the chunk
// completed, in arrival order.
func (d *Decoder) Write(chunk []byte) []string {
	d.buf = append(d.buf, chunk...)

	var deltas []string
	start := 0
	for {
		i := bytes.IndexByte(d.buf[start:], '\n')
		if i < 0 {
			break
		}
		if delta, ok := d.line(string(d.buf[start : start+i])); ok {
			deltas = append(deltas, delta)
		}
		start += i + 1
	}

	// Keep only the incomplete tail, reusing the backing array.
	d.buf = append(d.buf[:0], d.buf[start:]...)

	return deltas
}

// Flush decodes whatever is left in the buffer once the stream has ended, since the last record
// does not have to be newline terminated. The buffer is empty afterwards.
func (d *Decoder) Flush() []string {
	rest := string(d.buf)
	d.buf = d.buf[:0]

	if strings.TrimSpace(rest) == "" {
		return nil
	}

	var deltas []string
	for _, l := range strings.Split(rest, "\n") {
		if delta, ok := d.line(l); ok {
			deltas = append(deltas, delta)
		}
	}
	return deltas
}

// Pending returns the number of buffered bytes that do not form a complete line yet.
func (d *Decoder) Pending() int {
	return len(d.buf)
}

func (d *Decoder) line(raw string) (string, bool) {
	line := strings.TrimSpace(raw)
	if line == "" || strings.HasPrefix(line, ":") {
		return "", false
	}
	if !strings.HasPrefix(line, dataPrefix) {
		return "", false
	}

	payload := line[len(dataPrefix):]
	if payload == doneSentinel {
		return "", false
	}

	var raw json.RawMessage
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		w := &ParseWarning{Line: line, Err: err}
		d.logger.Warn("Failed to parse stream line", slog.String(errLoggerKey, w.Error()))
		return "", false
	}

	// Well-formed JSON of another shape carries no delta.
	var chunk streamChunk
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return "", false
	}

	if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
		return "", false
	}
	return chunk.Choices[0].Delta.Content, true
}
