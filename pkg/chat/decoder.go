package chat

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
)

// Chunk is one decoded record from the streaming chat response.
type Chunk struct {
	Answer         string `json:"answer"`
	ConversationID string `json:"conversation_id"`
}

const doneSentinel = "[DONE]"

// Decoder incrementally decodes a streaming response body into Chunks.
//
// The stream is newline-delimited. Lines using the "data: <json>" framing are
// unwrapped; bare JSON lines are accepted as a fallback for alternate server
// framing. The decoder is finite (Next returns io.EOF when the body ends or a
// [DONE] sentinel arrives) and not restartable.
type Decoder struct {
	reader *bufio.Reader
	body   io.Closer
	logger *slog.Logger
}

// NewDecoder wraps a response body. A nil logger falls back to slog.Default().
func NewDecoder(body io.ReadCloser, logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{
		reader: bufio.NewReader(body),
		body:   body,
		logger: logger,
	}
}

// Next returns the next decoded chunk, or io.EOF when the stream ends.
// Malformed records are skipped, never fatal.
func (d *Decoder) Next() (Chunk, error) {
	for {
		line, err := d.reader.ReadString('\n')
		eof := errors.Is(err, io.EOF)
		if err != nil && !eof {
			return Chunk{}, err
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if eof {
				return Chunk{}, io.EOF
			}
			continue
		}

		chunk, ok, err := d.decodeLine(line)
		if err != nil {
			return Chunk{}, err
		}
		if ok {
			return chunk, nil
		}
		if eof {
			return Chunk{}, io.EOF
		}
	}
}

// decodeLine decodes one complete line. The bool reports whether a chunk was
// produced; an io.EOF error marks the [DONE] sentinel.
func (d *Decoder) decodeLine(line string) (Chunk, bool, error) {
	if strings.HasPrefix(line, "data:") {
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			return Chunk{}, false, nil
		}
		if payload == doneSentinel {
			return Chunk{}, false, io.EOF
		}
		var chunk Chunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			d.logger.Debug("skipping malformed stream record", "error", err)
			return Chunk{}, false, nil
		}
		return chunk, true, nil
	}

	if line == doneSentinel {
		return Chunk{}, false, io.EOF
	}

	// Alternate framing: some deployments emit bare JSON records.
	var chunk Chunk
	if err := json.Unmarshal([]byte(line), &chunk); err != nil {
		return Chunk{}, false, nil
	}
	return chunk, true, nil
}

// Close releases the underlying response body.
func (d *Decoder) Close() error {
	if d.body != nil {
		return d.body.Close()
	}
	return nil
}
