// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"time"
)

// maxLineSize bounds one streamed JSON line.
const maxLineSize = 1 << 20

// StreamReader decodes the newline-delimited JSON of a streamed chat
// response.
type StreamReader struct {
	scanner *bufio.Scanner
	model   string
}

// NewStreamReader creates a new stream reader from an io.Reader.
func NewStreamReader(r io.Reader) *StreamReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &StreamReader{scanner: sc}
}

// Process reads the stream and calls fn for each chunk until the final
// chunk, EOF, a callback error or context cancellation.
func (s *StreamReader) Process(ctx context.Context, fn func(StreamChunk) error) error {
	for s.scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk, ok, err := s.decode(s.scanner.Bytes())
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := fn(chunk); err != nil {
			return err
		}
		if chunk.Done {
			return nil
		}
	}
	if err := s.scanner.Err(); err != nil {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to read stream", Cause: err}
	}
	return nil
}

// decode parses one line. Blank and malformed lines are skipped; an error
// object from the server ends the stream.
func (s *StreamReader) decode(line []byte) (StreamChunk, bool, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return StreamChunk{}, false, nil
	}

	var resp struct {
		ChatResponse
		Error string `json:"error"`
	}
	if err := json.Unmarshal(line, &resp); err != nil {
		return StreamChunk{}, false, nil
	}
	if resp.Error != "" {
		return StreamChunk{}, false, &ClientError{Type: ErrTypeInvalidResponse, Message: resp.Error}
	}
	if resp.Model != "" {
		s.model = resp.Model
	}

	chunk := StreamChunk{
		Content:    resp.Message.Content,
		Done:       resp.Done,
		DoneReason: resp.DoneReason,
		Model:      s.model,
	}
	if resp.Done {
		chunk.EvalCount = resp.EvalCount
		chunk.EvalDuration = time.Duration(resp.EvalDuration)
	}
	return chunk, true, nil
}
