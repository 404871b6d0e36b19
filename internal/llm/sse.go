// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"bufio"
	"bytes"
	"io"
)

// MaxEventSize caps a single SSE line.
const MaxEventSize = 1024 * 1024

// SSEReader parses Server-Sent Events from a response body.
type SSEReader struct {
	scanner *bufio.Scanner
}

// NewSSEReader creates a new SSE reader from an io.Reader.
func NewSSEReader(r io.Reader) *SSEReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxEventSize)
	return &SSEReader{scanner: sc}
}

// ReadEvent returns the next event's type and data. Multiple data lines are
// joined with newlines. Comments and id/retry fields are ignored.
// Returns io.EOF when the stream ends cleanly.
func (s *SSEReader) ReadEvent() (string, []byte, error) {
	var eventType string
	var dataLines [][]byte

	for s.scanner.Scan() {
		line := bytes.TrimRight(s.scanner.Bytes(), "\r")

		// Empty line signals end of event
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			eventType = ""
			continue
		}

		switch {
		case bytes.HasPrefix(line, []byte("event:")):
			eventType = string(bytes.TrimSpace(line[len("event:"):]))
		case bytes.HasPrefix(line, []byte("data:")):
			data := bytes.TrimPrefix(line[len("data:"):], []byte(" "))
			dataLines = append(dataLines, append([]byte(nil), data...))
		}
	}

	if err := s.scanner.Err(); err != nil {
		return "", nil, err
	}
	// Flush a final event that had no trailing blank line.
	if len(dataLines) > 0 {
		return eventType, bytes.Join(dataLines, []byte("\n")), nil
	}
	return "", nil, io.EOF
}
