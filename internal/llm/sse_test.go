// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"io"
	"strings"
	"testing"
)

func TestSSEReader_Events(t *testing.T) {
	input := ": keep-alive\n\n" +
		"event: message_start\ndata: {\"a\":1}\n\n" +
		"data: line1\r\ndata: line2\n\n" +
		"id: 7\nretry: 100\ndata: [DONE]"

	r := NewSSEReader(strings.NewReader(input))

	ev, data, err := r.ReadEvent()
	if err != nil || ev != "message_start" || string(data) != `{"a":1}` {
		t.Fatalf("first event = %q %q %v", ev, data, err)
	}

	ev, data, err = r.ReadEvent()
	if err != nil || ev != "" || string(data) != "line1\nline2" {
		t.Fatalf("second event = %q %q %v", ev, data, err)
	}

	// Final event has no trailing blank line and is flushed at EOF.
	_, data, err = r.ReadEvent()
	if err != nil || string(data) != "[DONE]" {
		t.Fatalf("third event = %q %v", data, err)
	}

	if _, _, err = r.ReadEvent(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}
