// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"INFO", slog.LevelInfo, false},
		{" debug ", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tc := range tests {
		got, err := ParseLevel(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
		}
		if got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNew_JSONAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "warn", Format: "json"}, &buf)
	if err != nil {
		t.Fatal(err)
	}

	logger.Info("hidden")
	logger.Warn("shown", "provider", "openai")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["msg"] != "shown" || rec["provider"] != "openai" {
		t.Errorf("record = %v", rec)
	}
}

func TestNew_RedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Format: "text"}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("configured", "api_key", "sk-secret", "Authorization", "Bearer sk-secret")

	if strings.Contains(buf.String(), "sk-secret") {
		t.Errorf("secret leaked: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "[REDACTED]") {
		t.Errorf("missing redaction marker: %s", buf.String())
	}
}

func TestNew_UnknownFormat(t *testing.T) {
	if _, err := New(Config{Format: "xml"}, nil); err == nil {
		t.Error("expected error for unknown format")
	}
}
