// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// =============================================================================
// ATOMIC WRITE TESTS
// =============================================================================

func TestAtomicWriteFile_Basic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "router.toml")
	data := []byte("[retry]\nmax_attempts = 3\n")

	if err := AtomicWriteFile(path, data, 0600); err != nil {
		t.Fatalf("AtomicWriteFile failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if string(content) != string(data) {
		t.Errorf("Content mismatch: got %q, want %q", content, data)
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if info.Mode().Perm() != 0600 {
			t.Errorf("perm = %o, want 600", info.Mode().Perm())
		}
	}
}

func TestAtomicWriteFile_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "router.toml")

	if err := AtomicWriteFile(path, []byte("x"), 0600); err != nil {
		t.Fatalf("AtomicWriteFile failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("file not created: %v", err)
	}
}

func TestAtomicWriteFile_OverwritesAndCleansUp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "router.toml")

	if err := AtomicWriteFile(path, []byte("first version, longer"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := AtomicWriteFile(path, []byte("second"), 0600); err != nil {
		t.Fatal(err)
	}

	content, _ := os.ReadFile(path)
	if string(content) != "second" {
		t.Errorf("got %q, want %q", content, "second")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

// =============================================================================
// STRING TESTS
// =============================================================================

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short", "hello", 10, "hello"},
		{"exact", "hello", 5, "hello"},
		{"cut", "hello world", 8, "hello..."},
		{"tiny max", "hello", 2, "he"},
		{"zero", "hello", 0, ""},
		{"negative", "hello", -1, ""},
		{"utf8", "héllo wörld", 7, "héll..."},
		{"cjk", "日本語のテキスト", 5, "日本..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateRunes(tt.in, tt.max); got != tt.want {
				t.Errorf("TruncateRunes(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}
		})
	}
}

func TestPreview(t *testing.T) {
	got := Preview("  Write a\n\tfunction   that sorts  ", 100)
	if got != "Write a function that sorts" {
		t.Errorf("Preview = %q", got)
	}
	if got := Preview("one\ntwo three four", 10); got != "one two..." {
		t.Errorf("Preview truncated = %q", got)
	}
}

func TestMaskSecret(t *testing.T) {
	tests := map[string]string{
		"":                    "",
		"   ":                 "",
		"short":               "****",
		"12345678":            "****",
		"sk-ant-abcdefgh1234": "****1234",
	}
	for in, want := range tests {
		if got := MaskSecret(in); got != want {
			t.Errorf("MaskSecret(%q) = %q, want %q", in, got, want)
		}
	}
}
