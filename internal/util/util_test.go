// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"os"
	"path/filepath"
	"testing"
)

// =============================================================================
// ATOMIC WRITE TESTS
// =============================================================================

func TestAtomicWriteFile_Basic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.md")
	data := []byte("# Report")

	if err := AtomicWriteFile(path, data, 0644); err != nil {
		t.Fatalf("AtomicWriteFile failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if string(content) != string(data) {
		t.Errorf("Content mismatch: got %q, want %q", string(content), string(data))
	}
}

func TestAtomicWriteFile_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs", "2025", "plan.yaml")

	if err := AtomicWriteFile(path, []byte("goal: x"), 0644); err != nil {
		t.Fatalf("AtomicWriteFile failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("File not created: %v", err)
	}
}

func TestAtomicWriteFile_OverwritesAndLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	if err := AtomicWriteFile(path, []byte("initial"), 0600); err != nil {
		t.Fatalf("First write failed: %v", err)
	}
	if err := AtomicWriteFile(path, []byte("updated"), 0600); err != nil {
		t.Fatalf("Second write failed: %v", err)
	}

	content, _ := os.ReadFile(path)
	if string(content) != "updated" {
		t.Errorf("Content not updated: got %q", string(content))
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the target file, found %d entries", len(entries))
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
		{"truncated", "hello world", 8, "hello..."},
		{"multibyte", "日本語のテキスト", 5, "日本..."},
		{"tiny max", "hello", 2, "he"},
		{"zero", "hello", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateRunes(tt.in, tt.max); got != tt.want {
				t.Errorf("TruncateRunes(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}
		})
	}
}

func TestPrefixRunes(t *testing.T) {
	if got := PrefixRunes("Write a hello-world function", 5); got != "Write" {
		t.Errorf("PrefixRunes = %q", got)
	}
	if got := PrefixRunes("héllo", 2); got != "hé" {
		t.Errorf("PrefixRunes multibyte = %q", got)
	}
	if got := PrefixRunes("abc", 10); got != "abc" {
		t.Errorf("PrefixRunes short = %q", got)
	}
}

func TestTruncateWidth(t *testing.T) {
	if got := TruncateWidth("hello", 10); got != "hello" {
		t.Errorf("unexpected truncation: %q", got)
	}
	got := TruncateWidth("hello world", 8)
	if got != "hello..." {
		t.Errorf("TruncateWidth = %q, want %q", got, "hello...")
	}
	// Each CJK rune is two columns wide.
	if got := TruncateWidth("日本語日本語", 7); got != "日本..." {
		t.Errorf("TruncateWidth CJK = %q", got)
	}
}

func TestPadWidth(t *testing.T) {
	if got := PadWidth("ab", 4); got != "ab  " {
		t.Errorf("PadWidth = %q", got)
	}
	if got := PadWidth("abcdef", 4); got != "abcdef" {
		t.Errorf("PadWidth should not truncate, got %q", got)
	}
}

func TestFirstLine(t *testing.T) {
	if got := FirstLine("\n\n  Yes.\nmore"); got != "Yes." {
		t.Errorf("FirstLine = %q", got)
	}
	if got := FirstLine(""); got != "" {
		t.Errorf("FirstLine empty = %q", got)
	}
}
