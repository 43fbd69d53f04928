// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// markdown.go - Terminal rendering of the final result.

package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
)

var (
	markdownRenderer     *glamour.TermRenderer
	markdownRendererOnce sync.Once
)

// renderer builds the glamour renderer on first use; styling probes the
// terminal background, which only makes sense once output is known to be
// a terminal.
func renderer() *glamour.TermRenderer {
	markdownRendererOnce.Do(func() {
		width := GetTerminalWidth()
		if width > 120 {
			width = 120
		}
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width-4),
		)
		if err == nil {
			markdownRenderer = r
		}
	})
	return markdownRenderer
}

// renderMarkdown renders markdown content for terminal display.
// Returns the original content if rendering fails.
func renderMarkdown(content string) string {
	r := renderer()
	if r == nil {
		return content
	}
	rendered, err := r.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

// displayResult prints the final artifact, rendered when w is a terminal
// and rendering is enabled.
func displayResult(w io.Writer, content string, render bool) {
	if render && isTerminalWriter(w) && ColorsEnabled() {
		fmt.Fprint(w, renderMarkdown(content))
		return
	}
	fmt.Fprint(w, content)
	if !strings.HasSuffix(content, "\n") {
		fmt.Fprintln(w)
	}
}
