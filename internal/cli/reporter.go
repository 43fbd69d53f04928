// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// reporter.go - Line-mode progress output for run, plan and execute.

package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/planrun/internal/progress"
	"github.com/jeranaias/planrun/internal/ui/styles"
)

// TextReporter prints progress events as status lines. Generated text is
// only echoed with Stream set, and the plan diagram only once, right after
// compilation; later diagram updates would repeat it for every action.
type TextReporter struct {
	// Stream echoes generated text as it arrives.
	Stream bool
	// ShowDiagram prints the Mermaid source of the compiled plan.
	ShowDiagram bool
	// Timestamps prefixes status lines with the elapsed time.
	Timestamps bool

	w       io.Writer
	start   time.Time
	mu      sync.Mutex
	midLine bool
	diagram bool
}

var _ progress.Reporter = (*TextReporter)(nil)

// NewTextReporter writes to w.
func NewTextReporter(w io.Writer) *TextReporter {
	return &TextReporter{w: w, start: time.Now()}
}

// Emit prints one event. Safe for concurrent use.
func (r *TextReporter) Emit(ev progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Type {
	case progress.EventMessage:
		if !r.Stream || ev.Data.Content == "" {
			return
		}
		fmt.Fprint(r.w, ev.Data.Content)
		r.midLine = !strings.HasSuffix(ev.Data.Content, "\n")

	case progress.EventReplace:
		if !r.ShowDiagram || r.diagram {
			return
		}
		r.diagram = true
		r.endLine()
		fmt.Fprintln(r.w, strings.Trim(ev.Data.Content, "\n"))
		fmt.Fprintln(r.w)

	case progress.EventStatus:
		if ev.Data.Description == "" {
			return
		}
		r.endLine()
		fmt.Fprintln(r.w, r.statusLine(ev.Data))
	}
}

// endLine terminates streamed text that did not end in a newline.
func (r *TextReporter) endLine() {
	if r.midLine {
		fmt.Fprintln(r.w)
		r.midLine = false
	}
}

func (r *TextReporter) statusLine(d progress.EventData) string {
	var line string
	switch d.Level {
	case progress.LevelError:
		line = styles.RenderError(d.Description)
	case progress.LevelWarning:
		line = styles.RenderWarning(d.Description)
	case progress.LevelSuccess:
		line = styles.RenderSuccess(d.Description)
	default:
		line = styles.RenderInfo(d.Description)
	}
	if r.Timestamps {
		elapsed := time.Since(r.start).Round(time.Second)
		line = DimStyle.Render(fmt.Sprintf("[%6s] ", elapsed)) + line
	}
	return line
}
