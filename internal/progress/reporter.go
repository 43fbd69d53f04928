// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package progress

import (
	"encoding/json"
	"io"
	"log"
	"strings"
	"sync"
)

// Reporter receives progress events. Emit must not block for long; wrap slow
// reporters in Async.
type Reporter interface {
	Emit(Event)
}

// Func adapts a function to a Reporter.
type Func func(Event)

// Emit calls f.
func (f Func) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Reporter = Func(func(Event) {})

// =============================================================================
// EMITTER
// =============================================================================

// Emitter is the write side used by planner stages.
type Emitter struct {
	r Reporter
}

// NewEmitter wraps r. A nil reporter discards events.
func NewEmitter(r Reporter) Emitter {
	if r == nil {
		r = Discard
	}
	return Emitter{r: r}
}

// Message appends streamed content.
func (e Emitter) Message(content string) {
	e.emit(MessageEvent(content))
}

// Replace swaps the transient content block.
func (e Emitter) Replace(content string) {
	e.emit(ReplaceEvent(content))
}

// Status emits a status line.
func (e Emitter) Status(level Level, description string, done bool) {
	e.emit(StatusEvent(level, description, done))
}

func (e Emitter) emit(ev Event) {
	if e.r == nil {
		return
	}
	e.r.Emit(ev)
}

// =============================================================================
// MULTI
// =============================================================================

// Multi delivers each event to every reporter in order.
type Multi []Reporter

// Emit forwards ev to each non-nil reporter.
func (m Multi) Emit(ev Event) {
	for _, r := range m {
		if r != nil {
			r.Emit(ev)
		}
	}
}

// =============================================================================
// JSON WRITER
// =============================================================================

// JSONWriter writes one JSON object per event, newline separated.
type JSONWriter struct {
	mu    sync.Mutex
	enc   *json.Encoder
	flush func()
}

// NewJSONWriter writes events to w. If w has a Flush method (an
// http.Flusher, a bufio.Writer) it is called after each event.
func NewJSONWriter(w io.Writer) *JSONWriter {
	jw := &JSONWriter{enc: json.NewEncoder(w)}
	jw.enc.SetEscapeHTML(false)
	switch f := w.(type) {
	case interface{ Flush() }:
		jw.flush = f.Flush
	case interface{ Flush() error }:
		jw.flush = func() { _ = f.Flush() }
	}
	return jw
}

// Emit encodes ev. Write errors are logged and otherwise ignored.
func (w *JSONWriter) Emit(ev Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(ev); err != nil {
		log.Printf("WARNING: failed to write progress event: %v", err)
		return
	}
	if w.flush != nil {
		w.flush()
	}
}

// =============================================================================
// RECORDER
// =============================================================================

// Recorder keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit records ev.
func (r *Recorder) Emit(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Statuses returns the recorded status events.
func (r *Recorder) Statuses() []EventData {
	var out []EventData
	for _, ev := range r.Events() {
		if ev.Type == EventStatus {
			out = append(out, ev.Data)
		}
	}
	return out
}

// Transcript returns the visible text a client would hold after applying
// every message and replace event in order.
func (r *Recorder) Transcript() string {
	var b strings.Builder
	for _, ev := range r.Events() {
		switch ev.Type {
		case EventMessage:
			b.WriteString(ev.Data.Content)
		case EventReplace:
			b.Reset()
			b.WriteString(ev.Data.Content)
		}
	}
	return b.String()
}

// Messages returns the concatenated content of all message events.
func (r *Recorder) Messages() string {
	var b strings.Builder
	for _, ev := range r.Events() {
		if ev.Type == EventMessage {
			b.WriteString(ev.Data.Content)
		}
	}
	return b.String()
}
