// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package progress carries planner progress events to whoever is watching.
//
// Three event shapes exist: message (append streamed text), replace (swap
// the transient block, used for the live Mermaid diagram) and status (a
// leveled status line that may be marked done). The planner writes events
// through an Emitter and never waits on delivery; Async puts a bounded
// queue between the planner and a slow Reporter.
//
// # Reporters
//
//   - Async: bounded, ordered, drop-on-full queue in front of another Reporter
//   - JSONWriter: one JSON object per line, the wire format used by the server
//   - Recorder: keeps every event in memory, used by tests and reports
//   - Multi: fans an event out to several reporters
//   - Func: adapts a plain function
package progress
