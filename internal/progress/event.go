// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package progress

import "encoding/json"

// EventType identifies the shape of an event.
type EventType string

const (
	EventMessage EventType = "message"
	EventReplace EventType = "replace"
	EventStatus  EventType = "status"
)

// Level is the severity of a status event.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
	LevelSuccess Level = "success"
)

// Status values carried by status events.
const (
	StatusInProgress = "in_progress"
	StatusComplete   = "complete"
)

// Event is a single progress notification.
type Event struct {
	Type EventType `json:"type"`
	Data EventData `json:"data"`
}

// EventData holds the payload. Message and replace events use Content;
// status events use the remaining fields.
type EventData struct {
	Content     string `json:"content,omitempty"`
	Status      string `json:"status,omitempty"`
	Level       Level  `json:"level,omitempty"`
	Description string `json:"description,omitempty"`
	Done        bool   `json:"done,omitempty"`
}

// MessageEvent builds a message event.
func MessageEvent(content string) Event {
	return Event{Type: EventMessage, Data: EventData{Content: content}}
}

// ReplaceEvent builds a replace event.
func ReplaceEvent(content string) Event {
	return Event{Type: EventReplace, Data: EventData{Content: content}}
}

// StatusEvent builds a status event. Done events carry status "complete".
func StatusEvent(level Level, description string, done bool) Event {
	status := StatusInProgress
	if done {
		status = StatusComplete
	}
	return Event{Type: EventStatus, Data: EventData{
		Status:      status,
		Level:       level,
		Description: description,
		Done:        done,
	}}
}

type statusPayload struct {
	Status      string `json:"status"`
	Level       Level  `json:"level"`
	Description string `json:"description"`
	Done        bool   `json:"done"`
}

type contentPayload struct {
	Content string `json:"content"`
}

// MarshalJSON writes exactly the fields that belong to the event's shape, so
// an empty replace still carries "content" and a status always carries "done".
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Type == EventStatus {
		return json.Marshal(struct {
			Type EventType     `json:"type"`
			Data statusPayload `json:"data"`
		}{e.Type, statusPayload{e.Data.Status, e.Data.Level, e.Data.Description, e.Data.Done}})
	}
	return json.Marshal(struct {
		Type EventType      `json:"type"`
		Data contentPayload `json:"data"`
	}{e.Type, contentPayload{e.Data.Content}})
}
