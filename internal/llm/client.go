// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"context"
	"errors"
	"fmt"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a chat-style prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// System returns a system message.
func System(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// User returns a user message.
func User(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// FragmentFunc receives streamed text in arrival order. Returning an error
// aborts the stream and the error is returned from Stream.
type FragmentFunc func(fragment string) error

// Client is a text-generation backend.
type Client interface {
	// Complete sends a single user prompt and returns the whole response.
	Complete(ctx context.Context, prompt string) (string, error)

	// Stream sends messages and calls fn for each fragment of the response.
	// Every call opens a fresh stream; it returns once the stream ends.
	Stream(ctx context.Context, messages []Message, fn FragmentFunc) error
}

// ErrEmptyResponse is returned by backends when the service answered with no
// content at all.
var ErrEmptyResponse = errors.New("empty response from generation backend")

// GenerationError wraps a failure from a backend call.
type GenerationError struct {
	Op      string // "complete" or "stream"
	Backend string
	Err     error
}

func (e *GenerationError) Error() string {
	if e.Backend != "" {
		return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Wrap annotates err with the operation and backend name. A nil err stays nil.
func Wrap(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	var ge *GenerationError
	if errors.As(err, &ge) {
		return err
	}
	return &GenerationError{Op: op, Backend: backend, Err: err}
}
