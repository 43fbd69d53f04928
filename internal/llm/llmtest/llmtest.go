// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"strings"
	"sync"

	"github.com/jeranaias/planrun/internal/llm"
)

// Client is a goroutine-safe fake generation backend. Zero value answers
// every Complete with "yes" and streams a single "output" fragment.
type Client struct {
	// CompleteFunc answers Complete calls.
	CompleteFunc func(ctx context.Context, prompt string) (string, error)

	// StreamFunc returns the fragments for a Stream call. Fragments are
	// delivered before a non-nil error is returned, which models a stream
	// that breaks part way through.
	StreamFunc func(ctx context.Context, messages []llm.Message) ([]string, error)

	mu        sync.Mutex
	completes []string
	streams   [][]llm.Message
}

// Complete records the prompt and delegates to CompleteFunc.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	c.mu.Lock()
	c.completes = append(c.completes, prompt)
	fn := c.CompleteFunc
	c.mu.Unlock()

	if fn == nil {
		return "yes", nil
	}
	return fn(ctx, prompt)
}

// Stream records the messages and replays the scripted fragments.
func (c *Client) Stream(ctx context.Context, messages []llm.Message, fn llm.FragmentFunc) error {
	c.mu.Lock()
	c.streams = append(c.streams, append([]llm.Message(nil), messages...))
	sf := c.StreamFunc
	c.mu.Unlock()

	fragments := []string{"output"}
	var err error
	if sf != nil {
		fragments, err = sf(ctx, messages)
	}
	for _, f := range fragments {
		if cbErr := fn(f); cbErr != nil {
			return cbErr
		}
	}
	return err
}

// CompleteCalls returns the prompts passed to Complete, in call order.
func (c *Client) CompleteCalls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.completes...)
}

// StreamCalls returns the message lists passed to Stream, in call order.
func (c *Client) StreamCalls() [][]llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]llm.Message(nil), c.streams...)
}

// Sequence returns a CompleteFunc that answers with the given replies in
// order and repeats the last one once they run out.
func Sequence(replies ...string) func(context.Context, string) (string, error) {
	var mu sync.Mutex
	i := 0
	return func(context.Context, string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(replies) == 0 {
			return "", nil
		}
		r := replies[i]
		if i < len(replies)-1 {
			i++
		}
		return r, nil
	}
}

// Evaluations routes Complete calls: prompts that look like a yes/no
// evaluation get verdict, everything else gets other.
func Evaluations(verdict string, other func(context.Context, string) (string, error)) func(context.Context, string) (string, error) {
	return func(ctx context.Context, prompt string) (string, error) {
		if IsEvaluation(prompt) {
			return verdict, nil
		}
		if other == nil {
			return "", nil
		}
		return other(ctx, prompt)
	}
}

// IsEvaluation reports whether prompt asks for a yes/no verdict.
func IsEvaluation(prompt string) bool {
	return strings.Contains(prompt, "Respond with exactly 'yes' or 'no'.")
}

// LastUser returns the content of the last user message.
func LastUser(messages []llm.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}
