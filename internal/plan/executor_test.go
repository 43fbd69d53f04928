// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package plan

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/planrun/internal/llm"
	"github.com/jeranaias/planrun/internal/llm/llmtest"
	"github.com/jeranaias/planrun/internal/progress"
)

func TestExecute_AcceptedFirstTry(t *testing.T) {
	client := &llmtest.Client{
		StreamFunc: func(context.Context, []llm.Message) ([]string, error) {
			return []string{"```go\n", "func hello() {}\n", "```"}, nil
		},
	}
	rec := &progress.Recorder{}
	p := testPlan()

	out, err := NewActionExecutor(client, rec, ExecutorConfig{MaxRetries: 3}).
		Execute(context.Background(), p, "A", Results{}, 1)
	require.NoError(t, err)

	assert.Equal(t, "```go\nfunc hello() {}\n```", out.Text())
	assert.Len(t, client.StreamCalls(), 1)
	assert.Len(t, client.CompleteCalls(), 1)

	a, _ := p.Action("A")
	assert.Equal(t, StatusCompleted, a.Status)
	assert.False(t, a.Degraded)
	assert.Equal(t, 1, a.Attempts)
	assert.Equal(t, out, a.Output)

	statuses := rec.Statuses()
	require.NotEmpty(t, statuses)
	assert.Equal(t, "Starting (Attempt 1/4) for action A: Parse flags", statuses[0].Description)
	last := statuses[len(statuses)-1]
	assert.Equal(t, progress.LevelSuccess, last.Level)
	assert.Equal(t, "Action A completed successfully.", last.Description)
	assert.True(t, last.Done)

	// Streamed fragments reach the reporter in order.
	assert.Equal(t, "```go\nfunc hello() {}\n```", rec.Messages())
}

func TestExecute_MessagesAndContext(t *testing.T) {
	client := &llmtest.Client{}
	p := testPlan()
	completed := Results{
		"A": {"result": "flags parsed"},
		"X": {"result": "unrelated secret"},
	}
	// B depends on A only.
	_, err := p.BeginAttempt("A")
	require.NoError(t, err)
	require.NoError(t, p.Complete("A", false))

	_, err = NewActionExecutor(client, nil, ExecutorConfig{}).Execute(context.Background(), p, "B", completed, 2)
	require.NoError(t, err)

	calls := client.StreamCalls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0], 2)
	assert.Equal(t, llm.System("Goal: Build a CLI"), calls[0][0])
	user := calls[0][1].Content
	assert.Contains(t, user, "Step 2: Read config")
	assert.Contains(t, user, "Overall Goal: Build a CLI")
	assert.Contains(t, user, "flags parsed")
	assert.NotContains(t, user, "unrelated secret")
}

func TestExecute_AlwaysRejectedDegrades(t *testing.T) {
	var n atomic.Int32
	client := &llmtest.Client{
		CompleteFunc: llmtest.Sequence("no"),
		StreamFunc: func(context.Context, []llm.Message) ([]string, error) {
			return []string{fmt.Sprintf("draft %d", n.Add(1))}, nil
		},
	}
	rec := &progress.Recorder{}
	p := testPlan()

	out, err := NewActionExecutor(client, rec, ExecutorConfig{MaxRetries: 3}).
		Execute(context.Background(), p, "A", Results{}, 1)
	require.NoError(t, err)

	assert.Equal(t, "draft 4", out.Text())
	assert.Len(t, client.StreamCalls(), 4)
	assert.Len(t, client.CompleteCalls(), 4)

	a, _ := p.Action("A")
	assert.Equal(t, StatusCompleted, a.Status)
	assert.True(t, a.Degraded)
	assert.Equal(t, 4, a.Attempts)

	// Attempts after the first use the correction prompt.
	calls := client.StreamCalls()
	assert.Contains(t, llmtest.LastUser(calls[0]), "Execute the following step")
	for _, c := range calls[1:] {
		assert.Contains(t, llmtest.LastUser(c), "The previous action was not completed correctly")
	}

	statuses := rec.Statuses()
	last := statuses[len(statuses)-1]
	assert.Equal(t, progress.LevelWarning, last.Level)
	assert.Equal(t, "Action A completed with warnings after 4 attempts. Using last output.", last.Description)
	assert.True(t, last.Done)

	warnings := 0
	for _, s := range statuses {
		if s.Level == progress.LevelWarning && !s.Done {
			warnings++
		}
	}
	assert.Equal(t, 3, warnings)
}

func TestExecute_ZeroRetries(t *testing.T) {
	client := &llmtest.Client{CompleteFunc: llmtest.Sequence("No.")}
	p := testPlan()

	_, err := NewActionExecutor(client, nil, ExecutorConfig{MaxRetries: 0}).Execute(context.Background(), p, "A", nil, 1)
	require.NoError(t, err)
	assert.Len(t, client.StreamCalls(), 1)
	assert.Equal(t, StatusCompleted, p.Status("A"))
}

func TestExecute_StreamErrorIsTerminal(t *testing.T) {
	transport := errors.New("connection reset by peer")
	var n atomic.Int32
	client := &llmtest.Client{
		CompleteFunc: llmtest.Sequence("no"),
		StreamFunc: func(context.Context, []llm.Message) ([]string, error) {
			if n.Add(1) == 2 {
				return []string{"partial"}, transport
			}
			return []string{"first draft"}, nil
		},
	}
	rec := &progress.Recorder{}
	p := testPlan()

	_, err := NewActionExecutor(client, rec, ExecutorConfig{MaxRetries: 3}).
		Execute(context.Background(), p, "A", Results{}, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, transport)

	var ae *ActionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "A", ae.ActionID)
	assert.Equal(t, 2, ae.Attempt)

	assert.Len(t, client.StreamCalls(), 2, "no retry after a transport error")
	assert.Len(t, client.CompleteCalls(), 1)

	a, _ := p.Action("A")
	assert.Equal(t, StatusFailed, a.Status)
	assert.False(t, a.EndTime.IsZero())
	assert.Contains(t, a.Error, "connection reset")

	statuses := rec.Statuses()
	last := statuses[len(statuses)-1]
	assert.Equal(t, progress.LevelError, last.Level)
	assert.Equal(t, "API error in action A", last.Description)
	assert.True(t, last.Done)
}

func TestExecute_EvaluationErrorIsTerminal(t *testing.T) {
	client := &llmtest.Client{CompleteFunc: func(context.Context, string) (string, error) {
		return "", errors.New("503 service unavailable")
	}}
	p := testPlan()

	_, err := NewActionExecutor(client, nil, ExecutorConfig{MaxRetries: 3}).Execute(context.Background(), p, "A", nil, 1)
	require.Error(t, err)
	assert.Len(t, client.StreamCalls(), 1)
	assert.Equal(t, StatusFailed, p.Status("A"))
}

func TestExecute_AlreadyTerminal(t *testing.T) {
	client := &llmtest.Client{}
	p := testPlan()
	require.NoError(t, p.Fail("A", ErrActionTimeout))

	_, err := NewActionExecutor(client, nil, ExecutorConfig{}).Execute(context.Background(), p, "A", nil, 1)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Empty(t, client.StreamCalls())
}

func TestExecute_UnknownAction(t *testing.T) {
	_, err := NewActionExecutor(&llmtest.Client{}, nil, ExecutorConfig{}).
		Execute(context.Background(), testPlan(), "nope", nil, 1)
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestExecute_CancelledContextLeavesStateToCaller(t *testing.T) {
	client := &llmtest.Client{StreamFunc: func(ctx context.Context, _ []llm.Message) ([]string, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	rec := &progress.Recorder{}
	p := testPlan()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewActionExecutor(client, rec, ExecutorConfig{}).Execute(ctx, p, "A", nil, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusInProgress, p.Status("A"))
	for _, s := range rec.Statuses() {
		assert.NotEqual(t, progress.LevelError, s.Level, s.Description)
	}
}
