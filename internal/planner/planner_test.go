// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package planner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/planrun/internal/llm"
	"github.com/jeranaias/planrun/internal/llm/llmtest"
	"github.com/jeranaias/planrun/internal/plan"
	"github.com/jeranaias/planrun/internal/progress"
)

const helloCode = "```python\ndef hello():\n    print(\"Hello, world!\")\n```"

const helloPlan = `{
  "goal": "Write a hello-world function",
  "actions": [
    {"id": "1", "type": "code", "description": "Implement hello()", "params": {"language": "python"}, "dependencies": []}
  ],
  "metadata": {"estimated_time": "2", "complexity": "low"}
}`

const fanOutPlan = `{
  "goal": "Build a CLI",
  "actions": [
    {"id": "A", "type": "code", "description": "Parse flags", "params": {}, "dependencies": []},
    {"id": "B", "type": "code", "description": "Read config", "params": {}, "dependencies": ["A"]},
    {"id": "C", "type": "docs", "description": "Write usage", "params": {}, "dependencies": ["A"]}
  ],
  "metadata": {"estimated_time": "15", "complexity": "medium"}
}`

const danglingPlan = `{
  "goal": "g",
  "actions": [
    {"id": "A", "type": "t", "description": "first", "params": {}, "dependencies": []},
    {"id": "B", "type": "t", "description": "second", "params": {}, "dependencies": ["Z"]}
  ],
  "metadata": {"estimated_time": "1", "complexity": "low"}
}`

func testOptions() Options {
	opts := DefaultOptions()
	opts.RetryDelay = 0
	return opts
}

// scripted answers compile prompts with doc and evaluations with "yes".
func scripted(doc string, stream func(prompt string) ([]string, error)) *llmtest.Client {
	return &llmtest.Client{
		CompleteFunc: llmtest.Evaluations("yes", func(ctx context.Context, prompt string) (string, error) {
			if strings.Contains(prompt, "Given the goal:") {
				return doc, nil
			}
			return "Hello World Function", nil
		}),
		StreamFunc: func(ctx context.Context, messages []llm.Message) ([]string, error) {
			return stream(llmtest.LastUser(messages))
		},
	}
}

func TestRun_HelloWorld(t *testing.T) {
	client := scripted(helloPlan, func(prompt string) ([]string, error) {
		if strings.Contains(prompt, "Create comprehensive final output") {
			return []string{"# Hello World\n\n", helloCode, "\n"}, nil
		}
		return []string{helloCode}, nil
	})
	rec := &progress.Recorder{}

	pl, err := New(client, rec, testOptions()).Run(context.Background(), "Write a hello-world function")
	require.NoError(t, err)

	require.Len(t, pl.Actions, 1)
	assert.Empty(t, pl.Actions[0].Dependencies)
	assert.Equal(t, plan.StatusCompleted, pl.Actions[0].Status)
	assert.Equal(t, helloCode, pl.Actions[0].Output.Text())
	assert.Contains(t, pl.Final(), helloCode)

	sum := pl.ExecutionSummary()
	require.NotNil(t, sum)
	assert.Equal(t, 1, sum.CompletedSteps)
	assert.Zero(t, sum.FailedSteps)

	// One generation and one evaluation for the action, the same for synthesis.
	assert.Len(t, client.StreamCalls(), 2)
	assert.Len(t, client.CompleteCalls(), 3)

	statuses := rec.Statuses()
	require.NotEmpty(t, statuses)
	assert.Equal(t, "Creating execution plan...", statuses[0].Description)
	last := statuses[len(statuses)-1]
	assert.Equal(t, "Execution complete", last.Description)
	assert.Equal(t, progress.LevelSuccess, last.Level)
	assert.True(t, last.Done)

	assert.Contains(t, rec.Messages(), helloCode)
}

func TestExecute_FanOutWaitsForRoot(t *testing.T) {
	var pl *plan.Plan
	var mu sync.Mutex
	var order []string
	client := scripted(fanOutPlan, func(prompt string) ([]string, error) {
		for _, step := range []struct{ id, desc string }{{"A", "Parse flags"}, {"B", "Read config"}, {"C", "Write usage"}} {
			if strings.Contains(prompt, ": "+step.desc+"\n") {
				if step.id != "A" && pl.Status("A") != plan.StatusCompleted {
					return nil, errors.New(step.id + " started before A completed")
				}
				mu.Lock()
				order = append(order, step.id)
				mu.Unlock()
				return []string{"done " + step.id}, nil
			}
		}
		return []string{"final"}, nil
	})

	opts := testOptions()
	opts.ConcurrentActions = 2
	p := New(client, nil, opts)

	var err error
	pl, err = p.Compile(context.Background(), "Build a CLI")
	require.NoError(t, err)
	_, err = p.Execute(context.Background(), pl)
	require.NoError(t, err)

	require.Len(t, order, 3)
	assert.Equal(t, "A", order[0])
	assert.ElementsMatch(t, []string{"B", "C"}, order[1:])
	for _, a := range pl.Actions {
		assert.Equal(t, plan.StatusCompleted, a.Status, a.ID)
	}
	assert.Equal(t, "final", pl.Final())
}

func TestRun_DanglingDependency(t *testing.T) {
	stream := func(prompt string) ([]string, error) { return []string{"ok"}, nil }

	t.Run("validated", func(t *testing.T) {
		client := scripted(danglingPlan, stream)
		rec := &progress.Recorder{}
		_, err := New(client, rec, testOptions()).Run(context.Background(), "g")

		var ce *plan.CompilationError
		require.ErrorAs(t, err, &ce)
		assert.ErrorIs(t, err, plan.ErrUnknownDependency)
		assert.Empty(t, client.StreamCalls())

		last := rec.Statuses()[len(rec.Statuses())-1]
		assert.Equal(t, progress.LevelError, last.Level)
		assert.True(t, last.Done)
	})

	t.Run("unvalidated", func(t *testing.T) {
		opts := testOptions()
		opts.ValidateGraph = false
		pl, err := New(scripted(danglingPlan, stream), nil, opts).Run(context.Background(), "g")
		require.NoError(t, err)

		assert.Equal(t, plan.StatusCompleted, pl.Actions[0].Status)
		assert.Equal(t, plan.StatusPending, pl.Actions[1].Status)
		sum := pl.ExecutionSummary()
		assert.GreaterOrEqual(t, sum.FailedSteps, 1)
		assert.Equal(t, sum.TotalSteps, sum.CompletedSteps+sum.FailedSteps)
	})
}

func TestRun_TransportFailureIsolated(t *testing.T) {
	doc := `{"goal":"g","actions":[
		{"id":"A","type":"t","description":"breaks","params":{},"dependencies":[]},
		{"id":"B","type":"t","description":"works","params":{},"dependencies":[]}
	],"metadata":{"estimated_time":"1","complexity":"low"}}`
	client := scripted(doc, func(prompt string) ([]string, error) {
		if strings.Contains(prompt, ": breaks\n") {
			return nil, errors.New("connection refused")
		}
		return []string{"fine"}, nil
	})

	pl, err := New(client, nil, testOptions()).Run(context.Background(), "g")
	require.NoError(t, err)
	assert.Equal(t, plan.StatusFailed, pl.Actions[0].Status)
	assert.Equal(t, plan.StatusCompleted, pl.Actions[1].Status)

	sum := pl.ExecutionSummary()
	assert.Equal(t, 1, sum.CompletedSteps)
	assert.Equal(t, 1, sum.FailedSteps)
}

func TestRun_CompileFailure(t *testing.T) {
	client := &llmtest.Client{CompleteFunc: llmtest.Sequence("I cannot help with that.")}
	_, err := New(client, nil, testOptions()).Run(context.Background(), "g")

	var ce *plan.CompilationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 3, ce.Attempts)
}

func TestTitle(t *testing.T) {
	client := &llmtest.Client{CompleteFunc: llmtest.Sequence("\"Hello World Function\"\n")}
	title, err := New(client, nil, testOptions()).Title(context.Background(), "Write a hello-world function")
	require.NoError(t, err)
	assert.Equal(t, "Planner: Hello World Function", title)

	calls := client.CompleteCalls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], "Request: Write a hello-world function")

	_, err = New(client, nil, testOptions()).Title(context.Background(), " ")
	assert.ErrorIs(t, err, plan.ErrEmptyGoal)
}

func TestTitle_FallsBackToGoal(t *testing.T) {
	client := &llmtest.Client{CompleteFunc: llmtest.Sequence("  ")}
	title, err := New(client, nil, testOptions()).Title(context.Background(), "Summarize the quarterly report")
	require.NoError(t, err)
	assert.Equal(t, "Planner: Summarize the quarterly report", title)
}
