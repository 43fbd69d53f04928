// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package plan

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jeranaias/planrun/internal/llm"
	"github.com/jeranaias/planrun/internal/progress"
)

// =============================================================================
// ACTION EXECUTOR
// =============================================================================

// ActionRunner executes one action of a plan. The scheduler depends on this
// interface so tests can substitute their own runner.
type ActionRunner interface {
	Execute(ctx context.Context, p *Plan, actionID string, completed Results, step int) (Output, error)
}

// ExecutorConfig controls the reflection loop.
type ExecutorConfig struct {
	// MaxRetries is the number of corrective attempts after the first one.
	MaxRetries int

	// EvaluationPause is waited before asking the evaluator.
	EvaluationPause time.Duration
}

// ActionExecutor generates an action's output, asks the model to judge it
// and retries with a correction prompt when the verdict is "no".
type ActionExecutor struct {
	client llm.Client
	events progress.Emitter
	cfg    ExecutorConfig
}

// NewActionExecutor creates an executor that reports to reporter.
func NewActionExecutor(client llm.Client, reporter progress.Reporter, cfg ExecutorConfig) *ActionExecutor {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &ActionExecutor{
		client: client,
		events: progress.NewEmitter(reporter),
		cfg:    cfg,
	}
}

// Execute runs the reflection loop for one action. completed holds the
// outputs of finished actions; only the action's dependencies are shown to
// the model. Generation and evaluation errors fail the action immediately.
// Running out of attempts on "no" verdicts completes the action with its
// last output and marks it degraded. When ctx ends mid-run the action is
// left for the caller to fail, as the scheduler does on timeout.
func (e *ActionExecutor) Execute(ctx context.Context, p *Plan, actionID string, completed Results, step int) (Output, error) {
	action, ok := p.Action(actionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, actionID)
	}

	depContext := completed.Subset(action.Dependencies)
	prompt := actionPrompt(step, action, p.Goal, depContext)
	total := e.cfg.MaxRetries + 1

	var last Output
	for attempt := 1; attempt <= total; attempt++ {
		if _, err := p.BeginAttempt(actionID); err != nil {
			// Already terminal, e.g. failed by the scheduler's deadline.
			return nil, &ActionError{ActionID: actionID, Attempt: attempt, Err: err}
		}
		e.events.Status(progress.LevelInfo,
			fmt.Sprintf("Starting (Attempt %d/%d) for action %s: %s", attempt, total, actionID, action.Description), false)
		e.events.Replace("")
		e.events.Replace(p.MermaidBlock())

		text, err := e.generate(ctx, p.Goal, prompt)
		if err != nil {
			return nil, e.fail(ctx, p, actionID, attempt, err)
		}

		out := Output{"result": text}
		if err := p.SetOutput(actionID, out); err != nil {
			return nil, &ActionError{ActionID: actionID, Attempt: attempt, Err: err}
		}
		last = out

		e.events.Status(progress.LevelInfo, "Analyzing intermediate result...", false)
		if err := sleepCtx(ctx, e.cfg.EvaluationPause); err != nil {
			return nil, e.fail(ctx, p, actionID, attempt, err)
		}

		reply, err := e.client.Complete(ctx, actionEvaluationPrompt(action, p.Goal, text))
		if err != nil {
			return nil, e.fail(ctx, p, actionID, attempt, err)
		}

		if accepted(reply) {
			if err := p.Complete(actionID, false); err != nil {
				return nil, &ActionError{ActionID: actionID, Attempt: attempt, Err: err}
			}
			e.events.Status(progress.LevelSuccess, fmt.Sprintf("Action %s completed successfully.", actionID), true)
			return out, nil
		}

		if attempt < total {
			e.events.Status(progress.LevelWarning,
				fmt.Sprintf("Action %s was not completed correctly. Retrying... (Attempt %d/%d)", actionID, attempt, total), false)
			prompt = actionCorrectionPrompt(action, p.Goal, depContext)
			continue
		}
	}

	if err := p.Complete(actionID, true); err != nil {
		return nil, &ActionError{ActionID: actionID, Attempt: total, Err: err}
	}
	e.events.Status(progress.LevelWarning,
		fmt.Sprintf("Action %s completed with warnings after %d attempts. Using last output.", actionID, total), true)
	return last, nil
}

// generate streams one completion, forwarding fragments as they arrive.
func (e *ActionExecutor) generate(ctx context.Context, goal, prompt string) (string, error) {
	var b strings.Builder
	messages := []llm.Message{
		llm.System("Goal: " + goal),
		llm.User(prompt),
	}
	err := e.client.Stream(ctx, messages, func(fragment string) error {
		b.WriteString(fragment)
		e.events.Message(fragment)
		return nil
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

// fail marks the action failed and reports it. A cancelled or expired ctx
// belongs to the caller, which records the action's terminal state itself;
// the same goes for an action some other party already finished.
func (e *ActionExecutor) fail(ctx context.Context, p *Plan, id string, attempt int, cause error) error {
	aerr := &ActionError{ActionID: id, Attempt: attempt, Err: cause}
	if ctx.Err() != nil {
		return aerr
	}
	if err := p.Fail(id, cause); err != nil {
		if !errors.Is(err, ErrInvalidTransition) {
			log.Printf("WARNING: could not mark action %s failed: %v", id, err)
		}
		return aerr
	}
	log.Printf("ERROR: generation error executing action %s: %v", id, cause)
	e.events.Status(progress.LevelError, fmt.Sprintf("API error in action %s", id), true)
	return aerr
}

// ActionRunnerFunc adapts a function to an ActionRunner.
type ActionRunnerFunc func(ctx context.Context, p *Plan, actionID string, completed Results, step int) (Output, error)

// Execute calls f.
func (f ActionRunnerFunc) Execute(ctx context.Context, p *Plan, actionID string, completed Results, step int) (Output, error) {
	return f(ctx, p, actionID, completed, step)
}
