// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package planner runs the full goal pipeline: compile a plan, execute it,
// synthesize the final artifact.
package planner

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jeranaias/planrun/internal/llm"
	"github.com/jeranaias/planrun/internal/plan"
	"github.com/jeranaias/planrun/internal/progress"
	"github.com/jeranaias/planrun/internal/util"
)

// TitlePrefix starts every generated title.
const TitlePrefix = "Planner: "

// Options tune the pipeline.
type Options struct {
	// MaxRetries bounds corrective attempts per action and synthesis
	// attempts. Plan compilation makes max(1, MaxRetries) attempts.
	MaxRetries int

	// ConcurrentActions is the number of actions run at once.
	ConcurrentActions int

	// ActionTimeout bounds a single action. Zero disables it.
	ActionTimeout time.Duration

	// RetryDelay separates compile and synthesis retries.
	RetryDelay time.Duration

	// EvaluationPause is waited before each yes/no evaluation.
	EvaluationPause time.Duration

	// ValidateGraph rejects compiled plans with dangling or cyclic
	// dependencies.
	ValidateGraph bool
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		MaxRetries:        3,
		ConcurrentActions: 2,
		ActionTimeout:     300 * time.Second,
		RetryDelay:        time.Second,
		ValidateGraph:     true,
	}
}

// Planner wires the compiler, scheduler and synthesizer to one client and
// one reporter. A Planner can run many goals, one plan per call.
type Planner struct {
	client      llm.Client
	events      progress.Emitter
	compiler    *plan.Compiler
	scheduler   *plan.Scheduler
	synthesizer *plan.Synthesizer
}

// New creates a planner.
func New(client llm.Client, reporter progress.Reporter, opts Options) *Planner {
	executor := plan.NewActionExecutor(client, reporter, plan.ExecutorConfig{
		MaxRetries:      opts.MaxRetries,
		EvaluationPause: opts.EvaluationPause,
	})
	return &Planner{
		client: client,
		events: progress.NewEmitter(reporter),
		compiler: plan.NewCompiler(client, plan.CompilerConfig{
			MaxAttempts:   opts.MaxRetries,
			RetryDelay:    opts.RetryDelay,
			ValidateGraph: opts.ValidateGraph,
		}),
		scheduler: plan.NewScheduler(executor, reporter, plan.SchedulerConfig{
			Concurrency:   opts.ConcurrentActions,
			ActionTimeout: opts.ActionTimeout,
		}),
		synthesizer: plan.NewSynthesizer(client, reporter, plan.SynthesizerConfig{
			MaxAttempts:     opts.MaxRetries,
			RetryDelay:      opts.RetryDelay,
			EvaluationPause: opts.EvaluationPause,
		}),
	}
}

// Run compiles goal and executes the resulting plan. Compilation failure is
// returned as an error; action and synthesis failures are recorded in the
// returned plan instead.
func (p *Planner) Run(ctx context.Context, goal string) (*plan.Plan, error) {
	pl, err := p.Compile(ctx, goal)
	if err != nil {
		return nil, err
	}
	return p.Execute(ctx, pl)
}

// Compile produces a plan for goal and shows its initial diagram.
func (p *Planner) Compile(ctx context.Context, goal string) (*plan.Plan, error) {
	p.events.Status(progress.LevelInfo, "Creating execution plan...", false)
	pl, err := p.compiler.Compile(ctx, goal)
	if err != nil {
		log.Printf("ERROR: %v", err)
		p.events.Status(progress.LevelError, fmt.Sprintf("Failed to create execution plan: %v", err), true)
		return nil, err
	}
	p.events.Replace(pl.MermaidBlock())
	return pl, nil
}

// Execute runs an already compiled plan and synthesizes the final output.
// The plan is updated in place and returned. A cancelled context stops the
// run before synthesis and is returned as the error.
func (p *Planner) Execute(ctx context.Context, pl *plan.Plan) (*plan.Plan, error) {
	p.events.Status(progress.LevelInfo, "Executing plan...", false)
	results, err := p.scheduler.Run(ctx, pl)
	if err != nil {
		p.events.Status(progress.LevelError, fmt.Sprintf("Execution stopped: %v", err), true)
		return pl, err
	}

	p.events.Status(progress.LevelInfo, "Creating final result...", false)
	p.synthesizer.Synthesize(ctx, pl, results)

	p.events.Status(progress.LevelSuccess, "Execution complete", true)
	return pl, nil
}

// Title asks for a short title for goal with one non-streamed completion.
func (p *Planner) Title(ctx context.Context, goal string) (string, error) {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return "", plan.ErrEmptyGoal
	}
	reply, err := p.client.Complete(ctx, titlePrompt(goal))
	if err != nil {
		return "", fmt.Errorf("failed to generate title: %w", err)
	}
	title := strings.Trim(util.FirstLine(reply), "\"'# ")
	if title == "" {
		title = util.TruncateRunes(goal, 40)
	}
	return TitlePrefix + title, nil
}

func titlePrompt(goal string) string {
	return fmt.Sprintf(`Create a concise title of 3-5 words for the following request.
Respond with only the title, without quotes or punctuation at the end.

Request: %s
`, goal)
}
