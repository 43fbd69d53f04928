// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package plan compiles a goal into a graph of actions and runs it.
//
// A Plan is an ordered list of actions, each naming the actions it depends
// on. Running a plan has three stages:
//
//   - Compiler asks the model for a JSON plan and decodes it strictly,
//     retrying malformed replies.
//   - Scheduler admits ready actions up to a concurrency limit and hands
//     each one to an ActionExecutor, which streams the output, asks the
//     model whether it is acceptable and retries with a correction prompt
//     when it is not.
//   - Synthesizer merges all outputs into the final artifact using the
//     same generate, evaluate, correct loop.
//
// # Key Types
//
//   - Plan, Action: the graph and its run state
//   - ActionStatus: pending, in_progress, completed, failed
//   - ExecutionSummary: counts and time span written when the run ends
//   - GraphError, CompilationError, ActionError: failure reporting
//
// # Usage
//
//	compiler := plan.NewCompiler(client, plan.DefaultCompilerConfig())
//	p, err := compiler.Compile(ctx, "Write a hello-world function")
//
//	exec := plan.NewActionExecutor(client, reporter, plan.ExecutorConfig{MaxRetries: 3})
//	sched := plan.NewScheduler(exec, reporter, plan.SchedulerConfig{Concurrency: 2, ActionTimeout: 5 * time.Minute})
//	results, err := sched.Run(ctx, p)
//
//	final := plan.NewSynthesizer(client, reporter, plan.SynthesizerConfig{MaxAttempts: 3}).Synthesize(ctx, p, results)
//
// Status changes are forward only; Plan methods reject any attempt to move
// a completed or failed action. Plan.Mermaid renders the current state for
// progress displays.
package plan
