// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// tui.go - `run --tui`: the live dashboard.

package cli

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/planrun/internal/llm"
	"github.com/jeranaias/planrun/internal/plan"
	"github.com/jeranaias/planrun/internal/planner"
	"github.com/jeranaias/planrun/internal/progress"
	"github.com/jeranaias/planrun/internal/ui"
)

// dashboardBuffer is how many progress events may queue while the
// program is busy redrawing. Streamed fragments dominate, so keep it deep.
const dashboardBuffer = 1024

type pipelineResult struct {
	plan *plan.Plan
	err  error
}

// runDashboard runs goal (or pre) under the bubbletea dashboard, then
// prints the result on the normal screen.
func (a *App) runDashboard(ctx context.Context, args Args, client llm.Client, goal string, pre *plan.Plan) error {
	if err := RequiresTTY("show the dashboard (drop --tui)"); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := ui.NewDashboard(goal, cancel).ShowDiagram(a.Config.Output.ShowDiagram)
	program := tea.NewProgram(model, tea.WithAltScreen())

	// Program.Send blocks until the event loop takes the message, so
	// reporters never talk to the program directly.
	sink := progress.NewAsync(ui.NewReporter(program), dashboardBuffer)
	p := planner.New(client, sink, a.Config.PlannerOptions())

	results := make(chan pipelineResult, 1)
	go func() {
		pl, err := pre, error(nil)
		if pl == nil {
			pl, err = p.Compile(ctx, goal)
		}
		if err == nil {
			program.Send(ui.PlanMsg{Plan: pl})
			pl, err = p.Execute(ctx, pl)
		}
		sink.Close()
		results <- pipelineResult{plan: pl, err: err}
		program.Send(ui.DoneMsg{Plan: pl, Err: err})
	}()

	final, runErr := program.Run()
	d, ok := final.(ui.Dashboard)
	if runErr != nil || !ok || !d.Done() {
		// Quit early: stop the pipeline before waiting for it.
		cancel()
	}
	res := <-results

	if runErr != nil {
		return fmt.Errorf("dashboard failed: %w", runErr)
	}
	if ok && d.Cancelled() {
		if res.plan != nil {
			a.printOutcome(args, res.plan)
		}
		return context.Canceled
	}

	if res.plan == nil {
		return NewCommandError("run", "compile", "could not create a plan", res.err)
	}
	reportErr := a.writeReports(ctx, args, p, res.plan)
	a.printOutcome(args, res.plan)
	if res.err != nil {
		return res.err
	}
	return reportErr
}
