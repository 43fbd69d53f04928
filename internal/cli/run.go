// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// run.go - The run, plan and execute commands.
//
// Command: run <goal>
//   Compile a plan, execute it and print the synthesized result.
//
// Command: plan <goal>
//   Compile only and print (or write) the plan document.
//
// Command: execute --plan FILE
//   Execute a plan written by `plan`, skipping compilation.
//
// Progress goes to stderr and the result to stdout, so
// `planrun run "..." > result.md` captures only the answer.

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"strings"
	"time"

	"github.com/jeranaias/planrun/internal/config"
	"github.com/jeranaias/planrun/internal/export"
	"github.com/jeranaias/planrun/internal/llm"
	"github.com/jeranaias/planrun/internal/plan"
	"github.com/jeranaias/planrun/internal/planner"
	"github.com/jeranaias/planrun/internal/progress"
	"github.com/jeranaias/planrun/internal/server"
)

// maxStdinGoal caps a goal read from standard input.
const maxStdinGoal = 1 << 20

const runExample = `planrun run "write a Go function that reverses a string"`

// =============================================================================
// HANDLERS
// =============================================================================

// HandleRun handles `planrun run`.
func HandleRun(ctx context.Context, app *App, args Args) error {
	goal, err := app.readGoal(args.Goal)
	if err != nil {
		return err
	}
	if goal == "" {
		return ErrMissingArgument("goal", runExample)
	}
	if args.PlanOnly {
		return HandlePlan(ctx, app, args)
	}

	client, err := app.Client()
	if err != nil {
		return err
	}
	if args.TUI {
		return app.runDashboard(ctx, args, client, goal, nil)
	}
	return app.runPipeline(ctx, args, client, goal, nil)
}

// HandlePlan handles `planrun plan`: compile only.
func HandlePlan(ctx context.Context, app *App, args Args) error {
	goal, err := app.readGoal(args.Goal)
	if err != nil {
		return err
	}
	if goal == "" {
		return ErrMissingArgument("goal", `planrun plan -o plan.yaml "set up a CI pipeline"`)
	}
	format, err := planFormat(args)
	if err != nil {
		return err
	}

	client, err := app.Client()
	if err != nil {
		return err
	}

	reporter := app.progressReporter(args, false)
	pl, err := planner.New(client, reporter, app.Config.PlannerOptions()).Compile(ctx, goal)
	if err != nil {
		return NewCommandError("plan", "compile", "could not create a plan", err)
	}

	if args.Out != "" {
		if err := plan.WriteFile(args.Out, pl); err != nil {
			return NewCommandError("plan", "write", args.Out, err)
		}
		if !args.Quiet {
			fmt.Fprintln(app.Stderr, SuccessStyle.Render(fmt.Sprintf("Plan with %d actions written to %s", len(pl.Actions), args.Out)))
		}
		return nil
	}

	data, err := plan.Encode(pl, format)
	if err != nil {
		return err
	}
	_, err = app.Stdout.Write(data)
	return err
}

// HandleExecute handles `planrun execute`.
func HandleExecute(ctx context.Context, app *App, args Args) error {
	if args.PlanFile == "" {
		return ErrMissingArgument("--plan", "planrun execute --plan plan.yaml")
	}
	pl, err := plan.LoadFile(args.PlanFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &NotFoundError{Resource: "plan file", ID: args.PlanFile}
		}
		return err
	}
	if app.Config.Planner.ValidateGraph {
		if err := plan.ValidateGraph(pl); err != nil {
			return fmt.Errorf("%s: %w", args.PlanFile, err)
		}
	}
	app.debugf("loaded plan %s with %d actions from %s", pl.ID, len(pl.Actions), args.PlanFile)

	client, err := app.Client()
	if err != nil {
		return err
	}
	if args.TUI {
		return app.runDashboard(ctx, args, client, pl.Goal, pl)
	}
	return app.runPipeline(ctx, args, client, pl.Goal, pl)
}

// =============================================================================
// PIPELINE
// =============================================================================

// runPipeline runs goal, or executes pre when it is non-nil, reporting
// progress in line mode or as JSON lines.
func (a *App) runPipeline(ctx context.Context, args Args, client llm.Client, goal string, pre *plan.Plan) error {
	jsonLines := a.jsonLines(args)
	reporter := a.progressReporter(args, jsonLines)
	p := planner.New(client, reporter, a.Config.PlannerOptions())

	started := time.Now()
	var (
		pl  *plan.Plan
		err error
	)
	if pre != nil {
		pl, err = p.Execute(ctx, pre)
	} else {
		pl, err = p.Run(ctx, goal)
	}
	log.Printf("run finished in %s: goal=%q err=%v", time.Since(started).Round(time.Millisecond), goal, err)

	if pl == nil {
		if jsonLines || a.Config.Output.Format == config.FormatJSON {
			_ = a.writeResult(nil, err, jsonLines)
		}
		return NewCommandError("run", "compile", "could not create a plan", err)
	}

	reportErr := a.writeReports(ctx, args, p, pl)

	switch {
	case jsonLines || a.Config.Output.Format == config.FormatJSON:
		if werr := a.writeResult(pl, err, jsonLines); werr != nil {
			return werr
		}
	default:
		a.printOutcome(args, pl)
	}

	if err != nil {
		return err
	}
	return reportErr
}

// jsonLines reports whether progress is streamed as JSON lines.
func (a *App) jsonLines(args Args) bool {
	return args.JSON || a.Config.Output.Format == config.FormatJSONL
}

// progressReporter picks the reporter for non-dashboard runs.
func (a *App) progressReporter(args Args, jsonLines bool) progress.Reporter {
	switch {
	case jsonLines:
		return progress.NewJSONWriter(a.Stdout)
	case args.Quiet, a.Config.Output.Format == config.FormatJSON:
		return progress.Discard
	}
	r := NewTextReporter(a.Stderr)
	r.Stream = args.Stream
	r.ShowDiagram = a.Config.Output.ShowDiagram
	r.Timestamps = a.Config.Log.Verbose
	return r
}

// writeResult prints the result line that ends a JSON run. In json (not
// jsonl) output it is the only thing printed, so it is indented.
func (a *App) writeResult(pl *plan.Plan, runErr error, jsonLines bool) error {
	ev := server.ResultEvent{Type: server.EventResult, Data: server.ResultData{Plan: pl}}
	if runErr != nil {
		ev.Data.Error = runErr.Error()
	}
	enc := json.NewEncoder(a.Stdout)
	if !jsonLines {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(ev)
}

// printOutcome prints the summary to stderr and the final result to stdout.
func (a *App) printOutcome(args Args, pl *plan.Plan) {
	if !args.Quiet {
		fmt.Fprintln(a.Stderr)
		fmt.Fprintln(a.Stderr, summaryLine(pl))
		if sum := pl.ExecutionSummary(); sum != nil && len(sum.Blocked) > 0 {
			fmt.Fprintln(a.Stderr, WarningStyle.Render("Never started: "+strings.Join(sum.Blocked, ", ")))
		}
		fmt.Fprintln(a.Stderr, Separator(min(GetTerminalWidth(), 60)))
	}

	final := pl.Final()
	if strings.TrimSpace(final) == "" {
		fmt.Fprintln(a.Stderr, WarningStyle.Render("No final result was produced."))
		return
	}
	displayResult(a.Stdout, final, a.Config.Output.RenderMarkdown && !args.NoMarkdown)
}

// summaryLine describes how the actions ended.
func summaryLine(pl *plan.Plan) string {
	sum := pl.ExecutionSummary()
	if sum == nil {
		return WarningStyle.Render("Execution did not finish")
	}
	parts := []string{fmt.Sprintf("%d/%d actions completed", sum.CompletedSteps, sum.TotalSteps)}
	if sum.FailedSteps > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", sum.FailedSteps))
	}
	if sum.DegradedSteps > 0 {
		parts = append(parts, fmt.Sprintf("%d with warnings", sum.DegradedSteps))
	}
	if !sum.ExecutionTime.Start.IsZero() && !sum.ExecutionTime.End.IsZero() {
		parts = append(parts, "in "+sum.ExecutionTime.End.Sub(sum.ExecutionTime.Start).Round(100*time.Millisecond).String())
	}

	line := strings.Join(parts, ", ")
	switch {
	case sum.FailedSteps > 0:
		return ErrorStyle.Render(line)
	case sum.DegradedSteps > 0:
		return WarningStyle.Render(line)
	default:
		return SuccessStyle.Render(line)
	}
}

// =============================================================================
// REPORTS
// =============================================================================

// writeReports writes --report and, when [output] report_dir is set, a
// Markdown report there. A title is generated only when a report is due.
func (a *App) writeReports(ctx context.Context, args Args, p *planner.Planner, pl *plan.Plan) error {
	reportDir := a.Config.Output.ReportDir
	if args.Report == "" && reportDir == "" {
		return nil
	}

	report := &export.Report{Plan: pl}
	if ctx.Err() == nil {
		title, err := p.Title(ctx, pl.Goal)
		if err != nil {
			log.Printf("WARNING: %v", err)
		}
		report.Title = title
	}

	opts := export.DefaultOptions()
	var errs []error
	if args.Report != "" {
		if err := export.WriteFile(args.Report, report, opts); err != nil {
			errs = append(errs, NewCommandError("run", "report", args.Report, err))
		} else {
			a.notef("Report written to %s", args.Report)
		}
	}
	if reportDir != "" {
		opts.OutputDir = reportDir
		path, err := export.ExportToFile(report, export.NewMarkdownExporter(opts), opts)
		if err != nil {
			errs = append(errs, NewCommandError("run", "report", reportDir, err))
		} else {
			a.notef("Report written to %s", path)
		}
	}
	return errors.Join(errs...)
}

// notef prints a one-line note to stderr.
func (a *App) notef(format string, args ...any) {
	fmt.Fprintln(a.Stderr, DimStyle.Render(fmt.Sprintf(format, args...)))
}

// =============================================================================
// HELPERS
// =============================================================================

// readGoal returns goal, or standard input when goal is "-".
func (a *App) readGoal(goal string) (string, error) {
	if goal != "-" {
		return strings.TrimSpace(goal), nil
	}
	data, err := io.ReadAll(io.LimitReader(a.Stdin, maxStdinGoal+1))
	if err != nil {
		return "", fmt.Errorf("failed to read goal from stdin: %w", err)
	}
	if len(data) > maxStdinGoal {
		return "", NewValidationError("goal", "", fmt.Sprintf("longer than %d bytes", maxStdinGoal))
	}
	return strings.TrimSpace(string(data)), nil
}

// planFormat resolves --format and --json for `plan`.
func planFormat(args Args) (plan.Format, error) {
	switch args.Format {
	case "":
		if args.JSON {
			return plan.FormatJSON, nil
		}
		return plan.FormatYAML, nil
	case "yaml", "yml":
		return plan.FormatYAML, nil
	case "json":
		return plan.FormatJSON, nil
	default:
		return "", ErrInvalidFormat("format", args.Format, "--format yaml or --format json")
	}
}
