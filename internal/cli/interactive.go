// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// interactive.go - `planrun interactive`: a goal prompt with history.
//
// Every line is a goal and runs the full pipeline. Ctrl+C during a run
// cancels that run only; Ctrl+C or Ctrl+D at the prompt exits.
//
// Commands:
//   /plan <goal>     Compile only and print the plan
//   /diagram         Toggle the Mermaid diagram after compilation
//   /stream          Toggle echoing generated text
//   /report <file>   Write a report for the next runs (/report off to stop)
//   /help            Show commands
//   /quit, /exit     Leave

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"

	"github.com/peterh/liner"

	"github.com/jeranaias/planrun/internal/config"
	"github.com/jeranaias/planrun/internal/llm"
	"github.com/jeranaias/planrun/internal/ui/styles"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// historyFileName lives in the config directory.
const historyFileName = "interactive_history"

// promptText stays unstyled: liner rejects prompts with escape sequences.
const promptText = "planrun> "

// LineReader provides line editing and persistent history.
type LineReader struct {
	line        *liner.State
	historyFile string
}

// NewLineReader creates a LineReader and loads saved history.
func NewLineReader() *LineReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}
	r := &LineReader{
		line:        line,
		historyFile: filepath.Join(configDir, historyFileName),
	}
	r.loadHistory()
	return r
}

func (r *LineReader) loadHistory() {
	if f, err := os.Open(r.historyFile); err == nil {
		_, _ = r.line.ReadHistory(f)
		f.Close()
	}
}

// ReadLine reads a line of input. Non-empty lines are added to history.
func (r *LineReader) ReadLine(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

// saveHistory writes history owner-readable only; goals can be sensitive.
func (r *LineReader) saveHistory() {
	if err := os.MkdirAll(filepath.Dir(r.historyFile), 0o700); err != nil {
		return
	}
	f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = r.line.WriteHistory(f)
}

// Close saves history and restores the terminal.
func (r *LineReader) Close() error {
	r.saveHistory()
	return r.line.Close()
}

// =============================================================================
// SESSION
// =============================================================================

// interactiveSession holds the state of one REPL.
type interactiveSession struct {
	app    *App
	args   Args
	client llm.Client

	mu     sync.Mutex
	cancel context.CancelFunc

	runs int
}

// HandleInteractive handles `planrun interactive`.
func HandleInteractive(ctx context.Context, app *App, args Args) error {
	if err := RequiresTTY("read goals interactively"); err != nil {
		return err
	}
	client, err := app.Client()
	if err != nil {
		return err
	}

	s := &interactiveSession{app: app, args: args, client: client}

	reader := NewLineReader()
	defer reader.Close()

	// Ctrl+C outside the prompt arrives as a signal; it cancels the
	// current run instead of killing the process.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	defer signal.Stop(sigChan)
	go func() {
		for range sigChan {
			if s.cancelRun() {
				fmt.Fprintln(app.Stderr, "\n"+WarningStyle.Render("[Cancelled]"))
			}
		}
	}()

	if !args.Quiet {
		s.printWelcome()
	}

	for {
		input, err := reader.ReadLine(promptText)
		if err != nil {
			if !errors.Is(err, liner.ErrPromptAborted) && !errors.Is(err, io.EOF) {
				return err
			}
			fmt.Fprintln(app.Stdout)
			s.printExitSummary()
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if !s.handleLine(ctx, strings.TrimSpace(input)) {
			s.printExitSummary()
			return nil
		}
	}
}

// handleLine runs one input line. It returns false when the user quits.
func (s *interactiveSession) handleLine(ctx context.Context, input string) bool {
	if input == "" {
		return true
	}
	if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
		return false
	}
	if !strings.HasPrefix(input, "/") {
		s.run(ctx, input, false)
		return true
	}

	cmd, rest, _ := strings.Cut(input, " ")
	rest = strings.TrimSpace(rest)
	switch strings.ToLower(cmd) {
	case "/quit", "/exit", "/q":
		return false
	case "/help", "/h", "/?":
		s.printHelp()
	case "/plan", "/p":
		if rest == "" {
			s.errorf("usage: /plan <goal>")
			break
		}
		s.run(ctx, rest, true)
	case "/diagram", "/d":
		s.app.Config.Output.ShowDiagram = !s.app.Config.Output.ShowDiagram
		s.notef("Diagram %s", onOff(s.app.Config.Output.ShowDiagram))
	case "/stream", "/s":
		s.args.Stream = !s.args.Stream
		s.notef("Streaming %s", onOff(s.args.Stream))
	case "/report", "/r":
		switch rest {
		case "":
			s.errorf("usage: /report <file.md|file.json|file.html> or /report off")
		case "off":
			s.args.Report = ""
			s.notef("Reports off")
		default:
			s.args.Report = rest
			s.notef("Reports will be written to %s", rest)
		}
	default:
		s.errorf("unknown command %s (try /help)", cmd)
	}
	return true
}

// run executes one goal with its own cancellable context.
func (s *interactiveSession) run(ctx context.Context, goal string, planOnly bool) {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
		cancel()
	}()

	args := s.args
	args.Goal = goal
	args.JSON = false
	args.PlanOnly = planOnly

	var err error
	if planOnly {
		err = HandlePlan(runCtx, s.app, args)
	} else {
		s.runs++
		err = s.app.runPipeline(runCtx, args, s.client, goal, nil)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		s.errorf("%v", err)
	}
	fmt.Fprintln(s.app.Stdout)
}

// cancelRun cancels the current run, reporting whether one was active.
func (s *interactiveSession) cancelRun() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	s.cancel = nil
	return true
}

func (s *interactiveSession) printWelcome() {
	fmt.Fprintln(s.app.Stdout, TitleStyle.Render("planrun interactive"))
	fmt.Fprintln(s.app.Stdout, DimStyle.Render(fmt.Sprintf("Backend: %s  Model: %s", s.app.Config.Backend.Provider, modelName(s.app.Config))))
	fmt.Fprintln(s.app.Stdout, DimStyle.Render("Type a goal and press Enter. /help for commands, Ctrl+D to exit."))
	fmt.Fprintln(s.app.Stdout)
}

func (s *interactiveSession) printHelp() {
	fmt.Fprintln(s.app.Stdout, SectionStyle.Render("Commands"))
	for _, row := range [][2]string{
		{"<goal>", "Plan, execute and synthesize the goal"},
		{"/plan <goal>", "Compile only and print the plan"},
		{"/diagram", "Toggle the plan diagram"},
		{"/stream", "Toggle echoing generated text"},
		{"/report <file>", "Write a report after each run (/report off)"},
		{"/quit", "Leave (also Ctrl+D)"},
	} {
		fmt.Fprintln(s.app.Stdout, "  "+FormatKeyValue(row[0], row[1]))
	}
}

func (s *interactiveSession) printExitSummary() {
	if s.args.Quiet {
		return
	}
	fmt.Fprintln(s.app.Stdout, DimStyle.Render(fmt.Sprintf("%d goal(s) run this session.", s.runs)))
}

func (s *interactiveSession) notef(format string, args ...any) {
	fmt.Fprintln(s.app.Stdout, styles.RenderInfo(fmt.Sprintf(format, args...)))
}

func (s *interactiveSession) errorf(format string, args ...any) {
	fmt.Fprintf(s.app.Stderr, "%s %s\n", ErrorStyle.Render("[Error]"), fmt.Sprintf(format, args...))
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// modelName is the model the configured backend will use.
func modelName(cfg *config.Config) string {
	if cfg.Planner.Model != "" {
		return cfg.Planner.Model
	}
	return "(backend default)"
}
