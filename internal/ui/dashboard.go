// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/planrun/internal/plan"
	"github.com/jeranaias/planrun/internal/progress"
	"github.com/jeranaias/planrun/internal/ui/styles"
	"github.com/jeranaias/planrun/internal/util"
)

// =============================================================================
// MESSAGES
// =============================================================================

// EventMsg carries one progress event into the program.
type EventMsg struct {
	Event progress.Event
}

// PlanMsg announces the compiled plan. The dashboard reads it on every
// redraw, so later status changes show up without further messages.
type PlanMsg struct {
	Plan *plan.Plan
}

// DoneMsg ends the run. Plan may be nil when compilation failed.
type DoneMsg struct {
	Plan *plan.Plan
	Err  error
}

// =============================================================================
// DASHBOARD MODEL
// =============================================================================

const (
	defaultWidth  = 80
	defaultHeight = 24
	minOutputRows = 3
)

// Dashboard is the bubbletea model behind `run --tui`. It lists the plan's
// actions with their state, optionally shows the Mermaid source, and
// streams generated text into a scrollable viewport.
type Dashboard struct {
	goal   string
	cancel context.CancelFunc

	spinner spinner.Model
	output  viewport.Model

	plan        *plan.Plan
	content     string
	diagram     string
	status      progress.EventData
	showDiagram bool

	width   int
	height  int
	started time.Time

	done      bool
	cancelled bool
	err       error
}

// NewDashboard creates the model. cancel is invoked when the user quits
// before the run finishes; it may be nil.
func NewDashboard(goal string, cancel context.CancelFunc) Dashboard {
	s := spinner.New()
	s.Spinner = spinner.Spinner{
		Frames: []string{"|", "/", "-", "\\"},
		FPS:    time.Second / 10,
	}
	s.Style = lipgloss.NewStyle().Foreground(styles.Cyan)

	d := Dashboard{
		goal:    goal,
		cancel:  cancel,
		spinner: s,
		output:  viewport.New(defaultWidth, minOutputRows),
		width:   defaultWidth,
		height:  defaultHeight,
		started: time.Now(),
	}
	d.resize()
	return d
}

// ShowDiagram toggles the Mermaid panel.
func (d Dashboard) ShowDiagram(show bool) Dashboard {
	d.showDiagram = show
	d.resize()
	return d
}

// Err returns the error the run finished with.
func (d Dashboard) Err() error { return d.err }

// Done reports whether the run finished.
func (d Dashboard) Done() bool { return d.done }

// Cancelled reports whether the user quit before the run finished.
func (d Dashboard) Cancelled() bool { return d.cancelled }

// Init starts the spinner.
func (d Dashboard) Init() tea.Cmd {
	return d.spinner.Tick
}

// Update handles a message.
func (d Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		d.width = msg.Width
		d.height = msg.Height
		d.resize()
		return d, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if !d.done {
				d.cancelled = true
				if d.cancel != nil {
					d.cancel()
				}
			}
			return d, tea.Quit
		case "d":
			d.showDiagram = !d.showDiagram
			d.resize()
			return d, nil
		}
		var cmd tea.Cmd
		d.output, cmd = d.output.Update(msg)
		return d, cmd

	case spinner.TickMsg:
		if d.done {
			return d, nil
		}
		var cmd tea.Cmd
		d.spinner, cmd = d.spinner.Update(msg)
		return d, cmd

	case EventMsg:
		d.apply(msg.Event)
		return d, nil

	case PlanMsg:
		d.plan = msg.Plan
		d.resize()
		return d, nil

	case DoneMsg:
		d.done = true
		d.err = msg.Err
		if msg.Plan != nil {
			d.plan = msg.Plan
		}
		return d, tea.Quit
	}
	return d, nil
}

func (d *Dashboard) apply(ev progress.Event) {
	switch ev.Type {
	case progress.EventMessage:
		d.content += ev.Data.Content
		atBottom := d.output.AtBottom()
		d.output.SetContent(d.content)
		if atBottom {
			d.output.GotoBottom()
		}
	case progress.EventReplace:
		d.diagram = strings.TrimSpace(ev.Data.Content)
		d.resize()
	case progress.EventStatus:
		d.status = ev.Data
	}
}

// resize gives the viewport whatever rows the fixed panels leave.
func (d *Dashboard) resize() {
	fixed := 2 + 1 + d.planRows() + 1 + 1 + 1
	if d.showDiagram && d.diagram != "" {
		fixed += strings.Count(d.diagram, "\n") + 2
	}
	rows := d.height - fixed
	if rows < minOutputRows {
		rows = minOutputRows
	}
	d.output.Width = d.width
	d.output.Height = rows
}

func (d *Dashboard) planRows() int {
	if d.plan == nil {
		return 1
	}
	return len(d.plan.Clone().Actions)
}

// =============================================================================
// VIEW
// =============================================================================

// View renders the dashboard.
func (d Dashboard) View() string {
	var sb strings.Builder

	sb.WriteString(styles.Title.Render("planrun"))
	sb.WriteString("  ")
	sb.WriteString(styles.Muted.Render(fmt.Sprintf("%s elapsed", time.Since(d.started).Round(time.Second))))
	sb.WriteString("\n")
	sb.WriteString(util.TruncateWidth("Goal: "+util.FirstLine(d.goal), d.width))
	sb.WriteString("\n\n")

	sb.WriteString(d.renderActions())
	sb.WriteString("\n")

	if d.showDiagram && d.diagram != "" {
		sb.WriteString(styles.Muted.Render(d.diagram))
		sb.WriteString("\n\n")
	}

	rule := lipgloss.NewStyle().Foreground(styles.Overlay).Render(strings.Repeat("-", max(d.width, 1)))
	sb.WriteString(rule)
	sb.WriteString("\n")
	sb.WriteString(d.output.View())
	sb.WriteString("\n")
	sb.WriteString(rule)
	sb.WriteString("\n")
	sb.WriteString(d.renderStatus())
	return sb.String()
}

func (d Dashboard) renderActions() string {
	if d.plan == nil {
		if d.done {
			return styles.RenderError("No plan was created")
		}
		return d.spinner.View() + " Creating execution plan..."
	}

	snapshot := d.plan.Clone()
	lines := make([]string, 0, len(snapshot.Actions))
	for i := range snapshot.Actions {
		lines = append(lines, d.renderAction(i+1, &snapshot.Actions[i]))
	}
	return strings.Join(lines, "\n")
}

func (d Dashboard) renderAction(num int, a *plan.Action) string {
	indicator := styles.ActionIndicator(a.Status)
	prefix := fmt.Sprintf("  %-4s %2d. ", indicator, num)

	var suffix string
	switch {
	case a.Status == plan.StatusInProgress:
		suffix = fmt.Sprintf(" (%s, attempt %d)", a.Duration().Round(time.Second), a.Attempts)
	case a.Status == plan.StatusFailed && a.Error != "":
		suffix = " - " + a.Error
	case a.Degraded:
		suffix = " (degraded)"
	case a.Status == plan.StatusCompleted:
		suffix = fmt.Sprintf(" (%s)", a.Duration().Round(100*time.Millisecond))
	}

	text := util.TruncateWidth(a.ID+": "+a.Description+suffix, d.width-lipgloss.Width(prefix))
	style := lipgloss.NewStyle().Foreground(styles.ActionColor(a.Status))
	if a.Status == plan.StatusInProgress {
		style = style.Bold(true)
	}
	return style.Render(prefix + text)
}

func (d Dashboard) renderStatus() string {
	var parts []string

	desc := d.status.Description
	switch {
	case d.done && d.err != nil:
		parts = append(parts, styles.RenderError(util.FirstLine(d.err.Error())))
	case d.status.Level == progress.LevelError:
		parts = append(parts, styles.RenderError(util.FirstLine(desc)))
	case d.status.Level == progress.LevelWarning:
		parts = append(parts, styles.RenderWarning(util.FirstLine(desc)))
	case d.done || d.status.Level == progress.LevelSuccess:
		parts = append(parts, styles.RenderSuccess(util.FirstLine(desc)))
	default:
		parts = append(parts, d.spinner.View()+" "+util.FirstLine(desc))
	}

	if d.plan != nil {
		counts := d.plan.Counts()
		total := len(d.plan.Clone().Actions)
		parts = append(parts, fmt.Sprintf("%d/%d done", counts[plan.StatusCompleted]+counts[plan.StatusFailed], total))
		if n := counts[plan.StatusFailed]; n > 0 {
			parts = append(parts, lipgloss.NewStyle().Foreground(styles.Rose).Render(fmt.Sprintf("%d failed", n)))
		}
	}
	parts = append(parts, styles.Muted.Render("q quit  d diagram  up/down scroll"))

	return strings.Join(parts, "  |  ")
}
