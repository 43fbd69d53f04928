// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"errors"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/planrun/internal/plan"
	"github.com/jeranaias/planrun/internal/progress"
)

func update(t *testing.T, d Dashboard, msg tea.Msg) (Dashboard, tea.Cmd) {
	t.Helper()
	m, cmd := d.Update(msg)
	next, ok := m.(Dashboard)
	require.True(t, ok)
	return next, cmd
}

func testPlan() *plan.Plan {
	return plan.New("Write a hello world function", []plan.Action{
		{ID: "impl", Type: "code", Description: "Implement the function"},
		{ID: "docs", Type: "text", Description: "Document it", Dependencies: []string{"impl"}},
	}, nil)
}

func TestDashboard_CompilingView(t *testing.T) {
	d := NewDashboard("Write a hello world function", nil)
	d, _ = update(t, d, tea.WindowSizeMsg{Width: 100, Height: 30})

	view := d.View()
	assert.Contains(t, view, "Goal: Write a hello world function")
	assert.Contains(t, view, "Creating execution plan...")
}

func TestDashboard_PlanRows(t *testing.T) {
	pl := testPlan()
	d := NewDashboard(pl.Goal, nil)
	d, _ = update(t, d, tea.WindowSizeMsg{Width: 100, Height: 30})
	d, _ = update(t, d, PlanMsg{Plan: pl})

	view := d.View()
	assert.Contains(t, view, "impl: Implement the function")
	assert.Contains(t, view, "docs: Document it")
	assert.Contains(t, view, "[ ]")
	assert.Contains(t, view, "0/2 done")

	_, err := pl.BeginAttempt("impl")
	require.NoError(t, err)
	require.NoError(t, pl.SetOutput("impl", plan.Output{"text": "x"}))
	require.NoError(t, pl.Complete("impl", false))
	require.NoError(t, pl.Fail("docs", errors.New("connection refused")))

	view = d.View()
	assert.Contains(t, view, "[OK]")
	assert.Contains(t, view, "[X]")
	assert.Contains(t, view, "connection refused")
	assert.Contains(t, view, "2/2 done")
	assert.Contains(t, view, "1 failed")
}

func TestDashboard_Events(t *testing.T) {
	d := NewDashboard("goal", nil)
	d, _ = update(t, d, tea.WindowSizeMsg{Width: 100, Height: 30})

	d, _ = update(t, d, EventMsg{Event: progress.MessageEvent("Hello ")})
	d, _ = update(t, d, EventMsg{Event: progress.MessageEvent("World")})
	d, _ = update(t, d, EventMsg{Event: progress.StatusEvent(progress.LevelInfo, "Executing plan...", false)})
	assert.Contains(t, d.View(), "Hello World")
	assert.Contains(t, d.View(), "Executing plan...")

	diagram := "\n\n```mermaid\ngraph TD\n    Start[\"Goal: goal\"]\n```\n"
	d, _ = update(t, d, EventMsg{Event: progress.ReplaceEvent(diagram)})
	assert.NotContains(t, d.View(), "graph TD")

	d, _ = update(t, d, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")})
	assert.Contains(t, d.View(), "graph TD")
}

func TestDashboard_StatusLevels(t *testing.T) {
	d := NewDashboard("goal", nil)
	d, _ = update(t, d, EventMsg{Event: progress.StatusEvent(progress.LevelWarning, "Action 1 completed with warnings", false)})
	assert.Contains(t, d.View(), "[!] Action 1 completed with warnings")

	d, _ = update(t, d, EventMsg{Event: progress.StatusEvent(progress.LevelError, "API error in action 1", false)})
	assert.Contains(t, d.View(), "[X] API error in action 1")
}

func TestDashboard_DoneQuits(t *testing.T) {
	pl := testPlan()
	d := NewDashboard(pl.Goal, nil)
	d, cmd := update(t, d, DoneMsg{Plan: pl})

	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
	assert.True(t, d.Done())
	assert.False(t, d.Cancelled())
	assert.NoError(t, d.Err())
}

func TestDashboard_DoneWithoutPlan(t *testing.T) {
	d := NewDashboard("goal", nil)
	d, _ = update(t, d, DoneMsg{Err: errors.New("compile failed")})

	view := d.View()
	assert.Contains(t, view, "No plan was created")
	assert.Contains(t, view, "compile failed")
	assert.EqualError(t, d.Err(), "compile failed")
}

func TestDashboard_QuitCancelsRun(t *testing.T) {
	cancelled := false
	d := NewDashboard("goal", func() { cancelled = true })

	d, cmd := update(t, d, tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.True(t, cancelled)
	assert.True(t, d.Cancelled())
}

func TestDashboard_QuitAfterDoneDoesNotCancel(t *testing.T) {
	cancelled := false
	d := NewDashboard("goal", func() { cancelled = true })
	d, _ = update(t, d, DoneMsg{})
	d, _ = update(t, d, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})

	assert.False(t, cancelled)
	assert.False(t, d.Cancelled())
}

type sendRecorder struct {
	mu   sync.Mutex
	msgs []tea.Msg
}

func (s *sendRecorder) Send(msg tea.Msg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
}

func TestReporter_ForwardsEvents(t *testing.T) {
	rec := &sendRecorder{}
	r := NewReporter(rec)

	r.Emit(progress.MessageEvent("a"))
	r.Emit(progress.StatusEvent(progress.LevelSuccess, "Execution complete", true))

	require.Len(t, rec.msgs, 2)
	assert.Equal(t, EventMsg{Event: progress.MessageEvent("a")}, rec.msgs[0])
	ev := rec.msgs[1].(EventMsg).Event
	assert.Equal(t, progress.EventStatus, ev.Type)
	assert.True(t, ev.Data.Done)
}
