// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/planrun/internal/progress"
)

// Sender is the part of *tea.Program the reporter needs.
type Sender interface {
	Send(msg tea.Msg)
}

// Reporter forwards progress events into a running program.
// tea.Program.Send blocks until the event loop takes the message, so wrap
// the reporter in progress.NewAsync when it sits on a generation path.
type Reporter struct {
	sender Sender
}

var _ progress.Reporter = (*Reporter)(nil)

// NewReporter creates a reporter that sends to s.
func NewReporter(s Sender) *Reporter {
	return &Reporter{sender: s}
}

// Emit implements progress.Reporter.
func (r *Reporter) Emit(ev progress.Event) {
	r.sender.Send(EventMsg{Event: ev})
}
