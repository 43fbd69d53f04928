// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/planrun/internal/plan"
)

// =============================================================================
// ACCENT COLORS
// =============================================================================

// Purple - Primary accent, headings, the goal line
var Purple = lipgloss.AdaptiveColor{Light: "#7C3AED", Dark: "#A78BFA"}

// Cyan - Info, step numbers, streamed output headers
var Cyan = lipgloss.AdaptiveColor{Light: "#0891B2", Dark: "#22D3EE"}

// Emerald - Completed actions
var Emerald = lipgloss.AdaptiveColor{Light: "#059669", Dark: "#34D399"}

// Rose - Failed actions, errors
var Rose = lipgloss.AdaptiveColor{Light: "#E11D48", Dark: "#FB7185"}

// Amber - Running actions, warnings, degraded output
var Amber = lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#FBBF24"}

// =============================================================================
// SURFACE AND TEXT
// =============================================================================

// Overlay - Borders, separators
var Overlay = lipgloss.AdaptiveColor{Light: "#E5E5E5", Dark: "#313244"}

// SurfaceDim - Header and status line background
var SurfaceDim = lipgloss.AdaptiveColor{Light: "#F5F5F5", Dark: "#181825"}

// TextPrimary - Main body text
var TextPrimary = lipgloss.AdaptiveColor{Light: "#1F2937", Dark: "#CDD6F4"}

// TextSecondary - Labels, less prominent text
var TextSecondary = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#A6ADC8"}

// TextMuted - Hints, timestamps, pending actions
var TextMuted = lipgloss.AdaptiveColor{Light: "#9CA3AF", Dark: "#6C7086"}

// =============================================================================
// ACCESSIBILITY: Shapes alongside colors
// =============================================================================

// StatusIndicatorSet contains text indicators for status states.
// They carry the state without relying on color.
type StatusIndicatorSet struct {
	Success string
	Error   string
	Warning string
	Info    string
	Pending string
	Active  string
}

// StatusIndicators are ASCII-only so they survive any terminal.
var StatusIndicators = StatusIndicatorSet{
	Success: "[OK]",
	Error:   "[X]",
	Warning: "[!]",
	Info:    "[i]",
	Pending: "[ ]",
	Active:  "[*]",
}

// =============================================================================
// ACTION STATUS
// =============================================================================

// ActionColor returns the color used for an action in the given state.
func ActionColor(s plan.ActionStatus) lipgloss.AdaptiveColor {
	switch s {
	case plan.StatusInProgress:
		return Amber
	case plan.StatusCompleted:
		return Emerald
	case plan.StatusFailed:
		return Rose
	default:
		return TextMuted
	}
}

// ActionIndicator returns the ASCII indicator for an action state.
func ActionIndicator(s plan.ActionStatus) string {
	switch s {
	case plan.StatusInProgress:
		return StatusIndicators.Active
	case plan.StatusCompleted:
		return StatusIndicators.Success
	case plan.StatusFailed:
		return StatusIndicators.Error
	default:
		return StatusIndicators.Pending
	}
}

// RenderAction renders the indicator for s in its color.
func RenderAction(s plan.ActionStatus) string {
	return lipgloss.NewStyle().Foreground(ActionColor(s)).Render(ActionIndicator(s))
}

// =============================================================================
// MESSAGE HELPERS
// =============================================================================

// Title renders a bold purple heading.
var Title = lipgloss.NewStyle().Bold(true).Foreground(Purple)

// Muted renders secondary text.
var Muted = lipgloss.NewStyle().Foreground(TextMuted)

// RenderSuccess renders a success message with its indicator.
func RenderSuccess(message string) string {
	return lipgloss.NewStyle().Foreground(Emerald).Bold(true).
		Render(StatusIndicators.Success + " " + message)
}

// RenderError renders an error message with its indicator.
func RenderError(message string) string {
	return lipgloss.NewStyle().Foreground(Rose).Bold(true).
		Render(StatusIndicators.Error + " " + message)
}

// RenderWarning renders a warning message with its indicator.
func RenderWarning(message string) string {
	return lipgloss.NewStyle().Foreground(Amber).Bold(true).
		Render(StatusIndicators.Warning + " " + message)
}

// RenderInfo renders an info message with its indicator.
func RenderInfo(message string) string {
	return lipgloss.NewStyle().Foreground(Cyan).
		Render(StatusIndicators.Info + " " + message)
}

// RenderStatus renders message as success or error.
func RenderStatus(success bool, message string) string {
	if success {
		return RenderSuccess(message)
	}
	return RenderError(message)
}
