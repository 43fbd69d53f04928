// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ui implements the live terminal dashboard shown by `run --tui`.
//
// The dashboard is a bubbletea model. The pipeline runs on its own
// goroutine and talks to the program through three messages: EventMsg for
// each progress event (delivered by Reporter), PlanMsg once the plan is
// compiled, and DoneMsg when the run ends.
package ui
