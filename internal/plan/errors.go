// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package plan

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidPlan - the plan document does not match the expected shape
	ErrInvalidPlan = errors.New("invalid plan")

	// ErrDuplicateAction - two actions share an id
	ErrDuplicateAction = errors.New("duplicate action id")

	// ErrUnknownDependency - a dependency names an action that does not exist
	ErrUnknownDependency = errors.New("unknown dependency")

	// ErrCycle - the dependency relation is not acyclic
	ErrCycle = errors.New("dependency cycle")

	// ErrUnknownAction - lookup of an id that is not in the plan
	ErrUnknownAction = errors.New("unknown action")

	// ErrInvalidTransition - a status change that would move backwards
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrActionTimeout - an action exceeded its deadline
	ErrActionTimeout = errors.New("action timed out")

	// ErrEmptyGoal - compile was called without a goal
	ErrEmptyGoal = errors.New("goal is empty")
)

// GraphError describes a plan that failed schema or graph validation.
type GraphError struct {
	Kind error
	Msg  string
}

func (e *GraphError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *GraphError) Unwrap() error { return e.Kind }

func invalidf(format string, args ...any) error {
	return &GraphError{Kind: ErrInvalidPlan, Msg: fmt.Sprintf(format, args...)}
}

func cycleError(path []string) error {
	msg := "cycle"
	if len(path) > 0 {
		msg = "cycle: " + strings.Join(path, " -> ")
	}
	return &GraphError{Kind: ErrCycle, Msg: msg}
}

// TransitionError is returned when a status change would break the
// pending -> in_progress -> {completed, failed} order.
type TransitionError struct {
	ActionID string
	From     ActionStatus
	To       ActionStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("action %s: cannot move from %s to %s", e.ActionID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// CompilationError is returned when no valid plan was produced within the
// attempt budget. Err is the failure of the last attempt.
type CompilationError struct {
	Attempts int
	Err      error
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("failed to compile plan after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *CompilationError) Unwrap() error { return e.Err }

// ActionError reports a terminal failure of one action.
type ActionError struct {
	ActionID string
	Attempt  int
	Err      error
}

func (e *ActionError) Error() string {
	if e.Attempt > 0 {
		return fmt.Sprintf("action %s failed on attempt %d: %v", e.ActionID, e.Attempt, e.Err)
	}
	return fmt.Sprintf("action %s failed: %v", e.ActionID, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// timeoutError builds the error recorded for an action whose deadline passed.
func timeoutError(id string, d time.Duration) error {
	return &ActionError{ActionID: id, Err: fmt.Errorf("%w after %v", ErrActionTimeout, d)}
}
