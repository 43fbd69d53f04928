// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package plan

import (
	"fmt"
	"sync"
	"time"
)

// =============================================================================
// ACTION STATUS
// =============================================================================

// ActionStatus is the lifecycle state of an action.
type ActionStatus string

const (
	// StatusPending - action not yet started
	StatusPending ActionStatus = "pending"

	// StatusInProgress - action is being generated or evaluated
	StatusInProgress ActionStatus = "in_progress"

	// StatusCompleted - action produced an accepted (possibly degraded) output
	StatusCompleted ActionStatus = "completed"

	// StatusFailed - generation failed or the action timed out
	StatusFailed ActionStatus = "failed"
)

// IsTerminal returns true for completed and failed.
func (s ActionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Glyph returns the marker drawn next to the action in diagrams.
func (s ActionStatus) Glyph() string {
	switch s {
	case StatusInProgress:
		return "⚙️"
	case StatusCompleted:
		return "✅"
	case StatusFailed:
		return "❌"
	default:
		return "⭕"
	}
}

// canTransition enforces pending -> in_progress -> {completed, failed}.
// Re-entering in_progress is allowed so each reflection attempt can mark
// the action again; nothing leaves a terminal state.
func canTransition(from, to ActionStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusPending || to == StatusInProgress || to == StatusFailed
	case StatusInProgress:
		return to == StatusInProgress || to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// =============================================================================
// OUTPUT AND RESULTS
// =============================================================================

// Output is the result mapping an action produces. Executed actions store
// their text under "result".
type Output map[string]any

// Text returns the "result" entry, or "" when absent.
func (o Output) Text() string {
	if s, ok := o["result"].(string); ok {
		return s
	}
	return ""
}

// Results maps completed action ids to their outputs.
type Results map[string]Output

// Subset returns the outputs for ids, in a fresh map. Ids without an output
// map to an empty Output so a prompt always shows every declared dependency.
func (r Results) Subset(ids []string) Results {
	out := make(Results, len(ids))
	for _, id := range ids {
		if o, ok := r[id]; ok {
			out[id] = o
		} else {
			out[id] = Output{}
		}
	}
	return out
}

// Clone returns a shallow copy. Outputs are never modified after an action
// completes, so sharing them is safe.
func (r Results) Clone() Results {
	out := make(Results, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// =============================================================================
// ACTION
// =============================================================================

// Action is one node of the plan graph. ID, Type, Description, Params and
// Dependencies are fixed once the plan is compiled; the remaining fields
// are written through Plan methods while the plan runs.
type Action struct {
	ID           string         `json:"id" yaml:"id"`
	Type         string         `json:"type" yaml:"type"`
	Description  string         `json:"description" yaml:"description"`
	Params       map[string]any `json:"params" yaml:"params"`
	Dependencies []string       `json:"dependencies" yaml:"dependencies"`

	Output    Output       `json:"output,omitempty" yaml:"output,omitempty"`
	Status    ActionStatus `json:"status" yaml:"status"`
	StartTime time.Time    `json:"start_time,omitzero" yaml:"start_time,omitempty"`
	EndTime   time.Time    `json:"end_time,omitzero" yaml:"end_time,omitempty"`

	// Attempts counts generation attempts made by the reflection loop.
	Attempts int `json:"attempts,omitempty" yaml:"attempts,omitempty"`

	// Degraded is set when the output was accepted only because the
	// evaluation retries ran out.
	Degraded bool `json:"degraded,omitempty" yaml:"degraded,omitempty"`

	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Duration returns how long the action ran.
func (a *Action) Duration() time.Duration {
	if a.StartTime.IsZero() {
		return 0
	}
	if a.EndTime.IsZero() {
		return time.Since(a.StartTime)
	}
	return a.EndTime.Sub(a.StartTime)
}

func (a Action) clone() Action {
	c := a
	if a.Params != nil {
		c.Params = make(map[string]any, len(a.Params))
		for k, v := range a.Params {
			c.Params[k] = v
		}
	}
	c.Dependencies = append([]string(nil), a.Dependencies...)
	if a.Output != nil {
		c.Output = make(Output, len(a.Output))
		for k, v := range a.Output {
			c.Output[k] = v
		}
	}
	return c
}

// =============================================================================
// EXECUTION SUMMARY
// =============================================================================

// TimeSpan is a start/end pair.
type TimeSpan struct {
	Start time.Time `json:"start,omitzero" yaml:"start,omitempty"`
	End   time.Time `json:"end,omitzero" yaml:"end,omitempty"`
}

// ExecutionSummary is written once the scheduler stops.
// CompletedSteps + FailedSteps always equals TotalSteps.
type ExecutionSummary struct {
	TotalSteps     int      `json:"total_steps" yaml:"total_steps"`
	CompletedSteps int      `json:"completed_steps" yaml:"completed_steps"`
	FailedSteps    int      `json:"failed_steps" yaml:"failed_steps"`
	DegradedSteps  int      `json:"degraded_steps" yaml:"degraded_steps"`
	Blocked        []string `json:"blocked,omitempty" yaml:"blocked,omitempty"`
	ExecutionTime  TimeSpan `json:"execution_time" yaml:"execution_time"`
}

// =============================================================================
// PLAN
// =============================================================================

// Plan is the action graph for one goal plus its run state. A Plan belongs
// to a single run; its methods serialize concurrent updates from executors.
type Plan struct {
	// ID is a unique identifier for this run
	ID string `json:"id,omitempty" yaml:"id,omitempty"`

	// Goal is the user's original request
	Goal string `json:"goal" yaml:"goal"`

	// Actions in declaration order
	Actions []Action `json:"actions" yaml:"actions"`

	// Metadata is free-form; compiled plans carry estimated_time and complexity
	Metadata map[string]any `json:"metadata" yaml:"metadata"`

	FinalOutput string            `json:"final_output,omitempty" yaml:"final_output,omitempty"`
	Summary     *ExecutionSummary `json:"execution_summary,omitempty" yaml:"execution_summary,omitempty"`

	CreatedAt time.Time `json:"created_at,omitzero" yaml:"created_at,omitempty"`

	mu sync.RWMutex
}

// New builds a pending plan from actions.
func New(goal string, actions []Action, metadata map[string]any) *Plan {
	p := &Plan{
		Goal:      goal,
		Actions:   make([]Action, len(actions)),
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
	for i, a := range actions {
		a = a.clone()
		if a.Params == nil {
			a.Params = map[string]any{}
		}
		if a.Dependencies == nil {
			a.Dependencies = []string{}
		}
		a.Status = StatusPending
		p.Actions[i] = a
	}
	if p.Metadata == nil {
		p.Metadata = map[string]any{}
	}
	return p
}

func (p *Plan) index(id string) int {
	for i := range p.Actions {
		if p.Actions[i].ID == id {
			return i
		}
	}
	return -1
}

// Action returns a copy of the action with the given id.
func (p *Plan) Action(id string) (Action, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	i := p.index(id)
	if i < 0 {
		return Action{}, false
	}
	return p.Actions[i].clone(), true
}

// Status returns the current status of an action.
func (p *Plan) Status(id string) ActionStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if i := p.index(id); i >= 0 {
		return p.Actions[i].Status
	}
	return ""
}

// transition moves an action to a new status, stamping times. Caller holds mu.
func (p *Plan) transition(id string, to ActionStatus) (*Action, error) {
	i := p.index(id)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, id)
	}
	a := &p.Actions[i]
	if !canTransition(a.Status, to) {
		return a, &TransitionError{ActionID: id, From: a.Status, To: to}
	}
	now := time.Now()
	if to == StatusInProgress && a.StartTime.IsZero() {
		a.StartTime = now
	}
	if to.IsTerminal() {
		a.EndTime = now
	}
	a.Status = to
	return a, nil
}

// BeginAttempt marks an action in progress and returns the attempt number.
func (p *Plan) BeginAttempt(id string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, err := p.transition(id, StatusInProgress)
	if err != nil {
		return 0, err
	}
	a.Attempts++
	return a.Attempts, nil
}

// SetOutput stores a candidate output on an in-progress action.
func (p *Plan) SetOutput(id string, out Output) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.index(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownAction, id)
	}
	if p.Actions[i].Status.IsTerminal() {
		return &TransitionError{ActionID: id, From: p.Actions[i].Status, To: p.Actions[i].Status}
	}
	p.Actions[i].Output = out
	return nil
}

// Complete marks an action completed. degraded records that the output was
// accepted after exhausting evaluation retries.
func (p *Plan) Complete(id string, degraded bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, err := p.transition(id, StatusCompleted)
	if err != nil {
		return err
	}
	a.Degraded = degraded
	return nil
}

// Fail marks an action failed with cause.
func (p *Plan) Fail(id string, cause error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, err := p.transition(id, StatusFailed)
	if err != nil {
		return err
	}
	if cause != nil {
		a.Error = cause.Error()
	}
	return nil
}

// SetFinalOutput records the synthesized artifact.
func (p *Plan) SetFinalOutput(s string) {
	p.mu.Lock()
	p.FinalOutput = s
	p.mu.Unlock()
}

// Final returns the synthesized artifact.
func (p *Plan) Final() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.FinalOutput
}

// SetSummary records the execution summary.
func (p *Plan) SetSummary(s ExecutionSummary) {
	p.mu.Lock()
	p.Summary = &s
	p.mu.Unlock()
}

// ExecutionSummary returns a copy of the summary, or nil before the run ends.
func (p *Plan) ExecutionSummary() *ExecutionSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.Summary == nil {
		return nil
	}
	s := *p.Summary
	s.Blocked = append([]string(nil), p.Summary.Blocked...)
	return &s
}

// Clone returns a deep copy safe to read while the original keeps running.
func (p *Plan) Clone() *Plan {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c := &Plan{
		ID:          p.ID,
		Goal:        p.Goal,
		Actions:     make([]Action, len(p.Actions)),
		FinalOutput: p.FinalOutput,
		CreatedAt:   p.CreatedAt,
	}
	for i := range p.Actions {
		c.Actions[i] = p.Actions[i].clone()
	}
	if p.Metadata != nil {
		c.Metadata = make(map[string]any, len(p.Metadata))
		for k, v := range p.Metadata {
			c.Metadata[k] = v
		}
	}
	if p.Summary != nil {
		s := *p.Summary
		s.Blocked = append([]string(nil), p.Summary.Blocked...)
		c.Summary = &s
	}
	return c
}

// Counts returns how many actions are in each status.
func (p *Plan) Counts() map[ActionStatus]int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	counts := make(map[ActionStatus]int, 4)
	for i := range p.Actions {
		counts[p.Actions[i].Status]++
	}
	return counts
}
