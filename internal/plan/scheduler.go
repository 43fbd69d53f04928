// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package plan

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jeranaias/planrun/internal/progress"
)

// =============================================================================
// PLAN SCHEDULER
// =============================================================================

// SchedulerConfig controls admission and deadlines.
type SchedulerConfig struct {
	// Concurrency is the number of actions allowed in flight at once.
	Concurrency int

	// ActionTimeout bounds each action. Zero disables the deadline.
	ActionTimeout time.Duration
}

// Scheduler drives a plan: it admits ready actions in declaration order up
// to the concurrency limit, runs them through an ActionRunner and stops when
// nothing more can make progress.
type Scheduler struct {
	runner ActionRunner
	events progress.Emitter
	cfg    SchedulerConfig
}

// NewScheduler creates a scheduler.
func NewScheduler(runner ActionRunner, reporter progress.Reporter, cfg SchedulerConfig) *Scheduler {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Scheduler{
		runner: runner,
		events: progress.NewEmitter(reporter),
		cfg:    cfg,
	}
}

// outcome is what a dispatched action reports back to the loop.
type outcome struct {
	id  string
	out Output
	err error
}

// runState is owned by the Run loop goroutine. Workers never touch it; they
// send an outcome instead.
type runState struct {
	inFlight  map[string]struct{}
	completed map[string]struct{}
	failed    map[string]struct{}
	results   Results
	step      int
}

// Run executes the plan and returns the outputs of completed actions. A
// failed action is logged and left incomplete, which blocks its dependents;
// the run ends once no action is ready and none is in flight. The summary
// is written to the plan before Run returns. The only error returned is
// the context's, after in-flight actions have wound down.
func (s *Scheduler) Run(ctx context.Context, p *Plan) (Results, error) {
	st := &runState{
		inFlight:  make(map[string]struct{}),
		completed: make(map[string]struct{}),
		failed:    make(map[string]struct{}),
		results:   make(Results),
	}
	done := make(chan outcome)
	lastDiagram := ""

	// Re-rendered every iteration but only sent when it changed; executors
	// send their own copy when an attempt starts.
	render := func() {
		if d := p.MermaidBlock(); d != lastDiagram {
			lastDiagram = d
			s.events.Replace(d)
		}
	}

	var runErr error
	for len(st.completed) < len(p.Actions) {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		render()

		available := s.available(p, st)
		if len(available) == 0 && len(st.inFlight) == 0 {
			break
		}

		admitted := 0
		for _, id := range available {
			if len(st.inFlight) >= s.cfg.Concurrency {
				break
			}
			st.inFlight[id] = struct{}{}
			// Steps count dispatches, so a failed action keeps its number.
			st.step++
			go s.dispatch(ctx, p, id, st.results.Clone(), st.step, done)
			admitted++
		}
		if admitted > 0 {
			continue
		}

		// Every slot is busy or nothing is ready: wait for a worker.
		select {
		case o := <-done:
			s.record(p, st, o)
		case <-ctx.Done():
			runErr = ctx.Err()
		}
		if runErr != nil {
			break
		}
	}

	// Workers observe ctx; collect them so none outlives the run.
	for len(st.inFlight) > 0 {
		s.record(p, st, <-done)
	}

	render()
	s.summarize(p, st)
	return st.results, runErr
}

// available lists ready actions in declaration order: not completed, not
// in flight, not already terminal, and with every dependency completed.
func (s *Scheduler) available(p *Plan, st *runState) []string {
	var ready []string
	for i := range p.Actions {
		// ID and Dependencies never change during a run.
		a := &p.Actions[i]
		if _, ok := st.completed[a.ID]; ok {
			continue
		}
		if _, ok := st.inFlight[a.ID]; ok {
			continue
		}
		if _, ok := st.failed[a.ID]; ok {
			continue
		}
		if p.Status(a.ID).IsTerminal() {
			continue
		}
		if depsCompleted(a.Dependencies, st.completed) {
			ready = append(ready, a.ID)
		}
	}
	return ready
}

func depsCompleted(deps []string, completed map[string]struct{}) bool {
	for _, d := range deps {
		if _, ok := completed[d]; !ok {
			return false
		}
	}
	return true
}

// dispatch runs one action under the action deadline and always reports
// exactly one outcome.
func (s *Scheduler) dispatch(ctx context.Context, p *Plan, id string, completed Results, step int, done chan<- outcome) {
	actx := ctx
	cancel := context.CancelFunc(func() {})
	if s.cfg.ActionTimeout > 0 {
		actx, cancel = context.WithTimeout(ctx, s.cfg.ActionTimeout)
	}
	defer cancel()

	result := make(chan outcome, 1)
	go func() {
		out, err := s.runner.Execute(actx, p, id, completed, step)
		result <- outcome{id: id, out: out, err: err}
	}()

	var o outcome
	select {
	case o = <-result:
		if o.err != nil && s.timedOut(ctx, actx) {
			o.err = s.timeout(p, id)
		}
	case <-actx.Done():
		// The runner may still be blocked in a call that ignores ctx; the
		// slot is released anyway and its late result is discarded.
		if s.timedOut(ctx, actx) {
			o = outcome{id: id, err: s.timeout(p, id)}
		} else {
			o = outcome{id: id, err: ctx.Err()}
			s.failQuietly(p, id, ctx.Err())
		}
	}
	done <- o
}

func (s *Scheduler) timedOut(parent, actx context.Context) bool {
	return parent.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded)
}

func (s *Scheduler) timeout(p *Plan, id string) error {
	err := timeoutError(id, s.cfg.ActionTimeout)
	if p.Status(id) != StatusFailed {
		s.failQuietly(p, id, err)
	}
	s.events.Status(progress.LevelError, fmt.Sprintf("Action %s timed out after %v", id, s.cfg.ActionTimeout), true)
	return err
}

func (s *Scheduler) failQuietly(p *Plan, id string, cause error) {
	if err := p.Fail(id, cause); err != nil && !errors.Is(err, ErrInvalidTransition) {
		log.Printf("WARNING: could not mark action %s failed: %v", id, err)
	}
}

func (s *Scheduler) record(p *Plan, st *runState, o outcome) {
	delete(st.inFlight, o.id)
	if o.err != nil {
		log.Printf("ERROR: Action %s failed: %v", o.id, o.err)
		st.failed[o.id] = struct{}{}
		s.failQuietly(p, o.id, o.err)
		return
	}
	st.results[o.id] = o.out
	st.completed[o.id] = struct{}{}
}

// summarize writes the execution summary. The time span runs from the
// earliest recorded start to the latest recorded end, whatever order the
// actions were declared in.
func (s *Scheduler) summarize(p *Plan, st *runState) {
	snap := p.Clone()
	sum := ExecutionSummary{
		TotalSteps:     len(snap.Actions),
		CompletedSteps: len(st.completed),
	}
	sum.FailedSteps = sum.TotalSteps - sum.CompletedSteps

	for _, a := range snap.Actions {
		if a.Degraded {
			sum.DegradedSteps++
		}
		if a.Status == StatusPending {
			sum.Blocked = append(sum.Blocked, a.ID)
		}
		if !a.StartTime.IsZero() && (sum.ExecutionTime.Start.IsZero() || a.StartTime.Before(sum.ExecutionTime.Start)) {
			sum.ExecutionTime.Start = a.StartTime
		}
		if a.EndTime.After(sum.ExecutionTime.End) {
			sum.ExecutionTime.End = a.EndTime
		}
	}
	if len(sum.Blocked) > 0 {
		log.Printf("WARNING: %d action(s) never became ready: %v", len(sum.Blocked), sum.Blocked)
		s.events.Status(progress.LevelWarning,
			fmt.Sprintf("%d action(s) blocked by unfinished dependencies", len(sum.Blocked)), false)
	}
	p.SetSummary(sum)
}

// stamp formats a summary timestamp for prompts.
func stamp(t time.Time) string {
	if t.IsZero() {
		return "n/a"
	}
	return t.Format("15:04:05")
}
