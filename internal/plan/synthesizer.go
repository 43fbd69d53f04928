// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package plan

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jeranaias/planrun/internal/llm"
	"github.com/jeranaias/planrun/internal/progress"
)

// =============================================================================
// RESULT SYNTHESIZER
// =============================================================================

// SynthesizerConfig controls the final aggregation loop.
type SynthesizerConfig struct {
	// MaxAttempts bounds generation attempts. Values below 1 mean 1.
	MaxAttempts int

	// RetryDelay is waited after a failed generation before retrying.
	RetryDelay time.Duration

	// EvaluationPause is waited before asking the evaluator.
	EvaluationPause time.Duration
}

// Synthesizer merges every action output into one final artifact.
type Synthesizer struct {
	client llm.Client
	events progress.Emitter
	cfg    SynthesizerConfig
}

// NewSynthesizer creates a synthesizer.
func NewSynthesizer(client llm.Client, reporter progress.Reporter, cfg SynthesizerConfig) *Synthesizer {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Synthesizer{
		client: client,
		events: progress.NewEmitter(reporter),
		cfg:    cfg,
	}
}

// Synthesize streams the final artifact into p.FinalOutput and has it
// evaluated, retrying with a correction prompt on a "no". It never fails:
// when attempts run out it returns whatever final output was last produced,
// which may be empty.
func (s *Synthesizer) Synthesize(ctx context.Context, p *Plan, results Results) string {
	summary := ExecutionSummary{}
	if sum := p.ExecutionSummary(); sum != nil {
		summary = *sum
	}
	outputs := stepOutputs(p, results)
	prompt := synthesisPrompt(p.Goal, summary, outputs)
	total := s.cfg.MaxAttempts

	for attempt := 1; attempt <= total; attempt++ {
		s.events.Status(progress.LevelInfo, fmt.Sprintf("Creating final result... (Attempt %d/%d)", attempt, total), false)
		s.events.Replace("")
		s.events.Replace(p.MermaidBlock())

		reply, err := s.attempt(ctx, p, prompt)
		if err != nil {
			log.Printf("ERROR: synthesizing results (attempt %d/%d): %v", attempt, total, err)
			if attempt < total && ctx.Err() == nil {
				s.events.Status(progress.LevelError,
					fmt.Sprintf("Error creating final result. Retrying... (Attempt %d/%d)", attempt, total), false)
				if sleepCtx(ctx, s.cfg.RetryDelay) == nil {
					continue
				}
			}
			s.events.Status(progress.LevelError, fmt.Sprintf("Failed to create final result after %d attempts.", attempt), true)
			return p.Final()
		}

		if accepted(reply) {
			s.events.Status(progress.LevelSuccess, "Final result created successfully.", true)
			return p.Final()
		}

		if attempt < total {
			s.events.Status(progress.LevelWarning,
				fmt.Sprintf("Final result was not correct. Retrying... (Attempt %d/%d)", attempt, total), false)
			prompt = synthesisCorrectionPrompt(p.Goal, summary, outputs)
		}
	}

	log.Printf("WARNING: final result not accepted after %d attempts, keeping last output", total)
	s.events.Status(progress.LevelWarning,
		fmt.Sprintf("Final result accepted with warnings after %d attempts.", total), true)
	return p.Final()
}

// attempt streams one artifact into the plan and returns the evaluator's
// reply.
func (s *Synthesizer) attempt(ctx context.Context, p *Plan, prompt string) (string, error) {
	var b strings.Builder
	messages := []llm.Message{
		llm.System("Goal: " + p.Goal),
		llm.User(prompt),
	}
	err := s.client.Stream(ctx, messages, func(fragment string) error {
		b.WriteString(fragment)
		s.events.Message(fragment)
		return nil
	})
	if err != nil {
		return "", err
	}
	result := b.String()
	p.SetFinalOutput(result)

	s.events.Status(progress.LevelInfo, "Analyzing final result...", false)
	if err := sleepCtx(ctx, s.cfg.EvaluationPause); err != nil {
		return "", err
	}
	return s.client.Complete(ctx, synthesisEvaluationPrompt(p.Goal, result))
}

// stepOutputs maps every declared action to its output. Actions without a
// result map to nil and appear as null in the prompt.
func stepOutputs(p *Plan, results Results) map[string]Output {
	snap := p.Clone()
	out := make(map[string]Output, len(snap.Actions))
	for _, a := range snap.Actions {
		if o, ok := results[a.ID]; ok {
			out[a.ID] = o
		} else {
			out[a.ID] = nil
		}
	}
	return out
}
