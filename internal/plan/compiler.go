// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package plan

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/planrun/internal/llm"
)

// =============================================================================
// PLAN COMPILER
// =============================================================================

// CompilerConfig controls plan compilation retries.
type CompilerConfig struct {
	// MaxAttempts is the number of model calls made before giving up.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration

	// ValidateGraph rejects plans with unknown dependencies or cycles,
	// which then count as failed attempts.
	ValidateGraph bool
}

// DefaultCompilerConfig returns three attempts one second apart with graph
// validation on.
func DefaultCompilerConfig() CompilerConfig {
	return CompilerConfig{
		MaxAttempts:   3,
		RetryDelay:    time.Second,
		ValidateGraph: true,
	}
}

// Compiler turns a goal into a Plan by asking the model for a JSON plan.
type Compiler struct {
	client llm.Client
	cfg    CompilerConfig
}

// NewCompiler creates a compiler backed by client.
func NewCompiler(client llm.Client, cfg CompilerConfig) *Compiler {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Compiler{client: client, cfg: cfg}
}

// Compile asks the model for a plan for goal. Failed calls and responses
// that do not decode into a valid plan are retried; once the attempts are
// spent it returns a *CompilationError wrapping the last failure.
func (c *Compiler) Compile(ctx context.Context, goal string) (*Plan, error) {
	if c.client == nil {
		return nil, fmt.Errorf("generation client not configured")
	}
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return nil, ErrEmptyGoal
	}

	prompt := compilePrompt(goal)
	var lastErr error
	attempt := 0
	for attempt < c.cfg.MaxAttempts {
		attempt++

		p, err := c.attempt(ctx, prompt, goal)
		if err == nil {
			return p, nil
		}
		lastErr = err
		log.Printf("ERROR: plan compilation attempt %d/%d failed: %v", attempt, c.cfg.MaxAttempts, err)

		if attempt < c.cfg.MaxAttempts {
			if err := sleepCtx(ctx, c.cfg.RetryDelay); err != nil {
				lastErr = err
				break
			}
		}
	}
	return nil, &CompilationError{Attempts: attempt, Err: lastErr}
}

func (c *Compiler) attempt(ctx context.Context, prompt, goal string) (*Plan, error) {
	response, err := c.client.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to generate plan: %w", err)
	}
	p, err := ParseResponse(response)
	if err != nil {
		return nil, err
	}
	if c.cfg.ValidateGraph {
		if err := ValidateGraph(p); err != nil {
			return nil, err
		}
	}

	// Keep the caller's wording; the model's restatement stays in metadata.
	if p.Goal != goal {
		p.Metadata["model_goal"] = p.Goal
		p.Goal = goal
	}
	p.ID = uuid.New().String()
	p.CreatedAt = time.Now()
	return p, nil
}

// ParseResponse decodes a model reply into a plan, tolerating a Markdown
// code fence around the JSON.
func ParseResponse(response string) (*Plan, error) {
	if len(response) > MaxDocumentSize {
		return nil, invalidf("response too large: %d bytes (max: %d)", len(response), MaxDocumentSize)
	}
	body := stripFences(response)
	if body == "" {
		return nil, invalidf("empty response")
	}
	return Decode([]byte(body), FormatJSON)
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
