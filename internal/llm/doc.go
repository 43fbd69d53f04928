// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package llm defines the generation client used by every planner stage.
//
// A Client offers two calls: Complete for single-shot prompts (plan
// compilation, yes/no evaluation, titles) and Stream for incremental output
// (action execution, synthesis). Backends live in the ollama and cloud
// packages; RateLimited wraps any Client with a token bucket.
package llm
