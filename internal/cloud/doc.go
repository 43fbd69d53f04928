// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud is the hosted generation backend. It talks to any
// OpenAI-compatible chat completions endpoint, OpenRouter by default,
// through langchaingo and satisfies llm.Client.
//
// Non-2xx replies are mapped to ErrAuthFailed, ErrRateLimited,
// ErrModelNotFound or ErrInsufficientCredits; other failures surface as
// *APIError. The API key is never logged; KeyFingerprint identifies it.
package cloud
