// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama is the local generation backend: an HTTP client for the
// Ollama API that satisfies llm.Client.
//
// # Usage
//
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{Model: "llama3.1:8b"})
//	if err := client.CheckRunning(ctx); err != nil {
//	    log.Fatal("Ollama not available:", err)
//	}
//	reply, err := client.Complete(ctx, "Say hello")
//
// Streaming replies are decoded line by line from /api/chat and handed to
// the caller in arrival order.
package ollama
