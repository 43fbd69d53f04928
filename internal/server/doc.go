// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the planner over HTTP.
//
// # Endpoints
//
//   - GET  /health    - Liveness plus an optional backend probe
//   - GET  /stats     - Request and run counters
//   - POST /v1/plans  - Compile a goal into a plan
//   - POST /v1/runs   - Run a goal or a precompiled plan, streaming progress
//   - POST /v1/title  - Generate a short title for a goal
//
// /v1/runs answers with application/x-ndjson: one progress event per line
// in the same shape `planrun run --json` prints, then a final line
//
//	{"type":"result","data":{"plan":{...},"error":"..."}}
//
// # Middleware
//
// Handler wraps the routes in recovery, security headers, request logging,
// an optional per-client token bucket (golang.org/x/time/rate) and optional
// bearer authentication. /health stays public.
//
// # Usage
//
//	srv := server.New(client, server.Config{
//		Addr:    "127.0.0.1:8080",
//		Token:   cfg.Server.Token,
//		Options: cfg.PlannerOptions(),
//	})
//	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
//		log.Fatal(err)
//	}
package server
