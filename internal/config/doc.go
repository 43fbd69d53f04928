// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads planrun configuration.
//
// Values are resolved in this order, later sources winning:
//   - Built-in defaults
//   - ~/.planrun/config.toml, or ~/.planrun/config.json when no TOML file exists
//   - Environment variables (PLANRUN_*)
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	p := planner.New(client, reporter, cfg.PlannerOptions())
package config
