// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the planrun command line.
//
// # Key Types
//
//   - Command: Enumeration of the available commands
//   - Args: Parsed command-line arguments with global and command-specific flags
//   - App: Configuration, I/O streams and backend shared by the commands
//   - TextReporter: Line-mode progress output
//
// # Usage
//
//	cmd, args := cli.Parse(os.Args[1:])
//	app, err := cli.NewApp(args)
//	...
//	switch cmd {
//	case cli.CmdRun:
//	    err = cli.HandleRun(ctx, app, args)
//	// ... other commands
//	}
//
// # Commands Overview
//
//   - run: Compile a plan for a goal, execute it and print the result
//   - plan: Compile only and print or save the plan document
//   - execute: Execute a saved plan document
//   - interactive: Prompt for goals in a loop
//   - serve: Run the HTTP API
//   - config: View and modify configuration
//   - doctor: Check configuration and backend
//
// Progress goes to stderr and results to stdout. Commands that accept
// --json print a JSONResponse; `run --json` streams progress events as
// JSON lines instead, ending with the result.
package cli
