// planrun - break a goal into a plan of actions and run it.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jeranaias/planrun/internal/cli"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	// Sync version info with cli package
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	cmd, args := cli.Parse(os.Args[1:])
	if err := run(cmd, args); err != nil {
		cli.DisplayError(os.Stderr, err, args.JSON)
		os.Exit(cli.GetExitCode(err))
	}
}

func run(cmd cli.Command, args cli.Args) error {
	// Commands that need neither a backend nor a loaded config.
	switch cmd {
	case cli.CmdHelp:
		cli.PrintUsage(os.Stdout)
		return nil
	case cli.CmdVersion:
		return cli.HandleVersion(os.Stdout, args)
	case cli.CmdUnknown:
		return cli.ErrUnknownCommand(args.Name)
	case cli.CmdConfig:
		return cli.HandleConfig(os.Stdout, args)
	}

	ctx := context.Background()
	if cmd != cli.CmdInteractive {
		// Interactive mode handles SIGINT itself: it cancels the current
		// run and keeps the prompt.
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
	}

	if cmd == cli.CmdDoctor {
		return cli.HandleDoctor(ctx, os.Stdout, args)
	}

	app, err := cli.NewApp(args)
	if err != nil {
		return err
	}
	defer app.Close()

	switch cmd {
	case cli.CmdRun:
		return cli.HandleRun(ctx, app, args)
	case cli.CmdPlan:
		return cli.HandlePlan(ctx, app, args)
	case cli.CmdExecute:
		return cli.HandleExecute(ctx, app, args)
	case cli.CmdInteractive:
		return cli.HandleInteractive(ctx, app, args)
	case cli.CmdServe:
		return cli.HandleServe(ctx, app, args)
	default:
		return cli.ErrUnknownCommand(args.Name)
	}
}
