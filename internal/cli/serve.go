// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// serve.go - `planrun serve`: the HTTP API.

package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/jeranaias/planrun/internal/server"
)

// shutdownTimeout bounds how long in-flight runs get after a stop signal.
const shutdownTimeout = 30 * time.Second

// HandleServe handles `planrun serve`. It blocks until ctx is cancelled.
func HandleServe(ctx context.Context, app *App, args Args) error {
	client, err := app.Client()
	if err != nil {
		return err
	}
	if app.logFile == nil {
		// A server's log is its output.
		log.SetOutput(app.Stderr)
	}

	cfg := app.Config
	addr := cfg.Server.Addr
	if args.Addr != "" {
		addr = args.Addr
	}

	srv := server.New(client, server.Config{
		Addr:      addr,
		Token:     cfg.Server.Token,
		RateLimit: cfg.Server.RateLimit,
		Options:   cfg.PlannerOptions(),
		Version:   Version,
		HealthCheck: func(ctx context.Context) error {
			return probeBackend(ctx, cfg)
		},
	})

	if !args.Quiet {
		fmt.Fprintln(app.Stderr, TitleStyle.Render("planrun serve"))
		fmt.Fprintln(app.Stderr, FormatKeyValue("Listening", "http://"+srv.Addr()))
		fmt.Fprintln(app.Stderr, FormatKeyValue("Backend", cfg.Backend.Provider+" / "+modelName(cfg)))
		fmt.Fprintln(app.Stderr, FormatKeyValue("Auth", onOff(cfg.Server.Token != "")))
		if cfg.Server.Token == "" && !isLoopback(srv.Addr()) {
			fmt.Fprintln(app.Stderr, WarningStyle.Render("WARNING: listening beyond localhost without [server] token"))
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return NewCommandError("serve", "listen", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return NewCommandError("serve", "shutdown", "in-flight runs did not finish", err)
	}
	<-errCh
	log.Printf("SERVER_STOPPED | addr=%s", addr)
	return nil
}

// isLoopback reports whether addr only listens on the local machine.
func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
