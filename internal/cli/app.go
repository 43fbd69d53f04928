// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// app.go - Shared command state: configuration, backend and logging.

package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/planrun/internal/cloud"
	"github.com/jeranaias/planrun/internal/config"
	"github.com/jeranaias/planrun/internal/llm"
	"github.com/jeranaias/planrun/internal/ollama"
)

// App carries what every command needs. Tests build one directly with
// buffers and a scripted client.
type App struct {
	Config *config.Config

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// NewClient builds the generation backend. Defaults to NewBackend.
	NewClient func(cfg *config.Config) (llm.Client, error)

	logFile *os.File
}

// NewApp loads configuration, applies command-line overrides and sets up
// logging.
func NewApp(args Args) (*App, error) {
	cfg, err := loadConfig(args)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config:    cfg,
		Stdin:     os.Stdin,
		Stdout:    os.Stdout,
		Stderr:    os.Stderr,
		NewClient: NewBackend,
	}
	if err := app.setupLogging(); err != nil {
		return nil, err
	}
	return app, nil
}

// Close releases the log file.
func (a *App) Close() error {
	if a.logFile == nil {
		return nil
	}
	log.SetOutput(os.Stderr)
	err := a.logFile.Close()
	a.logFile = nil
	return err
}

// Client builds the configured generation backend.
func (a *App) Client() (llm.Client, error) {
	newClient := a.NewClient
	if newClient == nil {
		newClient = NewBackend
	}
	client, err := newClient(a.Config)
	if err != nil {
		return nil, NewCommandError("backend", "init", a.Config.Backend.Provider, err)
	}
	return client, nil
}

// loadConfig reads the config file named by --config, or the default
// location, and applies --model and --provider.
func loadConfig(args Args) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if args.ConfigPath != "" {
		cfg, err = config.LoadFromPath(args.ConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if args.Model != "" {
		cfg.Planner.Model = args.Model
	}
	if args.Provider != "" {
		cfg.Backend.Provider = strings.ToLower(args.Provider)
	}
	if args.LogFile != "" {
		cfg.Log.File = args.LogFile
	}
	if args.Verbose {
		cfg.Log.Verbose = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// configPath is the file `config` subcommands read and write.
func configPath(args Args) (string, error) {
	if args.ConfigPath != "" {
		return args.ConfigPath, nil
	}
	tomlPath, err := config.ConfigPathTOML()
	if err != nil {
		return "", err
	}
	if _, statErr := os.Stat(tomlPath); statErr != nil {
		if jsonPath, jsonErr := config.ConfigPathJSON(); jsonErr == nil {
			if _, err := os.Stat(jsonPath); err == nil {
				return jsonPath, nil
			}
		}
	}
	return tomlPath, nil
}

// =============================================================================
// LOGGING
// =============================================================================

// setupLogging sends the standard logger to [log] file when set. Without a
// log file, run output owns the terminal, so the log only shows with
// --verbose.
func (a *App) setupLogging() error {
	log.SetFlags(log.LstdFlags)

	path := a.Config.Log.File
	if path == "" {
		if !a.Config.Log.Verbose {
			log.SetOutput(io.Discard)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	a.logFile = f
	log.SetOutput(f)
	log.Printf("planrun %s started: %s", Version, strings.Join(os.Args[1:], " "))
	return nil
}

// debugf logs only when verbose logging is on.
func (a *App) debugf(format string, args ...any) {
	if a.Config.Log.Verbose {
		log.Printf("DEBUG: "+format, args...)
	}
}

// =============================================================================
// BACKEND
// =============================================================================

// NewBackend builds the generation client selected by [backend] provider,
// wrapped in the configured rate limit.
func NewBackend(cfg *config.Config) (llm.Client, error) {
	var client llm.Client
	switch cfg.Backend.Provider {
	case config.ProviderOllama, "":
		client = ollama.NewClientWithConfig(&ollama.ClientConfig{
			BaseURL: cfg.Local.OllamaURL,
			Timeout: time.Duration(cfg.Local.TimeoutSecs) * time.Second,
			Model:   cfg.Planner.Model,
		})
	case config.ProviderOpenAI:
		c, err := cloud.NewClient(cloud.Config{
			APIKey:  cfg.Cloud.APIKey,
			BaseURL: cfg.Cloud.BaseURL,
			Model:   cfg.Planner.Model,
		})
		if err != nil {
			return nil, err
		}
		client = c
	default:
		return nil, config.ValidationError{
			Field:   "backend.provider",
			Message: fmt.Sprintf("unknown provider %q", cfg.Backend.Provider),
		}
	}
	return llm.NewRateLimited(client, cfg.Backend.RequestsPerSecond, cfg.Backend.Burst), nil
}

// probeBackend checks that the configured backend can serve requests
// without generating anything.
func probeBackend(ctx context.Context, cfg *config.Config) error {
	switch cfg.Backend.Provider {
	case config.ProviderOpenAI:
		if strings.TrimSpace(cfg.Cloud.APIKey) == "" {
			return cloud.ErrNotConfigured
		}
		return nil
	default:
		client := ollama.NewClientWithConfig(&ollama.ClientConfig{
			BaseURL: cfg.Local.OllamaURL,
			Model:   cfg.Planner.Model,
		})
		if err := client.CheckRunning(ctx); err != nil {
			return err
		}
		if !client.ModelExists(ctx, client.Model()) {
			return fmt.Errorf("%w: %s", ollama.ErrModelNotFound, client.Model())
		}
		return nil
	}
}
