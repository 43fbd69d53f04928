// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config.go - `planrun config`: view and modify configuration.
//
// Subcommands:
//   show (default)      Display the effective configuration (secrets redacted)
//   init                Write a default config file (--force overwrites)
//   reset               Same as init --force
//   path                Show the config file location
//   get <key>           Print one value, e.g. planner.max_retries
//   set <key> <value>   Change one value in the config file
//   keys                List every key
//
// Examples:
//   planrun config set planner.model qwen2.5:14b
//   planrun config set backend.provider openai
//   planrun config get planner.concurrent_actions
//   planrun config show --json
package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/jeranaias/planrun/internal/config"
)

// HandleConfig handles `planrun config`. It does not need a backend, so it
// loads configuration itself rather than through an App.
func HandleConfig(w io.Writer, args Args) error {
	switch strings.ToLower(args.Subcommand) {
	case "", "show":
		return handleConfigShow(w, args)
	case "init":
		return handleConfigInit(w, args, args.Force)
	case "reset":
		return handleConfigInit(w, args, true)
	case "path":
		return handleConfigPath(w, args)
	case "get":
		return handleConfigGet(w, args)
	case "set":
		return handleConfigSet(w, args)
	case "keys":
		return handleConfigKeys(w, args)
	default:
		return NewValidationErrorWithExample("subcommand", args.Subcommand,
			"unknown config subcommand", "planrun config show | init | path | get KEY | set KEY VALUE | keys")
	}
}

// =============================================================================
// SUBCOMMANDS
// =============================================================================

func handleConfigShow(w io.Writer, args Args) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	if args.JSON {
		return NewJSONResponse("config show", cfg.Redacted()).Print(w)
	}

	path, _ := configPath(args)
	fmt.Fprintln(w, DimStyle.Render("# "+path))
	fmt.Fprint(w, cfg.String())
	return nil
}

func handleConfigInit(w io.Writer, args Args, force bool) error {
	path, err := configPath(args)
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(path); statErr == nil && !force {
		return NewCommandError("config", "init", path+" already exists (use --force to overwrite)", nil)
	}
	if err := config.Save(config.Default(), path); err != nil {
		return NewCommandError("config", "init", path, err)
	}

	if args.JSON {
		return NewJSONResponse("config init", map[string]string{"path": path}).Print(w)
	}
	fmt.Fprintln(w, SuccessStyle.Render("Wrote default configuration to "+path))
	return nil
}

func handleConfigPath(w io.Writer, args Args) error {
	path, err := configPath(args)
	if err != nil {
		return err
	}
	_, statErr := os.Stat(path)
	exists := statErr == nil

	if args.JSON {
		return NewJSONResponse("config path", map[string]any{"path": path, "exists": exists}).Print(w)
	}
	fmt.Fprintln(w, path)
	if !exists {
		fmt.Fprintln(w, DimStyle.Render("(not created yet; run `planrun config init`)"))
	}
	return nil
}

func handleConfigGet(w io.Writer, args Args) error {
	if args.ConfigKey == "" {
		return ErrMissingArgument("key", "planrun config get planner.max_retries")
	}
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	value, err := cfg.Redacted().Get(args.ConfigKey)
	if err != nil {
		return NewValidationError("key", args.ConfigKey, err.Error())
	}

	if args.JSON {
		return NewJSONResponse("config get", map[string]any{"key": args.ConfigKey, "value": value}).Print(w)
	}
	fmt.Fprintln(w, value)
	return nil
}

// handleConfigSet edits the file itself, so environment overrides are not
// written back into it.
func handleConfigSet(w io.Writer, args Args) error {
	if args.ConfigKey == "" || args.ConfigValue == "" {
		return ErrMissingArgument("key and value", "planrun config set planner.concurrent_actions 2")
	}
	path, err := configPath(args)
	if err != nil {
		return err
	}

	cfg, err := config.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = config.Default(), nil
	}
	if err != nil {
		return err
	}
	if err := cfg.Set(args.ConfigKey, args.ConfigValue); err != nil {
		return NewValidationError("key", args.ConfigKey, err.Error())
	}

	// Validate what would actually run, which includes the environment.
	effective := *cfg
	effective.ApplyEnvOverrides()
	if err := effective.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := config.Save(cfg, path); err != nil {
		return NewCommandError("config", "set", path, err)
	}

	if args.JSON {
		return NewJSONResponse("config set", map[string]string{"key": args.ConfigKey, "path": path}).Print(w)
	}
	fmt.Fprintln(w, SuccessStyle.Render(fmt.Sprintf("Set %s in %s", strings.ToLower(args.ConfigKey), path)))
	return nil
}

func handleConfigKeys(w io.Writer, args Args) error {
	keys := config.Keys()
	if args.JSON {
		return NewJSONResponse("config keys", keys).Print(w)
	}
	for _, key := range keys {
		fmt.Fprintln(w, key)
	}
	return nil
}
