// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/planrun/internal/config"
)

// isolateEnv clears the variables that override config files.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"PLANRUN_MODEL", "PLANRUN_MAX_RETRIES", "PLANRUN_CONCURRENT_ACTIONS",
		"PLANRUN_ACTION_TIMEOUT", "PLANRUN_PROVIDER", "PLANRUN_OLLAMA_URL",
		"PLANRUN_BASE_URL", "PLANRUN_API_KEY", "OPENROUTER_API_KEY",
	} {
		t.Setenv(name, "")
	}
}

func TestHandleConfig_InitShowGet(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")

	var buf bytes.Buffer
	require.NoError(t, HandleConfig(&buf, Args{Subcommand: "init", ConfigPath: path}))
	assert.Contains(t, buf.String(), "Wrote default configuration to "+path)
	assert.FileExists(t, path)

	// A second init refuses to overwrite.
	err := HandleConfig(&buf, Args{Subcommand: "init", ConfigPath: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")
	require.NoError(t, HandleConfig(&buf, Args{Subcommand: "init", ConfigPath: path, Force: true}))

	buf.Reset()
	require.NoError(t, HandleConfig(&buf, Args{Subcommand: "show", ConfigPath: path}))
	assert.Contains(t, buf.String(), "[planner]")

	buf.Reset()
	require.NoError(t, HandleConfig(&buf, Args{Subcommand: "get", ConfigKey: "planner.max_retries", ConfigPath: path}))
	assert.Equal(t, "3\n", buf.String())
}

func TestHandleConfig_Set(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")

	var buf bytes.Buffer
	require.NoError(t, HandleConfig(&buf, Args{Subcommand: "set", ConfigKey: "planner.concurrent_actions", ConfigValue: "4", ConfigPath: path}))
	assert.Contains(t, buf.String(), "Set planner.concurrent_actions")

	cfg, err := config.LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Planner.ConcurrentActions)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestHandleConfig_SetDoesNotPersistEnv(t *testing.T) {
	isolateEnv(t)
	t.Setenv("PLANRUN_API_KEY", "sk-secret-from-env")
	path := filepath.Join(t.TempDir(), "config.toml")

	var buf bytes.Buffer
	require.NoError(t, HandleConfig(&buf, Args{Subcommand: "set", ConfigKey: "planner.model", ConfigValue: "qwen2.5:14b", ConfigPath: path}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-secret-from-env")
	assert.Contains(t, string(data), "qwen2.5:14b")
}

func TestHandleConfig_SetRejects(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")

	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown key", "planner.nope", "1"},
		{"wrong type", "planner.max_retries", "many"},
		{"fails validation", "planner.concurrent_actions", "0"},
		{"bad provider", "backend.provider", "carrier-pigeon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := HandleConfig(&buf, Args{Subcommand: "set", ConfigKey: tt.key, ConfigValue: tt.value, ConfigPath: path})
			require.Error(t, err)
			_, statErr := os.Stat(path)
			assert.True(t, os.IsNotExist(statErr), "nothing should be written")
		})
	}
}

func TestHandleConfig_ShowJSONRedacts(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := config.Default()
	cfg.Cloud.APIKey = "sk-or-v1-secret"
	require.NoError(t, config.Save(cfg, path))

	var buf bytes.Buffer
	require.NoError(t, HandleConfig(&buf, Args{Subcommand: "show", ConfigPath: path, JSON: true}))
	assert.NotContains(t, buf.String(), "sk-or-v1-secret")

	var resp JSONResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "config show", resp.Command)
}

func TestHandleConfig_PathAndKeys(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")

	var buf bytes.Buffer
	require.NoError(t, HandleConfig(&buf, Args{Subcommand: "path", ConfigPath: path}))
	assert.True(t, strings.HasPrefix(buf.String(), path+"\n"))
	assert.Contains(t, buf.String(), "config init")

	buf.Reset()
	require.NoError(t, HandleConfig(&buf, Args{Subcommand: "keys"}))
	assert.Contains(t, buf.String(), "planner.max_retries\n")
	assert.Contains(t, buf.String(), "backend.provider\n")
}

func TestHandleConfig_Errors(t *testing.T) {
	var buf bytes.Buffer

	err := HandleConfig(&buf, Args{Subcommand: "frobnicate"})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)

	err = HandleConfig(&buf, Args{Subcommand: "get"})
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "key", vErr.Field)

	err = HandleConfig(&buf, Args{Subcommand: "set", ConfigKey: "planner.model"})
	require.ErrorAs(t, err, &vErr)
}
