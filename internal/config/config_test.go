// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every override so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"PLANRUN_MODEL", "PLANRUN_MAX_RETRIES", "PLANRUN_CONCURRENT_ACTIONS",
		"PLANRUN_ACTION_TIMEOUT", "PLANRUN_PROVIDER", "PLANRUN_OLLAMA_URL",
		"PLANRUN_BASE_URL", "PLANRUN_API_KEY", "OPENROUTER_API_KEY",
	} {
		t.Setenv(name, "")
	}
}

func TestConfig_Default(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3, cfg.Planner.MaxRetries)
	assert.Equal(t, 2, cfg.Planner.ConcurrentActions)
	assert.Equal(t, 300*time.Second, cfg.ActionTimeoutDuration())
	assert.True(t, cfg.Planner.ValidateGraph)
	assert.Equal(t, ProviderOllama, cfg.Backend.Provider)

	opts := cfg.PlannerOptions()
	assert.Equal(t, 3, opts.MaxRetries)
	assert.Equal(t, 2, opts.ConcurrentActions)
	assert.Equal(t, time.Second, opts.RetryDelay)
	assert.Zero(t, opts.EvaluationPause)
	assert.True(t, opts.ValidateGraph)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"negative retries", func(c *Config) { c.Planner.MaxRetries = -1 }, "planner.max_retries"},
		{"zero concurrency", func(c *Config) { c.Planner.ConcurrentActions = 0 }, "planner.concurrent_actions"},
		{"negative timeout", func(c *Config) { c.Planner.ActionTimeout = -5 }, "planner.action_timeout"},
		{"unknown provider", func(c *Config) { c.Backend.Provider = "bard" }, "backend.provider"},
		{"bad ollama url", func(c *Config) { c.Local.OllamaURL = "localhost:11434" }, "local.ollama_url"},
		{"bad cloud url", func(c *Config) {
			c.Backend.Provider = ProviderOpenAI
			c.Cloud.BaseURL = "ftp://example.com"
		}, "cloud.base_url"},
		{"unknown format", func(c *Config) { c.Output.Format = "xml" }, "output.format"},
		{"negative rate limit", func(c *Config) { c.Server.RateLimit = -1 }, "server.rate_limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()

			var verrs ValidateErrors
			require.True(t, errors.As(err, &verrs), "expected ValidateErrors, got %v", err)
			require.Len(t, verrs, 1)
			assert.Equal(t, tt.field, verrs[0].Field)
		})
	}
}

func TestConfig_ValidateCollectsAll(t *testing.T) {
	cfg := Default()
	cfg.Planner.MaxRetries = -1
	cfg.Output.Format = "xml"

	err := cfg.Validate()
	var verrs ValidateErrors
	require.ErrorAs(t, err, &verrs)
	assert.Len(t, verrs, 2)
	assert.Contains(t, err.Error(), "; ")
}

func TestLoadFromPath_TOML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[planner]
model = "qwen2.5:7b"
concurrent_actions = 4
validate_graph = false

[backend]
provider = "openai"

[cloud]
api_key = "sk-or-file"
`), 0o600))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5:7b", cfg.Planner.Model)
	assert.Equal(t, 4, cfg.Planner.ConcurrentActions)
	assert.False(t, cfg.Planner.ValidateGraph)
	// Absent keys keep their defaults.
	assert.Equal(t, 3, cfg.Planner.MaxRetries)
	assert.Equal(t, "https://openrouter.ai/api/v1", cfg.Cloud.BaseURL)
	assert.Equal(t, "sk-or-file", cfg.Cloud.APIKey)
}

func TestLoadFromPath_JSON(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"planner":{"max_retries":1},"output":{"format":"jsonl"}}`), 0o600))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Planner.MaxRetries)
	assert.Equal(t, FormatJSONL, cfg.Output.Format)
	assert.Equal(t, 2, cfg.Planner.ConcurrentActions)
}

func TestLoadFromPath_Errors(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	_, err := LoadFromPath(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[planner\nmodel = "), 0o600))
	_, err = LoadFromPath(bad)
	assert.ErrorContains(t, err, "failed to decode config")

	invalid := filepath.Join(dir, "invalid.toml")
	require.NoError(t, os.WriteFile(invalid, []byte("[planner]\nconcurrent_actions = 0\n"), 0o600))
	_, err = LoadFromPath(invalid)
	var verrs ValidateErrors
	assert.ErrorAs(t, err, &verrs)
}

func TestApplyEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PLANRUN_MODEL", "llama3.1:70b")
	t.Setenv("PLANRUN_MAX_RETRIES", "5")
	t.Setenv("PLANRUN_CONCURRENT_ACTIONS", "not-a-number")
	t.Setenv("PLANRUN_ACTION_TIMEOUT", "60")
	t.Setenv("PLANRUN_PROVIDER", "OpenAI")
	t.Setenv("OPENROUTER_API_KEY", "sk-or-fallback")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, "llama3.1:70b", cfg.Planner.Model)
	assert.Equal(t, 5, cfg.Planner.MaxRetries)
	assert.Equal(t, 2, cfg.Planner.ConcurrentActions)
	assert.Equal(t, time.Minute, cfg.ActionTimeoutDuration())
	assert.Equal(t, ProviderOpenAI, cfg.Backend.Provider)
	assert.Equal(t, "sk-or-fallback", cfg.Cloud.APIKey)

	t.Setenv("PLANRUN_API_KEY", "sk-or-primary")
	cfg.ApplyEnvOverrides()
	assert.Equal(t, "sk-or-primary", cfg.Cloud.APIKey)
}

func TestSave_RoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := Default()
	cfg.Planner.Model = "mistral:7b"
	cfg.Server.Token = "secret"
	require.NoError(t, Save(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestConfig_GetSet(t *testing.T) {
	cfg := Default()

	v, err := cfg.Get("planner.max_retries")
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	require.NoError(t, cfg.Set("planner.max_retries", "7"))
	require.NoError(t, cfg.Set("planner.validate_graph", "false"))
	require.NoError(t, cfg.Set("backend.requests_per_second", "2.5"))
	require.NoError(t, cfg.Set("Planner.Model", "phi3"))
	assert.Equal(t, 7, cfg.Planner.MaxRetries)
	assert.False(t, cfg.Planner.ValidateGraph)
	assert.Equal(t, 2.5, cfg.Backend.RequestsPerSecond)
	assert.Equal(t, "phi3", cfg.Planner.Model)

	assert.Error(t, cfg.Set("planner.max_retries", "many"))
	assert.Error(t, cfg.Set("planner.nope", "1"))
	assert.Error(t, cfg.Set("planner", "1"))
	_, err = cfg.Get("nope.model")
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	keys := Keys()
	assert.Contains(t, keys, "planner.concurrent_actions")
	assert.Contains(t, keys, "log.verbose")
	assert.IsIncreasing(t, keys)

	cfg := Default()
	for _, k := range keys {
		_, err := cfg.Get(k)
		assert.NoError(t, err, k)
	}
}

func TestConfig_StringRedacts(t *testing.T) {
	cfg := Default()
	cfg.Cloud.APIKey = "sk-or-very-secret"
	cfg.Server.Token = "hunter2"

	s := cfg.String()
	assert.NotContains(t, s, "sk-or-very-secret")
	assert.NotContains(t, s, "hunter2")
	assert.Contains(t, s, "[REDACTED]")
	// The original is untouched.
	assert.Equal(t, "hunter2", cfg.Server.Token)
}
