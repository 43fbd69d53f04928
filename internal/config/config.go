// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/planrun/internal/planner"
	"github.com/jeranaias/planrun/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete planrun configuration.
type Config struct {
	Planner PlannerConfig `toml:"planner" json:"planner"`
	Backend BackendConfig `toml:"backend" json:"backend"`
	Local   LocalConfig   `toml:"local" json:"local"`
	Cloud   CloudConfig   `toml:"cloud" json:"cloud"`
	Output  OutputConfig  `toml:"output" json:"output"`
	Server  ServerConfig  `toml:"server" json:"server"`
	Log     LogConfig     `toml:"log" json:"log"`
}

// PlannerConfig tunes the compile, execute and synthesize pipeline.
type PlannerConfig struct {
	// Model is passed to the active backend. Empty selects the backend's
	// own default.
	Model string `toml:"model" json:"model"`
	// MaxRetries bounds corrective attempts per action.
	MaxRetries int `toml:"max_retries" json:"max_retries"`
	// ConcurrentActions is the number of actions run at once.
	ConcurrentActions int `toml:"concurrent_actions" json:"concurrent_actions"`
	// ActionTimeout is the per-action limit in seconds, 0 for none.
	ActionTimeout int `toml:"action_timeout" json:"action_timeout"`
	// RetryDelayMs separates compile and synthesis retries.
	RetryDelayMs int `toml:"retry_delay_ms" json:"retry_delay_ms"`
	// EvaluationPauseMs is waited before each yes/no evaluation.
	EvaluationPauseMs int `toml:"evaluation_pause_ms" json:"evaluation_pause_ms"`
	// ValidateGraph rejects plans with dangling or cyclic dependencies.
	ValidateGraph bool `toml:"validate_graph" json:"validate_graph"`
}

// BackendConfig selects the generation backend.
type BackendConfig struct {
	// Provider is "ollama" or "openai".
	Provider string `toml:"provider" json:"provider"`
	// RequestsPerSecond limits backend calls, 0 for unlimited.
	RequestsPerSecond float64 `toml:"requests_per_second" json:"requests_per_second"`
	// Burst is the limiter bucket size.
	Burst int `toml:"burst" json:"burst"`
}

// LocalConfig contains local Ollama configuration.
type LocalConfig struct {
	OllamaURL   string `toml:"ollama_url" json:"ollama_url"`
	TimeoutSecs int    `toml:"timeout_secs" json:"timeout_secs"`
}

// CloudConfig contains OpenAI-compatible endpoint configuration.
type CloudConfig struct {
	BaseURL string `toml:"base_url" json:"base_url"`
	APIKey  string `toml:"api_key" json:"api_key"`
}

// OutputConfig controls how runs are presented.
type OutputConfig struct {
	// Format is "text", "json" or "jsonl".
	Format         string `toml:"format" json:"format"`
	RenderMarkdown bool   `toml:"render_markdown" json:"render_markdown"`
	ShowDiagram    bool   `toml:"show_diagram" json:"show_diagram"`
	// ReportDir receives a Markdown report per run when set.
	ReportDir string `toml:"report_dir" json:"report_dir"`
}

// ServerConfig configures `planrun serve`.
type ServerConfig struct {
	Addr string `toml:"addr" json:"addr"`
	// Token enables bearer authentication when set.
	Token string `toml:"token" json:"token"`
	// RateLimit is requests per second per client, 0 for unlimited.
	RateLimit float64 `toml:"rate_limit" json:"rate_limit"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	File    string `toml:"file" json:"file"`
	Verbose bool   `toml:"verbose" json:"verbose"`
}

// Providers.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Output formats.
const (
	FormatText  = "text"
	FormatJSON  = "json"
	FormatJSONL = "jsonl"
)

// Default returns a new Config with default values.
func Default() *Config {
	return &Config{
		Planner: PlannerConfig{
			MaxRetries:        3,
			ConcurrentActions: 2,
			ActionTimeout:     300,
			RetryDelayMs:      1000,
			ValidateGraph:     true,
		},
		Backend: BackendConfig{
			Provider: ProviderOllama,
			Burst:    1,
		},
		Local: LocalConfig{
			OllamaURL:   "http://127.0.0.1:11434",
			TimeoutSecs: 120,
		},
		Cloud: CloudConfig{
			BaseURL: "https://openrouter.ai/api/v1",
		},
		Output: OutputConfig{
			Format:         FormatText,
			RenderMarkdown: true,
			ShowDiagram:    true,
		},
		Server: ServerConfig{
			Addr:      "127.0.0.1:8080",
			RateLimit: 5,
		},
	}
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// ActionTimeoutDuration returns the per-action limit.
func (c *Config) ActionTimeoutDuration() time.Duration {
	return time.Duration(c.Planner.ActionTimeout) * time.Second
}

// PlannerOptions converts the planner section into pipeline options.
func (c *Config) PlannerOptions() planner.Options {
	return planner.Options{
		MaxRetries:        c.Planner.MaxRetries,
		ConcurrentActions: c.Planner.ConcurrentActions,
		ActionTimeout:     c.ActionTimeoutDuration(),
		RetryDelay:        time.Duration(c.Planner.RetryDelayMs) * time.Millisecond,
		EvaluationPause:   time.Duration(c.Planner.EvaluationPauseMs) * time.Millisecond,
		ValidateGraph:     c.Planner.ValidateGraph,
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the planrun configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".planrun"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads ~/.planrun/config.toml, falling back to config.json, then to
// defaults when neither exists. Environment overrides are applied last and
// the result is validated.
func Load() (*Config, error) {
	for _, pathFn := range []func() (string, error){ConfigPathTOML, ConfigPathJSON} {
		path, err := pathFn()
		if err != nil {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			return LoadFromPath(path)
		}
	}
	return finish(Default())
}

// LoadFromPath loads configuration from a specific file, then applies
// environment overrides and validates.
func LoadFromPath(path string) (*Config, error) {
	cfg, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return finish(cfg)
}

// ReadFile decodes path over the defaults without environment overrides or
// validation, which is what an editor of the file wants. Files ending in
// .json are decoded as JSON, everything else as TOML.
func ReadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if strings.HasSuffix(strings.ToLower(path), ".json") {
		err = json.Unmarshal(data, cfg)
	} else {
		var md toml.MetaData
		md, err = toml.Decode(string(data), cfg)
		if err == nil {
			if undecoded := md.Undecoded(); len(undecoded) > 0 {
				log.Printf("WARNING: unknown config keys in %s: %v", path, undecoded)
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	return cfg, nil
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes cfg as TOML to path, or to the default location when path
// is empty. Files are created 0600 since they may hold API keys.
func Save(cfg *Config, path string) error {
	if path == "" {
		var err error
		if path, err = ConfigPathTOML(); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# planrun configuration file\n")
	buf.WriteString("# Environment variables PLANRUN_* override these values.\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Planner.MaxRetries < 0 {
		add("planner.max_retries", "must be >= 0, got %d", c.Planner.MaxRetries)
	}
	if c.Planner.ConcurrentActions < 1 {
		add("planner.concurrent_actions", "must be >= 1, got %d", c.Planner.ConcurrentActions)
	}
	if c.Planner.ActionTimeout < 0 {
		add("planner.action_timeout", "must be >= 0, got %d", c.Planner.ActionTimeout)
	}
	if c.Planner.RetryDelayMs < 0 {
		add("planner.retry_delay_ms", "must be >= 0, got %d", c.Planner.RetryDelayMs)
	}
	if c.Planner.EvaluationPauseMs < 0 {
		add("planner.evaluation_pause_ms", "must be >= 0, got %d", c.Planner.EvaluationPauseMs)
	}

	switch c.Backend.Provider {
	case ProviderOllama, ProviderOpenAI:
	default:
		add("backend.provider", "invalid provider '%s', must be one of: ollama, openai", c.Backend.Provider)
	}
	if c.Backend.RequestsPerSecond < 0 {
		add("backend.requests_per_second", "must be >= 0")
	}
	if c.Backend.Burst < 0 {
		add("backend.burst", "must be >= 0, got %d", c.Backend.Burst)
	}

	if err := validateURL(c.Local.OllamaURL); err != nil {
		add("local.ollama_url", "%v", err)
	}
	if c.Local.TimeoutSecs < 0 {
		add("local.timeout_secs", "must be >= 0, got %d", c.Local.TimeoutSecs)
	}
	if c.Backend.Provider == ProviderOpenAI {
		if err := validateURL(c.Cloud.BaseURL); err != nil {
			add("cloud.base_url", "%v", err)
		}
	}

	switch c.Output.Format {
	case FormatText, FormatJSON, FormatJSONL:
	default:
		add("output.format", "invalid format '%s', must be one of: text, json, jsonl", c.Output.Format)
	}

	if c.Server.RateLimit < 0 {
		add("server.rate_limit", "must be >= 0")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL '%s': %v", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL '%s': scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid URL '%s': missing host", raw)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies PLANRUN_* environment variables:
//   - PLANRUN_MODEL, PLANRUN_MAX_RETRIES, PLANRUN_CONCURRENT_ACTIONS,
//     PLANRUN_ACTION_TIMEOUT (seconds)
//   - PLANRUN_PROVIDER, PLANRUN_OLLAMA_URL, PLANRUN_BASE_URL
//   - PLANRUN_API_KEY, falling back to OPENROUTER_API_KEY
//
// Unparseable numbers are logged and ignored.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("PLANRUN_MODEL"); v != "" {
		c.Planner.Model = v
	}
	envInt("PLANRUN_MAX_RETRIES", &c.Planner.MaxRetries)
	envInt("PLANRUN_CONCURRENT_ACTIONS", &c.Planner.ConcurrentActions)
	envInt("PLANRUN_ACTION_TIMEOUT", &c.Planner.ActionTimeout)

	if v := os.Getenv("PLANRUN_PROVIDER"); v != "" {
		c.Backend.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("PLANRUN_OLLAMA_URL"); v != "" {
		c.Local.OllamaURL = v
	}
	if v := os.Getenv("PLANRUN_BASE_URL"); v != "" {
		c.Cloud.BaseURL = v
	}
	if v := os.Getenv("PLANRUN_API_KEY"); v != "" {
		c.Cloud.APIKey = v
	} else if v := os.Getenv("OPENROUTER_API_KEY"); v != "" && c.Cloud.APIKey == "" {
		c.Cloud.APIKey = v
	}
}

func envInt(name string, dst *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		log.Printf("WARNING: ignoring %s=%q: not an integer", name, v)
		return
	}
	*dst = n
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a value by its dotted TOML key, e.g. "planner.max_retries".
func (c *Config) Get(key string) (any, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set parses value into the field named by a dotted TOML key. The caller
// should Validate afterwards.
func (c *Config) Set(key, value string) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	value = strings.TrimSpace(value)

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: expected an integer, got %q", key, value)
		}
		field.SetInt(int64(n))
	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%s: expected a number, got %q", key, value)
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s: expected true or false, got %q", key, value)
		}
		field.SetBool(b)
	default:
		return fmt.Errorf("%s: unsupported type %s", key, field.Kind())
	}
	return nil
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(key)), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return reflect.Value{}, fmt.Errorf("invalid key %q: expected section.name", key)
	}

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		field, ok := fieldByTag(v, part)
		if !ok {
			return reflect.Value{}, fmt.Errorf("unknown config key: %s", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	if v.Kind() == reflect.Struct {
		return reflect.Value{}, errors.New("key names a section, not a value: " + key)
	}
	return v, nil
}

func fieldByTag(v reflect.Value, tag string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).Tag.Get("toml") == tag {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// Keys lists every dotted key, sorted.
func Keys() []string {
	var keys []string
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		section := t.Field(i)
		for j := 0; j < section.Type.NumField(); j++ {
			keys = append(keys, section.Tag.Get("toml")+"."+section.Type.Field(j).Tag.Get("toml"))
		}
	}
	sort.Strings(keys)
	return keys
}

// =============================================================================
// DISPLAY
// =============================================================================

// Redacted returns a copy with secrets replaced, safe to print or log.
func (c *Config) Redacted() *Config {
	safe := *c
	if safe.Cloud.APIKey != "" {
		safe.Cloud.APIKey = "[REDACTED]"
	}
	if safe.Server.Token != "" {
		safe.Server.Token = "[REDACTED]"
	}
	return &safe
}

// String renders the redacted configuration as TOML.
func (c *Config) String() string {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c.Redacted()); err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return buf.String()
}
