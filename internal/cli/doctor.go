// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// doctor.go - `planrun doctor`: check configuration and backend.
//
// Checks:
//   1. Config File      - The config file exists and decodes
//   2. Config Valid     - Every value passes validation
//   3. Backend          - Ollama is reachable, or a cloud API key is set
//   4. Model Available  - The configured model is pulled (Ollama only)
//   5. Report Directory - [output] report_dir is writable, when set
//
// Exit code 0 when nothing failed; warnings do not fail.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/planrun/internal/cloud"
	"github.com/jeranaias/planrun/internal/config"
	"github.com/jeranaias/planrun/internal/ollama"
	"github.com/jeranaias/planrun/internal/ui/styles"
)

// doctorCheckTimeout bounds each network check.
const doctorCheckTimeout = 5 * time.Second

var (
	checkPassStyle = lipgloss.NewStyle().Foreground(styles.Emerald).Bold(true)
	checkWarnStyle = lipgloss.NewStyle().Foreground(styles.Amber).Bold(true)
	checkFailStyle = lipgloss.NewStyle().Foreground(styles.Rose).Bold(true)
	fixStyle       = lipgloss.NewStyle().Foreground(styles.TextMuted).Italic(true).PaddingLeft(7)
)

// =============================================================================
// HEALTH CHECK TYPES
// =============================================================================

// CheckStatus represents the status of a health check.
type CheckStatus int

const (
	CheckPass CheckStatus = iota
	CheckWarn
	CheckFail
)

// String returns the JSON name of the status.
func (s CheckStatus) String() string {
	switch s {
	case CheckPass:
		return "pass"
	case CheckWarn:
		return "warn"
	case CheckFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Symbol returns the styled marker for the status.
func (s CheckStatus) Symbol() string {
	switch s {
	case CheckPass:
		return checkPassStyle.Render("[OK]  ")
	case CheckWarn:
		return checkWarnStyle.Render("[!!]  ")
	case CheckFail:
		return checkFailStyle.Render("[FAIL]")
	default:
		return "?"
	}
}

// HealthCheck represents a single health check result.
type HealthCheck struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Fix     string `json:"fix,omitempty"`

	status CheckStatus
}

func newCheck(name string, status CheckStatus, message, fix string) *HealthCheck {
	return &HealthCheck{Name: name, Status: status.String(), Message: message, Fix: fix, status: status}
}

// Render formats the check as one line plus an optional fix hint.
func (c *HealthCheck) Render() string {
	line := fmt.Sprintf("%s %-18s %s", c.status.Symbol(), c.Name, c.Message)
	if c.status != CheckPass && c.Fix != "" {
		line += "\n" + fixStyle.Render("-> "+c.Fix)
	}
	return line
}

// DoctorSummary counts results by status.
type DoctorSummary struct {
	Passed  int  `json:"passed"`
	Warned  int  `json:"warned"`
	Failed  int  `json:"failed"`
	Healthy bool `json:"healthy"`
}

// DoctorData is the --json payload.
type DoctorData struct {
	Checks  []*HealthCheck `json:"checks"`
	Summary DoctorSummary  `json:"summary"`
}

func summarize(checks []*HealthCheck) DoctorSummary {
	var sum DoctorSummary
	for _, c := range checks {
		switch c.status {
		case CheckPass:
			sum.Passed++
		case CheckWarn:
			sum.Warned++
		case CheckFail:
			sum.Failed++
		}
	}
	sum.Healthy = sum.Failed == 0
	return sum
}

// =============================================================================
// HANDLE DOCTOR
// =============================================================================

// HandleDoctor handles `planrun doctor`. It loads configuration itself so
// that a broken config file is reported as a check instead of stopping
// the command.
func HandleDoctor(ctx context.Context, w io.Writer, args Args) error {
	checks := runAllChecks(ctx, args)
	sum := summarize(checks)

	var err error
	if sum.Failed > 0 {
		err = fmt.Errorf("%d health check(s) failed", sum.Failed)
	}

	if args.JSON {
		resp := NewJSONResponse("doctor", DoctorData{Checks: checks, Summary: sum})
		if err != nil {
			msg := err.Error()
			resp.Success = false
			resp.Error = &msg
		}
		if perr := resp.Print(w); perr != nil {
			return perr
		}
		return err
	}

	fmt.Fprintln(w, TitleStyle.Render("planrun doctor"))
	fmt.Fprintln(w, Separator(48))
	for _, c := range checks {
		fmt.Fprintln(w, c.Render())
	}
	fmt.Fprintln(w, Separator(48))

	parts := []string{fmt.Sprintf("%d passed", sum.Passed)}
	if sum.Warned > 0 {
		parts = append(parts, checkWarnStyle.Render(fmt.Sprintf("%d warning", sum.Warned)))
	}
	if sum.Failed > 0 {
		parts = append(parts, checkFailStyle.Render(fmt.Sprintf("%d failed", sum.Failed)))
	}
	fmt.Fprintln(w, strings.Join(parts, ", "))
	return err
}

// runAllChecks runs the checks in order. Backend checks use the effective
// configuration, or the defaults when it does not load.
func runAllChecks(ctx context.Context, args Args) []*HealthCheck {
	checks := []*HealthCheck{checkConfigFile(args)}

	cfg, err := loadConfig(args)
	if err != nil {
		checks = append(checks, newCheck("Config Valid", CheckFail, oneLine(err), "planrun config show, or planrun config reset"))
		cfg = config.Default()
		cfg.ApplyEnvOverrides()
	} else {
		checks = append(checks, newCheck("Config Valid", CheckPass, "All values valid", ""))
	}

	switch cfg.Backend.Provider {
	case config.ProviderOpenAI:
		checks = append(checks, checkCloudBackend(cfg))
	default:
		checks = append(checks, checkOllamaBackend(ctx, cfg)...)
	}

	if cfg.Output.ReportDir != "" {
		checks = append(checks, checkReportDir(cfg.Output.ReportDir))
	}
	return checks
}

// =============================================================================
// HEALTH CHECK FUNCTIONS
// =============================================================================

func checkConfigFile(args Args) *HealthCheck {
	const name = "Config File"
	path, err := configPath(args)
	if err != nil {
		return newCheck(name, CheckFail, oneLine(err), "")
	}
	if _, err := config.ReadFile(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if args.ConfigPath != "" {
				return newCheck(name, CheckFail, "Not found: "+path, "planrun config init --config "+path)
			}
			return newCheck(name, CheckWarn, "No config file, using defaults", "planrun config init")
		}
		return newCheck(name, CheckFail, oneLine(err), "Fix the file or run: planrun config reset")
	}
	return newCheck(name, CheckPass, path, "")
}

func checkOllamaBackend(ctx context.Context, cfg *config.Config) []*HealthCheck {
	client := ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL: cfg.Local.OllamaURL,
		Timeout: doctorCheckTimeout,
		Model:   cfg.Planner.Model,
	})
	ctx, cancel := context.WithTimeout(ctx, doctorCheckTimeout)
	defer cancel()

	if err := client.CheckRunning(ctx); err != nil {
		return []*HealthCheck{
			newCheck("Backend", CheckFail, "Ollama not reachable at "+client.BaseURL(), "ollama serve"),
		}
	}
	running := newCheck("Backend", CheckPass, "Ollama running at "+client.BaseURL(), "")

	model := client.Model()
	models, err := client.ListModels(ctx)
	if err != nil {
		return []*HealthCheck{running, newCheck("Model Available", CheckWarn, "Could not list models: "+oneLine(err), "ollama pull "+model)}
	}
	for _, m := range models {
		if m.Name == model || m.Name == model+":latest" {
			return []*HealthCheck{running, newCheck("Model Available", CheckPass, model, "")}
		}
	}

	msg := "Model not downloaded: " + model
	if len(models) > 0 {
		names := make([]string, 0, len(models))
		for _, m := range models {
			names = append(names, m.Name)
		}
		msg += " (have: " + strings.Join(names, ", ") + ")"
	}
	return []*HealthCheck{running, newCheck("Model Available", CheckFail, msg, "ollama pull "+model)}
}

func checkCloudBackend(cfg *config.Config) *HealthCheck {
	const name = "Backend"
	key := strings.TrimSpace(cfg.Cloud.APIKey)
	if key == "" {
		return newCheck(name, CheckFail, "No API key for the openai provider", "planrun config set cloud.api_key <key>, or set PLANRUN_API_KEY")
	}

	baseURL := cfg.Cloud.BaseURL
	if baseURL == "" {
		baseURL = cloud.DefaultBaseURL
	}
	model := cloud.ResolveModel(cfg.Planner.Model)
	if strings.TrimRight(baseURL, "/") == cloud.DefaultBaseURL && !cloud.ValidateAPIKey(key) {
		return newCheck(name, CheckWarn, "API key does not look like an OpenRouter key", "Check cloud.api_key")
	}
	return newCheck(name, CheckPass, fmt.Sprintf("%s via %s", model, baseURL), "")
}

func checkReportDir(dir string) *HealthCheck {
	const name = "Report Directory"
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return newCheck(name, CheckWarn, "Cannot create "+dir, "Check output.report_dir")
	}
	f, err := os.CreateTemp(dir, ".planrun-doctor-*")
	if err != nil {
		return newCheck(name, CheckWarn, "Not writable: "+dir, "Check output.report_dir")
	}
	f.Close()
	_ = os.Remove(f.Name())
	return newCheck(name, CheckPass, filepath.Clean(dir), "")
}

// oneLine keeps multi-line errors on the check's line.
func oneLine(err error) string {
	return strings.Join(strings.Fields(err.Error()), " ")
}
