// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/planrun/internal/plan"
	"github.com/jeranaias/planrun/internal/util"
)

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Report is a finished (or stopped) run ready to be written out.
type Report struct {
	// Title heads the report; the goal is used when empty.
	Title string
	Plan  *plan.Plan
}

// heading returns the title to display.
func (r *Report) heading(p *plan.Plan) string {
	if t := strings.TrimSpace(r.Title); t != "" {
		return t
	}
	return p.Goal
}

// snapshot validates the report and returns a copy of its plan that is
// safe to read while the original is still being updated.
func (r *Report) snapshot() (*plan.Plan, error) {
	if r == nil || r.Plan == nil {
		return nil, errors.New("report has no plan")
	}
	p := r.Plan.Clone()
	if len(p.Actions) == 0 {
		return nil, errors.New("plan has no actions")
	}
	return p, nil
}

// Exporter defines the interface for report exporters.
type Exporter interface {
	// Export renders the report and returns the content.
	Export(r *Report) ([]byte, error)

	// FileExtension returns the file extension including the dot.
	FileExtension() string

	// MimeType returns the MIME type of the exported format.
	MimeType() string
}

// =============================================================================
// EXPORT OPTIONS
// =============================================================================

// Options configures export behavior.
type Options struct {
	// OutputDir is where ExportToFile writes. Default: current directory.
	OutputDir string

	// IncludeMetadata adds front matter and the summary table.
	IncludeMetadata bool

	// IncludeDiagram embeds the Mermaid diagram.
	IncludeDiagram bool

	// IncludeOutputs lists every action's output, not just the final result.
	IncludeOutputs bool

	// Theme for HTML export ("light" or "dark").
	Theme string
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		OutputDir:       ".",
		IncludeMetadata: true,
		IncludeDiagram:  true,
		IncludeOutputs:  true,
		Theme:           "dark",
	}
}

// =============================================================================
// EXPORT FUNCTIONS
// =============================================================================

// ForPath picks the exporter matching path's extension.
func ForPath(path string, opts *Options) (Exporter, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return NewMarkdownExporter(opts), nil
	case ".json":
		return NewJSONExporter(opts), nil
	case ".html", ".htm":
		return NewHTMLExporter(opts), nil
	default:
		return nil, fmt.Errorf("unsupported report format %q (use .md, .json or .html)", filepath.Ext(path))
	}
}

// WriteFile renders r with the exporter matching path and writes it
// atomically.
func WriteFile(path string, r *Report, opts *Options) error {
	exporter, err := ForPath(path, opts)
	if err != nil {
		return err
	}
	content, err := exporter.Export(r)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	if err := util.AtomicWriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// ExportToFile renders r into opts.OutputDir under a generated name and
// returns the path written.
func ExportToFile(r *Report, exporter Exporter, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	content, err := exporter.Export(r)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}

	filename := fmt.Sprintf("plan_%s_%s%s",
		sanitizeFilename(r.heading(r.Plan)),
		time.Now().Format("20060102_150405"),
		exporter.FileExtension(),
	)

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	outputPath := filepath.Join(opts.OutputDir, filename)
	if err := util.AtomicWriteFile(outputPath, content, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return outputPath, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// sanitizeFilename replaces characters that are invalid in filenames on
// Windows or Unix and caps the length at 50 runes.
func sanitizeFilename(s string) string {
	s = util.PrefixRunes(strings.TrimSpace(s), 50)

	var b strings.Builder
	for _, r := range s {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r):
			b.WriteRune('-')
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			b.WriteRune('_')
		case r < 32 || r == 127:
			b.WriteRune('-')
		default:
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "report"
	}
	return b.String()
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "n/a"
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	default:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
}

// formatTimestamp formats a timestamp for display.
func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "n/a"
	}
	return t.Format("2006-01-02 15:04:05")
}

// summaryOf returns the recorded summary, or one derived from action
// states when the run has not finished.
func summaryOf(p *plan.Plan) plan.ExecutionSummary {
	if s := p.ExecutionSummary(); s != nil {
		return *s
	}
	s := plan.ExecutionSummary{TotalSteps: len(p.Actions)}
	for _, a := range p.Actions {
		if a.Status == plan.StatusCompleted {
			s.CompletedSteps++
		}
		if a.Degraded {
			s.DegradedSteps++
		}
	}
	s.FailedSteps = s.TotalSteps - s.CompletedSteps
	return s
}

// dependsOn renders an action's dependency list.
func dependsOn(a plan.Action) string {
	if len(a.Dependencies) == 0 {
		return "none"
	}
	return strings.Join(a.Dependencies, ", ")
}
