// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeranaias/planrun/internal/plan"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports runs to Markdown with a Mermaid diagram.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// frontMatter is marshalled through yaml.v3 so titles with colons, quotes
// or newlines stay a single scalar.
type frontMatter struct {
	Title     string `yaml:"title"`
	Goal      string `yaml:"goal"`
	PlanID    string `yaml:"plan_id,omitempty"`
	Created   string `yaml:"created,omitempty"`
	Steps     int    `yaml:"steps"`
	Completed int    `yaml:"completed"`
	Failed    int    `yaml:"failed"`
	Exported  string `yaml:"exported"`
	Generator string `yaml:"generator"`
}

// Export converts the report to Markdown.
func (e *MarkdownExporter) Export(r *Report) ([]byte, error) {
	p, err := r.snapshot()
	if err != nil {
		return nil, err
	}
	title := r.heading(p)
	summary := summaryOf(p)

	var sb strings.Builder

	if e.options.IncludeMetadata {
		fm := frontMatter{
			Title:     title,
			Goal:      p.Goal,
			PlanID:    p.ID,
			Steps:     summary.TotalSteps,
			Completed: summary.CompletedSteps,
			Failed:    summary.FailedSteps,
			Exported:  time.Now().Format(time.RFC3339),
			Generator: "planrun",
		}
		if !p.CreatedAt.IsZero() {
			fm.Created = p.CreatedAt.Format(time.RFC3339)
		}
		data, err := yaml.Marshal(fm)
		if err != nil {
			return nil, fmt.Errorf("failed to encode front matter: %w", err)
		}
		sb.WriteString("---\n")
		sb.Write(data)
		sb.WriteString("---\n\n")
	}

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(title))
	if title != p.Goal {
		fmt.Fprintf(&sb, "> %s\n\n", strings.ReplaceAll(p.Goal, "\n", "\n> "))
	}

	if e.options.IncludeMetadata {
		sb.WriteString("## Summary\n\n")
		sb.WriteString(e.summaryTable(summary))
		sb.WriteString("\n")
	}

	if e.options.IncludeDiagram {
		sb.WriteString("## Plan\n\n")
		sb.WriteString("```mermaid\n")
		sb.WriteString(p.Mermaid())
		sb.WriteString("\n```\n\n")
	}

	if e.options.IncludeOutputs {
		sb.WriteString("## Actions\n\n")
		for i, a := range p.Actions {
			sb.WriteString(e.formatAction(i+1, a))
		}
	}

	sb.WriteString("## Final Result\n\n")
	if final := strings.TrimSpace(p.FinalOutput); final != "" {
		sb.WriteString(final)
		sb.WriteString("\n\n")
	} else {
		sb.WriteString("*No final result was produced.*\n\n")
	}

	sb.WriteString("---\n\n")
	fmt.Fprintf(&sb, "*Generated by planrun on %s*\n", time.Now().Format("January 2, 2006 at 3:04 PM"))

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

// =============================================================================
// FORMATTING HELPERS
// =============================================================================

func (e *MarkdownExporter) summaryTable(s plan.ExecutionSummary) string {
	var sb strings.Builder
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|---|---|\n")
	fmt.Fprintf(&sb, "| Steps | %d |\n", s.TotalSteps)
	fmt.Fprintf(&sb, "| Completed | %d |\n", s.CompletedSteps)
	fmt.Fprintf(&sb, "| Failed | %d |\n", s.FailedSteps)
	if s.DegradedSteps > 0 {
		fmt.Fprintf(&sb, "| Completed with warnings | %d |\n", s.DegradedSteps)
	}
	fmt.Fprintf(&sb, "| Started | %s |\n", formatTimestamp(s.ExecutionTime.Start))
	fmt.Fprintf(&sb, "| Finished | %s |\n", formatTimestamp(s.ExecutionTime.End))
	if !s.ExecutionTime.Start.IsZero() && !s.ExecutionTime.End.IsZero() {
		fmt.Fprintf(&sb, "| Duration | %s |\n", formatDuration(s.ExecutionTime.End.Sub(s.ExecutionTime.Start)))
	}
	if len(s.Blocked) > 0 {
		fmt.Fprintf(&sb, "| Never ran | %s |\n", strings.Join(s.Blocked, ", "))
	}
	return sb.String()
}

func (e *MarkdownExporter) formatAction(n int, a plan.Action) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "### %d. %s (`%s`)\n\n", n, escapeMarkdown(a.Description), a.ID)
	fmt.Fprintf(&sb, "- **Type**: %s\n", a.Type)
	fmt.Fprintf(&sb, "- **Status**: %s %s", a.Status.Glyph(), a.Status)
	if a.Degraded {
		sb.WriteString(" (with warnings)")
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "- **Depends on**: %s\n", dependsOn(a))
	if a.Attempts > 0 {
		fmt.Fprintf(&sb, "- **Attempts**: %d\n", a.Attempts)
	}
	if d := a.Duration(); d > 0 && !a.EndTime.IsZero() {
		fmt.Fprintf(&sb, "- **Duration**: %s\n", formatDuration(d))
	}
	if a.Error != "" {
		fmt.Fprintf(&sb, "- **Error**: %s\n", strings.ReplaceAll(a.Error, "\n", " "))
	}
	sb.WriteString("\n")

	if text := strings.TrimSpace(a.Output.Text()); text != "" {
		sb.WriteString(text)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// escapeMarkdown escapes characters that would start markup in a heading.
func escapeMarkdown(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	replacer := strings.NewReplacer(
		`\`, `\\`,
		"*", `\*`,
		"_", `\_`,
		"`", "\\`",
		"#", `\#`,
		"[", `\[`,
		"]", `\]`,
	)
	return replacer.Replace(s)
}
