// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/jeranaias/planrun/internal/plan"
)

// =============================================================================
// HTML EXPORTER
// =============================================================================

// HTMLExporter exports runs to a self-contained HTML page with embedded
// CSS and syntax-highlighted code blocks.
type HTMLExporter struct {
	options *Options
}

// NewHTMLExporter creates a new HTML exporter.
func NewHTMLExporter(opts *Options) *HTMLExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &HTMLExporter{options: opts}
}

// Export converts the report to HTML.
func (e *HTMLExporter) Export(r *Report) ([]byte, error) {
	p, err := r.snapshot()
	if err != nil {
		return nil, err
	}
	title := r.heading(p)
	theme := e.theme()

	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n")
	sb.WriteString("<html lang=\"en\">\n")
	sb.WriteString("<head>\n")
	sb.WriteString("    <meta charset=\"UTF-8\">\n")
	sb.WriteString("    <meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	fmt.Fprintf(&sb, "    <title>%s</title>\n", html.EscapeString(title))
	sb.WriteString("    <meta name=\"generator\" content=\"planrun\">\n")
	sb.WriteString(css)
	sb.WriteString("</head>\n")
	fmt.Fprintf(&sb, "<body class=\"%s-theme\">\n", theme)
	sb.WriteString("    <div class=\"container\">\n")

	sb.WriteString(e.renderHeader(title, p))

	if e.options.IncludeDiagram {
		sb.WriteString("        <section class=\"diagram\">\n")
		sb.WriteString("            <h2>Plan</h2>\n")
		fmt.Fprintf(&sb, "            <pre class=\"mermaid\">%s</pre>\n", html.EscapeString(p.Mermaid()))
		sb.WriteString("        </section>\n")
	}

	if e.options.IncludeOutputs {
		sb.WriteString("        <section class=\"actions\">\n")
		sb.WriteString("            <h2>Actions</h2>\n")
		for i, a := range p.Actions {
			sb.WriteString(e.renderAction(i+1, a, theme))
		}
		sb.WriteString("        </section>\n")
	}

	sb.WriteString("        <section class=\"final\">\n")
	sb.WriteString("            <h2>Final Result</h2>\n")
	if final := strings.TrimSpace(p.FinalOutput); final != "" {
		sb.WriteString(formatContent(final, theme))
	} else {
		sb.WriteString("<p class=\"muted\">No final result was produced.</p>\n")
	}
	sb.WriteString("        </section>\n")

	sb.WriteString("        <footer class=\"footer\">\n")
	fmt.Fprintf(&sb, "            <p>Generated by <strong>planrun</strong> on %s</p>\n",
		time.Now().Format("January 2, 2006 at 3:04 PM"))
	sb.WriteString("        </footer>\n")
	sb.WriteString("    </div>\n")

	if e.options.IncludeDiagram {
		sb.WriteString(mermaidScript)
	}
	sb.WriteString("</body>\n")
	sb.WriteString("</html>\n")

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for HTML.
func (e *HTMLExporter) FileExtension() string {
	return ".html"
}

// MimeType returns the MIME type for HTML.
func (e *HTMLExporter) MimeType() string {
	return "text/html"
}

func (e *HTMLExporter) theme() string {
	if e.options.Theme == "light" {
		return "light"
	}
	return "dark"
}

// =============================================================================
// RENDERING FUNCTIONS
// =============================================================================

func (e *HTMLExporter) renderHeader(title string, p *plan.Plan) string {
	var sb strings.Builder
	sb.WriteString("        <header class=\"header\">\n")
	fmt.Fprintf(&sb, "            <h1>%s</h1>\n", html.EscapeString(title))
	if title != p.Goal {
		fmt.Fprintf(&sb, "            <p class=\"goal\">%s</p>\n", html.EscapeString(p.Goal))
	}
	if e.options.IncludeMetadata {
		s := summaryOf(p)
		sb.WriteString("            <div class=\"metadata\">\n")
		fmt.Fprintf(&sb, "                <span class=\"meta-item\"><strong>Steps:</strong> %d</span>\n", s.TotalSteps)
		fmt.Fprintf(&sb, "                <span class=\"meta-item success\"><strong>Completed:</strong> %d</span>\n", s.CompletedSteps)
		fmt.Fprintf(&sb, "                <span class=\"meta-item error\"><strong>Failed:</strong> %d</span>\n", s.FailedSteps)
		if s.DegradedSteps > 0 {
			fmt.Fprintf(&sb, "                <span class=\"meta-item warning\"><strong>With warnings:</strong> %d</span>\n", s.DegradedSteps)
		}
		fmt.Fprintf(&sb, "                <span class=\"meta-item\"><strong>Started:</strong> %s</span>\n", formatTimestamp(s.ExecutionTime.Start))
		fmt.Fprintf(&sb, "                <span class=\"meta-item\"><strong>Finished:</strong> %s</span>\n", formatTimestamp(s.ExecutionTime.End))
		sb.WriteString("            </div>\n")
	}
	sb.WriteString("        </header>\n")
	return sb.String()
}

func (e *HTMLExporter) renderAction(n int, a plan.Action, theme string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "            <div class=\"action %s\">\n", statusClass(a.Status))
	sb.WriteString("                <div class=\"action-header\">\n")
	fmt.Fprintf(&sb, "                    <span class=\"action-title\">%d. %s</span>\n", n, html.EscapeString(a.Description))
	fmt.Fprintf(&sb, "                    <span class=\"action-status\">%s %s</span>\n", a.Status.Glyph(), html.EscapeString(string(a.Status)))
	sb.WriteString("                </div>\n")

	sb.WriteString("                <div class=\"action-meta\">\n")
	fmt.Fprintf(&sb, "                    <span><strong>ID:</strong> <code>%s</code></span>\n", html.EscapeString(a.ID))
	fmt.Fprintf(&sb, "                    <span><strong>Type:</strong> %s</span>\n", html.EscapeString(a.Type))
	fmt.Fprintf(&sb, "                    <span><strong>Depends on:</strong> %s</span>\n", html.EscapeString(dependsOn(a)))
	if a.Attempts > 0 {
		fmt.Fprintf(&sb, "                    <span><strong>Attempts:</strong> %d</span>\n", a.Attempts)
	}
	if !a.EndTime.IsZero() {
		fmt.Fprintf(&sb, "                    <span><strong>Duration:</strong> %s</span>\n", formatDuration(a.Duration()))
	}
	sb.WriteString("                </div>\n")

	if a.Error != "" {
		fmt.Fprintf(&sb, "                <p class=\"error\">%s</p>\n", html.EscapeString(a.Error))
	}
	if text := strings.TrimSpace(a.Output.Text()); text != "" {
		sb.WriteString("                <div class=\"action-output\">\n")
		sb.WriteString(formatContent(text, theme))
		sb.WriteString("                </div>\n")
	}
	sb.WriteString("            </div>\n")
	return sb.String()
}

func statusClass(s plan.ActionStatus) string {
	switch s {
	case plan.StatusCompleted:
		return "completed"
	case plan.StatusFailed:
		return "failed"
	case plan.StatusInProgress:
		return "in-progress"
	default:
		return "pending"
	}
}

// =============================================================================
// CONTENT FORMATTING
// =============================================================================

var (
	codeFence  = regexp.MustCompile("(?s)```([a-zA-Z0-9_+.#-]*)[^\\n]*\\n(.*?)```")
	inlineCode = regexp.MustCompile("`([^`\n]+)`")
)

// formatContent renders model output: fenced code through the highlighter,
// everything else as escaped paragraphs.
func formatContent(content, theme string) string {
	var sb strings.Builder
	last := 0
	for _, m := range codeFence.FindAllStringSubmatchIndex(content, -1) {
		sb.WriteString(formatText(content[last:m[0]]))
		lang := content[m[2]:m[3]]
		code := strings.TrimRight(content[m[4]:m[5]], "\n")
		sb.WriteString(codeBlock(code, lang, theme))
		last = m[1]
	}
	sb.WriteString(formatText(content[last:]))
	return sb.String()
}

// formatText escapes prose and groups it into paragraphs split on blank
// lines. Markdown headings become h3.
func formatText(text string) string {
	var sb strings.Builder
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if strings.HasPrefix(para, "#") && !strings.Contains(para, "\n") {
			fmt.Fprintf(&sb, "<h3>%s</h3>\n", html.EscapeString(strings.TrimSpace(strings.TrimLeft(para, "#"))))
			continue
		}
		escaped := html.EscapeString(para)
		escaped = inlineCode.ReplaceAllString(escaped, "<code class=\"inline-code\">$1</code>")
		escaped = strings.ReplaceAll(escaped, "\n", "<br>\n")
		fmt.Fprintf(&sb, "<p>%s</p>\n", escaped)
	}
	return sb.String()
}

func codeBlock(code, lang, theme string) string {
	var sb strings.Builder
	sb.WriteString("<div class=\"code-block\">")
	if lang != "" {
		fmt.Fprintf(&sb, "<div class=\"code-lang\">%s</div>", html.EscapeString(lang))
	}
	sb.WriteString(highlight(code, lang, theme))
	sb.WriteString("</div>\n")
	return sb.String()
}

// =============================================================================
// EMBEDDED ASSETS
// =============================================================================

const mermaidScript = `    <script type="module">
        import mermaid from 'https://cdn.jsdelivr.net/npm/mermaid@10/dist/mermaid.esm.min.mjs';
        mermaid.initialize({ startOnLoad: true });
    </script>
`

const css = `    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }

        :root {
            --font-sans: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, "Helvetica Neue", Arial, sans-serif;
            --font-mono: "SF Mono", "Monaco", "Inconsolata", "Fira Code", "Source Code Pro", monospace;
        }

        .dark-theme {
            --bg-primary: #1a1b26;
            --bg-secondary: #24283b;
            --bg-tertiary: #414868;
            --text-primary: #c0caf5;
            --text-secondary: #a9b1d6;
            --text-muted: #565f89;
            --border-color: #414868;
            --accent-blue: #7aa2f7;
            --accent-green: #9ece6a;
            --accent-yellow: #e0af68;
            --accent-red: #f7768e;
        }

        .light-theme {
            --bg-primary: #ffffff;
            --bg-secondary: #f7f8fa;
            --bg-tertiary: #e1e4e8;
            --text-primary: #24292e;
            --text-secondary: #586069;
            --text-muted: #6a737d;
            --border-color: #e1e4e8;
            --accent-blue: #0366d6;
            --accent-green: #22863a;
            --accent-yellow: #b08800;
            --accent-red: #d73a49;
        }

        body {
            font-family: var(--font-sans);
            line-height: 1.6;
            color: var(--text-primary);
            background: var(--bg-primary);
            padding: 20px;
        }

        .container {
            max-width: 960px;
            margin: 0 auto;
            background: var(--bg-secondary);
            border-radius: 12px;
            overflow: hidden;
        }

        .header { padding: 32px; background: var(--bg-tertiary); }
        .header h1 { font-size: 28px; margin-bottom: 8px; }
        .goal { color: var(--text-secondary); margin-bottom: 12px; }
        .metadata { display: flex; flex-wrap: wrap; gap: 16px; font-size: 14px; color: var(--text-secondary); }

        section { padding: 24px 32px; border-bottom: 1px solid var(--border-color); }
        section h2 { font-size: 20px; margin-bottom: 16px; color: var(--accent-blue); }
        h3 { font-size: 16px; margin: 12px 0 8px; }
        p { margin-bottom: 12px; }

        .action { border-left: 4px solid var(--border-color); padding: 12px 16px; margin-bottom: 16px; background: var(--bg-primary); border-radius: 6px; }
        .action.completed { border-left-color: var(--accent-green); }
        .action.failed { border-left-color: var(--accent-red); }
        .action.in-progress { border-left-color: var(--accent-yellow); }
        .action-header { display: flex; justify-content: space-between; font-weight: 600; margin-bottom: 6px; }
        .action-meta { display: flex; flex-wrap: wrap; gap: 12px; font-size: 13px; color: var(--text-muted); margin-bottom: 8px; }

        .success { color: var(--accent-green); }
        .warning { color: var(--accent-yellow); }
        .error { color: var(--accent-red); }
        .muted { color: var(--text-muted); }

        code, pre { font-family: var(--font-mono); font-size: 14px; }
        .inline-code { background: var(--bg-tertiary); padding: 1px 5px; border-radius: 4px; }
        .code-block { margin: 12px 0; border-radius: 6px; overflow: hidden; border: 1px solid var(--border-color); }
        .code-block pre { padding: 12px; overflow-x: auto; }
        .code-lang { font-size: 12px; padding: 4px 12px; color: var(--text-muted); background: var(--bg-tertiary); }
        pre.mermaid { background: var(--bg-primary); padding: 16px; border-radius: 6px; overflow-x: auto; }

        .footer { padding: 16px 32px; font-size: 13px; color: var(--text-muted); text-align: center; }
    </style>
`
