// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes run reports.
//
// Three formats are supported, chosen by file extension in WriteFile:
//   - Markdown (.md): YAML front matter, summary table, Mermaid diagram,
//     per-action outputs and the final result
//   - JSON (.json): the full plan with run state
//   - HTML (.html): a standalone page with chroma-highlighted code blocks
package export
