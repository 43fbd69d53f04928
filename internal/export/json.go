// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"fmt"
)

// JSONExporter writes the full plan, including run state and the final
// output, as indented JSON.
type JSONExporter struct {
	options *Options
}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter(opts *Options) *JSONExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &JSONExporter{options: opts}
}

type jsonReport struct {
	Title string `json:"title"`
	Plan  any    `json:"plan"`
}

// Export converts the report to JSON.
func (e *JSONExporter) Export(r *Report) ([]byte, error) {
	p, err := r.snapshot()
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(jsonReport{Title: r.heading(p), Plan: p}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	return append(data, '\n'), nil
}

// FileExtension returns the file extension for JSON.
func (e *JSONExporter) FileExtension() string {
	return ".json"
}

// MimeType returns the MIME type for JSON.
func (e *JSONExporter) MimeType() string {
	return "application/json"
}
