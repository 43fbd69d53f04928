// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package plan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jeranaias/planrun/internal/util"
)

// MaxDocumentSize caps plan documents read from a model or from disk.
const MaxDocumentSize = 1024 * 1024

// Format is a plan document encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatForPath picks a format from a file extension. Unknown extensions
// are treated as JSON.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// document is the serialized plan shape: goal, actions and metadata, with
// nothing else allowed. Pointer and nil-able fields detect omissions.
type document struct {
	Goal     *string          `json:"goal" yaml:"goal"`
	Actions  []actionDocument `json:"actions" yaml:"actions"`
	Metadata map[string]any   `json:"metadata" yaml:"metadata"`
}

type actionDocument struct {
	ID           *string        `json:"id" yaml:"id"`
	Type         *string        `json:"type" yaml:"type"`
	Description  *string        `json:"description" yaml:"description"`
	Params       map[string]any `json:"params" yaml:"params"`
	Dependencies []string       `json:"dependencies" yaml:"dependencies"`
}

var requiredMetadata = []string{"estimated_time", "complexity"}

// Decode parses a plan document strictly: unknown fields, missing fields,
// empty ids or descriptions and duplicate ids are all rejected. The graph
// itself (dangling references, cycles) is checked by ValidateGraph.
func Decode(data []byte, format Format) (*Plan, error) {
	if len(data) > MaxDocumentSize {
		return nil, invalidf("document too large: %d bytes (max: %d)", len(data), MaxDocumentSize)
	}

	var doc document
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, invalidf("empty document")
			}
			return nil, &GraphError{Kind: ErrInvalidPlan, Msg: err.Error()}
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, &GraphError{Kind: ErrInvalidPlan, Msg: err.Error()}
		}
		if dec.More() {
			return nil, invalidf("unexpected data after plan object")
		}
	}
	return doc.toPlan()
}

func (d *document) toPlan() (*Plan, error) {
	if d.Goal == nil {
		return nil, invalidf("missing field \"goal\"")
	}
	if d.Actions == nil {
		return nil, invalidf("missing field \"actions\"")
	}
	if len(d.Actions) == 0 {
		return nil, invalidf("plan has no actions")
	}
	if d.Metadata == nil {
		return nil, invalidf("missing field \"metadata\"")
	}
	for _, key := range requiredMetadata {
		if _, ok := d.Metadata[key]; !ok {
			return nil, invalidf("metadata is missing %q", key)
		}
	}

	actions := make([]Action, 0, len(d.Actions))
	for i, ad := range d.Actions {
		a, err := ad.toAction(i + 1)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	if err := checkIDs(actions); err != nil {
		return nil, err
	}
	return New(*d.Goal, actions, d.Metadata), nil
}

func (ad actionDocument) toAction(pos int) (Action, error) {
	switch {
	case ad.ID == nil:
		return Action{}, invalidf("action %d: missing field \"id\"", pos)
	case ad.Type == nil:
		return Action{}, invalidf("action %d: missing field \"type\"", pos)
	case ad.Description == nil:
		return Action{}, invalidf("action %d: missing field \"description\"", pos)
	case ad.Params == nil:
		return Action{}, invalidf("action %d: missing field \"params\"", pos)
	case ad.Dependencies == nil:
		return Action{}, invalidf("action %d: missing field \"dependencies\"", pos)
	}
	if strings.TrimSpace(*ad.Description) == "" {
		return Action{}, invalidf("action %d: description is empty", pos)
	}
	return Action{
		ID:           *ad.ID,
		Type:         *ad.Type,
		Description:  *ad.Description,
		Params:       ad.Params,
		Dependencies: ad.Dependencies,
	}, nil
}

// Encode writes the plan as a document that Decode accepts. Run state
// (status, outputs, summary) is not included.
func Encode(p *Plan, format Format) ([]byte, error) {
	p.mu.RLock()
	goal := p.Goal
	doc := document{Goal: &goal, Metadata: p.Metadata, Actions: make([]actionDocument, len(p.Actions))}
	for i := range p.Actions {
		a := p.Actions[i].clone()
		if a.Params == nil {
			a.Params = map[string]any{}
		}
		if a.Dependencies == nil {
			a.Dependencies = []string{}
		}
		doc.Actions[i] = actionDocument{
			ID:           &a.ID,
			Type:         &a.Type,
			Description:  &a.Description,
			Params:       a.Params,
			Dependencies: a.Dependencies,
		}
	}
	p.mu.RUnlock()

	if doc.Metadata == nil {
		doc.Metadata = map[string]any{}
	}

	switch format {
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return nil, fmt.Errorf("failed to encode plan: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("failed to encode plan: %w", err)
		}
		return buf.Bytes(), nil
	default:
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode plan: %w", err)
		}
		return append(data, '\n'), nil
	}
}

// LoadFile reads and decodes a plan file, choosing the format by extension.
func LoadFile(path string) (*Plan, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	if info.Size() > MaxDocumentSize {
		return nil, invalidf("plan file too large: %d bytes (max: %d)", info.Size(), MaxDocumentSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	p, err := Decode(data, FormatForPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// WriteFile encodes the plan and writes it atomically.
func WriteFile(path string, p *Plan) error {
	data, err := Encode(p, FormatForPath(path))
	if err != nil {
		return err
	}
	return util.AtomicWriteFile(path, data, 0644)
}

// stripFences removes a surrounding Markdown code fence, which models often
// add despite being told not to.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// Drop the info string ("json", "yaml", ...).
		if !strings.ContainsAny(s[:nl], "{[") {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
