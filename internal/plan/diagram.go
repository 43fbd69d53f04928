// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package plan

import (
	"fmt"
	"strings"

	"github.com/jeranaias/planrun/internal/util"
)

const (
	goalLabelRunes   = 30
	actionLabelRunes = 40
)

var statusFill = map[ActionStatus]string{
	StatusInProgress: "#fff4cc",
	StatusCompleted:  "#e6ffe6",
	StatusFailed:     "#ffe6e6",
}

// Mermaid renders the plan's current state as a Mermaid flowchart. The
// output depends only on the plan state, so rendering twice without an
// intervening update gives identical text.
func (p *Plan) Mermaid() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return renderMermaid(p.Goal, p.Actions)
}

// MermaidBlock wraps Mermaid in a fenced block ready for a replace event.
func (p *Plan) MermaidBlock() string {
	return "\n\n```mermaid\n" + p.Mermaid() + "\n```\n"
}

func renderMermaid(goal string, actions []Action) string {
	var b strings.Builder
	b.WriteString("graph TD\n")
	fmt.Fprintf(&b, "    Start[\"Goal: %s...\"]\n", label(goal, goalLabelRunes))

	var styles []string
	for _, a := range actions {
		node := nodeID(a.ID)
		fmt.Fprintf(&b, "    %s[\"%s %s...\"]\n", node, a.Status.Glyph(), label(a.Description, actionLabelRunes))
		if fill, ok := statusFill[a.Status]; ok {
			styles = append(styles, fmt.Sprintf("style %s fill:%s", node, fill))
		}
	}

	if len(actions) > 0 {
		fmt.Fprintf(&b, "    Start --> %s\n", nodeID(actions[0].ID))
	}
	for _, a := range actions {
		for _, dep := range a.Dependencies {
			fmt.Fprintf(&b, "    %s --> %s\n", nodeID(dep), nodeID(a.ID))
		}
	}

	for _, s := range styles {
		b.WriteString(s)
		b.WriteByte('\n')
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// label cuts s to n runes and neutralises characters that end a Mermaid
// node label.
func label(s string, n int) string {
	s = util.PrefixRunes(s, n)
	s = strings.ReplaceAll(s, "\"", "#quot;")
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}

// nodeID maps an action id to a Mermaid-safe identifier. ASCII letters and
// digits pass through, '_' doubles and any other rune becomes _u<hex>_, so
// distinct ids never share a node.
func nodeID(id string) string {
	var b strings.Builder
	b.WriteString("action_")
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '_':
			b.WriteString("__")
		default:
			fmt.Fprintf(&b, "_u%x_", r)
		}
	}
	return b.String()
}
