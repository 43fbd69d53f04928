// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package plan

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMermaid_StatusesAndStyles(t *testing.T) {
	p := testPlan()
	_, err := p.BeginAttempt("A")
	require.NoError(t, err)
	require.NoError(t, p.Complete("A", false))
	_, err = p.BeginAttempt("B")
	require.NoError(t, err)
	_, err = p.BeginAttempt("C")
	require.NoError(t, err)
	require.NoError(t, p.Fail("C", nil))

	want := strings.Join([]string{
		"graph TD",
		`    Start["Goal: Build a CLI..."]`,
		`    action_A["✅ Parse flags..."]`,
		`    action_B["⚙️ Read config..."]`,
		`    action_C["❌ Write usage..."]`,
		"    Start --> action_A",
		"    action_A --> action_B",
		"    action_A --> action_C",
		"style action_A fill:#e6ffe6",
		"style action_B fill:#fff4cc",
		"style action_C fill:#ffe6e6",
	}, "\n")
	assert.Equal(t, want, p.Mermaid())
}

func TestMermaid_Idempotent(t *testing.T) {
	p := testPlan()
	_, _ = p.BeginAttempt("A")
	assert.Equal(t, p.Mermaid(), p.Mermaid())
	assert.Equal(t, p.MermaidBlock(), p.MermaidBlock())
}

func TestMermaid_TruncatesAndEscapes(t *testing.T) {
	goal := strings.Repeat("g", 50)
	desc := `Say "hello"` + strings.Repeat("x", 60)
	p := New(goal, []Action{{ID: "step-1", Description: desc}}, nil)

	out := p.Mermaid()
	assert.Contains(t, out, `Start["Goal: `+strings.Repeat("g", 30)+`..."]`)
	assert.Contains(t, out, `action_step_u2d_1["⭕ Say #quot;hello#quot;`)
	assert.NotContains(t, out, `"hello"`)
	assert.Contains(t, out, "Start --> action_step_u2d_1")
}

func TestMermaid_EmptyPlan(t *testing.T) {
	p := New("nothing", nil, nil)
	out := p.Mermaid()
	assert.Equal(t, "graph TD\n    Start[\"Goal: nothing...\"]", out)
}

func TestMermaidBlock(t *testing.T) {
	p := testPlan()
	block := p.MermaidBlock()
	assert.True(t, strings.HasPrefix(block, "\n\n```mermaid\ngraph TD\n"))
	assert.True(t, strings.HasSuffix(block, "\n```\n"))
}

func TestMermaid_DistinctNodesForSimilarIDs(t *testing.T) {
	p := New("g", []Action{
		{ID: "a-b", Description: "dash"},
		{ID: "a_b", Description: "underscore"},
		{ID: "a_u2d_b", Description: "looks escaped"},
		{ID: "é", Description: "accent"},
		{ID: "c", Description: "after dash", Dependencies: []string{"a-b"}},
	}, nil)

	out := p.Mermaid()
	seen := map[string]bool{}
	for _, a := range p.Actions {
		node := nodeID(a.ID)
		assert.False(t, seen[node], "node %s reused for %s", node, a.ID)
		seen[node] = true
		assert.Equal(t, 1, strings.Count(out, "    "+node+"[\""), a.ID)
	}
	assert.Contains(t, out, "    "+nodeID("a-b")+" --> action_c")
	assert.NotContains(t, out, nodeID("a_b")+" --> action_c")
}
