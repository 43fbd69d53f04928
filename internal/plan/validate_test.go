// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package plan

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateGraph(t *testing.T) {
	tests := []struct {
		name    string
		actions []Action
		kind    error
		msg     string
	}{
		{
			name: "valid diamond",
			actions: []Action{
				{ID: "a"}, {ID: "b", Dependencies: []string{"a"}},
				{ID: "c", Dependencies: []string{"a"}}, {ID: "d", Dependencies: []string{"b", "c"}},
			},
		},
		{
			name:    "empty id",
			actions: []Action{{ID: "a"}, {ID: " "}},
			kind:    ErrInvalidPlan,
			msg:     "action 2 has an empty id",
		},
		{
			name:    "duplicate",
			actions: []Action{{ID: "a"}, {ID: "a"}},
			kind:    ErrDuplicateAction,
		},
		{
			name:    "dangling dependency",
			actions: []Action{{ID: "A"}, {ID: "B", Dependencies: []string{"Z"}}},
			kind:    ErrUnknownDependency,
			msg:     "B depends on Z",
		},
		{
			name:    "self loop",
			actions: []Action{{ID: "a", Dependencies: []string{"a"}}},
			kind:    ErrCycle,
			msg:     "a -> a",
		},
		{
			name: "three cycle",
			actions: []Action{
				{ID: "a", Dependencies: []string{"c"}},
				{ID: "b", Dependencies: []string{"a"}},
				{ID: "c", Dependencies: []string{"b"}},
				{ID: "free"},
			},
			kind: ErrCycle,
			msg:  "a -> b -> c -> a",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateGraph(New("g", tt.actions, nil))
			if tt.kind == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)
			var ge *GraphError
			require.ErrorAs(t, err, &ge)
			if tt.msg != "" {
				assert.Contains(t, err.Error(), tt.msg)
			}
		})
	}
}

func TestOrder_RejectsCycles(t *testing.T) {
	p := New("g", []Action{
		{ID: "a", Dependencies: []string{"b"}},
		{ID: "b", Dependencies: []string{"a"}},
	}, nil)
	_, err := Order(p)
	assert.ErrorIs(t, err, ErrCycle)
}
