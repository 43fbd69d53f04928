// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package plan_test

import (
	"fmt"

	"github.com/jeranaias/planrun/internal/plan"
)

// ExamplePlan_Mermaid shows the diagram drawn for a fresh two-step plan.
func ExamplePlan_Mermaid() {
	p := plan.New("Write a hello-world function", []plan.Action{
		{ID: "1", Type: "code", Description: "Write the function"},
		{ID: "2", Type: "docs", Description: "Document it", Dependencies: []string{"1"}},
	}, nil)

	fmt.Println(p.Mermaid())

	// Output:
	// graph TD
	//     Start["Goal: Write a hello-world function..."]
	//     action_1["⭕ Write the function..."]
	//     action_2["⭕ Document it..."]
	//     Start --> action_1
	//     action_1 --> action_2
}

// ExampleOrder shows dependency ordering with declaration order as the
// tie-breaker.
func ExampleOrder() {
	p := plan.New("Ship a release", []plan.Action{
		{ID: "notes", Description: "Write release notes", Dependencies: []string{"build"}},
		{ID: "build", Description: "Build artifacts"},
		{ID: "tag", Description: "Tag the commit"},
	}, nil)

	order, err := plan.Order(p)
	fmt.Println(order, err)

	// Output:
	// [build notes tag] <nil>
}
