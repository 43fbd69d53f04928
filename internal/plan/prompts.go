// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package plan

import (
	"encoding/json"
	"fmt"
	"strings"
)

// evaluationSuffix ends every yes/no evaluation prompt.
const evaluationSuffix = "Respond with exactly 'yes' or 'no'."

func compilePrompt(goal string) string {
	return fmt.Sprintf(`Given the goal: %s

Generate a detailed execution plan by breaking it down into atomic, sequential steps. Each step should be clear, actionable, and have explicit dependencies.

Return a JSON object with exactly this structure:
{
    "goal": "<original goal>",
    "actions": [
        {
            "id": "<unique_id>",
            "type": "<category_of_action>",
            "description": "<specific_actionable_task>",
            "params": {"param_name": "param_value"},
            "dependencies": ["<id_of_prerequisite_step>"]
        }
    ],
    "metadata": {
        "estimated_time": "<minutes>",
        "complexity": "<low|medium|high>"
    }
}

Requirements:
1. Each step must be independently executable
2. Dependencies must form a valid sequence and only name ids from this plan
3. Steps must be concrete and specific
4. For code-related tasks:
   - Focus on implementation only
   - Exclude testing and deployment
   - Each step should produce complete, functional code

Return ONLY the JSON object. Do not include explanations or additional text.
`, goal)
}

func actionPrompt(step int, a Action, goal string, context Results) string {
	return fmt.Sprintf(`Execute the following step:

Step %d: %s
Overall Goal: %s

Context:
- Parameters: %s
- Available Information from Previous Steps: %s

Requirements:
1. Provide ONLY the direct output/result
2. For code output:
   - Use code blocks
   - Include ALL necessary code
   - Ensure code is self-contained
   - Variables must be defined within this step
   - No placeholder or stub functions
3. For text output:
   - Be specific and concrete
   - Include all relevant details
   - No meta-commentary or explanations

DO NOT include any explanatory text, disclaimers, or additional commentary.
`, step, a.Description, goal, compactJSON(a.Params), compactJSON(context))
}

func actionCorrectionPrompt(a Action, goal string, context Results) string {
	return fmt.Sprintf(`The previous action was not completed correctly. Please provide a corrected output for:
Goal: %s
Action: %s
Parameters: %s
Previous context: %s

Provide ONLY the corrected output.
Do not include any additional text or explanations.
If the output is code, enclose it in a code block.
Ensure that the code does not reference variables not defined within the scope of this step.
`, goal, a.Description, compactJSON(a.Params), compactJSON(context))
}

func actionEvaluationPrompt(a Action, goal, output string) string {
	return fmt.Sprintf(`Evaluate if this action was completed successfully:

Action Goal: %s
Overall Context: %s
Generated Output: %s

Evaluation Criteria:
1. Output is complete and self-contained
2. All requirements from the action description are met
3. Output is directly usable without modifications
4. No missing components or placeholder elements

%s
`, a.Description, goal, output, evaluationSuffix)
}

func synthesisPrompt(goal string, s ExecutionSummary, outputs map[string]Output) string {
	return fmt.Sprintf(`Create comprehensive final output for: %s

Execution Results:
- Steps Completed: %d/%d
- Timeline: %s to %s
- Step Outputs: %s

Requirements:
1. Combine all step outputs into a cohesive whole
2. Maintain completeness of all generated code
3. Preserve all implementation details
4. Use clear markdown formatting with sections
5. Include ALL generated content - no summarization

For code:
- Ensure all components are properly integrated
- Maintain all implementation details
- Include complete error handling
- Preserve all function definitions

For documentation:
- Use clear section headers
- Include all relevant details
- Maintain hierarchical structure
- Preserve technical specifications

DO NOT summarize or omit any implementation details.
`, goal, s.CompletedSteps, s.TotalSteps, stamp(s.ExecutionTime.Start), stamp(s.ExecutionTime.End), indentJSON(outputs))
}

func synthesisCorrectionPrompt(goal string, s ExecutionSummary, outputs map[string]Output) string {
	return fmt.Sprintf(`The final result was not correct. Please provide a corrected final result for the goal:
Goal: %s
Plan execution summary:
- Total steps: %d
- Completed: %d
- Failed: %d
- Time: %s to %s

Results by step:
%s

Provide a comprehensive result by AGGREGATING the outputs of all steps.
If code was generated, provide the COMPLETE and CORRECT code.
Do not summarize.
Format in clear markdown with sections and bullet points.
`, goal, s.TotalSteps, s.CompletedSteps, s.FailedSteps, stamp(s.ExecutionTime.Start), stamp(s.ExecutionTime.End), indentJSON(outputs))
}

func synthesisEvaluationPrompt(goal, output string) string {
	return fmt.Sprintf(`Verify the final output meets all requirements for: %s

Output to verify: %s

Verification Criteria:
1. All components from individual steps are included
2. Implementation is complete and functional
3. No missing dependencies or references
4. All requirements from original goal are met
5. Output is properly formatted and structured

%s
`, goal, output, evaluationSuffix)
}

func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func indentJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// accepted interprets an evaluator reply. Only an explicit "no" (in any
// case, optionally followed by punctuation or an explanation) rejects.
func accepted(reply string) bool {
	fields := strings.Fields(strings.ToLower(reply))
	if len(fields) == 0 {
		return true
	}
	word := strings.Trim(fields[0], ".,!;:'\"`*")
	return word != "no"
}
