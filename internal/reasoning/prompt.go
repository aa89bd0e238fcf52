package reasoning

import (
	"fmt"
	"strings"

	"github.com/abhisek/sheetsolver/internal/llm"
	"github.com/abhisek/sheetsolver/internal/worksheet"
)

const systemPrompt = `You solve problems from school mathematics worksheets.

Rules for the answer field:
- Give the final answer in fully reduced form: reduced fractions, rationalized denominators, simplified radicals.
- Keep exact values. Do not replace them with decimal approximations unless the problem asks for one.
- For multiple choice, answer with the text of the correct option.
- No commentary, units explanation or working in the answer field.

Put the working in the explanation field. Name the topic briefly (e.g. "fractions", "linear equations") and rate difficulty as easy, medium or hard.
Respond only with the JSON object. Nothing outside it.`

// SolutionSchema is the structured shape requested from the reasoning model.
var SolutionSchema = &llm.Schema{
	Name:        "problem-solution",
	Description: "Final answer and worked explanation for one worksheet problem",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"answer": map[string]any{
				"type":        "string",
				"description": "Final answer in fully reduced form",
			},
			"explanation": map[string]any{
				"type":        "string",
				"description": "Step by step working",
			},
			"topic": map[string]any{
				"type":        "string",
				"description": "Short topic name",
			},
			"difficulty": map[string]any{
				"type": "string",
				"enum": []any{"easy", "medium", "hard"},
			},
		},
		"required":             []any{"answer", "explanation", "topic", "difficulty"},
		"additionalProperties": false,
	},
}

func userPrompt(p worksheet.ProblemRecord, visual *worksheet.VisualContext) string {
	var b strings.Builder
	if p.Instruction != nil && *p.Instruction != "" {
		fmt.Fprintf(&b, "Instruction: %s\n\n", *p.Instruction)
	}
	fmt.Fprintf(&b, "Problem:\n%s\n", p.Text)
	if p.LaTeX != nil && *p.LaTeX != "" {
		fmt.Fprintf(&b, "\nLaTeX:\n%s\n", *p.LaTeX)
	}
	if len(p.Options) > 0 {
		b.WriteString("\nOptions:\n")
		for i, o := range p.Options {
			fmt.Fprintf(&b, "%d. %s\n", i+1, o)
		}
	}
	if visual != nil && *visual != "" {
		fmt.Fprintf(&b, "\nDiagram description:\n%s\n", *visual)
	}
	return b.String()
}
