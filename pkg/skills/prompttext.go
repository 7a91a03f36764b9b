package skills

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ravenlabs/raven/pkg/store"
)

// BuildEmbeddingText renders the canonical skill text that gets embedded
// for retrieval.
func BuildEmbeddingText(def store.Definition, params []store.Parameter, preconditions, successCriteria []string) string {
	parts := []string{
		"Name: " + def.Name,
		"Description: " + def.Description,
		"Entrypoint: " + def.Entrypoint,
	}

	if len(params) > 0 {
		var formatted []string
		for _, p := range params {
			if p.Name == "" || p.Description == "" {
				continue
			}
			if p.Example != "" {
				formatted = append(formatted, fmt.Sprintf("%s: %s (e.g. %s)", p.Name, p.Description, p.Example))
			} else {
				formatted = append(formatted, p.Name+": "+p.Description)
			}
		}
		if len(formatted) > 0 {
			parts = append(parts, "Parameters: "+strings.Join(formatted, "; "))
		}
	}
	if len(preconditions) > 0 {
		parts = append(parts, "Preconditions: "+strings.Join(preconditions, "; "))
	}
	if len(successCriteria) > 0 {
		parts = append(parts, "Success criteria: "+strings.Join(successCriteria, "; "))
	}
	if len(def.Steps) > 0 {
		var lines []string
		for i, step := range def.Steps {
			lines = append(lines, fmt.Sprintf("%d. %s: %s", i+1, step.Title, step.Instructions))
		}
		parts = append(parts, "Steps:\n"+strings.Join(lines, "\n"))
	}
	return strings.Join(parts, "\n")
}

// SummarizeTrace condenses a tool trace to the first 20 tool names.
func SummarizeTrace(trace json.RawMessage) string {
	if len(trace) == 0 {
		return ""
	}
	var parsed struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(trace, &parsed); err != nil {
		return ""
	}
	var names []string
	for _, tool := range parsed.Tools {
		if tool.Name != "" {
			names = append(names, tool.Name)
		}
		if len(names) >= 20 {
			break
		}
	}
	return strings.Join(names, ", ")
}

// FormatStepsForPrompt lists steps as numbered "title: instructions"
// lines, skipping steps without instructions.
func FormatStepsForPrompt(steps []store.Step) string {
	var lines []string
	for i, step := range steps {
		title := strings.TrimSpace(step.Title)
		if title == "" {
			title = fmt.Sprintf("Step %d", i+1)
		}
		instructions := strings.TrimSpace(step.Instructions)
		if instructions == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%d. %s: %s", i+1, title, instructions))
	}
	return strings.Join(lines, "\n")
}

// FormatStepResultsForPrompt lists step outputs as bullet lines.
func FormatStepResultsForPrompt(results []store.StepResult) string {
	var lines []string
	for _, item := range results {
		title := strings.TrimSpace(item.Title)
		if title == "" {
			title = "Step"
		}
		output := strings.TrimSpace(item.Output)
		if output == "" {
			continue
		}
		lines = append(lines, "- "+title+": "+ClampText(output, 800))
	}
	return strings.Join(lines, "\n")
}

// BuildStepInstructions assembles the per-step instructions sent to the
// agent while executing a skill.
func BuildStepInstructions(skill *store.Skill, step store.Step, index, total int, priorResults []store.StepResult) string {
	title := strings.TrimSpace(step.Title)
	if title == "" {
		title = "Step"
	}

	lines := []string{
		"You are executing a reusable skill step-by-step.",
		"Skill: " + skill.Name,
		fmt.Sprintf("Step %d of %d: %s", index+1, total, title),
		"Follow the step instructions precisely and report only the result of this step.",
	}
	if instructions := strings.TrimSpace(step.Instructions); instructions != "" {
		lines = append(lines, "Step instructions: "+instructions)
	}
	if notes := strings.TrimSpace(step.Notes); notes != "" {
		lines = append(lines, "Notes: "+notes)
	}
	if len(priorResults) > 0 {
		recent := priorResults
		if len(recent) > 3 {
			recent = recent[len(recent)-3:]
		}
		var compact []string
		for _, item := range recent {
			label := item.Title
			if label == "" {
				label = "Step"
			}
			compact = append(compact, "- "+label+": "+item.Output)
		}
		lines = append(lines, "Previous step results:\n"+strings.Join(compact, "\n"))
	}
	return strings.Join(lines, "\n\n")
}
