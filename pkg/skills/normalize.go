// Package skills implements the skill engine: retrieval of learned
// skills by embedding similarity, step-by-step execution through the
// agent service, background learning from solved requests, and repair
// from negative feedback.
package skills

import (
	"regexp"
	"strings"

	"github.com/ravenlabs/raven/pkg/store"
)

// Text caps applied during normalization.
const (
	maxNameLen          = 120
	maxDescriptionLen   = 360
	maxEntrypointLen    = 800
	maxStepTitleLen     = 140
	maxStepInstrLen     = 2000
	maxStepNotesLen     = 800
	maxListItemLen      = 260
	maxParamNameLen     = 60
	maxParamDetailLen   = 260
	maxExampleInputLen  = 900
	maxExampleOutputLen = 1400
	maxExampleNotesLen  = 800
	maxExampleRunIDLen  = 80
	maxFeedbackLen      = 2000
	maxQueryLen         = 2000

	minNameLen = 3

	defaultName        = "Raven skill"
	defaultDescription = "Reusable skill generated from a solved request."
)

// Limits caps list sizes during normalization and merging.
type Limits struct {
	MaxSteps           int
	MaxParameters      int
	MaxPreconditions   int
	MaxSuccessCriteria int
	MaxExamples        int
}

// DefaultLimits returns the standard caps.
func DefaultLimits() Limits {
	return Limits{
		MaxSteps:           8,
		MaxParameters:      12,
		MaxPreconditions:   8,
		MaxSuccessCriteria: 8,
		MaxExamples:        6,
	}
}

var (
	whitespaceRe  = regexp.MustCompile(`\s+`)
	placeholderRe = regexp.MustCompile(`\{[a-zA-Z0-9_\-]+\}`)
)

// ClampText trims and truncates text to at most max characters.
func ClampText(value string, max int) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if runes := []rune(trimmed); len(runes) > max {
		return string(runes[:max])
	}
	return trimmed
}

// NormalizeDefinition clamps every field of a skill definition, drops
// steps without instructions, and guarantees at least one step.
func NormalizeDefinition(def store.Definition, fallbackEntrypoint string, limits Limits) store.Definition {
	name := ClampText(def.Name, maxNameLen)
	if len([]rune(name)) < minNameLen {
		name = defaultName
	}
	description := ClampText(def.Description, maxDescriptionLen)
	if description == "" {
		description = defaultDescription
	}
	entrypoint := ClampText(def.Entrypoint, maxEntrypointLen)
	if entrypoint == "" {
		entrypoint = ClampText(fallbackEntrypoint, maxEntrypointLen)
	}

	steps := def.Steps
	if len(steps) > limits.MaxSteps {
		steps = steps[:limits.MaxSteps]
	}
	var trimmed []store.Step
	for _, step := range steps {
		title := ClampText(step.Title, maxStepTitleLen)
		if title == "" {
			title = "Step"
		}
		instructions := ClampText(step.Instructions, maxStepInstrLen)
		if instructions == "" {
			continue
		}
		trimmed = append(trimmed, store.Step{
			Title:        title,
			Instructions: instructions,
			Notes:        ClampText(step.Notes, maxStepNotesLen),
		})
	}
	if len(trimmed) == 0 {
		trimmed = []store.Step{{Title: "Solve request", Instructions: "Provide the solution in full."}}
	}

	return store.Definition{
		Name:        name,
		Description: description,
		Entrypoint:  entrypoint,
		Steps:       trimmed,
	}
}

// NormalizeParameterName strips braces, collapses whitespace to
// underscores, and clamps the result.
func NormalizeParameterName(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") && len(trimmed) >= 2 {
		trimmed = strings.TrimSpace(trimmed[1 : len(trimmed)-1])
	}
	trimmed = whitespaceRe.ReplaceAllString(trimmed, "_")
	trimmed = strings.Trim(trimmed, "_")
	return ClampText(trimmed, maxParamNameLen)
}

// NormalizeStringList clamps items, drops empties, and caps the list.
func NormalizeStringList(items []string, maxItems, maxLen int) []string {
	var out []string
	for _, raw := range items {
		trimmed := ClampText(raw, maxLen)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
		if len(out) >= maxItems {
			break
		}
	}
	return out
}

// NormalizeParameters validates names and descriptions, dropping
// parameters without either.
func NormalizeParameters(params []store.Parameter, maxParams int) []store.Parameter {
	if len(params) > maxParams {
		params = params[:maxParams]
	}
	var out []store.Parameter
	for _, raw := range params {
		name := NormalizeParameterName(raw.Name)
		if name == "" {
			continue
		}
		description := ClampText(raw.Description, maxParamDetailLen)
		if description == "" {
			continue
		}
		out = append(out, store.Parameter{
			Name:        name,
			Description: description,
			Example:     ClampText(raw.Example, maxParamDetailLen),
		})
	}
	return out
}

// NormalizeExamples dedupes examples by user input and clamps fields.
// When a fallback is given and there is room, it is appended last.
func NormalizeExamples(examples []store.Example, fallback *store.Example, maxExamples int) []store.Example {
	var out []store.Example
	seen := map[string]struct{}{}
	for _, raw := range examples {
		userInput := ClampText(raw.UserInput, maxExampleInputLen)
		if userInput == "" {
			continue
		}
		if _, dup := seen[userInput]; dup {
			continue
		}
		out = append(out, store.Example{
			UserInput:     userInput,
			OutputSummary: ClampText(raw.OutputSummary, maxExampleOutputLen),
			Notes:         ClampText(raw.Notes, maxExampleNotesLen),
			RunID:         ClampText(raw.RunID, maxExampleRunIDLen),
		})
		seen[userInput] = struct{}{}
		if len(out) >= maxExamples {
			break
		}
	}
	if fallback != nil && len(out) < maxExamples {
		userInput := ClampText(fallback.UserInput, maxExampleInputLen)
		if userInput != "" {
			if _, dup := seen[userInput]; !dup {
				out = append(out, store.Example{
					UserInput:     userInput,
					OutputSummary: ClampText(fallback.OutputSummary, maxExampleOutputLen),
					Notes:         ClampText(fallback.Notes, maxExampleNotesLen),
					RunID:         ClampText(fallback.RunID, maxExampleRunIDLen),
				})
			}
		}
	}
	return out
}

// CountPlaceholders counts {placeholder} occurrences in text.
func CountPlaceholders(text string) int {
	return len(placeholderRe.FindAllString(text, -1))
}

// EstimateGeneralizationScore scores a definition by how parameterized
// it is, used when the model omits a score.
func EstimateGeneralizationScore(def store.Definition, params []store.Parameter) float64 {
	placeholders := CountPlaceholders(def.Entrypoint)
	for _, step := range def.Steps {
		placeholders += CountPlaceholders(step.Instructions)
	}
	score := 0.35
	score += float64(min(placeholders, 8)) * 0.05
	score += float64(min(len(params), 8)) * 0.04
	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
