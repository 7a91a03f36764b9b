package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ravenlabs/raven/pkg/llm"
	"github.com/ravenlabs/raven/pkg/store"
)

// Generalized is the model's generalization of a draft skill.
type Generalized struct {
	Name                string            `json:"name"`
	Description         string            `json:"description"`
	Entrypoint          string            `json:"entrypoint"`
	Steps               []store.Step      `json:"steps"`
	Parameters          []store.Parameter `json:"parameters"`
	Preconditions       []string          `json:"preconditions"`
	SuccessCriteria     []string          `json:"successCriteria"`
	Examples            []store.Example   `json:"examples"`
	GeneralizationScore *float64          `json:"generalizationScore"`
	Rationale           string            `json:"rationale"`
}

// Generator produces skill definitions through the model. Failures are
// reported as nil results; the learner treats them as skips.
type Generator interface {
	Decompose(ctx context.Context, apiKey, model, baseURL, userQuery, baseOutput, traceSummary string) *store.Definition
	Generalize(ctx context.Context, apiKey, model, baseURL, userQuery, baseOutput string, draft store.Definition, traceSummary string) *Generalized
	FixSteps(ctx context.Context, apiKey, model, baseURL string, skill *store.Skill, currentSteps []store.Step, stepResults []store.StepResult, feedback string) []store.Step
}

// LLMGenerator implements Generator on the Responses API with JSON
// schema structured output.
type LLMGenerator struct {
	defaultBaseURL string
	timeout        time.Duration
	maxSteps       int
	logger         *slog.Logger
}

// NewLLMGenerator creates a generator.
func NewLLMGenerator(defaultBaseURL string, timeout time.Duration, maxSteps int, logger *slog.Logger) *LLMGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMGenerator{defaultBaseURL: defaultBaseURL, timeout: timeout, maxSteps: maxSteps, logger: logger}
}

func (g *LLMGenerator) client(apiKey, baseURL string) *llm.Client {
	if baseURL == "" {
		baseURL = g.defaultBaseURL
	}
	return llm.New(apiKey, baseURL, g.timeout)
}

// Decompose turns a solved request into a draft skill definition.
func (g *LLMGenerator) Decompose(ctx context.Context, apiKey, model, baseURL, userQuery, baseOutput, traceSummary string) *store.Definition {
	prompt := []string{
		"You are creating a reusable skill from a solved request.",
		"Write the skill in English only.",
		"Return a concise JSON object with: name, description, entrypoint, steps.",
		"Each step must include title and instructions. Keep steps minimal and executable.",
		fmt.Sprintf("Limit steps to %d.", g.maxSteps),
	}
	inputParts := []string{
		"User request:\n" + ClampText(userQuery, maxQueryLen),
		"Base solution:\n" + ClampText(baseOutput, 2400),
	}
	if traceSummary != "" {
		inputParts = append(inputParts, "Tools used: "+traceSummary)
	}

	var def struct {
		Name        string       `json:"name"`
		Description string       `json:"description"`
		Entrypoint  string       `json:"entrypoint"`
		Steps       []store.Step `json:"steps"`
	}
	if !g.parse(ctx, apiKey, model, baseURL, prompt, inputParts, "skill_definition", definitionSchema(), &def) {
		g.logger.Warn("skill_decompose_failed")
		return nil
	}
	return &store.Definition{
		Name:        def.Name,
		Description: def.Description,
		Entrypoint:  def.Entrypoint,
		Steps:       def.Steps,
	}
}

// Generalize rewrites a draft skill into a parameterized, reusable form.
func (g *LLMGenerator) Generalize(ctx context.Context, apiKey, model, baseURL, userQuery, baseOutput string, draft store.Definition, traceSummary string) *Generalized {
	prompt := []string{
		"You are generalizing a reusable skill so it can handle similar tasks.",
		"All output fields must be in English. Translate any non-English content.",
		"Replace specific details (names, paths, ids, dates) with parameters like {project_path}.",
		"If the input already describes a skill, rewrite it in a more general, reusable form.",
		"Return a JSON object with: name, description, entrypoint, steps, parameters, preconditions, successCriteria, examples, generalizationScore.",
		"Parameters must include name and description; add an example if useful.",
		"Preconditions and successCriteria should be short lists.",
		"generalizationScore must be a number from 0 to 1.",
		fmt.Sprintf("Limit steps to %d.", g.maxSteps),
	}
	draftText := FormatStepsForPrompt(draft.Steps)
	if draftText == "" {
		draftText = "None"
	}
	inputParts := []string{
		"User request:\n" + ClampText(userQuery, maxQueryLen),
		"Base solution:\n" + ClampText(baseOutput, 2400),
		"Draft skill name: " + draft.Name,
		"Draft description: " + draft.Description,
		"Draft entrypoint: " + draft.Entrypoint,
		"Draft steps:\n" + draftText,
	}
	if traceSummary != "" {
		inputParts = append(inputParts, "Tools used: "+traceSummary)
	}

	var generalized Generalized
	if !g.parse(ctx, apiKey, model, baseURL, prompt, inputParts, "generalized_skill", generalizedSchema(), &generalized) {
		g.logger.Warn("skill_generalize_failed")
		return nil
	}
	return &generalized
}

// FixSteps rewrites a skill's steps in response to negative feedback.
func (g *LLMGenerator) FixSteps(ctx context.Context, apiKey, model, baseURL string, skill *store.Skill, currentSteps []store.Step, stepResults []store.StepResult, feedback string) []store.Step {
	prompt := []string{
		"You are improving a reusable skill based on human feedback.",
		"Return the updated steps in English only (translate if needed).",
		"Return a JSON object with updated steps only.",
		"Each step must include title and instructions.",
		fmt.Sprintf("Limit steps to %d.", g.maxSteps),
	}
	resultsText := FormatStepResultsForPrompt(stepResults)
	if resultsText == "" {
		resultsText = "No step results."
	}
	inputParts := []string{
		"Skill name: " + skill.Name,
		"Skill description: " + skill.Description,
		"Entrypoint: " + skill.Entrypoint,
		"Current steps:\n" + FormatStepsForPrompt(currentSteps),
		"Step results from last run:\n" + resultsText,
		"Human feedback:\n" + ClampText(feedback, maxFeedbackLen),
	}

	var fix struct {
		Steps     []store.Step `json:"steps"`
		Rationale string       `json:"rationale"`
	}
	if !g.parse(ctx, apiKey, model, baseURL, prompt, inputParts, "skill_fix", fixSchema(), &fix) {
		g.logger.Warn("skill_fix_failed")
		return nil
	}
	return fix.Steps
}

func (g *LLMGenerator) parse(ctx context.Context, apiKey, model, baseURL string, prompt, inputParts []string, formatName string, schema map[string]any, out any) bool {
	temperature := 0.2
	resp, err := g.client(apiKey, baseURL).Parse(ctx, llm.Request{
		Model:        model,
		Instructions: strings.Join(prompt, "\n"),
		InputText:    strings.Join(inputParts, "\n\n"),
		Temperature:  &temperature,
		Format: &llm.TextFormat{
			Name:   formatName,
			Schema: schema,
		},
	})
	if err != nil {
		g.logger.Warn("skill_llm_call_failed", "format", formatName, "error", err)
		return false
	}
	text := strings.TrimSpace(resp.Raw.OutputText())
	if text == "" {
		return false
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		g.logger.Warn("skill_llm_parse_failed", "format", formatName, "error", err)
		return false
	}
	return true
}

func stepSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title":        map[string]any{"type": "string"},
			"instructions": map[string]any{"type": "string"},
			"notes":        map[string]any{"type": "string"},
		},
		"required":             []string{"title", "instructions"},
		"additionalProperties": false,
	}
}

func definitionSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":        map[string]any{"type": "string"},
			"description": map[string]any{"type": "string"},
			"entrypoint":  map[string]any{"type": "string"},
			"steps":       map[string]any{"type": "array", "items": stepSchema()},
		},
		"required":             []string{"name", "description", "entrypoint", "steps"},
		"additionalProperties": false,
	}
}

func generalizedSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":        map[string]any{"type": "string"},
			"description": map[string]any{"type": "string"},
			"entrypoint":  map[string]any{"type": "string"},
			"steps":       map[string]any{"type": "array", "items": stepSchema()},
			"parameters": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":        map[string]any{"type": "string"},
						"description": map[string]any{"type": "string"},
						"example":     map[string]any{"type": "string"},
					},
					"required":             []string{"name", "description"},
					"additionalProperties": false,
				},
			},
			"preconditions":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"successCriteria": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"examples": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"userInput":     map[string]any{"type": "string"},
						"outputSummary": map[string]any{"type": "string"},
						"notes":         map[string]any{"type": "string"},
						"runId":         map[string]any{"type": "string"},
					},
					"required":             []string{"userInput"},
					"additionalProperties": false,
				},
			},
			"generalizationScore": map[string]any{"type": "number"},
			"rationale":           map[string]any{"type": "string"},
		},
		"required":             []string{"name", "description", "entrypoint", "steps"},
		"additionalProperties": false,
	}
}

func fixSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"steps":     map[string]any{"type": "array", "items": stepSchema()},
			"rationale": map[string]any{"type": "string"},
		},
		"required":             []string{"steps"},
		"additionalProperties": false,
	}
}
