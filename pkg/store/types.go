package store

import "encoding/json"

// Step is one executable skill step.
type Step struct {
	Title        string `json:"title"`
	Instructions string `json:"instructions"`
	Notes        string `json:"notes,omitempty"`
}

// Parameter is a generalized skill input.
type Parameter struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Example     string `json:"example,omitempty"`
}

// Example records a solved request the skill generalizes from.
type Example struct {
	UserInput     string `json:"userInput"`
	OutputSummary string `json:"outputSummary,omitempty"`
	Notes         string `json:"notes,omitempty"`
	RunID         string `json:"runId,omitempty"`
}

// Definition is the core identity of a skill: what it is called and the
// steps that solve it.
type Definition struct {
	Name        string
	Description string
	Entrypoint  string
	Steps       []Step
}

// Skill is a persisted skill row.
type Skill struct {
	ID                  string
	Name                string
	Description         string
	Entrypoint          string
	ActiveVersionID     string
	Parameters          []Parameter
	Preconditions       []string
	SuccessCriteria     []string
	Examples            []Example
	GeneralizationScore *float64
	Embedding           []float64
}

// SkillVersion is one immutable version of a skill's steps.
type SkillVersion struct {
	ID      string
	SkillID string
	Version int
	Steps   []Step
}

// StepResult is the recorded outcome of one executed step.
type StepResult struct {
	Index     int    `json:"index"`
	Title     string `json:"title"`
	Output    string `json:"output"`
	Trace     any    `json:"trace,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Run is a persisted skill run.
type Run struct {
	ID             string
	SkillID        string
	SkillVersionID string
	Input          string
	StepResults    json.RawMessage
}

// RunInsert carries the fields for a new run row.
type RunInsert struct {
	RunID          string
	SkillID        string
	SkillVersionID string
	UserID         string
	ThreadID       string
	SessionID      string
	Input          string
	StepResults    []StepResult
}
