package skills

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ravenlabs/raven/pkg/agentclient"
	"github.com/ravenlabs/raven/pkg/store"
)

// runSkill executes a matched skill version step by step, each step one
// agent call carrying the step instructions and a recap of prior outputs.
// A step failure aborts the run; the final output is the last step's.
func (e *Engine) runSkill(ctx context.Context, runID string, started time.Time, req RunRequest, items []map[string]any, userQuery string, skill *store.Skill, version *store.SkillVersion, matchDistance *float64) (*RunResponse, error) {
	var stepResults []store.StepResult
	var last *agentclient.Result

	for i, step := range version.Steps {
		e.logger.Info("skill_step_start", "id", runID, "skill", skill.ID, "step", i+1)
		instructions := BuildStepInstructions(skill, step, i, len(version.Steps), stepResults)
		result, err := e.runAgentOnce(ctx, req, items, instructions)
		if err != nil {
			return nil, err
		}
		last = result
		stepResults = append(stepResults, store.StepResult{
			Index:     i,
			Title:     step.Title,
			Output:    result.Output,
			Trace:     json.RawMessage(result.Trace),
			Timestamp: e.now().UTC().Format(time.RFC3339),
		})
		e.logger.Info("skill_step_done",
			"id", runID, "skill", skill.ID, "step", i+1, "outputSize", len(result.Output))
	}

	if req.UserID != "" {
		if err := e.store.InsertRun(ctx, store.RunInsert{
			RunID:          runID,
			SkillID:        skill.ID,
			SkillVersionID: version.ID,
			UserID:         req.UserID,
			ThreadID:       req.ThreadID,
			SessionID:      req.SessionID,
			Input:          userQuery,
			StepResults:    stepResults,
		}); err != nil {
			e.logger.Warn("skill_run_save_failed", "id", runID, "error", err)
		} else {
			e.logger.Info("skill_run_saved",
				"id", runID, "skill", skill.ID, "version", version.ID, "steps", len(stepResults))
		}
	}

	resp := &RunResponse{
		Skill: SkillInfo{
			RunID:          runID,
			SkillID:        skill.ID,
			SkillVersionID: version.ID,
			Found:          true,
			MatchDistance:  matchDistance,
		},
	}
	if last != nil {
		resp.Output = last.Output
		resp.LastResponseID = last.LastResponseID
		resp.Context = last.Context
		resp.Trace = last.Trace
	}
	e.logger.Info("run_done", "id", runID, "mode", "skill", "ms", e.now().Sub(started).Milliseconds())
	return resp, nil
}

// runAgentOnce posts one request to the agent service, combining the
// caller's instructions with per-step instructions when given.
func (e *Engine) runAgentOnce(ctx context.Context, req RunRequest, items []map[string]any, stepInstructions string) (*agentclient.Result, error) {
	instructions := req.Instructions
	switch {
	case instructions != "" && stepInstructions != "":
		instructions = instructions + "\n\n" + stepInstructions
	case stepInstructions != "":
		instructions = stepInstructions
	}

	temperature := 0.3
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	timeoutMS := req.OpenAITimeoutMS
	if timeoutMS == 0 {
		timeoutMS = int(e.cfg.OpenAITimeout / time.Millisecond)
	}

	return e.agent.Run(ctx, agentclient.RunPayload{
		APIKey:           req.APIKey,
		Model:            req.Model,
		UserName:         req.UserName,
		Instructions:     instructions,
		Input:            items,
		Temperature:      temperature,
		OpenAIBaseURL:    req.OpenAIBaseURL,
		OpenAITimeoutMS:  timeoutMS,
		WebSearchEnabled: req.WebSearchEnabled,
		MCP:              req.MCP,
	})
}
