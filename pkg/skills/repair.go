package skills

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/ravenlabs/raven/pkg/store"
)

// Feedback records a rating on a run. Negative feedback on a skill run
// asks the model to repair the steps and saves them as a new active
// version; every repair failure downgrades to updated=false.
func (e *Engine) Feedback(ctx context.Context, req FeedbackRequest) (*FeedbackResponse, error) {
	if e.store == nil {
		return nil, ErrPoolUnavailable
	}

	feedbackID := uuid.NewString()
	feedbackText := ClampText(req.Feedback, maxFeedbackLen)
	e.logger.Info("feedback_start",
		"id", feedbackID, "run", req.RunID, "user", req.UserID, "rating", req.Rating)

	run, err := e.store.GetRun(ctx, req.RunID, req.UserID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		e.logger.Warn("feedback_missing", "id", feedbackID, "run", req.RunID)
		return nil, ErrRunNotFound
	}

	if err := e.store.UpdateRunFeedback(ctx, req.RunID, req.UserID, req.Rating, feedbackText); err != nil {
		return nil, err
	}

	notUpdated := &FeedbackResponse{
		RunID:          req.RunID,
		Updated:        false,
		SkillID:        run.SkillID,
		SkillVersionID: run.SkillVersionID,
	}

	if req.Rating != "negative" || run.SkillID == "" || run.SkillVersionID == "" {
		reason := "rating"
		if req.Rating == "negative" {
			reason = "missing_skill"
		}
		e.logger.Info("feedback_skip", "id", feedbackID, "run", req.RunID, "reason", reason)
		e.logger.Info("feedback_done", "id", feedbackID, "updated", false)
		return notUpdated, nil
	}

	skill, err := e.store.LoadSkill(ctx, run.SkillID, req.UserID)
	if err != nil {
		return nil, err
	}
	if skill == nil {
		e.logger.Warn("feedback_skill_missing", "id", feedbackID, "skill", run.SkillID)
		return notUpdated, nil
	}
	version, err := e.store.LoadVersion(ctx, run.SkillVersionID)
	if err != nil {
		return nil, err
	}
	if version == nil {
		e.logger.Warn("feedback_version_missing", "id", feedbackID, "version", run.SkillVersionID)
		return notUpdated, nil
	}

	e.logger.Info("feedback_fix_start",
		"id", feedbackID, "skill", run.SkillID, "version", run.SkillVersionID)

	var stepResults []store.StepResult
	if len(run.StepResults) > 0 {
		if err := json.Unmarshal(run.StepResults, &stepResults); err != nil {
			stepResults = nil
		}
	}

	fixText := feedbackText
	if fixText == "" {
		fixText = "Negative feedback"
	}
	fixedSteps := e.gen.FixSteps(ctx, req.APIKey, req.Model, req.OpenAIBaseURL, skill, version.Steps, stepResults, fixText)
	if len(fixedSteps) == 0 {
		e.logger.Warn("feedback_fix_failed", "id", feedbackID, "run", req.RunID)
		return notUpdated, nil
	}

	normalized := NormalizeDefinition(store.Definition{
		Name:        skill.Name,
		Description: skill.Description,
		Entrypoint:  skill.Entrypoint,
		Steps:       fixedSteps,
	}, skill.Entrypoint, e.limits)

	newVersionID, err := e.store.SaveFix(ctx, run.SkillID, normalized.Steps)
	if err != nil {
		e.logger.Warn("feedback_fix_save_failed", "id", feedbackID, "error", err)
		return notUpdated, nil
	}

	e.logger.Info("feedback_updated",
		"id", feedbackID, "skill", run.SkillID, "version", newVersionID)
	return &FeedbackResponse{
		RunID:          req.RunID,
		Updated:        true,
		SkillID:        run.SkillID,
		SkillVersionID: run.SkillVersionID,
		NewVersionID:   newVersionID,
	}, nil
}
