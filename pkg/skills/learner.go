package skills

import (
	"context"
	"encoding/json"

	"github.com/ravenlabs/raven/pkg/store"
)

// learnInput carries everything the background learner needs from a
// finished base run.
type learnInput struct {
	RunID      string
	UserID     string
	APIKey     string
	Model      string
	BaseURL    string
	UserQuery  string
	BaseOutput string
	Trace      json.RawMessage
}

// recordSkill turns a solved request into a stored skill: decompose,
// generalize, gate on the generalization score, embed, then merge into
// the nearest existing skill or insert a new one. Every failure is a
// logged skip; the caller's response never depends on this.
func (e *Engine) recordSkill(ctx context.Context, in learnInput) {
	if e.store == nil {
		e.logger.Warn("skill_record_async_skip", "id", in.RunID, "reason", "no_pool")
		return
	}
	e.logger.Info("skill_record_async_start", "id", in.RunID, "user", in.UserID)

	traceSummary := SummarizeTrace(in.Trace)
	draft := e.gen.Decompose(ctx, in.APIKey, in.Model, in.BaseURL, in.UserQuery, in.BaseOutput, traceSummary)
	if draft == nil {
		e.logger.Warn("skill_record_async_skip", "id", in.RunID, "reason", "decompose_failed")
		return
	}
	generalized := e.gen.Generalize(ctx, in.APIKey, in.Model, in.BaseURL, in.UserQuery, in.BaseOutput, *draft, traceSummary)
	if generalized == nil {
		e.logger.Warn("skill_record_async_skip", "id", in.RunID, "reason", "generalize_failed")
		return
	}

	normalized := NormalizeDefinition(store.Definition{
		Name:        generalized.Name,
		Description: generalized.Description,
		Entrypoint:  generalized.Entrypoint,
		Steps:       generalized.Steps,
	}, in.UserQuery, e.limits)

	parameters := NormalizeParameters(generalized.Parameters, e.limits.MaxParameters)
	preconditions := NormalizeStringList(generalized.Preconditions, e.limits.MaxPreconditions, maxListItemLen)
	successCriteria := NormalizeStringList(generalized.SuccessCriteria, e.limits.MaxSuccessCriteria, maxListItemLen)
	fallbackExample := &store.Example{
		UserInput:     in.UserQuery,
		OutputSummary: ClampText(in.BaseOutput, maxExampleOutputLen),
		RunID:         in.RunID,
	}
	examples := NormalizeExamples(generalized.Examples, fallbackExample, e.limits.MaxExamples)

	score := 0.0
	if generalized.GeneralizationScore != nil {
		score = *generalized.GeneralizationScore
	} else {
		score = EstimateGeneralizationScore(normalized, parameters)
	}
	score = clamp01(score)

	e.logger.Info("skill_generalized",
		"id", in.RunID, "name", normalized.Name, "score", score,
		"params", len(parameters), "preconditions", len(preconditions),
		"success", len(successCriteria), "examples", len(examples),
		"steps", len(normalized.Steps))

	if score < e.cfg.GeneralizationThreshold {
		e.logger.Info("skill_record_async_skip",
			"id", in.RunID, "reason", "generalization_low",
			"score", score, "threshold", e.cfg.GeneralizationThreshold)
		return
	}

	embeddingText := BuildEmbeddingText(normalized, parameters, preconditions, successCriteria)
	embedding := e.embedder.Embed(ctx, in.APIKey, embeddingText)
	if len(embedding) == 0 {
		e.logger.Warn("skill_record_async_skip", "id", in.RunID, "reason", "embedding_failed")
		return
	}

	var candidate *store.Skill
	var candidateDistance *float64
	var candidateSteps []store.Step
	if in.UserID != "" {
		var err error
		candidate, candidateDistance, err = e.store.FindNearest(ctx, in.UserID, embedding)
		if err != nil {
			e.logger.Warn("skill_record_async_skip", "id", in.RunID, "reason", "candidate_lookup_failed", "error", err)
			return
		}
		if candidate != nil && candidate.ActiveVersionID != "" {
			version, err := e.store.LoadVersion(ctx, candidate.ActiveVersionID)
			if err == nil && version != nil {
				candidateSteps = version.Steps
			}
		}
	}

	if candidate != nil {
		var similarity *float64
		if len(candidate.Embedding) > 0 {
			s := clamp01(CosineSimilarity(candidate.Embedding, embedding))
			similarity = &s
		} else if candidateDistance != nil {
			s := clamp01(SimilarityFromDistance(*candidateDistance))
			similarity = &s
		}
		stepSim := StepSimilarity(normalized.Steps, candidateSteps)
		mergeScore := MergeScore(similarity, stepSim, e.cfg.MergeSimilarityEps)
		e.logger.Info("skill_merge_eval",
			"id", in.RunID, "skill", candidate.ID,
			"similarity", similarityValue(similarity),
			"step", stepSim, "score", mergeScore,
			"threshold", e.cfg.MergeSimilarityThreshold)

		if mergeScore >= e.cfg.MergeSimilarityThreshold {
			mergedScore := score
			if candidate.GeneralizationScore != nil && *candidate.GeneralizationScore > mergedScore {
				mergedScore = *candidate.GeneralizationScore
			}
			meta := store.SkillMetadata{
				Parameters:          MergeParameters(candidate.Parameters, parameters, e.limits.MaxParameters),
				Preconditions:       MergeStringLists(candidate.Preconditions, preconditions, e.limits.MaxPreconditions, maxListItemLen),
				SuccessCriteria:     MergeStringLists(candidate.SuccessCriteria, successCriteria, e.limits.MaxSuccessCriteria, maxListItemLen),
				Examples:            MergeExamples(candidate.Examples, examples, e.limits.MaxExamples),
				GeneralizationScore: &mergedScore,
			}
			newVersionID, err := e.store.SaveMerge(ctx, candidate.ID, normalized, embedding, meta)
			if err != nil {
				e.logger.Warn("skill_record_async_failed", "id", in.RunID, "error", err)
				return
			}
			if err := e.store.PatchRunSkill(ctx, in.RunID, in.UserID, candidate.ID, newVersionID); err != nil {
				e.logger.Warn("skill_run_patch_failed", "id", in.RunID, "error", err)
			}
			e.logger.Info("skill_merge_saved",
				"id", in.RunID, "skill", candidate.ID,
				"from_version", orDefault(candidate.ActiveVersionID, "none"),
				"new_version", newVersionID)
			return
		}
		e.logger.Info("skill_merge_skip", "id", in.RunID, "skill", candidate.ID, "score", mergeScore)
	}

	meta := store.SkillMetadata{
		Parameters:          parameters,
		Preconditions:       preconditions,
		SuccessCriteria:     successCriteria,
		Examples:            examples,
		GeneralizationScore: &score,
	}
	skillID, versionID, err := e.store.InsertSkill(ctx, in.UserID, normalized, embedding, meta)
	if err != nil {
		e.logger.Warn("skill_record_async_failed", "id", in.RunID, "error", err)
		return
	}
	if err := e.store.PatchRunSkill(ctx, in.RunID, in.UserID, skillID, versionID); err != nil {
		e.logger.Warn("skill_run_patch_failed", "id", in.RunID, "error", err)
	}
	e.logger.Info("skill_record_async_saved",
		"id", in.RunID, "skill", skillID, "version", versionID, "steps", len(normalized.Steps))
}

func similarityValue(similarity *float64) any {
	if similarity == nil {
		return "none"
	}
	return *similarity
}
