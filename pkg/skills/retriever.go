package skills

import (
	"context"

	"github.com/ravenlabs/raven/pkg/store"
)

// retrieve embeds the user query, finds the nearest skill, and applies
// the match thresholds. Returns the matched skill and its active version
// (both nil on a miss) plus the raw match distance when one was measured.
func (e *Engine) retrieve(ctx context.Context, runID string, req RunRequest, userQuery string) (*store.Skill, *store.SkillVersion, *float64) {
	if req.UserID == "" || userQuery == "" {
		reason := "empty_query"
		if req.UserID == "" {
			reason = "missing_user"
		}
		e.logger.Info("skill_search_skipped", "id", runID, "reason", reason)
		return nil, nil, nil
	}

	embedding := e.embedder.Embed(ctx, req.APIKey, userQuery)
	e.logger.Info("skill_search",
		"id", runID, "user", req.UserID, "hasEmbedding", len(embedding) > 0)
	if len(embedding) == 0 {
		return nil, nil, nil
	}

	skill, matchDistance, err := e.store.FindNearest(ctx, req.UserID, embedding)
	if err != nil {
		e.logger.Warn("skill_search_failed", "id", runID, "error", err)
		return nil, nil, nil
	}
	if skill == nil {
		return nil, nil, matchDistance
	}

	// Prefer cosine similarity against the stored embedding; fall back to
	// the similarity implied by the L2 distance, then to the raw distance
	// threshold.
	var similarity *float64
	if len(skill.Embedding) > 0 {
		s := clamp01(CosineSimilarity(skill.Embedding, embedding))
		similarity = &s
	} else if matchDistance != nil {
		s := clamp01(SimilarityFromDistance(*matchDistance))
		similarity = &s
	}

	if similarity != nil {
		if *similarity < e.cfg.MatchSimilarityThreshold {
			e.logger.Info("skill_miss",
				"id", runID, "user", req.UserID,
				"similarity", *similarity,
				"threshold", e.cfg.MatchSimilarityThreshold,
				"distance", distanceValue(matchDistance))
			return nil, nil, matchDistance
		}
		e.logger.Info("skill_hit",
			"id", runID, "user", req.UserID, "skill", skill.ID,
			"similarity", *similarity,
			"distance", distanceValue(matchDistance))
	} else if matchDistance == nil || *matchDistance > e.cfg.MatchThreshold {
		e.logger.Info("skill_miss",
			"id", runID, "user", req.UserID,
			"distance", distanceValue(matchDistance),
			"threshold", e.cfg.MatchThreshold)
		return nil, nil, matchDistance
	} else {
		e.logger.Info("skill_hit",
			"id", runID, "user", req.UserID, "skill", skill.ID,
			"distance", distanceValue(matchDistance))
	}

	if skill.ActiveVersionID == "" {
		return nil, nil, matchDistance
	}
	version, err := e.store.LoadVersion(ctx, skill.ActiveVersionID)
	if err != nil {
		e.logger.Warn("skill_version_load_failed", "id", runID, "error", err)
		return nil, nil, matchDistance
	}
	if version == nil {
		e.logger.Warn("skill_version_missing",
			"id", runID, "skill", skill.ID, "version", skill.ActiveVersionID)
		return nil, nil, matchDistance
	}
	return skill, version, matchDistance
}

func distanceValue(distance *float64) float64 {
	if distance == nil {
		return -1.0
	}
	return *distance
}
