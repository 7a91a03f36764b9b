package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadSkillsDefaults(t *testing.T) {
	cfg := LoadSkills()

	assert.Equal(t, ":8002", cfg.Addr)
	assert.Equal(t, 0.25, cfg.MatchThreshold)
	assert.Equal(t, 0.75, cfg.MatchSimilarityThreshold)
	assert.Equal(t, 0.75, cfg.MergeSimilarityThreshold)
	assert.Equal(t, 0.05, cfg.MergeSimilarityEps)
	assert.Equal(t, 0.75, cfg.GeneralizationThreshold)
	assert.Equal(t, 8, cfg.MaxSteps)
	assert.Equal(t, 12, cfg.MaxParameters)
	assert.Equal(t, 6, cfg.MaxExamples)
	assert.Equal(t, "text-embedding-3-small", cfg.EmbeddingModel)
	assert.Equal(t, 1536, cfg.EmbeddingDim)
	assert.Equal(t, 10*time.Minute, cfg.AgentServiceTimeout)
	assert.Equal(t, 30*time.Second, cfg.OpenAITimeout)
}

func TestLoadSkillsOverrides(t *testing.T) {
	t.Setenv("SKILLS_MATCH_THRESHOLD", "0.4")
	t.Setenv("SKILLS_MAX_STEPS", "5")
	t.Setenv("AGENT_SERVICE_TIMEOUT_MS", "1500")
	t.Setenv("METRICS_ENABLED", "false")

	cfg := LoadSkills()

	assert.Equal(t, 0.4, cfg.MatchThreshold)
	assert.Equal(t, 5, cfg.MaxSteps)
	assert.Equal(t, 1500*time.Millisecond, cfg.AgentServiceTimeout)
	assert.False(t, cfg.MetricsEnabled)
}

func TestLoadAgentLevelFallback(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")

	cfg := LoadAgent()
	assert.Equal(t, "debug", cfg.LogLevel)

	t.Setenv("AGENT_LOG_LEVEL", "warn")
	cfg = LoadAgent()
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestEnvParsersIgnoreGarbage(t *testing.T) {
	t.Setenv("SKILLS_MAX_STEPS", "not-a-number")
	t.Setenv("SKILLS_MATCH_THRESHOLD", "???")

	cfg := LoadSkills()
	assert.Equal(t, 8, cfg.MaxSteps)
	assert.Equal(t, 0.25, cfg.MatchThreshold)
}
