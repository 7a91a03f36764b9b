package skills

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ravenlabs/raven/pkg/agentclient"
	"github.com/ravenlabs/raven/pkg/config"
	"github.com/ravenlabs/raven/pkg/store"
)

type fakeStore struct {
	nearest         *store.Skill
	nearestDistance *float64
	versions        map[string]*store.SkillVersion
	skills          map[string]*store.Skill
	runs            map[string]*store.Run

	insertedRuns []store.RunInsert
	insertedDefs []store.Definition
	mergedSkills []string
	fixedSteps   [][]store.Step
	patched      [][2]string
	feedback     []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		versions: map[string]*store.SkillVersion{},
		skills:   map[string]*store.Skill{},
		runs:     map[string]*store.Run{},
	}
}

func (f *fakeStore) FindNearest(ctx context.Context, userID string, embedding []float64) (*store.Skill, *float64, error) {
	return f.nearest, f.nearestDistance, nil
}

func (f *fakeStore) LoadSkill(ctx context.Context, skillID, userID string) (*store.Skill, error) {
	return f.skills[skillID], nil
}

func (f *fakeStore) LoadVersion(ctx context.Context, versionID string) (*store.SkillVersion, error) {
	return f.versions[versionID], nil
}

func (f *fakeStore) InsertSkill(ctx context.Context, userID string, def store.Definition, embedding []float64, meta store.SkillMetadata) (string, string, error) {
	f.insertedDefs = append(f.insertedDefs, def)
	return "skill-new", "version-new", nil
}

func (f *fakeStore) SaveMerge(ctx context.Context, skillID string, def store.Definition, embedding []float64, meta store.SkillMetadata) (string, error) {
	f.mergedSkills = append(f.mergedSkills, skillID)
	return "version-merged", nil
}

func (f *fakeStore) SaveFix(ctx context.Context, skillID string, steps []store.Step) (string, error) {
	f.fixedSteps = append(f.fixedSteps, steps)
	return "version-fixed", nil
}

func (f *fakeStore) InsertRun(ctx context.Context, run store.RunInsert) error {
	f.insertedRuns = append(f.insertedRuns, run)
	return nil
}

func (f *fakeStore) PatchRunSkill(ctx context.Context, runID, userID, skillID, versionID string) error {
	f.patched = append(f.patched, [2]string{skillID, versionID})
	return nil
}

func (f *fakeStore) GetRun(ctx context.Context, runID, userID string) (*store.Run, error) {
	return f.runs[runID], nil
}

func (f *fakeStore) UpdateRunFeedback(ctx context.Context, runID, userID, rating, feedback string) error {
	f.feedback = append(f.feedback, rating)
	return nil
}

type fakeEmbedder struct {
	vector []float64
}

func (f *fakeEmbedder) Embed(ctx context.Context, apiKey, text string) []float64 {
	return f.vector
}

type fakeAgent struct {
	calls   []agentclient.RunPayload
	outputs []string
}

func (f *fakeAgent) Run(ctx context.Context, payload agentclient.RunPayload) (*agentclient.Result, error) {
	f.calls = append(f.calls, payload)
	output := "agent output"
	if len(f.outputs) > 0 {
		output = f.outputs[(len(f.calls)-1)%len(f.outputs)]
	}
	return &agentclient.Result{
		Output:         output,
		LastResponseID: "resp-1",
		Trace:          json.RawMessage(`{"tools":[]}`),
	}, nil
}

type fakeGenerator struct {
	definition  *store.Definition
	generalized *Generalized
	fixed       []store.Step
}

func (f *fakeGenerator) Decompose(ctx context.Context, apiKey, model, baseURL, userQuery, baseOutput, traceSummary string) *store.Definition {
	return f.definition
}

func (f *fakeGenerator) Generalize(ctx context.Context, apiKey, model, baseURL, userQuery, baseOutput string, draft store.Definition, traceSummary string) *Generalized {
	return f.generalized
}

func (f *fakeGenerator) FixSteps(ctx context.Context, apiKey, model, baseURL string, skill *store.Skill, currentSteps []store.Step, stepResults []store.StepResult, feedback string) []store.Step {
	return f.fixed
}

func testConfig() *config.SkillsConfig {
	return &config.SkillsConfig{
		MatchThreshold:           0.25,
		MatchSimilarityThreshold: 0.75,
		MergeSimilarityThreshold: 0.75,
		MergeSimilarityEps:       0.05,
		GeneralizationThreshold:  0.75,
		MaxSteps:                 8,
		MaxParameters:            12,
		MaxPreconditions:         8,
		MaxSuccessCriteria:       8,
		MaxExamples:              6,
	}
}

func newTestEngine(st *fakeStore, embedder Embedder, agent AgentCaller, gen Generator) *Engine {
	var storage Storage
	if st != nil {
		storage = st
	}
	return New(testConfig(), storage, embedder, agent, gen, nil)
}

func TestRunRequiresAPIKey(t *testing.T) {
	engine := newTestEngine(newFakeStore(), &fakeEmbedder{}, &fakeAgent{}, &fakeGenerator{})
	_, err := engine.Run(context.Background(), RunRequest{APIKey: "  "})
	assert.ErrorIs(t, err, ErrAPIKeyRequired)
}

func TestRunRequiresPool(t *testing.T) {
	engine := newTestEngine(nil, &fakeEmbedder{}, &fakeAgent{}, &fakeGenerator{})
	_, err := engine.Run(context.Background(), RunRequest{APIKey: "sk-test"})
	assert.ErrorIs(t, err, ErrPoolUnavailable)
}

func TestRunBasePathRecordsRunAndQueuesLearner(t *testing.T) {
	st := newFakeStore()
	agent := &fakeAgent{outputs: []string{"base answer"}}
	engine := newTestEngine(st, &fakeEmbedder{}, agent, &fakeGenerator{})

	resp, err := engine.Run(context.Background(), RunRequest{
		APIKey: "sk-test",
		Model:  "gpt-5.2",
		UserID: "user-1",
		Input:  "how do I deploy the api?",
	})
	require.NoError(t, err)
	engine.Wait()

	assert.Equal(t, "base answer", resp.Output)
	assert.False(t, resp.Skill.Found)
	assert.NotEmpty(t, resp.Skill.RunID)
	assert.Empty(t, resp.Skill.SkillID)

	require.Len(t, agent.calls, 1)
	assert.Empty(t, agent.calls[0].Instructions)
	assert.Equal(t, 0.3, agent.calls[0].Temperature)

	require.Len(t, st.insertedRuns, 1)
	assert.Equal(t, "user-1", st.insertedRuns[0].UserID)
	assert.Equal(t, "how do I deploy the api?", st.insertedRuns[0].Input)
	assert.Empty(t, st.insertedRuns[0].SkillID)
}

func TestRunSkillPathExecutesSteps(t *testing.T) {
	st := newFakeStore()
	embedding := []float64{1, 0, 0}
	skill := &store.Skill{
		ID:              "skill-1",
		Name:            "Deploy service",
		ActiveVersionID: "v1",
		Embedding:       embedding,
	}
	st.nearest = skill
	distance := 0.1
	st.nearestDistance = &distance
	st.versions["v1"] = &store.SkillVersion{
		ID:      "v1",
		SkillID: "skill-1",
		Version: 1,
		Steps: []store.Step{
			{Title: "Build", Instructions: "Build the image."},
			{Title: "Push", Instructions: "Push the image."},
		},
	}

	agent := &fakeAgent{outputs: []string{"built", "pushed"}}
	engine := newTestEngine(st, &fakeEmbedder{vector: embedding}, agent, &fakeGenerator{})

	resp, err := engine.Run(context.Background(), RunRequest{
		APIKey: "sk-test",
		Model:  "gpt-5.2",
		UserID: "user-1",
		Input:  "deploy the api",
	})
	require.NoError(t, err)
	engine.Wait()

	assert.True(t, resp.Skill.Found)
	assert.Equal(t, "skill-1", resp.Skill.SkillID)
	assert.Equal(t, "v1", resp.Skill.SkillVersionID)
	require.NotNil(t, resp.Skill.MatchDistance)
	assert.Equal(t, 0.1, *resp.Skill.MatchDistance)
	assert.Equal(t, "pushed", resp.Output)

	// One agent call per step, each carrying step instructions.
	require.Len(t, agent.calls, 2)
	assert.Contains(t, agent.calls[0].Instructions, "Step 1 of 2: Build")
	assert.Contains(t, agent.calls[1].Instructions, "Step 2 of 2: Push")
	assert.Contains(t, agent.calls[1].Instructions, "Previous step results:")

	require.Len(t, st.insertedRuns, 1)
	require.Len(t, st.insertedRuns[0].StepResults, 2)
	assert.Equal(t, "built", st.insertedRuns[0].StepResults[0].Output)
}

func TestRunMissWhenSimilarityBelowThreshold(t *testing.T) {
	st := newFakeStore()
	st.nearest = &store.Skill{
		ID:              "skill-1",
		ActiveVersionID: "v1",
		Embedding:       []float64{0, 1, 0},
	}
	distance := 1.3
	st.nearestDistance = &distance

	agent := &fakeAgent{}
	engine := newTestEngine(st, &fakeEmbedder{vector: []float64{1, 0, 0}}, agent, &fakeGenerator{})

	resp, err := engine.Run(context.Background(), RunRequest{
		APIKey: "sk-test",
		Model:  "gpt-5.2",
		UserID: "user-1",
		Input:  "something else entirely",
	})
	require.NoError(t, err)
	engine.Wait()

	assert.False(t, resp.Skill.Found)
	require.Len(t, agent.calls, 1)
}

func TestLearnerInsertsNewSkill(t *testing.T) {
	st := newFakeStore()
	score := 0.9
	gen := &fakeGenerator{
		definition: &store.Definition{Name: "Deploy service", Entrypoint: "deploy {service}"},
		generalized: &Generalized{
			Name:        "Deploy service",
			Description: "Deploys a service",
			Entrypoint:  "deploy {service}",
			Steps: []store.Step{
				{Title: "Build", Instructions: "Build {service}."},
			},
			Parameters:          []store.Parameter{{Name: "service", Description: "service name"}},
			GeneralizationScore: &score,
		},
	}
	engine := newTestEngine(st, &fakeEmbedder{vector: []float64{1, 0}}, &fakeAgent{}, gen)

	_, err := engine.Run(context.Background(), RunRequest{
		APIKey: "sk-test",
		Model:  "gpt-5.2",
		UserID: "user-1",
		Input:  "deploy the api",
	})
	require.NoError(t, err)
	engine.Wait()

	require.Len(t, st.insertedDefs, 1)
	assert.Equal(t, "Deploy service", st.insertedDefs[0].Name)
	require.Len(t, st.patched, 1)
	assert.Equal(t, [2]string{"skill-new", "version-new"}, st.patched[0])
}

func TestLearnerSkipsLowGeneralization(t *testing.T) {
	st := newFakeStore()
	score := 0.2
	gen := &fakeGenerator{
		definition: &store.Definition{Name: "One-off", Entrypoint: "do the thing"},
		generalized: &Generalized{
			Name:                "One-off",
			Entrypoint:          "do the thing",
			Steps:               []store.Step{{Title: "Do", Instructions: "Do it."}},
			GeneralizationScore: &score,
		},
	}
	engine := newTestEngine(st, &fakeEmbedder{vector: []float64{1, 0}}, &fakeAgent{}, gen)

	_, err := engine.Run(context.Background(), RunRequest{
		APIKey: "sk-test",
		Model:  "gpt-5.2",
		UserID: "user-1",
		Input:  "do the thing",
	})
	require.NoError(t, err)
	engine.Wait()

	assert.Empty(t, st.insertedDefs)
	assert.Empty(t, st.mergedSkills)
}

func TestLearnerMergesIntoSimilarSkill(t *testing.T) {
	st := newFakeStore()
	embedding := []float64{1, 0}
	candidate := &store.Skill{
		ID:              "skill-1",
		Name:            "Deploy service",
		ActiveVersionID: "v1",
		Embedding:       embedding,
	}
	// The active version has no steps, so retrieval matches but cannot
	// execute; the base path runs and the learner merges instead.
	st.versions["v1"] = &store.SkillVersion{ID: "v1", SkillID: "skill-1", Version: 1}
	st.nearest = candidate
	distance := 0.0
	st.nearestDistance = &distance

	score := 0.9
	gen := &fakeGenerator{
		definition: &store.Definition{Name: "Deploy service", Entrypoint: "deploy {service}"},
		generalized: &Generalized{
			Name:                "Deploy service",
			Entrypoint:          "deploy {service}",
			Steps:               []store.Step{{Title: "Build", Instructions: "Build the service image."}},
			GeneralizationScore: &score,
		},
	}
	engine := newTestEngine(st, &fakeEmbedder{vector: embedding}, &fakeAgent{}, gen)

	resp, err := engine.Run(context.Background(), RunRequest{
		APIKey: "sk-test",
		Model:  "gpt-5.2",
		UserID: "user-1",
		Input:  "deploy the api",
	})
	require.NoError(t, err)
	engine.Wait()

	assert.False(t, resp.Skill.Found)
	require.Len(t, st.mergedSkills, 1)
	assert.Equal(t, "skill-1", st.mergedSkills[0])
	assert.Empty(t, st.insertedDefs)
	require.Len(t, st.patched, 1)
	assert.Equal(t, [2]string{"skill-1", "version-merged"}, st.patched[0])
}

func TestFeedbackRunNotFound(t *testing.T) {
	engine := newTestEngine(newFakeStore(), &fakeEmbedder{}, &fakeAgent{}, &fakeGenerator{})
	_, err := engine.Feedback(context.Background(), FeedbackRequest{
		RunID:  "missing",
		UserID: "user-1",
		Rating: "negative",
	})
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestFeedbackPositiveSkipsRepair(t *testing.T) {
	st := newFakeStore()
	st.runs["run-1"] = &store.Run{ID: "run-1", SkillID: "skill-1", SkillVersionID: "v1"}
	engine := newTestEngine(st, &fakeEmbedder{}, &fakeAgent{}, &fakeGenerator{})

	resp, err := engine.Feedback(context.Background(), FeedbackRequest{
		RunID:  "run-1",
		UserID: "user-1",
		Rating: "positive",
	})
	require.NoError(t, err)
	assert.False(t, resp.Updated)
	assert.Equal(t, "skill-1", resp.SkillID)
	assert.Empty(t, resp.NewVersionID)
	assert.Equal(t, []string{"positive"}, st.feedback)
	assert.Empty(t, st.fixedSteps)
}

func TestFeedbackNegativeRepairsSkill(t *testing.T) {
	st := newFakeStore()
	st.runs["run-1"] = &store.Run{
		ID:             "run-1",
		SkillID:        "skill-1",
		SkillVersionID: "v1",
		StepResults:    json.RawMessage(`[{"index":0,"title":"Build","output":"failed"}]`),
	}
	st.skills["skill-1"] = &store.Skill{
		ID:         "skill-1",
		Name:       "Deploy service",
		Entrypoint: "deploy {service}",
	}
	st.versions["v1"] = &store.SkillVersion{
		ID: "v1", SkillID: "skill-1", Version: 1,
		Steps: []store.Step{{Title: "Build", Instructions: "Build it."}},
	}
	gen := &fakeGenerator{
		fixed: []store.Step{{Title: "Build", Instructions: "Build it with the right flags."}},
	}
	engine := newTestEngine(st, &fakeEmbedder{}, &fakeAgent{}, gen)

	resp, err := engine.Feedback(context.Background(), FeedbackRequest{
		RunID:    "run-1",
		UserID:   "user-1",
		Rating:   "negative",
		Feedback: "the build step used the wrong flags",
		APIKey:   "sk-test",
		Model:    "gpt-5.2",
	})
	require.NoError(t, err)

	assert.True(t, resp.Updated)
	assert.Equal(t, "version-fixed", resp.NewVersionID)
	require.Len(t, st.fixedSteps, 1)
	assert.Equal(t, "Build it with the right flags.", st.fixedSteps[0][0].Instructions)
}

func TestFeedbackNegativeFixFailureDowngrades(t *testing.T) {
	st := newFakeStore()
	st.runs["run-1"] = &store.Run{ID: "run-1", SkillID: "skill-1", SkillVersionID: "v1"}
	st.skills["skill-1"] = &store.Skill{ID: "skill-1", Name: "Deploy service", Entrypoint: "deploy"}
	st.versions["v1"] = &store.SkillVersion{
		ID: "v1", SkillID: "skill-1", Version: 1,
		Steps: []store.Step{{Title: "Build", Instructions: "Build it."}},
	}
	engine := newTestEngine(st, &fakeEmbedder{}, &fakeAgent{}, &fakeGenerator{})

	resp, err := engine.Feedback(context.Background(), FeedbackRequest{
		RunID:  "run-1",
		UserID: "user-1",
		Rating: "negative",
	})
	require.NoError(t, err)
	assert.False(t, resp.Updated)
	assert.Empty(t, resp.NewVersionID)
}

func TestNormalizeInputItems(t *testing.T) {
	items := normalizeInputItems("hello")
	require.Len(t, items, 1)
	assert.Equal(t, "user", items[0]["role"])
	assert.Equal(t, "hello", items[0]["content"])

	items = normalizeInputItems([]any{
		map[string]any{"role": "user", "content": "first"},
		"not a message",
		map[string]any{"role": "assistant", "content": "reply"},
	})
	assert.Len(t, items, 2)

	assert.Nil(t, normalizeInputItems(42))
}

func TestExtractLastUserMessage(t *testing.T) {
	items := []map[string]any{
		{"role": "user", "content": "first"},
		{"role": "assistant", "content": "reply"},
		{"role": "user", "content": "second"},
		{"role": "user", "content": []any{"structured"}},
	}
	assert.Equal(t, "second", extractLastUserMessage(items))
	assert.Equal(t, "", extractLastUserMessage(nil))
}
