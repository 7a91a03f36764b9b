package skills

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ravenlabs/raven/pkg/agentclient"
	"github.com/ravenlabs/raven/pkg/config"
	"github.com/ravenlabs/raven/pkg/store"
)

var (
	// ErrAPIKeyRequired means the run request carried no OpenAI key.
	ErrAPIKeyRequired = errors.New("openai_key_required")
	// ErrPoolUnavailable means the skills database is not reachable.
	ErrPoolUnavailable = errors.New("skills_pool_unavailable")
	// ErrRunNotFound means feedback referenced an unknown run.
	ErrRunNotFound = errors.New("skill_run_not_found")
)

// Storage is the subset of the store the engine uses.
type Storage interface {
	FindNearest(ctx context.Context, userID string, embedding []float64) (*store.Skill, *float64, error)
	LoadSkill(ctx context.Context, skillID, userID string) (*store.Skill, error)
	LoadVersion(ctx context.Context, versionID string) (*store.SkillVersion, error)
	InsertSkill(ctx context.Context, userID string, def store.Definition, embedding []float64, meta store.SkillMetadata) (string, string, error)
	SaveMerge(ctx context.Context, skillID string, def store.Definition, embedding []float64, meta store.SkillMetadata) (string, error)
	SaveFix(ctx context.Context, skillID string, steps []store.Step) (string, error)
	InsertRun(ctx context.Context, run store.RunInsert) error
	PatchRunSkill(ctx context.Context, runID, userID, skillID, versionID string) error
	GetRun(ctx context.Context, runID, userID string) (*store.Run, error)
	UpdateRunFeedback(ctx context.Context, runID, userID, rating, feedback string) error
}

// Embedder produces an embedding for a text, or nil on failure.
type Embedder interface {
	Embed(ctx context.Context, apiKey, text string) []float64
}

// AgentCaller runs one request against the agent service.
type AgentCaller interface {
	Run(ctx context.Context, payload agentclient.RunPayload) (*agentclient.Result, error)
}

// RunRequest is the skill engine /run body. It mirrors the agent run
// request plus the user/thread identity used for retrieval and learning.
type RunRequest struct {
	APIKey           string                  `json:"apiKey"`
	Model            string                  `json:"model"`
	UserName         string                  `json:"userName,omitempty"`
	Instructions     string                  `json:"instructions,omitempty"`
	Input            any                     `json:"input"`
	Temperature      *float64                `json:"temperature,omitempty"`
	OpenAIBaseURL    string                  `json:"openaiBaseUrl,omitempty"`
	OpenAITimeoutMS  int                     `json:"openaiTimeoutMs,omitempty"`
	WebSearchEnabled bool                    `json:"webSearchEnabled,omitempty"`
	MCP              *agentclient.MCPPayload `json:"mcp,omitempty"`

	UserID    string `json:"userId,omitempty"`
	ThreadID  string `json:"threadId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// SkillInfo describes which skill, if any, served a run.
type SkillInfo struct {
	RunID          string   `json:"runId"`
	SkillID        string   `json:"skillId,omitempty"`
	SkillVersionID string   `json:"skillVersionId,omitempty"`
	Found          bool     `json:"found"`
	MatchDistance  *float64 `json:"matchDistance"`
}

// RunResponse is the skill engine /run answer.
type RunResponse struct {
	Output         string          `json:"output"`
	LastResponseID string          `json:"lastResponseId,omitempty"`
	Context        json.RawMessage `json:"context,omitempty"`
	Trace          json.RawMessage `json:"trace,omitempty"`
	Skill          SkillInfo       `json:"skill"`
}

// FeedbackRequest rates a previous run.
type FeedbackRequest struct {
	RunID         string `json:"runId"`
	UserID        string `json:"userId"`
	Rating        string `json:"rating"`
	Feedback      string `json:"feedback,omitempty"`
	APIKey        string `json:"apiKey"`
	Model         string `json:"model"`
	OpenAIBaseURL string `json:"openaiBaseUrl,omitempty"`
}

// FeedbackResponse reports whether the feedback produced a new version.
type FeedbackResponse struct {
	RunID          string `json:"runId"`
	Updated        bool   `json:"updated"`
	SkillID        string `json:"skillId,omitempty"`
	SkillVersionID string `json:"skillVersionId,omitempty"`
	NewVersionID   string `json:"newVersionId,omitempty"`
}

// Engine ties retrieval, execution, learning, and repair together.
type Engine struct {
	cfg      *config.SkillsConfig
	store    Storage
	embedder Embedder
	agent    AgentCaller
	gen      Generator
	logger   *slog.Logger
	limits   Limits

	learners sync.WaitGroup
	now      func() time.Time
}

// New creates an engine. store may be nil when the database is down; runs
// then fail with ErrPoolUnavailable.
func New(cfg *config.SkillsConfig, storage Storage, embedder Embedder, agent AgentCaller, gen Generator, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:      cfg,
		store:    storage,
		embedder: embedder,
		agent:    agent,
		gen:      gen,
		logger:   logger,
		limits: Limits{
			MaxSteps:           cfg.MaxSteps,
			MaxParameters:      cfg.MaxParameters,
			MaxPreconditions:   cfg.MaxPreconditions,
			MaxSuccessCriteria: cfg.MaxSuccessCriteria,
			MaxExamples:        cfg.MaxExamples,
		},
		now: time.Now,
	}
}

// Wait blocks until all background learner tasks finish.
func (e *Engine) Wait() {
	e.learners.Wait()
}

// Ready reports whether the engine can serve runs.
func (e *Engine) Ready() bool {
	return e.store != nil
}

// Run serves one request: retrieve a matching skill and execute its
// steps, or fall back to a plain agent run and learn from it.
func (e *Engine) Run(ctx context.Context, req RunRequest) (*RunResponse, error) {
	if ClampText(req.APIKey, 4096) == "" {
		return nil, ErrAPIKeyRequired
	}
	if e.store == nil {
		return nil, ErrPoolUnavailable
	}

	runID := uuid.NewString()
	started := e.now()
	items := normalizeInputItems(req.Input)
	userQuery := ClampText(extractLastUserMessage(items), maxQueryLen)
	e.logger.Info("run_start",
		"id", runID,
		"user", orDefault(req.UserID, "unknown"),
		"thread", orDefault(req.ThreadID, "none"),
		"session", orDefault(req.SessionID, "none"),
		"inputSize", len(userQuery))

	skill, version, matchDistance := e.retrieve(ctx, runID, req, userQuery)

	if skill != nil && version != nil && len(version.Steps) > 0 {
		return e.runSkill(ctx, runID, started, req, items, userQuery, skill, version, matchDistance)
	}

	result, err := e.runAgentOnce(ctx, req, items, "")
	if err != nil {
		return nil, err
	}
	e.logger.Info("base_solution_done", "id", runID, "outputSize", len(result.Output))

	if req.UserID != "" {
		if err := e.store.InsertRun(ctx, store.RunInsert{
			RunID:     runID,
			UserID:    req.UserID,
			ThreadID:  req.ThreadID,
			SessionID: req.SessionID,
			Input:     userQuery,
		}); err != nil {
			e.logger.Warn("skill_run_save_failed", "id", runID, "error", err)
		} else {
			e.logger.Info("skill_run_saved", "id", runID, "skill", "none", "version", "none", "steps", 0)
		}
	}

	if req.UserID != "" && userQuery != "" {
		e.logger.Info("skill_record_async_queue", "id", runID, "user", req.UserID)
		e.learners.Add(1)
		go func() {
			defer e.learners.Done()
			e.recordSkill(context.Background(), learnInput{
				RunID:      runID,
				UserID:     req.UserID,
				APIKey:     req.APIKey,
				Model:      req.Model,
				BaseURL:    req.OpenAIBaseURL,
				UserQuery:  userQuery,
				BaseOutput: result.Output,
				Trace:      result.Trace,
			})
		}()
	}

	e.logger.Info("run_done", "id", runID, "mode", "base", "ms", e.now().Sub(started).Milliseconds())
	return &RunResponse{
		Output:         result.Output,
		LastResponseID: result.LastResponseID,
		Context:        result.Context,
		Trace:          result.Trace,
		Skill: SkillInfo{
			RunID:         runID,
			Found:         false,
			MatchDistance: matchDistance,
		},
	}, nil
}

// normalizeInputItems accepts either a plain string or a list of message
// objects and returns message objects.
func normalizeInputItems(raw any) []map[string]any {
	switch v := raw.(type) {
	case string:
		return []map[string]any{{"role": "user", "content": v}}
	case []any:
		var items []map[string]any
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				items = append(items, m)
			}
		}
		return items
	case []map[string]any:
		return v
	}
	return nil
}

// extractLastUserMessage returns the content of the most recent user
// message with string content.
func extractLastUserMessage(items []map[string]any) string {
	for i := len(items) - 1; i >= 0; i-- {
		if items[i]["role"] != "user" {
			continue
		}
		if content, ok := items[i]["content"].(string); ok {
			return content
		}
	}
	return ""
}

func orDefault(value, def string) string {
	if value == "" {
		return def
	}
	return value
}
