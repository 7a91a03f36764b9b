package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/ravenlabs/raven/pkg/agent"
	"github.com/ravenlabs/raven/pkg/config"
	"github.com/ravenlabs/raven/pkg/llm"
	"github.com/ravenlabs/raven/pkg/mcptool"
	"github.com/ravenlabs/raven/pkg/observability"
	"github.com/ravenlabs/raven/pkg/tokencount"
)

// AgentRunner is what the agent HTTP surface needs from the
// orchestrator.
type AgentRunner interface {
	Run(ctx context.Context, params agent.RunParams) (*agent.RunResult, error)
	BuildInstructions(userName, extra string) string
	CalculateContext(model, instructions string, input any, extraChunks []string) tokencount.Context
}

// AgentServer serves the agent endpoints.
type AgentServer struct {
	runner  AgentRunner
	prompts *agent.PromptStore
	cfg     *config.AgentConfig
	metrics *observability.Metrics
	tracer  trace.Tracer
	logger  *slog.Logger
}

// NewAgentServer builds the agent HTTP surface.
func NewAgentServer(runner AgentRunner, prompts *agent.PromptStore, cfg *config.AgentConfig, metrics *observability.Metrics, tracer trace.Tracer, logger *slog.Logger) *AgentServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentServer{
		runner:  runner,
		prompts: prompts,
		cfg:     cfg,
		metrics: metrics,
		tracer:  tracer,
		logger:  logger,
	}
}

// Router assembles the agent routes.
func (s *AgentServer) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID(s.logger))
	r.Use(observability.HTTPMiddleware(s.tracer, s.metrics))

	r.Get("/health", s.handleHealth)
	if s.cfg.MetricsEnabled && s.metrics != nil {
		r.Method(http.MethodGet, s.cfg.MetricsPath, s.metrics.Handler())
	}
	r.Get("/prompt", s.handleGetPrompt)
	r.Post("/prompt", s.handleUpdatePrompt)
	r.Get("/prompt/ui", s.handlePromptUI)
	r.Post("/context", s.handleContext)
	r.Post("/run", s.handleRun)
	return r
}

func (s *AgentServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type promptBody struct {
	Prompt string `json:"prompt"`
}

func (s *AgentServer) handleGetPrompt(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, promptBody{Prompt: s.prompts.Load()})
}

func (s *AgentServer) handleUpdatePrompt(w http.ResponseWriter, r *http.Request) {
	var req promptBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid_request")
		return
	}
	saved, err := s.prompts.Save(req.Prompt)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, promptBody{Prompt: saved})
}

func (s *AgentServer) handlePromptUI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(promptUIPage(s.prompts.Load())))
}

type contextRequest struct {
	Model        string `json:"model"`
	Instructions string `json:"instructions"`
	Input        any    `json:"input"`
	UserName     string `json:"userName"`
}

func (s *AgentServer) handleContext(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid_request")
		return
	}
	if strings.TrimSpace(req.Model) == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "model_required")
		return
	}
	instructions := s.runner.BuildInstructions(req.UserName, req.Instructions)
	ctx := s.runner.CalculateContext(req.Model, instructions, req.Input, nil)
	writeJSON(w, http.StatusOK, map[string]tokencount.Context{"context": ctx})
}

type mcpRequest struct {
	URL          string   `json:"url"`
	Token        string   `json:"token"`
	SessionID    string   `json:"sessionId"`
	UserID       string   `json:"userId"`
	AllowedTools []string `json:"allowedTools"`
}

type agentRunRequest struct {
	APIKey          string      `json:"apiKey"`
	Model           string      `json:"model"`
	Instructions    string      `json:"instructions"`
	UserName        string      `json:"userName"`
	Input           any         `json:"input"`
	Temperature     *float64    `json:"temperature"`
	OpenAIBaseURL   string      `json:"openaiBaseUrl"`
	OpenAITimeoutMS int         `json:"openaiTimeoutMs"`
	MCP             *mcpRequest `json:"mcp"`
}

type traceBody struct {
	Tools []agent.ToolCallTrace `json:"tools"`
}

type agentRunResponse struct {
	Output         string             `json:"output"`
	LastResponseID string             `json:"lastResponseId,omitempty"`
	Context        tokencount.Context `json:"context"`
	Trace          traceBody          `json:"trace"`
}

func (s *AgentServer) handleRun(w http.ResponseWriter, r *http.Request) {
	var req agentRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid_request")
		return
	}
	if strings.TrimSpace(req.APIKey) == "" {
		writeDetail(w, http.StatusBadRequest, "openai_key_required")
		return
	}
	if strings.TrimSpace(req.Model) == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "model_required")
		return
	}

	temperature := 0.3
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	params := agent.RunParams{
		APIKey:        req.APIKey,
		Model:         req.Model,
		Instructions:  req.Instructions,
		UserName:      req.UserName,
		Input:         req.Input,
		Temperature:   &temperature,
		OpenAIBaseURL: req.OpenAIBaseURL,
	}
	if req.OpenAITimeoutMS > 0 {
		params.OpenAITimeout = time.Duration(req.OpenAITimeoutMS) * time.Millisecond
	}
	if req.MCP != nil && strings.TrimSpace(req.MCP.URL) != "" {
		params.MCP = &mcptool.Config{
			URL:          req.MCP.URL,
			Token:        req.MCP.Token,
			SessionID:    req.MCP.SessionID,
			UserID:       req.MCP.UserID,
			AllowedTools: req.MCP.AllowedTools,
		}
	}

	result, err := s.runner.Run(r.Context(), params)
	if err != nil {
		s.writeRunError(w, err)
		return
	}

	tools := result.Trace
	if tools == nil {
		tools = []agent.ToolCallTrace{}
	}
	writeJSON(w, http.StatusOK, agentRunResponse{
		Output:         result.Output,
		LastResponseID: result.LastResponseID,
		Context:        result.Context,
		Trace:          traceBody{Tools: tools},
	})
}

// writeRunError maps model API failures onto their upstream status so
// callers can distinguish bad keys from transient errors.
func (s *AgentServer) writeRunError(w http.ResponseWriter, err error) {
	var statusErr *llm.StatusError
	if errors.As(err, &statusErr) {
		status := statusErr.Status
		if status == 0 {
			status = http.StatusInternalServerError
		}
		code := statusErr.Code
		if code == "" {
			code = "openai_error"
		}
		writeDetail(w, status, errorDetail{Error: code, Message: statusErr.Message})
		return
	}
	writeDetail(w, http.StatusInternalServerError, errorDetail{Error: "agent_failed", Message: err.Error()})
}
