// Package agent implements the run orchestrator: it builds instructions,
// opens the MCP tool session, and drives the model tool-call loop until
// the model produces a final answer.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ravenlabs/raven/pkg/llm"
	"github.com/ravenlabs/raven/pkg/mcptool"
	"github.com/ravenlabs/raven/pkg/tokencount"
)

// ModelClient is the Responses API surface the orchestrator needs.
type ModelClient interface {
	Parse(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// ToolSession is an open MCP session.
type ToolSession interface {
	Tools() []mcptool.Tool
	CallTool(ctx context.Context, name string, args map[string]any) (mcptool.Result, error)
	Close() error
}

// ToolCallTrace records one tool invocation for the skill learner.
type ToolCallTrace struct {
	Name    string         `json:"name"`
	Args    map[string]any `json:"args,omitempty"`
	IsError bool           `json:"isError"`
}

// RunParams is one agent run.
type RunParams struct {
	APIKey        string
	Model         string
	Instructions  string
	UserName      string
	Input         any
	Temperature   *float64
	OpenAIBaseURL string
	OpenAITimeout time.Duration
	MCP           *mcptool.Config
}

// RunResult is the outcome of a run.
type RunResult struct {
	Output         string
	LastResponseID string
	Context        tokencount.Context
	Trace          []ToolCallTrace
}

// Orchestrator runs agent requests.
type Orchestrator struct {
	prompts         *PromptStore
	contextOverride int
	logTruncate     int
	logger          *slog.Logger

	newModel    func(apiKey, baseURL string, timeout time.Duration) ModelClient
	openSession func(ctx context.Context, cfg mcptool.Config, timeout time.Duration, logger *slog.Logger) (ToolSession, error)
}

// New creates an orchestrator. contextOverride, when positive, replaces
// the model context-window table for token accounting. logTruncate caps
// debug payload log lines.
func New(prompts *PromptStore, contextOverride, logTruncate int, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if logTruncate <= 0 {
		logTruncate = 2000
	}
	return &Orchestrator{
		prompts:         prompts,
		contextOverride: contextOverride,
		logTruncate:     logTruncate,
		logger:          logger,
		newModel: func(apiKey, baseURL string, timeout time.Duration) ModelClient {
			return llm.New(apiKey, baseURL, timeout)
		},
		openSession: func(ctx context.Context, cfg mcptool.Config, timeout time.Duration, logger *slog.Logger) (ToolSession, error) {
			return mcptool.Open(ctx, cfg, timeout, logger)
		},
	}
}

// BuildInstructions exposes instruction assembly for the /context endpoint.
func (o *Orchestrator) BuildInstructions(userName, extra string) string {
	return o.prompts.BuildInstructions(userName, extra)
}

// CalculateContext reports token usage for the given payload.
func (o *Orchestrator) CalculateContext(model, instructions string, input any, extraChunks []string) tokencount.Context {
	return tokencount.Calculate(model, o.contextOverride, instructions, input, extraChunks)
}

// Run executes the tool-call loop and returns the final answer. Tool
// failures are reported back to the model and never abort the run; model
// transport errors and session-open failures are terminal.
func (o *Orchestrator) Run(ctx context.Context, params RunParams) (*RunResult, error) {
	runID := uuid.NewString()
	started := time.Now()

	hasMCP := params.MCP != nil && params.MCP.URL != ""
	o.logger.Info("run_start",
		"id", runID,
		"model", params.Model,
		"inputSize", estimateSize(params.Input),
		"mcp", hasMCP)
	o.logger.Debug("run_input", "id", runID, "payload", o.safeLogPayload(params.Input))

	instructions := o.prompts.BuildInstructions(params.UserName, params.Instructions)
	model := o.newModel(params.APIKey, params.OpenAIBaseURL, params.OpenAITimeout)

	var session ToolSession
	var tools []llm.Tool
	if hasMCP {
		o.logger.Info("mcp_config",
			"id", runID,
			"url", params.MCP.URL,
			"sessionId", params.MCP.SessionID,
			"allowedTools", len(params.MCP.AllowedTools))

		opened, err := o.openSession(ctx, *params.MCP, params.OpenAITimeout, o.logger)
		if err != nil {
			return nil, err
		}
		session = opened
		defer session.Close()

		for _, t := range session.Tools() {
			tools = append(tools, llm.Tool{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			})
		}
	}

	toolsEnabled := len(tools) > 0
	inputText, inputItems := convertInput(params.Input)

	req := llm.Request{
		Model:             params.Model,
		Instructions:      instructions,
		InputText:         inputText,
		InputItems:        inputItems,
		Temperature:       params.Temperature,
		Tools:             tools,
		ParallelToolCalls: &toolsEnabled,
		Format:            llm.AssistantReplyFormat(),
	}

	resp, err := model.Parse(ctx, req)
	if err != nil {
		o.logRunError(runID, started, err)
		return nil, err
	}

	var trace []ToolCallTrace
	var toolChunks []string

	for session != nil {
		calls := prioritizeCalls(resp.FunctionCalls())
		if len(calls) == 0 {
			break
		}

		var outputs []llm.InputItem
		for _, call := range calls {
			if call.CallID == "" || call.Name == "" {
				continue
			}
			args := parseToolArgs(call.Arguments)

			result, callErr := session.CallTool(ctx, call.Name, args)
			if callErr != nil {
				msg, _ := json.Marshal(callErr.Error())
				result = mcptool.Result{IsError: true, Content: msg}
			}

			payload, _ := json.Marshal(struct {
				IsError bool            `json:"isError"`
				Content json.RawMessage `json:"content"`
			}{IsError: result.IsError, Content: result.Content})
			outputs = append(outputs, llm.FunctionCallOutputItem(call.CallID, string(payload)))

			trace = append(trace, ToolCallTrace{Name: call.Name, Args: args, IsError: result.IsError})
			if len(result.Content) > 0 && string(result.Content) != "null" {
				toolChunks = append(toolChunks, string(result.Content))
			}

			o.logger.Debug("tool_call",
				"id", runID,
				"name", call.Name,
				"error", result.IsError,
				"result", o.safeLogPayload(string(result.Content)))
		}

		if len(outputs) == 0 {
			break
		}

		resp, err = model.Parse(ctx, llm.Request{
			Model:              params.Model,
			Instructions:       instructions,
			InputItems:         outputs,
			Temperature:        params.Temperature,
			Tools:              tools,
			ParallelToolCalls:  &toolsEnabled,
			PreviousResponseID: resp.ID,
			Format:             llm.AssistantReplyFormat(),
		})
		if err != nil {
			o.logRunError(runID, started, err)
			return nil, err
		}
	}

	output := resp.FinalText()

	extraChunks := append([]string{}, toolChunks...)
	if output != "" {
		extraChunks = append(extraChunks, output)
	}
	runContext := o.CalculateContext(params.Model, instructions, params.Input, extraChunks)

	o.logger.Debug("run_output", "id", runID, "payload", o.safeLogPayload(output))
	o.logger.Info("run_done",
		"id", runID,
		"ms", time.Since(started).Milliseconds(),
		"outputSize", len(output),
		"lastResponseId", resp.ID)

	return &RunResult{
		Output:         output,
		LastResponseID: resp.ID,
		Context:        runContext,
		Trace:          trace,
	}, nil
}

func (o *Orchestrator) logRunError(runID string, started time.Time, err error) {
	o.logger.Error("run_error",
		"id", runID,
		"ms", time.Since(started).Milliseconds(),
		"error", err)
}

// parseToolArgs decodes function-call arguments, treating anything that
// is not a JSON object as empty.
func parseToolArgs(raw string) map[string]any {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}

// callPriority defers edge-creation calls so that node creations run
// first and real ids exist before edges reference them.
func callPriority(call llm.FunctionCall) int {
	if call.Name != "edge" {
		return 0
	}
	if action, ok := parseToolArgs(call.Arguments)["action"].(string); ok && action == "create" {
		return 10
	}
	return 0
}

// prioritizeCalls orders calls by priority, keeping the model's order
// within each priority class.
func prioritizeCalls(calls []llm.FunctionCall) []llm.FunctionCall {
	sorted := make([]llm.FunctionCall, len(calls))
	copy(sorted, calls)
	sort.SliceStable(sorted, func(i, j int) bool {
		return callPriority(sorted[i]) < callPriority(sorted[j])
	})
	return sorted
}

// convertInput maps a run input payload onto the Responses API input:
// plain text stays a string, message lists become input items.
func convertInput(value any) (string, []llm.InputItem) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []any:
		var items []llm.InputItem
		for _, entry := range v {
			switch e := entry.(type) {
			case string:
				items = append(items, llm.UserMessageItem(e))
			case map[string]any:
				role, _ := e["role"].(string)
				if role == "" {
					role = "user"
				}
				text := strings.Join(tokencount.ExtractTextChunks(e), "\n")
				items = append(items, llm.MessageItem(role, text))
			default:
				items = append(items, llm.UserMessageItem(stringifyInput(entry)))
			}
		}
		return "", items
	default:
		return stringifyInput(value), nil
	}
}

func stringifyInput(value any) string {
	raw, err := json.Marshal(value)
	if err != nil {
		return ""
	}
	return string(raw)
}

// safeLogPayload renders a payload for debug logs, truncated to the
// configured limit with a suffix noting how much was cut.
func (o *Orchestrator) safeLogPayload(value any) string {
	text, ok := value.(string)
	if !ok {
		text = stringifyInput(value)
	}
	if len(text) <= o.logTruncate {
		return text
	}
	return fmt.Sprintf("%s...(+%d chars)", text[:o.logTruncate], len(text)-o.logTruncate)
}

func estimateSize(value any) int {
	switch v := value.(type) {
	case nil:
		return 0
	case string:
		return len(v)
	default:
		return len(stringifyInput(value))
	}
}
