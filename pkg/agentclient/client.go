// Package agentclient calls the Agent service's /run endpoint on behalf
// of the Skill Engine. Agent runs can take minutes, so the client keeps a
// long timeout and retries transient upstream failures.
package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ravenlabs/raven/pkg/httpclient"
)

// MCPPayload mirrors the MCP block of a run request.
type MCPPayload struct {
	URL          string   `json:"url,omitempty"`
	Token        string   `json:"token,omitempty"`
	SessionID    string   `json:"sessionId,omitempty"`
	UserID       string   `json:"userId,omitempty"`
	AllowedTools []string `json:"allowedTools,omitempty"`
}

// RunPayload is the agent /run request body.
type RunPayload struct {
	APIKey           string      `json:"apiKey"`
	Model            string      `json:"model"`
	UserName         string      `json:"userName,omitempty"`
	Instructions     string      `json:"instructions,omitempty"`
	Input            any         `json:"input"`
	Temperature      float64     `json:"temperature"`
	OpenAIBaseURL    string      `json:"openaiBaseUrl,omitempty"`
	OpenAITimeoutMS  int         `json:"openaiTimeoutMs,omitempty"`
	WebSearchEnabled bool        `json:"webSearchEnabled"`
	MCP              *MCPPayload `json:"mcp,omitempty"`
}

// Result is the agent's answer.
type Result struct {
	Output         string          `json:"output"`
	LastResponseID string          `json:"lastResponseId"`
	Context        json.RawMessage `json:"context"`
	Trace          json.RawMessage `json:"trace"`
}

// CallError carries the agent's failure back with its HTTP status so the
// skills handlers can re-raise it unchanged.
type CallError struct {
	Status  int
	Code    string
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("agent call failed: %d (%s): %s", e.Status, e.Code, e.Message)
}

// Client posts run payloads to the agent service.
type Client struct {
	url    string
	http   *httpclient.Client
	logger *slog.Logger
}

// New creates a client for the agent service /run URL.
func New(url string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url: url,
		http: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
			httpclient.WithMaxRetries(2),
			httpclient.WithLogger(logger),
		),
		logger: logger,
	}
}

// Run executes one agent call.
func (c *Client) Run(ctx context.Context, payload RunPayload) (*Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("agentclient: encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("agentclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil && resp == nil {
		return nil, fmt.Errorf("agentclient: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		callErr := decodeError(resp)
		c.logger.Warn("agent_call_failed",
			"status", callErr.Status,
			"code", callErr.Code,
			"message", callErr.Message)
		return nil, callErr
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("agentclient: decode response: %w", err)
	}
	return &result, nil
}

func decodeError(resp *http.Response) *CallError {
	callErr := &CallError{Status: resp.StatusCode, Code: "agent_failed", Message: resp.Status}

	var body struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return callErr
	}

	if len(body.Detail) > 0 {
		var detail struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(body.Detail, &detail); err == nil {
			if detail.Error != "" {
				callErr.Code = detail.Error
			}
			if detail.Message != "" {
				callErr.Message = detail.Message
			}
			return callErr
		}
		var detailText string
		if err := json.Unmarshal(body.Detail, &detailText); err == nil && detailText != "" {
			callErr.Message = detailText
			return callErr
		}
	}
	if body.Error != "" {
		callErr.Message = body.Error
	}
	return callErr
}
