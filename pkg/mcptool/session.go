// Package mcptool connects the agent to an MCP tool server over the
// streamable HTTP transport and adapts its tools for the Responses API.
package mcptool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// Config describes the MCP server connection supplied with a run request.
type Config struct {
	URL          string
	Token        string
	SessionID    string
	UserID       string
	AllowedTools []string
}

// Tool is an MCP tool with its schema normalized for the model.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Result is a serialized tool invocation outcome. Content is always
// valid JSON ("null" when the tool returned nothing).
type Result struct {
	IsError bool
	Content json.RawMessage
}

// Session is an open MCP session. Callers must Close it on every path.
type Session struct {
	client *mcpclient.Client
	tools  []Tool
	logger *slog.Logger
}

// Open dials the MCP server, initializes the protocol session, and lists
// the available tools filtered through the allow-list.
func Open(ctx context.Context, cfg Config, timeout time.Duration, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}

	headers := map[string]string{}
	if cfg.Token != "" {
		headers["authorization"] = "Bearer " + cfg.Token
	}
	if cfg.SessionID != "" {
		headers["x-session-id"] = cfg.SessionID
	}
	if cfg.UserID != "" {
		headers["x-user-id"] = cfg.UserID
	}

	opts := []transport.StreamableHTTPCOption{transport.WithHTTPHeaders(headers)}
	if timeout > 0 {
		opts = append(opts, transport.WithHTTPTimeout(timeout))
	}

	c, err := mcpclient.NewStreamableHttpClient(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client: %w", err)
	}

	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start MCP transport: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "raven-agent",
		Version: "1.0.0",
	}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize MCP session: %w", err)
	}

	listed, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to list MCP tools: %w", err)
	}

	allowed := allowSet(cfg.AllowedTools)
	var tools []Tool
	for _, t := range listed.Tools {
		if t.Name == "" {
			continue
		}
		if len(allowed) > 0 {
			if _, ok := allowed[t.Name]; !ok {
				continue
			}
		}
		tools = append(tools, Tool{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  NormalizeSchema(schemaToMap(t.InputSchema)),
		})
	}

	logger.Info("mcp_tools", "total", len(listed.Tools), "allowed", len(tools))

	return &Session{client: c, tools: tools, logger: logger}, nil
}

// Tools returns the filtered, normalized tool list.
func (s *Session) Tools() []Tool {
	return s.tools
}

// CallTool invokes a tool. A tool-level failure comes back as
// Result{IsError: true}; only transport failures return an error.
func (s *Session) CallTool(ctx context.Context, name string, args map[string]any) (Result, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := s.client.CallTool(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("tool %s failed: %w", name, err)
	}

	return serializeResult(res), nil
}

// Close terminates the underlying MCP stream.
func (s *Session) Close() error {
	return s.client.Close()
}

func allowSet(names []string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, name := range names {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			set[trimmed] = struct{}{}
		}
	}
	return set
}

func schemaToMap(schema mcp.ToolInputSchema) map[string]any {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// serializeResult prefers structured content, then the content block
// list, then a stringified payload.
func serializeResult(res *mcp.CallToolResult) Result {
	if res == nil {
		return Result{Content: json.RawMessage("null")}
	}

	out := Result{IsError: res.IsError}

	if res.StructuredContent != nil {
		if raw, err := json.Marshal(res.StructuredContent); err == nil {
			out.Content = raw
			return out
		}
	}

	if res.Content != nil {
		if raw, err := json.Marshal(res.Content); err == nil {
			out.Content = raw
			return out
		}
	}

	raw, err := json.Marshal(fmt.Sprintf("%v", res))
	if err != nil {
		raw = json.RawMessage("null")
	}
	out.Content = raw
	return out
}
