package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/relaylabs/relay/internal/observability"
	"github.com/relaylabs/relay/pkg/models"
)

// mcpProtocolVersion is the MCP revision we negotiate with servers.
const mcpProtocolVersion = "2024-11-05"

// MCPManager owns connections to the MCP servers declared by agent
// templates. Connections are established lazily per server config and shared
// across agents; Close shuts everything down.
type MCPManager struct {
	logger *observability.Logger

	mu      sync.Mutex
	clients map[string]*mcpConn
}

type mcpConn struct {
	client *client.Client
	tools  []mcp.Tool
}

// NewMCPManager builds an empty manager.
func NewMCPManager(logger *observability.Logger) *MCPManager {
	return &MCPManager{
		logger:  logger,
		clients: map[string]*mcpConn{},
	}
}

// Definitions connects to the named server (if not already connected), lists
// its tools, and returns them as dispatchable definitions. Tool names are
// prefixed with the server name so templates from different servers cannot
// collide.
func (m *MCPManager) Definitions(ctx context.Context, serverName string, cfg models.MCPServerConfig) ([]*Definition, error) {
	conn, err := m.connect(ctx, serverName, cfg)
	if err != nil {
		return nil, err
	}

	defs := make([]*Definition, 0, len(conn.tools))
	for _, tool := range conn.tools {
		defs = append(defs, m.definitionFor(serverName, conn, tool))
	}
	return defs, nil
}

func (m *MCPManager) connect(ctx context.Context, serverName string, cfg models.MCPServerConfig) (*mcpConn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conn, ok := m.clients[serverName]; ok {
		return conn, nil
	}
	if cfg.Command == "" {
		return nil, fmt.Errorf("mcp server %s: only command (stdio) servers are supported", serverName)
	}

	env := make([]string, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}

	c, err := client.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("mcp server %s: create client: %w", serverName, err)
	}
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("mcp server %s: start: %w", serverName, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpProtocolVersion
	initReq.Params.ClientInfo = mcp.Implementation{Name: "relay", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return nil, fmt.Errorf("mcp server %s: initialize: %w", serverName, err)
	}

	listed, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("mcp server %s: list tools: %w", serverName, err)
	}

	m.logger.Info(ctx, "connected to mcp server",
		"server", serverName, "tools", len(listed.Tools))

	conn := &mcpConn{client: c, tools: listed.Tools}
	m.clients[serverName] = conn
	return conn, nil
}

func (m *MCPManager) definitionFor(serverName string, conn *mcpConn, tool mcp.Tool) *Definition {
	schema, err := json.Marshal(tool.InputSchema)
	if err != nil || len(schema) == 0 {
		schema = []byte(`{"type":"object"}`)
	}

	qualified := serverName + "_" + tool.Name
	return &Definition{
		Name:        qualified,
		Description: tool.Description,
		InputSchema: schema,
		Kind:        KindMCP,
		Handler: func(hc *HandlerContext) (*Result, error) {
			req := mcp.CallToolRequest{}
			req.Params.Name = tool.Name
			req.Params.Arguments = hc.Args

			resp, callErr := conn.client.CallTool(hc.Ctx, req)

			if err := hc.AwaitPrev(); err != nil {
				return nil, err
			}
			if callErr != nil {
				return errResult(fmt.Sprintf("mcp call %s failed: %v", qualified, callErr)), nil
			}

			output := make([]models.ToolResultOutput, 0, len(resp.Content))
			for _, content := range resp.Content {
				if text, ok := content.(mcp.TextContent); ok {
					output = append(output, models.TextOutput(text.Text))
				}
			}
			if resp.IsError {
				msg := "mcp tool reported an error"
				if len(output) > 0 && output[0].Text != "" {
					msg = output[0].Text
				}
				return errResult(msg), nil
			}
			return &Result{Output: output, CreditsUsed: metaCredits(resp.Meta)}, nil
		},
	}
}

// metaCredits reads the creditsUsed hint some MCP servers attach to result
// metadata. Missing, malformed, or negative values charge nothing.
func metaCredits(meta *mcp.Meta) int64 {
	if meta == nil {
		return 0
	}
	raw, ok := meta.AdditionalFields["creditsUsed"]
	if !ok {
		return 0
	}
	var credits int64
	switch v := raw.(type) {
	case float64:
		credits = int64(v)
	case int:
		credits = int64(v)
	case int64:
		credits = v
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0
		}
		credits = n
	default:
		return 0
	}
	if credits < 0 {
		return 0
	}
	return credits
}

// Close shuts down all MCP server connections.
func (m *MCPManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, conn := range m.clients {
		if err := conn.client.Close(); err != nil {
			m.logger.Warn(context.Background(), "closing mcp server", "server", name, "error", err)
		}
	}
	m.clients = map[string]*mcpConn{}
}
