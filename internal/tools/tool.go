// Package tools implements the tool registry and handlers: schema-validated
// dispatch, server-local tools, client-delegated round trips, and MCP-backed
// tools.
package tools

import (
	"context"
	"encoding/json"

	"github.com/relaylabs/relay/internal/observability"
	"github.com/relaylabs/relay/pkg/models"
)

// Kind describes where a tool executes.
type Kind string

const (
	// KindLocal tools run in-process and may mutate agent state.
	KindLocal Kind = "local"

	// KindClient tools round-trip to the connected client.
	KindClient Kind = "client"

	// KindServer tools run in-process against external services and may
	// charge credits.
	KindServer Kind = "server"

	// KindSpawn tools are consumed by the agent loop, never dispatched.
	KindSpawn Kind = "spawn"

	// KindMCP tools proxy to an MCP server declared by the template.
	KindMCP Kind = "mcp"
)

// HandlerContext is everything a handler may touch. Handlers run
// concurrently with the LLM stream; they must receive from Prev before any
// observable side effect (client round trip, state mutation, event
// emission) so effects stay ordered within the step.
type HandlerContext struct {
	Ctx  context.Context
	Call models.ToolCall

	// Args is the schema-validated decoded input.
	Args map[string]any

	// State is the owning agent's state. Mutate only after Prev closes.
	State *models.AgentState

	// FileContext is the client's project snapshot (may be nil).
	FileContext *models.ProjectFileContext

	Logger *observability.Logger

	// Prev closes when the previous tool call in this step has finished.
	Prev <-chan struct{}

	// Emit sends a stream event to the client (ordered by the caller).
	Emit func(models.StreamEvent)

	// CallClient round-trips a tool call to the connected client.
	CallClient func(ctx context.Context, call models.ToolCall, mcp *models.MCPServerConfig) ([]models.ToolResultOutput, error)

	// RequestFiles asks the client for file contents by path.
	RequestFiles func(ctx context.Context, paths []string) (map[string]string, error)
}

// AwaitPrev blocks until the previous tool call finished or the context is
// cancelled.
func (hc *HandlerContext) AwaitPrev() error {
	if hc.Prev == nil {
		return nil
	}
	select {
	case <-hc.Prev:
		return nil
	case <-hc.Ctx.Done():
		return hc.Ctx.Err()
	}
}

// Result is a completed tool execution.
type Result struct {
	Output []models.ToolResultOutput

	// CreditsUsed is the flat charge incurred by the call (server tools).
	CreditsUsed int64

	// EndTurn is set by terminal tools (end_turn, set_output).
	EndTurn bool
}

// Handler executes one validated tool call.
type Handler func(hc *HandlerContext) (*Result, error)

// Definition declares one tool: its schema, where it runs, and whether it
// ends the agent step.
type Definition struct {
	Name        string
	Description string

	// InputSchema is a JSON schema document for the call input.
	InputSchema json.RawMessage

	// EndsAgentStep marks tools that terminate the step after their call.
	EndsAgentStep bool

	Kind    Kind
	Handler Handler
}
