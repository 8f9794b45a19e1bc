package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/relaylabs/relay/internal/tools"
	"github.com/relaylabs/relay/pkg/models"
)

// RunParams describes one prompt run against one root agent.
type RunParams struct {
	// State is the resumed root agent state; nil starts fresh.
	State *models.AgentState

	// AgentType overrides the cost-mode default template when set.
	AgentType string

	// Prompt is the user's text; Content optionally carries structured
	// parts (images). At least one must be non-empty.
	Prompt  string
	Content []models.MessageContentPart

	// PromptParams are structured params rendered into the first message.
	PromptParams map[string]any

	Bridge *ClientBridge
	Emit   EventSink
}

// RunResult is the terminal outcome of a prompt run.
type RunResult struct {
	State  *models.AgentState
	Output *models.AgentOutput
}

// RunPrompt drives the root agent to a terminal state. Fatal admission
// problems (empty prompt, unknown template) return an error; runtime
// failures land in Output with type "error" so streamed progress survives.
func (r *Runner) RunPrompt(ctx context.Context, rc *RequestContext, params RunParams) (*RunResult, error) {
	if strings.TrimSpace(params.Prompt) == "" && len(params.Content) == 0 {
		return nil, NewRunError(ErrEmptyPrompt).WithKind(KindValidation)
	}

	agentType := params.AgentType
	if agentType == "" {
		agentType = r.Templates.ResolveAgentType("", rc.CostMode)
	}
	var overrides map[string]*models.AgentTemplate
	if rc.FileContext != nil {
		overrides = rc.FileContext.AgentTemplates
	}
	tmpl, err := r.Templates.Get(agentType, overrides)
	if err != nil {
		return nil, NewRunError(err).WithKind(KindValidation).WithMessage(
			fmt.Sprintf("unknown agent type %q", agentType))
	}

	st := params.State
	if st == nil {
		st = &models.AgentState{AgentID: uuid.NewString()}
	}
	st.AgentType = agentType
	// Client-reported counters are advisory at best; the server recomputes
	// from zero every prompt.
	st.CreditsUsed = 0
	st.DirectCreditsUsed = 0
	st.StepsRemaining = r.Templates.MaxSteps()
	st.Output = nil

	st.MessageHistory = append(st.MessageHistory, models.NewUserMessage(renderPrompt(params)))

	r.Metrics.PromptStarted()
	defer r.Metrics.PromptEnded()

	output := r.runAgent(ctx, rc, st, tmpl, "", params.Bridge, params.Emit)

	status := output.Type
	r.Metrics.RecordPrompt(agentType, status)
	return &RunResult{State: st, Output: output}, nil
}

// runAgent is the per-agent loop: steps until a terminal tool fires, the
// budget runs out, or the run is cancelled. Used for the root agent and
// every spawned child.
func (r *Runner) runAgent(
	ctx context.Context,
	rc *RequestContext,
	st *models.AgentState,
	tmpl *models.AgentTemplate,
	parentSystem string,
	bridge *ClientBridge,
	emit EventSink,
) *models.AgentOutput {
	registry, err := r.registryFor(ctx, tmpl, rc.FileContext)
	if err != nil {
		r.Logger.Error(ctx, "building tool registry", "agent_type", st.AgentType, "error", err)
		return &models.AgentOutput{Type: "error", Message: "failed to prepare tools: " + err.Error()}
	}

	// A child tags every event with its parent so the client can build the
	// agent tree; events already tagged keep their id.
	if st.ParentID != "" {
		inner := emit
		parentID := st.ParentID
		emit = func(ev models.StreamEvent) {
			if ev.ParentAgentID == "" {
				ev.ParentAgentID = parentID
			}
			inner(ev)
		}
	}

	emit(models.StreamEvent{
		Type:                 models.StreamStart,
		AgentID:              st.AgentID,
		MessageHistoryLength: len(st.MessageHistory),
	})
	defer func() {
		emit(models.StreamEvent{
			Type:      models.StreamFinish,
			AgentID:   st.AgentID,
			TotalCost: st.CreditsUsed,
		})
	}()

	for {
		if ctx.Err() != nil {
			return abortedOutput(st)
		}
		if st.StepsRemaining <= 0 {
			st.Output = &models.AgentOutput{Type: "error", Message: "step budget exhausted"}
			return st.Output
		}

		outcome, err := r.runStep(ctx, rc, st, tmpl, registry, parentSystem, bridge, emit)
		st.StepsRemaining--

		if err != nil {
			if KindOf(err) == KindAbort {
				return abortedOutput(st)
			}
			r.Logger.Error(ctx, "agent step failed",
				"agent_id", st.AgentID, "agent_type", st.AgentType, "error", err)
			r.Metrics.RecordError("runtime", string(KindOf(err)))
			st.Output = &models.AgentOutput{Type: "error", Message: runMessage(err)}
			return st.Output
		}

		if outcome.spawn != nil {
			if err := r.runSpawn(ctx, rc, st, tmpl, outcome.spawn, bridge, emit); err != nil {
				if KindOf(err) == KindAbort {
					return abortedOutput(st)
				}
				st.Output = &models.AgentOutput{Type: "error", Message: runMessage(err)}
				return st.Output
			}
			continue
		}

		if outcome.endTurn {
			return r.finishAgent(st, tmpl)
		}
	}
}

// finishAgent derives the terminal output from the template's output mode.
func (r *Runner) finishAgent(st *models.AgentState, tmpl *models.AgentTemplate) *models.AgentOutput {
	if st.Output != nil {
		// set_output already recorded it.
		return st.Output
	}
	switch tmpl.OutputMode {
	case models.OutputAllMessages:
		st.Output = &models.AgentOutput{Type: "success", Value: st.MessageHistory}
	default:
		st.Output = &models.AgentOutput{Type: "success", Message: st.LastAssistantMessage()}
	}
	return st.Output
}

// spawnSpec is one child requested by a spawn call.
type spawnSpec struct {
	AgentType string         `json:"agent_type"`
	Prompt    string         `json:"prompt"`
	Params    map[string]any `json:"params,omitempty"`
}

// runSpawn executes a spawn_agents or spawn_agent_inline call: children run
// in parallel, the parent waits for all of them, and one synthetic tool
// result ordered by spawn index lands in the parent's history.
func (r *Runner) runSpawn(
	ctx context.Context,
	rc *RequestContext,
	parent *models.AgentState,
	parentTmpl *models.AgentTemplate,
	call *models.ToolCall,
	bridge *ClientBridge,
	emit EventSink,
) error {
	specs, err := parseSpawnInput(call)
	if err != nil {
		parent.MessageHistory = append(parent.MessageHistory,
			models.NewToolMessage(*call, []models.ToolResultOutput{models.ErrorOutput(err.Error())}))
		return nil
	}

	type childRun struct {
		state  *models.AgentState
		tmpl   *models.AgentTemplate
		output *models.AgentOutput
		errMsg string
	}
	children := make([]*childRun, len(specs))

	var overrides map[string]*models.AgentTemplate
	if rc.FileContext != nil {
		overrides = rc.FileContext.AgentTemplates
	}

	var wg sync.WaitGroup
	for i, spec := range specs {
		child := &childRun{}
		children[i] = child

		if !parentTmpl.CanSpawn(spec.AgentType) {
			child.errMsg = fmt.Sprintf("agent type %q cannot be spawned by %s", spec.AgentType, parent.AgentType)
			continue
		}
		tmpl, err := r.Templates.Get(spec.AgentType, overrides)
		if err != nil {
			child.errMsg = fmt.Sprintf("unknown agent type %q", spec.AgentType)
			continue
		}
		if msg := validateSpawnParams(tmpl, spec.Params); msg != "" {
			child.errMsg = msg
			continue
		}
		child.tmpl = tmpl

		st := &models.AgentState{
			AgentID:        uuid.NewString(),
			ParentID:       parent.AgentID,
			AgentType:      spec.AgentType,
			StepsRemaining: r.Templates.MaxSteps(),
		}
		if tmpl.IncludeMessageHistory {
			st.MessageHistory = append(st.MessageHistory, parent.MessageHistory...)
		}
		st.MessageHistory = append(st.MessageHistory, models.NewUserMessage(renderSpawnPrompt(spec)))
		child.state = st

		parentSystem := ""
		if tmpl.InheritParentSystemPrompt {
			parentSystem = parentTmpl.SystemPrompt
		}

		emit(models.StreamEvent{
			Type:          models.StreamSubagentStart,
			AgentID:       st.AgentID,
			ParentAgentID: parent.AgentID,
			AgentType:     spec.AgentType,
		})
		r.Metrics.RecordSubagent(spec.AgentType, "started")

		wg.Add(1)
		go func(child *childRun, tmpl *models.AgentTemplate, st *models.AgentState, parentSystem string) {
			defer wg.Done()
			child.output = r.runAgent(ctx, rc, st, tmpl, parentSystem, bridge, emit)
			emit(models.StreamEvent{
				Type:          models.StreamSubagentFinish,
				AgentID:       st.AgentID,
				ParentAgentID: parent.AgentID,
				AgentType:     st.AgentType,
			})
		}(child, tmpl, st, parentSystem)
	}
	// All siblings drain even when the run is cancelled; nothing may write
	// after the parent returns.
	wg.Wait()

	output := make([]models.ToolResultOutput, 0, len(children))
	for _, child := range children {
		switch {
		case child.errMsg != "":
			output = append(output, models.ErrorOutput(child.errMsg))
			r.Metrics.RecordSubagent("unknown", "rejected")
		default:
			parent.CreditsUsed += child.state.CreditsUsed
			output = append(output, models.JSONOutput(map[string]any{
				"agentType": child.state.AgentType,
				"output":    child.output,
			}))
			r.Metrics.RecordSubagent(child.state.AgentType, child.output.Type)

			if call.Name == "spawn_agent_inline" && child.tmpl.OutputMode == models.OutputAllMessages {
				parent.MessageHistory = append(parent.MessageHistory, child.state.MessageHistory...)
			}
		}
	}

	if ctx.Err() != nil {
		return NewRunError(ErrPromptCancelled).WithKind(KindAbort).WithAgentID(parent.AgentID)
	}

	parent.MessageHistory = append(parent.MessageHistory, models.NewToolMessage(*call, output))
	emit(models.StreamEvent{
		Type:       models.StreamToolResult,
		AgentID:    parent.AgentID,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Output:     output,
	})
	return nil
}

// registryFor compiles the effective tool set for one agent: the builtins,
// the template's MCP tools, and the client's custom tools.
func (r *Runner) registryFor(ctx context.Context, tmpl *models.AgentTemplate, fc *models.ProjectFileContext) (*tools.Registry, error) {
	defs := append([]*tools.Definition{}, r.Registry.Definitions()...)

	if r.MCP != nil {
		for serverName, cfg := range tmpl.MCPServers {
			mcpDefs, err := r.MCP.Definitions(ctx, serverName, cfg)
			if err != nil {
				// A down MCP server costs its tools, not the whole run.
				r.Logger.Warn(ctx, "mcp server unavailable", "server", serverName, "error", err)
				continue
			}
			defs = append(defs, mcpDefs...)
		}
	}
	if fc != nil {
		for _, custom := range fc.CustomToolDefinitions {
			defs = append(defs, tools.CustomClientTool(custom))
		}
	}
	return tools.NewRegistry(defs...)
}

func parseSpawnInput(call *models.ToolCall) ([]spawnSpec, error) {
	switch call.Name {
	case "spawn_agents":
		var input struct {
			Agents []spawnSpec `json:"agents"`
		}
		if err := json.Unmarshal(call.Input, &input); err != nil {
			return nil, fmt.Errorf("invalid spawn input: %w", err)
		}
		if len(input.Agents) == 0 {
			return nil, fmt.Errorf("spawn_agents requires at least one agent")
		}
		return input.Agents, nil
	case "spawn_agent_inline":
		var spec spawnSpec
		if err := json.Unmarshal(call.Input, &spec); err != nil {
			return nil, fmt.Errorf("invalid spawn input: %w", err)
		}
		return []spawnSpec{spec}, nil
	default:
		return nil, fmt.Errorf("not a spawn tool: %s", call.Name)
	}
}

// validateSpawnParams checks spawn params against the child template's input
// schema. Empty schema admits anything.
func validateSpawnParams(tmpl *models.AgentTemplate, params map[string]any) string {
	if len(tmpl.InputSchema) == 0 {
		return ""
	}
	schema, err := jsonschema.CompileString("template://"+tmpl.ID, string(tmpl.InputSchema))
	if err != nil {
		return fmt.Sprintf("template %s has an invalid input schema: %v", tmpl.ID, err)
	}
	var value any = map[string]any{}
	if params != nil {
		value = params
	}
	if err := schema.Validate(value); err != nil {
		return fmt.Sprintf("params for %s failed validation: %v", tmpl.ID, err)
	}
	return ""
}

// renderPrompt builds the first user message for a prompt run.
func renderPrompt(params RunParams) string {
	var b strings.Builder
	b.WriteString(params.Prompt)
	for _, part := range params.Content {
		switch part.Type {
		case "text":
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(part.Text)
		case "image":
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString("[attached image]")
		}
	}
	if len(params.PromptParams) > 0 {
		raw, err := json.Marshal(params.PromptParams)
		if err == nil {
			b.WriteString("\n\nParams: ")
			b.Write(raw)
		}
	}
	return b.String()
}

// renderSpawnPrompt builds a child's first user message from its spawn spec.
func renderSpawnPrompt(spec spawnSpec) string {
	prompt := spec.Prompt
	if len(spec.Params) > 0 {
		raw, err := json.Marshal(spec.Params)
		if err == nil {
			prompt += "\n\nParams: " + string(raw)
		}
	}
	return prompt
}

func abortedOutput(st *models.AgentState) *models.AgentOutput {
	st.Output = &models.AgentOutput{Type: "error", Message: "aborted"}
	return st.Output
}

// runMessage extracts the user-facing message from a run error.
func runMessage(err error) string {
	if re, ok := GetRunError(err); ok && re.Message != "" {
		return re.Message
	}
	return err.Error()
}
