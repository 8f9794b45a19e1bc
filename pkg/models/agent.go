package models

import "encoding/json"

// OutputMode controls what a finished agent reports back to its parent.
type OutputMode string

const (
	// OutputLastMessage reports only the agent's final assistant message.
	OutputLastMessage OutputMode = "last_message"

	// OutputStructured reports the value passed to set_output.
	OutputStructured OutputMode = "structured_output"

	// OutputAllMessages reports (and may inline) the full message history.
	OutputAllMessages OutputMode = "all_messages"
)

// CostMode is the coarse knob that selects a default agent template.
type CostMode string

const (
	CostModeAsk          CostMode = "ask"
	CostModeLite         CostMode = "lite"
	CostModeNormal       CostMode = "normal"
	CostModeMax          CostMode = "max"
	CostModeExperimental CostMode = "experimental"
)

// MCPServerConfig describes one MCP server an agent template may pull
// tools from.
type MCPServerConfig struct {
	URL     string            `json:"url" yaml:"url"`
	Command string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// AgentTemplate is the static configuration for one agent type.
// Templates are loaded at startup (plus per-session user overrides) and are
// read-only thereafter.
type AgentTemplate struct {
	ID              string                     `json:"id" yaml:"id"`
	DisplayName     string                     `json:"display_name" yaml:"display_name"`
	Model           string                     `json:"model" yaml:"model"`
	ToolNames       []string                   `json:"tool_names" yaml:"tool_names"`
	SpawnableAgents []string                   `json:"spawnable_agents,omitempty" yaml:"spawnable_agents,omitempty"`
	MCPServers      map[string]MCPServerConfig `json:"mcp_servers,omitempty" yaml:"mcp_servers,omitempty"`

	IncludeMessageHistory     bool       `json:"include_message_history" yaml:"include_message_history"`
	InheritParentSystemPrompt bool       `json:"inherit_parent_system_prompt" yaml:"inherit_parent_system_prompt"`
	OutputMode                OutputMode `json:"output_mode" yaml:"output_mode"`

	SystemPrompt       string `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	InstructionsPrompt string `json:"instructions_prompt,omitempty" yaml:"instructions_prompt,omitempty"`
	StepPrompt         string `json:"step_prompt,omitempty" yaml:"step_prompt,omitempty"`

	// InputSchema validates the params a parent passes when spawning this
	// agent type.
	InputSchema json.RawMessage `json:"input_schema,omitempty" yaml:"-"`
}

// AllowsTool reports whether the template lists the named tool.
func (t *AgentTemplate) AllowsTool(name string) bool {
	for _, n := range t.ToolNames {
		if n == name {
			return true
		}
	}
	return false
}

// CanSpawn reports whether the template may spawn the given agent type.
func (t *AgentTemplate) CanSpawn(agentType string) bool {
	for _, id := range t.SpawnableAgents {
		if id == agentType {
			return true
		}
	}
	return false
}

// AgentOutput is the terminal result of one agent.
type AgentOutput struct {
	Type    string `json:"type"` // "success" | "error"
	Message string `json:"message,omitempty"`
	Value   any    `json:"value,omitempty"`
}

// Subgoal is a named note an agent persists across steps.
type Subgoal struct {
	Objective string `json:"objective"`
	Status    string `json:"status,omitempty"`
	Plan      string `json:"plan,omitempty"`
	Log       string `json:"log,omitempty"`
}

// AgentState is the mutable, serializable state of one agent instance.
// It is owned by the agent's step executor; sub-agents and tool handlers
// must not mutate it directly.
type AgentState struct {
	AgentID   string `json:"agent_id"`
	ParentID  string `json:"parent_id,omitempty"`
	AgentType string `json:"agent_type"`

	MessageHistory []Message `json:"message_history"`
	StepsRemaining int       `json:"steps_remaining"`

	// CreditsUsed includes the roll-up from joined sub-agents;
	// DirectCreditsUsed counts only this agent's own LLM and tool charges.
	CreditsUsed       int64 `json:"credits_used"`
	DirectCreditsUsed int64 `json:"direct_credits_used"`

	Subgoals map[string]*Subgoal `json:"subgoals,omitempty"`
	Output   *AgentOutput        `json:"output,omitempty"`
}

// LastAssistantMessage returns the content of the most recent assistant
// message, or "" if none exists.
func (s *AgentState) LastAssistantMessage() string {
	for i := len(s.MessageHistory) - 1; i >= 0; i-- {
		if s.MessageHistory[i].Role == RoleAssistant {
			return s.MessageHistory[i].Content
		}
	}
	return ""
}

// SessionState is the serializable bundle passed between client and server
// across prompts.
type SessionState struct {
	MainAgentState *AgentState         `json:"main_agent_state,omitempty"`
	FileContext    *ProjectFileContext `json:"file_context,omitempty"`
}
