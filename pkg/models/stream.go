package models

// StreamEventType discriminates streaming envelope payloads.
type StreamEventType string

const (
	StreamStart          StreamEventType = "start"
	StreamText           StreamEventType = "text"
	StreamReasoning      StreamEventType = "reasoning"
	StreamToolCall       StreamEventType = "tool_call"
	StreamToolResult     StreamEventType = "tool_result"
	StreamSubagentStart  StreamEventType = "subagent_start"
	StreamSubagentFinish StreamEventType = "subagent_finish"
	StreamError          StreamEventType = "error"
	StreamFinish         StreamEventType = "finish"
)

// StreamEvent is one chunk of the streaming protocol between server and
// client. Events are strictly ordered within an agent; cross-agent
// interleaving reflects arrival time.
type StreamEvent struct {
	Type StreamEventType `json:"type"`

	// AgentID tags the event with its producing agent; ParentAgentID lets
	// the client route sub-agent events into a tree view.
	AgentID       string `json:"agent_id,omitempty"`
	ParentAgentID string `json:"parent_agent_id,omitempty"`

	// MessageHistoryLength accompanies "start" so the client can align
	// streamed chunks with the resumed history.
	MessageHistoryLength int `json:"message_history_length,omitempty"`

	// Text carries "text" and "reasoning" payloads.
	Text string `json:"text,omitempty"`

	// ToolCall fields for "tool_call" events.
	ToolCallID      string `json:"tool_call_id,omitempty"`
	ToolName        string `json:"tool_name,omitempty"`
	Input           any    `json:"input,omitempty"`
	IncludeToolCall bool   `json:"include_tool_call,omitempty"`

	// Output carries "tool_result" payloads.
	Output []ToolResultOutput `json:"output,omitempty"`

	// AgentType accompanies subagent lifecycle events.
	AgentType string `json:"agent_type,omitempty"`

	// Message carries "error" payloads.
	Message string `json:"message,omitempty"`

	// TotalCost accompanies the single "finish" chunk, in credits.
	TotalCost int64 `json:"total_cost,omitempty"`
}
