// Package models defines the shared domain and wire types used across the
// relay runtime: conversation messages, tool calls and results, agent state,
// and the client/server action protocol.
package models

import "encoding/json"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// Message is a single entry in an agent's message history.
//
// Assistant messages may carry tool calls; tool messages carry the matching
// results. The history alternates logically (user/tool -> assistant -> tool*
// -> assistant ...), with multiple consecutive tool messages permitted.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`

	// ToolCalls holds tool invocations requested by an assistant message.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolName and ToolCallID pair a tool message with the call it answers.
	ToolName   string `json:"tool_name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ToolResults is the structured output of a tool message.
	ToolResults []ToolResultOutput `json:"tool_results,omitempty"`
}

// NewUserMessage builds a plain user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewToolMessage builds a tool message answering the given call.
func NewToolMessage(call ToolCall, output []ToolResultOutput) Message {
	return Message{
		Role:        RoleTool,
		ToolName:    call.Name,
		ToolCallID:  call.ID,
		ToolResults: output,
	}
}

// ToolCall is one request from the LLM to run a tool.
type ToolCall struct {
	ID    string          `json:"tool_call_id"`
	Name  string          `json:"tool_name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult pairs a tool call with its structured output.
type ToolResult struct {
	ToolCallID string             `json:"tool_call_id"`
	ToolName   string             `json:"tool_name"`
	Output     []ToolResultOutput `json:"output"`
}

// ToolResultOutput is a tagged union of tool output parts.
// Exactly one of Value, Text, or the image fields is set, per Type.
type ToolResultOutput struct {
	Type string `json:"type"` // "json" | "text" | "image"

	// Value carries arbitrary structured output when Type is "json".
	Value any `json:"value,omitempty"`

	// Text carries plain text output when Type is "text".
	Text string `json:"text,omitempty"`

	// MimeType and Data carry inline image output when Type is "image".
	MimeType string `json:"mime_type,omitempty"`
	Data     string `json:"data,omitempty"` // base64
}

// JSONOutput wraps a structured value as a tool output part.
func JSONOutput(v any) ToolResultOutput {
	return ToolResultOutput{Type: "json", Value: v}
}

// TextOutput wraps plain text as a tool output part.
func TextOutput(text string) ToolResultOutput {
	return ToolResultOutput{Type: "text", Text: text}
}

// ErrorOutput wraps an error message in the conventional shape tools use to
// report failures the model can self-correct from.
func ErrorOutput(msg string) ToolResultOutput {
	return ToolResultOutput{Type: "json", Value: map[string]any{"errorMessage": msg}}
}
