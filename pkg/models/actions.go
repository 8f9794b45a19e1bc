package models

import (
	"encoding/json"
	"time"
)

// Client -> server action types.
const (
	ActionInit             = "init"
	ActionPrompt           = "prompt"
	ActionCancelUserInput  = "cancel-user-input"
	ActionToolCallResponse = "tool-call-response"
)

// Server -> client action types.
const (
	ActionInitResponse    = "init-response"
	ActionUsageResponse   = "usage-response"
	ActionResponseChunk   = "response-chunk"
	ActionPromptResponse  = "prompt-response"
	ActionPromptError     = "prompt-error"
	ActionActionError     = "action-error"
	ActionRequestToolCall = "request-tool-call"
	ActionRequestFiles    = "request-files"
)

// MessageContentPart is a multimodal piece of a prompt (text or image).
type MessageContentPart struct {
	Type     string `json:"type"` // "text" | "image"
	Text     string `json:"text,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Data     string `json:"data,omitempty"`
}

// ClientAction is the envelope for every client -> server frame.
// Type discriminates which of the optional fields are meaningful.
type ClientAction struct {
	Type          string `json:"type"`
	FingerprintID string `json:"fingerprint_id,omitempty"`
	AuthToken     string `json:"auth_token,omitempty"`

	// init
	FileContext *ProjectFileContext `json:"file_context,omitempty"`

	// prompt
	PromptID     string               `json:"prompt_id,omitempty"`
	Prompt       string               `json:"prompt,omitempty"`
	Content      []MessageContentPart `json:"content,omitempty"`
	SessionState *SessionState        `json:"session_state,omitempty"`
	CostMode     CostMode             `json:"cost_mode,omitempty"`
	AgentID      string               `json:"agent_id,omitempty"`
	PromptParams json.RawMessage      `json:"prompt_params,omitempty"`
	ToolResults  []Message            `json:"tool_results,omitempty"`
	RepoURL      string               `json:"repo_url,omitempty"`

	// tool-call-response
	UserInputID string             `json:"user_input_id,omitempty"`
	ToolCallID  string             `json:"tool_call_id,omitempty"`
	Output      []ToolResultOutput `json:"output,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// Balance is a credit balance snapshot.
type Balance struct {
	TotalRemaining int64            `json:"total_remaining"`
	TotalDebt      int64            `json:"total_debt"`
	Breakdown      map[string]int64 `json:"breakdown,omitempty"`
}

// UsageSummary reports cycle usage for usage-response payloads.
type UsageSummary struct {
	UsageThisCycle int64     `json:"usage_this_cycle"`
	NextQuotaReset time.Time `json:"next_quota_reset"`
}

// ServerAction is the envelope for every server -> client frame.
type ServerAction struct {
	Type string `json:"type"`

	// usage-response / init-response
	Usage            *UsageSummary `json:"usage,omitempty"`
	RemainingBalance int64         `json:"remaining_balance,omitempty"`
	BalanceBreakdown map[string]int64 `json:"balance_breakdown,omitempty"`
	NextQuotaReset   *time.Time    `json:"next_quota_reset,omitempty"`
	AutoTopupAdded   int64         `json:"auto_topup_added,omitempty"`

	// response-chunk
	UserInputID string       `json:"user_input_id,omitempty"`
	Chunk       *StreamEvent `json:"chunk,omitempty"`

	// prompt-response
	PromptID     string        `json:"prompt_id,omitempty"`
	SessionState *SessionState `json:"session_state,omitempty"`
	AgentOutput  *AgentOutput  `json:"output,omitempty"`
	ToolCalls    []ToolCall    `json:"tool_calls,omitempty"`
	ToolResults  []ToolResult  `json:"tool_results,omitempty"`

	// prompt-error / action-error
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`

	// request-tool-call
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolName   string           `json:"tool_name,omitempty"`
	Input      json.RawMessage  `json:"input,omitempty"`
	MCPConfig  *MCPServerConfig `json:"mcp_config,omitempty"`

	// request-files
	FilePaths []string `json:"file_paths,omitempty"`
}
