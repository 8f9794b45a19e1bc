package tools

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Parameter structs for the builtin tools. Input schemas are derived from
// these with reflection so the Go types and the published schemas cannot
// drift apart.

type endTurnParams struct{}

type setOutputParams struct {
	Output map[string]any `json:"output" jsonschema:"required,description=Structured output reported to the parent agent"`
}

type addMessageParams struct {
	Role    string `json:"role" jsonschema:"required,enum=user,enum=assistant,description=Role of the injected message"`
	Content string `json:"content" jsonschema:"required,description=Message content"`
}

type addSubgoalParams struct {
	ID        string `json:"id" jsonschema:"required,description=Stable identifier for the subgoal"`
	Objective string `json:"objective" jsonschema:"required,description=What the subgoal is trying to achieve"`
	Status    string `json:"status,omitempty" jsonschema:"description=Initial status"`
	Plan      string `json:"plan,omitempty" jsonschema:"description=How the subgoal will be pursued"`
}

type updateSubgoalParams struct {
	ID     string `json:"id" jsonschema:"required,description=Identifier of the subgoal to update"`
	Status string `json:"status,omitempty" jsonschema:"description=New status"`
	Plan   string `json:"plan,omitempty" jsonschema:"description=Updated plan"`
	Log    string `json:"log,omitempty" jsonschema:"description=Progress note appended to the subgoal log"`
}

type thinkDeeplyParams struct {
	Thought string `json:"thought" jsonschema:"required,description=Extended reasoning recorded before acting"`
}

type readFilesParams struct {
	Paths []string `json:"paths" jsonschema:"required,description=Project-relative file paths to read"`
}

type writeFileParams struct {
	Path         string `json:"path" jsonschema:"required,description=Project-relative path of the file to create or overwrite"`
	Instructions string `json:"instructions,omitempty" jsonschema:"description=Short description of the intended change"`
	Content      string `json:"content" jsonschema:"required,description=Full new file content"`
}

type strReplaceParams struct {
	Path string `json:"path" jsonschema:"required,description=Project-relative path of the file to edit"`
	Old  string `json:"old" jsonschema:"required,description=Exact text to replace"`
	New  string `json:"new" jsonschema:"required,description=Replacement text"`
}

type runTerminalCommandParams struct {
	Command     string `json:"command" jsonschema:"required,description=Shell command to run in the project"`
	Mode        string `json:"mode,omitempty" jsonschema:"enum=user,enum=assistant,description=Whose behalf the command runs on"`
	ProcessType string `json:"process_type,omitempty" jsonschema:"enum=SYNC,enum=BACKGROUND,description=Wait for completion or detach"`
	CWD         string `json:"cwd,omitempty" jsonschema:"description=Working directory relative to the project root"`

	TimeoutSeconds int `json:"timeout_seconds,omitempty" jsonschema:"description=Kill the command after this many seconds,minimum=1"`
}

type codeSearchParams struct {
	Pattern string `json:"pattern" jsonschema:"required,description=Regular expression to search for"`
	Flags   string `json:"flags,omitempty" jsonschema:"description=Extra search flags"`
	CWD     string `json:"cwd,omitempty" jsonschema:"description=Directory to search under"`

	MaxResults int `json:"maxResults,omitempty" jsonschema:"description=Cap on returned matches,minimum=1"`
}

type globParams struct {
	Pattern string `json:"pattern" jsonschema:"required,description=Glob pattern to match file paths against"`
	CWD     string `json:"cwd,omitempty" jsonschema:"description=Directory to match under"`
}

type listDirectoryParams struct {
	Path string `json:"path" jsonschema:"required,description=Project-relative directory to list"`
}

type browserLogsParams struct {
	Filter string `json:"filter,omitempty" jsonschema:"description=Only return log lines containing this substring"`
}

type runFileChangeHooksParams struct {
	Files []string `json:"files" jsonschema:"required,description=Changed files the hooks should run against"`
}

type webSearchParams struct {
	Query string `json:"query" jsonschema:"required,description=Search query"`
	Depth string `json:"depth,omitempty" jsonschema:"enum=standard,enum=deep,description=Search depth"`
}

type readDocsParams struct {
	LibraryTitle string `json:"libraryTitle" jsonschema:"required,description=Name of the library to fetch documentation for"`
	Topic        string `json:"topic,omitempty" jsonschema:"description=Narrow the documentation to this topic"`

	MaxTokens int `json:"max_tokens,omitempty" jsonschema:"description=Approximate cap on returned documentation size,minimum=1"`
}

type spawnAgentSpec struct {
	AgentType string         `json:"agent_type" jsonschema:"required,description=Template ID of the agent to spawn"`
	Prompt    string         `json:"prompt" jsonschema:"required,description=Prompt for the spawned agent"`
	Params    map[string]any `json:"params,omitempty" jsonschema:"description=Structured params validated against the child template's input schema"`
}

type spawnAgentsParams struct {
	Agents []spawnAgentSpec `json:"agents" jsonschema:"required,description=Agents to spawn in parallel"`
}

type spawnAgentInlineParams struct {
	AgentType string         `json:"agent_type" jsonschema:"required,description=Template ID of the agent to spawn inline"`
	Prompt    string         `json:"prompt" jsonschema:"required,description=Prompt for the spawned agent"`
	Params    map[string]any `json:"params,omitempty" jsonschema:"description=Structured params for the child"`
}

// schemaFor derives a JSON schema document from a params struct.
func schemaFor[T any]() json.RawMessage {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(T))

	raw, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("reflect tool schema: %v", err))
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		panic(fmt.Sprintf("reflect tool schema: %v", err))
	}
	delete(doc, "$schema")
	delete(doc, "$id")
	if doc["type"] == nil {
		doc["type"] = "object"
	}

	out, err := json.Marshal(doc)
	if err != nil {
		panic(fmt.Sprintf("reflect tool schema: %v", err))
	}
	return out
}

// decodeArgs re-marshals validated args into a typed params struct.
func decodeArgs[T any](args map[string]any) (T, error) {
	var params T
	raw, err := json.Marshal(args)
	if err != nil {
		return params, err
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return params, err
	}
	return params, nil
}
