package models

// FileTreeNode is one entry in the client's project file tree snapshot.
type FileTreeNode struct {
	Name     string          `json:"name"`
	Type     string          `json:"type"` // "file" | "directory"
	Children []*FileTreeNode `json:"children,omitempty"`
}

// GitChanges summarizes the working-tree state the client reports.
type GitChanges struct {
	Status        string `json:"status,omitempty"`
	Diff          string `json:"diff,omitempty"`
	DiffCached    string `json:"diff_cached,omitempty"`
	LastCommitMsg string `json:"last_commit_message,omitempty"`
}

// SystemInfo describes the client machine for prompt assembly.
type SystemInfo struct {
	Platform  string `json:"platform,omitempty"`
	Shell     string `json:"shell,omitempty"`
	NodeVer   string `json:"node_version,omitempty"`
	Arch      string `json:"arch,omitempty"`
	HomeDir   string `json:"home_dir,omitempty"`
	CPUCount  int    `json:"cpu_count,omitempty"`
	GitBranch string `json:"git_branch,omitempty"`
}

// CustomToolDefinition is a user-supplied tool the client executes.
type CustomToolDefinition struct {
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	InputSchema   any    `json:"input_schema,omitempty"`
	EndsAgentStep bool   `json:"ends_agent_step,omitempty"`
}

// ProjectFileContext is the client-provided snapshot of the repository the
// agents operate on. The server treats it as read-only prompt material.
type ProjectFileContext struct {
	ProjectRoot     string             `json:"project_root"`
	CWD             string             `json:"cwd"`
	FileTree        []*FileTreeNode    `json:"file_tree,omitempty"`
	FileTokenScores map[string]float64 `json:"file_token_scores,omitempty"`
	KnowledgeFiles  map[string]string  `json:"knowledge_files,omitempty"`
	GitChanges      *GitChanges        `json:"git_changes,omitempty"`
	SystemInfo      *SystemInfo        `json:"system_info,omitempty"`

	// AgentTemplates holds per-user template overrides shipped by the client.
	AgentTemplates map[string]*AgentTemplate `json:"agent_templates,omitempty"`

	// CustomToolDefinitions are extra client-executed tools.
	CustomToolDefinitions []CustomToolDefinition `json:"custom_tool_definitions,omitempty"`
}
