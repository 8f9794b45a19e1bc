package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/relaylabs/relay/pkg/models"
)

// TemplateRegistry resolves agent types to templates. It layers three
// sources, later winning:
//
//  1. built-in templates
//  2. YAML files from the configured templates directory
//  3. per-session overrides shipped by the client in its file context
//
// The registry is safe for concurrent use; Reload swaps the directory layer
// atomically.
type TemplateRegistry struct {
	cfg AgentsConfig

	mu       sync.RWMutex
	builtin  map[string]*models.AgentTemplate
	fromDisk map[string]*models.AgentTemplate
}

// NewTemplateRegistry builds a registry with the built-in templates and, if
// cfg.TemplatesDir is set, the templates found there.
func NewTemplateRegistry(cfg AgentsConfig) (*TemplateRegistry, error) {
	r := &TemplateRegistry{
		cfg:      cfg,
		builtin:  builtinTemplates(cfg.MaxSteps),
		fromDisk: map[string]*models.AgentTemplate{},
	}
	if cfg.TemplatesDir != "" {
		if err := r.Reload(); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Reload re-reads the templates directory. On parse errors the previous
// layer is kept and the error returned.
func (r *TemplateRegistry) Reload() error {
	if r.cfg.TemplatesDir == "" {
		return nil
	}
	loaded, err := loadTemplateDir(r.cfg.TemplatesDir)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.fromDisk = loaded
	r.mu.Unlock()
	return nil
}

// Get returns the template for an agent type, or an error naming the type
// when it is unknown. Session overrides take precedence when provided.
func (r *TemplateRegistry) Get(agentType string, overrides map[string]*models.AgentTemplate) (*models.AgentTemplate, error) {
	if t, ok := overrides[agentType]; ok && t != nil {
		return t, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.fromDisk[agentType]; ok {
		return t, nil
	}
	if t, ok := r.builtin[agentType]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("unknown agent type %q", agentType)
}

// ResolveAgentType maps an explicit agent ID or, failing that, a cost mode
// to the agent type to run.
func (r *TemplateRegistry) ResolveAgentType(agentID string, costMode models.CostMode) string {
	if agentID != "" {
		return agentID
	}
	if id, ok := r.cfg.CostModes[string(costMode)]; ok {
		return id
	}
	return r.cfg.CostModes["normal"]
}

// MaxSteps returns the configured per-agent step budget.
func (r *TemplateRegistry) MaxSteps() int {
	return r.cfg.MaxSteps
}

func loadTemplateDir(dir string) (map[string]*models.AgentTemplate, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read templates dir: %w", err)
	}

	loaded := map[string]*models.AgentTemplate{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", name, err)
		}
		var t models.AgentTemplate
		if err := yaml.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		if t.ID == "" {
			t.ID = strings.TrimSuffix(strings.TrimSuffix(name, ".yaml"), ".yml")
		}
		if err := validateTemplate(&t); err != nil {
			return nil, fmt.Errorf("template %s: %w", name, err)
		}
		loaded[t.ID] = &t
	}
	return loaded, nil
}

func validateTemplate(t *models.AgentTemplate) error {
	if t.Model == "" {
		return fmt.Errorf("model is required")
	}
	switch t.OutputMode {
	case "", models.OutputLastMessage, models.OutputStructured, models.OutputAllMessages:
	default:
		return fmt.Errorf("unknown output_mode %q", t.OutputMode)
	}
	if t.OutputMode == "" {
		t.OutputMode = models.OutputLastMessage
	}
	return nil
}

// Client-executed editing tools shared by the coding templates.
var editingTools = []string{
	"read_files",
	"write_file",
	"str_replace",
	"run_terminal_command",
	"code_search",
	"glob",
	"list_directory",
	"run_file_change_hooks",
}

func builtinTemplates(maxSteps int) map[string]*models.AgentTemplate {
	_ = maxSteps

	templates := []*models.AgentTemplate{
		{
			ID:          "ask",
			DisplayName: "Ask",
			Model:       "claude-sonnet-4-5",
			ToolNames: []string{
				"read_files", "code_search", "glob", "list_directory", "spawn_agents", "end_turn",
			},
			SpawnableAgents: []string{"file-explorer"},
			OutputMode:      models.OutputLastMessage,
			SystemPrompt:    "You are a careful codebase assistant. Answer questions without modifying files.",
		},
		{
			ID:          "base-lite",
			DisplayName: "Lite",
			Model:       "claude-haiku-4-5",
			ToolNames: append(append([]string{}, editingTools...),
				"spawn_agents", "end_turn", "add_subgoal", "update_subgoal"),
			SpawnableAgents: []string{"file-explorer"},
			OutputMode:      models.OutputLastMessage,
			SystemPrompt:    "You are a fast coding agent. Prefer small, direct edits.",
		},
		{
			ID:          "base",
			DisplayName: "Default",
			Model:       "claude-sonnet-4-5",
			ToolNames: append(append([]string{}, editingTools...),
				"spawn_agents", "end_turn", "add_subgoal", "update_subgoal", "add_message",
				"browser_logs", "web_search", "read_docs"),
			SpawnableAgents: []string{"file-explorer", "researcher", "reviewer"},
			OutputMode:      models.OutputLastMessage,
			SystemPrompt:    "You are a coding agent operating on the user's repository.",
		},
		{
			ID:          "base-max",
			DisplayName: "Max",
			Model:       "claude-opus-4-1",
			ToolNames: append(append([]string{}, editingTools...),
				"spawn_agents", "end_turn", "add_subgoal", "update_subgoal", "add_message",
				"browser_logs", "web_search", "read_docs", "think_deeply"),
			SpawnableAgents: []string{"file-explorer", "researcher", "reviewer", "planner"},
			OutputMode:      models.OutputLastMessage,
			SystemPrompt:    "You are a thorough coding agent. Plan before large changes.",
		},
		{
			ID:          "base-experimental",
			DisplayName: "Experimental",
			Model:       "claude-opus-4-1",
			ToolNames: append(append([]string{}, editingTools...),
				"spawn_agents", "end_turn", "set_output", "add_subgoal", "update_subgoal",
				"add_message", "browser_logs", "web_search", "read_docs",
				"think_deeply", "spawn_agent_inline"),
			SpawnableAgents: []string{"file-explorer", "researcher", "reviewer", "planner"},
			OutputMode:      models.OutputLastMessage,
			SystemPrompt:    "You are an experimental coding agent with the full tool surface.",
		},
		{
			ID:          "file-explorer",
			DisplayName: "File Explorer",
			Model:       "claude-haiku-4-5",
			ToolNames: []string{
				"read_files", "code_search", "glob", "list_directory", "set_output",
			},
			OutputMode:   models.OutputStructured,
			SystemPrompt: "You locate the files relevant to a request and report them.",
			InstructionsPrompt: "Search the repository, then call set_output with " +
				"{\"files\": [...], \"summary\": \"...\"}.",
		},
		{
			ID:          "researcher",
			DisplayName: "Researcher",
			Model:       "claude-sonnet-4-5",
			ToolNames: []string{
				"web_search", "read_docs", "read_files", "end_turn",
			},
			OutputMode:   models.OutputLastMessage,
			SystemPrompt: "You research libraries and APIs and summarize findings.",
		},
		{
			ID:          "reviewer",
			DisplayName: "Reviewer",
			Model:       "claude-sonnet-4-5",
			ToolNames: []string{
				"read_files", "code_search", "glob", "set_output",
			},
			IncludeMessageHistory: true,
			OutputMode:            models.OutputStructured,
			SystemPrompt:          "You review proposed changes and report problems.",
			InstructionsPrompt: "Call set_output with {\"issues\": [...], " +
				"\"verdict\": \"approve\"|\"revise\"}.",
		},
		{
			ID:          "planner",
			DisplayName: "Planner",
			Model:       "claude-opus-4-1",
			ToolNames: []string{
				"read_files", "code_search", "think_deeply", "set_output",
			},
			InheritParentSystemPrompt: true,
			OutputMode:                models.OutputStructured,
			SystemPrompt:              "You produce an implementation plan for the requested change.",
		},
	}

	byID := make(map[string]*models.AgentTemplate, len(templates))
	for _, t := range templates {
		byID[t.ID] = t
	}
	return byID
}
