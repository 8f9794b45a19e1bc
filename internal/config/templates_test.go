package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/relaylabs/relay/pkg/models"
)

func TestBuiltinTemplatesResolve(t *testing.T) {
	reg, err := NewTemplateRegistry(Default().Agents)
	if err != nil {
		t.Fatalf("NewTemplateRegistry: %v", err)
	}

	for _, id := range []string{"ask", "base-lite", "base", "base-max", "base-experimental", "file-explorer"} {
		tmpl, err := reg.Get(id, nil)
		if err != nil {
			t.Errorf("Get(%s): %v", id, err)
			continue
		}
		if tmpl.Model == "" {
			t.Errorf("template %s has no model", id)
		}
	}

	if _, err := reg.Get("no-such-agent", nil); err == nil {
		t.Error("expected error for unknown agent type")
	}
}

func TestResolveAgentType(t *testing.T) {
	reg, err := NewTemplateRegistry(Default().Agents)
	if err != nil {
		t.Fatal(err)
	}

	if got := reg.ResolveAgentType("reviewer", models.CostModeMax); got != "reviewer" {
		t.Errorf("explicit agent ID should win, got %q", got)
	}
	if got := reg.ResolveAgentType("", models.CostModeLite); got != "base-lite" {
		t.Errorf("lite resolves to %q, want base-lite", got)
	}
	if got := reg.ResolveAgentType("", ""); got != "base" {
		t.Errorf("empty cost mode resolves to %q, want base", got)
	}
}

func TestTemplateDirOverridesBuiltin(t *testing.T) {
	dir := t.TempDir()
	tmpl := `
id: base
display_name: Custom Base
model: claude-opus-4-1
tool_names: [read_files, end_turn]
`
	if err := os.WriteFile(filepath.Join(dir, "base.yaml"), []byte(tmpl), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Default().Agents
	cfg.TemplatesDir = dir
	reg, err := NewTemplateRegistry(cfg)
	if err != nil {
		t.Fatalf("NewTemplateRegistry: %v", err)
	}

	got, err := reg.Get("base", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.DisplayName != "Custom Base" {
		t.Errorf("display name = %q, want Custom Base", got.DisplayName)
	}
	if got.OutputMode != models.OutputLastMessage {
		t.Errorf("output mode should default to last_message, got %q", got.OutputMode)
	}
}

func TestTemplateDirRejectsBadOutputMode(t *testing.T) {
	dir := t.TempDir()
	tmpl := `
id: broken
model: claude-sonnet-4-5
output_mode: everything
`
	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte(tmpl), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Default().Agents
	cfg.TemplatesDir = dir
	if _, err := NewTemplateRegistry(cfg); err == nil {
		t.Fatal("expected error for unknown output mode")
	}
}

func TestSessionOverridesWin(t *testing.T) {
	reg, err := NewTemplateRegistry(Default().Agents)
	if err != nil {
		t.Fatal(err)
	}

	overrides := map[string]*models.AgentTemplate{
		"base": {ID: "base", DisplayName: "Session Base", Model: "claude-sonnet-4-5"},
	}
	got, err := reg.Get("base", overrides)
	if err != nil {
		t.Fatal(err)
	}
	if got.DisplayName != "Session Base" {
		t.Errorf("display name = %q, want Session Base", got.DisplayName)
	}
}
