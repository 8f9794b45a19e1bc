package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
auth:
  jwt_secret: test-secret
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("server port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Providers.Default != "anthropic" {
		t.Errorf("default provider = %q, want anthropic", cfg.Providers.Default)
	}
	if cfg.Agents.MaxSteps != 20 {
		t.Errorf("max steps = %d, want 20", cfg.Agents.MaxSteps)
	}
	if cfg.Agents.CostModes["normal"] != "base" {
		t.Errorf("normal cost mode = %q, want base", cfg.Agents.CostModes["normal"])
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("RELAY_TEST_SECRET", "from-env")
	path := writeConfig(t, `
auth:
  jwt_secret: ${RELAY_TEST_SECRET}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("jwt secret = %q, want from-env", cfg.Auth.JWTSecret)
	}
}

func TestLoadRejectsMissingSecret(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for missing jwt_secret")
	}
}

func TestLoadRejectsUnknownCostMode(t *testing.T) {
	path := writeConfig(t, `
auth:
  jwt_secret: s
agents:
  cost_modes:
    turbo: base
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for unknown cost mode")
	}
}

func TestCreditsForTokens(t *testing.T) {
	p := PricingConfig{
		Models: map[string]ModelPricing{
			"claude-sonnet-4-5": {InputCreditsPerMTok: 300, OutputCreditsPerMTok: 1500},
		},
		Default: ModelPricing{InputCreditsPerMTok: 100, OutputCreditsPerMTok: 500},
	}

	// 1M input + 1M output at the listed rate.
	if got := p.CreditsForTokens("claude-sonnet-4-5", 1_000_000, 1_000_000); got != 1800 {
		t.Errorf("credits = %d, want 1800", got)
	}

	// Fractional usage rounds up, never free.
	if got := p.CreditsForTokens("claude-sonnet-4-5", 1, 1); got != 2 {
		t.Errorf("credits for 1+1 tokens = %d, want 2", got)
	}

	// Zero usage is free.
	if got := p.CreditsForTokens("claude-sonnet-4-5", 0, 0); got != 0 {
		t.Errorf("credits for zero tokens = %d, want 0", got)
	}

	// Unknown models fall back to the default rate.
	if got := p.CreditsForTokens("mystery-model", 1_000_000, 0); got != 100 {
		t.Errorf("fallback credits = %d, want 100", got)
	}
}

func TestToolCreditsFor(t *testing.T) {
	cfg := Default()
	if got := cfg.Pricing.ToolCreditsFor("web_search"); got != 5 {
		t.Errorf("web_search credits = %d, want 5", got)
	}
	if got := cfg.Pricing.ToolCreditsFor("read_files"); got != 0 {
		t.Errorf("read_files credits = %d, want 0", got)
	}
}

func TestWebSearchCreditsByDepth(t *testing.T) {
	cfg := Default()
	standard := cfg.Pricing.WebSearchCredits("standard")
	deep := cfg.Pricing.WebSearchCredits("deep")
	if standard != 5 {
		t.Errorf("standard credits = %d, want 5", standard)
	}
	if deep <= standard {
		t.Errorf("deep credits = %d should exceed standard %d", deep, standard)
	}
	if got := cfg.Pricing.WebSearchCredits(""); got != standard {
		t.Errorf("default depth credits = %d, want %d", got, standard)
	}
}
