// Package config loads and validates the relay server configuration and the
// agent template registry.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for the relay server.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Providers ProvidersConfig `yaml:"providers"`
	Pricing   PricingConfig   `yaml:"pricing"`
	Billing   BillingConfig   `yaml:"billing"`
	Agents    AgentsConfig    `yaml:"agents"`
	Search    SearchConfig    `yaml:"search"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxMessageSize caps inbound websocket frames in bytes.
	MaxMessageSize int64 `yaml:"max_message_size"`
}

type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenExpiry time.Duration `yaml:"token_expiry"`
}

type ProvidersConfig struct {
	Default   string         `yaml:"default"`
	Anthropic ProviderConfig `yaml:"anthropic"`
	OpenAI    ProviderConfig `yaml:"openai"`
}

type ProviderConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	MaxRetries int    `yaml:"max_retries"`
}

// ModelPricing converts provider token usage into credits.
type ModelPricing struct {
	// InputCreditsPerMTok and OutputCreditsPerMTok are credits charged per
	// million prompt/completion tokens.
	InputCreditsPerMTok  int64 `yaml:"input_credits_per_mtok"`
	OutputCreditsPerMTok int64 `yaml:"output_credits_per_mtok"`
}

type PricingConfig struct {
	// Models maps model names to their credit rates. Unlisted models fall
	// back to Default.
	Models  map[string]ModelPricing `yaml:"models"`
	Default ModelPricing            `yaml:"default"`

	// ToolCredits are per-call charges for server-executed tools that hit
	// external services. Deep web searches are priced under the separate
	// web_search_deep key.
	ToolCredits map[string]int64 `yaml:"tool_credits"`
}

type BillingConfig struct {
	// DatabasePath is the SQLite ledger location. Empty selects the
	// in-memory ledger (tests, single-node dev).
	DatabasePath string `yaml:"database_path"`

	// FreeMonthlyGrant is the credit grant applied at each quota reset.
	FreeMonthlyGrant int64 `yaml:"free_monthly_grant"`

	// QuotaResetSchedule is a cron expression for the monthly reset sweep.
	QuotaResetSchedule string `yaml:"quota_reset_schedule"`
}

type AgentsConfig struct {
	// TemplatesDir holds user-defined agent template YAML files. Built-in
	// templates are always available; files here add to or override them.
	TemplatesDir string `yaml:"templates_dir"`

	// WatchTemplates enables hot reload of TemplatesDir.
	WatchTemplates bool `yaml:"watch_templates"`

	// MaxSteps is the default per-agent step budget.
	MaxSteps int `yaml:"max_steps"`

	// CostModes maps a cost mode to the agent template it selects when the
	// client does not name one explicitly.
	CostModes map[string]string `yaml:"cost_modes"`
}

type SearchConfig struct {
	// BraveAPIKey authorizes the web_search and read_docs backends.
	BraveAPIKey string `yaml:"brave_api_key"`

	// CacheTTL bounds how long identical queries are served from cache.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Environment  string  `yaml:"environment"`
	Insecure     bool    `yaml:"insecure"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns a configuration with all defaults applied and no file read.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 60 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Server.MaxMessageSize == 0 {
		cfg.Server.MaxMessageSize = 32 << 20 // large session states
	}
	if cfg.Auth.TokenExpiry == 0 {
		cfg.Auth.TokenExpiry = 24 * time.Hour
	}
	if cfg.Providers.Default == "" {
		cfg.Providers.Default = "anthropic"
	}
	if cfg.Providers.Anthropic.MaxRetries == 0 {
		cfg.Providers.Anthropic.MaxRetries = 3
	}
	if cfg.Providers.OpenAI.MaxRetries == 0 {
		cfg.Providers.OpenAI.MaxRetries = 3
	}
	if cfg.Pricing.Default.InputCreditsPerMTok == 0 {
		cfg.Pricing.Default.InputCreditsPerMTok = 300
	}
	if cfg.Pricing.Default.OutputCreditsPerMTok == 0 {
		cfg.Pricing.Default.OutputCreditsPerMTok = 1500
	}
	if cfg.Pricing.ToolCredits == nil {
		cfg.Pricing.ToolCredits = map[string]int64{
			"web_search":      5,
			"web_search_deep": 10,
			"read_docs":       5,
		}
	}
	if cfg.Billing.FreeMonthlyGrant == 0 {
		cfg.Billing.FreeMonthlyGrant = 500
	}
	if cfg.Billing.QuotaResetSchedule == "" {
		// Hourly sweep; each user resets when their own cycle lapses.
		cfg.Billing.QuotaResetSchedule = "0 * * * *"
	}
	if cfg.Agents.MaxSteps == 0 {
		cfg.Agents.MaxSteps = 20
	}
	if cfg.Agents.CostModes == nil {
		cfg.Agents.CostModes = map[string]string{
			"ask":          "ask",
			"lite":         "base-lite",
			"normal":       "base",
			"max":          "base-max",
			"experimental": "base-experimental",
		}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1.0
	}
}

// Validate checks invariants that defaults cannot repair.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Providers.Default != "anthropic" && c.Providers.Default != "openai" {
		return fmt.Errorf("providers.default %q not recognized", c.Providers.Default)
	}
	for mode := range c.Agents.CostModes {
		switch mode {
		case "ask", "lite", "normal", "max", "experimental":
		default:
			return fmt.Errorf("agents.cost_modes: unknown mode %q", mode)
		}
	}
	return nil
}

// CreditsForTokens converts token usage for a model into credits, rounding
// up so fractional usage is never free.
func (p *PricingConfig) CreditsForTokens(model string, inputTokens, outputTokens int) int64 {
	pricing, ok := p.Models[model]
	if !ok {
		pricing = p.Default
	}
	in := (int64(inputTokens)*pricing.InputCreditsPerMTok + 999_999) / 1_000_000
	out := (int64(outputTokens)*pricing.OutputCreditsPerMTok + 999_999) / 1_000_000
	if inputTokens == 0 {
		in = 0
	}
	if outputTokens == 0 {
		out = 0
	}
	return in + out
}

// ToolCreditsFor returns the per-call charge for a server-executed tool, or
// 0 when the tool is free.
func (p *PricingConfig) ToolCreditsFor(toolName string) int64 {
	return p.ToolCredits[toolName]
}

// WebSearchCredits returns the charge for one web search at the given depth.
func (p *PricingConfig) WebSearchCredits(depth string) int64 {
	if depth == "deep" {
		return p.ToolCredits["web_search_deep"]
	}
	return p.ToolCredits["web_search"]
}
