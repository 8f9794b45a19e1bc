package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/relaylabs/relay/internal/billing"
	"github.com/relaylabs/relay/internal/config"
	"github.com/relaylabs/relay/internal/gateway"
	"github.com/relaylabs/relay/internal/gating"
	"github.com/relaylabs/relay/internal/observability"
	"github.com/relaylabs/relay/internal/providers"
	"github.com/relaylabs/relay/internal/retry"
	"github.com/relaylabs/relay/internal/runtime"
	"github.com/relaylabs/relay/internal/search"
	"github.com/relaylabs/relay/internal/tools"
)

func buildServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "relay.yaml", "Path to configuration file")
	return cmd
}

func runServe(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	metrics := observability.NewMetrics()

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "relay",
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		EnableInsecure: cfg.Tracing.Insecure,
	})
	defer func() { _ = shutdownTracer(context.Background()) }()

	store, closeStore, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	billingSvc := billing.NewService(store, cfg.Billing, logger, metrics)
	resetWorker := billing.NewResetWorker(billingSvc, logger)
	if err := resetWorker.Start(ctx); err != nil {
		return fmt.Errorf("start quota reset worker: %w", err)
	}
	defer resetWorker.Stop()

	templates, err := config.NewTemplateRegistry(cfg.Agents)
	if err != nil {
		return fmt.Errorf("load agent templates: %w", err)
	}
	if cfg.Agents.WatchTemplates {
		if err := config.WatchTemplates(ctx, templates, logger); err != nil {
			logger.Warn(ctx, "template watch unavailable", "error", err)
		}
	}

	searchClient := search.NewClient(search.Config{
		BraveAPIKey: cfg.Search.BraveAPIKey,
		CacheTTL:    cfg.Search.CacheTTL,
	})
	registry, err := tools.NewBuiltinRegistry(searchClient, &cfg.Pricing)
	if err != nil {
		return fmt.Errorf("build tool registry: %w", err)
	}

	providerSet, err := buildProviders(cfg)
	if err != nil {
		return err
	}

	mcpManager := tools.NewMCPManager(logger)
	defer mcpManager.Close()

	runner := &runtime.Runner{
		Providers: providerSet,
		Registry:  registry,
		Templates: templates,
		Pricing:   &cfg.Pricing,
		Billing:   billingSvc,
		Logger:    logger,
		Metrics:   metrics,
		Tracer:    tracer,
		MCP:       mcpManager,
		StreamRetry: retry.Config{
			MaxAttempts:  cfg.Providers.Anthropic.MaxRetries,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
			Factor:       2,
			Jitter:       true,
		},
	}

	gate := &gating.Gate{
		Tokens:  gating.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry),
		Billing: billingSvc,
		Logger:  logger,
		Metrics: metrics,
	}

	server := gateway.New(gateway.Config{
		Addr:            fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, gate, runner, logger, metrics, tracer)

	return server.ListenAndServe(ctx)
}

// openLedger selects SQLite when a path is configured, in-memory otherwise.
func openLedger(cfg *config.Config) (billing.Store, func(), error) {
	if cfg.Billing.DatabasePath == "" {
		return billing.NewMemoryStore(), func() {}, nil
	}
	store, err := billing.NewSQLiteStore(cfg.Billing.DatabasePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open billing ledger: %w", err)
	}
	return store, func() { _ = store.Close() }, nil
}

// buildProviders wires every provider with a configured key. At least one is
// required; models route by name prefix with the configured default as
// fallback.
func buildProviders(cfg *config.Config) (*runtime.ProviderSet, error) {
	var list []runtime.LLMProvider

	if cfg.Providers.Anthropic.APIKey != "" {
		p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:  cfg.Providers.Anthropic.APIKey,
			BaseURL: cfg.Providers.Anthropic.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	if cfg.Providers.OpenAI.APIKey != "" {
		p, err := providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:  cfg.Providers.OpenAI.APIKey,
			BaseURL: cfg.Providers.OpenAI.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("no LLM provider configured: set providers.anthropic.api_key or providers.openai.api_key")
	}
	return runtime.NewProviderSet(cfg.Providers.Default, list...), nil
}
