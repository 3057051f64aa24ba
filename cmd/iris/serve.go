package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"iris/internal/config"
	"iris/internal/llm"
	"iris/internal/logging"
	"iris/internal/memory"
	"iris/internal/observability"
	"iris/internal/runtime/agent"
	"iris/internal/runtime/event"
	"iris/internal/runtime/ports"
	"iris/internal/segment"
	"iris/internal/server"
	"iris/internal/tools"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent runtime and its HTTP surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, logger)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config, logger logging.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildAgent(cfg, logger)
	if err != nil {
		return err
	}
	a.Start()
	defer func() {
		a.Stop()
		select {
		case <-a.Done():
		case <-time.After(30 * time.Second):
			logger.Warn("agent %s did not shut down in time", a.ID())
		}
	}()

	srv := server.New(server.Config{
		Addr:         cfg.Server.Addr,
		AllowOrigins: cfg.Server.AllowOrigins,
	}, logger, a)
	return srv.Run(ctx)
}

func buildAgent(cfg *config.Config, logger logging.Logger) (*agent.Agent, error) {
	client, err := buildLLMClient(cfg.LLM, logger)
	if err != nil {
		return nil, err
	}

	workspace, err := filepath.Abs(cfg.Agent.Workspace)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}

	registry := tools.NewRegistry(logger)
	for _, tool := range []ports.Tool{
		&tools.WriteFileTool{Root: workspace},
		&tools.PatchFileTool{Root: workspace},
		&tools.RunBashTool{Root: workspace},
	} {
		if err := registry.Register(tool); err != nil {
			return nil, err
		}
	}

	capacities := make(map[event.QueueKind]int, len(cfg.Agent.QueueCapacities))
	for kind, capacity := range cfg.Agent.QueueCapacities {
		capacities[event.QueueKind(kind)] = capacity
	}

	return agent.New(agent.Config{
		ID:               cfg.Agent.ID,
		AutoExecuteTools: cfg.Agent.AutoExecuteTools,
		ParserMode:       segment.Mode(cfg.Agent.ParserMode),
		ExtraTags:        cfg.Agent.ExtraTags,
		MaxTurns:         cfg.Agent.MaxTurns,
		QueueCapacities:  capacities,
		PollInterval:     cfg.Agent.PollInterval,
	}, agent.Deps{
		LLM: client,
		Memory: memory.NewTranscript(memory.Config{
			SystemPrompt: cfg.Agent.SystemPrompt,
		}, logger),
		Tools:   registry,
		Logger:  logger,
		Metrics: observability.Default(),
	})
}

func buildLLMClient(cfg config.LLMConfig, logger logging.Logger) (ports.LLMClient, error) {
	switch cfg.Provider {
	case "scripted":
		return llm.NewScriptedClient(cfg.Model), nil
	case "openai", "":
		client := llm.NewOpenAIClient(llm.OpenAIConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		})
		return llm.NewRetryClient(client, llm.DefaultRetryConfig(), logger), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
