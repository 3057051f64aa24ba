package main

import (
	"github.com/spf13/cobra"

	"iris/internal/config"
	"iris/internal/logging"
	"iris/internal/observability"
)

type rootOptions struct {
	configPath string
	serverAddr string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "iris",
		Short:         "Multi-agent execution runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&opts.serverAddr, "server", "http://127.0.0.1:8420", "server base URL for client commands")

	cmd.AddCommand(
		newServeCmd(opts),
		newSendCmd(opts),
		newApproveCmd(opts),
		newWatchCmd(opts),
		newConfigCmd(opts),
	)
	return cmd
}

func (o *rootOptions) load() (*config.Config, logging.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	obs := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	return cfg, logging.FromObservability(obs, "iris"), nil
}
