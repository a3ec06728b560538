package main

import (
	"context"
	"os/signal"
	"syscall"

	"tradeagent/internal/app"
	"tradeagent/internal/config"
	"tradeagent/internal/logger"

	"github.com/spf13/cobra"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Serve starts the HTTP API (analysis, reports, stats, gate control, charts and
/metrics). Changes to app.log_level in the config file are applied without a restart.`,
		Args: cobra.NoArgs,
		RunE: runServeCmd,
	}
	cmd.Flags().String("addr", "", "Override app.http_addr")
	cmd.Flags().Bool("watch", true, "Reload app.log_level when the config file changes")
	return cmd
}

func runServeCmd(cmd *cobra.Command, _ []string) error {
	cfg, path, cleanup, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer cleanup()
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.App.HTTPAddr = addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApp(cfg)
	if err != nil {
		return err
	}
	defer application.Close()

	if watch, _ := cmd.Flags().GetBool("watch"); watch {
		if err := config.Watch(path, config.ApplyLogLevel); err != nil {
			logger.Warnf("config watch disabled: %v", err)
		}
	}
	return application.Run(ctx)
}
