package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"tradeagent/internal/app"
	"tradeagent/internal/config"
	"tradeagent/internal/logger"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tradeagent",
		Short: "Multi-step market analysis pipeline",
		Long: `tradeagent runs an ordered pipeline of analysis steps (technical, risk, decision)
over market data for one or more symbols, protected by a circuit breaker with
emergency fallback data.

The config file is taken from --config, then $TRADEAGENT_CONFIG, then configs/config.yaml.`,
		Version:       app.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringP("config", "c", "", "Path to the config file")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewAnalyzeCmd())
	cmd.AddCommand(NewVersionCmd())
	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig 解析配置路径、加载配置并初始化日志输出。
func loadConfig(cmd *cobra.Command) (*config.Config, string, func(), error) {
	flagPath, _ := cmd.Flags().GetString("config")
	path := config.ResolvePath(flagPath)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", nil, fmt.Errorf("读取配置失败: %w", err)
	}
	var files []*os.File
	cleanup := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		return nil, "", nil, fmt.Errorf("初始化日志文件失败: %w", err)
	}
	if logFile != nil {
		files = append(files, logFile)
	}
	logger.SetLLMWriter(nil)
	if cfg.App.LLMLog != "" {
		f, err := setupLLMLogOutput(cfg.App.LLMLog)
		if err != nil {
			cleanup()
			return nil, "", nil, fmt.Errorf("初始化 LLM 日志失败: %w", err)
		}
		if f != nil {
			files = append(files, f)
		}
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.EnableLLMPayloadDump(cfg.App.LLMDump)
	logger.Infof("✓ 配置加载成功（环境=%s，文件=%s）", cfg.App.Env, path)
	return cfg, path, cleanup, nil
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	if dir := filepath.Dir(trimmed); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stderr, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}

func setupLLMLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(trimmed), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	logger.SetLLMWriter(f)
	return f, nil
}
